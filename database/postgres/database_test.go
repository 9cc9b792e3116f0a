//go:build !windows

package postgres

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqldef/schemadiff/database"
	"github.com/sqldef/schemadiff/testutil"
)

func TestUnixSocketConnection(t *testing.T) {
	// PostgreSQL expects socket files named .s.PGSQL.<port> in the directory
	sock := testutil.StartDummyUnixSocket(t, "postgres-socket-test", ".s.PGSQL.5432")

	db, err := NewDatabase(database.Config{
		DbName:   "testdb",
		User:     "testuser",
		Password: "testpass",
		Socket:   sock.Dir,
		Port:     5432,
	})
	require.NoError(t, err)
	defer db.Close()

	err = db.DB().PingContext(context.Background())
	require.Error(t, err)

	// "connection refused" means the driver fell back to TCP
	assert.False(t, strings.Contains(err.Error(), "connection refused"), "expected socket to be used, got: %v", err)
}

func TestPostgresBuildDSN(t *testing.T) {
	for _, env := range []string{"PGSSLMODE", "PGSSLROOTCERT", "PGSSLCERT", "PGSSLKEY"} {
		t.Setenv(env, "")
	}

	tests := []struct {
		name     string
		config   database.Config
		env      map[string]string
		expected string
	}{
		{
			name:     "tcp",
			config:   database.Config{DbName: "app", User: "postgres", Host: "127.0.0.1", Port: 5432},
			expected: "postgres://postgres:@127.0.0.1:5432/app?",
		},
		{
			name:     "escaped credentials",
			config:   database.Config{DbName: "app", User: "a:b", Password: "p@ss/word", Host: "db", Port: 5433, SslMode: "disable"},
			expected: "postgres://a%3Ab:p%40ss%2Fword@db:5433/app?sslmode=disable",
		},
		{
			name:     "socket",
			config:   database.Config{DbName: "app", User: "postgres", Socket: "/var/run/postgresql", SslMode: "disable"},
			expected: "postgres://postgres:@/app?host=/var/run/postgresql&sslmode=disable",
		},
		{
			name:     "certificates",
			config:   database.Config{DbName: "app", User: "postgres", Host: "db", Port: 5432, SslMode: "verify-full", SslCa: "/ca.pem"},
			env:      map[string]string{"PGSSLCERT": "/cert.pem", "PGSSLKEY": "/key.pem"},
			expected: "postgres://postgres:@db:5432/app?sslmode=verify-full&sslrootcert=/ca.pem&sslcert=/cert.pem&sslkey=/key.pem",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.expected, postgresBuildDSN(tt.config))
		})
	}
}

func TestColumnDefinition(t *testing.T) {
	tests := []struct {
		column   column
		expected string
	}{
		{column{Name: "id", DataType: "integer", NotNull: true, Default: "nextval('users_id_seq'::regclass)"}, "id serial"},
		{column{Name: "id", DataType: "bigint", NotNull: true, Default: "nextval('users_id_seq'::regclass)"}, "id bigserial"},
		{column{Name: "name", DataType: "text", NotNull: true, Default: "''::text"}, "name text NOT NULL DEFAULT ''::text"},
		{column{Name: "Order", DataType: "character varying(10)"}, `"Order" character varying(10)`},
		{column{Name: "n", DataType: "integer", NotNull: true, Identity: "a"}, "n integer NOT NULL GENERATED ALWAYS AS IDENTITY"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.column.definition())
		})
	}
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, `{"app","we\"ird"}`, managedRoles([]string{"app", `we"ird`}))
	assert.Equal(t, "SELECT id FROM users WHERE (id > 1)", viewBody(" SELECT id\n   FROM users\n  WHERE (id > 1);\n"))

	schemaName, name := splitTableName("app.users")
	assert.Equal(t, []string{"app", "users"}, []string{schemaName, name})
	schemaName, name = splitTableName("users")
	assert.Equal(t, []string{"public", "users"}, []string{schemaName, name})
}
