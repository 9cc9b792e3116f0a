package postgres

import (
	"bytes"
	"context"
	"os"
	"slices"
	"strings"
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqldef/schemadiff/database"
	"github.com/sqldef/schemadiff/schema"
)

func TestParse(t *testing.T) {
	tests, err := readTests("tests.yml")
	require.NoError(t, err)

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			db, err := load(test.SQL)
			if test.Error != "" {
				assert.EqualError(t, err, test.Error)
				return
			}
			require.NoError(t, err)
			assert.ElementsMatch(t, test.Expected, describe(db))
		})
	}
}

func TestParseSyntaxError(t *testing.T) {
	_, err := load("CREATE TABLE (;")
	assert.ErrorContains(t, err, "f.sql: syntax error")
}

func TestParseLocations(t *testing.T) {
	parsed, err := NewParser().Parse("f.sql", "-- users\nCREATE TABLE users (id integer);\n\n  CREATE INDEX users_id ON users (id);")
	require.NoError(t, err)

	locations := map[string]string{}
	for _, p := range parsed {
		locations[p.Statement.ID.String()] = p.Statement.Location.String()
	}
	assert.Equal(t, map[string]string{
		"TABLE public.users":          "f.sql:2:1",
		"COLUMN public.users.id":      "f.sql:2:1",
		"INDEX public.users.users_id": "f.sql:4:3",
	}, locations)
}

func TestParseNormalizesDefinitions(t *testing.T) {
	a, err := load("CREATE VIEW v AS SELECT 1 AS x;\nCREATE INDEX CONCURRENTLY i ON t (x);\nCREATE TABLE t (x integer);")
	require.NoError(t, err)
	b, err := load("create or replace view public.v as\n  select 1 as x;\ncreate table t (x int4);\ncreate index i on public.t using btree (x);")
	require.NoError(t, err)

	for _, id := range []schema.StatementID{
		{Schema: "public", Name: "v", Kind: schema.KindView},
		{Schema: "public", Name: "t", Sub: "i", Kind: schema.KindIndex},
		{Schema: "public", Name: "t", Sub: "x", Kind: schema.KindColumn},
	} {
		x, ok := a.Lookup(id)
		require.True(t, ok, id.String())
		y, ok := b.Lookup(id)
		require.True(t, ok, id.String())
		assert.Equal(t, x.Definition, y.Definition, id.String())
		assert.Equal(t, x.Attrs, y.Attrs, id.String())
	}
}

func load(sql string) (*schema.Database, error) {
	return database.LoadFiles(context.Background(), "test", schema.DialectPostgres, NewParser(), []database.File{{Name: "f.sql", SQL: sql}}, 0)
}

// describe renders every object on one line: identity, attributes, constraint
// definitions, ownership and privileges, and resolved dependencies.
func describe(db *schema.Database) []string {
	var lines []string
	for stmt := range db.All() {
		parts := []string{stmt.ID.String()}

		var attrs []string
		for k, v := range stmt.Attrs {
			attrs = append(attrs, k+"="+v)
		}
		slices.Sort(attrs)
		parts = append(parts, attrs...)

		if stmt.ID.Kind == schema.KindConstraint {
			parts = append(parts, "["+stmt.Definition+"]")
		}
		if stmt.Owner != "" {
			parts = append(parts, "owner="+stmt.Owner)
		}
		if stmt.Comment != "" {
			parts = append(parts, "comment="+stmt.Comment)
		}
		for _, p := range stmt.Privileges {
			parts = append(parts, "grant="+p.String())
		}

		if len(stmt.Deps) > 0 {
			var deps []string
			for _, dep := range stmt.Deps {
				deps = append(deps, dep.String())
			}
			slices.Sort(deps)
			parts = append(parts, "-> "+strings.Join(deps, ", "))
		}
		lines = append(lines, strings.Join(parts, " "))
	}
	return lines
}

type TestCase struct {
	SQL      string   `yaml:"sql"`
	Expected []string `yaml:"expected"`
	Error    string   `yaml:"error"`
}

func readTests(file string) (map[string]TestCase, error) {
	buf, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	var tests map[string]TestCase
	dec := yaml.NewDecoder(bytes.NewReader(buf), yaml.DisallowUnknownField())
	if err := dec.Decode(&tests); err != nil {
		return nil, err
	}
	return tests, nil
}
