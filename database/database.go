// Package database loads object models: from SQL files, from YAML documents and from
// live catalogs. It never renders DDL.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/sqldef/schemadiff/schema"
)

type Config struct {
	DbName   string
	User     string
	Password string
	Host     string
	Port     int
	Socket   string
	SslMode  string
	SslCa    string

	// TargetSchemas limits catalog readers to these schemas. Empty means all user schemas.
	TargetSchemas []string
	// DumpConcurrency bounds parallel catalog queries: 0 disables concurrency, negative is unlimited.
	DumpConcurrency int
	// ManagedRoles are the roles whose privileges are read from the catalog. Only PostgreSQL.
	ManagedRoles []string

	// Only MySQL
	MySQLEnableCleartextPlugin bool
}

// Reader produces the object model of one database.
type Reader interface {
	Read(ctx context.Context) (*schema.Database, error)
}

// Database is a Reader backed by a live connection.
type Database interface {
	Reader
	DB() *sql.DB
	Close() error
}

// ReaderFunc adapts a function to Reader.
type ReaderFunc func(ctx context.Context) (*schema.Database, error)

func (f ReaderFunc) Read(ctx context.Context) (*schema.Database, error) {
	return f(ctx)
}

// ParseSettingsFile reads settings from a YAML file. An empty path yields the defaults for dialect.
func ParseSettingsFile(path string, dialect schema.Dialect) (schema.Settings, error) {
	if path == "" {
		return schema.Settings{Dialect: dialect}, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return schema.Settings{}, err
	}
	settings, err := ParseSettings(string(buf), dialect)
	if err != nil {
		return schema.Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return settings, nil
}

// ParseSettings parses settings YAML. Unknown keys are rejected. The dialect key,
// when present, overrides the given dialect.
func ParseSettings(yamlString string, dialect schema.Dialect) (schema.Settings, error) {
	var config struct {
		Dialect                      string `yaml:"dialect"`
		IgnoreColumnOrder            bool   `yaml:"ignore_column_order"`
		DataMovementMode             bool   `yaml:"data_movement_mode"`
		IgnorePrivileges             bool   `yaml:"ignore_privileges"`
		AllowedKinds                 string `yaml:"allowed_kinds"`
		CommentsToEnd                bool   `yaml:"comments_to_end"`
		InTransaction                bool   `yaml:"in_transaction"`
		IgnoreConcurrentModification bool   `yaml:"ignore_concurrent_modification"`
	}
	if err := yaml.UnmarshalStrict([]byte(yamlString), &config); err != nil {
		return schema.Settings{}, err
	}

	settings := schema.Settings{
		Dialect:                      dialect,
		IgnoreColumnOrder:            config.IgnoreColumnOrder,
		DataMovementMode:             config.DataMovementMode,
		IgnorePrivileges:             config.IgnorePrivileges,
		CommentsToEnd:                config.CommentsToEnd,
		InTransaction:                config.InTransaction,
		IgnoreConcurrentModification: config.IgnoreConcurrentModification,
	}
	if config.Dialect != "" {
		d, err := schema.ParseDialect(config.Dialect)
		if err != nil {
			return schema.Settings{}, err
		}
		settings.Dialect = d
	}
	if config.AllowedKinds != "" {
		kinds, err := ParseKinds(config.AllowedKinds)
		if err != nil {
			return schema.Settings{}, err
		}
		settings.AllowedKinds = kinds
	}
	return settings, nil
}

// ParseKinds parses a list of kind names separated by commas or newlines.
func ParseKinds(list string) (schema.KindSet, error) {
	set := schema.NewKindSet()
	for _, field := range strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == '\n' }) {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		kind, err := schema.ParseObjectKind(field)
		if err != nil {
			return nil, err
		}
		set[kind] = struct{}{}
	}
	return set, nil
}

// DefaultSchema is the schema unqualified names resolve to.
func DefaultSchema(dialect schema.Dialect, dbName string) string {
	switch dialect {
	case schema.DialectPostgres:
		return "public"
	case schema.DialectMssql:
		return "dbo"
	case schema.DialectSQLite3:
		return "main"
	}
	return dbName
}
