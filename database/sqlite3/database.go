package sqlite3

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/sqldef/schemadiff/database"
	"github.com/sqldef/schemadiff/parser"
	"github.com/sqldef/schemadiff/printer"
	"github.com/sqldef/schemadiff/schema"
	"github.com/sqldef/schemadiff/util"
)

const mainSchema = "main"

type Sqlite3Database struct {
	config database.Config
	db     *sql.DB
}

// NewDatabase opens the database file named by config.DbName; ":memory:" opens a
// private in-memory database.
func NewDatabase(config database.Config) (database.Database, error) {
	db, err := sql.Open("sqlite", config.DbName)
	if err != nil {
		return nil, err
	}
	// every connection to :memory: is a database of its own
	db.SetMaxOpenConns(1)

	return &Sqlite3Database{
		db:     db,
		config: config,
	}, nil
}

func (d *Sqlite3Database) Read(ctx context.Context) (*schema.Database, error) {
	tables, err := d.tableNames(ctx)
	if err != nil {
		return nil, err
	}
	tableObjects, err := database.ConcurrentMapFuncWithError(ctx, tables, d.config.DumpConcurrency, d.tableObjects)
	if err != nil {
		return nil, err
	}

	var parsed []database.Parsed
	for _, objects := range tableObjects {
		parsed = append(parsed, objects...)
	}
	objects, err := d.masterObjects(ctx)
	if err != nil {
		return nil, err
	}
	parsed = append(parsed, objects...)
	return database.NewModel(d.config.DbName, schema.DialectSQLite3, parsed)
}

func (d *Sqlite3Database) tableNames(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`select tbl_name from sqlite_master where type = 'table' and tbl_name not like 'sqlite_%' order by tbl_name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (d *Sqlite3Database) tableObjects(ctx context.Context, table string) ([]database.Parsed, error) {
	columns, primaryKey, err := d.columns(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get columns for table %s: %w", table, err)
	}
	parsed := database.TableObjects(mainSchema, table, columns)
	if len(primaryKey) > 0 {
		parsed = append(parsed, database.SubObject(schema.KindConstraint, mainSchema, table, table+"_pkey",
			"PRIMARY KEY ("+columnList(primaryKey)+")", primaryKey))
	}

	uniques, err := d.uniqueConstraints(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get unique constraints for table %s: %w", table, err)
	}
	parsed = append(parsed, uniques...)

	foreignKeys, err := d.foreignKeys(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get foreign keys for table %s: %w", table, err)
	}
	for _, fk := range foreignKeys {
		parsed = append(parsed, fk.Object(mainSchema, table, quote))
	}
	return parsed, nil
}

// columns returns the columns in declaration order and the primary key columns in key order.
func (d *Sqlite3Database) columns(ctx context.Context, table string) ([]database.Column, []string, error) {
	rows, err := d.db.QueryContext(ctx, `select name, type, "notnull", dflt_value, pk from pragma_table_info(?) order by cid`, table)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var columns []database.Column
	keys := map[int]string{}
	for rows.Next() {
		var col database.Column
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&col.Name, &col.Type, &col.NotNull, &dflt, &pk); err != nil {
			return nil, nil, err
		}
		col.Default = dflt.String
		columns = append(columns, col)
		if pk > 0 {
			keys[pk] = col.Name
		}
	}
	primaryKey := make([]string, 0, len(keys))
	for i := 1; i <= len(keys); i++ {
		primaryKey = append(primaryKey, keys[i])
	}
	return columns, primaryKey, rows.Err()
}

func (d *Sqlite3Database) indexColumns(ctx context.Context, index string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `select name from pragma_index_info(?) where name is not null order by seqno`, index)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// uniqueConstraints reads UNIQUE table constraints, which SQLite backs with automatic indexes.
func (d *Sqlite3Database) uniqueConstraints(ctx context.Context, table string) ([]database.Parsed, error) {
	rows, err := d.db.QueryContext(ctx, `select name from pragma_index_list(?) where origin = 'u' order by name`, table)
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var parsed []database.Parsed
	for _, name := range names {
		columns, err := d.indexColumns(ctx, name)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, database.SubObject(schema.KindConstraint, mainSchema, table, name, "UNIQUE ("+columnList(columns)+")", columns))
	}
	return parsed, nil
}

func (d *Sqlite3Database) foreignKeys(ctx context.Context, table string) ([]database.ForeignKey, error) {
	rows, err := d.db.QueryContext(ctx, `select id, "table", "from", "to", on_update, on_delete from pragma_foreign_key_list(?) order by id, seq`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []database.ForeignKey
	lastID := -1
	for rows.Next() {
		var id int
		var refTable, from, onUpdate, onDelete string
		var to sql.NullString
		if err := rows.Scan(&id, &refTable, &from, &to, &onUpdate, &onDelete); err != nil {
			return nil, err
		}
		if id == lastID {
			fk := &fks[len(fks)-1]
			fk.Columns = append(fk.Columns, from)
			fk.RefCols = append(fk.RefCols, to.String)
			continue
		}
		lastID = id
		fks = append(fks, database.ForeignKey{
			Name:      fmt.Sprintf("%s_%s_fkey", table, from),
			Columns:   []string{from},
			RefSchema: mainSchema,
			RefTable:  refTable,
			RefCols:   []string{to.String},
			OnUpdate:  onUpdate,
			OnDelete:  onDelete,
		})
	}
	return fks, rows.Err()
}

type masterRow struct {
	kind  string
	name  string
	table string
	sql   string
}

// masterObjects reads indexes, views and triggers, whose definitions sqlite_master
// keeps verbatim.
func (d *Sqlite3Database) masterObjects(ctx context.Context) ([]database.Parsed, error) {
	rows, err := d.db.QueryContext(ctx, `
		select type, name, tbl_name, sql from sqlite_master
		where type in ('index', 'view', 'trigger') and sql is not null and name not like 'sqlite_%'
		order by case type when 'index' then 0 when 'view' then 1 else 2 end, name
	`)
	if err != nil {
		return nil, err
	}
	var master []masterRow
	for rows.Next() {
		var row masterRow
		if err := rows.Scan(&row.kind, &row.name, &row.table, &row.sql); err != nil {
			rows.Close()
			return nil, err
		}
		master = append(master, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var parsed []database.Parsed
	for _, row := range master {
		switch row.kind {
		case "index":
			columns, err := d.indexColumns(ctx, row.name)
			if err != nil {
				return nil, err
			}
			parsed = append(parsed, database.SubObject(schema.KindIndex, mainSchema, row.table, row.name, row.sql, columns))
		case "view":
			object, err := database.BodyObject(&schema.Statement{
				ID:         schema.StatementID{Schema: mainSchema, Name: row.name, Kind: schema.KindView},
				Definition: row.sql,
			}, row.sql, parser.ParserModeSQLite3)
			if err != nil {
				return nil, err
			}
			parsed = append(parsed, object)
		case "trigger":
			object, err := database.BodyObject(&schema.Statement{
				ID:         schema.StatementID{Schema: mainSchema, Name: row.table, Sub: row.name, Kind: schema.KindTrigger},
				Definition: row.sql,
			}, row.sql, parser.ParserModeSQLite3)
			if err != nil {
				return nil, err
			}
			parsed = append(parsed, object)
		}
	}
	return parsed, nil
}

func (d *Sqlite3Database) DB() *sql.DB {
	return d.db
}

func (d *Sqlite3Database) Close() error {
	return d.db.Close()
}

func quote(name string) string {
	return printer.QuoteIdentifier(schema.DialectSQLite3, name)
}

func columnList(columns []string) string {
	return strings.Join(util.TransformSlice(columns, quote), ", ")
}
