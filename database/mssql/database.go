package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"

	_ "github.com/denisenkom/go-mssqldb"

	"github.com/sqldef/schemadiff/database"
	"github.com/sqldef/schemadiff/parser"
	"github.com/sqldef/schemadiff/printer"
	"github.com/sqldef/schemadiff/schema"
)

type MssqlDatabase struct {
	config database.Config
	db     *sql.DB
}

func NewDatabase(config database.Config) (database.Database, error) {
	db, err := sql.Open("sqlserver", mssqlBuildDSN(config))
	if err != nil {
		return nil, err
	}

	return &MssqlDatabase{
		db:     db,
		config: config,
	}, nil
}

func (d *MssqlDatabase) Read(ctx context.Context) (*schema.Database, error) {
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
	modules, err := d.modules(ctx)
	if err != nil {
		return nil, err
	}
	parsed = append(parsed, modules...)
	return database.NewModel(d.config.DbName, schema.DialectMssql, parsed)
}

func (d *MssqlDatabase) targeted(schemaName string) bool {
	return len(d.config.TargetSchemas) == 0 || slices.Contains(d.config.TargetSchemas, schemaName)
}

func (d *MssqlDatabase) tableNames(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		`select schema_name(schema_id) as table_schema, name from sys.objects where type = 'U' order by table_schema, name;`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var schemaName, name string
		if err := rows.Scan(&schemaName, &name); err != nil {
			return nil, err
		}
		if d.targeted(schemaName) {
			tables = append(tables, schemaName+"."+name)
		}
	}
	return tables, rows.Err()
}

func (d *MssqlDatabase) tableObjects(ctx context.Context, table string) ([]database.Parsed, error) {
	schemaName, name := splitTableName(table)

	cols, err := d.getColumns(ctx, schemaName, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get columns for table %s: %w", table, err)
	}
	columns := make([]database.Column, len(cols))
	for i, col := range cols {
		columns[i] = col.column()
	}
	parsed := database.TableObjects(schemaName, name, columns)
	for _, col := range cols {
		if col.Check != nil {
			stmt := &schema.Statement{
				ID:         schema.StatementID{Schema: schemaName, Name: name, Sub: col.Check.Name, Kind: schema.KindConstraint},
				Definition: "CHECK " + col.Check.Definition,
			}
			object, err := database.BodyObject(stmt, col.Check.Definition, parser.ParserModeMssql)
			if err != nil {
				return nil, err
			}
			parsed = append(parsed, object)
		}
	}

	indexDefs, err := d.getIndexDefs(ctx, schemaName, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get indexes for table %s: %w", table, err)
	}
	for _, def := range indexDefs {
		parsed = append(parsed, def.object(schemaName, name))
	}

	foreignKeys, err := d.getForeignKeys(ctx, schemaName, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get foreign keys for table %s: %w", table, err)
	}
	for _, fk := range foreignKeys {
		parsed = append(parsed, fk.Object(schemaName, name, quote))
	}
	return parsed, nil
}

type column struct {
	Name       string
	dataType   string
	MaxLength  string
	Scale      string
	Nullable   bool
	Identity   *identity
	DefaultVal string
	Check      *check
}

func (c column) getLength() (string, bool) {
	switch c.dataType {
	case "char", "varchar", "binary", "varbinary":
		if c.MaxLength == "-1" {
			return "max", true
		}
		return c.MaxLength, true
	case "nvarchar", "nchar":
		if c.MaxLength == "-1" {
			return "max", true
		}
		maxLength, err := strconv.Atoi(c.MaxLength)
		if err != nil {
			return "", false
		}
		return strconv.Itoa(maxLength / 2), true
	case "datetimeoffset", "datetime2":
		if c.Scale == "7" {
			return "", false
		}
		return c.Scale, true
	}
	return "", false
}

func (c column) column() database.Column {
	typ := c.dataType
	if length, ok := c.getLength(); ok {
		typ += "(" + length + ")"
	}
	if c.Identity != nil {
		typ += fmt.Sprintf(" IDENTITY(%s,%s)", c.Identity.SeedValue, c.Identity.IncrementValue)
		if c.Identity.NotForReplication {
			typ += " NOT FOR REPLICATION"
		}
	}
	return database.Column{
		Name:    c.Name,
		Type:    typ,
		Default: c.DefaultVal,
		NotNull: !c.Nullable,
	}
}

type identity struct {
	SeedValue         string
	IncrementValue    string
	NotForReplication bool
}

type check struct {
	Name       string
	Definition string
}

func (d *MssqlDatabase) getColumns(ctx context.Context, schemaName, table string) ([]column, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT
	c.name,
	[type_name] = tp.name,
	c.max_length,
	c.scale,
	c.is_nullable,
	c.is_identity,
	CAST(ic.seed_value AS varchar(64)),
	CAST(ic.increment_value AS varchar(64)),
	ic.is_not_for_replication,
	default_definition = OBJECT_DEFINITION(c.default_object_id),
	cc.name,
	cc.definition
FROM sys.columns c WITH(NOLOCK)
JOIN sys.types tp WITH(NOLOCK) ON c.user_type_id = tp.user_type_id
LEFT JOIN sys.check_constraints cc WITH(NOLOCK) ON c.[object_id] = cc.parent_object_id AND cc.parent_column_id = c.column_id
LEFT JOIN sys.identity_columns ic WITH(NOLOCK) ON c.[object_id] = ic.[object_id] AND ic.[column_id] = c.[column_id]
WHERE c.[object_id] = OBJECT_ID(@p1, 'U')
ORDER BY c.column_id`, quote(schemaName)+"."+quote(table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := []column{}
	for rows.Next() {
		col := column{}
		var seedValue, incrementValue, defaultVal, checkName, checkDefinition sql.NullString
		var isIdentity bool
		var identityNotForReplication sql.NullBool
		err = rows.Scan(&col.Name, &col.dataType, &col.MaxLength, &col.Scale, &col.Nullable, &isIdentity, &seedValue, &incrementValue, &identityNotForReplication, &defaultVal, &checkName, &checkDefinition)
		if err != nil {
			return nil, err
		}
		col.DefaultVal = defaultVal.String
		if isIdentity {
			col.Identity = &identity{
				SeedValue:         seedValue.String,
				IncrementValue:    incrementValue.String,
				NotForReplication: identityNotForReplication.Bool,
			}
		}
		if checkName.Valid {
			col.Check = &check{Name: checkName.String, Definition: checkDefinition.String}
		}
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

type indexDef struct {
	name      string
	columns   []string
	keys      []string
	primary   bool
	unique    bool
	indexType string
	filter    sql.NullString
	included  []string
}

// object renders primary keys and unique indexes as constraints and everything else
// as CREATE INDEX.
func (def *indexDef) object(schemaName, table string) database.Parsed {
	columns := strings.Join(def.columns, ", ")
	switch {
	case def.primary:
		return database.SubObject(schema.KindConstraint, schemaName, table, def.name,
			fmt.Sprintf("PRIMARY KEY %s (%s)", def.indexType, columns), def.keys)
	case def.unique && !def.filter.Valid && len(def.included) == 0:
		return database.SubObject(schema.KindConstraint, schemaName, table, def.name,
			fmt.Sprintf("UNIQUE %s (%s)", def.indexType, columns), def.keys)
	}

	var b strings.Builder
	b.WriteString("CREATE ")
	if def.unique {
		b.WriteString("UNIQUE ")
	}
	fmt.Fprintf(&b, "%s INDEX %s ON %s.%s (%s)", def.indexType, quote(def.name), quote(schemaName), quote(table), columns)
	if len(def.included) > 0 {
		fmt.Fprintf(&b, " INCLUDE (%s)", strings.Join(def.included, ", "))
	}
	if def.filter.Valid {
		fmt.Fprintf(&b, " WHERE %s", def.filter.String)
	}
	return database.SubObject(schema.KindIndex, schemaName, table, def.name, b.String(), def.keys)
}

func (d *MssqlDatabase) getIndexDefs(ctx context.Context, schemaName, table string) ([]*indexDef, error) {
	object := quote(schemaName) + "." + quote(table)
	rows, err := d.db.QueryContext(ctx, `SELECT
	ind.name AS index_name,
	ind.is_primary_key,
	ind.is_unique,
	ind.type_desc,
	ind.filter_definition
FROM sys.indexes ind
WHERE ind.object_id = OBJECT_ID(@p1) AND ind.name IS NOT NULL
ORDER BY ind.index_id`, object)
	if err != nil {
		return nil, err
	}

	var indexDefs []*indexDef
	indexDefMap := make(map[string]*indexDef)
	for rows.Next() {
		def := &indexDef{}
		if err := rows.Scan(&def.name, &def.primary, &def.unique, &def.indexType, &def.filter); err != nil {
			rows.Close()
			return nil, err
		}
		indexDefs = append(indexDefs, def)
		indexDefMap[def.name] = def
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = d.db.QueryContext(ctx, `SELECT
	ind.name AS index_name,
	COL_NAME(ic.object_id, ic.column_id) AS column_name,
	ic.is_descending_key,
	ic.is_included_column
FROM sys.indexes ind
INNER JOIN sys.index_columns ic ON ind.object_id = ic.object_id AND ind.index_id = ic.index_id
WHERE ind.object_id = OBJECT_ID(@p1) AND ind.name IS NOT NULL
ORDER BY ind.index_id, ic.key_ordinal, ic.index_column_id`, object)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var indexName, columnName string
		var isDescending, isIncluded bool
		if err := rows.Scan(&indexName, &columnName, &isDescending, &isIncluded); err != nil {
			return nil, err
		}
		def, ok := indexDefMap[indexName]
		if !ok {
			continue
		}
		def.keys = append(def.keys, columnName)
		columnDefinition := quote(columnName)
		if isIncluded {
			def.included = append(def.included, columnDefinition)
			continue
		}
		if isDescending {
			columnDefinition += " DESC"
		}
		def.columns = append(def.columns, columnDefinition)
	}
	return indexDefs, rows.Err()
}

func (d *MssqlDatabase) getForeignKeys(ctx context.Context, schemaName, table string) ([]database.ForeignKey, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT
	f.name,
	COL_NAME(f.parent_object_id, fc.parent_column_id),
	OBJECT_SCHEMA_NAME(f.referenced_object_id),
	OBJECT_NAME(f.referenced_object_id),
	COL_NAME(f.referenced_object_id, fc.referenced_column_id),
	f.update_referential_action_desc,
	f.delete_referential_action_desc
FROM sys.foreign_keys f INNER JOIN sys.foreign_key_columns fc ON f.OBJECT_ID = fc.constraint_object_id
WHERE f.parent_object_id = OBJECT_ID(@p1)
ORDER BY f.name, fc.constraint_column_id`, quote(schemaName)+"."+quote(table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fks []database.ForeignKey
	for rows.Next() {
		var name, column, refSchema, refTable, refColumn, onUpdate, onDelete string
		if err := rows.Scan(&name, &column, &refSchema, &refTable, &refColumn, &onUpdate, &onDelete); err != nil {
			return nil, err
		}
		if n := len(fks); n > 0 && fks[n-1].Name == name {
			fks[n-1].Columns = append(fks[n-1].Columns, column)
			fks[n-1].RefCols = append(fks[n-1].RefCols, refColumn)
			continue
		}
		fks = append(fks, database.ForeignKey{
			Name:      name,
			Columns:   []string{column},
			RefSchema: refSchema,
			RefTable:  refTable,
			RefCols:   []string{refColumn},
			OnUpdate:  strings.ReplaceAll(onUpdate, "_", " "),
			OnDelete:  strings.ReplaceAll(onDelete, "_", " "),
		})
	}
	return fks, rows.Err()
}

var (
	suffixSemicolon = regexp.MustCompile(`;\s*$`)
	moduleKinds     = map[string]schema.ObjectKind{
		"V":  schema.KindView,
		"FN": schema.KindFunction,
		"IF": schema.KindFunction,
		"TF": schema.KindFunction,
		"P":  schema.KindProcedure,
		"TR": schema.KindTrigger,
	}
)

// modules reads views, functions, procedures and triggers, all of which keep their
// source text in sys.sql_modules.
func (d *MssqlDatabase) modules(ctx context.Context) ([]database.Parsed, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT
	RTRIM(o.type),
	SCHEMA_NAME(o.schema_id),
	o.name,
	COALESCE(OBJECT_NAME(o.parent_object_id), ''),
	m.definition
FROM sys.objects o
INNER JOIN sys.sql_modules m ON m.object_id = o.object_id
WHERE o.type IN ('V', 'FN', 'IF', 'TF', 'P', 'TR') AND o.is_ms_shipped = 0
ORDER BY o.type, SCHEMA_NAME(o.schema_id), o.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parsed []database.Parsed
	for rows.Next() {
		var objectType, schemaName, name, parent, definition string
		if err := rows.Scan(&objectType, &schemaName, &name, &parent, &definition); err != nil {
			return nil, err
		}
		if !d.targeted(schemaName) {
			continue
		}
		object, err := moduleObject(objectType, schemaName, name, parent, definition)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, object)
	}
	return parsed, rows.Err()
}

func moduleObject(objectType, schemaName, name, parent, definition string) (database.Parsed, error) {
	kind, ok := moduleKinds[objectType]
	if !ok {
		return database.Parsed{}, fmt.Errorf("unexpected module type %q for %s.%s", objectType, schemaName, name)
	}
	definition = suffixSemicolon.ReplaceAllString(strings.TrimSpace(definition), "")

	id := schema.StatementID{Schema: schemaName, Name: name, Kind: kind}
	if kind == schema.KindTrigger {
		id = schema.StatementID{Schema: schemaName, Name: parent, Sub: name, Kind: kind}
	}
	return database.BodyObject(&schema.Statement{ID: id, Definition: definition}, definition, parser.ParserModeMssql)
}

func (d *MssqlDatabase) DB() *sql.DB {
	return d.db
}

func (d *MssqlDatabase) Close() error {
	return d.db.Close()
}

func quote(name string) string {
	return printer.QuoteIdentifier(schema.DialectMssql, name)
}

func mssqlBuildDSN(config database.Config) string {
	query := url.Values{}
	query.Add("database", config.DbName)

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(config.User, config.Password),
		Host:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		RawQuery: query.Encode(),
	}
	return u.String()
}

func splitTableName(table string) (string, string) {
	schemaName, name, ok := strings.Cut(table, ".")
	if !ok {
		return "dbo", table
	}
	return schemaName, name
}
