package mysql

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"

	driver "github.com/go-sql-driver/mysql"

	"github.com/sqldef/schemadiff/database"
	"github.com/sqldef/schemadiff/parser"
	"github.com/sqldef/schemadiff/printer"
	"github.com/sqldef/schemadiff/schema"
)

// MysqlDatabase reads the object model of one MySQL database from information_schema.
type MysqlDatabase struct {
	config database.Config
	db     *sql.DB
}

func NewDatabase(config database.Config) (database.Database, error) {
	if config.SslMode == "custom" {
		err := registerTLSConfig(config.SslCa)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("mysql", mysqlBuildDSN(config))
	if err != nil {
		return nil, err
	}

	return &MysqlDatabase{
		db:     db,
		config: config,
	}, nil
}

func (d *MysqlDatabase) Read(ctx context.Context) (*schema.Database, error) {
	d.logServerInfo(ctx)

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
	for _, read := range []func(context.Context) ([]database.Parsed, error){
		d.views,
		d.routines,
		d.triggers,
	} {
		objects, err := read(ctx)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, objects...)
	}
	return database.NewModel(d.config.DbName, schema.DialectMysql, parsed)
}

// logServerInfo logs the server version and lower_case_table_names, which decides
// whether table names compare case-sensitively.
func (d *MysqlDatabase) logServerInfo(ctx context.Context) {
	var version string
	if err := d.db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&version); err != nil {
		slog.Debug("Failed to get MySQL version", "error", err)
	} else {
		slog.Debug("MySQL server version", "version", version)
	}

	var varName, lowerCaseTableNames string
	if err := d.db.QueryRowContext(ctx, "SHOW VARIABLES LIKE 'lower_case_table_names'").Scan(&varName, &lowerCaseTableNames); err != nil {
		slog.Debug("Failed to get lower_case_table_names", "error", err)
		return
	}
	slog.Debug("MySQL lower_case_table_names", "value", lowerCaseTableNames)
}

func (d *MysqlDatabase) tableNames(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT TABLE_NAME FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME
	`, d.config.DbName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := []string{}
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, err
		}
		tables = append(tables, table)
	}
	return tables, rows.Err()
}

func (d *MysqlDatabase) tableObjects(ctx context.Context, table string) ([]database.Parsed, error) {
	columns, err := d.columns(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get columns for table %s: %w", table, err)
	}
	parsed := database.TableObjects(d.config.DbName, table, columns)

	keys, err := d.keys(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get keys for table %s: %w", table, err)
	}
	parsed = append(parsed, keys...)

	foreignKeys, err := d.foreignKeys(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get foreign keys for table %s: %w", table, err)
	}
	for _, fk := range foreignKeys {
		parsed = append(parsed, fk.Object(d.config.DbName, table, quote))
	}
	return parsed, nil
}

type columnRow struct {
	name     string
	dataType string
	nullable string
	dflt     sql.NullString
	extra    string
}

func (d *MysqlDatabase) columns(ctx context.Context, table string) ([]database.Column, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE, COLUMN_DEFAULT, EXTRA
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`, d.config.DbName, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []database.Column
	for rows.Next() {
		var row columnRow
		if err := rows.Scan(&row.name, &row.dataType, &row.nullable, &row.dflt, &row.extra); err != nil {
			return nil, err
		}
		columns = append(columns, row.column())
	}
	return columns, rows.Err()
}

func (r columnRow) column() database.Column {
	col := database.Column{
		Name:    r.name,
		Type:    r.dataType,
		NotNull: r.nullable == "NO",
	}
	extra := strings.ToLower(r.extra)
	if strings.Contains(extra, "auto_increment") {
		col.Type += " AUTO_INCREMENT"
	}
	if r.dflt.Valid {
		col.Default = columnDefault(r.dataType, r.dflt.String, strings.Contains(extra, "default_generated"))
	}
	return col
}

// columnDefault turns COLUMN_DEFAULT, which holds literals unquoted, back into SQL.
func columnDefault(dataType, value string, generated bool) string {
	upper := strings.ToUpper(value)
	switch {
	case generated && strings.HasPrefix(upper, "CURRENT_TIMESTAMP"):
		return value
	case generated:
		return "(" + value + ")"
	case upper == "NULL" || strings.HasPrefix(upper, "CURRENT_TIMESTAMP"):
		return value
	case isNumeric(dataType):
		return value
	}
	return printer.StringConstant(value)
}

func isNumeric(dataType string) bool {
	base, _, _ := strings.Cut(strings.ToLower(dataType), "(")
	fields := strings.Fields(base)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint",
		"decimal", "numeric", "float", "double", "real", "bit":
		return true
	}
	return false
}

type keyPart struct {
	name      string
	nonUnique bool
	column    string
}

// keys reads primary keys, unique keys and plain indexes from STATISTICS, one row per
// key part in order.
func (d *MysqlDatabase) keys(ctx context.Context, table string) ([]database.Parsed, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT INDEX_NAME, NON_UNIQUE, COALESCE(COLUMN_NAME, CONCAT('(', EXPRESSION, ')'))
		FROM information_schema.STATISTICS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY INDEX_NAME, SEQ_IN_INDEX
	`, d.config.DbName, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []keyPart
	for rows.Next() {
		var part keyPart
		var nonUnique int
		if err := rows.Scan(&part.name, &nonUnique, &part.column); err != nil {
			return nil, err
		}
		part.nonUnique = nonUnique != 0
		parts = append(parts, part)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keyObjects(d.config.DbName, table, parts), nil
}

func keyObjects(schemaName, table string, parts []keyPart) []database.Parsed {
	var parsed []database.Parsed
	for i := 0; i < len(parts); {
		j := i
		var columns []string
		for ; j < len(parts) && parts[j].name == parts[i].name; j++ {
			columns = append(columns, parts[j].column)
		}
		name := parts[i].name
		list := columnList(columns)
		var deps []string
		for _, col := range columns {
			if !strings.HasPrefix(col, "(") {
				deps = append(deps, col)
			}
		}

		switch {
		case name == "PRIMARY":
			parsed = append(parsed, database.SubObject(schema.KindConstraint, schemaName, table, name, "PRIMARY KEY ("+list+")", deps))
		case !parts[i].nonUnique:
			parsed = append(parsed, database.SubObject(schema.KindConstraint, schemaName, table, name, "UNIQUE KEY ("+list+")", deps))
		default:
			def := fmt.Sprintf("CREATE INDEX %s ON %s (%s)", quote(name), quote(table), list)
			parsed = append(parsed, database.SubObject(schema.KindIndex, schemaName, table, name, def, deps))
		}
		i = j
	}
	return parsed
}

func columnList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, col := range columns {
		if strings.HasPrefix(col, "(") {
			quoted[i] = col
		} else {
			quoted[i] = quote(col)
		}
	}
	return strings.Join(quoted, ", ")
}

func (d *MysqlDatabase) foreignKeys(ctx context.Context, table string) ([]database.ForeignKey, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT k.CONSTRAINT_NAME, k.COLUMN_NAME, k.REFERENCED_TABLE_SCHEMA, k.REFERENCED_TABLE_NAME,
		       k.REFERENCED_COLUMN_NAME, r.UPDATE_RULE, r.DELETE_RULE
		FROM information_schema.KEY_COLUMN_USAGE k
		JOIN information_schema.REFERENTIAL_CONSTRAINTS r
		  ON r.CONSTRAINT_SCHEMA = k.CONSTRAINT_SCHEMA AND r.CONSTRAINT_NAME = k.CONSTRAINT_NAME
		WHERE k.TABLE_SCHEMA = ? AND k.TABLE_NAME = ? AND k.REFERENCED_TABLE_NAME IS NOT NULL
		ORDER BY k.CONSTRAINT_NAME, k.ORDINAL_POSITION
	`, d.config.DbName, table)
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
			OnUpdate:  onUpdate,
			OnDelete:  onDelete,
		})
	}
	return fks, rows.Err()
}

func (d *MysqlDatabase) views(ctx context.Context) ([]database.Parsed, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT TABLE_NAME, VIEW_DEFINITION, SECURITY_TYPE
		FROM information_schema.VIEWS
		WHERE TABLE_SCHEMA = ?
		ORDER BY TABLE_NAME
	`, d.config.DbName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parsed []database.Parsed
	for rows.Next() {
		var viewName, definition, securityType string
		if err = rows.Scan(&viewName, &definition, &securityType); err != nil {
			return nil, err
		}
		stmt := &schema.Statement{
			ID:         schema.StatementID{Schema: d.config.DbName, Name: viewName, Kind: schema.KindView},
			Definition: fmt.Sprintf("CREATE SQL SECURITY %s VIEW %s AS %s", securityType, quote(viewName), definition),
		}
		object, err := database.BodyObject(stmt, definition, parser.ParserModeMysql)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, object)
	}
	return parsed, rows.Err()
}

func (d *MysqlDatabase) routines(ctx context.Context) ([]database.Parsed, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT ROUTINE_NAME, ROUTINE_TYPE, COALESCE(ROUTINE_DEFINITION, '')
		FROM information_schema.ROUTINES
		WHERE ROUTINE_SCHEMA = ?
		ORDER BY ROUTINE_NAME
	`, d.config.DbName)
	if err != nil {
		return nil, err
	}

	type routine struct{ name, kind, body string }
	var routines []routine
	for rows.Next() {
		var r routine
		if err := rows.Scan(&r.name, &r.kind, &r.body); err != nil {
			rows.Close()
			return nil, err
		}
		routines = append(routines, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var parsed []database.Parsed
	for _, r := range routines {
		kind := schema.KindFunction
		if r.kind == "PROCEDURE" {
			kind = schema.KindProcedure
		}
		// SHOW CREATE FUNCTION: name, sql_mode, definition, charset, collation, db collation
		var name, sqlMode, characterSetClient, collationConnection, databaseCollation string
		var definition sql.NullString
		query := fmt.Sprintf("SHOW CREATE %s %s", r.kind, quote(r.name))
		if err := d.db.QueryRowContext(ctx, query).Scan(&name, &sqlMode, &definition, &characterSetClient, &collationConnection, &databaseCollation); err != nil {
			return nil, err
		}
		stmt := &schema.Statement{
			ID:         schema.StatementID{Schema: d.config.DbName, Name: r.name, Kind: kind},
			Definition: stripDefiner(definition.String),
		}
		object, err := database.BodyObject(stmt, r.body, parser.ParserModeMysql)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, object)
	}
	return parsed, nil
}

// stripDefiner removes the DEFINER clause, which names the account that created the
// routine rather than anything about the routine itself.
func stripDefiner(definition string) string {
	i := strings.Index(definition, " DEFINER=")
	if i < 0 {
		return definition
	}
	rest := definition[i+len(" DEFINER="):]
	for _, keyword := range []string{" FUNCTION ", " PROCEDURE ", " TRIGGER ", " VIEW "} {
		if j := strings.Index(rest, keyword); j >= 0 {
			return definition[:i] + rest[j:]
		}
	}
	return definition
}

func (d *MysqlDatabase) triggers(ctx context.Context) ([]database.Parsed, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT TRIGGER_NAME, ACTION_TIMING, EVENT_MANIPULATION, EVENT_OBJECT_TABLE, ACTION_STATEMENT
		FROM information_schema.TRIGGERS
		WHERE TRIGGER_SCHEMA = ?
		ORDER BY EVENT_OBJECT_TABLE, TRIGGER_NAME
	`, d.config.DbName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parsed []database.Parsed
	for rows.Next() {
		var trigger, timing, event, table, statement string
		if err = rows.Scan(&trigger, &timing, &event, &table, &statement); err != nil {
			return nil, err
		}
		stmt := &schema.Statement{
			ID:         schema.StatementID{Schema: d.config.DbName, Name: table, Sub: trigger, Kind: schema.KindTrigger},
			Definition: fmt.Sprintf("CREATE TRIGGER %s %s %s ON %s FOR EACH ROW %s", quote(trigger), timing, event, quote(table), statement),
		}
		object, err := database.BodyObject(stmt, statement, parser.ParserModeMysql)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, object)
	}
	return parsed, rows.Err()
}

func (d *MysqlDatabase) DB() *sql.DB {
	return d.db
}

func (d *MysqlDatabase) Close() error {
	return d.db.Close()
}

func quote(name string) string {
	return printer.QuoteIdentifier(schema.DialectMysql, name)
}

func mysqlBuildDSN(config database.Config) string {
	c := driver.NewConfig()
	c.User = config.User
	c.Passwd = config.Password
	c.DBName = config.DbName
	c.AllowCleartextPasswords = config.MySQLEnableCleartextPlugin
	c.TLSConfig = config.SslMode
	if config.Socket == "" {
		c.Net = "tcp"
		c.Addr = fmt.Sprintf("%s:%d", config.Host, config.Port)
	} else {
		c.Net = "unix"
		c.Addr = config.Socket
	}
	return c.FormatDSN()
}

func registerTLSConfig(pemPath string) error {
	rootCertPool := x509.NewCertPool()
	pem, err := os.ReadFile(pemPath)
	if err != nil {
		return err
	}

	if ok := rootCertPool.AppendCertsFromPEM(pem); !ok {
		return fmt.Errorf("failed to append PEM")
	}

	return driver.RegisterTLSConfig("custom", &tls.Config{
		RootCAs: rootCertPool,
	})
}
