package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"slices"
	"strings"

	_ "github.com/lib/pq"

	"github.com/sqldef/schemadiff/database"
	"github.com/sqldef/schemadiff/printer"
	"github.com/sqldef/schemadiff/schema"
)

const indent = "    "

// PostgresDatabase reads the object model of a live PostgreSQL database. The catalog
// is dumped as DDL and loaded with the same parser as SQL files, so both sources
// normalize identically.
type PostgresDatabase struct {
	config database.Config
	db     *sql.DB
}

func NewDatabase(config database.Config) (database.Database, error) {
	db, err := sql.Open("postgres", postgresBuildDSN(config))
	if err != nil {
		return nil, err
	}

	return &PostgresDatabase{
		db:     db,
		config: config,
	}, nil
}

func (d *PostgresDatabase) Read(ctx context.Context) (*schema.Database, error) {
	ddls, err := d.ExportDDLs(ctx)
	if err != nil {
		return nil, err
	}
	file := database.File{Name: "postgres:" + d.config.DbName, SQL: ddls}
	return database.LoadFiles(ctx, d.config.DbName, schema.DialectPostgres, NewParser(), []database.File{file}, 0)
}

func (d *PostgresDatabase) DB() *sql.DB {
	return d.db
}

func (d *PostgresDatabase) Close() error {
	return d.db.Close()
}

// ExportDDLs dumps the catalog as a SQL script.
func (d *PostgresDatabase) ExportDDLs(ctx context.Context) (string, error) {
	var ddls []string
	for _, export := range []func(context.Context) ([]string, error){
		d.schemas,
		d.extensions,
		d.types,
		d.domains,
		d.sequences,
		d.functions,
	} {
		exported, err := export(ctx)
		if err != nil {
			return "", err
		}
		ddls = append(ddls, exported...)
	}

	tableNames, err := d.tableNames(ctx)
	if err != nil {
		return "", err
	}
	tableDDLs, err := database.ConcurrentMapFuncWithError(ctx, tableNames, d.config.DumpConcurrency, d.exportTableDDL)
	if err != nil {
		return "", err
	}
	ddls = append(ddls, tableDDLs...)

	for _, export := range []func(context.Context) ([]string, error){
		d.triggers,
		d.views,
		d.materializedViews,
	} {
		exported, err := export(ctx)
		if err != nil {
			return "", err
		}
		ddls = append(ddls, exported...)
	}

	return strings.Join(ddls, "\n\n"), nil
}

// targeted reports whether objects of schemaName are exported.
func (d *PostgresDatabase) targeted(schemaName string) bool {
	return len(d.config.TargetSchemas) == 0 || slices.Contains(d.config.TargetSchemas, schemaName)
}

// query runs a catalog query and hands every row to scan, skipping rows whose schema
// (the first column) is not targeted.
func (d *PostgresDatabase) query(ctx context.Context, query string, args []any, scan func(rows *sql.Rows) error) error {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (d *PostgresDatabase) tableNames(ctx context.Context) ([]string, error) {
	var tables []string
	err := d.query(ctx, `
		select n.nspname as table_schema, relname as table_name from pg_catalog.pg_class c
		inner join pg_catalog.pg_namespace n on c.relnamespace = n.oid
		where n.nspname not in ('information_schema', 'pg_catalog')
		and c.relkind in ('r', 'p')
		and c.relpersistence in ('p', 'u')
		and c.relispartition = false
		and not exists (select * from pg_catalog.pg_depend d where c.oid = d.objid and d.classid = 'pg_class'::regclass and d.deptype = 'e')
		order by n.nspname asc, relname asc;
	`, nil, func(rows *sql.Rows) error {
		var schemaName, name string
		if err := rows.Scan(&schemaName, &name); err != nil {
			return err
		}
		if d.targeted(schemaName) {
			tables = append(tables, schemaName+"."+name)
		}
		return nil
	})
	return tables, err
}

var (
	suffixSemicolon = regexp.MustCompile(`;\s*$`)
	spaces          = regexp.MustCompile(`\s+`)
)

func viewBody(definition string) string {
	definition = strings.TrimSpace(definition)
	definition = suffixSemicolon.ReplaceAllString(definition, "")
	return spaces.ReplaceAllString(definition, " ")
}

func (d *PostgresDatabase) views(ctx context.Context) ([]string, error) {
	var ddls []string
	err := d.query(ctx, `
		select n.nspname as table_schema, c.relname as table_name, pg_get_viewdef(c.oid) as definition
		from pg_catalog.pg_class c inner join pg_catalog.pg_namespace n on c.relnamespace = n.oid
		where n.nspname not in ('information_schema', 'pg_catalog')
		and c.relkind = 'v'
		and not exists (select * from pg_catalog.pg_depend d where c.oid = d.objid and d.classid = 'pg_class'::regclass and d.deptype = 'e')
		order by n.nspname, c.relname
	`, nil, func(rows *sql.Rows) error {
		var schemaName, name, definition string
		if err := rows.Scan(&schemaName, &name, &definition); err != nil {
			return err
		}
		if d.targeted(schemaName) {
			ddls = append(ddls, fmt.Sprintf("CREATE VIEW %s.%s AS %s;", quote(schemaName), quote(name), viewBody(definition)))
		}
		return nil
	})
	return ddls, err
}

func (d *PostgresDatabase) materializedViews(ctx context.Context) ([]string, error) {
	type matview struct{ schema, name, definition string }
	var matviews []matview
	err := d.query(ctx, `
		select n.nspname as schemaname, c.relname as matviewname, pg_get_viewdef(c.oid) as definition
		from pg_catalog.pg_class c inner join pg_catalog.pg_namespace n on c.relnamespace = n.oid
		where c.relkind = 'm'
		and not exists (select * from pg_catalog.pg_depend d where c.oid = d.objid and d.classid = 'pg_class'::regclass and d.deptype = 'e')
		order by n.nspname, c.relname
	`, nil, func(rows *sql.Rows) error {
		var m matview
		if err := rows.Scan(&m.schema, &m.name, &m.definition); err != nil {
			return err
		}
		if d.targeted(m.schema) {
			matviews = append(matviews, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var ddls []string
	for _, m := range matviews {
		ddls = append(ddls, fmt.Sprintf("CREATE MATERIALIZED VIEW %s.%s AS %s;", quote(m.schema), quote(m.name), viewBody(m.definition)))
		indexDefs, err := d.getIndexDefs(ctx, m.schema, m.name)
		if err != nil {
			return nil, err
		}
		for _, indexDef := range indexDefs {
			ddls = append(ddls, indexDef+";")
		}
	}
	return ddls, nil
}

func (d *PostgresDatabase) schemas(ctx context.Context) ([]string, error) {
	var ddls []string
	err := d.query(ctx, `
		SELECT schema_name
		FROM information_schema.schemata
		WHERE schema_name NOT LIKE 'pg_%'
		AND schema_name not in ('information_schema', 'public')
		ORDER BY schema_name;
	`, nil, func(rows *sql.Rows) error {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if d.targeted(name) {
			ddls = append(ddls, fmt.Sprintf("CREATE SCHEMA %s;", quote(name)))
		}
		return nil
	})
	return ddls, err
}

func (d *PostgresDatabase) extensions(ctx context.Context) ([]string, error) {
	var ddls []string
	err := d.query(ctx, `
		SELECT extname FROM pg_extension
		WHERE extname != 'plpgsql'
		ORDER BY extname;
	`, nil, func(rows *sql.Rows) error {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		ddls = append(ddls, fmt.Sprintf("CREATE EXTENSION %s;", quote(name)))
		return nil
	})
	return ddls, err
}

func (d *PostgresDatabase) types(ctx context.Context) ([]string, error) {
	var ddls []string
	// quote_literal() escapes labels; enumsortorder keeps their order
	err := d.query(ctx, `
		SELECT n.nspname AS type_schema,
		       t.typname,
		       string_agg(quote_literal(e.enumlabel), ', ' ORDER BY e.enumsortorder)
		FROM pg_enum e
		JOIN pg_type t ON e.enumtypid = t.oid
		INNER JOIN pg_catalog.pg_namespace n ON t.typnamespace = n.oid
		WHERE NOT EXISTS (SELECT * FROM pg_depend d WHERE d.objid = t.oid AND d.classid = 'pg_type'::regclass AND d.deptype = 'e')
		GROUP BY n.nspname, t.typname
		ORDER BY n.nspname, t.typname;
	`, nil, func(rows *sql.Rows) error {
		var typeSchema, typeName, labels string
		if err := rows.Scan(&typeSchema, &typeName, &labels); err != nil {
			return err
		}
		if d.targeted(typeSchema) {
			ddls = append(ddls, fmt.Sprintf("CREATE TYPE %s.%s AS ENUM (%s);", quote(typeSchema), quote(typeName), labels))
		}
		return nil
	})
	return ddls, err
}

func (d *PostgresDatabase) domains(ctx context.Context) ([]string, error) {
	var ddls []string
	err := d.query(ctx, `
		SELECT n.nspname AS domain_schema,
		       t.typname AS domain_name,
		       pg_catalog.format_type(t.typbasetype, t.typtypmod) AS data_type,
		       t.typdefault AS default_value,
		       t.typnotnull AS not_null,
		       (SELECT string_agg('CONSTRAINT ' || quote_ident(con.conname) || ' ' || pg_catalog.pg_get_constraintdef(con.oid, true), ' ' ORDER BY con.conname)
		        FROM pg_catalog.pg_constraint con WHERE con.contypid = t.oid) AS constraints
		FROM pg_catalog.pg_type t
		INNER JOIN pg_catalog.pg_namespace n ON t.typnamespace = n.oid
		WHERE t.typtype = 'd'
		  AND n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		  AND NOT EXISTS (SELECT 1 FROM pg_depend d WHERE d.objid = t.oid AND d.classid = 'pg_type'::regclass AND d.deptype = 'e')
		ORDER BY n.nspname, t.typname;
	`, nil, func(rows *sql.Rows) error {
		var domainSchema, name, dataType string
		var defaultValue, constraints sql.NullString
		var notNull bool
		if err := rows.Scan(&domainSchema, &name, &dataType, &defaultValue, &notNull, &constraints); err != nil {
			return err
		}
		if !d.targeted(domainSchema) {
			return nil
		}
		ddl := fmt.Sprintf("CREATE DOMAIN %s.%s AS %s", quote(domainSchema), quote(name), dataType)
		if defaultValue.Valid {
			ddl += " DEFAULT " + defaultValue.String
		}
		if notNull {
			ddl += " NOT NULL"
		}
		if constraints.Valid {
			ddl += " " + constraints.String
		}
		ddls = append(ddls, ddl+";")
		return nil
	})
	return ddls, err
}

// sequences exports sequences that are not owned by a serial column.
func (d *PostgresDatabase) sequences(ctx context.Context) ([]string, error) {
	var ddls []string
	err := d.query(ctx, `
		SELECT n.nspname, c.relname
		FROM pg_catalog.pg_class c
		INNER JOIN pg_catalog.pg_namespace n ON c.relnamespace = n.oid
		WHERE c.relkind = 'S'
		  AND n.nspname NOT IN ('pg_catalog', 'information_schema')
		  AND NOT EXISTS (SELECT 1 FROM pg_depend d WHERE d.objid = c.oid AND d.classid = 'pg_class'::regclass AND d.deptype IN ('a', 'i', 'e'))
		ORDER BY n.nspname, c.relname;
	`, nil, func(rows *sql.Rows) error {
		var schemaName, name string
		if err := rows.Scan(&schemaName, &name); err != nil {
			return err
		}
		if d.targeted(schemaName) {
			ddls = append(ddls, fmt.Sprintf("CREATE SEQUENCE %s.%s;", quote(schemaName), quote(name)))
		}
		return nil
	})
	return ddls, err
}

func (d *PostgresDatabase) functions(ctx context.Context) ([]string, error) {
	var ddls []string
	err := d.query(ctx, `
		SELECT n.nspname AS func_schema,
		       pg_get_functiondef(p.oid) AS func_def
		FROM pg_catalog.pg_proc p
		INNER JOIN pg_catalog.pg_namespace n ON p.pronamespace = n.oid
		WHERE n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		  AND p.prokind IN ('f', 'p')
		  AND NOT EXISTS (SELECT 1 FROM pg_depend d WHERE d.objid = p.oid AND d.classid = 'pg_proc'::regclass AND d.deptype = 'e')
		ORDER BY n.nspname, p.proname;
	`, nil, func(rows *sql.Rows) error {
		var funcSchema, funcDef string
		if err := rows.Scan(&funcSchema, &funcDef); err != nil {
			return err
		}
		if d.targeted(funcSchema) {
			ddls = append(ddls, terminated(funcDef))
		}
		return nil
	})
	return ddls, err
}

func (d *PostgresDatabase) triggers(ctx context.Context) ([]string, error) {
	var ddls []string
	err := d.query(ctx, `
		SELECT n.nspname AS trigger_schema,
		       pg_get_triggerdef(t.oid) AS trigger_def
		FROM pg_catalog.pg_trigger t
		INNER JOIN pg_catalog.pg_class c ON t.tgrelid = c.oid
		INNER JOIN pg_catalog.pg_namespace n ON c.relnamespace = n.oid
		WHERE n.nspname NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		  AND NOT t.tgisinternal
		  AND NOT EXISTS (SELECT 1 FROM pg_depend d WHERE d.objid = t.oid AND d.classid = 'pg_trigger'::regclass AND d.deptype = 'e')
		ORDER BY n.nspname, c.relname, t.tgname;
	`, nil, func(rows *sql.Rows) error {
		var triggerSchema, triggerDef string
		if err := rows.Scan(&triggerSchema, &triggerDef); err != nil {
			return err
		}
		if d.targeted(triggerSchema) {
			ddls = append(ddls, terminated(triggerDef))
		}
		return nil
	})
	return ddls, err
}

func terminated(ddl string) string {
	ddl = strings.TrimSpace(ddl)
	if !strings.HasSuffix(ddl, ";") {
		ddl += ";"
	}
	return ddl
}

func (d *PostgresDatabase) exportTableDDL(ctx context.Context, table string) (string, error) {
	schemaName, name := splitTableName(table)
	var b strings.Builder

	columns, err := d.getColumns(ctx, schemaName, name)
	if err != nil {
		return "", fmt.Errorf("failed to get columns for table %s: %w", table, err)
	}
	fmt.Fprintf(&b, "CREATE TABLE %s.%s (", quote(schemaName), quote(name))
	for i, col := range columns {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n" + indent + col.definition())
	}
	b.WriteString("\n);\n")

	parts := []struct {
		what string
		get  func(context.Context, string, string) ([]string, error)
	}{
		{"constraints", d.getConstraintDefs},
		{"index definitions", d.getIndexDefs},
		{"policy definitions", d.getPolicyDefs},
		{"comments", d.getComments},
		{"privilege definitions", d.getPrivilegeDefs},
	}
	for _, part := range parts {
		defs, err := part.get(ctx, schemaName, name)
		if err != nil {
			return "", fmt.Errorf("failed to get %s for table %s: %w", part.what, table, err)
		}
		for _, def := range defs {
			b.WriteString(terminated(def) + "\n")
		}
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

type column struct {
	Name     string
	DataType string
	NotNull  bool
	Default  string
	Identity string
}

// dataType turns integer columns backed by their own sequence back into serials.
func (c column) dataType() string {
	if !strings.HasPrefix(c.Default, "nextval(") {
		return c.DataType
	}
	switch c.DataType {
	case "smallint":
		return "smallserial"
	case "integer":
		return "serial"
	case "bigint":
		return "bigserial"
	}
	return c.DataType
}

func (c column) definition() string {
	def := quote(c.Name) + " " + c.dataType()
	if c.NotNull && c.dataType() == c.DataType {
		def += " NOT NULL"
	}
	if c.Default != "" && c.dataType() == c.DataType {
		def += " DEFAULT " + c.Default
	}
	switch c.Identity {
	case "a":
		def += " GENERATED ALWAYS AS IDENTITY"
	case "d":
		def += " GENERATED BY DEFAULT AS IDENTITY"
	}
	return def
}

func (d *PostgresDatabase) getColumns(ctx context.Context, schemaName, table string) ([]column, error) {
	var cols []column
	err := d.query(ctx, `
		SELECT a.attname,
		       pg_catalog.format_type(a.atttypid, a.atttypmod),
		       a.attnotnull,
		       pg_catalog.pg_get_expr(ad.adbin, ad.adrelid),
		       a.attidentity
		FROM pg_catalog.pg_attribute a
		JOIN pg_catalog.pg_class c ON c.oid = a.attrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		LEFT JOIN pg_catalog.pg_attrdef ad ON ad.adrelid = a.attrelid AND ad.adnum = a.attnum
		WHERE n.nspname = $1 AND c.relname = $2
		AND a.attnum > 0 AND NOT a.attisdropped
		ORDER BY a.attnum
	`, []any{schemaName, table}, func(rows *sql.Rows) error {
		var col column
		var colDefault sql.NullString
		if err := rows.Scan(&col.Name, &col.DataType, &col.NotNull, &colDefault, &col.Identity); err != nil {
			return err
		}
		col.Default = colDefault.String
		cols = append(cols, col)
		return nil
	})
	return cols, err
}

func (d *PostgresDatabase) getConstraintDefs(ctx context.Context, schemaName, table string) ([]string, error) {
	var defs []string
	err := d.query(ctx, `
		SELECT con.conname, pg_catalog.pg_get_constraintdef(con.oid, true)
		FROM pg_catalog.pg_constraint con
		JOIN pg_catalog.pg_class c ON c.oid = con.conrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2
		AND con.contype IN ('p', 'u', 'c', 'f')
		ORDER BY con.contype DESC, con.conname
	`, []any{schemaName, table}, func(rows *sql.Rows) error {
		var name, def string
		if err := rows.Scan(&name, &def); err != nil {
			return err
		}
		defs = append(defs, fmt.Sprintf("ALTER TABLE %s.%s ADD CONSTRAINT %s %s", quote(schemaName), quote(table), quote(name), def))
		return nil
	})
	return defs, err
}

func (d *PostgresDatabase) getIndexDefs(ctx context.Context, schemaName, table string) ([]string, error) {
	var indexes []string
	// indexes backing primary key, unique and exclusion constraints come with the constraint
	err := d.query(ctx, `WITH
	  exclude_constraints AS (
	    SELECT con.conname AS name
	    FROM   pg_constraint con
	    JOIN   pg_namespace nsp ON nsp.oid = con.connamespace
	    JOIN   pg_class cls ON cls.oid = con.conrelid
	    WHERE  con.contype IN ('p', 'u', 'x')
	    AND    nsp.nspname = $1
	    AND    cls.relname = $2
	  )
	SELECT indexdef
	FROM   pg_indexes
	WHERE  schemaname = $1
	AND    tablename = $2
	AND    indexName NOT IN (SELECT name FROM exclude_constraints)
	ORDER BY indexdef
	`, []any{schemaName, table}, func(rows *sql.Rows) error {
		var indexdef string
		if err := rows.Scan(&indexdef); err != nil {
			return err
		}
		indexes = append(indexes, indexdef)
		return nil
	})
	return indexes, err
}

func (d *PostgresDatabase) getPolicyDefs(ctx context.Context, schemaName, table string) ([]string, error) {
	var defs []string
	err := d.query(ctx, `
		SELECT policyname, permissive, array_to_string(roles, ', '), cmd, qual, with_check
		FROM pg_policies
		WHERE schemaname = $1 AND tablename = $2
		ORDER BY policyname
	`, []any{schemaName, table}, func(rows *sql.Rows) error {
		var policyName, permissive, roles, cmd string
		var using, withCheck sql.NullString
		if err := rows.Scan(&policyName, &permissive, &roles, &cmd, &using, &withCheck); err != nil {
			return err
		}
		def := fmt.Sprintf("CREATE POLICY %s ON %s.%s AS %s FOR %s TO %s",
			quote(policyName), quote(schemaName), quote(table), permissive, cmd, roles)
		if using.Valid {
			def += fmt.Sprintf(" USING (%s)", using.String)
		}
		if withCheck.Valid {
			def += fmt.Sprintf(" WITH CHECK (%s)", withCheck.String)
		}
		defs = append(defs, def)
		return nil
	})
	return defs, err
}

func (d *PostgresDatabase) getComments(ctx context.Context, schemaName, table string) ([]string, error) {
	var ddls []string
	err := d.query(ctx, `
		SELECT a.attname, pgd.description
		FROM pg_catalog.pg_description pgd
		JOIN pg_catalog.pg_class c ON c.oid = pgd.objoid AND pgd.classoid = 'pg_class'::regclass
		JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
		LEFT JOIN pg_catalog.pg_attribute a ON a.attrelid = c.oid AND a.attnum = pgd.objsubid
		WHERE n.nspname = $1 AND c.relname = $2
		ORDER BY pgd.objsubid
	`, []any{schemaName, table}, func(rows *sql.Rows) error {
		var columnName sql.NullString
		var comment string
		if err := rows.Scan(&columnName, &comment); err != nil {
			return err
		}
		if columnName.Valid {
			ddls = append(ddls, fmt.Sprintf("COMMENT ON COLUMN %s.%s.%s IS %s", quote(schemaName), quote(table), quote(columnName.String), printer.StringConstant(comment)))
		} else {
			ddls = append(ddls, fmt.Sprintf("COMMENT ON TABLE %s.%s IS %s", quote(schemaName), quote(table), printer.StringConstant(comment)))
		}
		return nil
	})
	return ddls, err
}

// getPrivilegeDefs exports grants to the managed roles. Without managed roles privileges
// are not read at all.
func (d *PostgresDatabase) getPrivilegeDefs(ctx context.Context, schemaName, table string) ([]string, error) {
	if len(d.config.ManagedRoles) == 0 {
		return nil, nil
	}

	var defs []string
	err := d.query(ctx, `
		SELECT
			grantee,
			string_agg(privilege_type, ', ' ORDER BY privilege_type) as privileges
		FROM information_schema.table_privileges
		WHERE table_schema = $1
		AND table_name = $2
		AND grantee = ANY($3)
		AND grantee != (
			SELECT tableowner FROM pg_tables
			WHERE schemaname = $1 AND tablename = $2
		)
		GROUP BY grantee
		ORDER BY grantee
	`, []any{schemaName, table, managedRoles(d.config.ManagedRoles)}, func(rows *sql.Rows) error {
		var grantee, privileges string
		if err := rows.Scan(&grantee, &privileges); err != nil {
			return err
		}
		defs = append(defs, fmt.Sprintf("GRANT %s ON TABLE %s.%s TO %s", privileges, quote(schemaName), quote(table), grantee))
		return nil
	})
	return defs, err
}

// managedRoles renders roles as a PostgreSQL text array literal.
func managedRoles(roles []string) string {
	quoted := make([]string, len(roles))
	for i, role := range roles {
		quoted[i] = `"` + strings.ReplaceAll(strings.ReplaceAll(role, `\`, `\\`), `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}"
}

func splitTableName(table string) (string, string) {
	schemaName, name, ok := strings.Cut(table, ".")
	if !ok {
		return defaultSchema, table
	}
	return schemaName, name
}

func postgresBuildDSN(config database.Config) string {
	user := config.User
	password := config.Password
	dbName := config.DbName
	host := ""
	var options []string

	if config.Socket == "" {
		host = fmt.Sprintf("%s:%d", config.Host, config.Port)
	} else {
		// postgres://user:@%2Fvar%2Frun%2Fpostgresql/dbname is rejected by the URL
		// parser, so the socket directory goes into the host option.
		options = append(options, fmt.Sprintf("host=%s", config.Socket))
	}

	if config.SslMode != "" {
		options = append(options, fmt.Sprintf("sslmode=%s", config.SslMode))
	} else if sslmode := os.Getenv("PGSSLMODE"); sslmode != "" {
		options = append(options, fmt.Sprintf("sslmode=%s", sslmode))
	}

	if config.SslCa != "" {
		options = append(options, fmt.Sprintf("sslrootcert=%s", config.SslCa))
	} else if sslrootcert := os.Getenv("PGSSLROOTCERT"); sslrootcert != "" {
		options = append(options, fmt.Sprintf("sslrootcert=%s", sslrootcert))
	}
	if sslcert := os.Getenv("PGSSLCERT"); sslcert != "" {
		options = append(options, fmt.Sprintf("sslcert=%s", sslcert))
	}
	if sslkey := os.Getenv("PGSSLKEY"); sslkey != "" {
		options = append(options, fmt.Sprintf("sslkey=%s", sslkey))
	}

	// QueryEscape instead of PathEscape so that colons are escaped
	return fmt.Sprintf("postgres://%s:%s@%s/%s?%s", url.QueryEscape(user), url.QueryEscape(password), host, dbName, strings.Join(options, "&"))
}
