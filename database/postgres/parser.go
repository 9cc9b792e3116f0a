package postgres

import (
	"fmt"
	"log/slog"
	"strings"

	pgquery "github.com/pganalyze/pg_query_go/v2"

	"github.com/sqldef/schemadiff/database"
	"github.com/sqldef/schemadiff/parser"
	"github.com/sqldef/schemadiff/printer"
	"github.com/sqldef/schemadiff/schema"
	"github.com/sqldef/schemadiff/util"
)

const defaultSchema = "public"

// PostgresParser reads SQL files with PostgreSQL's own parser. Definitions are
// normalized by deparsing the parse tree, so that files and catalog dumps that
// differ only in formatting yield the same model.
type PostgresParser struct{}

func NewParser() PostgresParser {
	return PostgresParser{}
}

func (p PostgresParser) Parse(file, sql string) ([]database.Parsed, error) {
	result, err := pgquery.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}

	var parsed []database.Parsed
	for _, rawStmt := range result.Stmts {
		start := int(rawStmt.StmtLocation)
		end := len(sql)
		if rawStmt.StmtLen > 0 {
			end = start + int(rawStmt.StmtLen)
		}
		ddl := parser.TrimMarginComments(sql[start:end])
		line, column := parser.LineColumn(sql, start+strings.Index(sql[start:end], ddl))

		s := &stmtParser{loc: schema.Location{File: file, Line: line, Column: column}}
		if err := s.parse(rawStmt.Stmt); err != nil {
			return nil, fmt.Errorf("%s: %w", s.loc, err)
		}
		parsed = append(parsed, s.result...)
	}
	return parsed, nil
}

// stmtParser turns one parse tree into model statements and patches.
type stmtParser struct {
	loc    schema.Location
	result []database.Parsed
}

func (p *stmtParser) add(stmt *schema.Statement) {
	stmt.Location = p.loc
	p.result = append(p.result, database.Parsed{Statement: stmt})
}

func (p *stmtParser) patch(patch *database.Patch) {
	patch.Location = p.loc
	p.result = append(p.result, database.Parsed{Patch: patch})
}

func (p *stmtParser) parse(node *pgquery.Node) error {
	switch n := node.Node.(type) {
	case *pgquery.Node_CreateSchemaStmt:
		return p.createSchema(n.CreateSchemaStmt)
	case *pgquery.Node_CreateExtensionStmt:
		p.add(&schema.Statement{
			ID:         schema.StatementID{Name: n.CreateExtensionStmt.Extname, Kind: schema.KindExtension},
			Definition: "CREATE EXTENSION " + quote(n.CreateExtensionStmt.Extname),
		})
		return nil
	case *pgquery.Node_CreateStmt:
		return p.createTable(n.CreateStmt)
	case *pgquery.Node_ViewStmt:
		return p.createView(node, n.ViewStmt)
	case *pgquery.Node_CreateTableAsStmt:
		return p.createMaterializedView(node, n.CreateTableAsStmt)
	case *pgquery.Node_IndexStmt:
		return p.createIndex(node, n.IndexStmt)
	case *pgquery.Node_CreateFunctionStmt:
		return p.createFunction(node, n.CreateFunctionStmt)
	case *pgquery.Node_CreateSeqStmt:
		stmt := n.CreateSeqStmt
		schemaName, name := relationName(stmt.Sequence)
		stmt.Sequence.Schemaname = schemaName
		stmt.IfNotExists = false
		return p.addDeparsed(node, schema.StatementID{Schema: schemaName, Name: name, Kind: schema.KindSequence}, nil)
	case *pgquery.Node_CreateTrigStmt:
		return p.createTrigger(node, n.CreateTrigStmt)
	case *pgquery.Node_CreateEnumStmt:
		schemaName, name := qualify(stringValues(n.CreateEnumStmt.TypeName))
		n.CreateEnumStmt.TypeName = stringNodes(schemaName, name)
		return p.addDeparsed(node, schema.StatementID{Schema: schemaName, Name: name, Kind: schema.KindType}, nil)
	case *pgquery.Node_CompositeTypeStmt:
		stmt := n.CompositeTypeStmt
		schemaName, name := relationName(stmt.Typevar)
		stmt.Typevar.Schemaname = schemaName
		c := &collector{}
		c.walkAll(stmt.Coldeflist)
		return p.addDeparsed(node, schema.StatementID{Schema: schemaName, Name: name, Kind: schema.KindType}, c.references(nil))
	case *pgquery.Node_CreateDomainStmt:
		stmt := n.CreateDomainStmt
		schemaName, name := qualify(stringValues(stmt.Domainname))
		stmt.Domainname = stringNodes(schemaName, name)
		c := &collector{}
		c.typeName(stmt.TypeName)
		c.walkAll(stmt.Constraints)
		return p.addDeparsed(node, schema.StatementID{Schema: schemaName, Name: name, Kind: schema.KindDomain}, c.references(nil))
	case *pgquery.Node_CreatePolicyStmt:
		stmt := n.CreatePolicyStmt
		schemaName, table := relationName(stmt.Table)
		stmt.Table.Schemaname = schemaName
		c := &collector{}
		c.walk(stmt.Qual)
		c.walk(stmt.WithCheck)
		self := &relationRef{schema: schemaName, name: table}
		return p.addDeparsed(node, schema.StatementID{Schema: schemaName, Name: table, Sub: stmt.PolicyName, Kind: schema.KindPolicy}, c.references(self))
	case *pgquery.Node_RuleStmt:
		stmt := n.RuleStmt
		schemaName, table := relationName(stmt.Relation)
		stmt.Relation.Schemaname = schemaName
		stmt.Replace = false
		c := &collector{}
		c.walk(stmt.WhereClause)
		c.walkAll(stmt.Actions)
		self := &relationRef{schema: schemaName, name: table}
		return p.addDeparsed(node, schema.StatementID{Schema: schemaName, Name: table, Sub: stmt.Rulename, Kind: schema.KindRule}, c.references(self))
	case *pgquery.Node_AlterTableStmt:
		return p.alterTable(n.AlterTableStmt)
	case *pgquery.Node_AlterOwnerStmt:
		stmt := n.AlterOwnerStmt
		object := stmt.Object
		if stmt.Relation != nil {
			object = &pgquery.Node{Node: &pgquery.Node_RangeVar{RangeVar: stmt.Relation}}
		}
		target, err := objectTarget(stmt.ObjectType, object)
		if err != nil {
			return err
		}
		owner := roleName(stmt.Newowner)
		p.patch(&database.Patch{Target: target, Owner: &owner})
		return nil
	case *pgquery.Node_CommentStmt:
		target, err := objectTarget(n.CommentStmt.Objtype, n.CommentStmt.Object)
		if err != nil {
			return err
		}
		comment := n.CommentStmt.Comment
		p.patch(&database.Patch{Target: target, Comment: &comment})
		return nil
	case *pgquery.Node_GrantStmt:
		return p.grant(n.GrantStmt)
	case *pgquery.Node_VariableSetStmt, *pgquery.Node_TransactionStmt, *pgquery.Node_SelectStmt:
		// session settings, transaction control and pg_dump's set_config calls
		return nil
	default:
		return fmt.Errorf("unsupported statement: %T", node.Node)
	}
}

// addDeparsed adds a statement whose definition is the deparsed, already normalized tree.
func (p *stmtParser) addDeparsed(node *pgquery.Node, id schema.StatementID, deps []schema.ObjectReference) error {
	def, err := deparse(node)
	if err != nil {
		return err
	}
	p.add(&schema.Statement{ID: id, Definition: def, Deps: deps})
	return nil
}

func (p *stmtParser) createSchema(stmt *pgquery.CreateSchemaStmt) error {
	if len(stmt.SchemaElts) > 0 {
		return fmt.Errorf("CREATE SCHEMA with schema elements is not supported")
	}
	name := stmt.Schemaname
	var owner string
	if stmt.Authrole != nil {
		owner = roleName(stmt.Authrole)
		if name == "" {
			name = owner
		}
	}
	p.add(&schema.Statement{
		ID:         schema.StatementID{Name: name, Kind: schema.KindSchema},
		Definition: "CREATE SCHEMA " + quote(name),
		Owner:      owner,
	})
	return nil
}

func (p *stmtParser) createTable(stmt *pgquery.CreateStmt) error {
	schemaName, name := relationName(stmt.Relation)
	tableID := schema.StatementID{Schema: schemaName, Name: name, Kind: schema.KindTable}
	p.add(&schema.Statement{ID: tableID})

	var columns []*schema.Statement
	var constraints []pendingConstraint
	for _, elt := range append(stmt.TableElts, stmt.Constraints...) {
		switch e := elt.Node.(type) {
		case *pgquery.Node_ColumnDef:
			col, inline, err := p.column(tableID, e.ColumnDef)
			if err != nil {
				return err
			}
			columns = append(columns, col)
			constraints = append(constraints, inline...)
		case *pgquery.Node_Constraint:
			constraints = append(constraints, pendingConstraint{constraint: e.Constraint})
		default:
			return fmt.Errorf("unsupported table element in %s: %T", tableID, elt.Node)
		}
	}

	// primary key columns are implicitly NOT NULL
	for _, c := range constraints {
		if c.constraint.Contype != pgquery.ConstrType_CONSTR_PRIMARY {
			continue
		}
		for _, key := range c.keys() {
			for _, col := range columns {
				if col.ID.Sub == key {
					col.Attrs[schema.AttrNotNull] = "true"
				}
			}
		}
	}
	for _, col := range columns {
		p.add(col)
	}
	for _, c := range constraints {
		if err := p.constraint(tableID, c); err != nil {
			return err
		}
	}
	return nil
}

// pendingConstraint is a table constraint, or a column constraint together with its column.
type pendingConstraint struct {
	constraint *pgquery.Constraint
	column     string
}

func (c pendingConstraint) keys() []string {
	if keys := stringValues(c.constraint.Keys); len(keys) > 0 {
		return keys
	}
	if keys := stringValues(c.constraint.FkAttrs); len(keys) > 0 {
		return keys
	}
	if c.column != "" {
		return []string{c.column}
	}
	return nil
}

func (p *stmtParser) column(tableID schema.StatementID, def *pgquery.ColumnDef) (*schema.Statement, []pendingConstraint, error) {
	c := &collector{}
	attrs := map[string]string{schema.AttrType: c.typeName(def.TypeName)}
	notNull := def.IsNotNull
	rawDefault := def.RawDefault

	var constraints []pendingConstraint
	for _, node := range def.Constraints {
		constraint := node.GetConstraint()
		if constraint == nil {
			continue
		}
		switch constraint.Contype {
		case pgquery.ConstrType_CONSTR_NOTNULL:
			notNull = true
		case pgquery.ConstrType_CONSTR_NULL:
			notNull = false
		case pgquery.ConstrType_CONSTR_DEFAULT:
			rawDefault = constraint.RawExpr
		case pgquery.ConstrType_CONSTR_IDENTITY:
			attrs[schema.AttrIdentity] = identityKind(constraint.GeneratedWhen)
		case pgquery.ConstrType_CONSTR_GENERATED:
			expr, err := deparseExpr(constraint.RawExpr)
			if err != nil {
				return nil, nil, err
			}
			attrs[schema.AttrGenerated] = expr
			c.walk(constraint.RawExpr)
		case pgquery.ConstrType_CONSTR_PRIMARY, pgquery.ConstrType_CONSTR_UNIQUE,
			pgquery.ConstrType_CONSTR_CHECK, pgquery.ConstrType_CONSTR_FOREIGN:
			constraints = append(constraints, pendingConstraint{constraint: constraint, column: def.Colname})
		default:
			slog.Warn("Ignoring column constraint", "column", def.Colname, "table", tableID.Qualified(), "type", constraint.Contype.String())
		}
	}

	if rawDefault != nil {
		rawDefault = unwrapConstCast(rawDefault)
		expr, err := deparseExpr(rawDefault)
		if err != nil {
			return nil, nil, err
		}
		attrs[schema.AttrDefault] = expr
		c.walk(rawDefault)
	}
	if notNull {
		attrs[schema.AttrNotNull] = "true"
	}

	return &schema.Statement{
		ID:    schema.StatementID{Schema: tableID.Schema, Name: tableID.Name, Sub: def.Colname, Kind: schema.KindColumn},
		Attrs: attrs,
		Deps:  c.references(&relationRef{schema: tableID.Schema, name: tableID.Name}),
	}, constraints, nil
}

// identityKind spells out pg_attribute.attidentity.
func identityKind(when string) string {
	if when == "d" {
		return "by default"
	}
	return "always"
}

func (p *stmtParser) constraint(tableID schema.StatementID, c pendingConstraint) error {
	con := c.constraint
	keys := c.keys()
	name := con.Conname
	if name == "" {
		name = constraintName(tableID.Name, con.Contype, keys)
	}

	deps := &collector{}
	for _, key := range keys {
		deps.columns = append(deps.columns, []string{key})
	}

	var def string
	switch con.Contype {
	case pgquery.ConstrType_CONSTR_PRIMARY:
		def = "PRIMARY KEY (" + columnList(keys) + ")"
	case pgquery.ConstrType_CONSTR_UNIQUE:
		def = "UNIQUE (" + columnList(keys) + ")"
	case pgquery.ConstrType_CONSTR_CHECK:
		expr, err := deparseExpr(con.RawExpr)
		if err != nil {
			return err
		}
		def = "CHECK (" + expr + ")"
		if con.IsNoInherit {
			def += " NO INHERIT"
		}
		deps.walk(con.RawExpr)
	case pgquery.ConstrType_CONSTR_FOREIGN:
		refSchema, refTable := relationName(con.Pktable)
		def = fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s.%s", columnList(keys), quote(refSchema), quote(refTable))
		refColumns := stringValues(con.PkAttrs)
		if len(refColumns) > 0 {
			def += " (" + columnList(refColumns) + ")"
		}
		def += referentialAction(" ON UPDATE ", con.FkUpdAction) + referentialAction(" ON DELETE ", con.FkDelAction)
		deps.refs = append(deps.refs, schema.ObjectReference{Schema: refSchema, Name: refTable, Kind: database.Relation})
		for _, col := range refColumns {
			deps.refs = append(deps.refs, schema.ObjectReference{Schema: refSchema, Name: refTable, Column: col, Kind: schema.KindColumn})
		}
	default:
		return fmt.Errorf("unsupported constraint %s on %s", con.Contype, tableID)
	}
	if con.Deferrable {
		def += " DEFERRABLE"
	}
	if con.Initdeferred {
		def += " INITIALLY DEFERRED"
	}

	p.add(&schema.Statement{
		ID:         schema.StatementID{Schema: tableID.Schema, Name: tableID.Name, Sub: name, Kind: schema.KindConstraint},
		Definition: def,
		Deps:       deps.references(&relationRef{schema: tableID.Schema, name: tableID.Name}),
	})
	return nil
}

// constraintName picks the name PostgreSQL gives an unnamed constraint.
func constraintName(table string, contype pgquery.ConstrType, keys []string) string {
	switch contype {
	case pgquery.ConstrType_CONSTR_PRIMARY:
		return table + "_pkey"
	case pgquery.ConstrType_CONSTR_UNIQUE:
		return util.BuildPostgresConstraintName(table, strings.Join(keys, "_"), "key")
	case pgquery.ConstrType_CONSTR_FOREIGN:
		return util.BuildPostgresConstraintName(table, strings.Join(keys, "_"), "fkey")
	default:
		if len(keys) == 1 {
			return util.BuildPostgresConstraintName(table, keys[0], "check")
		}
		return table + "_check"
	}
}

func referentialAction(prefix, action string) string {
	switch action {
	case "r":
		return prefix + "RESTRICT"
	case "c":
		return prefix + "CASCADE"
	case "n":
		return prefix + "SET NULL"
	case "d":
		return prefix + "SET DEFAULT"
	}
	return ""
}

func (p *stmtParser) createView(node *pgquery.Node, stmt *pgquery.ViewStmt) error {
	schemaName, name := relationName(stmt.View)
	stmt.View.Schemaname = schemaName
	stmt.Replace = false
	c := &collector{}
	c.walk(stmt.Query)
	return p.addDeparsed(node, schema.StatementID{Schema: schemaName, Name: name, Kind: schema.KindView}, c.references(nil))
}

func (p *stmtParser) createMaterializedView(node *pgquery.Node, stmt *pgquery.CreateTableAsStmt) error {
	if stmt.Relkind != pgquery.ObjectType_OBJECT_MATVIEW || stmt.Into == nil {
		return fmt.Errorf("CREATE TABLE AS is not supported")
	}
	schemaName, name := relationName(stmt.Into.Rel)
	stmt.Into.Rel.Schemaname = schemaName
	stmt.IfNotExists = false
	c := &collector{}
	c.walk(stmt.Query)
	return p.addDeparsed(node, schema.StatementID{Schema: schemaName, Name: name, Kind: schema.KindView}, c.references(nil))
}

func (p *stmtParser) createIndex(node *pgquery.Node, stmt *pgquery.IndexStmt) error {
	schemaName, table := relationName(stmt.Relation)
	stmt.Relation.Schemaname = schemaName
	stmt.Concurrent = false
	stmt.IfNotExists = false

	c := &collector{}
	var columnNames []string
	for _, param := range append(stmt.IndexParams, stmt.IndexIncludingParams...) {
		elem := param.GetIndexElem()
		if elem == nil {
			continue
		}
		if elem.Name != "" {
			c.columns = append(c.columns, []string{elem.Name})
			columnNames = append(columnNames, elem.Name)
			continue
		}
		c.walk(elem.Expr)
		columnNames = append(columnNames, expressionName(elem.Expr))
	}
	c.walk(stmt.WhereClause)

	if stmt.Idxname == "" {
		stmt.Idxname = util.BuildPostgresConstraintName(table, strings.Join(columnNames, "_"), "idx")
	}
	id := schema.StatementID{Schema: schemaName, Name: table, Sub: stmt.Idxname, Kind: schema.KindIndex}
	return p.addDeparsed(node, id, c.references(&relationRef{schema: schemaName, name: table}))
}

// expressionName is the column name PostgreSQL derives from an index expression.
func expressionName(expr *pgquery.Node) string {
	if call := expr.GetFuncCall(); call != nil {
		if names := stringValues(call.Funcname); len(names) > 0 {
			return names[len(names)-1]
		}
	}
	return "expr"
}

func (p *stmtParser) createFunction(node *pgquery.Node, stmt *pgquery.CreateFunctionStmt) error {
	schemaName, name := qualify(stringValues(stmt.Funcname))
	stmt.Funcname = stringNodes(schemaName, name)
	stmt.Replace = false

	kind := schema.KindFunction
	if stmt.IsProcedure {
		kind = schema.KindProcedure
	}

	c := &collector{}
	c.walkAll(stmt.Parameters)
	var returns string
	if stmt.ReturnType != nil {
		returns = c.typeName(stmt.ReturnType)
	}

	var body, language string
	for _, option := range stmt.Options {
		elem := option.GetDefElem()
		if elem == nil {
			continue
		}
		switch elem.Defname {
		case "as":
			if list := elem.Arg.GetList(); list != nil {
				if values := stringValues(list.Items); len(values) > 0 {
					body = values[0]
				}
			}
		case "language":
			if s := elem.Arg.GetString_(); s != nil {
				language = s.Str
			}
		}
	}

	deps := c.references(nil)
	if body != "" {
		bodyDeps, err := bodyReferences(body, language)
		if err != nil {
			return fmt.Errorf("body of %s.%s: %w", schemaName, name, err)
		}
		deps = append(deps, bodyDeps...)
	}

	def, err := deparse(node)
	if err != nil {
		return err
	}
	stmtOut := &schema.Statement{
		ID:         schema.StatementID{Schema: schemaName, Name: name, Kind: kind},
		Definition: def,
		Deps:       deps,
	}
	if returns != "" {
		stmtOut.Attrs = map[string]string{schema.AttrReturns: returns}
	}
	p.add(stmtOut)
	return nil
}

// bodyReferences analyses a function body. SQL bodies are parsed; procedural ones
// are scanned for names.
func bodyReferences(body, language string) ([]schema.ObjectReference, error) {
	if strings.EqualFold(language, "sql") {
		if result, err := pgquery.Parse(body); err == nil {
			c := &collector{}
			for _, raw := range result.Stmts {
				c.walk(raw.Stmt)
			}
			return c.references(nil), nil
		}
	}
	return database.BodyReferences(body, parser.ParserModePostgres)
}

func (p *stmtParser) createTrigger(node *pgquery.Node, stmt *pgquery.CreateTrigStmt) error {
	schemaName, table := relationName(stmt.Relation)
	stmt.Relation.Schemaname = schemaName

	c := &collector{}
	c.walk(stmt.WhenClause)
	funcSchema, funcName := qualify(stringValues(stmt.Funcname))
	c.refs = append(c.refs, schema.ObjectReference{Schema: funcSchema, Name: funcName, Kind: schema.KindFunction})

	id := schema.StatementID{Schema: schemaName, Name: table, Sub: stmt.Trigname, Kind: schema.KindTrigger}
	return p.addDeparsed(node, id, c.references(&relationRef{schema: schemaName, name: table}))
}

func (p *stmtParser) alterTable(stmt *pgquery.AlterTableStmt) error {
	schemaName, name := relationName(stmt.Relation)
	kind := schema.KindTable
	switch stmt.Relkind {
	case pgquery.ObjectType_OBJECT_VIEW, pgquery.ObjectType_OBJECT_MATVIEW:
		kind = schema.KindView
	case pgquery.ObjectType_OBJECT_SEQUENCE:
		kind = schema.KindSequence
	}
	id := schema.StatementID{Schema: schemaName, Name: name, Kind: kind}

	for _, node := range stmt.Cmds {
		cmd := node.GetAlterTableCmd()
		if cmd == nil {
			continue
		}
		switch cmd.Subtype {
		case pgquery.AlterTableType_AT_AddConstraint:
			constraint := cmd.Def.GetConstraint()
			if constraint == nil {
				return fmt.Errorf("ADD CONSTRAINT without a constraint on %s", id)
			}
			if err := p.constraint(id, pendingConstraint{constraint: constraint}); err != nil {
				return err
			}
		case pgquery.AlterTableType_AT_ChangeOwner:
			owner := roleName(cmd.Newowner)
			p.patch(&database.Patch{Target: id, Owner: &owner})
		default:
			return fmt.Errorf("unsupported ALTER TABLE command %s on %s", cmd.Subtype, id)
		}
	}
	return nil
}

func (p *stmtParser) grant(stmt *pgquery.GrantStmt) error {
	if stmt.Targtype != pgquery.GrantTargetType_ACL_TARGET_OBJECT {
		return fmt.Errorf("GRANT ON ALL ... IN SCHEMA is not supported")
	}

	type columnPrivilege struct {
		column    string
		privilege string
	}
	var privileges []columnPrivilege
	if len(stmt.Privileges) == 0 {
		privileges = append(privileges, columnPrivilege{privilege: "ALL"})
	}
	for _, node := range stmt.Privileges {
		priv := node.GetAccessPriv()
		if priv == nil {
			continue
		}
		name := strings.ToUpper(priv.PrivName)
		if name == "" {
			name = "ALL"
		}
		cols := stringValues(priv.Cols)
		if len(cols) == 0 {
			privileges = append(privileges, columnPrivilege{privilege: name})
		}
		for _, col := range cols {
			privileges = append(privileges, columnPrivilege{column: col, privilege: name})
		}
	}

	for _, object := range stmt.Objects {
		target, err := objectTarget(stmt.Objtype, object)
		if err != nil {
			return err
		}
		for _, cp := range privileges {
			id := target
			if cp.column != "" {
				id = schema.StatementID{Schema: target.Schema, Name: target.Name, Sub: cp.column, Kind: schema.KindColumn}
			}
			patch := &database.Patch{Target: id}
			for _, grantee := range stmt.Grantees {
				priv := schema.Privilege{Role: roleName(grantee.GetRoleSpec()), Privilege: cp.privilege, Grantable: stmt.GrantOption}
				if stmt.IsGrant {
					patch.Grant = append(patch.Grant, priv)
				} else {
					priv.Grantable = false
					patch.Revoke = append(patch.Revoke, priv)
				}
			}
			p.patch(patch)
		}
	}
	return nil
}

var objectKinds = map[pgquery.ObjectType]schema.ObjectKind{
	pgquery.ObjectType_OBJECT_SCHEMA:        schema.KindSchema,
	pgquery.ObjectType_OBJECT_EXTENSION:     schema.KindExtension,
	pgquery.ObjectType_OBJECT_TABLE:         schema.KindTable,
	pgquery.ObjectType_OBJECT_FOREIGN_TABLE: schema.KindTable,
	pgquery.ObjectType_OBJECT_VIEW:          schema.KindView,
	pgquery.ObjectType_OBJECT_MATVIEW:       schema.KindView,
	pgquery.ObjectType_OBJECT_SEQUENCE:      schema.KindSequence,
	pgquery.ObjectType_OBJECT_COLUMN:        schema.KindColumn,
	pgquery.ObjectType_OBJECT_FUNCTION:      schema.KindFunction,
	pgquery.ObjectType_OBJECT_PROCEDURE:     schema.KindProcedure,
	pgquery.ObjectType_OBJECT_AGGREGATE:     schema.KindAggregate,
	pgquery.ObjectType_OBJECT_TYPE:          schema.KindType,
	pgquery.ObjectType_OBJECT_DOMAIN:        schema.KindDomain,
	pgquery.ObjectType_OBJECT_TRIGGER:       schema.KindTrigger,
	pgquery.ObjectType_OBJECT_TABCONSTRAINT: schema.KindConstraint,
	pgquery.ObjectType_OBJECT_POLICY:        schema.KindPolicy,
	pgquery.ObjectType_OBJECT_RULE:          schema.KindRule,
}

// objectTarget maps the object of COMMENT ON, ALTER ... OWNER TO and GRANT to its identity.
func objectTarget(objtype pgquery.ObjectType, object *pgquery.Node) (schema.StatementID, error) {
	kind, ok := objectKinds[objtype]
	if !ok {
		return schema.StatementID{}, fmt.Errorf("unsupported object type %s", objtype)
	}
	names := objectNames(object)
	if len(names) == 0 {
		return schema.StatementID{}, fmt.Errorf("missing object name for %s", kind)
	}

	switch {
	case kind == schema.KindSchema || kind == schema.KindExtension:
		return schema.StatementID{Name: names[len(names)-1], Kind: kind}, nil
	case kind.SubElement():
		if len(names) < 2 {
			return schema.StatementID{}, fmt.Errorf("%s name %q is not qualified by its table", kind, names[0])
		}
		schemaName, table := qualify(names[:len(names)-1])
		return schema.StatementID{Schema: schemaName, Name: table, Sub: names[len(names)-1], Kind: kind}, nil
	}
	schemaName, name := qualify(names)
	return schema.StatementID{Schema: schemaName, Name: name, Kind: kind}, nil
}

func objectNames(node *pgquery.Node) []string {
	if node == nil {
		return nil
	}
	switch n := node.Node.(type) {
	case *pgquery.Node_String_:
		return []string{n.String_.Str}
	case *pgquery.Node_List:
		return stringValues(n.List.Items)
	case *pgquery.Node_TypeName:
		return stringValues(n.TypeName.Names)
	case *pgquery.Node_ObjectWithArgs:
		return stringValues(n.ObjectWithArgs.Objname)
	case *pgquery.Node_RangeVar:
		schemaName, name := relationName(n.RangeVar)
		return []string{schemaName, name}
	}
	return nil
}

func roleName(role *pgquery.RoleSpec) string {
	if role == nil {
		return ""
	}
	switch role.Roletype {
	case pgquery.RoleSpecType_ROLESPEC_CSTRING:
		return role.Rolename
	case pgquery.RoleSpecType_ROLESPEC_PUBLIC:
		return "PUBLIC"
	}
	return strings.TrimPrefix(role.Roletype.String(), "ROLESPEC_")
}

func relationName(rv *pgquery.RangeVar) (string, string) {
	if rv.Schemaname == "" {
		return defaultSchema, rv.Relname
	}
	return rv.Schemaname, rv.Relname
}

// qualify splits a possibly qualified name into schema and name.
func qualify(names []string) (string, string) {
	switch len(names) {
	case 0:
		return "", ""
	case 1:
		return defaultSchema, names[0]
	}
	return names[len(names)-2], names[len(names)-1]
}

func stringValues(nodes []*pgquery.Node) []string {
	var values []string
	for _, node := range nodes {
		if s := node.GetString_(); s != nil {
			values = append(values, s.Str)
		}
	}
	return values
}

func stringNodes(values ...string) []*pgquery.Node {
	nodes := make([]*pgquery.Node, 0, len(values))
	for _, v := range values {
		nodes = append(nodes, &pgquery.Node{Node: &pgquery.Node_String_{String_: &pgquery.String{Str: v}}})
	}
	return nodes
}

func quote(name string) string {
	return printer.QuoteIdentifier(schema.DialectPostgres, name)
}

func columnList(columns []string) string {
	return strings.Join(util.TransformSlice(columns, quote), ", ")
}

func deparse(node *pgquery.Node) (string, error) {
	return pgquery.Deparse(&pgquery.ParseResult{Stmts: []*pgquery.RawStmt{{Stmt: node}}})
}

// deparseExpr renders an expression through a synthetic SELECT.
func deparseExpr(expr *pgquery.Node) (string, error) {
	sel := &pgquery.Node{Node: &pgquery.Node_SelectStmt{SelectStmt: &pgquery.SelectStmt{
		TargetList: []*pgquery.Node{{Node: &pgquery.Node_ResTarget{ResTarget: &pgquery.ResTarget{Val: expr}}}},
		Op:         pgquery.SetOperation_SETOP_NONE,
	}}}
	s, err := deparse(sel)
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(s, "SELECT "), nil
}

// unwrapConstCast drops a cast of a literal, which the catalog adds to defaults
// ('x'::text) and files usually omit.
func unwrapConstCast(expr *pgquery.Node) *pgquery.Node {
	if cast := expr.GetTypeCast(); cast != nil && cast.Arg.GetAConst() != nil {
		return cast.Arg
	}
	return expr
}
