// Package printer renders single actions as DDL for the supported dialects.
package printer

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/sqldef/schemadiff/depgraph"
	"github.com/sqldef/schemadiff/schema"
	"github.com/sqldef/schemadiff/script"
)

const indent = "    "

// movedSuffix is appended to the name of a table that is renamed aside to keep its
// rows while the table is recreated in data movement mode.
const movedSuffix = "_schemadiff_old"

var (
	createPrefix   = regexp.MustCompile(`(?i)^\s*CREATE\s+`)
	createFunction = regexp.MustCompile(`(?i)^\s*CREATE\s+(OR\s+REPLACE\s+)?`)

	materializedView = regexp.MustCompile(`(?i)^\s*CREATE\s+MATERIALIZED\s+VIEW\s`)
)

// Printer is the default statement printer. It renders from the statement's
// Definition where there is one and from templates otherwise.
type Printer struct{}

func New() *Printer {
	return &Printer{}
}

func (p *Printer) Print(action depgraph.ActionContainer, ctx script.PrintContext) ([]script.Statement, error) {
	r := &renderer{dialect: ctx.Settings.Dialect, ctx: ctx}
	switch action.Action {
	case depgraph.ActionDrop:
		r.drop(action.Object.Old)
	case depgraph.ActionCreate:
		r.create(action)
	case depgraph.ActionAlter:
		r.alter(action.Object.Old, action.Object.New)
	default:
		return nil, fmt.Errorf("unknown action %s", action.Action)
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.out, nil
}

type renderer struct {
	dialect schema.Dialect
	ctx     script.PrintContext
	out     []script.Statement
	err     error
}

func (r *renderer) emit(phase script.Phase, format string, args ...any) {
	r.out = append(r.out, script.Statement{Phase: phase, SQL: fmt.Sprintf(format, args...)})
}

func (r *renderer) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf(format, args...)
	}
}

func (r *renderer) quote(name string) string {
	return QuoteIdentifier(r.dialect, name)
}

// relation returns the quoted name of the object itself, or of the container of a
// sub-element.
func (r *renderer) relation(id schema.StatementID) string {
	if id.Schema == "" {
		return r.quote(id.Name)
	}
	return r.quote(id.Schema) + "." + r.quote(id.Name)
}

// name returns the quoted name an object is addressed by in DROP and ALTER.
func (r *renderer) name(id schema.StatementID) string {
	switch id.Kind {
	case schema.KindColumn:
		return r.relation(id) + "." + r.quote(id.Sub)
	case schema.KindIndex:
		if r.dialect == schema.DialectPostgres && id.Schema != "" {
			return r.quote(id.Schema) + "." + r.quote(id.Sub)
		}
		return r.quote(id.Sub)
	}
	if id.Kind.SubElement() {
		return r.quote(id.Sub)
	}
	return r.relation(id)
}

// databaseOf returns the database stmt was loaded into.
func (r *renderer) databaseOf(stmt *schema.Statement) *schema.Database {
	if r.ctx.New != nil {
		if twin, ok := r.ctx.New.Twin(stmt); ok && twin == stmt {
			return r.ctx.New
		}
	}
	return r.ctx.Old
}

func (r *renderer) drop(stmt *schema.Statement) {
	id := stmt.ID
	switch id.Kind {
	case schema.KindColumn:
		r.emit(script.PhaseMid, "ALTER TABLE %s DROP COLUMN %s", r.relation(id), r.quote(id.Sub))
	case schema.KindConstraint:
		r.emit(script.PhaseMid, "ALTER TABLE %s DROP CONSTRAINT %s", r.relation(id), r.quote(id.Sub))
	case schema.KindIndex:
		switch r.dialect {
		case schema.DialectMysql, schema.DialectMssql:
			r.emit(script.PhaseMid, "DROP INDEX %s ON %s", r.quote(id.Sub), r.relation(id))
		default:
			r.emit(script.PhaseMid, "DROP INDEX %s", r.name(id))
		}
	case schema.KindTrigger, schema.KindRule, schema.KindPolicy:
		if r.dialect == schema.DialectPostgres {
			r.emit(script.PhaseMid, "DROP %s %s ON %s", id.Kind, r.quote(id.Sub), r.relation(id))
		} else {
			r.emit(script.PhaseMid, "DROP %s %s", id.Kind, r.quote(id.Sub))
		}
	case schema.KindTable:
		if r.movesData(id) {
			r.moveAside(stmt)
			return
		}
		r.emit(script.PhaseMid, "DROP TABLE %s", r.name(id))
	case schema.KindView:
		if materializedView.MatchString(stmt.Definition) {
			r.emit(script.PhaseMid, "DROP MATERIALIZED VIEW %s", r.name(id))
		} else {
			r.emit(script.PhaseMid, "DROP VIEW %s", r.name(id))
		}
	default:
		r.emit(script.PhaseMid, "DROP %s %s", id.Kind, r.name(id))
	}
}

// movesData reports whether a recreated table keeps its rows.
func (r *renderer) movesData(id schema.StatementID) bool {
	return r.ctx.Settings.DataMovementMode && id.Kind == schema.KindTable &&
		r.ctx.New != nil && r.ctx.New.Contains(id)
}

func (r *renderer) movedName(id schema.StatementID) string {
	moved := id
	moved.Name += movedSuffix
	return r.relation(moved)
}

// moveAside renames the table out of the way. Its indexes and constraints are
// dropped first so that the recreated table can reuse their names.
func (r *renderer) moveAside(table *schema.Statement) {
	for child := range r.ctx.Old.Descendants(table) {
		if !child.Kind().InlineInParent() {
			r.drop(child)
		}
	}
	switch r.dialect {
	case schema.DialectMssql:
		r.emit(script.PhaseMid, "EXEC sp_rename %s, %s", StringConstant(table.ID.Qualified()), StringConstant(table.ID.Name+movedSuffix))
	default:
		r.emit(script.PhaseMid, "ALTER TABLE %s RENAME TO %s", r.relation(table.ID), r.quote(table.ID.Name+movedSuffix))
	}
}

func (r *renderer) create(action depgraph.ActionContainer) {
	stmt := action.Statement()
	id := stmt.ID
	db := r.databaseOf(stmt)

	switch id.Kind {
	case schema.KindColumn:
		keyword := "ADD COLUMN"
		if r.dialect == schema.DialectMssql {
			keyword = "ADD"
		}
		r.emit(script.PhaseMid, "ALTER TABLE %s %s %s", r.relation(id), keyword, r.columnDefinition(stmt))
	case schema.KindConstraint:
		r.emit(script.PhaseMid, "ALTER TABLE %s ADD CONSTRAINT %s %s", r.relation(id), r.quote(id.Sub), stmt.Definition)
	case schema.KindTable:
		if stmt.Definition != "" {
			r.emit(script.PhaseMid, "%s", stmt.Definition)
		} else {
			r.emit(script.PhaseMid, "%s", r.createTable(db, stmt))
		}
		if action.Object.Old != nil && r.movesData(id) {
			r.copyRows(action.Object.Old, stmt, db)
		}
	case schema.KindSchema:
		if stmt.Definition != "" {
			r.emit(script.PhaseMid, "%s", stmt.Definition)
		} else {
			r.emit(script.PhaseMid, "CREATE SCHEMA %s", r.quote(id.Name))
		}
	default:
		if stmt.Definition == "" {
			r.fail("%s has no definition", id)
			return
		}
		r.emit(script.PhaseMid, "%s", stmt.Definition)
	}

	if stmt.Owner != "" {
		r.owner(id, stmt.Owner)
	}
	if stmt.Comment != "" {
		r.comment(id, stmt.Comment)
	}
	if !r.ctx.Settings.IgnorePrivileges {
		for _, p := range stmt.Privileges {
			r.grant(id, p)
		}
	}
	if id.Kind == schema.KindTable && stmt.Definition == "" {
		for _, child := range db.Children(stmt) {
			if child.Kind() == schema.KindColumn && child.Comment != "" {
				r.comment(child.ID, child.Comment)
			}
		}
	}
}

func (r *renderer) createTable(db *schema.Database, table *schema.Statement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (", r.relation(table.ID))
	i := 0
	for _, child := range db.Children(table) {
		if child.Kind() != schema.KindColumn {
			continue
		}
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n" + indent + r.columnDefinition(child))
		i++
	}
	b.WriteString("\n)")
	return b.String()
}

func (r *renderer) columnDefinition(col *schema.Statement) string {
	def := r.quote(col.ID.Sub) + " " + col.Attr(schema.AttrType)
	if d := col.Attr(schema.AttrDefault); d != "" {
		def += " DEFAULT " + d
	}
	if g := col.Attr(schema.AttrGenerated); g != "" {
		def += " GENERATED ALWAYS AS (" + g + ") STORED"
	}
	if i := col.Attr(schema.AttrIdentity); i != "" {
		def += " GENERATED " + strings.ToUpper(i) + " AS IDENTITY"
	}
	if col.Attr(schema.AttrNotNull) == "true" {
		def += " NOT NULL"
	}
	return def
}

// copyRows fills the recreated table from the renamed one and drops the latter.
func (r *renderer) copyRows(old, new *schema.Statement, db *schema.Database) {
	inNew := map[string]bool{}
	for _, c := range db.Children(new) {
		if c.Kind() == schema.KindColumn {
			inNew[c.ID.Sub] = true
		}
	}
	var cols []string
	for _, c := range r.ctx.Old.Children(old) {
		if c.Kind() == schema.KindColumn && inNew[c.ID.Sub] {
			cols = append(cols, r.quote(c.ID.Sub))
		}
	}
	if len(cols) > 0 {
		list := strings.Join(cols, ", ")
		r.emit(script.PhaseMid, "INSERT INTO %s (%s) SELECT %s FROM %s", r.relation(new.ID), list, list, r.movedName(new.ID))
	}
	r.emit(script.PhaseMid, "DROP TABLE %s", r.movedName(new.ID))
}

func (r *renderer) alter(old, new *schema.Statement) {
	id := new.ID
	if old.Definition != new.Definition {
		r.alterDefinition(old, new)
	}

	if id.Kind == schema.KindColumn {
		r.alterColumn(old, new)
	} else if changed := schema.ChangedAttrs(old, new); len(changed) > 0 {
		r.fail("cannot alter %s of %s", strings.Join(changed, ", "), id)
	}

	if old.Owner != new.Owner && new.Owner != "" {
		r.owner(id, new.Owner)
	}
	if old.Comment != new.Comment {
		r.comment(id, new.Comment)
	}
	if !r.ctx.Settings.IgnorePrivileges {
		revoke, grant := schema.PrivilegeDelta(old.Privileges, new.Privileges)
		for _, p := range revoke {
			r.revoke(id, p)
		}
		for _, p := range grant {
			r.grant(id, p)
		}
	}
}

func (r *renderer) alterDefinition(old, new *schema.Statement) {
	switch new.Kind() {
	case schema.KindFunction, schema.KindProcedure, schema.KindAggregate, schema.KindOperator:
		switch r.dialect {
		case schema.DialectPostgres:
			r.emit(script.PhaseMid, "%s", createFunction.ReplaceAllString(new.Definition, "CREATE OR REPLACE "))
		case schema.DialectMssql:
			r.emit(script.PhaseMid, "%s", createFunction.ReplaceAllString(new.Definition, "CREATE OR ALTER "))
		default:
			r.drop(old)
			r.emit(script.PhaseMid, "%s", new.Definition)
		}
	case schema.KindSequence, schema.KindSchema, schema.KindRole, schema.KindUser, schema.KindServer, schema.KindUserMapping:
		if !createPrefix.MatchString(new.Definition) {
			r.fail("cannot derive ALTER for %s from its definition", new.ID)
			return
		}
		r.emit(script.PhaseMid, "%s", createPrefix.ReplaceAllString(new.Definition, "ALTER "))
	case schema.KindColumn:
	default:
		r.fail("%s cannot be altered in place", new.ID)
	}
}

func (r *renderer) alterColumn(old, new *schema.Statement) {
	id := new.ID
	table := r.relation(id)
	col := r.quote(id.Sub)
	changed := schema.ChangedAttrs(old, new)
	if len(changed) == 0 {
		return
	}

	switch r.dialect {
	case schema.DialectMysql:
		r.emit(script.PhaseMid, "ALTER TABLE %s MODIFY COLUMN %s", table, r.columnDefinition(new))
		return
	case schema.DialectSQLite3:
		r.fail("sqlite3 cannot alter column %s", id)
		return
	}

	for _, key := range changed {
		switch key {
		case schema.AttrType:
			if r.dialect == schema.DialectMssql {
				r.emit(script.PhaseMid, "ALTER TABLE %s ALTER COLUMN %s %s%s", table, col, new.Attr(schema.AttrType), r.mssqlNullability(new))
			} else {
				r.emit(script.PhaseMid, "ALTER TABLE %s ALTER COLUMN %s TYPE %s", table, col, new.Attr(schema.AttrType))
			}
		case schema.AttrDefault:
			if r.dialect == schema.DialectMssql {
				if d := new.Attr(schema.AttrDefault); d != "" {
					r.emit(script.PhaseMid, "ALTER TABLE %s ADD DEFAULT %s FOR %s", table, d, col)
				} else {
					r.fail("cannot drop the default of %s without its constraint name", id)
				}
			} else if d := new.Attr(schema.AttrDefault); d != "" {
				r.emit(script.PhaseMid, "ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s", table, col, d)
			} else {
				r.emit(script.PhaseMid, "ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", table, col)
			}
		case schema.AttrNotNull:
			if r.dialect == schema.DialectMssql {
				if !slices.Contains(changed, schema.AttrType) {
					r.emit(script.PhaseMid, "ALTER TABLE %s ALTER COLUMN %s %s%s", table, col, new.Attr(schema.AttrType), r.mssqlNullability(new))
				}
			} else if new.Attr(schema.AttrNotNull) == "true" {
				r.emit(script.PhaseMid, "ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", table, col)
			} else {
				r.emit(script.PhaseMid, "ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", table, col)
			}
		case schema.AttrIdentity:
			if r.dialect != schema.DialectPostgres {
				r.fail("cannot alter the identity of %s", id)
				break
			}
			switch i := strings.ToUpper(new.Attr(schema.AttrIdentity)); {
			case i == "":
				r.emit(script.PhaseMid, "ALTER TABLE %s ALTER COLUMN %s DROP IDENTITY", table, col)
			case old.Attr(schema.AttrIdentity) == "":
				r.emit(script.PhaseMid, "ALTER TABLE %s ALTER COLUMN %s ADD GENERATED %s AS IDENTITY", table, col, i)
			default:
				r.emit(script.PhaseMid, "ALTER TABLE %s ALTER COLUMN %s SET GENERATED %s", table, col, i)
			}
		case schema.AttrGenerated:
			switch g := new.Attr(schema.AttrGenerated); {
			case r.dialect != schema.DialectPostgres:
				r.fail("cannot alter the expression of %s", id)
			case g == "":
				r.emit(script.PhaseMid, "ALTER TABLE %s ALTER COLUMN %s DROP EXPRESSION", table, col)
			default:
				r.emit(script.PhaseMid, "ALTER TABLE %s ALTER COLUMN %s SET EXPRESSION AS (%s)", table, col, g)
			}
		default:
			r.fail("cannot alter %s of %s", key, id)
		}
	}
}

func (r *renderer) mssqlNullability(col *schema.Statement) string {
	if col.Attr(schema.AttrNotNull) == "true" {
		return " NOT NULL"
	}
	return " NULL"
}

func (r *renderer) owner(id schema.StatementID, owner string) {
	switch r.dialect {
	case schema.DialectPostgres:
		if id.Kind.SubElement() {
			return
		}
		r.emit(script.PhaseEnd, "ALTER %s %s OWNER TO %s", id.Kind, r.name(id), r.quote(owner))
	case schema.DialectMssql:
		if id.Kind == schema.KindSchema {
			r.emit(script.PhaseEnd, "ALTER AUTHORIZATION ON SCHEMA::%s TO %s", r.quote(id.Name), r.quote(owner))
		} else if !id.Kind.SubElement() {
			r.emit(script.PhaseEnd, "ALTER AUTHORIZATION ON OBJECT::%s TO %s", r.name(id), r.quote(owner))
		}
	default:
		r.fail("%s does not support owners (%s)", r.dialect, id)
	}
}

func (r *renderer) comment(id schema.StatementID, comment string) {
	value := "NULL"
	if comment != "" {
		value = StringConstant(comment)
	}

	switch r.dialect {
	case schema.DialectPostgres:
		var target string
		switch id.Kind {
		case schema.KindConstraint, schema.KindTrigger, schema.KindRule, schema.KindPolicy:
			target = fmt.Sprintf("%s %s ON %s", id.Kind, r.quote(id.Sub), r.relation(id))
		default:
			target = fmt.Sprintf("%s %s", id.Kind, r.name(id))
		}
		r.out = append(r.out, script.Statement{Phase: script.PhaseMid, SQL: "COMMENT ON " + target + " IS " + value, Comment: true})
	case schema.DialectMysql:
		if id.Kind != schema.KindTable {
			r.fail("mysql comments are only supported on tables (%s)", id)
			return
		}
		if comment == "" {
			value = "''"
		}
		r.out = append(r.out, script.Statement{Phase: script.PhaseMid, SQL: fmt.Sprintf("ALTER TABLE %s COMMENT = %s", r.relation(id), value), Comment: true})
	default:
		r.fail("%s does not support comments (%s)", r.dialect, id)
	}
}

// privilegeTarget returns the ON clause of GRANT and REVOKE and the optional column list.
func (r *renderer) privilegeTarget(id schema.StatementID) (string, string) {
	if r.dialect != schema.DialectPostgres {
		if id.Kind == schema.KindColumn {
			return r.relation(id), " (" + r.quote(id.Sub) + ")"
		}
		return r.name(id), ""
	}
	switch id.Kind {
	case schema.KindColumn:
		return "TABLE " + r.relation(id), " (" + r.quote(id.Sub) + ")"
	case schema.KindTable, schema.KindView:
		return "TABLE " + r.relation(id), ""
	default:
		return id.Kind.String() + " " + r.name(id), ""
	}
}

func (r *renderer) grant(id schema.StatementID, p schema.Privilege) {
	target, columns := r.privilegeTarget(id)
	sql := fmt.Sprintf("GRANT %s%s ON %s TO %s", p.Privilege, columns, target, r.grantee(p.Role))
	if p.Grantable {
		sql += " WITH GRANT OPTION"
	}
	r.emit(script.PhaseEnd, "%s", sql)
}

func (r *renderer) revoke(id schema.StatementID, p schema.Privilege) {
	target, columns := r.privilegeTarget(id)
	r.emit(script.PhaseEnd, "REVOKE %s%s ON %s FROM %s", p.Privilege, columns, target, r.grantee(p.Role))
}

func (r *renderer) grantee(role string) string {
	if strings.EqualFold(role, "PUBLIC") {
		return "PUBLIC"
	}
	return r.quote(role)
}
