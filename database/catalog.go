package database

import (
	"fmt"
	"strings"

	"github.com/sqldef/schemadiff/parser"
	"github.com/sqldef/schemadiff/schema"
	"github.com/sqldef/schemadiff/util"
)

// Column is a column as catalog readers see it.
type Column struct {
	Name    string
	Type    string
	Default string
	NotNull bool
}

// NewModel assembles objects read from a catalog and resolves their references.
func NewModel(name string, dialect schema.Dialect, parsed []Parsed) (*schema.Database, error) {
	db := schema.NewDatabase(name, dialect)
	if err := Assemble(db, parsed); err != nil {
		return nil, err
	}
	ResolveReferences(db, DefaultSchema(dialect, name))
	return db, nil
}

// TableObjects returns a table and its columns in ordinal order.
func TableObjects(schemaName, table string, columns []Column) []Parsed {
	parsed := []Parsed{{Statement: &schema.Statement{
		ID: schema.StatementID{Schema: schemaName, Name: table, Kind: schema.KindTable},
	}}}
	for _, col := range columns {
		attrs := map[string]string{schema.AttrType: col.Type}
		if col.Default != "" {
			attrs[schema.AttrDefault] = col.Default
		}
		if col.NotNull {
			attrs[schema.AttrNotNull] = "true"
		}
		parsed = append(parsed, Parsed{Statement: &schema.Statement{
			ID:    schema.StatementID{Schema: schemaName, Name: table, Sub: col.Name, Kind: schema.KindColumn},
			Attrs: attrs,
		}})
	}
	return parsed
}

// SubObject returns an index or constraint of table that depends on the named columns.
func SubObject(kind schema.ObjectKind, schemaName, table, name, definition string, columns []string) Parsed {
	stmt := &schema.Statement{
		ID:         schema.StatementID{Schema: schemaName, Name: table, Sub: name, Kind: kind},
		Definition: definition,
	}
	for _, col := range columns {
		stmt.Deps = append(stmt.Deps, schema.ObjectReference{Schema: schemaName, Name: table, Column: col, Kind: schema.KindColumn})
	}
	return Parsed{Statement: stmt}
}

// ForeignKey is a foreign key constraint read from a catalog.
type ForeignKey struct {
	Name      string
	Columns   []string
	RefSchema string
	RefTable  string
	RefCols   []string
	OnUpdate  string
	OnDelete  string
}

// Definition renders the constraint body. Actions equal to the default NO ACTION are left out.
func (fk ForeignKey) Definition(quote func(string) string) string {
	def := fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s.%s (%s)",
		joinQuoted(fk.Columns, quote), quote(fk.RefSchema), quote(fk.RefTable), joinQuoted(fk.RefCols, quote))
	if action := strings.ToUpper(fk.OnUpdate); action != "" && action != "NO ACTION" {
		def += " ON UPDATE " + action
	}
	if action := strings.ToUpper(fk.OnDelete); action != "" && action != "NO ACTION" {
		def += " ON DELETE " + action
	}
	return def
}

// Object returns the constraint with dependencies on both tables' key columns.
func (fk ForeignKey) Object(schemaName, table string, quote func(string) string) Parsed {
	parsed := SubObject(schema.KindConstraint, schemaName, table, fk.Name, fk.Definition(quote), fk.Columns)
	stmt := parsed.Statement
	stmt.Deps = append(stmt.Deps, schema.ObjectReference{Schema: fk.RefSchema, Name: fk.RefTable, Kind: Relation})
	for _, col := range fk.RefCols {
		stmt.Deps = append(stmt.Deps, schema.ObjectReference{Schema: fk.RefSchema, Name: fk.RefTable, Column: col, Kind: schema.KindColumn})
	}
	return parsed
}

// BodyObject returns stmt with the dependencies found in body. A sub-element also
// depends on whatever of its own table the body names.
func BodyObject(stmt *schema.Statement, body string, mode parser.ParserMode) (Parsed, error) {
	deps, err := BodyReferences(body, mode)
	if err != nil {
		return Parsed{}, fmt.Errorf("body of %s: %w", stmt.ID, err)
	}
	if stmt.ID.Kind.SubElement() {
		names, _ := parser.Names(body, mode)
		for _, n := range names {
			if len(n.Parts) == 1 && !n.Call {
				deps = append(deps, schema.ObjectReference{Schema: stmt.ID.Schema, Name: stmt.ID.Name, Column: n.Parts[0], Kind: schema.KindColumn})
			}
		}
	}
	stmt.Deps = append(stmt.Deps, deps...)
	return Parsed{Statement: stmt}, nil
}

func joinQuoted(names []string, quote func(string) string) string {
	return strings.Join(util.TransformSlice(names, quote), ", ")
}
