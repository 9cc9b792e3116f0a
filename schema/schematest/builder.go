// Package schematest builds small object-model fixtures for tests.
package schematest

import (
	"fmt"

	"github.com/sqldef/schemadiff/schema"
)

type Builder struct {
	DB *schema.Database
}

func New(name string, dialect schema.Dialect) *Builder {
	return &Builder{DB: schema.NewDatabase(name, dialect)}
}

// Col describes a table column.
type Col struct {
	Name    string
	Type    string
	Default string
	NotNull bool
}

func C(name, typ string) Col {
	return Col{Name: name, Type: typ}
}

func SchemaID(name string) schema.StatementID {
	return schema.StatementID{Name: name, Kind: schema.KindSchema}
}

func TableID(schemaName, name string) schema.StatementID {
	return schema.StatementID{Schema: schemaName, Name: name, Kind: schema.KindTable}
}

func ViewID(schemaName, name string) schema.StatementID {
	return schema.StatementID{Schema: schemaName, Name: name, Kind: schema.KindView}
}

func FunctionID(schemaName, name string) schema.StatementID {
	return schema.StatementID{Schema: schemaName, Name: name, Kind: schema.KindFunction}
}

func ColumnID(schemaName, table, column string) schema.StatementID {
	return schema.StatementID{Schema: schemaName, Name: table, Sub: column, Kind: schema.KindColumn}
}

func SubID(kind schema.ObjectKind, schemaName, table, name string) schema.StatementID {
	return schema.StatementID{Schema: schemaName, Name: table, Sub: name, Kind: kind}
}

// Ref references a whole object.
func Ref(schemaName, name string, kind schema.ObjectKind) schema.ObjectReference {
	return schema.ObjectReference{Schema: schemaName, Name: name, Kind: kind}
}

// ColRef references one column of a relation.
func ColRef(schemaName, table, column string) schema.ObjectReference {
	return schema.ObjectReference{Schema: schemaName, Name: table, Column: column, Kind: schema.KindColumn}
}

func (b *Builder) handle(id schema.StatementID) schema.Handle {
	stmt, ok := b.DB.Lookup(id)
	if !ok {
		panic(fmt.Sprintf("schematest: %s is not defined", id))
	}
	return stmt.Handle()
}

// Schema adds a schema unless it already exists.
func (b *Builder) Schema(name string) *Builder {
	if !b.DB.Contains(SchemaID(name)) {
		b.DB.MustAdd(schema.NoHandle, &schema.Statement{ID: SchemaID(name), Definition: "CREATE SCHEMA " + name})
	}
	return b
}

func (b *Builder) Table(schemaName, name string, cols ...Col) *Builder {
	b.Schema(schemaName)
	h := b.DB.MustAdd(b.handle(SchemaID(schemaName)), &schema.Statement{ID: TableID(schemaName, name)})
	for _, c := range cols {
		attrs := map[string]string{schema.AttrType: c.Type}
		if c.Default != "" {
			attrs[schema.AttrDefault] = c.Default
		}
		if c.NotNull {
			attrs[schema.AttrNotNull] = "true"
		}
		b.DB.MustAdd(h, &schema.Statement{ID: ColumnID(schemaName, name, c.Name), Attrs: attrs})
	}
	return b
}

func (b *Builder) View(schemaName, name, query string, deps ...schema.ObjectReference) *Builder {
	b.Schema(schemaName)
	b.DB.MustAdd(b.handle(SchemaID(schemaName)), &schema.Statement{
		ID:         ViewID(schemaName, name),
		Definition: fmt.Sprintf("CREATE VIEW %s.%s AS %s", schemaName, name, query),
		Deps:       deps,
	})
	return b
}

func (b *Builder) Function(schemaName, name, returns, body string, deps ...schema.ObjectReference) *Builder {
	b.Schema(schemaName)
	b.DB.MustAdd(b.handle(SchemaID(schemaName)), &schema.Statement{
		ID: FunctionID(schemaName, name),
		Definition: fmt.Sprintf("CREATE FUNCTION %s.%s RETURNS %s LANGUAGE sql AS $$%s$$",
			schemaName, name, returns, body),
		Attrs: map[string]string{schema.AttrReturns: returns},
		Deps:  deps,
	})
	return b
}

func (b *Builder) Sequence(schemaName, name string) *Builder {
	b.Schema(schemaName)
	b.DB.MustAdd(b.handle(SchemaID(schemaName)), &schema.Statement{
		ID:         schema.StatementID{Schema: schemaName, Name: name, Kind: schema.KindSequence},
		Definition: fmt.Sprintf("CREATE SEQUENCE %s.%s", schemaName, name),
	})
	return b
}

// Index adds an index on table; def is the complete CREATE INDEX statement.
func (b *Builder) Index(schemaName, table, name, def string, deps ...schema.ObjectReference) *Builder {
	b.DB.MustAdd(b.handle(TableID(schemaName, table)), &schema.Statement{
		ID:         SubID(schema.KindIndex, schemaName, table, name),
		Definition: def,
		Deps:       deps,
	})
	return b
}

// Constraint adds a table constraint; def is the text after ADD CONSTRAINT name.
func (b *Builder) Constraint(schemaName, table, name, def string, deps ...schema.ObjectReference) *Builder {
	b.DB.MustAdd(b.handle(TableID(schemaName, table)), &schema.Statement{
		ID:         SubID(schema.KindConstraint, schemaName, table, name),
		Definition: def,
		Deps:       deps,
	})
	return b
}

// Add inserts an arbitrary statement under parent, or at the top level when parent is nil.
func (b *Builder) Add(parent *schema.StatementID, stmt *schema.Statement) *Builder {
	h := schema.NoHandle
	if parent != nil {
		h = b.handle(*parent)
	}
	b.DB.MustAdd(h, stmt)
	return b
}

// Modify changes a statement that was already added.
func (b *Builder) Modify(id schema.StatementID, f func(*schema.Statement)) *Builder {
	stmt, ok := b.DB.Lookup(id)
	if !ok {
		panic(fmt.Sprintf("schematest: %s is not defined", id))
	}
	f(stmt)
	return b
}

func (b *Builder) Build() *schema.Database {
	return b.DB
}
