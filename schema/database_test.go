package schema

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDatabase(t *testing.T) *Database {
	t.Helper()
	db := NewDatabase("old", DialectPostgres)
	s := db.MustAdd(NoHandle, &Statement{ID: StatementID{Name: "public", Kind: KindSchema}})
	tbl := db.MustAdd(s, &Statement{ID: StatementID{Schema: "public", Name: "t1", Kind: KindTable}})
	db.MustAdd(tbl, &Statement{ID: StatementID{Schema: "public", Name: "t1", Sub: "a", Kind: KindColumn}, Attrs: map[string]string{AttrType: "int"}})
	db.MustAdd(tbl, &Statement{ID: StatementID{Schema: "public", Name: "t1", Sub: "b", Kind: KindColumn}, Attrs: map[string]string{AttrType: "int"}})
	db.MustAdd(s, &Statement{
		ID:         StatementID{Schema: "public", Name: "v1", Kind: KindView},
		Definition: "CREATE VIEW public.v1 AS SELECT a FROM t1",
		Deps:       []ObjectReference{{Schema: "public", Name: "t1", Column: "a", Kind: KindColumn}},
	})
	return db
}

func ids(stmts []*Statement) []string {
	var out []string
	for _, s := range stmts {
		out = append(out, s.ID.String())
	}
	return out
}

func TestDatabaseAdd(t *testing.T) {
	db := sampleDatabase(t)
	assert.Equal(t, 5, db.Len())

	t.Run("duplicate identity", func(t *testing.T) {
		_, err := db.Add(NoHandle, &Statement{ID: StatementID{Name: "public", Kind: KindSchema}})
		assert.ErrorContains(t, err, "duplicate object SCHEMA public")
	})

	t.Run("parent kind is validated", func(t *testing.T) {
		view, _ := db.Lookup(StatementID{Schema: "public", Name: "v1", Kind: KindView})
		_, err := db.Add(view.Handle(), &Statement{ID: StatementID{Schema: "public", Name: "v1", Sub: "x", Kind: KindColumn}})
		assert.ErrorContains(t, err, "cannot be a child of VIEW")

		_, err = db.Add(NoHandle, &Statement{ID: StatementID{Schema: "public", Name: "t2", Kind: KindTable}})
		assert.ErrorContains(t, err, "cannot be a child of DATABASE")
	})

	t.Run("unknown parent", func(t *testing.T) {
		_, err := db.Add(Handle(42), &Statement{ID: StatementID{Name: "x", Kind: KindSchema}})
		assert.Error(t, err)
	})
}

func TestDatabaseNavigation(t *testing.T) {
	db := sampleDatabase(t)
	col, ok := db.Lookup(StatementID{Schema: "public", Name: "t1", Sub: "b", Kind: KindColumn})
	require.True(t, ok)

	table := db.Parent(col)
	require.NotNil(t, table)
	assert.Equal(t, KindTable, table.Kind())
	assert.Equal(t, []string{"COLUMN public.t1.a", "COLUMN public.t1.b"}, ids(db.Children(table)))
	assert.Equal(t, []string{"SCHEMA public"}, ids(db.TopLevel()))

	var ancestors []*Statement
	for a := range db.Ancestors(col) {
		ancestors = append(ancestors, a)
	}
	assert.Equal(t, []string{"TABLE public.t1", "SCHEMA public"}, ids(ancestors))

	schema := db.TopLevel()[0]
	assert.True(t, db.IsDescendant(col, schema))
	assert.False(t, db.IsDescendant(schema, col))
	assert.Equal(t, "public", db.TopLevelName(col))

	descendants := slices.Collect(db.Descendants(schema))
	assert.Equal(t, []string{"TABLE public.t1", "COLUMN public.t1.a", "COLUMN public.t1.b", "VIEW public.v1"}, ids(descendants))
}

func TestDatabaseTwin(t *testing.T) {
	old := sampleDatabase(t)
	new := old.Clone()

	view, _ := old.Lookup(StatementID{Schema: "public", Name: "v1", Kind: KindView})
	twin, ok := new.Twin(view)
	require.True(t, ok)
	assert.NotSame(t, view, twin)
	assert.Equal(t, view.Definition, twin.Definition)

	_, ok = new.Twin(&Statement{ID: StatementID{Schema: "public", Name: "v2", Kind: KindView}})
	assert.False(t, ok)
}

func TestDatabaseCloneIsDeep(t *testing.T) {
	old := sampleDatabase(t)
	clone := old.Clone()

	col, _ := clone.Lookup(StatementID{Schema: "public", Name: "t1", Sub: "b", Kind: KindColumn})
	col.Attrs[AttrType] = "bigint"

	orig, _ := old.Lookup(col.ID)
	assert.Equal(t, "int", orig.Attr(AttrType))
	assert.Equal(t, old.Len(), clone.Len())
}

func TestDatabaseRemove(t *testing.T) {
	db := sampleDatabase(t)
	assert.True(t, db.Remove(StatementID{Schema: "public", Name: "t1", Kind: KindTable}))
	assert.False(t, db.Remove(StatementID{Schema: "public", Name: "t1", Kind: KindTable}))

	assert.Equal(t, 2, db.Len())
	assert.False(t, db.Contains(StatementID{Schema: "public", Name: "t1", Sub: "a", Kind: KindColumn}))
	assert.Equal(t, []string{"SCHEMA public", "VIEW public.v1"}, ids(slices.Collect(db.All())))

	schema := db.TopLevel()[0]
	assert.Equal(t, []string{"VIEW public.v1"}, ids(db.Children(schema)))

	// the identity can be reused after removal
	_, err := db.Add(schema.Handle(), &Statement{ID: StatementID{Schema: "public", Name: "t1", Kind: KindTable}})
	assert.NoError(t, err)
}

func TestStatementReferences(t *testing.T) {
	db := sampleDatabase(t)
	view, _ := db.Lookup(StatementID{Schema: "public", Name: "v1", Kind: KindView})
	assert.True(t, view.References(StatementID{Schema: "public", Name: "t1", Sub: "a", Kind: KindColumn}))
	assert.False(t, view.References(StatementID{Schema: "public", Name: "t1", Kind: KindTable}))
}
