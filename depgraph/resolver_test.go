package depgraph_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqldef/schemadiff/depgraph"
	"github.com/sqldef/schemadiff/schema"
	"github.com/sqldef/schemadiff/schema/schematest"
)

const public = "public"

func selection(old, new *schema.Database, ids ...schema.StatementID) []depgraph.DbObject {
	var objects []depgraph.DbObject
	for _, id := range ids {
		var obj depgraph.DbObject
		if s, ok := old.Lookup(id); ok {
			obj.Old = s
		}
		if s, ok := new.Lookup(id); ok {
			obj.New = s
		}
		objects = append(objects, obj)
	}
	return objects
}

func actions(result *depgraph.Result) []string {
	var out []string
	for _, a := range result.Actions {
		out = append(out, a.String())
	}
	return out
}

func refreshed(result *depgraph.Result) []string {
	var out []string
	for id := range result.ToRefresh {
		out = append(out, id.String())
	}
	slices.Sort(out)
	return out
}

func index(t *testing.T, result *depgraph.Result, action string) int {
	t.Helper()
	i := slices.Index(actions(result), action)
	require.GreaterOrEqual(t, i, 0, "missing action %q in %v", action, actions(result))
	return i
}

func TestResolveColumnTypeChangeRefreshesView(t *testing.T) {
	view := func(b *schematest.Builder) *schematest.Builder {
		return b.View(public, "v1", "SELECT a FROM public.t1",
			schematest.Ref(public, "t1", schema.KindTable),
			schematest.ColRef(public, "t1", "a"),
		)
	}
	old := view(schematest.New("old", schema.DialectPostgres).
		Table(public, "t1", schematest.C("a", "int"), schematest.C("b", "int"))).Build()
	new := view(schematest.New("new", schema.DialectPostgres).
		Table(public, "t1", schematest.C("a", "int"), schematest.C("b", "bigint"))).Build()

	result, err := depgraph.Resolve(old, new, nil, nil,
		selection(old, new, schematest.ColumnID(public, "t1", "b")), schema.Settings{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"DROP VIEW public.v1 (refresh)",
		"ALTER COLUMN public.t1.b",
		"CREATE VIEW public.v1 (refresh)",
	}, actions(result))
	assert.Equal(t, []string{"VIEW public.v1"}, refreshed(result))

	// the refresh recreates the definition the view already has
	created := result.Actions[2]
	assert.Equal(t, "CREATE VIEW public.v1 AS SELECT a FROM public.t1", created.Statement().Definition)
}

func TestResolveDropCascadesToDependents(t *testing.T) {
	old := schematest.New("old", schema.DialectPostgres).
		Table(public, "t1", schematest.C("a", "int")).
		View(public, "v1", "SELECT a FROM public.t1", schematest.ColRef(public, "t1", "a")).
		View(public, "v2", "SELECT a FROM public.v1", schematest.Ref(public, "v1", schema.KindView)).
		Build()
	new := schematest.New("new", schema.DialectPostgres).Schema(public).Build()

	result, err := depgraph.Resolve(old, new, nil, nil,
		selection(old, new, schematest.TableID(public, "t1")), schema.Settings{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"DROP VIEW public.v2",
		"DROP VIEW public.v1",
		"DROP TABLE public.t1",
	}, actions(result))
	assert.Empty(t, result.ToRefresh)
	assert.Len(t, result.Cascaded, 2)
}

func TestResolveRecreatedTable(t *testing.T) {
	old := schematest.New("old", schema.DialectPostgres).
		Table(public, "t", schematest.C("a", "int"), schematest.C("b", "int")).
		Index(public, "t", "t_a_idx", "CREATE INDEX t_a_idx ON public.t (a)", schematest.ColRef(public, "t", "a")).
		View(public, "v", "SELECT a FROM public.t", schematest.ColRef(public, "t", "a")).
		Build()
	new := schematest.New("new", schema.DialectPostgres).
		Table(public, "t", schematest.C("b", "int"), schematest.C("a", "int")).
		Index(public, "t", "t_a_idx", "CREATE INDEX t_a_idx ON public.t (a)", schematest.ColRef(public, "t", "a")).
		View(public, "v", "SELECT a FROM public.t", schematest.ColRef(public, "t", "a")).
		Build()

	result, err := depgraph.Resolve(old, new, nil, nil,
		selection(old, new, schematest.TableID(public, "t")), schema.Settings{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"DROP VIEW public.v (refresh)",
		"DROP TABLE public.t",
		"CREATE TABLE public.t",
		"CREATE INDEX public.t.t_a_idx",
		"CREATE VIEW public.v (refresh)",
	}, actions(result))
	assert.Equal(t, []string{"VIEW public.v"}, refreshed(result))

	result, err = depgraph.Resolve(old, new, nil, nil,
		selection(old, new, schematest.TableID(public, "t")), schema.Settings{IgnoreColumnOrder: true})
	require.NoError(t, err)
	assert.Empty(t, result.Actions)
}

func TestResolveSelectionClosure(t *testing.T) {
	build := func(name, typ string) *schema.Database {
		return schematest.New(name, schema.DialectPostgres).
			Table(public, "t1", schematest.C("a", "int"), schematest.C("b", typ)).
			Table(public, "t2", schematest.C("x", typ)).
			View(public, "v1", "SELECT b FROM public.t1", schematest.ColRef(public, "t1", "b")).
			View(public, "v2", "SELECT x FROM public.t2", schematest.ColRef(public, "t2", "x")).
			Build()
	}
	old, new := build("old", "int"), build("new", "bigint")

	result, err := depgraph.Resolve(old, new, nil, nil,
		selection(old, new, schematest.ColumnID(public, "t1", "b")), schema.Settings{})
	require.NoError(t, err)

	touched := map[schema.StatementID]bool{}
	for _, a := range result.Actions {
		touched[a.ID()] = true
	}
	assert.Equal(t, map[schema.StatementID]bool{
		schematest.ColumnID(public, "t1", "b"): true,
		schematest.ViewID(public, "v1"):        true,
	}, touched)
	assert.Equal(t, []string{"VIEW public.v1"}, refreshed(result))
}

func TestResolveAlterReleasingDependency(t *testing.T) {
	old := schematest.New("old", schema.DialectPostgres).
		Table(public, "t", schematest.C("a", "int")).
		Function(public, "f", "int", "SELECT count(*) FROM public.t", schematest.Ref(public, "t", schema.KindTable)).
		Build()

	t.Run("function stops using the table", func(t *testing.T) {
		new := schematest.New("new", schema.DialectPostgres).
			Function(public, "f", "int", "SELECT 1").
			Build()
		result, err := depgraph.Resolve(old, new, nil, nil,
			selection(old, new, schematest.TableID(public, "t"), schematest.FunctionID(public, "f")), schema.Settings{})
		require.NoError(t, err)
		assert.Equal(t, []string{"ALTER FUNCTION public.f", "DROP TABLE public.t"}, actions(result))
		assert.Empty(t, result.ToRefresh)
	})

	t.Run("function still uses the table", func(t *testing.T) {
		new := schematest.New("new", schema.DialectPostgres).
			Function(public, "f", "int", "SELECT count(*) + 1 FROM public.t", schematest.Ref(public, "t", schema.KindTable)).
			Build()
		_, err := depgraph.Resolve(old, new, nil, nil,
			selection(old, new, schematest.TableID(public, "t"), schematest.FunctionID(public, "f")), schema.Settings{})

		var unresolved *depgraph.UnresolvedDependencyError
		require.True(t, errors.As(err, &unresolved))
		assert.Equal(t, schematest.FunctionID(public, "f"), unresolved.Object)
		assert.Equal(t, schematest.TableID(public, "t"), unresolved.Missing)
	})
}

func TestResolveUnresolvedDependency(t *testing.T) {
	old := schematest.New("old", schema.DialectPostgres).Schema(public).Build()
	new := schematest.New("new", schema.DialectPostgres).
		Table(public, "t", schematest.C("a", "int")).
		View(public, "v", "SELECT a FROM public.t", schematest.ColRef(public, "t", "a")).
		Build()

	_, err := depgraph.Resolve(old, new, nil, nil,
		selection(old, new, schematest.ViewID(public, "v")), schema.Settings{})
	var unresolved *depgraph.UnresolvedDependencyError
	require.True(t, errors.As(err, &unresolved))
	assert.Equal(t, schematest.ColumnID(public, "t", "a"), unresolved.Missing)

	result, err := depgraph.Resolve(old, new, nil, nil,
		selection(old, new, schematest.TableID(public, "t"), schematest.ViewID(public, "v")), schema.Settings{})
	require.NoError(t, err)
	assert.Equal(t, []string{"CREATE TABLE public.t", "CREATE VIEW public.v"}, actions(result))
}

func TestResolveExtraDependencies(t *testing.T) {
	old := schematest.New("old", schema.DialectPostgres).Schema(public).Build()
	new := schematest.New("new", schema.DialectPostgres).
		View(public, "a", "SELECT 1").
		View(public, "b", "SELECT 1").
		Build()
	selected := selection(old, new, schematest.ViewID(public, "a"), schematest.ViewID(public, "b"))

	extra := []depgraph.Edge{
		{From: schematest.ViewID(public, "a"), To: schematest.ViewID(public, "b")},
		// a crossing into another database is authorised and not checked
		{From: schematest.ViewID(public, "a"), To: schematest.TableID("remote", "users")},
	}
	result, err := depgraph.Resolve(old, new, nil, extra, selected, schema.Settings{})
	require.NoError(t, err)
	assert.Equal(t, []string{"CREATE VIEW public.b", "CREATE VIEW public.a"}, actions(result))
}

func TestResolveMutuallyReferencingViews(t *testing.T) {
	build := func(name, suffix string) *schema.Database {
		return schematest.New(name, schema.DialectPostgres).
			View(public, "v1", "SELECT * FROM public.v2"+suffix, schematest.Ref(public, "v2", schema.KindView)).
			View(public, "v2", "SELECT * FROM public.v1"+suffix, schematest.Ref(public, "v1", schema.KindView)).
			Build()
	}
	old, new := build("old", ""), build("new", " WHERE true")

	result, err := depgraph.Resolve(old, new, nil, nil,
		selection(old, new, schematest.ViewID(public, "v1"), schematest.ViewID(public, "v2")), schema.Settings{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"DROP VIEW public.v2",
		"DROP VIEW public.v1 (refresh)",
		"CREATE VIEW public.v1 (refresh)",
		"CREATE VIEW public.v2",
	}, actions(result))
	assert.Equal(t, []string{"VIEW public.v1"}, refreshed(result))
}

func TestResolveForeignKeyCycle(t *testing.T) {
	old := schematest.New("old", schema.DialectPostgres).
		Table(public, "a", schematest.C("id", "int"), schematest.C("b_id", "int")).
		Table(public, "b", schematest.C("id", "int"), schematest.C("a_id", "int")).
		Constraint(public, "a", "a_b_fk", "FOREIGN KEY (b_id) REFERENCES public.b (id)", schematest.ColRef(public, "b", "id")).
		Constraint(public, "b", "b_a_fk", "FOREIGN KEY (a_id) REFERENCES public.a (id)", schematest.ColRef(public, "a", "id")).
		Build()
	new := schematest.New("new", schema.DialectPostgres).Schema(public).Build()

	result, err := depgraph.Resolve(old, new, nil, nil,
		selection(old, new, schematest.TableID(public, "a"), schematest.TableID(public, "b")), schema.Settings{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"DROP CONSTRAINT public.a.a_b_fk",
		"DROP CONSTRAINT public.b.b_a_fk",
		"DROP TABLE public.a",
		"DROP TABLE public.b",
	}, actions(result))
	assert.Empty(t, result.ToRefresh)
}

func TestResolveUnbreakableCycle(t *testing.T) {
	old := schematest.New("old", schema.DialectPostgres).Schema(public).Build()
	new := schematest.New("new", schema.DialectPostgres).
		Table(public, "a", schematest.C("id", "int")).
		Table(public, "b", schematest.C("id", "int")).
		Modify(schematest.TableID(public, "a"), func(s *schema.Statement) {
			s.Deps = append(s.Deps, schematest.Ref(public, "b", schema.KindTable))
		}).
		Modify(schematest.TableID(public, "b"), func(s *schema.Statement) {
			s.Deps = append(s.Deps, schematest.Ref(public, "a", schema.KindTable))
		}).
		Build()

	_, err := depgraph.Resolve(old, new, nil, nil,
		selection(old, new, schematest.TableID(public, "a"), schematest.TableID(public, "b")), schema.Settings{})
	var cycle *depgraph.UnbreakableCycleError
	require.True(t, errors.As(err, &cycle))
	assert.Equal(t, []schema.StatementID{schematest.TableID(public, "a"), schematest.TableID(public, "b")}, cycle.IDs())
	assert.Contains(t, err.Error(), "CREATE TABLE public.a")
}

func TestResolveKindChange(t *testing.T) {
	old := schematest.New("old", schema.DialectPostgres).View(public, "v", "SELECT 1").Build()
	new := schematest.New("new", schema.DialectPostgres).Table(public, "v", schematest.C("a", "int")).Build()

	result, err := depgraph.Resolve(old, new, nil, nil,
		selection(old, new, schematest.TableID(public, "v"), schematest.ViewID(public, "v")), schema.Settings{})
	require.NoError(t, err)
	assert.Less(t, index(t, result, "DROP VIEW public.v"), index(t, result, "CREATE TABLE public.v"))
}

func TestResolveColumnChanges(t *testing.T) {
	old := schematest.New("old", schema.DialectPostgres).
		Table(public, "t", schematest.C("a", "int"), schematest.C("b", "int")).
		Build()
	new := schematest.New("new", schema.DialectPostgres).
		Table(public, "t", schematest.C("a", "int"), schematest.C("c", "text")).
		Build()

	result, err := depgraph.Resolve(old, new, nil, nil,
		selection(old, new, schematest.ColumnID(public, "t", "b"), schematest.ColumnID(public, "t", "c")), schema.Settings{})
	require.NoError(t, err)
	assert.Equal(t, []string{"DROP COLUMN public.t.b", "CREATE COLUMN public.t.c"}, actions(result))
}

func TestResolveNothingSelected(t *testing.T) {
	db := schematest.New("db", schema.DialectPostgres).Table(public, "t", schematest.C("a", "int")).Build()
	result, err := depgraph.Resolve(db, db.Clone(), nil, nil, nil, schema.Settings{})
	require.NoError(t, err)
	assert.Empty(t, result.Actions)
	assert.Empty(t, result.ToRefresh)
}

// TestResolveDropOrder checks that every object depending on a dropped object in the
// old schema is handled no later than the drop itself.
func TestResolveDropOrder(t *testing.T) {
	old := schematest.New("old", schema.DialectPostgres).
		Table(public, "t", schematest.C("a", "int"), schematest.C("b", "int")).
		View(public, "v1", "SELECT a FROM public.t", schematest.ColRef(public, "t", "a")).
		View(public, "v2", "SELECT * FROM public.v1", schematest.Ref(public, "v1", schema.KindView)).
		Function(public, "f", "int", "SELECT count(*) FROM public.v2", schematest.Ref(public, "v2", schema.KindView)).
		Build()
	new := schematest.New("new", schema.DialectPostgres).
		Table(public, "t", schematest.C("a", "bigint"), schematest.C("b", "int")).
		View(public, "v1", "SELECT a FROM public.t", schematest.ColRef(public, "t", "a")).
		View(public, "v2", "SELECT * FROM public.v1", schematest.Ref(public, "v1", schema.KindView)).
		Function(public, "f", "int", "SELECT count(*) FROM public.v2", schematest.Ref(public, "v2", schema.KindView)).
		Build()

	result, err := depgraph.Resolve(old, new, nil, nil,
		selection(old, new, schematest.ColumnID(public, "t", "a")), schema.Settings{})
	require.NoError(t, err)
	assert.Equal(t, []string{"FUNCTION public.f", "VIEW public.v1", "VIEW public.v2"}, refreshed(result))

	for i, a := range result.Actions {
		if a.Action != depgraph.ActionDrop {
			continue
		}
		for stmt := range old.All() {
			if !stmt.References(a.ID()) {
				continue
			}
			j := index(t, result, "DROP "+stmt.ID.String()+" (refresh)")
			assert.Less(t, j, i, "%s must be dropped before %s", stmt.ID, a.ID())
		}
	}
	assert.Less(t, index(t, result, "DROP VIEW public.v1 (refresh)"), index(t, result, "ALTER COLUMN public.t.a"))
	assert.Less(t, index(t, result, "ALTER COLUMN public.t.a"), index(t, result, "CREATE VIEW public.v1 (refresh)"))
	assert.Less(t, index(t, result, "CREATE VIEW public.v2 (refresh)"), index(t, result, "CREATE FUNCTION public.f (refresh)"))
}

func TestResolveRefreshedColumnLosesData(t *testing.T) {
	build := func(name, returns string) *schema.Database {
		return schematest.New(name, schema.DialectPostgres).
			Function(public, "f", returns, "SELECT 1").
			Table(public, "t", schematest.C("id", "int"), schematest.C("c", "int")).
			Modify(schematest.ColumnID(public, "t", "c"), func(s *schema.Statement) {
				s.Attrs[schema.AttrDefault] = "public.f()"
				s.Deps = append(s.Deps, schematest.Ref(public, "f", schema.KindFunction))
			}).
			View(public, "v", "SELECT public.f()", schematest.Ref(public, "f", schema.KindFunction)).
			Build()
	}
	old, new := build("old", "int"), build("new", "bigint")

	result, err := depgraph.Resolve(old, new, nil, nil,
		selection(old, new, schematest.FunctionID(public, "f")), schema.Settings{})
	require.NoError(t, err)
	assert.Equal(t, []string{"COLUMN public.t.c", "VIEW public.v"}, refreshed(result))

	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, "COLUMN public.t.c", result.Diagnostics[0].Object)
	assert.Contains(t, result.Diagnostics[0].Reason, "FUNCTION public.f")
	assert.Contains(t, result.Diagnostics[0].Reason, "its data is lost")
}
