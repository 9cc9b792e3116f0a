package testutil

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqldef/schemadiff"
	"github.com/sqldef/schemadiff/schema"
	"github.com/sqldef/schemadiff/schema/schematest"
)

func TestSimulate(t *testing.T) {
	deps := []schema.ObjectReference{schematest.Ref("public", "t1", schema.KindTable), schematest.ColRef("public", "t1", "a")}
	old := schematest.New("old", schema.DialectPostgres).
		Table("public", "t1", schematest.C("a", "int"), schematest.C("b", "int")).
		View("public", "v1", "SELECT a FROM public.t1", deps...).
		Table("public", "gone", schematest.C("id", "int")).
		Build()
	new := schematest.New("new", schema.DialectPostgres).
		Table("public", "t1", schematest.C("a", "int"), schematest.C("b", "bigint"), schematest.C("c", "text")).
		View("public", "v1", "SELECT a FROM public.t1", deps...).
		Table("public", "added", schematest.C("id", "int")).
		Build()
	settings := schema.Settings{Dialect: schema.DialectPostgres}

	plan, err := schemadiff.Resolve(old, new, schemadiff.Options{Settings: settings})
	require.NoError(t, err)
	require.NotEmpty(t, Edits(old, new, settings))

	simulated, err := Simulate(old, new, plan.Result.Actions, plan.Result.ToRefresh)
	require.NoError(t, err)
	assert.Empty(t, Edits(simulated, new, settings))

	b, ok := simulated.Lookup(schematest.ColumnID("public", "t1", "b"))
	require.True(t, ok)
	assert.Equal(t, "bigint", b.Attr(schema.AttrType))
	_, ok = simulated.Lookup(schematest.ColumnID("public", "added", "id"))
	assert.True(t, ok)
	assert.False(t, simulated.Contains(schematest.TableID("public", "gone")))

	// the input models are left alone
	assert.True(t, old.Contains(schematest.TableID("public", "gone")))
}

func TestSimulatePartialScript(t *testing.T) {
	old := schematest.New("old", schema.DialectPostgres).
		Table("public", "t", schematest.C("a", "int")).
		Build()
	new := schematest.New("new", schema.DialectPostgres).
		Table("public", "t", schematest.C("a", "bigint")).
		Build()

	simulated, err := Simulate(old, new, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"BOTH COLUMN public.t.a"}, Edits(simulated, new, schema.Settings{}))
}

func TestSimulateMutuallyReferencingViews(t *testing.T) {
	build := func(name, suffix string) *schema.Database {
		return schematest.New(name, schema.DialectPostgres).
			View("public", "v1", "SELECT * FROM public.v2"+suffix, schematest.Ref("public", "v2", schema.KindView)).
			View("public", "v2", "SELECT * FROM public.v1"+suffix, schematest.Ref("public", "v1", schema.KindView)).
			Build()
	}
	old, new := build("old", ""), build("new", " WHERE true")
	settings := schema.Settings{Dialect: schema.DialectPostgres}

	plan, err := schemadiff.Resolve(old, new, schemadiff.Options{Settings: settings})
	require.NoError(t, err)
	require.Contains(t, plan.Result.ToRefresh, schematest.ViewID("public", "v1"))

	simulated, err := Simulate(old, new, plan.Result.Actions, plan.Result.ToRefresh)
	require.NoError(t, err)
	assert.Empty(t, Edits(simulated, new, settings))

	// without the refresh record, dropping v2 strands v1
	_, err = Simulate(old, new, plan.Result.Actions, nil)
	assert.ErrorContains(t, err, "VIEW public.v1 still depends on VIEW public.v2")
}

func TestSimulateRejectsMisorderedActions(t *testing.T) {
	empty := schematest.New("empty", schema.DialectPostgres).Schema("public").Build()
	full := schematest.New("full", schema.DialectPostgres).
		Table("public", "t", schematest.C("a", "int")).
		View("public", "v", "SELECT a FROM public.t", schematest.Ref("public", "t", schema.KindTable)).
		Build()
	settings := schema.Settings{Dialect: schema.DialectPostgres}

	tests := map[string]struct {
		old, new *schema.Database
		expected string
	}{
		"create before dependency": {old: empty, new: full, expected: "VIEW public.v depends on TABLE public.t, which does not exist yet"},
		"drop before dependent":    {old: full, new: empty, expected: "VIEW public.v still depends on TABLE public.t"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			plan, err := schemadiff.Resolve(tc.old, tc.new, schemadiff.Options{Settings: settings})
			require.NoError(t, err)

			_, err = Simulate(tc.old, tc.new, plan.Result.Actions, plan.Result.ToRefresh)
			require.NoError(t, err)

			reversed := slices.Clone(plan.Result.Actions)
			slices.Reverse(reversed)
			_, err = Simulate(tc.old, tc.new, reversed, plan.Result.ToRefresh)
			assert.ErrorContains(t, err, tc.expected)
		})
	}
}

func TestReadTests(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	write("a.yml", "First:\n  desired: CREATE TABLE t (id integer);\n  refresh: [VIEW public.v]\n")
	write("b.yml", "Second:\n  up: ''\n  down: ''\n  config:\n    ignore_column_order: true\n")
	tests, err := ReadTests(filepath.Join(dir, "*.yml"))
	require.NoError(t, err)
	require.Len(t, tests, 2)
	assert.Equal(t, []string{"VIEW public.v"}, tests["First"].Refresh)
	assert.True(t, tests["Second"].Config.IgnoreColumnOrder)

	write("c.yml", "First:\n  desired: ''\n")
	_, err = ReadTests(filepath.Join(dir, "*.yml"))
	assert.ErrorContains(t, err, "duplicate test case name 'First'")

	require.NoError(t, os.Remove(filepath.Join(dir, "c.yml")))
	write("d.yml", "Third:\n  up: ''\n")
	_, err = ReadTests(filepath.Join(dir, "*.yml"))
	assert.ErrorContains(t, err, "if 'up' is specified, 'down' must also be specified")

	require.NoError(t, os.Remove(filepath.Join(dir, "d.yml")))
	write("e.yml", "Fourth:\n  expected: ''\n")
	_, err = ReadTests(filepath.Join(dir, "*.yml"))
	assert.ErrorContains(t, err, "e.yml")
}

func TestOptions(t *testing.T) {
	var test TestCase
	test.Select = []string{"public.a"}
	test.IgnoreList = "HIDE tmp\n"
	test.Config.AllowedKinds = "TABLE,COLUMN"

	opts, err := Options(test, schema.DialectPostgres)
	require.NoError(t, err)
	assert.Equal(t, schema.NewKindSet(schema.KindTable, schema.KindColumn), opts.Settings.AllowedKinds)
	assert.NotNil(t, opts.IgnoreList)
	require.NotNil(t, opts.Selection)

	test.Config.AllowedKinds = "TABLES"
	_, err = Options(test, schema.DialectPostgres)
	assert.Error(t, err)
}
