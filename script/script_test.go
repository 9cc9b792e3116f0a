package script_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqldef/schemadiff/depgraph"
	"github.com/sqldef/schemadiff/diff"
	"github.com/sqldef/schemadiff/schema"
	"github.com/sqldef/schemadiff/schema/schematest"
	"github.com/sqldef/schemadiff/script"
)

// fakePrinter renders "<ACTION> <id>" and a comment for every create.
type fakePrinter struct {
	contexts []script.PrintContext
	fail     schema.StatementID
}

func (p *fakePrinter) Print(action depgraph.ActionContainer, ctx script.PrintContext) ([]script.Statement, error) {
	p.contexts = append(p.contexts, ctx)
	if action.ID() == p.fail {
		return nil, errors.New("boom")
	}
	stmts := []script.Statement{{Phase: script.PhaseMid, SQL: action.Action.String() + " " + action.ID().Qualified()}}
	if action.Action == depgraph.ActionCreate {
		stmts = append(stmts, script.Statement{Phase: script.PhaseMid, SQL: "COMMENT ON " + action.ID().Qualified(), Comment: true})
		stmts = append(stmts, script.Statement{Phase: script.PhaseEnd, SQL: "GRANT ALL ON " + action.ID().Qualified()})
	}
	return stmts, nil
}

func fixture() (*schema.Database, *schema.Database, []depgraph.ActionContainer) {
	old := schematest.New("old", schema.DialectPostgres).
		Table("public", "t1", schematest.C("a", "int")).
		View("public", "v1", "SELECT a FROM public.t1", schematest.ColRef("public", "t1", "a")).
		Build()
	new := schematest.New("new", schema.DialectPostgres).
		Table("public", "t1", schematest.C("a", "bigint")).
		View("public", "v1", "SELECT a FROM public.t1", schematest.ColRef("public", "t1", "a")).
		Build()

	view, _ := old.Lookup(schematest.ViewID("public", "v1"))
	oldCol, _ := old.Lookup(schematest.ColumnID("public", "t1", "a"))
	newCol, _ := new.Lookup(schematest.ColumnID("public", "t1", "a"))
	actions := []depgraph.ActionContainer{
		{Action: depgraph.ActionDrop, Object: depgraph.DbObject{Old: view}, NeedsRefresh: true},
		{Action: depgraph.ActionAlter, Object: depgraph.DbObject{Old: oldCol, New: newCol}},
		{Action: depgraph.ActionCreate, Object: depgraph.DbObject{Old: view, New: view}, NeedsRefresh: true},
	}
	return old, new, actions
}

func TestBuild(t *testing.T) {
	old, new, actions := fixture()
	refresh := map[schema.StatementID]struct{}{schematest.ViewID("public", "v1"): {}}

	tests := []struct {
		name     string
		settings schema.Settings
		expected string
	}{
		{
			name:     "postgres",
			settings: schema.Settings{Dialect: schema.DialectPostgres},
			expected: "SET search_path = pg_catalog;\n\n" +
				"DROP public.v1;\n\n" +
				"ALTER public.t1.a;\n\n" +
				"CREATE public.v1;\n\n" +
				"COMMENT ON public.v1;\n\n" +
				"GRANT ALL ON public.v1;\n",
		},
		{
			name:     "comments to end in a transaction",
			settings: schema.Settings{Dialect: schema.DialectMysql, CommentsToEnd: true, InTransaction: true},
			expected: "BEGIN;\n\n" +
				"DROP public.v1;\n\n" +
				"ALTER public.t1.a;\n\n" +
				"CREATE public.v1;\n\n" +
				"GRANT ALL ON public.v1;\n\n" +
				"COMMENT ON public.v1;\n\n" +
				"COMMIT;\n",
		},
		{
			name:     "mssql batches",
			settings: schema.Settings{Dialect: schema.DialectMssql},
			expected: "SET QUOTED_IDENTIFIER ON\nGO\n\n" +
				"SET ANSI_NULLS ON\nGO\n\n" +
				"DROP public.v1\nGO\n\n" +
				"ALTER public.t1.a\nGO\n\n" +
				"CREATE public.v1\nGO\n\n" +
				"COMMENT ON public.v1\nGO\n\n" +
				"GRANT ALL ON public.v1\nGO\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			printer := &fakePrinter{}
			out, err := script.NewBuilder(printer, tt.settings).Build(actions, refresh, nil, old, new)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestBuildContext(t *testing.T) {
	old, new, actions := fixture()
	refresh := map[schema.StatementID]struct{}{schematest.ViewID("public", "v1"): {}}
	root := diff.Build(old, new, schema.Settings{})
	selected := []*diff.Node{root.Find(schematest.ColumnID("public", "t1", "a"))}

	printer := &fakePrinter{}
	_, err := script.NewBuilder(printer, schema.Settings{}).Build(actions, refresh, selected, old, new)
	require.NoError(t, err)

	require.Len(t, printer.contexts, 3)
	assert.True(t, printer.contexts[0].Refresh)
	assert.False(t, printer.contexts[0].Selected)
	assert.False(t, printer.contexts[1].Refresh)
	assert.True(t, printer.contexts[1].Selected)
	assert.Same(t, old, printer.contexts[1].Old)
	assert.Same(t, new, printer.contexts[1].New)
}

func TestBuildDeduplicates(t *testing.T) {
	old, new, actions := fixture()
	// the grants of both creates end up next to each other in END
	actions = append(actions, actions[2])

	out, err := script.NewBuilder(&fakePrinter{}, schema.Settings{Dialect: schema.DialectSQLite3}).Build(actions, nil, nil, old, new)
	require.NoError(t, err)
	assert.Equal(t, "DROP public.v1;\n\n"+
		"ALTER public.t1.a;\n\n"+
		"CREATE public.v1;\n\n"+
		"COMMENT ON public.v1;\n\n"+
		"CREATE public.v1;\n\n"+
		"COMMENT ON public.v1;\n\n"+
		"GRANT ALL ON public.v1;\n", out)
}

func TestBuildEmpty(t *testing.T) {
	out, err := script.NewBuilder(&fakePrinter{}, schema.Settings{Dialect: schema.DialectPostgres, InTransaction: true}).Build(nil, nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBuildPrinterError(t *testing.T) {
	old, new, actions := fixture()
	printer := &fakePrinter{fail: schematest.ColumnID("public", "t1", "a")}

	out, err := script.NewBuilder(printer, schema.Settings{}).Build(actions, nil, nil, old, new)
	assert.Empty(t, out)

	var printerErr *script.PrinterError
	require.ErrorAs(t, err, &printerErr)
	assert.Equal(t, schematest.ColumnID("public", "t1", "a"), printerErr.Object)
	assert.Equal(t, depgraph.ActionAlter, printerErr.Action)
	assert.EqualError(t, err, "failed to print ALTER COLUMN public.t1.a: boom")
}
