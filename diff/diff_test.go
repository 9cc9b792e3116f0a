package diff_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqldef/schemadiff/diff"
	"github.com/sqldef/schemadiff/ignorelist"
	"github.com/sqldef/schemadiff/schema"
	"github.com/sqldef/schemadiff/schema/schematest"
)

const public = "public"

func fixtures() (old, new *schema.Database) {
	old = schematest.New("old", schema.DialectPostgres).
		Table(public, "users", schematest.C("id", "int"), schematest.C("name", "text"), schematest.C("legacy", "text")).
		Table(public, "tmp_import", schematest.C("id", "int")).
		View(public, "active_users", "SELECT id FROM public.users", schematest.ColRef(public, "users", "id")).
		View(public, "report", "SELECT 1").
		Build()
	new = schematest.New("new", schema.DialectPostgres).
		Table(public, "users", schematest.C("id", "bigint"), schematest.C("name", "text"), schematest.C("email", "text")).
		Table(public, "tmp_import", schematest.C("id", "int"), schematest.C("batch", "int")).
		View(public, "active_users", "SELECT id FROM public.users", schematest.ColRef(public, "users", "id")).
		Table(public, "report", schematest.C("id", "int")).
		Build()
	return old, new
}

func describe(nodes []*diff.Node) []string {
	var out []string
	for _, n := range nodes {
		s := n.String()
		if n.Pseudo {
			s += " pseudo"
		}
		out = append(out, s)
	}
	return out
}

func TestBuild(t *testing.T) {
	old, new := fixtures()
	root := diff.Build(old, new, schema.Settings{})

	assert.Equal(t, schema.KindDatabase, root.Kind)
	assert.Equal(t, diff.SideBoth, root.Side)
	require.Len(t, root.Children, 1)

	var children []string
	for _, c := range root.Children[0].Children {
		children = append(children, c.Side.String()+" "+c.ID.String())
	}
	// new declaration order first, then what only the old schema has; a kind change
	// is a removal plus an addition
	assert.Equal(t, []string{
		"BOTH TABLE public.users",
		"BOTH TABLE public.tmp_import",
		"BOTH VIEW public.active_users",
		"RIGHT TABLE public.report",
		"LEFT VIEW public.report",
	}, children)

	users := root.Find(schematest.TableID(public, "users"))
	require.NotNil(t, users)
	assert.False(t, users.Changed)
	assert.True(t, users.Differs())

	id := root.Find(schematest.ColumnID("public", "users", "id"))
	require.NotNil(t, id)
	assert.True(t, id.Changed)
	assert.Equal(t, schema.AlterWithRefresh, id.Class)
	assert.Equal(t, "id", id.Name)
	assert.Equal(t, "public.users.id", id.QualifiedName())
	assert.Equal(t, "public", id.TopLevelName())

	legacy := root.Find(schematest.ColumnID("public", "users", "legacy"))
	require.NotNil(t, legacy)
	assert.Equal(t, diff.SideLeft, legacy.Side)
	assert.Nil(t, legacy.New)

	view := root.Find(schematest.ViewID("public", "active_users"))
	require.NotNil(t, view)
	assert.False(t, view.Differs())
}

func TestBuildSameDatabaseHasNoEdits(t *testing.T) {
	old, _ := fixtures()
	root := diff.Build(old, old.Clone(), schema.Settings{})
	assert.False(t, root.Differs())

	nodes, diagnostics := diff.Flatten(root, diff.FlattenOptions{})
	assert.Empty(t, nodes)
	assert.Empty(t, diagnostics)
}

func TestFlatten(t *testing.T) {
	old, new := fixtures()
	root := diff.Build(old, new, schema.Settings{})

	nodes, _ := diff.Flatten(root, diff.FlattenOptions{})
	assert.Equal(t, []string{
		"BOTH COLUMN public.users.id (alter-with-refresh)",
		"RIGHT COLUMN public.users.email",
		"LEFT COLUMN public.users.legacy",
		"RIGHT COLUMN public.tmp_import.batch",
		"RIGHT TABLE public.report",
		"LEFT VIEW public.report",
	}, describe(nodes))

	t.Run("allowed kinds", func(t *testing.T) {
		nodes, _ := diff.Flatten(root, diff.FlattenOptions{AllowedKinds: schema.NewKindSet(schema.KindTable, schema.KindView)})
		assert.Equal(t, []string{"RIGHT TABLE public.report", "LEFT VIEW public.report"}, describe(nodes))
	})

	t.Run("only selected", func(t *testing.T) {
		root := diff.Build(old, new, schema.Settings{})
		root.Find(schematest.ColumnID("public", "users", "email")).SetSelected(true, false)
		root.Find(schematest.ViewID("public", "report")).SetSelected(true, false)

		nodes, _ := diff.Flatten(root, diff.FlattenOptions{OnlySelected: true})
		assert.Equal(t, []string{"RIGHT COLUMN public.users.email", "LEFT VIEW public.report"}, describe(nodes))
	})
}

func TestFlattenIgnoreList(t *testing.T) {
	old, new := fixtures()
	root := diff.Build(old, new, schema.Settings{})

	tests := []struct {
		name     string
		rules    string
		expected []string
	}{
		{
			name:  "hide content",
			rules: "HIDE CONTENT users\nHIDE REGEX ^report$ TYPE VIEW",
			expected: []string{
				"RIGHT COLUMN public.tmp_import.batch",
				"RIGHT TABLE public.report",
			},
		},
		{
			name:  "hide without content keeps children",
			rules: "HIDE users TYPE TABLE",
			expected: []string{
				"BOTH COLUMN public.users.id (alter-with-refresh)",
				"RIGHT COLUMN public.users.email",
				"LEFT COLUMN public.users.legacy",
				"RIGHT COLUMN public.tmp_import.batch",
				"RIGHT TABLE public.report",
				"LEFT VIEW public.report",
			},
		},
		{
			name:  "whitelist hides everything else",
			rules: "SHOW CONTENT REGEX ^tmp_",
			expected: []string{
				"RIGHT COLUMN public.tmp_import.batch",
			},
		},
		{
			name:  "whitelist wins over blacklist",
			rules: "HIDE CONTENT REGEX .*\nSHOW QUALIFIED public.report TYPE VIEW",
			expected: []string{
				"LEFT VIEW public.report",
			},
		},
		{
			name:  "explicit default",
			rules: "SHOW ALL\nSHOW email",
			expected: []string{
				"BOTH COLUMN public.users.id (alter-with-refresh)",
				"RIGHT COLUMN public.users.email",
				"LEFT COLUMN public.users.legacy",
				"RIGHT COLUMN public.tmp_import.batch",
				"RIGHT TABLE public.report",
				"LEFT VIEW public.report",
			},
		},
		{
			name:     "db pattern",
			rules:    "HIDE CONTENT REGEX .* DB ^public$",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := ignorelist.ParseString(tt.rules)
			require.NoError(t, err)
			nodes, _ := diff.Flatten(root, diff.FlattenOptions{IgnoreList: list})
			assert.Equal(t, tt.expected, describe(nodes))
		})
	}

	t.Run("diagnostics", func(t *testing.T) {
		list, err := ignorelist.ParseString("HIDE users TYPE TABLE,MATVIEW")
		require.NoError(t, err)
		nodes, diagnostics := diff.Flatten(root, diff.FlattenOptions{IgnoreList: list})
		assert.Len(t, nodes, 6)
		require.Len(t, diagnostics, 1)
		assert.Contains(t, diagnostics[0].Reason, "MATVIEW")
	})
}

func TestFlattenExpandColumns(t *testing.T) {
	old, new := fixtures()
	root := diff.Build(old, new, schema.Settings{})
	root.Find(schematest.TableID("public", "users")).SetSelected(true, false)

	nodes, _ := diff.Flatten(root, diff.FlattenOptions{ExpandColumns: true, OnlySelected: true})
	assert.Equal(t, []string{
		"BOTH COLUMN public.users.id (alter-with-refresh) pseudo",
		"RIGHT COLUMN public.users.email pseudo",
		"LEFT COLUMN public.users.legacy pseudo",
	}, describe(nodes))
	for _, n := range nodes {
		assert.True(t, n.Selected)
		assert.Equal(t, schema.KindTable, n.Parent.Kind)
		assert.NotContains(t, n.Parent.Children, n)
	}

	objects := diff.DbObjects(nodes, true)
	require.Len(t, objects, 3)
	assert.Equal(t, schematest.ColumnID("public", "users", "id"), objects[0].ID())
	assert.Nil(t, objects[1].Old)
	assert.Nil(t, objects[2].New)
}

func commentedTable() (old, new *schema.Database) {
	old = schematest.New("old", schema.DialectPostgres).
		Table(public, "t1", schematest.C("a", "int"), schematest.C("b", "int")).
		Build()
	new = schematest.New("new", schema.DialectPostgres).
		Table(public, "t1", schematest.C("a", "int"), schematest.C("b", "bigint")).
		Modify(schematest.TableID(public, "t1"), func(s *schema.Statement) { s.Comment = "hello" }).
		Build()
	return old, new
}

func TestDbObjectsLeavesOutUnselectedContainers(t *testing.T) {
	old, new := commentedTable()
	root := diff.Build(old, new, schema.Settings{})
	root.Find(schematest.ColumnID(public, "t1", "b")).SetSelected(true, false)

	nodes, _ := diff.Flatten(root, diff.FlattenOptions{OnlySelected: true})
	assert.Equal(t, []string{
		"BOTH TABLE public.t1 (alter)",
		"BOTH COLUMN public.t1.b (alter-with-refresh)",
	}, describe(nodes))

	objects := diff.DbObjects(nodes, true)
	require.Len(t, objects, 1)
	assert.Equal(t, schematest.ColumnID(public, "t1", "b"), objects[0].ID())

	assert.Len(t, diff.DbObjects(nodes, false), 2)
}

func TestFlattenExpandColumnsIgnoreList(t *testing.T) {
	old, new := fixtures()
	root := diff.Build(old, new, schema.Settings{})

	tests := []struct {
		name     string
		rules    string
		expected []string
	}{
		{
			name:  "hidden column",
			rules: "HIDE email TYPE COLUMN",
			expected: []string{
				"BOTH COLUMN public.users.id (alter-with-refresh) pseudo",
				"LEFT COLUMN public.users.legacy pseudo",
				"RIGHT COLUMN public.tmp_import.batch pseudo",
				"RIGHT TABLE public.report",
				"LEFT VIEW public.report",
			},
		},
		{
			name:  "whitelisted column",
			rules: "SHOW legacy TYPE COLUMN",
			expected: []string{
				"LEFT COLUMN public.users.legacy pseudo",
			},
		},
		{
			name:  "hidden table content",
			rules: "HIDE CONTENT users",
			expected: []string{
				"RIGHT COLUMN public.tmp_import.batch pseudo",
				"RIGHT TABLE public.report",
				"LEFT VIEW public.report",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := ignorelist.ParseString(tt.rules)
			require.NoError(t, err)
			nodes, _ := diff.Flatten(root, diff.FlattenOptions{IgnoreList: list, ExpandColumns: true})
			assert.Equal(t, tt.expected, describe(nodes))
		})
	}
}

func TestFlattenExpandColumnsSelectedColumn(t *testing.T) {
	old, new := fixtures()
	root := diff.Build(old, new, schema.Settings{})
	root.Find(schematest.ColumnID(public, "users", "email")).SetSelected(true, false)

	nodes, _ := diff.Flatten(root, diff.FlattenOptions{ExpandColumns: true, OnlySelected: true})
	assert.Equal(t, []string{"RIGHT COLUMN public.users.email pseudo"}, describe(nodes))
	require.Len(t, nodes, 1)
	assert.True(t, nodes[0].Selected)

	objects := diff.DbObjects(nodes, true)
	require.Len(t, objects, 1)
	assert.Equal(t, schematest.ColumnID(public, "users", "email"), objects[0].ID())
}
