package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqldef/schemadiff/database/postgres"
	"github.com/sqldef/schemadiff/diff"
	"github.com/sqldef/schemadiff/schema"
	"github.com/sqldef/schemadiff/schema/schematest"
	"github.com/sqldef/schemadiff/testutil"
	"github.com/sqldef/schemadiff/util"
)

func TestApply(t *testing.T) {
	tests, err := testutil.ReadTests("tests*.yml")
	if err != nil {
		t.Fatal(err)
	}

	for name, test := range util.CanonicalMapIter(tests) {
		t.Run(name, func(t *testing.T) {
			testutil.RunTest(t, test, schema.DialectPostgres, postgres.NewParser())
		})
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestClassifySource(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]sourceKind{
		"schema.sql":  sourceSQL,
		"SCHEMA.SQL":  sourceSQL,
		"-":           sourceSQL,
		dir:           sourceSQL,
		"model.yml":   sourceModel,
		"model.yaml":  sourceModel,
		"app":         sourceDatabase,
		"app.sqlite3": sourceDatabase,
	}
	for source, expected := range tests {
		t.Run(source, func(t *testing.T) {
			assert.Equal(t, expected, classifySource(source))
		})
	}
}

func TestSQLFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b", "views.sql"), "CREATE VIEW v AS SELECT id FROM users;")
	writeFile(t, filepath.Join(dir, "a.sql"), "CREATE TABLE users (id integer);")
	writeFile(t, filepath.Join(dir, "README.md"), "not sql")

	files, err := sqlFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(dir, "a.sql"), files[0].Name)
	assert.Equal(t, filepath.Join(dir, "b", "views.sql"), files[1].Name)

	opts := &cliOptions{Concurrency: 2}
	reader, release, err := openSource(dir, schema.DialectPostgres, opts)
	require.NoError(t, err)
	defer release()
	db, err := reader.Read(context.Background())
	require.NoError(t, err)
	view, ok := db.Lookup(schematest.ViewID("public", "v"))
	require.True(t, ok)
	assert.Contains(t, view.Deps, schematest.ColRef("public", "users", "id"))

	_, _, err = openSource(dir, schema.DialectMysql, opts)
	assert.Error(t, err)
	_, _, err = openSource("app", schema.DialectClickHouse, opts)
	assert.Error(t, err)
}

func TestSelection(t *testing.T) {
	none, err := selection(nil)
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = selection([]string{"("})
	assert.Error(t, err)

	selected, err := selection([]string{`^public\.users$`})
	require.NoError(t, err)

	root := &diff.Node{Kind: schema.KindDatabase, ID: schema.StatementID{Name: "app", Kind: schema.KindDatabase}}
	table := &diff.Node{Kind: schema.KindTable, ID: schematest.TableID("public", "users"), Parent: root}
	column := &diff.Node{Kind: schema.KindColumn, ID: schematest.ColumnID("public", "users", "id"), Parent: table}
	other := &diff.Node{Kind: schema.KindTable, ID: schematest.TableID("public", "posts"), Parent: root}

	assert.False(t, selected(root))
	assert.True(t, selected(table))
	assert.True(t, selected(column))
	assert.False(t, selected(other))
}

func TestConfig(t *testing.T) {
	opts := &cliOptions{Host: "db", Concurrency: 4, ManagedRoles: []string{"app"}}

	config := opts.config("app", schema.DialectMysql)
	assert.Equal(t, 3306, config.Port)
	assert.Equal(t, "root", config.User)
	assert.Equal(t, []string{"app"}, config.ManagedRoles)

	opts.Port = 6543
	opts.User = "me"
	config = opts.config("app", schema.DialectPostgres)
	assert.Equal(t, 6543, config.Port)
	assert.Equal(t, "me", config.User)
}

func TestRunOptions(t *testing.T) {
	dir := t.TempDir()
	settings := filepath.Join(dir, "settings.yml")
	writeFile(t, settings, "dialect: mysql\nignore_privileges: true\n")
	ignore := filepath.Join(dir, "ignore.txt")
	writeFile(t, ignore, "HIDE REGEX ^tmp_\n")
	overrides := filepath.Join(dir, "overrides.yml")
	writeFile(t, overrides, "overrides:\n  - {kind: table, schema: app, name: users, owner: app}\n")

	options, err := runOptions(&cliOptions{
		Dialect:    "postgres",
		Settings:   settings,
		IgnoreList: ignore,
		Overrides:  []string{overrides},
		Select:     []string{"users"},
		Color:      "never",
	})
	require.NoError(t, err)
	assert.Equal(t, schema.DialectMysql, options.Settings.Dialect)
	assert.True(t, options.Settings.IgnorePrivileges)
	require.NotNil(t, options.IgnoreList)
	assert.Len(t, options.IgnoreList.Rules, 1)
	assert.NotNil(t, options.Selection)
	require.Len(t, options.Overrides, 1)
	assert.Equal(t, schematest.TableID("app", "users"), options.Overrides[0].Target)
	assert.False(t, options.Color)

	_, err = runOptions(&cliOptions{Dialect: "oracle"})
	assert.Error(t, err)
}
