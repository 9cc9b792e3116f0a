package sqlite3

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqldef/schemadiff/database"
	"github.com/sqldef/schemadiff/schema"
	"github.com/sqldef/schemadiff/schema/schematest"
)

func setupTestDatabase(t *testing.T, ddls ...string) database.Database {
	t.Helper()
	db, err := NewDatabase(database.Config{DbName: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, ddl := range ddls {
		_, err := db.DB().Exec(ddl)
		require.NoError(t, err, ddl)
	}
	return db
}

func TestRead(t *testing.T) {
	db := setupTestDatabase(t,
		`CREATE TABLE users (id integer PRIMARY KEY, email text NOT NULL UNIQUE, name text DEFAULT 'anonymous')`,
		`CREATE TABLE posts (id integer PRIMARY KEY, user_id integer REFERENCES users (id) ON DELETE CASCADE, title text)`,
		`CREATE INDEX posts_title ON posts (title)`,
		`CREATE VIEW user_posts AS SELECT u.email, p.title FROM users u JOIN posts p ON p.user_id = u.id`,
		`CREATE TRIGGER users_cleanup AFTER DELETE ON users BEGIN DELETE FROM posts WHERE user_id = old.id; END`,
	)

	model, err := db.(database.Reader).Read(context.Background())
	require.NoError(t, err)

	var ids []string
	for stmt := range model.All() {
		ids = append(ids, stmt.ID.String())
	}
	assert.ElementsMatch(t, []string{
		"SCHEMA main",
		"TABLE main.posts",
		"COLUMN main.posts.id",
		"COLUMN main.posts.user_id",
		"COLUMN main.posts.title",
		"CONSTRAINT main.posts.posts_pkey",
		"CONSTRAINT main.posts.posts_user_id_fkey",
		"TABLE main.users",
		"COLUMN main.users.id",
		"COLUMN main.users.email",
		"COLUMN main.users.name",
		"CONSTRAINT main.users.users_pkey",
		"CONSTRAINT main.users.sqlite_autoindex_users_1",
		"INDEX main.posts.posts_title",
		"VIEW main.user_posts",
		"TRIGGER main.users.users_cleanup",
	}, ids)

	email, ok := model.Lookup(schematest.ColumnID("main", "users", "email"))
	require.True(t, ok)
	assert.Equal(t, map[string]string{schema.AttrType: "text", schema.AttrNotNull: "true"}, email.Attrs)

	name, ok := model.Lookup(schematest.ColumnID("main", "users", "name"))
	require.True(t, ok)
	assert.Equal(t, "'anonymous'", name.Attr(schema.AttrDefault))

	fk, ok := model.Lookup(schematest.SubID(schema.KindConstraint, "main", "posts", "posts_user_id_fkey"))
	require.True(t, ok)
	assert.Equal(t, "FOREIGN KEY (user_id) REFERENCES main.users (id) ON DELETE CASCADE", fk.Definition)
	assert.ElementsMatch(t, []schema.ObjectReference{
		schematest.ColRef("main", "posts", "user_id"),
		schematest.Ref("main", "users", schema.KindTable),
		schematest.ColRef("main", "users", "id"),
	}, fk.Deps)

	index, ok := model.Lookup(schematest.SubID(schema.KindIndex, "main", "posts", "posts_title"))
	require.True(t, ok)
	assert.Equal(t, "CREATE INDEX posts_title ON posts (title)", index.Definition)
	assert.Equal(t, []schema.ObjectReference{schematest.ColRef("main", "posts", "title")}, index.Deps)

	view, ok := model.Lookup(schematest.ViewID("main", "user_posts"))
	require.True(t, ok)
	assert.ElementsMatch(t, []schema.ObjectReference{
		schematest.Ref("main", "users", schema.KindTable),
		schematest.Ref("main", "posts", schema.KindTable),
		schematest.ColRef("main", "users", "email"),
		schematest.ColRef("main", "users", "id"),
		schematest.ColRef("main", "posts", "title"),
		schematest.ColRef("main", "posts", "user_id"),
		// unqualified names are candidates on every relation the body mentions
		schematest.ColRef("main", "posts", "id"),
	}, view.Deps)

	trigger, ok := model.Lookup(schematest.SubID(schema.KindTrigger, "main", "users", "users_cleanup"))
	require.True(t, ok)
	assert.Contains(t, trigger.Deps, schematest.Ref("main", "posts", schema.KindTable))
	assert.Contains(t, trigger.Deps, schematest.ColRef("main", "posts", "user_id"))
}

func TestReadEmpty(t *testing.T) {
	db := setupTestDatabase(t)
	model, err := db.(database.Reader).Read(context.Background())
	require.NoError(t, err)
	assert.Zero(t, model.Len())
}
