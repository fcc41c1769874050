package magmigrate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestDirSourceReadsAllFormats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main", "002.toml"), `
id = "002_posts"
description = "posts"
up = ["CREATE TABLE posts (id INTEGER)"]
down = ["DROP TABLE posts"]
`)
	writeFile(t, filepath.Join(dir, "main", "001.yaml"), `
id: "001_users"
description: users
up:
  - CREATE TABLE users (id INTEGER)
down:
  - DROP TABLE users
`)
	writeFile(t, filepath.Join(dir, "main", "003.json"), `{"id": "003_tags", "up": ["CREATE TABLE tags (id INTEGER)"]}`)
	writeFile(t, filepath.Join(dir, "main", "README.md"), "not a migration")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "main", "archive"), 0o755))

	migrations, err := NewDirSource(dir).Load("main")
	require.NoError(t, err)
	assert.Equal(t, []string{"001_users", "002_posts", "003_tags"}, ids(migrations))
	assert.Equal(t, Migration{
		ID:          "001_users",
		Description: "users",
		Up:          []string{"CREATE TABLE users (id INTEGER)"},
		Down:        []string{"DROP TABLE users"},
	}, migrations[0])
	assert.Empty(t, migrations[2].Down)
}

func TestDirSourceRejectsInvalidFiles(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "missing id", file: "a.yaml", content: "up: [\"SELECT 1\"]\n"},
		{name: "missing up", file: "a.yaml", content: "id: \"001\"\n"},
		{name: "numeric id", file: "a.yaml", content: "id: 1\nup: [\"SELECT 1\"]\n"},
		{name: "unknown field", file: "a.json", content: `{"id": "001", "up": ["SELECT 1"], "extra": true}`},
		{name: "empty statement", file: "a.json", content: `{"id": "001", "up": [""]}`},
		{name: "malformed yaml", file: "a.yml", content: "id: [\n"},
		{name: "malformed toml", file: "a.toml", content: "id = \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, "main", tt.file), tt.content)
			_, err := NewDirSource(dir).Load("main")
			require.ErrorIs(t, err, ErrInvalidMigration)
		})
	}
}

func TestDirSourceDuplicateIDs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main", "a.yaml"), "id: \"001\"\nup: [\"SELECT 1\"]\n")
	writeFile(t, filepath.Join(dir, "main", "b.json"), `{"id": "001", "up": ["SELECT 2"]}`)

	_, err := NewDirSource(dir).Load("main")
	require.ErrorIs(t, err, ErrDuplicateMigration)
}

func TestDirSourceUnknownStore(t *testing.T) {
	dir := t.TempDir()
	source := NewDirSource(dir)

	for _, store := range []string{"missing", "", "..", "a/b"} {
		_, err := source.Load(store)
		require.ErrorIs(t, err, ErrUnknownStore, store)
	}
}

func TestDirSourceEmptyStore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "main"), 0o755))

	migrations, err := NewDirSource(dir).Load("main")
	require.NoError(t, err)
	assert.Empty(t, migrations)
}

func TestReadMigrationFileUnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.ini")
	writeFile(t, path, "id=1")
	_, err := ReadMigrationFile(path)
	require.ErrorIs(t, err, ErrUnsupportedFileType)
}

func TestMemorySource(t *testing.T) {
	source := NewMemorySource()
	source.Add("main", createPosts)
	source.Add("main", createUsers)

	migrations, err := source.Load("main")
	require.NoError(t, err)
	assert.Equal(t, []string{createUsers.ID, createPosts.ID}, ids(migrations))

	source.Add("main", createUsers)
	_, err = source.Load("main")
	require.ErrorIs(t, err, ErrDuplicateMigration)

	_, err = source.Load("other")
	require.ErrorIs(t, err, ErrUnknownStore)
}
