package magmigrate

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// Migration is one versioned schema change. Migrations of a store are
// ordered by ID under plain string comparison, so IDs should be fixed-width
// (e.g. 20260101120000_create_users).
type Migration struct {
	ID          string   `json:"id"`
	Description string   `json:"description,omitempty"`
	Up          []string `json:"up"`
	Down        []string `json:"down,omitempty"`
}

// Source discovers the migrations of a store.
type Source interface {
	// Load returns the store's migrations sorted by ID. A store the source
	// knows nothing about fails with ErrUnknownStore.
	Load(store string) ([]Migration, error)
}

func sortMigrations(migrations []Migration) error {
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].ID < migrations[j].ID })
	for i := 1; i < len(migrations); i++ {
		if migrations[i].ID == migrations[i-1].ID {
			return fmt.Errorf("%w: %s", ErrDuplicateMigration, migrations[i].ID)
		}
	}
	return nil
}

// MemorySource holds migrations added in code.
type MemorySource struct {
	mu     sync.RWMutex
	stores map[string][]Migration
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{stores: make(map[string][]Migration)}
}

// Add appends migrations to store, creating the store if needed.
func (s *MemorySource) Add(store string, migrations ...Migration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stores[store] = append(s.stores[store], migrations...)
}

// Load returns a sorted copy of the store's migrations.
func (s *MemorySource) Load(store string) ([]Migration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	migrations, ok := s.stores[store]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, store)
	}
	out := append([]Migration(nil), migrations...)
	if err := sortMigrations(out); err != nil {
		return nil, fmt.Errorf("store %s: %w", store, err)
	}
	return out, nil
}

//go:embed migration.schema.json
var migrationSchemaJSON []byte

const migrationSchemaURL = "https://magkernel.dev/schemas/migration.json"

var (
	migrationSchemaOnce sync.Once
	migrationSchema     *jsonschema.Schema
	migrationSchemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	migrationSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(migrationSchemaJSON))
		if err != nil {
			migrationSchemaErr = fmt.Errorf("parse migration schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(migrationSchemaURL, doc); err != nil {
			migrationSchemaErr = fmt.Errorf("add migration schema: %w", err)
			return
		}
		migrationSchema, migrationSchemaErr = compiler.Compile(migrationSchemaURL)
	})
	return migrationSchema, migrationSchemaErr
}

// DirSource reads <Dir>/<store>/ where every .yaml, .yml, .toml or .json
// file holds one migration:
//
//	id: "20260101120000_create_users"
//	description: create users
//	up:
//	  - CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL)
//	down:
//	  - DROP TABLE users
//
// Other files are ignored.
type DirSource struct {
	Dir string
}

// NewDirSource creates a source rooted at dir.
func NewDirSource(dir string) *DirSource {
	return &DirSource{Dir: dir}
}

// Load reads and validates every migration file of store.
func (s *DirSource) Load(store string) ([]Migration, error) {
	if store == "" || strings.ContainsAny(store, `/\`) || store == "." || store == ".." {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStore, store)
	}
	dir := filepath.Join(s.Dir, store)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s (no directory %s)", ErrUnknownStore, store, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("read migrations of %s: %w", store, err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".yaml", ".yml", ".toml", ".json":
		default:
			continue
		}
		m, err := ReadMigrationFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, m)
	}

	if err := sortMigrations(migrations); err != nil {
		return nil, fmt.Errorf("store %s: %w", store, err)
	}
	return migrations, nil
}

// ReadMigrationFile decodes one migration file by extension and validates
// it against the embedded migration schema.
func ReadMigrationFile(path string) (Migration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Migration{}, fmt.Errorf("read migration %s: %w", path, err)
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	case ".json":
		err = json.Unmarshal(data, &raw)
	default:
		return Migration{}, fmt.Errorf("%w: %s", ErrUnsupportedFileType, path)
	}
	if err != nil {
		return Migration{}, fmt.Errorf("%w: %s: %w", ErrInvalidMigration, path, err)
	}

	// Normalise yaml/toml values to JSON types before validation.
	normalized, err := json.Marshal(raw)
	if err != nil {
		return Migration{}, fmt.Errorf("%w: %s: %w", ErrInvalidMigration, path, err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(normalized))
	if err != nil {
		return Migration{}, fmt.Errorf("%w: %s: %w", ErrInvalidMigration, path, err)
	}

	schema, err := compiledSchema()
	if err != nil {
		return Migration{}, err
	}
	if err := schema.Validate(doc); err != nil {
		return Migration{}, fmt.Errorf("%w: %s: %w", ErrInvalidMigration, path, err)
	}

	var m Migration
	if err := json.Unmarshal(normalized, &m); err != nil {
		return Migration{}, fmt.Errorf("%w: %s: %w", ErrInvalidMigration, path, err)
	}
	return m, nil
}
