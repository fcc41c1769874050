package magmigrate

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// DefaultTableName is the table holding applied migration records.
const DefaultTableName = "magmigrate_applied"

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// validateTableName validates table name to prevent SQL injection
func validateTableName(tableName string) error {
	if !tableNamePattern.MatchString(tableName) {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, tableName)
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Repository records which migrations of which store are applied. Rows are
// keyed by (store, migration_id), so a second insert of the same migration
// fails inside the applying transaction.
type Repository struct {
	db     *sql.DB
	driver string
	table  string
}

// NewRepository binds a repository to db. driver selects the placeholder
// style: "?" for sqlite, "$n" for postgres.
func NewRepository(db *sql.DB, driver string) (*Repository, error) {
	if db == nil {
		return nil, ErrDatabaseNil
	}
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, driver)
	}
	return &Repository{db: db, driver: driver, table: DefaultTableName}, nil
}

// DB returns the underlying handle.
func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) placeholder(n int) string {
	if r.driver == DriverPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// EnsureTable creates the records table if it does not exist.
func (r *Repository) EnsureTable(ctx context.Context) error {
	if err := validateTableName(r.table); err != nil {
		return err
	}
	// #nosec G201 - table name is validated above
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		store TEXT NOT NULL,
		migration_id TEXT NOT NULL,
		applied_at TEXT NOT NULL,
		PRIMARY KEY (store, migration_id)
	)`, r.table)
	if _, err := r.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// Applied returns the applied migration ids of store with their apply time.
func (r *Repository) Applied(ctx context.Context, store string) (map[string]time.Time, error) {
	// #nosec G201 - table name is validated in EnsureTable
	query := fmt.Sprintf("SELECT migration_id, applied_at FROM %s WHERE store = %s", r.table, r.placeholder(1))
	rows, err := r.db.QueryContext(ctx, query, store)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]time.Time)
	for rows.Next() {
		var id, at string
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		appliedAt, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("migration %s has malformed applied_at %q: %w", id, at, err)
		}
		applied[id] = appliedAt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migration rows: %w", err)
	}
	return applied, nil
}

func (r *Repository) record(ctx context.Context, tx execer, store, id string, at time.Time) error {
	// #nosec G201 - table name is validated in EnsureTable
	query := fmt.Sprintf("INSERT INTO %s (store, migration_id, applied_at) VALUES (%s, %s, %s)",
		r.table, r.placeholder(1), r.placeholder(2), r.placeholder(3))
	if _, err := tx.ExecContext(ctx, query, store, id, at.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", id, err)
	}
	return nil
}

func (r *Repository) remove(ctx context.Context, tx execer, store, id string) error {
	// #nosec G201 - table name is validated in EnsureTable
	query := fmt.Sprintf("DELETE FROM %s WHERE store = %s AND migration_id = %s",
		r.table, r.placeholder(1), r.placeholder(2))
	if _, err := tx.ExecContext(ctx, query, store, id); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", id, err)
	}
	return nil
}
