package magmigrate

import (
	"errors"
	"fmt"
)

// Static errors for the migration engine
var (
	ErrUnknownStore        = errors.New("unknown migration store")
	ErrStatementExecution  = errors.New("migration statement failed")
	ErrDuplicateMigration  = errors.New("duplicate migration id")
	ErrInvalidMigration    = errors.New("invalid migration file")
	ErrMigrationNotFound   = errors.New("applied migration not found in source")
	ErrUnsupportedDriver   = errors.New("unsupported database driver")
	ErrStoreExists         = errors.New("migration store already configured")
	ErrInvalidTableName    = errors.New("invalid table name")
	ErrDatabaseNil         = errors.New("database handle is nil")
	ErrUnsupportedFileType = errors.New("unsupported migration file type")
)

// StatementExecutionError reports the statement that failed while applying
// or reverting a migration. Nothing was recorded for that migration.
type StatementExecutionError struct {
	Store       string
	MigrationID string
	// Index is the position of the statement within the Up or Down list.
	Index     int
	Statement string
	Err       error
}

func (e *StatementExecutionError) Error() string {
	return fmt.Sprintf("%s: store %s migration %s statement %d: %v",
		ErrStatementExecution, e.Store, e.MigrationID, e.Index, e.Err)
}

// Unwrap exposes both ErrStatementExecution and the driver error.
func (e *StatementExecutionError) Unwrap() []error {
	return []error{ErrStatementExecution, e.Err}
}
