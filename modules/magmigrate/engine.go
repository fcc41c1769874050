package magmigrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/GoCodeAlone/magkernel/logging"
)

// Event names emitted through the Publisher.
const (
	EventMigrationApplied   = "migration.applied"
	EventMigrationReverted  = "migration.reverted"
	EventMigrationBaselined = "migration.baselined"
)

// MetricDuration is the histogram of per-migration apply/revert time.
const MetricDuration = "migration_duration_ms"

// Publisher announces migration events. *eventbus.Bus satisfies it.
type Publisher interface {
	Emit(ctx context.Context, name string, payload any) error
}

// Metrics records migration timings. *telemetry.Telemetry satisfies it.
type Metrics interface {
	ObserveDuration(name string, d time.Duration, labels map[string]string) error
}

// MigrationStatus is a discovered migration annotated from the repository.
type MigrationStatus struct {
	Migration
	Applied   bool      `json:"applied"`
	AppliedAt time.Time `json:"applied_at,omitzero"`
}

type store struct {
	mu   sync.Mutex
	repo *Repository
}

// Engine runs migrations per named store. Operations on one store are
// serialized; different stores proceed independently.
type Engine struct {
	source    Source
	logger    logging.Logger
	publisher Publisher
	metrics   Metrics
	now       func() time.Time

	mu     sync.RWMutex
	stores map[string]*store
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) Option {
	return func(e *Engine) { e.logger = logging.OrNop(l) }
}

// WithPublisher announces applied, reverted and baselined migrations.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// WithMetrics records migration durations.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces time.Now for applied_at timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine reading migrations from source.
func NewEngine(source Source, opts ...Option) *Engine {
	e := &Engine{
		source: source,
		logger: logging.Nop(),
		now:    time.Now,
		stores: make(map[string]*store),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddStore attaches a database to a store name and creates its records
// table.
func (e *Engine) AddStore(ctx context.Context, name string, db *sql.DB, driver string) error {
	repo, err := NewRepository(db, driver)
	if err != nil {
		return err
	}
	if err := repo.EnsureTable(ctx); err != nil {
		return fmt.Errorf("store %s: %w", name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.stores[name]; exists {
		return fmt.Errorf("%w: %s", ErrStoreExists, name)
	}
	e.stores[name] = &store{repo: repo}
	return nil
}

// Stores returns the configured store names, sorted.
func (e *Engine) Stores() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.stores))
	for name := range e.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ping checks every store connection.
func (e *Engine) Ping(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for name, st := range e.stores {
		if err := st.repo.DB().PingContext(ctx); err != nil {
			return fmt.Errorf("store %s: %w", name, err)
		}
	}
	return nil
}

// lock returns the store locked, with its migrations and applied records.
// The caller must unlock st.mu.
func (e *Engine) lock(ctx context.Context, name string) (*store, []Migration, map[string]time.Time, error) {
	e.mu.RLock()
	st, ok := e.stores[name]
	e.mu.RUnlock()
	if !ok {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrUnknownStore, name)
	}

	migrations, err := e.source.Load(name)
	if err != nil {
		return nil, nil, nil, err
	}

	st.mu.Lock()
	applied, err := st.repo.Applied(ctx, name)
	if err != nil {
		st.mu.Unlock()
		return nil, nil, nil, fmt.Errorf("store %s: %w", name, err)
	}
	return st, migrations, applied, nil
}

// Status lists every discovered migration of storeName in ascending ID
// order with its applied flag.
func (e *Engine) Status(ctx context.Context, storeName string) ([]MigrationStatus, error) {
	st, migrations, applied, err := e.lock(ctx, storeName)
	if err != nil {
		return nil, err
	}
	defer st.mu.Unlock()

	out := make([]MigrationStatus, len(migrations))
	for i, m := range migrations {
		at, ok := applied[m.ID]
		out[i] = MigrationStatus{Migration: m, Applied: ok, AppliedAt: at}
	}
	return out, nil
}

// MigrateUp applies pending migrations in ascending ID order, at most limit
// of them (limit <= 0 applies all). Each migration runs in its own
// transaction together with its applied record. On failure the migrations
// applied so far are returned with the error; they stay applied.
func (e *Engine) MigrateUp(ctx context.Context, storeName string, limit int) ([]Migration, error) {
	st, migrations, applied, err := e.lock(ctx, storeName)
	if err != nil {
		return nil, err
	}
	defer st.mu.Unlock()

	var done []Migration
	for _, m := range migrations {
		if limit > 0 && len(done) >= limit {
			break
		}
		if _, ok := applied[m.ID]; ok {
			continue
		}
		if err := e.run(ctx, st.repo, storeName, m, m.Up, true); err != nil {
			return done, err
		}
		done = append(done, m)
	}

	if len(done) > 0 {
		e.logger.Info("Migrations applied", "store", storeName, "count", len(done))
	} else {
		e.logger.Debug("No pending migrations", "store", storeName)
	}
	return done, nil
}

// MigrateDown reverts the steps most recently applied migrations (steps <= 0
// reverts one), highest ID first. Failure handling matches MigrateUp.
func (e *Engine) MigrateDown(ctx context.Context, storeName string, steps int) ([]Migration, error) {
	st, migrations, applied, err := e.lock(ctx, storeName)
	if err != nil {
		return nil, err
	}
	defer st.mu.Unlock()

	if steps <= 0 {
		steps = 1
	}

	byID := make(map[string]Migration, len(migrations))
	for _, m := range migrations {
		byID[m.ID] = m
	}
	ids := make([]string, 0, len(applied))
	for id := range applied {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))

	var done []Migration
	for _, id := range ids {
		if len(done) >= steps {
			break
		}
		m, ok := byID[id]
		if !ok {
			return done, fmt.Errorf("%w: store %s migration %s", ErrMigrationNotFound, storeName, id)
		}
		if err := e.run(ctx, st.repo, storeName, m, m.Down, false); err != nil {
			return done, err
		}
		done = append(done, m)
	}

	if len(done) > 0 {
		e.logger.Info("Migrations reverted", "store", storeName, "count", len(done))
	}
	return done, nil
}

// Baseline records every unapplied migration with ID <= uptoID as applied
// without running its statements.
func (e *Engine) Baseline(ctx context.Context, storeName, uptoID string) ([]Migration, error) {
	st, migrations, applied, err := e.lock(ctx, storeName)
	if err != nil {
		return nil, err
	}
	defer st.mu.Unlock()

	var marked []Migration
	for _, m := range migrations {
		if m.ID > uptoID {
			break
		}
		if _, ok := applied[m.ID]; ok {
			continue
		}
		if err := st.repo.record(ctx, st.repo.DB(), storeName, m.ID, e.now()); err != nil {
			return marked, fmt.Errorf("store %s: %w", storeName, err)
		}
		marked = append(marked, m)
		e.publish(ctx, EventMigrationBaselined, storeName, m)
	}

	e.logger.Info("Migrations baselined", "store", storeName, "upto", uptoID, "count", len(marked))
	return marked, nil
}

// run executes statements and then writes (up) or deletes (down) the
// applied record, all in one transaction.
func (e *Engine) run(ctx context.Context, repo *Repository, storeName string, m Migration, statements []string, up bool) (err error) {
	start := time.Now()
	direction := "up"
	if !up {
		direction = "down"
	}

	tx, err := repo.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				e.logger.Error("Migration rollback failed", "store", storeName, "migration", m.ID, "error", rollbackErr)
			}
			e.logger.Error("Migration failed", "store", storeName, "migration", m.ID, "direction", direction, "error", err)
		}
	}()

	for i, stmt := range statements {
		if _, err = tx.ExecContext(ctx, stmt); err != nil {
			return &StatementExecutionError{Store: storeName, MigrationID: m.ID, Index: i, Statement: stmt, Err: err}
		}
	}

	if up {
		err = repo.record(ctx, tx, storeName, m.ID, e.now())
	} else {
		err = repo.remove(ctx, tx, storeName, m.ID)
	}
	if err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", m.ID, err)
	}

	elapsed := time.Since(start)
	if e.metrics != nil {
		if merr := e.metrics.ObserveDuration(MetricDuration, elapsed, map[string]string{"store": storeName, "direction": direction}); merr != nil {
			e.logger.Debug("Failed to record migration duration", "error", merr)
		}
	}

	event := EventMigrationApplied
	if !up {
		event = EventMigrationReverted
	}
	e.publish(ctx, event, storeName, m)
	e.logger.Debug("Migration finished", "store", storeName, "migration", m.ID, "direction", direction, "duration", elapsed)
	return nil
}

func (e *Engine) publish(ctx context.Context, name, storeName string, m Migration) {
	if e.publisher == nil {
		return
	}
	payload := map[string]any{
		"store":        storeName,
		"migration_id": m.ID,
		"description":  m.Description,
	}
	if err := e.publisher.Emit(ctx, name, payload); err != nil {
		e.logger.Warn("Migration event handler failed", "event", name, "error", err)
	}
}
