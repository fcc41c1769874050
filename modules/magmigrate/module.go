// Package magmigrate provides the versioned schema migration engine and
// the "magmigrate" component that runs it against configured stores.
package magmigrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	// database/sql drivers for the supported store drivers
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/GoCodeAlone/magkernel"
	"github.com/GoCodeAlone/magkernel/config"
	"github.com/GoCodeAlone/magkernel/health"
	"github.com/GoCodeAlone/magkernel/logging"
)

// ModuleName is the component name.
const ModuleName = "magmigrate"

// Open connects every store in cfg and returns an engine over cfg.SourceDir.
// The returned close function releases the connections.
func Open(ctx context.Context, cfg *Config, opts ...Option) (*Engine, func() error, error) {
	engine := NewEngine(NewDirSource(cfg.SourceDir), opts...)

	var dbs []*sql.DB
	closeAll := func() error {
		var errs []error
		for _, db := range dbs {
			errs = append(errs, db.Close())
		}
		return errors.Join(errs...)
	}

	names := make([]string, 0, len(cfg.Stores))
	for name := range cfg.Stores {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sc := cfg.Stores[name]
		db, err := sql.Open(sc.Driver, sc.DSN)
		if err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("open store %s: %w", name, err)
		}
		dbs = append(dbs, db)
		if err := db.PingContext(ctx); err != nil {
			_ = closeAll()
			return nil, nil, fmt.Errorf("connect store %s: %w", name, err)
		}
		if err := engine.AddStore(ctx, name, db, sc.Driver); err != nil {
			_ = closeAll()
			return nil, nil, err
		}
	}
	return engine, closeAll, nil
}

// DecodeConfig turns a component section into a validated Config.
func DecodeConfig(section map[string]any) (*Config, error) {
	cfg := &Config{}
	if err := config.Decode(section, cfg); err != nil {
		return nil, err
	}
	for name, sc := range cfg.Stores {
		if err := config.ProcessDefaults(&sc); err != nil {
			return nil, fmt.Errorf("store %s: %w", name, err)
		}
		if err := config.ValidateRequired(&sc); err != nil {
			return nil, fmt.Errorf("store %s: %w", name, err)
		}
		switch sc.Driver {
		case DriverSQLite, DriverPostgres:
		default:
			return nil, fmt.Errorf("store %s: %w: %s", name, ErrUnsupportedDriver, sc.Driver)
		}
		cfg.Stores[name] = sc
	}
	return cfg, nil
}

// Module is the magmigrate component.
type Module struct {
	mu     sync.RWMutex
	config *Config
	engine *Engine
	close  func() error

	kernel *magkernel.Kernel
	logger logging.Logger
}

var (
	_ magkernel.Component      = (*Module)(nil)
	_ magkernel.Configurable   = (*Module)(nil)
	_ magkernel.Bootable       = (*Module)(nil)
	_ magkernel.Shutdownable   = (*Module)(nil)
	_ magkernel.HealthReporter = (*Module)(nil)
	_ magkernel.KernelAware    = (*Module)(nil)
)

// NewModule creates the component with no stores.
func NewModule() *Module {
	return &Module{
		config: &Config{SourceDir: "migrations"},
		logger: logging.Nop(),
	}
}

func (m *Module) Name() string           { return ModuleName }
func (m *Module) Version() string        { return "1.0.0" }
func (m *Module) Dependencies() []string { return nil }

// SetKernel wires the kernel logger, bus and telemetry into the engine.
func (m *Module) SetKernel(k *magkernel.Kernel) {
	m.kernel = k
	m.logger = k.Logger()
}

// Configure decodes the section. Store changes take effect on the next Boot.
func (m *Module) Configure(section map[string]any) error {
	cfg, err := DecodeConfig(section)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Boot connects every store, creates the records tables and, with
// auto_migrate, applies pending migrations. Stores opened by an earlier boot
// are closed first.
func (m *Module) Boot(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.closeLocked(); err != nil {
		m.logger.Warn("Failed to close previous migration stores", "error", err)
	}

	opts := []Option{WithLogger(m.logger)}
	if m.kernel != nil {
		opts = append(opts, WithPublisher(m.kernel.Bus()), WithMetrics(m.kernel.Telemetry()))
	}

	engine, closeFn, err := Open(ctx, m.config, opts...)
	if err != nil {
		return err
	}
	m.engine, m.close = engine, closeFn

	if !m.config.AutoMigrate {
		return nil
	}
	for _, name := range engine.Stores() {
		applied, err := engine.MigrateUp(ctx, name, 0)
		if err != nil {
			_ = m.closeLocked()
			return fmt.Errorf("auto migrate %s after %d migrations: %w", name, len(applied), err)
		}
	}
	return nil
}

// Shutdown closes every store connection.
func (m *Module) Shutdown(_ context.Context, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *Module) closeLocked() error {
	if m.close == nil {
		return nil
	}
	err := m.close()
	m.engine, m.close = nil, nil
	return err
}

// Health pings every store.
func (m *Module) Health(ctx context.Context) health.Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.engine == nil {
		return health.Unhealthy("migration stores not connected")
	}
	stores := m.engine.Stores()
	if err := m.engine.Ping(ctx); err != nil {
		return health.Unhealthy(err.Error())
	}
	report := health.Healthy(fmt.Sprintf("%d stores reachable", len(stores)))
	report.Details = map[string]any{"stores": stores}
	return report
}

// Engine returns the migration engine, or nil before Boot.
func (m *Module) Engine() *Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine
}
