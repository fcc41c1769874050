// Package cache provides the "cache" component: a key/value store with
// per-entry ttl backed by memory or redis.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GoCodeAlone/magkernel"
	"github.com/GoCodeAlone/magkernel/config"
	"github.com/GoCodeAlone/magkernel/health"
	"github.com/GoCodeAlone/magkernel/logging"
)

// ModuleName is the component name.
const ModuleName = "cache"

// Engine names accepted in Config.Engine.
const (
	EngineMemory = "memory"
	EngineRedis  = "redis"
)

// Module is the cache component. Its Manager is usable after Boot.
type Module struct {
	// mu guards config and manager; health checks and reloads arrive from
	// other goroutines.
	mu      sync.RWMutex
	config  *Config
	manager *Manager

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

// NewModule creates a cache component with the memory engine defaults.
func NewModule() *Module {
	return &Module{
		config: &Config{Engine: EngineMemory, MaxItems: 10000},
		logger: logging.Nop(),
	}
}

func (m *Module) Name() string           { return ModuleName }
func (m *Module) Version() string        { return "1.0.0" }
func (m *Module) Dependencies() []string { return nil }

// SetKernel attaches the kernel logger and telemetry.
func (m *Module) SetKernel(k *magkernel.Kernel) {
	m.kernel = k
	m.logger = k.Logger()
}

// Configure decodes the component section. A new engine takes effect on the
// next Boot.
func (m *Module) Configure(section map[string]any) error {
	cfg := &Config{}
	if err := config.Decode(section, cfg); err != nil {
		return err
	}
	switch cfg.Engine {
	case EngineMemory:
	case EngineRedis:
		if cfg.RedisURL == "" {
			return fmt.Errorf("%w: redis_url", config.ErrConfigRequiredFieldMissing)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownEngine, cfg.Engine)
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Boot connects the configured engine. An engine left over from an earlier
// boot is closed first.
func (m *Module) Boot(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.closeLocked(ctx); err != nil {
		m.logger.Warn("Failed to close previous cache engine", "error", err)
	}

	var engine Engine
	switch m.config.Engine {
	case EngineRedis:
		engine = NewRedisEngine(m.config)
	default:
		engine = NewMemoryEngine(WithMaxItems(m.config.MaxItems))
	}

	if err := engine.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s cache: %w", m.config.Engine, err)
	}

	var metrics MetricsSink
	if m.kernel != nil {
		metrics = m.kernel.Telemetry()
	}
	m.manager = NewManager(engine, m.logger, metrics)
	m.logger.Info("Cache connected", "engine", m.config.Engine)
	return nil
}

// Shutdown closes the engine.
func (m *Module) Shutdown(ctx context.Context, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked(ctx)
}

func (m *Module) closeLocked(ctx context.Context) error {
	if m.manager == nil {
		return nil
	}
	engine := m.manager.Engine()
	m.manager = nil
	if err := engine.Close(ctx); err != nil {
		return fmt.Errorf("close %s cache: %w", m.config.Engine, err)
	}
	m.logger.Info("Cache closed", "engine", m.config.Engine)
	return nil
}

// Health pings the engine.
func (m *Module) Health(ctx context.Context) health.Report {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.manager == nil {
		return health.Unhealthy("cache not connected")
	}
	if err := m.manager.Engine().Ping(ctx); err != nil {
		return health.Unhealthy(err.Error())
	}
	report := health.Healthy(m.config.Engine + " cache reachable")
	report.Details = map[string]any{"engine": m.config.Engine}
	return report
}

// Manager returns the cache API, or nil before Boot.
func (m *Module) Manager() *Manager {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.manager
}
