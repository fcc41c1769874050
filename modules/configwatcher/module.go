// Package configwatcher provides the "configwatcher" component. It watches
// the kernel configuration file and, when it changes, reloads it and hands
// every changed component section to Kernel.Reconfigure.
//
// A file that fails to load is logged and ignored; the last good
// configuration stays in effect. A changed log level is applied to the
// kernel logger when the logger supports it.
package configwatcher

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/GoCodeAlone/magkernel"
	"github.com/GoCodeAlone/magkernel/config"
	"github.com/GoCodeAlone/magkernel/health"
	"github.com/GoCodeAlone/magkernel/logging"
)

const (
	// ModuleName is the component name.
	ModuleName = "configwatcher"

	// EventReloaded is published after a reload that changed at least one
	// component section.
	EventReloaded = "config.reloaded"

	// MetricReloads counts reload attempts by result.
	MetricReloads = "config_reloads_total"
)

// LevelSetter is implemented by loggers whose level can change at runtime.
type LevelSetter interface {
	SetLevel(level string) error
}

// ReloadResult describes one reload.
type ReloadResult struct {
	Changed []string `json:"changed"`
	Failed  []string `json:"failed,omitempty"`
}

// Module is the config watcher component.
type Module struct {
	path   string
	kernel *magkernel.Kernel
	logger logging.Logger

	// mu is released before waiting on the watcher, whose callback takes it.
	mu       sync.Mutex
	config   *Config
	watcher  *Watcher
	current  *config.Config
	lastErr  error
	reloads  int
	lastLoad time.Time
}

var (
	_ magkernel.Component      = (*Module)(nil)
	_ magkernel.Configurable   = (*Module)(nil)
	_ magkernel.Bootable       = (*Module)(nil)
	_ magkernel.Startable      = (*Module)(nil)
	_ magkernel.Stoppable      = (*Module)(nil)
	_ magkernel.Shutdownable   = (*Module)(nil)
	_ magkernel.HealthReporter = (*Module)(nil)
	_ magkernel.KernelAware    = (*Module)(nil)
)

// NewModule creates the component for the config file at path.
func NewModule(path string) *Module {
	cfg := &Config{}
	_ = config.ProcessDefaults(cfg)
	return &Module{path: path, config: cfg, logger: logging.Nop()}
}

func (m *Module) Name() string           { return ModuleName }
func (m *Module) Version() string        { return "1.0.0" }
func (m *Module) Dependencies() []string { return nil }
func (m *Module) Optional() bool         { return true }

func (m *Module) SetKernel(k *magkernel.Kernel) {
	m.kernel = k
	m.logger = k.Logger()
}

func (m *Module) Configure(section map[string]any) error {
	cfg := &Config{}
	if err := config.Decode(section, cfg); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Boot loads the file once as the baseline for change detection.
func (m *Module) Boot(context.Context) error {
	if m.kernel == nil {
		return ErrNoKernel
	}
	path := m.watchedPath()
	if path == "" {
		return ErrNoConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	if w := m.currentWatcher(); w != nil {
		if err := w.Stop(); err != nil {
			m.logger.Warn("Failed to stop previous watcher", "error", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = cfg
	m.lastLoad = time.Now()
	m.watcher = NewWatcher(path, m.config.Debounce, m.logger, func(ctx context.Context) {
		_, _ = m.Reload(ctx)
	})
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	w := m.currentWatcher()
	if w == nil {
		return ErrNotBooted
	}
	return w.Start(ctx)
}

func (m *Module) Stop(context.Context) error {
	if w := m.currentWatcher(); w != nil {
		return w.Stop()
	}
	return nil
}

func (m *Module) Shutdown(ctx context.Context, _ time.Duration) error {
	return m.Stop(ctx)
}

func (m *Module) currentWatcher() *Watcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watcher
}

// Reload re-reads the file and reconfigures every component whose section
// differs from the last good load. Sections of unregistered components are
// ignored.
func (m *Module) Reload(ctx context.Context) (ReloadResult, error) {
	next, err := config.Load(m.watchedPath())
	if err != nil {
		m.mu.Lock()
		m.lastErr = err
		m.mu.Unlock()
		m.logger.Error("Failed to reload config, keeping previous", "path", m.watchedPath(), "error", err)
		m.count("failure")
		return ReloadResult{}, err
	}

	m.mu.Lock()
	prev := m.current
	m.current = next
	m.lastErr = nil
	m.reloads++
	m.lastLoad = time.Now()
	m.mu.Unlock()

	if prev != nil && prev.Log.Level != next.Log.Level {
		if setter, ok := m.kernel.Logger().(LevelSetter); ok {
			if err := setter.SetLevel(next.Log.Level); err != nil {
				m.logger.Warn("Failed to apply log level", "level", next.Log.Level, "error", err)
			} else {
				m.logger.Info("Applied log level", "level", next.Log.Level)
			}
		}
	}

	var result ReloadResult
	for _, name := range changedSections(prev, next) {
		if _, err := m.kernel.Component(name); err != nil {
			continue
		}
		if err := m.kernel.Reconfigure(ctx, name, next.Section(name)); err != nil {
			m.logger.Error("Failed to reconfigure component", "component", name, "error", err)
			result.Failed = append(result.Failed, name)
			continue
		}
		result.Changed = append(result.Changed, name)
	}

	m.count("success")
	if len(result.Changed) > 0 || len(result.Failed) > 0 {
		m.logger.Info("Config reloaded", "changed", result.Changed, "failed", result.Failed)
		if err := m.kernel.Bus().Emit(ctx, EventReloaded, result); err != nil {
			m.logger.Debug("Reload event handler failed", "error", err)
		}
	}
	return result, nil
}

func (m *Module) Health(context.Context) health.Report {
	m.mu.Lock()
	lastErr, reloads, lastLoad, w := m.lastErr, m.reloads, m.lastLoad, m.watcher
	m.mu.Unlock()

	report := health.Healthy("watching " + m.watchedPath())
	if w == nil || !w.Running() {
		report.Status = health.StatusDegraded
		report.Message = "not watching"
	}
	if lastErr != nil {
		report.Status = health.StatusDegraded
		report.Message = "last reload failed: " + lastErr.Error()
	}
	report.Details = map[string]any{"reloads": reloads, "last_load": lastLoad}
	return report
}

func (m *Module) watchedPath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config.Path != "" {
		return m.config.Path
	}
	return m.path
}

func (m *Module) count(result string) {
	if err := m.kernel.Telemetry().IncrementCounter(MetricReloads, 1, map[string]string{"result": result}); err != nil {
		m.logger.Debug("Failed to record reload metric", "error", err)
	}
}

// changedSections returns the component names whose sections were added,
// removed or modified, sorted.
func changedSections(prev, next *config.Config) []string {
	names := make(map[string]struct{})
	if prev != nil {
		for name := range prev.Components {
			names[name] = struct{}{}
		}
	}
	for name := range next.Components {
		names[name] = struct{}{}
	}

	var changed []string
	for name := range names {
		var before map[string]any
		if prev != nil {
			before = prev.Components[name]
		}
		if !reflect.DeepEqual(before, next.Components[name]) {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}
