// Package eventlogger provides the "eventlogger" component, which writes
// every event published on the kernel bus to one or more output targets.
//
// The component subscribes to "*" at Boot and unsubscribes at Stop and
// Shutdown. Events are assigned a level from their name: component.failed
// is ERROR, component.degraded and forced transitions are WARN, and
// everything else is INFO. Entries below the configured level and events
// matching none of the configured patterns are dropped.
package eventlogger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/GoCodeAlone/magkernel"
	"github.com/GoCodeAlone/magkernel/config"
	"github.com/GoCodeAlone/magkernel/eventbus"
	"github.com/GoCodeAlone/magkernel/health"
	"github.com/GoCodeAlone/magkernel/lifecycle"
	"github.com/GoCodeAlone/magkernel/logging"
)

// ModuleName is the component name.
const ModuleName = "eventlogger"

// Module is the event logger component.
type Module struct {
	config  *Config
	filters []glob.Glob
	kernel  *magkernel.Kernel
	logger  logging.Logger
	targets []OutputTarget

	mu           sync.Mutex
	subscription eventbus.Subscription
	logged       uint64
	writeErrors  uint64
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

// NewModule creates the component with default settings.
func NewModule() *Module {
	cfg := &Config{}
	_ = config.ProcessDefaults(cfg)
	return &Module{config: cfg, logger: logging.Nop()}
}

func (m *Module) Name() string           { return ModuleName }
func (m *Module) Version() string        { return "1.0.0" }
func (m *Module) Dependencies() []string { return nil }
func (m *Module) Optional() bool         { return true }

func (m *Module) SetKernel(k *magkernel.Kernel) {
	m.kernel = k
	m.logger = k.Logger()
}

// Configure decodes and validates the section. Level and pattern changes
// apply to the next event; output changes apply on the next Boot.
func (m *Module) Configure(section map[string]any) error {
	cfg := &Config{}
	if err := config.Decode(section, cfg); err != nil {
		return err
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if _, ok := levels[cfg.Level]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalidLogLevel, cfg.Level)
	}
	filters := make([]glob.Glob, 0, len(cfg.Events))
	for _, pattern := range cfg.Events {
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return fmt.Errorf("%w %q: %w", ErrInvalidEventPattern, pattern, err)
		}
		filters = append(filters, g)
	}
	for i := range cfg.Outputs {
		if err := config.ProcessDefaults(&cfg.Outputs[i]); err != nil {
			return err
		}
		if _, err := NewOutputTarget(cfg.Outputs[i], nil); err != nil {
			return &OutputTargetError{Index: i, Err: err}
		}
	}
	m.mu.Lock()
	m.config, m.filters = cfg, filters
	m.mu.Unlock()
	return nil
}

// Boot opens the output targets and subscribes to the bus. Targets opened by
// an earlier boot are closed.
func (m *Module) Boot(context.Context) error {
	if m.kernel == nil {
		return ErrNoKernel
	}

	m.mu.Lock()
	outputs := m.config.Outputs
	m.mu.Unlock()
	if len(outputs) == 0 {
		outputs = []OutputConfig{{Type: "log"}}
	}

	targets := make([]OutputTarget, 0, len(outputs))
	for i, oc := range outputs {
		target, err := NewOutputTarget(oc, m.logger)
		if err != nil {
			closeTargets(targets)
			return &OutputTargetError{Index: i, Err: err}
		}
		if err := target.Open(); err != nil {
			closeTargets(targets)
			return &OutputTargetError{Index: i, Err: err}
		}
		targets = append(targets, target)
	}
	m.mu.Lock()
	previous := m.targets
	m.targets = targets
	m.mu.Unlock()
	if err := closeTargets(previous); err != nil {
		m.logger.Warn("Failed to close previous output targets", "error", err)
	}

	return m.subscribe()
}

// Start resubscribes after a Stop.
func (m *Module) Start(context.Context) error {
	return m.subscribe()
}

// Stop unsubscribes; targets stay open until Shutdown.
func (m *Module) Stop(context.Context) error {
	m.unsubscribe()
	return nil
}

// Shutdown unsubscribes and closes every target.
func (m *Module) Shutdown(context.Context, time.Duration) error {
	m.unsubscribe()
	m.mu.Lock()
	targets := m.targets
	m.targets = nil
	m.mu.Unlock()
	return closeTargets(targets)
}

func (m *Module) Health(context.Context) health.Report {
	m.mu.Lock()
	subscribed := m.subscription != nil
	logged, failed := m.logged, m.writeErrors
	targets := len(m.targets)
	m.mu.Unlock()

	report := health.Healthy(fmt.Sprintf("%d events logged", logged))
	if !subscribed {
		report.Status = health.StatusDegraded
		report.Message = "not subscribed to the event bus"
	}
	if failed > 0 {
		report.Status = health.StatusDegraded
		report.Message = fmt.Sprintf("%d write errors", failed)
	}
	report.Details = map[string]any{"logged": logged, "write_errors": failed, "targets": targets}
	return report
}

func (m *Module) subscribe() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscription != nil {
		return nil
	}
	sub, err := m.kernel.Bus().Subscribe("*", m.onEvent)
	if err != nil {
		return fmt.Errorf("failed to subscribe event logger: %w", err)
	}
	m.subscription = sub
	return nil
}

func (m *Module) unsubscribe() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscription != nil {
		m.subscription.Unsubscribe()
		m.subscription = nil
	}
}

// onEvent never returns an error: a broken target must not fail the
// publisher.
func (m *Module) onEvent(_ context.Context, event eventbus.Event) error {
	m.mu.Lock()
	cfg, filters, targets := m.config, m.filters, m.targets
	m.mu.Unlock()

	if !shouldLogEvent(filters, event.Type()) {
		return nil
	}

	var data any
	if len(event.Data()) > 0 {
		if err := event.DataAs(&data); err != nil {
			data = string(event.Data())
		}
	}

	entry := &LogEntry{
		Timestamp: event.Time(),
		Level:     eventLevel(event.Type(), data),
		Type:      event.Type(),
		Source:    event.Source(),
		ID:        event.ID(),
		Data:      data,
	}
	if !shouldLogLevel(entry.Level, cfg.Level) {
		return nil
	}

	var errs []error
	for _, target := range targets {
		if err := target.WriteEvent(entry); err != nil {
			errs = append(errs, err)
		}
	}

	m.mu.Lock()
	m.logged++
	if len(errs) > 0 {
		m.writeErrors++
	}
	m.mu.Unlock()

	if err := errors.Join(errs...); err != nil {
		m.logger.Warn("Failed to write event", "event", entry.Type, "error", err)
	}
	return nil
}

func shouldLogEvent(filters []glob.Glob, name string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, g := range filters {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func eventLevel(name string, data any) string {
	switch name {
	case lifecycle.EventComponentFailed:
		return "ERROR"
	case lifecycle.EventComponentDegraded:
		return "WARN"
	}
	if payload, ok := data.(map[string]any); ok {
		if forced, _ := payload["forced"].(bool); forced {
			return "WARN"
		}
	}
	if strings.HasSuffix(name, ".failed") {
		return "ERROR"
	}
	return "INFO"
}

func closeTargets(targets []OutputTarget) error {
	var errs []error
	for _, t := range targets {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
