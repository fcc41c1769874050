// Package magkernel is a pluggable application microkernel.
//
// Components are registered with a Kernel, which walks them in dependency
// order through a common lifecycle (boot, start, stop, shutdown, recover),
// persists every transition in the state document and announces it on the
// event bus.
//
// Basic usage:
//
//	k, err := magkernel.New(magkernel.WithStatePath("var/state.json"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	_ = k.Register(cache.New())
//	if err := k.BootAll(ctx); err != nil {
//		log.Print(err)
//	}
//	_ = k.StartAll(ctx)
//	defer k.ShutdownAll(ctx, 30*time.Second)
package magkernel

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/GoCodeAlone/magkernel/eventbus"
	"github.com/GoCodeAlone/magkernel/lifecycle"
	"github.com/GoCodeAlone/magkernel/logging"
	"github.com/GoCodeAlone/magkernel/registry"
	"github.com/GoCodeAlone/magkernel/state"
	"github.com/GoCodeAlone/magkernel/telemetry"
)

const (
	// DefaultStatePath is used when no state path or manager is configured.
	DefaultStatePath = "magkernel-state.json"

	// DefaultShutdownTimeout applies when ShutdownAll gets a non-positive timeout.
	DefaultShutdownTimeout = 30 * time.Second

	metricTransitions = "component_transitions_total"
)

// Option configures a Kernel.
type Option func(*Kernel)

// WithLogger sets the kernel logger. It is shared with the default event bus
// and state manager.
func WithLogger(l Logger) Option {
	return func(k *Kernel) { k.logger = logging.OrNop(l) }
}

// WithName sets the kernel name, used as the CloudEvent source.
func WithName(name string) Option {
	return func(k *Kernel) {
		if name != "" {
			k.name = name
		}
	}
}

// WithStatePath sets where the state document lives.
func WithStatePath(path string) Option {
	return func(k *Kernel) { k.statePath = path }
}

// WithStateManager injects a state manager. It is loaded by New.
func WithStateManager(m *state.Manager) Option {
	return func(k *Kernel) { k.state = m }
}

// WithEventBus injects an event bus.
func WithEventBus(b *eventbus.Bus) Option {
	return func(k *Kernel) { k.bus = b }
}

// WithTelemetry injects a telemetry registry.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(k *Kernel) { k.telemetry = t }
}

// Kernel owns the registry, event bus, state manager and telemetry, and
// drives every component through its lifecycle.
type Kernel struct {
	// lifecycleMu serializes BootAll, StartAll, StopAll, ShutdownAll and
	// Recover. Health and Reconfigure run outside it; components guard their
	// own fields.
	lifecycleMu sync.Mutex

	mu       sync.RWMutex
	states   map[string]lifecycle.State
	pending  map[string]map[string]any
	system   state.SystemState
	previous state.SystemState

	name      string
	statePath string
	registry  *registry.Registry[Component]
	bus       *eventbus.Bus
	state     *state.Manager
	telemetry *telemetry.Telemetry
	logger    Logger
}

// New builds a kernel and loads its state document. A corrupt document is
// recovered by the state manager; only a failure to write the defaults is
// returned.
func New(opts ...Option) (*Kernel, error) {
	k := &Kernel{
		name:      eventbus.DefaultSource,
		statePath: DefaultStatePath,
		logger:    logging.Nop(),
		registry:  registry.New[Component](),
		states:    make(map[string]lifecycle.State),
		pending:   make(map[string]map[string]any),
		system:    state.SystemStopped,
	}
	for _, opt := range opts {
		opt(k)
	}

	if k.telemetry == nil {
		k.telemetry = telemetry.New()
	}
	if k.bus == nil {
		k.bus = eventbus.New(
			eventbus.WithLogger(k.logger),
			eventbus.WithSource(k.name),
			eventbus.WithMetrics(k.telemetry),
		)
	}
	if k.state == nil {
		k.state = state.NewManager(k.statePath, state.WithLogger(k.logger))
	}
	if err := k.state.Load(); err != nil {
		return nil, fmt.Errorf("failed to load kernel state: %w", err)
	}

	// nothing is registered yet, so the last run's states no longer describe
	// this process
	k.previous = k.state.SystemState()
	k.system = aggregateSystemState(nil, nil)
	if err := k.state.ResetLifecycle(k.system); err != nil {
		return nil, fmt.Errorf("failed to reset kernel state: %w", err)
	}
	k.logger.Debug("Kernel state reset", "path", k.state.Path(), "previous", k.previous)
	return k, nil
}

// PreviousSystemState is the system state the document held when the kernel
// was created.
func (k *Kernel) PreviousSystemState() state.SystemState { return k.previous }

// Register adds a component. Names must be unique.
func (k *Kernel) Register(c Component) error {
	if c == nil {
		return ErrComponentNil
	}
	if err := k.registry.Register(c); err != nil {
		return err
	}

	name := c.Name()
	k.mu.Lock()
	k.states[name] = lifecycle.StateRegistered
	k.mu.Unlock()

	if err := k.state.SetComponentState(name, lifecycle.StateRegistered); err != nil {
		k.logger.Error("Failed to persist component state", "component", name, "error", err)
	}
	if aware, ok := c.(KernelAware); ok {
		aware.SetKernel(k)
	}
	k.logger.Info("Registered component", "component", name, "version", c.Version(), "dependencies", c.Dependencies())
	return nil
}

// Configure stores cfg for the named component. It is applied right before
// the component boots.
func (k *Kernel) Configure(name string, cfg map[string]any) error {
	if !k.registry.Has(name) {
		return fmt.Errorf("%w: %s", ErrComponentNotFound, name)
	}
	k.mu.Lock()
	k.pending[name] = maps.Clone(cfg)
	k.mu.Unlock()
	return nil
}

// Reconfigure applies cfg to a component that is already booted and emits
// config.changed. For a component that has not booted yet it behaves like
// Configure. It is not serialized with the lifecycle walks; Configurable
// implementations guard their own state.
func (k *Kernel) Reconfigure(ctx context.Context, name string, cfg map[string]any) error {
	c, err := k.Component(name)
	if err != nil {
		return err
	}
	switch k.ComponentState(name) {
	case lifecycle.StateRegistered, lifecycle.StateStopped, lifecycle.StateFailed:
		return k.Configure(name, cfg)
	}

	configurable, ok := c.(Configurable)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConfigurable, name)
	}
	if err := safeCall(func() error { return configurable.Configure(maps.Clone(cfg)) }); err != nil {
		return fmt.Errorf("failed to reconfigure component %s: %w", name, err)
	}
	k.logger.Info("Reconfigured component", "component", name)
	k.emit(ctx, lifecycle.EventConfigChanged, map[string]any{"component": name})
	return nil
}

// Component returns a registered component by name.
func (k *Kernel) Component(name string) (Component, error) {
	c, err := k.registry.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, name)
	}
	return c, nil
}

// Components returns every component in registration order.
func (k *Kernel) Components() []Component { return k.registry.All() }

// Order returns the component names in dependency order.
func (k *Kernel) Order() ([]string, error) {
	order, err := k.registry.ResolveOrder()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(order))
	for i, c := range order {
		names[i] = c.Name()
	}
	return names, nil
}

// ComponentState returns the current lifecycle state of a component, or ""
// when it is not registered.
func (k *Kernel) ComponentState(name string) lifecycle.State {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.states[name]
}

// ComponentStates returns a copy of all component states.
func (k *Kernel) ComponentStates() map[string]lifecycle.State {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return maps.Clone(k.states)
}

// SystemState returns the aggregate kernel state.
func (k *Kernel) SystemState() state.SystemState {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.system
}

// Name returns the kernel name.
func (k *Kernel) Name() string { return k.name }

// Bus returns the event bus.
func (k *Kernel) Bus() *eventbus.Bus { return k.bus }

// State returns the state manager.
func (k *Kernel) State() *state.Manager { return k.state }

// Telemetry returns the metrics registry.
func (k *Kernel) Telemetry() *telemetry.Telemetry { return k.telemetry }

// Logger returns the kernel logger.
func (k *Kernel) Logger() Logger { return k.logger }

// change describes one lifecycle transition.
type change struct {
	to     lifecycle.State
	phase  lifecycle.Phase
	event  string
	cause  error
	forced bool
	// expect, when set, makes the change conditional on the current state
	expect lifecycle.State
}

// transition moves a component to a new state, persists it and announces it.
// The event is emitted after the state document has been written. It reports
// whether the change was applied.
func (k *Kernel) transition(ctx context.Context, c Component, ch change) bool {
	name := c.Name()

	k.mu.Lock()
	from := k.states[name]
	if ch.expect != "" && from != ch.expect {
		k.mu.Unlock()
		return false
	}
	if err := lifecycle.CheckTransition(from, ch.to); err != nil {
		k.mu.Unlock()
		k.logger.Error("Rejected lifecycle transition", "component", name, "phase", ch.phase, "error", err)
		return false
	}
	k.states[name] = ch.to
	k.mu.Unlock()

	if err := k.state.SetComponentState(name, ch.to); err != nil {
		k.logger.Error("Failed to persist component state", "component", name, "state", ch.to, "error", err)
	}

	labels := map[string]string{"component": name, "state": string(ch.to)}
	if err := k.telemetry.IncrementCounter(metricTransitions, 1, labels); err != nil {
		k.logger.Debug("Failed to record transition metric", "component", name, "error", err)
	}

	event := lifecycle.Event{
		Component: name,
		Version:   c.Version(),
		Phase:     ch.phase,
		From:      from,
		To:        ch.to,
		Forced:    ch.forced,
		Timestamp: time.Now().UTC(),
	}
	if ch.cause != nil {
		event.Error = ch.cause.Error()
	}
	k.emit(ctx, ch.event, event)
	return true
}

// fail records a lifecycle failure.
func (k *Kernel) fail(ctx context.Context, c Component, err *ComponentLifecycleError) {
	k.logger.Error("Component failed", "component", err.Component, "phase", err.Phase, "error", err.Err)
	k.transition(ctx, c, change{
		to:    lifecycle.StateFailed,
		phase: err.Phase,
		event: lifecycle.EventComponentFailed,
		cause: err.Err,
	})
}

func (k *Kernel) emit(ctx context.Context, name string, payload any) {
	if err := k.bus.Emit(ctx, name, payload); err != nil {
		k.logger.Debug("Event delivered with errors", "event", name, "error", err)
	}
}

// refreshSystemState derives the system state from the component states and
// persists and announces it when it changed.
func (k *Kernel) refreshSystemState(ctx context.Context) state.SystemState {
	k.mu.RLock()
	next := aggregateSystemState(k.registry.All(), k.states)
	k.mu.RUnlock()
	k.setSystemState(ctx, next)
	return next
}

func (k *Kernel) setSystemState(ctx context.Context, next state.SystemState) {
	k.mu.Lock()
	prev := k.system
	k.system = next
	k.mu.Unlock()

	if err := k.state.SetSystemState(next); err != nil {
		k.logger.Error("Failed to persist system state", "state", next, "error", err)
	}
	if prev == next {
		return
	}
	k.logger.Info("Kernel state changed", "from", prev, "to", next)
	k.emit(ctx, lifecycle.EventKernelStateChanged, lifecycle.KernelStateEvent{
		From:      string(prev),
		To:        string(next),
		Timestamp: time.Now().UTC(),
	})
}

// aggregateSystemState: running when every required component runs and none
// is failed or degraded; degraded when something still serves but that does
// not hold; stopped otherwise.
func aggregateSystemState(components []Component, states map[string]lifecycle.State) state.SystemState {
	if len(components) == 0 {
		return state.SystemStopped
	}

	serving, impaired, requiredRunning := false, false, true
	for _, c := range components {
		st := states[c.Name()]
		if st.Serving() {
			serving = true
		}
		if st == lifecycle.StateFailed || st == lifecycle.StateDegraded {
			impaired = true
		}
		if !isOptional(c) && st != lifecycle.StateRunning {
			requiredRunning = false
		}
	}

	switch {
	case serving && requiredRunning && !impaired:
		return state.SystemRunning
	case serving:
		return state.SystemDegraded
	default:
		return state.SystemStopped
	}
}

// safeCall runs fn and turns a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrComponentPanicked, r)
		}
	}()
	return fn()
}
