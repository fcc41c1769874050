package magkernel

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/magkernel/eventbus"
	"github.com/GoCodeAlone/magkernel/health"
	"github.com/GoCodeAlone/magkernel/internal/testutil"
	"github.com/GoCodeAlone/magkernel/lifecycle"
	"github.com/GoCodeAlone/magkernel/state"
)

type recordedEvent struct {
	name    string
	payload lifecycle.Event
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) handle(_ context.Context, e eventbus.Event) error {
	var payload lifecycle.Event
	if err := e.DataAs(&payload); err != nil {
		return err
	}
	r.mu.Lock()
	r.events = append(r.events, recordedEvent{name: e.Type(), payload: payload})
	r.mu.Unlock()
	return nil
}

func (r *eventRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.name + ":" + e.payload.Component
	}
	return out
}

func (r *eventRecorder) find(name, component string) (lifecycle.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.name == name && e.payload.Component == component {
			return e.payload, true
		}
	}
	return lifecycle.Event{}, false
}

func newTestKernel(t *testing.T) (*Kernel, *eventRecorder) {
	t.Helper()
	k, err := New(WithStatePath(filepath.Join(t.TempDir(), "state.json")))
	require.NoError(t, err)

	rec := &eventRecorder{}
	_, err = k.Bus().Subscribe("component.*", rec.handle)
	require.NoError(t, err)
	return k, rec
}

func register(t *testing.T, k *Kernel, components ...Component) {
	t.Helper()
	for _, c := range components {
		require.NoError(t, k.Register(c))
	}
}

func TestRegisterDuplicateName(t *testing.T) {
	k, _ := newTestKernel(t)
	first := testutil.NewComponent("cache")
	require.NoError(t, k.Register(first))

	err := k.Register(testutil.NewComponent("cache", "state"))
	require.ErrorIs(t, err, ErrDuplicateName)

	got, err := k.Component("cache")
	require.NoError(t, err)
	assert.Same(t, first, got)
	assert.Equal(t, lifecycle.StateRegistered, k.ComponentState("cache"))
	require.ErrorIs(t, k.Register(nil), ErrComponentNil)
}

func TestBootAllFollowsDependencyOrder(t *testing.T) {
	k, rec := newTestKernel(t)
	log := &testutil.CallLog{}
	register(t, k,
		testutil.NewComponent("router", "security").WithLog(log),
		testutil.NewComponent("security", "cache").WithLog(log),
		testutil.NewComponent("cache").WithLog(log),
	)
	require.NoError(t, k.Configure("cache", map[string]any{"ttl": 60}))

	require.NoError(t, k.BootAll(context.Background()))

	assert.Equal(t, []string{"cache.configure", "cache.boot", "security.boot", "router.boot"}, log.Entries())
	for _, name := range []string{"cache", "security", "router"} {
		assert.Equal(t, lifecycle.StateLoaded, k.ComponentState(name))
	}
	assert.Equal(t, []string{
		"component.booted:cache", "component.booted:security", "component.booted:router",
	}, rec.names())
	assert.Equal(t, state.SystemStarting, k.SystemState())

	c, _ := k.Component("cache")
	assert.Equal(t, []map[string]any{{"ttl": 60}}, c.(*testutil.Component).Configs())
}

func TestBootAllStructuralErrorsAbort(t *testing.T) {
	t.Run("missing dependency", func(t *testing.T) {
		k, _ := newTestKernel(t)
		cache := testutil.NewComponent("cache")
		register(t, k, cache, testutil.NewComponent("router", "security"))

		err := k.BootAll(context.Background())
		require.ErrorIs(t, err, ErrMissingDependency)
		assert.Empty(t, cache.Calls())
	})

	t.Run("cycle", func(t *testing.T) {
		k, _ := newTestKernel(t)
		register(t, k, testutil.NewComponent("a", "b"), testutil.NewComponent("b", "a"))
		require.ErrorIs(t, k.BootAll(context.Background()), ErrCyclicDependency)
		require.ErrorIs(t, k.StartAll(context.Background()), ErrCyclicDependency)
	})
}

func TestBootFailureCascadesToDependents(t *testing.T) {
	k, rec := newTestKernel(t)
	cache := testutil.NewComponent("cache")
	cache.BootErr = errors.New("redis unreachable")
	router := testutil.NewComponent("router", "cache")
	view := testutil.NewComponent("view", "router")
	telemetry := testutil.NewComponent("telemetry")
	register(t, k, cache, router, view, telemetry)

	err := k.BootAll(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrComponentLifecycle)
	require.ErrorIs(t, err, ErrDependencyFailed)

	var lerr *ComponentLifecycleError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "cache", lerr.Component)
	assert.Equal(t, lifecycle.PhaseBoot, lerr.Phase)

	assert.Equal(t, lifecycle.StateFailed, k.ComponentState("cache"))
	assert.Equal(t, lifecycle.StateFailed, k.ComponentState("router"))
	assert.Equal(t, lifecycle.StateFailed, k.ComponentState("view"))
	assert.Equal(t, lifecycle.StateLoaded, k.ComponentState("telemetry"))
	assert.Empty(t, router.Calls())
	assert.Empty(t, view.Calls())

	failed, ok := rec.find(lifecycle.EventComponentFailed, "cache")
	require.True(t, ok)
	assert.Contains(t, failed.Error, "redis unreachable")
	viewFailed, ok := rec.find(lifecycle.EventComponentFailed, "view")
	require.True(t, ok)
	assert.Contains(t, viewFailed.Error, "cache failed")
}

func TestLateBootKeepsServingState(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()
	register(t, k, testutil.NewComponent("cache"))
	require.NoError(t, k.BootAll(ctx))
	require.NoError(t, k.StartAll(ctx))
	require.Equal(t, state.SystemRunning, k.SystemState())

	register(t, k, testutil.NewComponent("audit", "cache"))
	require.NoError(t, k.BootAll(ctx))
	assert.Equal(t, lifecycle.StateLoaded, k.ComponentState("audit"))
	assert.Equal(t, state.SystemDegraded, k.SystemState())
	assert.Equal(t, state.SystemDegraded, k.State().SystemState())

	require.NoError(t, k.StartAll(ctx))
	assert.Equal(t, state.SystemRunning, k.SystemState())
}

func TestBootPanicIsIsolated(t *testing.T) {
	k, _ := newTestKernel(t)
	bad := testutil.NewComponent("bad")
	bad.BootPanic = "nil map"
	good := testutil.NewComponent("good")
	register(t, k, bad, good)

	err := k.BootAll(context.Background())
	require.ErrorIs(t, err, ErrComponentPanicked)
	assert.Equal(t, lifecycle.StateFailed, k.ComponentState("bad"))
	assert.Equal(t, lifecycle.StateLoaded, k.ComponentState("good"))
}

func TestConfigureErrorFailsBoot(t *testing.T) {
	k, _ := newTestKernel(t)
	c := testutil.NewComponent("cache")
	c.ConfigureErr = errors.New("bad ttl")
	register(t, k, c)
	require.NoError(t, k.Configure("cache", map[string]any{"ttl": -1}))

	err := k.BootAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad ttl")
	assert.Equal(t, []string{"configure"}, c.Calls())
	require.ErrorIs(t, k.Configure("missing", nil), ErrComponentNotFound)
}

func TestStartAllAndStopAll(t *testing.T) {
	k, rec := newTestKernel(t)
	log := &testutil.CallLog{}
	register(t, k,
		testutil.NewComponent("router", "cache").WithLog(log),
		testutil.NewComponent("cache").WithLog(log),
		&testutil.Bare{ComponentName: "view", Deps: []string{"router"}},
	)
	ctx := context.Background()

	require.NoError(t, k.BootAll(ctx))
	require.NoError(t, k.StartAll(ctx))
	assert.Equal(t, []string{"cache", "router"}, log.Filter("start"))
	assert.Equal(t, lifecycle.StateRunning, k.ComponentState("view"))
	assert.Equal(t, state.SystemRunning, k.SystemState())
	assert.Equal(t, state.SystemRunning, k.State().SystemState())

	out, err := k.Telemetry().ToExpositionFormat()
	require.NoError(t, err)
	assert.Contains(t, out, "magkernel_ready 1\n")

	require.NoError(t, k.StopAll(ctx))
	assert.Equal(t, []string{"router", "cache"}, log.Filter("stop"))
	assert.Equal(t, state.SystemStopped, k.SystemState())
	for _, name := range []string{"cache", "router", "view"} {
		assert.Equal(t, lifecycle.StateStopped, k.ComponentState(name))
	}
	_, ok := rec.find(lifecycle.EventComponentStopped, "view")
	assert.True(t, ok)

	// stopped components start again without a new boot
	require.NoError(t, k.StartAll(ctx))
	assert.Equal(t, state.SystemRunning, k.SystemState())
}

func TestStartFailureDegradesSystem(t *testing.T) {
	k, _ := newTestKernel(t)
	security := testutil.NewComponent("security")
	security.StartErr = errors.New("rules missing")
	register(t, k, testutil.NewComponent("cache"), security, testutil.NewComponent("router", "security"))
	ctx := context.Background()

	require.NoError(t, k.BootAll(ctx))
	err := k.StartAll(ctx)
	require.ErrorIs(t, err, ErrComponentLifecycle)

	assert.Equal(t, lifecycle.StateRunning, k.ComponentState("cache"))
	assert.Equal(t, lifecycle.StateFailed, k.ComponentState("security"))
	assert.Equal(t, lifecycle.StateFailed, k.ComponentState("router"))
	assert.Equal(t, state.SystemDegraded, k.SystemState())
}

func TestShutdownAllForcesSlowComponents(t *testing.T) {
	k, rec := newTestKernel(t)
	log := &testutil.CallLog{}
	slow := testutil.NewComponent("slow").WithLog(log)
	slow.ShutdownDelay = 300 * time.Millisecond
	register(t, k,
		testutil.NewComponent("cache").WithLog(log),
		slow,
		testutil.NewComponent("router", "cache").WithLog(log),
	)
	ctx := context.Background()
	require.NoError(t, k.BootAll(ctx))
	require.NoError(t, k.StartAll(ctx))

	err := k.ShutdownAll(ctx, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrShutdownTimeout)

	assert.Equal(t, []string{"router", "slow", "cache"}, log.Filter("shutdown"))
	for _, name := range []string{"cache", "slow", "router"} {
		assert.Equal(t, lifecycle.StateStopped, k.ComponentState(name))
	}
	assert.Equal(t, state.SystemStopped, k.SystemState())

	forced, ok := rec.find(lifecycle.EventComponentStopped, "slow")
	require.True(t, ok)
	assert.True(t, forced.Forced)
	clean, ok := rec.find(lifecycle.EventComponentStopped, "cache")
	require.True(t, ok)
	assert.False(t, clean.Forced)
}

func TestShutdownErrorMarksFailed(t *testing.T) {
	k, _ := newTestKernel(t)
	c := testutil.NewComponent("cache")
	c.ShutdownErr = errors.New("flush failed")
	register(t, k, c, &testutil.Bare{ComponentName: "plain"})
	ctx := context.Background()
	require.NoError(t, k.BootAll(ctx))

	err := k.ShutdownAll(ctx, time.Second)
	require.ErrorIs(t, err, ErrComponentLifecycle)
	assert.Equal(t, lifecycle.StateFailed, k.ComponentState("cache"))
	assert.Equal(t, lifecycle.StateStopped, k.ComponentState("plain"))
	assert.Equal(t, state.SystemStopped, k.SystemState())
}

func TestRecover(t *testing.T) {
	ctx := context.Background()

	t.Run("success returns to running", func(t *testing.T) {
		k, rec := newTestKernel(t)
		c := testutil.NewComponent("security")
		c.StartErr = errors.New("rules missing")
		register(t, k, c)
		require.NoError(t, k.BootAll(ctx))
		require.Error(t, k.StartAll(ctx))
		assert.Equal(t, state.SystemStopped, k.SystemState())

		require.NoError(t, k.Recover(ctx, "security"))
		assert.Equal(t, lifecycle.StateRunning, k.ComponentState("security"))
		assert.Equal(t, state.SystemRunning, k.SystemState())
		ev, ok := rec.find(lifecycle.EventComponentRecovered, "security")
		require.True(t, ok)
		assert.Equal(t, lifecycle.StateFailed, ev.From)
		assert.Equal(t, lifecycle.StateRunning, ev.To)
	})

	t.Run("failure leaves failed", func(t *testing.T) {
		k, _ := newTestKernel(t)
		c := testutil.NewComponent("security")
		c.BootErr = errors.New("boom")
		c.RecoverErr = errors.New("still broken")
		register(t, k, c)
		require.Error(t, k.BootAll(ctx))

		err := k.Recover(ctx, "security")
		require.ErrorIs(t, err, ErrComponentLifecycle)
		assert.Equal(t, lifecycle.StateFailed, k.ComponentState("security"))
	})

	t.Run("lookup errors", func(t *testing.T) {
		k, _ := newTestKernel(t)
		register(t, k, &testutil.Bare{ComponentName: "plain"})
		require.ErrorIs(t, k.Recover(ctx, "missing"), ErrComponentNotFound)
		require.ErrorIs(t, k.Recover(ctx, "plain"), ErrNotRecoverable)
	})

	t.Run("registered component cannot recover", func(t *testing.T) {
		k, _ := newTestKernel(t)
		register(t, k, testutil.NewComponent("cache"))
		require.ErrorIs(t, k.Recover(ctx, "cache"), lifecycle.ErrInvalidTransition)
	})

	t.Run("stopped component cannot recover", func(t *testing.T) {
		k, _ := newTestKernel(t)
		c := testutil.NewComponent("cache")
		register(t, k, c)
		require.NoError(t, k.BootAll(ctx))
		require.NoError(t, k.StartAll(ctx))
		require.NoError(t, k.StopAll(ctx))

		err := k.Recover(ctx, "cache")
		require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
		assert.Equal(t, lifecycle.StateStopped, k.ComponentState("cache"))
		assert.NotContains(t, c.Calls(), "recover")
	})
}

func TestHealthDegradesAndRestores(t *testing.T) {
	k, rec := newTestKernel(t)
	cache := testutil.NewComponent("cache")
	optional := testutil.NewComponent("eventlogger")
	optional.IsOptional = true
	register(t, k, cache, optional, &testutil.Bare{ComponentName: "plain"})
	ctx := context.Background()
	require.NoError(t, k.BootAll(ctx))
	require.NoError(t, k.StartAll(ctx))

	agg := k.Health(ctx)
	assert.Equal(t, health.StatusHealthy, agg.Health)
	require.Len(t, agg.Reports, 3)
	assert.Equal(t, "cache", agg.Reports[0].Component)
	assert.Equal(t, "running", agg.Reports[0].State)
	assert.True(t, agg.Reports[1].Optional)

	cache.SetHealth(health.StatusUnhealthy, "connection refused")
	agg = k.Health(ctx)
	assert.Equal(t, health.StatusUnhealthy, agg.Health)
	assert.Equal(t, lifecycle.StateDegraded, k.ComponentState("cache"))
	assert.Equal(t, state.SystemDegraded, k.SystemState())
	_, ok := rec.find(lifecycle.EventComponentDegraded, "cache")
	assert.True(t, ok)

	cache.SetHealth(health.StatusHealthy, "")
	agg = k.Health(ctx)
	assert.Equal(t, health.StatusHealthy, agg.Health)
	assert.Equal(t, lifecycle.StateRunning, k.ComponentState("cache"))
	assert.Equal(t, state.SystemRunning, k.SystemState())

	optional.SetHealth(health.StatusUnhealthy, "disk full")
	agg = k.Health(ctx)
	assert.Equal(t, health.StatusUnhealthy, agg.Health)
	assert.Equal(t, health.StatusHealthy, agg.Readiness)
}

func TestTransitionPersistedBeforeEvent(t *testing.T) {
	k, err := New(WithStatePath(filepath.Join(t.TempDir(), "state.json")))
	require.NoError(t, err)

	var mismatches []string
	_, err = k.Bus().Subscribe("component.*", func(_ context.Context, e eventbus.Event) error {
		var payload lifecycle.Event
		require.NoError(t, e.DataAs(&payload))
		persisted, _ := k.State().ComponentState(payload.Component)
		if persisted != payload.To {
			mismatches = append(mismatches, payload.Component)
		}
		return nil
	})
	require.NoError(t, err)

	register(t, k, testutil.NewComponent("cache"), testutil.NewComponent("router", "cache"))
	ctx := context.Background()
	require.NoError(t, k.BootAll(ctx))
	require.NoError(t, k.StartAll(ctx))
	require.NoError(t, k.ShutdownAll(ctx, time.Second))
	assert.Empty(t, mismatches)
}

func TestReconfigure(t *testing.T) {
	k, _ := newTestKernel(t)
	c := testutil.NewComponent("cache")
	register(t, k, c, &testutil.Bare{ComponentName: "plain"})
	ctx := context.Background()

	var changed []string
	_, err := k.Bus().Subscribe(lifecycle.EventConfigChanged, func(_ context.Context, e eventbus.Event) error {
		var payload map[string]any
		require.NoError(t, e.DataAs(&payload))
		changed = append(changed, payload["component"].(string))
		return nil
	})
	require.NoError(t, err)

	// before boot it is stored for Configure
	require.NoError(t, k.Reconfigure(ctx, "cache", map[string]any{"ttl": 1}))
	assert.Empty(t, c.Configs())
	require.NoError(t, k.BootAll(ctx))
	require.Len(t, c.Configs(), 1)

	require.NoError(t, k.Reconfigure(ctx, "cache", map[string]any{"ttl": 2}))
	require.Len(t, c.Configs(), 2)
	assert.Equal(t, 2, c.Configs()[1]["ttl"])
	assert.Equal(t, []string{"cache"}, changed)

	require.ErrorIs(t, k.Reconfigure(ctx, "plain", nil), ErrNotConfigurable)
	require.ErrorIs(t, k.Reconfigure(ctx, "missing", nil), ErrComponentNotFound)
}

func TestRestartedKernelStartsStopped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	k, err := New(WithStatePath(path))
	require.NoError(t, err)
	register(t, k, testutil.NewComponent("cache"))
	ctx := context.Background()
	require.NoError(t, k.BootAll(ctx))
	require.NoError(t, k.StartAll(ctx))

	require.NoError(t, k.State().Set("deploy.color", "blue"))

	again, err := New(WithStatePath(path))
	require.NoError(t, err)
	assert.Equal(t, state.SystemStopped, again.SystemState())
	assert.Equal(t, state.SystemStopped, again.State().SystemState())
	assert.Equal(t, state.SystemRunning, again.PreviousSystemState())
	assert.Empty(t, again.State().ComponentStates())

	register(t, again, testutil.NewComponent("cache"))
	assert.Equal(t, state.SystemStopped, again.SystemState())
	st, ok := again.State().ComponentState("cache")
	require.True(t, ok)
	assert.Equal(t, lifecycle.StateRegistered, st)

	v, err := again.State().Get("deploy.color")
	require.NoError(t, err)
	assert.Equal(t, "blue", v)
}

func TestAggregateSystemState(t *testing.T) {
	optional := testutil.NewComponent("opt")
	optional.IsOptional = true
	components := []Component{testutil.NewComponent("a"), testutil.NewComponent("b"), optional}

	tests := []struct {
		name   string
		states map[string]lifecycle.State
		want   state.SystemState
	}{
		{"all running", map[string]lifecycle.State{"a": "running", "b": "running", "opt": "running"}, state.SystemRunning},
		{"optional stopped", map[string]lifecycle.State{"a": "running", "b": "running", "opt": "stopped"}, state.SystemRunning},
		{"optional failed", map[string]lifecycle.State{"a": "running", "b": "running", "opt": "failed"}, state.SystemDegraded},
		{"one failed", map[string]lifecycle.State{"a": "running", "b": "failed", "opt": "running"}, state.SystemDegraded},
		{"one degraded", map[string]lifecycle.State{"a": "degraded", "b": "running", "opt": "running"}, state.SystemDegraded},
		{"nothing serving", map[string]lifecycle.State{"a": "failed", "b": "stopped", "opt": "loaded"}, state.SystemStopped},
		{"all stopped", map[string]lifecycle.State{"a": "stopped", "b": "stopped", "opt": "stopped"}, state.SystemStopped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, aggregateSystemState(components, tt.states))
		})
	}
	assert.Equal(t, state.SystemStopped, aggregateSystemState(nil, nil))
}
