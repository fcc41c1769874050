package magkernel

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/GoCodeAlone/magkernel/lifecycle"
	"github.com/GoCodeAlone/magkernel/state"
)

// BootAll configures and boots every registered or stopped component in
// dependency order.
//
// A missing or cyclic dependency aborts before any component is touched. A
// component that fails to boot is marked failed and the walk continues; its
// dependents are marked failed without being booted. The returned error joins
// one *ComponentLifecycleError per failed component.
func (k *Kernel) BootAll(ctx context.Context) error {
	k.lifecycleMu.Lock()
	defer k.lifecycleMu.Unlock()

	order, err := k.registry.ResolveOrder()
	if err != nil {
		return err
	}

	started := time.Now()
	// a serving kernel booting late registrations keeps its state
	fresh := k.SystemState() == state.SystemStopped
	if fresh {
		k.setSystemState(ctx, state.SystemStarting)
	}

	// blocked maps a dependent to the failed component it transitively needs
	blocked := make(map[string]string)
	var errs []error
	for _, c := range order {
		name := c.Name()
		current := k.ComponentState(name)
		if current != lifecycle.StateRegistered && current != lifecycle.StateStopped {
			k.logger.Debug("Component not bootable in current state, skipping", "component", name, "state", current)
			continue
		}

		dep, ok := blocked[name]
		if !ok {
			dep = k.firstDependencyIn(c, lifecycle.StateFailed)
		}
		if dep != "" {
			lerr := lifecycleError(name, lifecycle.PhaseBoot, fmt.Errorf("%w: %s failed", ErrDependencyFailed, dep))
			k.fail(ctx, c, lerr)
			errs = append(errs, lerr)
			continue
		}

		k.logger.Info("Booting component", "component", name)
		if err := k.bootComponent(ctx, c); err != nil {
			lerr := lifecycleError(name, lifecycle.PhaseBoot, err)
			k.fail(ctx, c, lerr)
			errs = append(errs, lerr)
			dependents := k.registry.Dependents(name)
			for _, d := range dependents {
				if _, seen := blocked[d]; !seen {
					blocked[d] = name
				}
			}
			if len(dependents) > 0 {
				k.logger.Warn("Dependents will not boot", "component", name, "dependents", dependents)
			}
			continue
		}
		k.transition(ctx, c, change{
			to:    lifecycle.StateLoaded,
			phase: lifecycle.PhaseBoot,
			event: lifecycle.EventComponentBooted,
		})
	}

	if !fresh {
		k.refreshSystemState(ctx)
	}

	elapsed := time.Since(started)
	k.telemetry.SetBootDuration(elapsed)
	k.logger.Info("Kernel booted", "components", len(order), "failed", len(errs), "duration", elapsed)
	return errors.Join(errs...)
}

func (k *Kernel) bootComponent(ctx context.Context, c Component) error {
	name := c.Name()

	k.mu.Lock()
	cfg, hasCfg := k.pending[name]
	k.mu.Unlock()

	if hasCfg {
		configurable, ok := c.(Configurable)
		if !ok {
			k.logger.Debug("Component does not implement Configurable, skipping", "component", name)
		} else {
			if err := safeCall(func() error { return configurable.Configure(maps.Clone(cfg)) }); err != nil {
				return fmt.Errorf("configure: %w", err)
			}
			k.mu.Lock()
			delete(k.pending, name)
			k.mu.Unlock()
		}
	}

	bootable, ok := c.(Bootable)
	if !ok {
		k.logger.Debug("Component does not implement Bootable, skipping", "component", name)
		return nil
	}
	return safeCall(func() error { return bootable.Boot(ctx) })
}

// StartAll starts every loaded or stopped component in dependency order. A
// component whose dependency is not serving is marked failed instead.
func (k *Kernel) StartAll(ctx context.Context) error {
	k.lifecycleMu.Lock()
	defer k.lifecycleMu.Unlock()

	order, err := k.registry.ResolveOrder()
	if err != nil {
		return err
	}

	var errs []error
	for _, c := range order {
		name := c.Name()
		current := k.ComponentState(name)
		if current != lifecycle.StateLoaded && current != lifecycle.StateStopped {
			k.logger.Debug("Component not startable in current state, skipping", "component", name, "state", current)
			continue
		}

		if dep := k.firstDependencyNotServing(c); dep != "" {
			lerr := lifecycleError(name, lifecycle.PhaseStart, fmt.Errorf("%w: %s is %s", ErrDependencyFailed, dep, k.ComponentState(dep)))
			k.fail(ctx, c, lerr)
			errs = append(errs, lerr)
			continue
		}

		if startable, ok := c.(Startable); ok {
			k.logger.Info("Starting component", "component", name)
			if err := safeCall(func() error { return startable.Start(ctx) }); err != nil {
				lerr := lifecycleError(name, lifecycle.PhaseStart, err)
				k.fail(ctx, c, lerr)
				errs = append(errs, lerr)
				continue
			}
		} else {
			k.logger.Debug("Component does not implement Startable, skipping", "component", name)
		}
		k.transition(ctx, c, change{
			to:    lifecycle.StateRunning,
			phase: lifecycle.PhaseStart,
			event: lifecycle.EventComponentStarted,
		})
	}

	if k.refreshSystemState(ctx) == state.SystemStopped {
		k.telemetry.MarkNotReady()
	} else {
		k.telemetry.MarkReady()
	}
	return errors.Join(errs...)
}

// StopAll stops every running or degraded component in reverse dependency
// order, dependents before their dependencies.
func (k *Kernel) StopAll(ctx context.Context) error {
	k.lifecycleMu.Lock()
	defer k.lifecycleMu.Unlock()

	order, err := k.registry.ResolveOrder()
	if err != nil {
		return err
	}
	slices.Reverse(order)

	var errs []error
	for _, c := range order {
		name := c.Name()
		if !k.ComponentState(name).Serving() {
			continue
		}

		if stoppable, ok := c.(Stoppable); ok {
			k.logger.Info("Stopping component", "component", name)
			if err := safeCall(func() error { return stoppable.Stop(ctx) }); err != nil {
				lerr := lifecycleError(name, lifecycle.PhaseStop, err)
				k.fail(ctx, c, lerr)
				errs = append(errs, lerr)
				continue
			}
		} else {
			k.logger.Debug("Component does not implement Stoppable, skipping", "component", name)
		}
		k.transition(ctx, c, change{
			to:    lifecycle.StateStopped,
			phase: lifecycle.PhaseStop,
			event: lifecycle.EventComponentStopped,
		})
	}

	if k.refreshSystemState(ctx) == state.SystemStopped {
		k.telemetry.MarkNotReady()
	}
	return errors.Join(errs...)
}

// ShutdownAll is StopAll for process exit. Each loaded, running or degraded
// component gets Shutdown (or Stop when it has no Shutdown) with its own
// deadline of timeout. A component that has not returned by then is marked
// stopped anyway, and its component.stopped event carries forced=true.
// The system state always ends stopped.
func (k *Kernel) ShutdownAll(ctx context.Context, timeout time.Duration) error {
	k.lifecycleMu.Lock()
	defer k.lifecycleMu.Unlock()

	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	order, err := k.registry.ResolveOrder()
	if err != nil {
		return err
	}
	slices.Reverse(order)

	var errs []error
	for _, c := range order {
		name := c.Name()
		switch k.ComponentState(name) {
		case lifecycle.StateLoaded, lifecycle.StateRunning, lifecycle.StateDegraded:
		default:
			continue
		}

		k.logger.Info("Shutting down component", "component", name, "timeout", timeout)
		err := k.shutdownComponent(ctx, c, timeout)
		switch {
		case errors.Is(err, ErrShutdownTimeout):
			k.logger.Warn("Component shutdown timed out, forcing stop", "component", name, "timeout", timeout)
			k.transition(ctx, c, change{
				to:     lifecycle.StateStopped,
				phase:  lifecycle.PhaseShutdown,
				event:  lifecycle.EventComponentStopped,
				cause:  err,
				forced: true,
			})
			errs = append(errs, lifecycleError(name, lifecycle.PhaseShutdown, err))
		case err != nil:
			lerr := lifecycleError(name, lifecycle.PhaseShutdown, err)
			k.fail(ctx, c, lerr)
			errs = append(errs, lerr)
		default:
			k.transition(ctx, c, change{
				to:    lifecycle.StateStopped,
				phase: lifecycle.PhaseShutdown,
				event: lifecycle.EventComponentStopped,
			})
		}
	}

	k.setSystemState(ctx, state.SystemStopped)
	k.telemetry.MarkNotReady()
	k.logger.Info("Kernel shut down", "components", len(order), "errors", len(errs))
	return errors.Join(errs...)
}

func (k *Kernel) shutdownComponent(ctx context.Context, c Component, timeout time.Duration) error {
	var call func(context.Context) error
	switch v := c.(type) {
	case Shutdownable:
		call = func(cctx context.Context) error { return v.Shutdown(cctx, timeout) }
	case Stoppable:
		call = v.Stop
	default:
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- safeCall(func() error { return call(cctx) })
	}()

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		return fmt.Errorf("%w after %s", ErrShutdownTimeout, timeout)
	}
}

// Recover asks a failed or degraded component to recover. On success the
// component is running again and component.recovered is emitted; on failure
// it is left failed.
func (k *Kernel) Recover(ctx context.Context, name string) error {
	k.lifecycleMu.Lock()
	defer k.lifecycleMu.Unlock()

	c, err := k.Component(name)
	if err != nil {
		return err
	}
	recoverable, ok := c.(Recoverable)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRecoverable, name)
	}

	current := k.ComponentState(name)
	if current != lifecycle.StateFailed && current != lifecycle.StateDegraded {
		return lifecycleError(name, lifecycle.PhaseRecover,
			fmt.Errorf("%w: %s cannot be recovered", lifecycle.ErrInvalidTransition, current))
	}

	k.logger.Info("Recovering component", "component", name, "state", current)
	if err := safeCall(func() error { return recoverable.Recover(ctx) }); err != nil {
		lerr := lifecycleError(name, lifecycle.PhaseRecover, err)
		k.fail(ctx, c, lerr)
		k.refreshSystemState(ctx)
		return lerr
	}

	k.transition(ctx, c, change{
		to:    lifecycle.StateRunning,
		phase: lifecycle.PhaseRecover,
		event: lifecycle.EventComponentRecovered,
	})
	k.refreshSystemState(ctx)
	return nil
}

func (k *Kernel) firstDependencyIn(c Component, st lifecycle.State) string {
	for _, dep := range c.Dependencies() {
		if k.ComponentState(dep) == st {
			return dep
		}
	}
	return ""
}

func (k *Kernel) firstDependencyNotServing(c Component) string {
	for _, dep := range c.Dependencies() {
		if !k.ComponentState(dep).Serving() {
			return dep
		}
	}
	return ""
}
