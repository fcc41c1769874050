package magkernel

import (
	"context"
	"time"

	"github.com/GoCodeAlone/magkernel/health"
)

// Component is a named, independently lifecycled unit registered with the
// Kernel. Only identity is mandatory; every lifecycle step is an optional
// capability below, and a component without it passes that step trivially.
type Component interface {
	// Name returns the unique identifier of the component within a Kernel.
	//
	// Example: "router", "security", "cache", "magmigrate"
	Name() string

	// Version is reported in lifecycle events and health output.
	Version() string

	// Dependencies returns the names of components that must be booted and
	// started before this one and stopped after it.
	Dependencies() []string
}

// Configurable components receive their configuration section before Boot
// and again whenever the kernel is reconfigured.
type Configurable interface {
	// Configure validates and applies cfg. The map is the component's free-form
	// section of the kernel configuration.
	Configure(cfg map[string]any) error
}

// Bootable components prepare resources (connections, tables, handlers)
// while the kernel boots. A Boot error marks the component failed.
type Bootable interface {
	Boot(ctx context.Context) error
}

// Startable components begin serving in Start.
type Startable interface {
	Start(ctx context.Context) error
}

// Stoppable components stop serving in Stop. They must be restartable by a
// later Start.
type Stoppable interface {
	Stop(ctx context.Context) error
}

// Shutdownable components drain in-flight work before the process exits.
// The timeout is the same one the kernel enforces; a component still busy
// when it elapses is marked stopped anyway.
type Shutdownable interface {
	Shutdown(ctx context.Context, timeout time.Duration) error
}

// HealthReporter components report their own health. The kernel fills in
// the component name, state and optional flag.
type HealthReporter interface {
	Health(ctx context.Context) health.Report
}

// Recoverable components can be brought back to running after a failure.
type Recoverable interface {
	Recover(ctx context.Context) error
}

// Optional components are not required for the kernel to be considered
// running or ready.
type Optional interface {
	Optional() bool
}

// KernelAware components get a handle to the kernel on registration, to reach
// the event bus, the state manager or telemetry.
type KernelAware interface {
	SetKernel(k *Kernel)
}

func isOptional(c Component) bool {
	o, ok := c.(Optional)
	return ok && o.Optional()
}
