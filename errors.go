package magkernel

import (
	"errors"
	"fmt"

	"github.com/GoCodeAlone/magkernel/lifecycle"
	"github.com/GoCodeAlone/magkernel/registry"
)

// Kernel errors
var (
	// Wiring errors, surfaced immediately
	ErrDuplicateName     = registry.ErrDuplicateName
	ErrMissingDependency = registry.ErrMissingDependency
	ErrCyclicDependency  = registry.ErrCyclicDependency
	ErrComponentNil      = errors.New("component is nil")

	// Lifecycle errors, isolated per component
	ErrComponentLifecycle = errors.New("component lifecycle failure")
	ErrDependencyFailed   = errors.New("dependency not available")
	ErrShutdownTimeout    = errors.New("component shutdown timed out")
	ErrComponentPanicked  = errors.New("component panicked")

	// Lookup errors
	ErrComponentNotFound = errors.New("component not found")
	ErrNotRecoverable    = errors.New("component does not support recovery")
	ErrNotConfigurable   = errors.New("component does not accept configuration")

	// Factory errors
	ErrFactoryNotFound = errors.New("no factory registered for component")
	ErrFactoryExists   = errors.New("factory already registered")
	ErrFactoryNil      = errors.New("factory is nil")
)

// ComponentLifecycleError reports a failed boot, start, stop, shutdown or
// recover step of a single component.
type ComponentLifecycleError struct {
	Component string
	Phase     lifecycle.Phase
	Err       error
}

func (e *ComponentLifecycleError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", ErrComponentLifecycle, e.Component, e.Phase, e.Err)
}

func (e *ComponentLifecycleError) Unwrap() []error {
	return []error{ErrComponentLifecycle, e.Err}
}

func lifecycleError(name string, phase lifecycle.Phase, err error) *ComponentLifecycleError {
	return &ComponentLifecycleError{Component: name, Phase: phase, Err: err}
}
