package lifecycle

import "time"

// Event names published by the kernel on the event bus.
const (
	EventComponentBooted    = "component.booted"
	EventComponentStarted   = "component.started"
	EventComponentStopped   = "component.stopped"
	EventComponentFailed    = "component.failed"
	EventComponentRecovered = "component.recovered"
	EventComponentDegraded  = "component.degraded"

	EventKernelStateChanged = "kernel.state_changed"
	EventConfigChanged      = "config.changed"
)

// Phase names the lifecycle step that produced a transition.
type Phase string

const (
	PhaseBoot     Phase = "boot"
	PhaseStart    Phase = "start"
	PhaseStop     Phase = "stop"
	PhaseShutdown Phase = "shutdown"
	PhaseRecover  Phase = "recover"
	PhaseHealth   Phase = "health"
)

// Event is the payload of every component.* event.
type Event struct {
	Component string    `json:"component"`
	Version   string    `json:"version,omitempty"`
	Phase     Phase     `json:"phase"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Error     string    `json:"error,omitempty"`
	Forced    bool      `json:"forced,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// KernelStateEvent is the payload of kernel.state_changed.
type KernelStateEvent struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}
