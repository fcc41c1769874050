// Package lifecycle defines component lifecycle states, the transitions the
// kernel may apply between them, and the events announcing each transition.
package lifecycle

import (
	"errors"
	"fmt"
	"slices"
)

// ErrInvalidTransition is returned when a transition is not part of the
// lifecycle graph.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// State is the lifecycle state of a single component.
type State string

const (
	StateRegistered State = "registered"
	StateLoaded     State = "loaded"
	StateRunning    State = "running"
	StateDegraded   State = "degraded"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)

var transitions = map[State][]State{
	StateRegistered: {StateLoaded, StateFailed},
	StateLoaded:     {StateRunning, StateStopped, StateFailed},
	StateRunning:    {StateDegraded, StateStopped, StateFailed},
	StateDegraded:   {StateRunning, StateStopped, StateFailed},
	StateStopped:    {StateLoaded, StateRunning, StateFailed},
	StateFailed:     {StateRunning},
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Serving reports whether a component in this state still serves requests.
func (s State) Serving() bool {
	return s == StateRunning || s == StateDegraded
}

func (s State) String() string {
	return string(s)
}

// CanTransition reports whether moving from one state to another is allowed.
// Staying in the same state is always allowed.
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	return slices.Contains(transitions[from], to)
}

// CheckTransition is CanTransition returning a descriptive error.
func CheckTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
