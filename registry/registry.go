// Package registry provides the name-keyed component registry and its
// dependency-ordered iteration.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Static errors for registry package
var (
	ErrDuplicateName     = errors.New("component already registered")
	ErrMissingDependency = errors.New("component depends on non-registered component")
	ErrCyclicDependency  = errors.New("cyclic dependency detected")
	ErrNotFound          = errors.New("component not found")
	ErrNilEntry          = errors.New("cannot register nil component")
	ErrEmptyName         = errors.New("component name is empty")
)

// Node is anything the registry can hold: a named unit declaring the names
// of the units it depends on.
type Node interface {
	Name() string
	Dependencies() []string
}

// Registry holds registered entries keyed by name. Iteration follows
// registration order, which also breaks ties in ResolveOrder.
type Registry[T Node] struct {
	mu      sync.RWMutex
	entries map[string]T
	order   []string
}

// New creates an empty registry.
func New[T Node]() *Registry[T] {
	return &Registry[T]{
		entries: make(map[string]T),
	}
}

// Register adds an entry. A name that is already present fails with
// ErrDuplicateName and leaves the existing entry untouched.
func (r *Registry[T]) Register(entry T) error {
	if any(entry) == nil {
		return ErrNilEntry
	}
	name := entry.Name()
	if name == "" {
		return ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	r.entries[name] = entry
	r.order = append(r.order, name)
	return nil
}

// Get returns the entry registered under name.
func (r *Registry[T]) Get(name string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return entry, nil
}

// Has reports whether name is registered.
func (r *Registry[T]) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Len returns the number of entries.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Names returns the registered names in registration order.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// All returns the entries in registration order.
func (r *Registry[T]) All() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}

// ResolveOrder returns every entry after all of the entries it depends on.
//
// It runs Kahn's algorithm with the ready set kept in registration order, so
// the result is deterministic: among entries whose dependencies are all
// satisfied, the one registered first comes first.
func (r *Registry[T]) ResolveOrder() ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	position := make(map[string]int, len(r.order))
	for i, name := range r.order {
		position[name] = i
	}

	indegree := make(map[string]int, len(r.order))
	dependents := make(map[string][]string, len(r.order))
	for _, name := range r.order {
		seen := make(map[string]bool)
		for _, dep := range r.entries[name].Dependencies() {
			if _, ok := r.entries[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrMissingDependency, name, dep)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	// ready is kept sorted by registration position
	var ready []string
	for _, name := range r.order {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	result := make([]T, 0, len(r.order))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		result = append(result, r.entries[name])

		released := false
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
				released = true
			}
		}
		if released {
			sort.SliceStable(ready, func(i, j int) bool {
				return position[ready[i]] < position[ready[j]]
			})
		}
	}

	if len(result) != len(r.order) {
		var stuck []string
		for _, name := range r.order {
			if indegree[name] > 0 {
				stuck = append(stuck, name)
			}
		}
		return nil, fmt.Errorf("%w: unresolved components %s", ErrCyclicDependency, strings.Join(stuck, ", "))
	}

	return result, nil
}

// Dependents returns the names of every entry that depends on name, directly
// or transitively, in registration order.
func (r *Registry[T]) Dependents(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	affected := map[string]bool{name: true}
	for changed := true; changed; {
		changed = false
		for _, candidate := range r.order {
			if affected[candidate] {
				continue
			}
			for _, dep := range r.entries[candidate].Dependencies() {
				if affected[dep] {
					affected[candidate] = true
					changed = true
					break
				}
			}
		}
	}

	var out []string
	for _, candidate := range r.order {
		if candidate != name && affected[candidate] {
			out = append(out, candidate)
		}
	}
	return out
}
