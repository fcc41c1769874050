package magkernel

import (
	"fmt"
	"sync"
)

// Factory builds a fresh component instance.
type Factory func() (Component, error)

// FactoryRegistry maps component identifiers, as used in configuration, to
// the factories that build them.
type FactoryRegistry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	ids       []string
}

// NewFactoryRegistry creates an empty factory registry.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{factories: make(map[string]Factory)}
}

// Register adds a factory under id.
func (r *FactoryRegistry) Register(id string, f Factory) error {
	if f == nil {
		return fmt.Errorf("%w: %s", ErrFactoryNil, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[id]; exists {
		return fmt.Errorf("%w: %s", ErrFactoryExists, id)
	}
	r.factories[id] = f
	r.ids = append(r.ids, id)
	return nil
}

// Build instantiates the component registered under id.
func (r *FactoryRegistry) Build(id string) (Component, error) {
	r.mu.RLock()
	f, ok := r.factories[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFactoryNotFound, id)
	}

	c, err := f()
	if err != nil {
		return nil, fmt.Errorf("failed to build component %s: %w", id, err)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: factory %s returned nil", ErrComponentNil, id)
	}
	return c, nil
}

// IDs returns the registered identifiers in registration order.
func (r *FactoryRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.ids...)
}

// RegisterFromConfig builds and registers one component per identifier, in
// the given order. It stops at the first error.
func (k *Kernel) RegisterFromConfig(factories *FactoryRegistry, ids []string) error {
	for _, id := range ids {
		c, err := factories.Build(id)
		if err != nil {
			return err
		}
		if err := k.Register(c); err != nil {
			return err
		}
	}
	return nil
}
