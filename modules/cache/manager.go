package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/GoCodeAlone/magkernel/logging"
)

// MetricRequests counts lookups by result (hit or miss).
const MetricRequests = "cache_requests_total"

// MetricsSink receives cache counters. *telemetry.Telemetry satisfies it.
type MetricsSink interface {
	IncrementCounter(name string, delta float64, labels map[string]string) error
}

// Producer computes a value on a Remember miss.
type Producer func(ctx context.Context) (any, error)

// Manager is the key/value API components use. Engine errors on reads are
// logged and reported as a miss.
type Manager struct {
	engine  Engine
	logger  logging.Logger
	metrics MetricsSink
}

// NewManager wraps engine.
func NewManager(engine Engine, logger logging.Logger, metrics MetricsSink) *Manager {
	return &Manager{engine: engine, logger: logging.OrNop(logger), metrics: metrics}
}

// Engine returns the backing engine.
func (m *Manager) Engine() Engine { return m.engine }

// Set stores value under key. ttl <= 0 means the entry never expires.
func (m *Manager) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	return m.engine.Set(ctx, key, value, ttl)
}

// Get returns the value and true when key is present and not expired.
func (m *Manager) Get(ctx context.Context, key string) (any, bool) {
	if key == "" {
		return nil, false
	}
	value, found, err := m.engine.Get(ctx, key)
	if err != nil {
		m.logger.Error("Cache read failed", "key", key, "error", err)
		found = false
	}
	m.count(found)
	return value, found
}

// Has reports whether key is present and not expired.
func (m *Manager) Has(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}
	found, err := m.engine.Has(ctx, key)
	if err != nil {
		m.logger.Error("Cache read failed", "key", key, "error", err)
		return false
	}
	return found
}

// Delete removes key. Deleting a missing key is not an error.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	return m.engine.Delete(ctx, key)
}

// Flush removes every entry.
func (m *Manager) Flush(ctx context.Context) error {
	return m.engine.Flush(ctx)
}

// Remember returns the cached value for key, or calls produce, stores its
// result with ttl and returns it. A producer error is returned as is and
// nothing is stored.
func (m *Manager) Remember(ctx context.Context, key string, ttl time.Duration, produce Producer) (any, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	if produce == nil {
		return nil, ErrNilProducer
	}
	if value, found := m.Get(ctx, key); found {
		return value, nil
	}

	value, err := produce(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.engine.Set(ctx, key, value, ttl); err != nil {
		return value, fmt.Errorf("store remembered %s: %w", key, err)
	}
	return value, nil
}

// PurgeExpired evicts expired entries on engines that hold them until read.
// Engines with native expiry report zero.
func (m *Manager) PurgeExpired(ctx context.Context) int {
	if p, ok := m.engine.(Purger); ok {
		return p.PurgeExpired(ctx)
	}
	return 0
}

func (m *Manager) count(hit bool) {
	if m.metrics == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	if err := m.metrics.IncrementCounter(MetricRequests, 1, map[string]string{"result": result}); err != nil {
		m.logger.Debug("Failed to count cache request", "error", err)
	}
}
