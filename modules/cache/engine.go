package cache

import (
	"context"
	"time"
)

// Engine is a cache backend. A ttl <= 0 stores the value without expiry.
type Engine interface {
	// Connect establishes the connection to the backend.
	Connect(ctx context.Context) error

	// Close releases the backend.
	Close(ctx context.Context) error

	// Get returns the value and true when the key is present and fresh.
	Get(ctx context.Context, key string) (any, bool, error)

	// Has is Get without the value.
	Has(ctx context.Context, key string) (bool, error)

	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// Flush removes every entry.
	Flush(ctx context.Context) error

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
}

// Purger is implemented by engines that keep expired entries until read.
type Purger interface {
	// PurgeExpired evicts every expired entry and returns how many it removed.
	PurgeExpired(ctx context.Context) int
}
