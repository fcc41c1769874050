package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryEngine keeps entries in a map. Expired entries are evicted lazily
// when read, or in bulk by PurgeExpired.
type MemoryEngine struct {
	maxItems int
	now      func() time.Time
	items    map[string]cacheItem
	mutex    sync.RWMutex
}

type cacheItem struct {
	value      any
	expiration time.Time
}

func (i cacheItem) expired(now time.Time) bool {
	return !i.expiration.IsZero() && now.After(i.expiration)
}

// MemoryOption configures a MemoryEngine.
type MemoryOption func(*MemoryEngine)

// WithMaxItems bounds the number of entries. Zero means unbounded.
func WithMaxItems(n int) MemoryOption {
	return func(c *MemoryEngine) { c.maxItems = n }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryEngine) { c.now = now }
}

// NewMemoryEngine creates a memory engine.
func NewMemoryEngine(opts ...MemoryOption) *MemoryEngine {
	c := &MemoryEngine{
		now:   time.Now,
		items: make(map[string]cacheItem),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect is a no-op.
func (c *MemoryEngine) Connect(context.Context) error { return nil }

// Close drops every entry.
func (c *MemoryEngine) Close(ctx context.Context) error { return c.Flush(ctx) }

// Ping always succeeds.
func (c *MemoryEngine) Ping(context.Context) error { return nil }

// Get returns a fresh entry. An expired entry is deleted and reported absent.
func (c *MemoryEngine) Get(_ context.Context, key string) (any, bool, error) {
	now := c.now()

	c.mutex.RLock()
	item, found := c.items[key]
	c.mutex.RUnlock()
	if !found {
		return nil, false, nil
	}
	if item.expired(now) {
		c.evict(key, now)
		return nil, false, nil
	}
	return item.value, true, nil
}

// evict removes key if it is still expired; a concurrent Set may have
// refreshed it in between.
func (c *MemoryEngine) evict(key string, now time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if item, ok := c.items[key]; ok && item.expired(now) {
		delete(c.items, key)
	}
}

// Has reports whether a fresh entry exists, evicting an expired one.
func (c *MemoryEngine) Has(ctx context.Context, key string) (bool, error) {
	_, found, err := c.Get(ctx, key)
	return found, err
}

// Set stores value. When the engine is full, new keys are rejected with
// ErrCacheFull; existing keys can still be overwritten.
func (c *MemoryEngine) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	now := c.now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.items[key]; !exists && c.maxItems > 0 && len(c.items) >= c.maxItems {
		return ErrCacheFull
	}

	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	c.items[key] = cacheItem{value: value, expiration: exp}
	return nil
}

// Delete removes key.
func (c *MemoryEngine) Delete(_ context.Context, key string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.items, key)
	return nil
}

// Flush removes all items.
func (c *MemoryEngine) Flush(_ context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.items = make(map[string]cacheItem)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryEngine) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.items)
}

// PurgeExpired removes expired items.
func (c *MemoryEngine) PurgeExpired(context.Context) int {
	now := c.now()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	removed := 0
	for key, item := range c.items {
		if item.expired(now) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}
