package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryEngineExpiresLazily(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	engine := NewMemoryEngine(WithClock(clock.Now))

	require.NoError(t, engine.Set(ctx, "a", 1, time.Second))
	value, found, err := engine.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, value)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 1, engine.Len(), "expired entry is kept until read")

	_, found, err = engine.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 0, engine.Len(), "read evicts the expired entry")
}

func TestMemoryEngineZeroTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	engine := NewMemoryEngine(WithClock(clock.Now))

	require.NoError(t, engine.Set(ctx, "forever", "x", 0))
	require.NoError(t, engine.Set(ctx, "negative", "y", -time.Second))
	clock.Advance(100 * 365 * 24 * time.Hour)

	for _, key := range []string{"forever", "negative"} {
		found, err := engine.Has(ctx, key)
		require.NoError(t, err)
		assert.True(t, found, key)
	}
}

func TestMemoryEngineSetRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	engine := NewMemoryEngine(WithClock(clock.Now))

	require.NoError(t, engine.Set(ctx, "k", "old", time.Second))
	clock.Advance(900 * time.Millisecond)
	require.NoError(t, engine.Set(ctx, "k", "new", time.Second))
	clock.Advance(900 * time.Millisecond)

	value, found, err := engine.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "new", value)
}

func TestMemoryEnginePurgeExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	engine := NewMemoryEngine(WithClock(clock.Now))

	require.NoError(t, engine.Set(ctx, "short1", 1, time.Second))
	require.NoError(t, engine.Set(ctx, "short2", 2, time.Second))
	require.NoError(t, engine.Set(ctx, "long", 3, time.Hour))

	clock.Advance(time.Minute)
	assert.Equal(t, 2, engine.PurgeExpired(ctx))
	assert.Equal(t, 1, engine.Len())
	assert.Equal(t, 0, engine.PurgeExpired(ctx))
}

func TestMemoryEngineMaxItems(t *testing.T) {
	ctx := context.Background()
	engine := NewMemoryEngine(WithMaxItems(2))

	require.NoError(t, engine.Set(ctx, "a", 1, 0))
	require.NoError(t, engine.Set(ctx, "b", 2, 0))
	require.ErrorIs(t, engine.Set(ctx, "c", 3, 0), ErrCacheFull)
	require.NoError(t, engine.Set(ctx, "a", 10, 0), "overwriting an existing key is allowed when full")

	require.NoError(t, engine.Delete(ctx, "b"))
	require.NoError(t, engine.Set(ctx, "c", 3, 0))
}

func TestMemoryEngineFlush(t *testing.T) {
	ctx := context.Background()
	engine := NewMemoryEngine()

	require.NoError(t, engine.Set(ctx, "a", 1, 0))
	require.NoError(t, engine.Set(ctx, "b", 2, 0))
	require.NoError(t, engine.Flush(ctx))
	assert.Equal(t, 0, engine.Len())
}

func TestMemoryEngineConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	engine := NewMemoryEngine()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := string(rune('a' + (i+j)%8))
				_ = engine.Set(ctx, key, j, time.Millisecond)
				_, _, _ = engine.Get(ctx, key)
				engine.PurgeExpired(ctx)
			}
		}(i)
	}
	wg.Wait()
}
