package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisEngine stores JSON-encoded values in redis and relies on native key
// expiry for ttl. Decoded values come back in their JSON shape: numbers as
// float64, objects as map[string]any.
type RedisEngine struct {
	config *Config

	mu     sync.RWMutex
	client *redis.Client
}

// NewRedisEngine creates a redis engine. Nothing is dialled until Connect.
func NewRedisEngine(config *Config) *RedisEngine {
	return &RedisEngine{config: config}
}

// Connect parses RedisURL and pings the server.
func (c *RedisEngine) Connect(ctx context.Context) error {
	opts, err := redis.ParseURL(c.config.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	if c.config.RedisPassword != "" {
		opts.Password = c.config.RedisPassword
	}
	if c.config.RedisDB != 0 {
		opts.DB = c.config.RedisDB
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("ping redis: %w", err)
	}
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
	return nil
}

// Close closes the client.
func (c *RedisEngine) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

func (c *RedisEngine) conn() (*redis.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, ErrNotConnected
	}
	return c.client, nil
}

// Ping checks the server is reachable.
func (c *RedisEngine) Ping(ctx context.Context) error {
	client, err := c.conn()
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}

func (c *RedisEngine) key(key string) string {
	return c.config.KeyPrefix + key
}

// Get decodes the stored JSON value.
func (c *RedisEngine) Get(ctx context.Context, key string) (any, bool, error) {
	client, err := c.conn()
	if err != nil {
		return nil, false, err
	}
	data, err := client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false, fmt.Errorf("%w: decode %s: %w", ErrInvalidValue, key, err)
	}
	return value, true, nil
}

// Has uses EXISTS.
func (c *RedisEngine) Has(ctx context.Context, key string) (bool, error) {
	client, err := c.conn()
	if err != nil {
		return false, err
	}
	n, err := client.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Set stores value as JSON with ttl as the native expiry.
func (c *RedisEngine) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	client, err := c.conn()
	if err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrInvalidValue, key, err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (c *RedisEngine) Delete(ctx context.Context, key string) error {
	client, err := c.conn()
	if err != nil {
		return err
	}
	return client.Del(ctx, c.key(key)).Err()
}

// Flush removes every prefixed key, or the whole database without a prefix.
func (c *RedisEngine) Flush(ctx context.Context) error {
	client, err := c.conn()
	if err != nil {
		return err
	}
	if c.config.KeyPrefix == "" {
		return client.FlushDB(ctx).Err()
	}

	iter := client.Scan(ctx, 0, c.config.KeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return client.Del(ctx, keys...).Err()
}
