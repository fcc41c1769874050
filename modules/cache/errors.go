package cache

import (
	"errors"
)

// Error definitions
var (
	// ErrCacheFull is returned when the memory engine holds MaxItems entries
	ErrCacheFull = errors.New("cache is full")

	// ErrInvalidKey is returned for an empty key
	ErrInvalidKey = errors.New("invalid cache key")

	// ErrInvalidValue is returned when a value cannot be encoded for the engine
	ErrInvalidValue = errors.New("invalid cache value")

	// ErrNotConnected is returned when an operation runs before Connect
	ErrNotConnected = errors.New("cache not connected")

	// ErrUnknownEngine is returned for an engine name other than memory or redis
	ErrUnknownEngine = errors.New("unknown cache engine")

	// ErrNilProducer is returned by Remember without a producer
	ErrNilProducer = errors.New("remember producer is nil")
)
