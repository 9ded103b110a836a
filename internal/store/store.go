// Package store provides the TTL key/value cache backing the quote
// pipeline, with a Redis implementation and an in-memory fallback.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned when a key is absent or expired. Absence is
// a valid outcome, not a failure.
var ErrCacheMiss = errors.New("cache miss")

// Store is a key/value cache with mandatory TTLs. There is no default
// or infinite TTL: Set rejects non-positive durations. Hash keys hold
// field maps merged by HSet and expired as a whole via Expire.
type Store interface {
	// Get returns the value at key or ErrCacheMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value at key with the given TTL. ttl must be > 0.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// HSet merges fields into the hash at key. Absent fields are kept.
	HSet(ctx context.Context, key string, fields map[string][]byte) error

	// HGetAll returns all fields of the hash at key. A missing hash
	// yields an empty map, not an error.
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)

	// Expire refreshes the TTL on key. ttl must be > 0.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// DeleteByPattern removes all keys matching a glob pattern.
	DeleteByPattern(ctx context.Context, pattern string) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// ErrInvalidTTL is returned by Set and Expire for non-positive TTLs.
var ErrInvalidTTL = errors.New("ttl must be positive")
