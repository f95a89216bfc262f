// Package backend defines the key-value backend contract shared by the
// vector store, the caches, and the rate limiter. Any store offering
// string get/set with TTL, set membership, atomic increment, and a
// pipelined multi-op mode satisfies it.
package backend

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the backend could not be reached. Callers that
// use the backend for caching should treat this as "cache unavailable" and
// fall back to direct computation; the vector store treats it as a hard
// failure since the backend is its source of truth.
var ErrUnavailable = errors.New("backend unavailable")

// Backend is the key-value contract. Absent keys are reported via the
// ok return of Get, never as an error. TTL of zero means no expiry.
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) (int, error)
	// Keys returns all live keys matching a glob pattern (e.g. "emb:*").
	Keys(ctx context.Context, pattern string) ([]string, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SCard(ctx context.Context, key string) (int64, error)

	// Incr atomically increments the integer value at key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Pipeline applies the operations queued on the Pipe as one batch.
	// The batch is not interleaved with other callers' batches on the same
	// keys, but there is no cross-batch atomicity or rollback.
	Pipeline(ctx context.Context, fn func(Pipe) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Pipe queues operations for batched execution via Backend.Pipeline.
type Pipe interface {
	Set(key, value string, ttl time.Duration)
	Delete(keys ...string)
	SAdd(key string, members ...string)
	SRem(key string, members ...string)
}
