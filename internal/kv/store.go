package kv

import (
	"context"
	"errors"
	"iter"
	"time"
)

// ErrNotFound is returned by Get and by scripted operations that
// require an existing key when the key is absent.
var ErrNotFound = errors.New("kv: not found")

// ErrTransport marks an error as originating from the transport layer
// (network failure, timeout, connection reset) rather than from a
// logical condition such as a missing key. Callers that must
// distinguish "key absent" from "store unreachable" should check for
// this with errors.Is.
var ErrTransport = errors.New("kv: transport error")

// Script is a Lua script to be executed atomically against the store.
// Source is authored once and reused across calls; the underlying
// implementation is responsible for compiling/caching it.
type Script struct {
	Source string
}

// Pipeline batches independent operations into a single round trip.
// Implementations queue commands and flush them together when the
// callback passed to Store.Pipeline returns.
type Pipeline interface {
	Get(key string) *Result
	Set(key string, value []byte, ttl time.Duration) *Result
	Delete(key string) *Result
}

// Result holds the outcome of one pipelined operation, resolved after
// Store.Pipeline's callback returns.
type Result struct {
	Value []byte
	Err   error
}

// Store is the KV Store Adapter: every repository in the control plane
// is built on top of it instead of a concrete driver.
//
// All operations carry the caller's deadline via ctx. On timeout or
// transport error, implementations must return an error wrapping
// ErrTransport rather than silently returning a zero value — a
// distinction repositories rely on to fail closed for job mutations
// and fail open for rate limiting.
type Store interface {
	// Get returns the raw value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key with the given TTL. A zero ttl means no
	// expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetJSON marshals value and stores it, with the given TTL.
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error

	// GetJSON fetches key and unmarshals it into dest. Returns
	// ErrNotFound if key is absent.
	GetJSON(ctx context.Context, key string, dest any) error

	// Delete removes one or more keys. Deleting an absent key is not
	// an error.
	Delete(ctx context.Context, keys ...string) error

	// Exists reports how many of the given keys are present.
	Exists(ctx context.Context, keys ...string) (int64, error)

	// Incr atomically increments the integer value at key by one,
	// creating it at 1 if absent.
	Incr(ctx context.Context, key string) (int64, error)

	// ExpireAt sets the absolute expiration time of key. It is a
	// no-op, successfully, if key does not exist.
	ExpireAt(ctx context.Context, key string, at time.Time) error

	// Scan returns a lazy, two-valued sequence of keys matching
	// pattern, fetched in bounded batches so a large keyspace never
	// blocks the store for other callers. Iteration stops early if the
	// consumer breaks, or at the first error, which is yielded as the
	// second value with an empty key.
	Scan(ctx context.Context, pattern string) iter.Seq2[string, error]

	// Pipeline executes fn against a batched Pipeline, flushing all
	// queued operations in a single round trip. Each Result is
	// populated only after Pipeline returns.
	Pipeline(ctx context.Context, fn func(Pipeline)) error

	// EvalScript runs script atomically against keys, with args passed
	// through to the script.
	EvalScript(ctx context.Context, script *Script, keys []string, args ...any) (any, error)

	// WithLock acquires a named distributed lock before running fn,
	// waiting up to wait for the lock to become available and holding
	// it for at most lease. The lock is released when fn returns,
	// regardless of outcome.
	WithLock(ctx context.Context, name string, lease, wait time.Duration, fn func(ctx context.Context) error) error
}
