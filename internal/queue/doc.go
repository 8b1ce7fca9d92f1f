// Package queue provides a storage-agnostic job dispatch layer with
// at-least-once delivery semantics and visibility timeout behavior.
//
// # Overview
//
// queue builds on top of the job package's state machine. It defines a
// set of interfaces for pushing, pulling, observing and cleaning jobs,
// and a Worker that drives them from Pending through to a terminal
// state.
//
// The package does not mandate any particular storage backend. The
// control plane's own implementation lives in internal/redisqueue;
// queue itself has no dependency on Redis.
//
// # Delivery Semantics
//
// queue provides at-least-once processing guarantees.
//
// A job may be delivered more than once if:
//
//   - a worker crashes before completing it
//   - the visibility timeout expires
//   - the lease is lost due to concurrent processing
//
// Handlers must therefore be idempotent.
//
// Visibility Timeout (Lease Model)
//
// When a job is pulled, it transitions from Pending to Processing and
// receives a visibility timeout (LockedUntil). While the lease is valid,
// the job is not eligible for pulling by other workers.
//
// If the lease expires before completion, the job becomes eligible again.
//
// The Worker automatically extends the lease while a handler is running.
//
// # State Machine
//
// Jobs follow the lifecycle described in job/status.go:
//
//	Pending    -> Processing
//	Processing -> Completed
//	Processing -> Pending   (via Return)
//	Processing -> Failed
//
// Terminal states (Completed, Failed) are not retried unless explicitly
// requeued.
//
// # Retry Policy
//
// Retry behavior is controlled by BackoffConfig.
//
// When a handler returns an error:
//
//   - If the maximum retry limit is not exceeded,
//     the job is rescheduled with a computed backoff delay.
//   - Otherwise, the job transitions to Failed.
//
// Attempts are incremented each time a job is successfully pulled.
//
// Worker
//
//	coordinates pulling, dispatching, retrying and completing jobs.
//
// It:
//
//   - periodically polls storage for eligible jobs
//   - dispatches them to a configurable worker pool
//   - extends job leases while handlers execute
//   - applies retry/backoff logic on failure
//   - supports graceful shutdown with timeout
//
// Worker does not guarantee exactly-once delivery.
//
// # Interfaces
//
// queue defines the following primary interfaces:
//
//	Pusher   — enqueue jobs
//	Puller   — manage job lifecycle transitions
//	Observer — inspect job state
//	Cleaner  — remove terminal jobs
//
// These interfaces allow storage implementations to be plugged in
// without coupling dispatch logic to a specific database.
//
// # Concurrency Model
//
// Worker uses a bounded internal queue and a fixed-size worker pool.
// Pulling and processing are decoupled to smooth load.
//
// Shutdown is graceful: in-flight handlers are allowed to finish,
// subject to a configurable timeout.
//
// # Storage Expectations
//
// Implementations of Puller must ensure atomic state transitions,
// durable persistence and correct visibility timeout handling.
//
// queue assumes that storage provides reliable write semantics.
// Behavior under concurrent writers depends on the chosen backend.
package queue
