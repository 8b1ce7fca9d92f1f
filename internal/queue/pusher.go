package queue

import (
	"context"
	"time"

	"github.com/henriquebonfim/ultradl/internal/job"
)

// Pusher defines the write-side entry point of a queue.
type Pusher interface {

	// Push enqueues a new job for future processing.
	//
	// The provided context controls cancellation of the enqueue operation
	// itself. It does not affect the lifetime of the enqueued job.
	//
	// The delay parameter specifies the minimum duration that must elapse
	// before the job becomes eligible for pulling. A zero delay makes
	// the job immediately available. A positive delay schedules the
	// job for deferred execution.
	//
	// Implementations are expected to:
	//
	//   - persist the job durably before returning nil
	//   - initialize internal scheduling metadata (for example, NextRunAt)
	//   - assign creation timestamps if applicable
	//
	// Push must not mutate jb after returning.
	//
	// If Push returns a non-nil error, the job must not be considered
	// enqueued.
	//
	// Implementations may return context-related errors if ctx is canceled
	// or times out.
	Push(ctx context.Context, jb *job.Job, delay time.Duration) error
}
