// Package workerpool implements the Worker Dispatch Layer's timeout
// half (component M, continued): a soft/hard timeout pair layered atop
// the generic queue.Worker, per spec §4.11.
//
// The soft timeout bounds a job handler via context cancellation — the
// orchestrator observes ctx.Done(), unwinds, and its own error
// categorization (internal/orchestrator) turns the resulting
// context.DeadlineExceeded into apierr.Timeout, a non-retryable
// category, which already yields queue.ErrKill through the existing
// machinery. Pool also reports queue.ErrKill itself for any handler
// that returns an error once the soft deadline has expired, so a
// soft-timed-out job is failed rather than retried whatever the
// handler.
//
// The hard timeout is the backstop for a handler that does not honor
// context cancellation promptly (e.g. blocked in an uninterruptible
// syscall): Pool stops waiting on the handler goroutine once hard
// elapses and reports the job killed immediately. Go cannot forcibly
// preempt the abandoned goroutine; it is left to exit on its own once
// whatever it was blocked on eventually returns.
package workerpool

import (
	"context"
	"log/slog"
	"time"

	"github.com/henriquebonfim/ultradl/internal/job"
	"github.com/henriquebonfim/ultradl/internal/queue"
)

// Config bundles the queue.Worker configuration with the soft/hard
// timeout pair.
type Config struct {
	Worker      queue.WorkerConfig
	SoftTimeout time.Duration
	HardTimeout time.Duration
}

// Pool is the Worker Dispatch Layer: it wraps a queue.Worker whose
// handler has the soft/hard timeout pair applied.
type Pool struct {
	worker *queue.Worker
}

// New creates a Pool. handler is typically an
// *orchestrator.Orchestrator's Run method, passed as a value since its
// signature already matches queue.JobHandler.
func New(puller queue.Puller, handler queue.JobHandler, cfg Config, log *slog.Logger) *Pool {
	wrapped := wrapTimeouts(handler, cfg.SoftTimeout, cfg.HardTimeout, log)
	return &Pool{worker: queue.NewWorker(puller, wrapped, &cfg.Worker, log)}
}

// Start begins background pulling and dispatch. See queue.Worker.Start.
func (p *Pool) Start(ctx context.Context) error {
	return p.worker.Start(ctx)
}

// Stop gracefully shuts the pool down. See queue.Worker.Stop.
func (p *Pool) Stop(timeout time.Duration) error {
	return p.worker.Stop(timeout)
}

// wrapTimeouts returns a queue.JobHandler that runs handler under a
// soft-timeout context, turns an error returned after that deadline
// into queue.ErrKill, and abandons the handler — reporting
// queue.ErrKill immediately — if it has not returned within hard. A
// non-positive
// soft or hard disables that half of the pair.
func wrapTimeouts(handler queue.JobHandler, soft, hard time.Duration, log *slog.Logger) queue.JobHandler {
	return func(ctx context.Context, jb *job.Job) error {
		runCtx := ctx
		if soft > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, soft)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			done <- handler(runCtx, jb)
		}()

		// A handler error after the soft deadline expired (and not
		// because the worker itself is shutting down) fails the job.
		finish := func(err error) error {
			if err != nil && soft > 0 && ctx.Err() == nil && runCtx.Err() == context.DeadlineExceeded {
				return queue.ErrKill
			}
			return err
		}

		if hard <= 0 {
			return finish(<-done)
		}
		timer := time.NewTimer(hard)
		defer timer.Stop()
		select {
		case err := <-done:
			return finish(err)
		case <-timer.C:
			log.Error("workerpool: hard timeout exceeded, abandoning handler", "job_id", jb.Id, "hard_timeout", hard)
			return queue.ErrKill
		}
	}
}
