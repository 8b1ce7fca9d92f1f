package redisqueue

import (
	"context"
	"errors"
	"time"

	"github.com/henriquebonfim/ultradl/internal/job"
	"github.com/henriquebonfim/ultradl/internal/kv"
	"github.com/henriquebonfim/ultradl/internal/queue"
)

// Repository also implements queue.Pusher, queue.Puller, queue.Observer
// and queue.Cleaner, so the Worker Pool (component M) can drive jobs
// through their lifecycle without depending on Redis directly.
var (
	_ queue.Pusher   = (*Repository)(nil)
	_ queue.Puller   = (*Repository)(nil)
	_ queue.Observer = (*Repository)(nil)
	_ queue.Cleaner  = (*Repository)(nil)
)

// Push enqueues jb, scheduling it delay in the future.
func (r *Repository) Push(ctx context.Context, jb *job.Job, delay time.Duration) error {
	now := time.Now().UTC()
	jb.Status = job.Pending
	jb.CreatedAt = now
	jb.UpdatedAt = now
	jb.NextRunAt = now.Add(delay)
	jb.LockedUntil = nil
	return r.Save(ctx, jb)
}

// Pull scans the keyspace for up to batch eligible jobs and claims
// each with the CAS script, so a job scanned by two workers racing
// the same poll interval is only ever claimed once.
func (r *Repository) Pull(ctx context.Context, batch int, lock time.Duration) ([]*job.Job, error) {
	now := time.Now().UTC()
	lockUntil := now.Add(lock)
	var claimed []*job.Job
	for key, err := range r.store.Scan(ctx, keyPrefix+"*") {
		if batch > 0 && len(claimed) >= batch {
			break
		}
		if err != nil {
			return claimed, err
		}
		raw, err := r.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return claimed, err
		}
		jb, err := decodeJob(raw)
		if err != nil {
			return claimed, err
		}
		eligible := jb.Status == job.Pending && !jb.NextRunAt.After(now)
		if !eligible && jb.Status == job.Processing && jb.LockedUntil != nil && !jb.LockedUntil.After(now) {
			eligible = true
		}
		if !eligible {
			continue
		}
		expected := jb.Status.String()
		jb.Status = job.Processing
		jb.Attempts++
		jb.LockedUntil = &lockUntil
		jb.UpdatedAt = now
		if err := r.cas(ctx, jb.Id, expected, jb); err != nil {
			if errors.Is(err, ErrCASFailed) {
				continue // lost the race to another worker
			}
			return claimed, err
		}
		claimed = append(claimed, jb)
	}
	return claimed, nil
}

// ExtendLock refreshes the visibility timeout of a Processing job.
func (r *Repository) ExtendLock(ctx context.Context, jb *job.Job, lock time.Duration) error {
	now := time.Now().UTC()
	newLock := now.Add(lock)
	updated := *jb
	updated.LockedUntil = &newLock
	updated.UpdatedAt = now
	if err := r.cas(ctx, jb.Id, job.Processing.String(), &updated); err != nil {
		if errors.Is(err, ErrCASFailed) {
			return queue.ErrLockLost
		}
		return err
	}
	jb.LockedUntil = &newLock
	jb.UpdatedAt = now
	return nil
}

// Complete transitions a Processing job to Completed. It is the
// generic delivery-acknowledgment step queue.Worker calls after a
// JobHandler returns nil; the Download Orchestrator's handler already
// commits the real Processing->Completed transition, with the
// resolved artifact, through jobmanager.Manager.Complete before
// returning, so by the time this runs the stored job is ordinarily
// Completed already. Complete treats that as success and acknowledges
// idempotently rather than racing it for the same CAS; it only
// performs its own CAS write when some other JobHandler left the job
// genuinely still Processing.
func (r *Repository) Complete(ctx context.Context, jb *job.Job) error {
	current, err := r.Get(ctx, jb.Id)
	if err != nil {
		return err
	}
	if current != nil && current.Status == job.Completed {
		jb.Status = current.Status
		jb.LockedUntil = current.LockedUntil
		jb.UpdatedAt = current.UpdatedAt
		if current.DownloadURL != nil {
			jb.DownloadURL = current.DownloadURL
		}
		if current.Token != nil {
			jb.Token = current.Token
		}
		if current.ExpireAt != nil {
			jb.ExpireAt = current.ExpireAt
		}
		return nil
	}
	if current == nil || current.Status != job.Processing {
		return queue.ErrCompleteFailed
	}
	now := time.Now().UTC()
	updated := *current
	updated.Status = job.Completed
	updated.LockedUntil = nil
	updated.UpdatedAt = now
	if err := r.cas(ctx, jb.Id, current.Status.String(), &updated); err != nil {
		if errors.Is(err, ErrCASFailed) {
			return queue.ErrCompleteFailed
		}
		return err
	}
	jb.Status = job.Completed
	jb.LockedUntil = nil
	jb.UpdatedAt = now
	return nil
}

// Return reschedules a Processing job back to Pending after backoff.
// It re-fetches the current stored record first, the same way Kill
// does, so it carries forward any detail (e.g. AttachError's
// ErrorMessage/ErrorCategory) written to the job after the caller's
// in-memory jb was last read, instead of overwriting it with a stale
// copy.
func (r *Repository) Return(ctx context.Context, jb *job.Job, backoff time.Duration) error {
	current, err := r.Get(ctx, jb.Id)
	if err != nil {
		return err
	}
	if current == nil || current.Status.Terminal() {
		return queue.ErrJobLost
	}
	now := time.Now().UTC()
	nextRun := now.Add(backoff)
	updated := *current
	updated.Status = job.Pending
	updated.NextRunAt = nextRun
	updated.LockedUntil = nil
	updated.UpdatedAt = now
	if err := r.cas(ctx, jb.Id, current.Status.String(), &updated); err != nil {
		if errors.Is(err, ErrCASFailed) {
			return queue.ErrJobLost
		}
		return err
	}
	jb.Status = job.Pending
	jb.NextRunAt = nextRun
	jb.LockedUntil = nil
	jb.UpdatedAt = now
	jb.ErrorMessage = current.ErrorMessage
	jb.ErrorCategory = current.ErrorCategory
	return nil
}

// Kill transitions a Pending or Processing job directly to Failed.
func (r *Repository) Kill(ctx context.Context, jb *job.Job) error {
	current, err := r.Get(ctx, jb.Id)
	if err != nil {
		return err
	}
	if current == nil || current.Status.Terminal() {
		return queue.ErrJobLost
	}
	now := time.Now().UTC()
	updated := *current
	updated.Status = job.Failed
	updated.LockedUntil = nil
	updated.UpdatedAt = now
	if err := r.cas(ctx, jb.Id, current.Status.String(), &updated); err != nil {
		if errors.Is(err, ErrCASFailed) {
			return queue.ErrJobLost
		}
		return err
	}
	jb.Status = job.Failed
	jb.LockedUntil = nil
	jb.UpdatedAt = now
	return nil
}

// List returns up to limit jobs in status, for Observer use.
func (r *Repository) List(ctx context.Context, status job.Status, limit int) ([]*job.Job, error) {
	return r.FindByStatus(ctx, status, limit)
}

// Clean deletes terminal jobs matching status (job.Unknown for both
// Completed and Failed), optionally restricted to those last updated
// at or before before.
func (r *Repository) Clean(ctx context.Context, status job.Status, before *time.Time) (int64, error) {
	if status != job.Unknown && status != job.Completed && status != job.Failed {
		return 0, queue.ErrBadStatus
	}
	var deleted int64
	for key, err := range r.store.Scan(ctx, keyPrefix+"*") {
		if err != nil {
			return deleted, err
		}
		raw, err := r.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return deleted, err
		}
		jb, err := decodeJob(raw)
		if err != nil {
			return deleted, err
		}
		if !jb.Status.Terminal() {
			continue
		}
		if status != job.Unknown && jb.Status != status {
			continue
		}
		if before != nil && jb.UpdatedAt.After(*before) {
			continue
		}
		if err := r.store.Delete(ctx, key); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
