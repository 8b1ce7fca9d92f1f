// Package jobmanager implements the Job Manager (component H): the
// domain service that owns every Job lifecycle transition and the
// archival-cleanup pipeline that eventually removes terminal jobs.
package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/henriquebonfim/ultradl/internal/apierr"
	"github.com/henriquebonfim/ultradl/internal/archive"
	"github.com/henriquebonfim/ultradl/internal/job"
	"github.com/henriquebonfim/ultradl/internal/queue"
	"github.com/henriquebonfim/ultradl/internal/redisqueue"
)

// ErrWrongState is returned when a transition is attempted from a
// status the operation does not permit.
var ErrWrongState = errors.New("jobmanager: job is not in a state that permits this transition")

// ArtifactDeleter is the subset of the File Manager (component I) the
// archival pipeline needs: delete whatever artifact is bound to a job,
// if any. Defined locally so this package does not depend on
// internal/filemanager's full surface.
type ArtifactDeleter interface {
	DeleteByJobID(ctx context.Context, jobID uuid.UUID) error
}

// Archiver is the subset of the Archive Repository (component F) the
// cleanup pipeline needs.
type Archiver interface {
	Save(ctx context.Context, s archive.Snapshot) error
}

// Manager is the Job Manager.
type Manager struct {
	repo   *redisqueue.Repository
	pusher queue.Pusher
	log    *slog.Logger
}

// New creates a Manager over repo, enqueuing new jobs via pusher.
func New(repo *redisqueue.Repository, pusher queue.Pusher, log *slog.Logger) *Manager {
	return &Manager{repo: repo, pusher: pusher, log: log}
}

// Create builds a new Pending job for (url, formatID) and enqueues it
// for immediate pickup.
func (m *Manager) Create(ctx context.Context, url, formatID string) (*job.Job, error) {
	jb := job.New(url, formatID)
	if err := m.pusher.Push(ctx, jb, 0); err != nil {
		return nil, err
	}
	return jb, nil
}

// Start transitions id from Pending to Processing. Any other source
// state is rejected.
func (m *Manager) Start(ctx context.Context, id uuid.UUID) error {
	jb, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if jb == nil {
		return redisqueue.ErrCASFailed
	}
	if jb.Status != job.Pending {
		return fmt.Errorf("%w: job %s is %s", ErrWrongState, id, jb.Status)
	}
	return m.repo.UpdateStatus(ctx, id, job.Processing, "", "")
}

// UpdateProgress delegates straight to the repository's scripted
// monotonic merge.
func (m *Manager) UpdateProgress(ctx context.Context, id uuid.UUID, progress job.Progress) error {
	return m.repo.UpdateProgress(ctx, id, progress)
}

// Get fetches a job by id, returning (nil, nil) if absent — the HTTP
// adapter maps that to a 404 without needing to know about the
// repository layer directly.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	return m.repo.Get(ctx, id)
}

// Cancel requests cancellation of a non-terminal job, transitioning it
// straight to Failed with apierr.Cancelled. It is a no-op error,
// ErrWrongState, if the job is already terminal.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) error {
	jb, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if jb == nil {
		return redisqueue.ErrCASFailed
	}
	if jb.Status.Terminal() {
		return fmt.Errorf("%w: job %s is already %s", ErrWrongState, id, jb.Status)
	}
	return m.repo.UpdateStatus(ctx, id, job.Failed, "cancelled by client", apierr.Cancelled)
}

// Delete removes a job record outright. It refuses with ErrWrongState
// if the job is not yet in a terminal status, per the REST surface's
// "204 / 404 / 409 (if not terminal)" contract — a non-terminal job
// must be cancelled, not deleted, while still in flight.
func (m *Manager) Delete(ctx context.Context, id uuid.UUID) error {
	jb, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if jb == nil {
		return redisqueue.ErrCASFailed
	}
	if !jb.Status.Terminal() {
		return fmt.Errorf("%w: job %s is %s, not terminal", ErrWrongState, id, jb.Status)
	}
	return m.repo.Delete(ctx, id)
}

// Complete transitions id from Processing to Completed, atomically
// recording the resolved download artifact identifiers.
func (m *Manager) Complete(ctx context.Context, id uuid.UUID, downloadURL, token string, expireAt time.Time) error {
	return m.repo.CompleteWithArtifact(ctx, id, downloadURL, token, expireAt)
}

// Fail transitions id from any non-terminal state to Failed, recording
// msg/category. Callers driven by the queue worker (internal/workerpool)
// should prefer AttachError + returning an error/queue.ErrKill instead,
// so the queue's own Return/Kill owns the status transition; Fail is
// for direct, non-queue-mediated callers.
func (m *Manager) Fail(ctx context.Context, id uuid.UUID, msg string, category apierr.Category) error {
	return m.repo.UpdateStatus(ctx, id, job.Failed, msg, category)
}

// AttachError records a categorized failure on id without changing its
// status. See redisqueue.Repository.AttachError.
func (m *Manager) AttachError(ctx context.Context, id uuid.UUID, msg string, category apierr.Category) error {
	return m.repo.AttachError(ctx, id, msg, category)
}

// CleanupExpired implements the archival pipeline described in spec
// §4.7: for each expired id, archive (if a backend is configured and
// the job is terminal), delete the bound artifact (if a file manager
// is supplied), then delete the job record. Every stage is
// independently best-effort except the final delete, whose success is
// what increments the returned count — partial progress on a bad
// record is strictly better than none, since each stage retries on the
// next reaper tick.
func (m *Manager) CleanupExpired(ctx context.Context, threshold time.Time, archiver Archiver, files ArtifactDeleter) (int, error) {
	ids, err := m.repo.GetExpired(ctx, threshold)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range ids {
		jb, err := m.repo.Get(ctx, id)
		if err != nil {
			m.log.Warn("cleanup: failed to fetch job", "job_id", id, "err", err)
			continue
		}
		if jb == nil {
			continue
		}

		if archiver != nil && jb.Status.Terminal() {
			snap := archive.FromJob(jb, time.Now().UTC())
			if err := archiver.Save(ctx, snap); err != nil {
				m.log.Warn("cleanup: archive failed, continuing", "job_id", id, "err", err)
			}
		}

		if files != nil {
			if err := files.DeleteByJobID(ctx, id); err != nil {
				m.log.Warn("cleanup: artifact delete failed, continuing", "job_id", id, "err", err)
			}
		}

		if err := m.repo.Delete(ctx, id); err != nil {
			m.log.Warn("cleanup: job delete failed", "job_id", id, "err", err)
			continue
		}
		count++
	}
	return count, nil
}
