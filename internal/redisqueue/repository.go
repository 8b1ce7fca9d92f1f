package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/henriquebonfim/ultradl/internal/apierr"
	"github.com/henriquebonfim/ultradl/internal/job"
	"github.com/henriquebonfim/ultradl/internal/kv"
)

// DefaultTTL is the Redis expiration applied to a job record absent an
// explicit override, per §3's "destroyed by Reaper after TTL (default
// 1 h after last update)".
const DefaultTTL = time.Hour

// Repository is the Job Repository (component B): it persists job.Job
// records in Store under one key per id and exposes the scripted,
// atomicity-guaranteeing operations the spec requires for concurrent
// workers.
type Repository struct {
	store kv.Store
	ttl   time.Duration
}

// New creates a Repository backed by store. ttl is applied to Save and
// save_many; a zero ttl falls back to DefaultTTL.
func New(store kv.Store, ttl time.Duration) *Repository {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Repository{store: store, ttl: ttl}
}

func encodeJob(jb *job.Job) ([]byte, error) {
	return json.Marshal(jb)
}

func decodeJob(raw []byte) (*job.Job, error) {
	var jb job.Job
	if err := json.Unmarshal(raw, &jb); err != nil {
		return nil, err
	}
	return &jb, nil
}

// Save unconditionally upserts jb with the repository's TTL.
func (r *Repository) Save(ctx context.Context, jb *job.Job) error {
	b, err := encodeJob(jb)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, jobKey(jb.Id.String()), b, r.ttl)
}

// Get fetches a single job. It returns (nil, nil) if absent, matching
// the teacher's Observer.Get contract.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	raw, err := r.store.Get(ctx, jobKey(id.String()))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeJob(raw)
}

// GetMany fetches several jobs in one round trip. Absent ids are
// omitted from the result; order is not preserved.
func (r *Repository) GetMany(ctx context.Context, ids []uuid.UUID) ([]*job.Job, error) {
	results := make([]*kv.Result, len(ids))
	err := r.store.Pipeline(ctx, func(p kv.Pipeline) {
		for i, id := range ids {
			results[i] = p.Get(jobKey(id.String()))
		}
	})
	if err != nil {
		return nil, err
	}
	out := make([]*job.Job, 0, len(ids))
	for _, res := range results {
		if res.Err != nil {
			if errors.Is(res.Err, kv.ErrNotFound) {
				continue
			}
			return nil, res.Err
		}
		jb, err := decodeJob(res.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, jb)
	}
	return out, nil
}

// SaveMany upserts jobs pipelined in a single round trip, all-or-
// nothing at the transport level.
func (r *Repository) SaveMany(ctx context.Context, jobs []*job.Job) error {
	encoded := make([][]byte, len(jobs))
	for i, jb := range jobs {
		b, err := encodeJob(jb)
		if err != nil {
			return err
		}
		encoded[i] = b
	}
	results := make([]*kv.Result, len(jobs))
	if err := r.store.Pipeline(ctx, func(p kv.Pipeline) {
		for i, jb := range jobs {
			results[i] = p.Set(jobKey(jb.Id.String()), encoded[i], r.ttl)
		}
	}); err != nil {
		return err
	}
	for _, res := range results {
		if res.Err != nil {
			return res.Err
		}
	}
	return nil
}

// Delete removes a job unconditionally.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.store.Delete(ctx, jobKey(id.String()))
}

// Exists reports whether a job with the given id is stored.
func (r *Repository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	n, err := r.store.Exists(ctx, jobKey(id.String()))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpdateProgress applies a scripted, monotonic merge of progress onto
// the stored job. It refuses (returns kv.ErrNotFound) if the job does
// not exist.
func (r *Repository) UpdateProgress(ctx context.Context, id uuid.UUID, progress job.Progress) error {
	if err := progress.Validate(); err != nil {
		return err
	}
	speed := ""
	if progress.Speed != nil {
		speed = *progress.Speed
	}
	eta := ""
	if progress.ETA != nil {
		eta = *progress.ETA
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := r.store.EvalScript(ctx, progressMergeScript, []string{jobKey(id.String())},
		progress.Percentage, progress.Phase, speed, eta, now, int64(r.ttl/time.Second))
	if err != nil {
		return err
	}
	if res == false || res == nil {
		return kv.ErrNotFound
	}
	return nil
}

// UpdateStatus transitions a job to status, attaching errMsg/errCat
// when status is job.Failed. The read, terminal-state check and
// conditional write all happen inside statusUpdateScript, one round
// trip with no suspension point a concurrent worker could interleave
// into.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status job.Status, errMsg string, errCat apierr.Category) error {
	hasError := "0"
	if status == job.Failed {
		hasError = "1"
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := r.store.EvalScript(ctx, statusUpdateScript, []string{jobKey(id.String())},
		status.String(), errMsg, string(errCat), hasError, now, int64(r.ttl/time.Second))
	if err != nil {
		return err
	}
	switch res {
	case "ok":
		return nil
	case "not_found":
		return kv.ErrNotFound
	case "terminal":
		return fmt.Errorf("redisqueue: job %s already terminal", id)
	default:
		return fmt.Errorf("redisqueue: unexpected statusUpdateScript result %v", res)
	}
}

// CompleteWithArtifact transitions a job processing→completed,
// atomically attaching the download artifact identifiers the job
// manager resolved (spec §4.7's "complete" operation). It is rejected
// if the stored job is not currently Processing. Named distinctly from
// the queue.Puller Complete method below, which only marks a job
// Completed for delivery-acknowledgment purposes and carries no
// artifact.
func (r *Repository) CompleteWithArtifact(ctx context.Context, id uuid.UUID, downloadURL, token string, expireAt time.Time) error {
	now := time.Now().UTC()
	res, err := r.store.EvalScript(ctx, completeWithArtifactScript, []string{jobKey(id.String())},
		downloadURL, token, expireAt.UTC().Format(time.RFC3339Nano), now.Format(time.RFC3339Nano), int64(r.ttl/time.Second))
	if err != nil {
		return err
	}
	switch res {
	case "ok":
		return nil
	case "not_found":
		return kv.ErrNotFound
	case "not_processing":
		return fmt.Errorf("redisqueue: job %s not processing", id)
	default:
		return fmt.Errorf("redisqueue: unexpected completeWithArtifactScript result %v", res)
	}
}

// cas overwrites the stored job only if its current status still
// equals expected, via statusTransitionScript.
func (r *Repository) cas(ctx context.Context, id uuid.UUID, expected string, jb *job.Job) error {
	b, err := encodeJob(jb)
	if err != nil {
		return err
	}
	res, err := r.store.EvalScript(ctx, statusTransitionScript, []string{jobKey(id.String())},
		expected, string(b), int64(r.ttl/time.Second))
	if err != nil {
		return err
	}
	ok, _ := res.(bool)
	if !ok {
		return ErrCASFailed
	}
	return nil
}

// AttachError records a categorized failure on id without changing its
// status, so a subsequent queue-level transition (Return, Kill) picks
// up the detail when it re-reads the stored record. Used by the
// orchestrator ahead of returning an error/ErrKill from the worker
// handler, since the handler itself must not flip status directly —
// that would race the queue's own Return/Kill CAS.
func (r *Repository) AttachError(ctx context.Context, id uuid.UUID, msg string, cat apierr.Category) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := r.store.EvalScript(ctx, attachErrorScript, []string{jobKey(id.String())},
		msg, string(cat), now, int64(r.ttl/time.Second))
	if err != nil {
		return err
	}
	switch res {
	case "ok":
		return nil
	case "not_found":
		return kv.ErrNotFound
	default:
		return fmt.Errorf("redisqueue: unexpected attachErrorScript result %v", res)
	}
}

// ErrCASFailed indicates a scripted transition's expected-status check
// did not hold: the job was absent or had already moved on.
var ErrCASFailed = errors.New("redisqueue: compare-and-swap failed")

// GetExpired returns ids of terminal jobs whose UpdatedAt is at or
// before threshold, iterating the keyspace with a bounded, non-
// blocking scan and filtering application-side — the same discipline
// the teacher's Observer.List applies for its status filter.
func (r *Repository) GetExpired(ctx context.Context, threshold time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for key, err := range r.store.Scan(ctx, keyPrefix+"*") {
		if err != nil {
			return nil, err
		}
		raw, err := r.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return nil, err
		}
		jb, err := decodeJob(raw)
		if err != nil {
			return nil, err
		}
		if jb.Status.Terminal() && !jb.UpdatedAt.After(threshold) {
			ids = append(ids, jb.Id)
		}
	}
	return ids, nil
}

// FindByStatus scans the keyspace for jobs in status, stopping as soon
// as limit results have been collected. status of job.Unknown matches
// any status.
func (r *Repository) FindByStatus(ctx context.Context, status job.Status, limit int) ([]*job.Job, error) {
	var out []*job.Job
	for key, err := range r.store.Scan(ctx, keyPrefix+"*") {
		if err != nil {
			return nil, err
		}
		raw, err := r.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, kv.ErrNotFound) {
				continue
			}
			return nil, err
		}
		jb, err := decodeJob(raw)
		if err != nil {
			return nil, err
		}
		if status != job.Unknown && jb.Status != status {
			continue
		}
		out = append(out, jb)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
