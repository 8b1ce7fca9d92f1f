// Package archive implements the Archive Repository (component F): an
// append-only store of terminal-job snapshots, written once by the
// reaper before the live job record is deleted, per spec §3's
// Job-Archive entity and §6's `archive:<id>` key.
package archive

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/henriquebonfim/ultradl/internal/apierr"
	"github.com/henriquebonfim/ultradl/internal/job"
	"github.com/henriquebonfim/ultradl/internal/kv"
)

// Snapshot is the retained subset of a Job plus its termination time,
// per spec §3: enough to audit what happened, not a full copy of
// transient queue-delivery metadata.
type Snapshot struct {
	Id       uuid.UUID
	URL      string
	FormatID string

	FinalStatus   job.Status
	ErrorMessage  *string
	ErrorCategory *apierr.Category

	CreatedAt    time.Time
	TerminatedAt time.Time
}

// FromJob builds a Snapshot from a terminal Job. The caller supplies
// terminatedAt explicitly (usually the reaper's observation time)
// rather than reusing UpdatedAt, since UpdatedAt reflects the last
// repository write, not necessarily this inspection.
func FromJob(j *job.Job, terminatedAt time.Time) Snapshot {
	return Snapshot{
		Id:            j.Id,
		URL:           j.URL,
		FormatID:      j.FormatID,
		FinalStatus:   j.Status,
		ErrorMessage:  j.ErrorMessage,
		ErrorCategory: j.ErrorCategory,
		CreatedAt:     j.CreatedAt,
		TerminatedAt:  terminatedAt,
	}
}

const keyPrefix = "archive:"

func key(id uuid.UUID) string {
	return keyPrefix + id.String()
}

// Repository persists Snapshots. Archives are retained indefinitely by
// external retention policy, per spec §3 — no TTL is set here.
type Repository struct {
	store kv.Store
}

// New creates a Repository over store.
func New(store kv.Store) *Repository {
	return &Repository{store: store}
}

// Save writes the snapshot, overwriting any prior entry for the same
// job id.
func (r *Repository) Save(ctx context.Context, s Snapshot) error {
	return r.store.SetJSON(ctx, key(s.Id), s, 0)
}

// Get fetches the archived snapshot for id, or kv.ErrNotFound.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Snapshot, error) {
	var s Snapshot
	err := r.store.GetJSON(ctx, key(id), &s)
	return s, err
}
