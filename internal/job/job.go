package job

import (
	"time"

	"github.com/google/uuid"

	"github.com/henriquebonfim/ultradl/internal/apierr"
)

// Job is the principal aggregate of the control plane: a single
// client-submitted download request as it moves through the state
// machine described in status.go.
//
// CreatedAt records when the job was initially enqueued.
// UpdatedAt records the last state transition or modification; per the
// universal invariant, UpdatedAt observed at time T never exceeds T.
//
// URL and FormatID are the client-submitted request. Progress tracks
// percentage/phase/speed/ETA while Processing. DownloadURL, Token and
// ExpireAt are populated together, only on Completed. ErrorMessage and
// ErrorCategory are populated together, only on Failed.
//
// Attempts, LockedUntil and NextRunAt are queue delivery metadata: they
// drive the worker dispatch lease (visibility timeout) and are distinct
// from the business Status above, though Pull/Return/Kill mutate both.
//
// Job instances should be treated as snapshots of storage state.
// Mutating fields directly does not change the underlying record;
// transitions must be performed through jobmanager or queue operations.
type Job struct {
	Id uuid.UUID

	URL      string
	FormatID string

	Status   Status
	Progress Progress

	DownloadURL *string
	Token       *string
	ExpireAt    *time.Time

	ErrorMessage  *string
	ErrorCategory *apierr.Category

	CreatedAt time.Time
	UpdatedAt time.Time

	Attempts    uint32
	LockedUntil *time.Time
	NextRunAt   time.Time
}

// New creates a new Pending job for the given request, with a freshly
// generated identifier and zeroed progress. The caller is responsible
// for persisting it.
func New(url, formatID string) *Job {
	now := time.Now()
	return &Job{
		Id:        uuid.New(),
		URL:       url,
		FormatID:  formatID,
		Status:    Pending,
		Progress:  Progress{},
		CreatedAt: now,
		UpdatedAt: now,
		NextRunAt: now,
	}
}
