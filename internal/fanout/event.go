package fanout

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a push-channel event kind, matching the WS wire
// names in spec §6.
type EventType string

const (
	EventProgress  EventType = "job_progress"
	EventCompleted EventType = "job_completed"
	EventFailed    EventType = "job_failed"
	EventCancelled EventType = "job_cancelled"
	EventWarning   EventType = "job_warning"
)

// Event is one published occurrence for a room (job id), carrying a
// type-specific payload per spec §4.12.
type Event struct {
	Type  EventType
	JobID uuid.UUID
	At    time.Time

	Payload any
}

// ProgressPayload accompanies EventProgress.
type ProgressPayload struct {
	Percentage int     `json:"percentage"`
	Phase      string  `json:"phase"`
	Speed      *string `json:"speed,omitempty"`
	ETA        *string `json:"eta,omitempty"`
}

// CompletedPayload accompanies EventCompleted.
type CompletedPayload struct {
	DownloadURL string    `json:"download_url"`
	ExpireAt    time.Time `json:"expire_at"`
}

// FailedPayload accompanies EventFailed.
type FailedPayload struct {
	ErrorMessage  string `json:"error_message"`
	ErrorCategory string `json:"error_category"`
}

// CancelledPayload accompanies EventCancelled. It carries no fields of
// its own; the job id on the enclosing Event is sufficient.
type CancelledPayload struct{}

// WarningPayload accompanies EventWarning: a non-fatal condition the
// orchestrator wants to surface without failing the job (e.g. an
// approximated format), per SPEC_FULL.md's supplemented warning event.
type WarningPayload struct {
	Message string `json:"message"`
}
