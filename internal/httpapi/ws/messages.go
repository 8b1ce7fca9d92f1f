package ws

import (
	"github.com/henriquebonfim/ultradl/internal/fanout"
)

type connectedMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}

type subscribedMessage struct {
	Type    string `json:"type"`
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

type unsubscribedMessage struct {
	Type    string `json:"type"`
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type pongMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`
}

type jobProgressMessage struct {
	Type     string                 `json:"type"`
	JobID    string                 `json:"job_id"`
	Progress fanout.ProgressPayload `json:"progress"`
}

type jobCompletedMessage struct {
	Type        string `json:"type"`
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	DownloadURL string `json:"download_url"`
	ExpireAt    string `json:"expire_at,omitempty"`
}

type jobFailedMessage struct {
	Type          string `json:"type"`
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	Error         string `json:"error"`
	ErrorCategory string `json:"error_category,omitempty"`
}

type jobCancelledMessage struct {
	Type   string `json:"type"`
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type jobWarningMessage struct {
	Type    string `json:"type"`
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

// toWire translates a fanout.Event into its wire-message shape, per
// spec §6's `job_progress`/`job_completed`/`job_failed`/`job_cancelled`/
// `job_warning` push events. An event type or payload this adapter
// does not recognize is dropped rather than forwarded malformed.
func toWire(ev fanout.Event) any {
	jobID := ev.JobID.String()
	switch ev.Type {
	case fanout.EventProgress:
		p, ok := ev.Payload.(fanout.ProgressPayload)
		if !ok {
			return nil
		}
		return jobProgressMessage{Type: string(fanout.EventProgress), JobID: jobID, Progress: p}

	case fanout.EventCompleted:
		p, ok := ev.Payload.(fanout.CompletedPayload)
		if !ok {
			return nil
		}
		return jobCompletedMessage{
			Type:        string(fanout.EventCompleted),
			JobID:       jobID,
			Status:      "completed",
			DownloadURL: p.DownloadURL,
			ExpireAt:    p.ExpireAt.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
		}

	case fanout.EventFailed:
		p, ok := ev.Payload.(fanout.FailedPayload)
		if !ok {
			return nil
		}
		return jobFailedMessage{
			Type:          string(fanout.EventFailed),
			JobID:         jobID,
			Status:        "failed",
			Error:         p.ErrorMessage,
			ErrorCategory: p.ErrorCategory,
		}

	case fanout.EventCancelled:
		return jobCancelledMessage{Type: string(fanout.EventCancelled), JobID: jobID, Status: "cancelled"}

	case fanout.EventWarning:
		p, ok := ev.Payload.(fanout.WarningPayload)
		if !ok {
			return nil
		}
		return jobWarningMessage{Type: string(fanout.EventWarning), JobID: jobID, Message: p.Message}

	default:
		return nil
	}
}
