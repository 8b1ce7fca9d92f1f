// Package orchestrator implements the Download Orchestrator (component
// L): the single-job workflow that drives one job from Processing to
// a terminal state, per spec §4.10.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/henriquebonfim/ultradl/internal/apierr"
	"github.com/henriquebonfim/ultradl/internal/extractor"
	"github.com/henriquebonfim/ultradl/internal/fanout"
	"github.com/henriquebonfim/ultradl/internal/filemanager"
	"github.com/henriquebonfim/ultradl/internal/job"
	"github.com/henriquebonfim/ultradl/internal/jobmanager"
	"github.com/henriquebonfim/ultradl/internal/metrics"
	"github.com/henriquebonfim/ultradl/internal/queue"
	"github.com/henriquebonfim/ultradl/internal/signedurl"
	"github.com/henriquebonfim/ultradl/internal/storage"
)

// noopPublisher discards every event; used when Orchestrator is
// constructed without a real fanout.Hub (e.g. in tests that don't
// care about the push channel).
type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, fanout.Event) {}

// progressThrottle is the minimum interval between published progress
// events for a single job, per spec §4.10 step 4.
const progressThrottle = 250 * time.Millisecond

// CategorizedError pairs an error with the apierr.Category it should
// surface as. Orchestrator steps return one of these instead of a bare
// error whenever the failure is attributable to a specific, known
// cause (format not found, context deadline, etc); anything else falls
// back to apierr.DownloadFailed, the catch-all per spec §7.
type CategorizedError struct {
	Category apierr.Category
	Err      error
}

func (e *CategorizedError) Error() string { return e.Err.Error() }
func (e *CategorizedError) Unwrap() error { return e.Err }

func categorize(err error) apierr.Category {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierr.Timeout
	}
	if errors.Is(err, context.Canceled) {
		return apierr.Cancelled
	}
	return apierr.DownloadFailed
}

// Orchestrator drives a single job's lifecycle from the point the
// worker pool claims it to completion or failure.
type Orchestrator struct {
	extractor   extractor.Extractor
	storage     storage.Backend
	files       *filemanager.Manager
	jobs        *jobmanager.Manager
	urls        *signedurl.Service
	publisher   fanout.Publisher
	downloadDir string
	fileTTL     time.Duration
	log         *slog.Logger
}

// Config bundles Orchestrator's construction parameters.
type Config struct {
	DownloadDir string
	FileTTL     time.Duration
}

// New creates an Orchestrator. publisher may be nil, in which case
// progress/terminal events are silently discarded instead of reaching
// the Progress Fan-Out.
func New(ex extractor.Extractor, store storage.Backend, files *filemanager.Manager, jobs *jobmanager.Manager, urls *signedurl.Service, publisher fanout.Publisher, cfg Config, log *slog.Logger) *Orchestrator {
	ttl := cfg.FileTTL
	if ttl <= 0 {
		ttl = filemanager.DefaultTTL
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &Orchestrator{
		extractor:   ex,
		storage:     store,
		files:       files,
		jobs:        jobs,
		urls:        urls,
		publisher:   publisher,
		downloadDir: cfg.DownloadDir,
		fileTTL:     ttl,
		log:         log,
	}
}

// Run executes the full workflow for jb, which must already be in the
// Processing state (the worker pool/queue claims it before invoking
// this). It matches queue.JobHandler's signature directly.
//
// On success, jb is mutated in place with the resolved download
// artifact fields and a nil error is returned. The Processing->
// Completed transition, with the resolved artifact, is committed by
// jobs.Complete (jobmanager.Manager, component H) before Run returns;
// the queue's own Puller.Complete call afterward, driven generically
// by queue.Worker, finds the job already Completed and acknowledges
// idempotently instead of racing it for the same CAS.
//
// On failure, Run attaches the categorized error to the stored record
// via jobs.AttachError without changing its status, then returns
// either the wrapped error (retryable categories, so the queue's own
// backoff/Return logic owns the next step) or queue.ErrKill
// (non-retryable categories, forcing an immediate terminal Failed via
// the queue's Kill).
func (o *Orchestrator) Run(ctx context.Context, jb *job.Job) error {
	timer := metrics.NewTimer()
	if err := o.run(ctx, jb); err != nil {
		cat := categorize(err)
		if attachErr := o.jobs.AttachError(ctx, jb.Id, err.Error(), cat); attachErr != nil {
			o.log.Error("orchestrator: failed to attach error detail", "job_id", jb.Id, "err", attachErr)
		}
		if apierr.Retryable(cat) {
			return err
		}
		timer.ObserveDuration(metrics.JobDuration)
		metrics.JobsTotal.WithLabelValues(job.Failed.String(), string(cat)).Inc()
		o.publishTerminalFailure(ctx, jb.Id, err.Error(), cat)
		return queue.ErrKill
	}
	timer.ObserveDuration(metrics.JobDuration)
	metrics.JobsTotal.WithLabelValues(job.Completed.String(), "").Inc()
	o.publisher.Publish(ctx, fanout.Event{
		Type:  fanout.EventCompleted,
		JobID: jb.Id,
		At:    jb.UpdatedAt,
		Payload: fanout.CompletedPayload{
			DownloadURL: *jb.DownloadURL,
			ExpireAt:    *jb.ExpireAt,
		},
	})
	return nil
}

// publishTerminalFailure surfaces a non-retryable failure on the
// job's room. A Cancelled category gets its own event type per spec
// §4.12; everything else is EventFailed.
func (o *Orchestrator) publishTerminalFailure(ctx context.Context, id uuid.UUID, msg string, cat apierr.Category) {
	if cat == apierr.Cancelled {
		o.publisher.Publish(ctx, fanout.Event{
			Type: fanout.EventCancelled, JobID: id, At: time.Now().UTC(),
			Payload: fanout.CancelledPayload{},
		})
		return
	}
	o.publisher.Publish(ctx, fanout.Event{
		Type: fanout.EventFailed, JobID: id, At: time.Now().UTC(),
		Payload: fanout.FailedPayload{ErrorMessage: msg, ErrorCategory: string(cat)},
	})
}

func (o *Orchestrator) run(ctx context.Context, jb *job.Job) error {
	meta, err := o.extractor.Probe(ctx, jb.URL)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}

	formats, err := o.extractor.Formats(ctx, jb.URL)
	if err != nil {
		return fmt.Errorf("list formats: %w", err)
	}
	format, ok := findFormat(formats, jb.FormatID)
	if !ok {
		return &CategorizedError{
			Category: apierr.FormatNotFound,
			Err:      fmt.Errorf("format %q not available for %q", jb.FormatID, jb.URL),
		}
	}

	tmp, err := os.CreateTemp(o.downloadDir, "ultradl-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	lastPublish := time.Time{}
	onProgress := func(p extractor.DownloadProgress) {
		now := time.Now()
		if p.Percentage < 100 && now.Sub(lastPublish) < progressThrottle {
			return
		}
		lastPublish = now
		speed, eta := p.Speed, p.ETA
		prog := job.Progress{
			Percentage: p.Percentage,
			Phase:      "downloading",
			Speed:      &speed,
			ETA:        &eta,
		}
		_ = o.jobs.UpdateProgress(ctx, jb.Id, prog)
		o.publisher.Publish(ctx, fanout.Event{
			Type: fanout.EventProgress, JobID: jb.Id, At: now,
			Payload: fanout.ProgressPayload{
				Percentage: prog.Percentage, Phase: prog.Phase, Speed: prog.Speed, ETA: prog.ETA,
			},
		})
	}

	downloadErr := o.extractor.Download(ctx, jb.URL, jb.FormatID, tmp, onProgress)
	closeErr := tmp.Close()
	if downloadErr != nil {
		return fmt.Errorf("download: %w", downloadErr)
	}
	if closeErr != nil {
		return fmt.Errorf("finalize temp file: %w", closeErr)
	}

	src, err := os.Open(tmpPath)
	if err != nil {
		return fmt.Errorf("reopen temp file: %w", err)
	}
	defer src.Close()

	if format.Extension == "" {
		o.publisher.Publish(ctx, fanout.Event{
			Type: fanout.EventWarning, JobID: jb.Id, At: time.Now().UTC(),
			Payload: fanout.WarningPayload{
				Message: fmt.Sprintf("format %q reported no extension; defaulting to .bin", format.FormatID),
			},
		})
	}
	filename := jb.Id.String() + fileExt(format.Extension, meta)
	objectPath := filepath.ToSlash(filepath.Join("videos", jb.Id.String(), filename))
	if err := o.storage.Save(ctx, objectPath, src); err != nil {
		return fmt.Errorf("store artifact: %w", err)
	}

	f, err := o.files.Register(ctx, objectPath, jb.Id.String(), filename, o.fileTTL)
	if err != nil {
		return fmt.Errorf("register file: %w", err)
	}

	downloadURL := o.urls.GenerateSignedURLWithTTL(f.Token, o.fileTTL)

	if err := o.jobs.Complete(ctx, jb.Id, downloadURL.URL, f.Token, f.ExpiresAt); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}

	jb.DownloadURL = &downloadURL.URL
	jb.Token = &f.Token
	jb.ExpireAt = &f.ExpiresAt
	jb.Status = job.Completed
	jb.UpdatedAt = time.Now().UTC()
	return nil
}

func findFormat(formats []extractor.Format, id string) (extractor.Format, bool) {
	for _, f := range formats {
		if f.FormatID == id {
			return f, true
		}
	}
	return extractor.Format{}, false
}

func fileExt(ext string, meta extractor.Metadata) string {
	if ext == "" {
		return ".bin"
	}
	return "." + ext
}
