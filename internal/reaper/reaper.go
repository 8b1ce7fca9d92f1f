// Package reaper implements the Periodic Reaper (component O): a
// background task that runs three independent sweeps on a fixed
// interval — expired jobs, expired files, orphaned temp files — per
// spec §4.13. Each sweep's errors are accumulated into a Summary; one
// failing sweep never aborts the others.
//
// It is grounded on queue.CleanWorker's periodic-task shape, but
// queue's internal TimerTask/lcBase helpers are not importable outside
// internal/queue, so Reaper hand-rolls its own ticker loop and reuses
// only the exported lifecycle sentinel errors.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/henriquebonfim/ultradl/internal/jobmanager"
	"github.com/henriquebonfim/ultradl/internal/metrics"
	"github.com/henriquebonfim/ultradl/internal/queue"
)

// FileSweeper is the subset of the File Manager (component I) the
// reaper needs: delete the artifact bound to a job (used by the jobs
// sweep) and independently sweep files that have outlived their own
// expiry (the files sweep).
type FileSweeper interface {
	jobmanager.ArtifactDeleter
	CleanupExpired(ctx context.Context) (int, error)
}

// Config bundles Reaper's scheduling parameters.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration

	// JobThreshold is how far in the past a terminal job's UpdatedAt
	// must be before it is eligible for the jobs sweep.
	JobThreshold time.Duration

	// OrphanDir is the directory the orchestrator writes temp download
	// files into; scanned for the orphans sweep.
	OrphanDir string

	// OrphanMaxAge is how old (by mtime) an "ultradl-*.tmp" file must be
	// before the orphans sweep removes it.
	OrphanMaxAge time.Duration
}

// Summary reports one sweep's outcome. Errors from any stage are
// accumulated rather than aborting the remaining stages, per spec
// §4.13 and the S6 partial-failure scenario.
type Summary struct {
	JobsRemoved    int
	FilesRemoved   int
	OrphansRemoved int
	Errors         []error
}

// Reaper runs the three-sweep cycle on Config.Interval until Stop.
type Reaper struct {
	state atomic.Int32

	jobs     *jobmanager.Manager
	archiver jobmanager.Archiver
	files    FileSweeper
	cfg      Config
	log      *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// New creates a Reaper. archiver may be nil, in which case the jobs
// sweep skips archival and only deletes (matching
// jobmanager.Manager.CleanupExpired's own nil handling).
func New(jobs *jobmanager.Manager, archiver jobmanager.Archiver, files FileSweeper, cfg Config, log *slog.Logger) *Reaper {
	return &Reaper{jobs: jobs, archiver: archiver, files: files, cfg: cfg, log: log}
}

// Start begins the periodic sweep loop. Start returns
// queue.ErrDoubleStarted if already running.
func (r *Reaper) Start(ctx context.Context) error {
	if !r.state.CompareAndSwap(0, 1) {
		return queue.ErrDoubleStarted
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.run(ctx)
	return nil
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Stop terminates the sweep loop. Stop returns queue.ErrDoubleStopped
// if not running, or queue.ErrStopTimeout if the in-flight sweep does
// not finish within timeout.
func (r *Reaper) Stop(timeout time.Duration) error {
	if !r.state.CompareAndSwap(1, 0) {
		return queue.ErrDoubleStopped
	}
	close(r.stop)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.done:
		return nil
	case <-timer.C:
		return queue.ErrStopTimeout
	}
}

// Sweep runs one cycle synchronously: expired jobs, then expired
// files, then orphaned temp files, in that order per Open Question 3's
// "current" ordering.
func (r *Reaper) Sweep(ctx context.Context) Summary {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReaperSweepDuration)

	var sum Summary

	jobsRemoved, err := r.jobs.CleanupExpired(ctx, time.Now().UTC().Add(-r.cfg.JobThreshold), r.archiver, r.files)
	sum.JobsRemoved = jobsRemoved
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Errorf("jobs sweep: %w", err))
	}

	filesRemoved, err := r.files.CleanupExpired(ctx)
	sum.FilesRemoved = filesRemoved
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Errorf("files sweep: %w", err))
	}

	orphansRemoved, err := r.sweepOrphans()
	sum.OrphansRemoved = orphansRemoved
	if err != nil {
		sum.Errors = append(sum.Errors, fmt.Errorf("orphans sweep: %w", err))
	}

	metrics.ReaperItemsRemovedTotal.WithLabelValues("jobs").Add(float64(sum.JobsRemoved))
	metrics.ReaperItemsRemovedTotal.WithLabelValues("files").Add(float64(sum.FilesRemoved))
	metrics.ReaperItemsRemovedTotal.WithLabelValues("orphans").Add(float64(sum.OrphansRemoved))
	metrics.ReaperSweepErrorsTotal.Add(float64(len(sum.Errors)))

	r.log.Info("reaper: sweep complete",
		"jobs_removed", sum.JobsRemoved,
		"files_removed", sum.FilesRemoved,
		"orphans_removed", sum.OrphansRemoved,
		"errors", len(sum.Errors))
	for _, e := range sum.Errors {
		r.log.Warn("reaper: sweep error", "err", e)
	}
	return sum
}

// sweepOrphans removes every "ultradl-*.tmp" file in OrphanDir whose
// mtime is older than OrphanMaxAge, matching the naming the
// orchestrator's os.CreateTemp call uses. A missing directory is not
// an error — nothing has been downloaded yet.
func (r *Reaper) sweepOrphans() (int, error) {
	entries, err := os.ReadDir(r.cfg.OrphanDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-r.cfg.OrphanMaxAge)
	count := 0
	var firstErr error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "ultradl-") || !strings.HasSuffix(name, ".tmp") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(r.cfg.OrphanDir, name)); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		count++
	}
	return count, firstErr
}
