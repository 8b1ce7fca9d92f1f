package reaper_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/henriquebonfim/ultradl/internal/archive"
	"github.com/henriquebonfim/ultradl/internal/fileasset"
	"github.com/henriquebonfim/ultradl/internal/filemanager"
	"github.com/henriquebonfim/ultradl/internal/job"
	"github.com/henriquebonfim/ultradl/internal/jobmanager"
	"github.com/henriquebonfim/ultradl/internal/kv/redisstore"
	"github.com/henriquebonfim/ultradl/internal/reaper"
	"github.com/henriquebonfim/ultradl/internal/redisqueue"
	"github.com/henriquebonfim/ultradl/internal/storage"
)

type memBackend struct {
	mu   sync.Mutex
	blob map[string][]byte
}

func newMemBackend() *memBackend { return &memBackend{blob: map[string][]byte{}} }

func (m *memBackend) Save(ctx context.Context, path string, r io.Reader) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blob[path] = b
	return nil
}

func (m *memBackend) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blob[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBackend) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blob, path)
	return nil
}

func (m *memBackend) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blob[path]
	return ok, nil
}

func (m *memBackend) Size(ctx context.Context, path string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blob[path]
	if !ok {
		return 0, storage.ErrNotFound
	}
	return int64(len(b)), nil
}

// failingArchiver fails to save exactly the job ids in failFor,
// exercising the S6 partial-failure scenario.
type failingArchiver struct {
	inner   *archive.Repository
	failFor map[string]bool
}

func (f *failingArchiver) Save(ctx context.Context, s archive.Snapshot) error {
	if f.failFor[s.Id.String()] {
		return errors.New("injected archive failure")
	}
	return f.inner.Save(ctx, s)
}

func newTestReaper(t *testing.T, archiver jobmanager.Archiver, orphanDir string) (*reaper.Reaper, *redisqueue.Repository, *filemanager.Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := redisstore.New(rdb)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	jobRepo := redisqueue.New(store, time.Hour)
	jobs := jobmanager.New(jobRepo, jobRepo, log)
	files := filemanager.New(fileasset.New(store), newMemBackend(), log)

	r := reaper.New(jobs, archiver, files, reaper.Config{
		Interval:     time.Hour,
		JobThreshold: time.Minute,
		OrphanDir:    orphanDir,
		OrphanMaxAge: time.Minute,
	}, log)
	return r, jobRepo, files
}

func terminalJob(status job.Status, age time.Duration) *job.Job {
	jb := job.New("https://example.com/v", "best")
	jb.Status = status
	jb.UpdatedAt = time.Now().UTC().Add(-age)
	return jb
}

func TestReaperPartialArchiveFailureStillRemovesAllJobs(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := redisstore.New(rdb)
	archiveRepo := archive.New(store)

	jobA := terminalJob(job.Completed, 2*time.Minute)
	jobB := terminalJob(job.Completed, 2*time.Minute)
	jobC := terminalJob(job.Failed, 2*time.Minute)

	archiver := &failingArchiver{inner: archiveRepo, failFor: map[string]bool{jobB.Id.String(): true}}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	jobRepo := redisqueue.New(store, time.Hour)
	jobs := jobmanager.New(jobRepo, jobRepo, log)
	files := filemanager.New(fileasset.New(store), newMemBackend(), log)

	for _, jb := range []*job.Job{jobA, jobB, jobC} {
		if err := jobRepo.Save(context.Background(), jb); err != nil {
			t.Fatal(err)
		}
	}

	r := reaper.New(jobs, archiver, files, reaper.Config{
		Interval:     time.Hour,
		JobThreshold: time.Minute,
		OrphanDir:    t.TempDir(),
		OrphanMaxAge: time.Minute,
	}, log)

	sum := r.Sweep(context.Background())
	if sum.JobsRemoved != 3 {
		t.Fatalf("expected all 3 terminal jobs removed, got %d (errors: %v)", sum.JobsRemoved, sum.Errors)
	}

	for _, jb := range []*job.Job{jobA, jobB, jobC} {
		if ok, _ := jobRepo.Exists(context.Background(), jb.Id); ok {
			t.Fatalf("expected job %s to be deleted", jb.Id)
		}
	}

	if _, err := archiveRepo.Get(context.Background(), jobA.Id); err != nil {
		t.Fatalf("expected jobA archived: %v", err)
	}
	if _, err := archiveRepo.Get(context.Background(), jobC.Id); err != nil {
		t.Fatalf("expected jobC archived: %v", err)
	}
	if len(sum.Errors) == 0 {
		t.Fatal("expected the injected archive failure for jobB to surface as an error")
	}
}

func TestReaperSweepsOrphanedTempFiles(t *testing.T) {
	dir := t.TempDir()
	r, _, _ := newTestReaper(t, nil, dir)

	stale := filepath.Join(dir, "ultradl-stale123.tmp")
	if err := os.WriteFile(stale, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Minute)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	fresh := filepath.Join(dir, "ultradl-fresh456.tmp")
	if err := os.WriteFile(fresh, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	sum := r.Sweep(context.Background())
	if sum.OrphansRemoved != 1 {
		t.Fatalf("expected exactly 1 orphan removed, got %d", sum.OrphansRemoved)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatal("expected the stale temp file to be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("expected the fresh temp file to survive the sweep")
	}
}

func TestReaperStartStopLifecycle(t *testing.T) {
	r, _, _ := newTestReaper(t, nil, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(ctx); err == nil {
		t.Fatal("expected a second Start to fail")
	}
	if err := r.Stop(time.Second); err != nil {
		t.Fatal(err)
	}
	if err := r.Stop(time.Second); err == nil {
		t.Fatal("expected a second Stop to fail")
	}
}
