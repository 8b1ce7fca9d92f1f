package filemanager_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/henriquebonfim/ultradl/internal/fileasset"
	"github.com/henriquebonfim/ultradl/internal/filemanager"
	"github.com/henriquebonfim/ultradl/internal/kv/redisstore"
	"github.com/henriquebonfim/ultradl/internal/storage"
)

// memBackend is a minimal in-memory storage.Backend double for tests.
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

var _ storage.Backend = (*memBackend)(nil)

func newTestManager(t *testing.T) (*filemanager.Manager, *memBackend) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	repo := fileasset.New(redisstore.New(rdb))
	backend := newMemBackend()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return filemanager.New(repo, backend, log), backend
}

func TestRegisterThenGetByTokenAndJobID(t *testing.T) {
	mgr, backend := newTestManager(t)
	ctx := context.Background()
	jobID := uuid.New()
	_ = backend.Save(ctx, "videos/"+jobID.String()+"/out.mp4", bytes.NewReader([]byte("data")))

	f, err := mgr.Register(ctx, "videos/"+jobID.String()+"/out.mp4", jobID.String(), "out.mp4", 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	byToken, err := mgr.GetByToken(ctx, f.Token)
	if err != nil {
		t.Fatal(err)
	}
	if byToken.JobID != jobID.String() {
		t.Fatalf("got %+v", byToken)
	}

	byJob, err := mgr.GetByJobID(ctx, jobID)
	if err != nil {
		t.Fatal(err)
	}
	if byJob.Token != f.Token {
		t.Fatalf("got %+v", byJob)
	}
}

func TestGetByTokenSignalsExpired(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	jobID := uuid.New()

	f, err := mgr.Register(ctx, "p", jobID.String(), "f.mp4", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(1100 * time.Millisecond)

	if _, err := mgr.GetByToken(ctx, f.Token); !errors.Is(err, filemanager.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestGetByTokenNotFound(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.GetByToken(ctx, "missing-token"); !errors.Is(err, fileasset.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRemovesBlobAndMetadata(t *testing.T) {
	mgr, backend := newTestManager(t)
	ctx := context.Background()
	jobID := uuid.New()
	path := "videos/" + jobID.String() + "/out.mp4"
	_ = backend.Save(ctx, path, bytes.NewReader([]byte("data")))

	f, err := mgr.Register(ctx, path, jobID.String(), "out.mp4", 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.Delete(ctx, f.Token, true); err != nil {
		t.Fatal(err)
	}
	if exists, _ := backend.Exists(ctx, path); exists {
		t.Fatal("expected blob to be deleted")
	}
	if _, err := mgr.GetByToken(ctx, f.Token); !errors.Is(err, fileasset.ErrNotFound) {
		t.Fatalf("expected metadata gone, got %v", err)
	}
}

func TestDeleteByJobIDIsNoOpWhenNothingRegistered(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	if err := mgr.DeleteByJobID(ctx, uuid.New()); err != nil {
		t.Fatalf("expected no-op for a job with no artifact, got %v", err)
	}
}

func TestCleanupExpiredSweepsPastExpiry(t *testing.T) {
	mgr, backend := newTestManager(t)
	ctx := context.Background()

	liveID := uuid.New()
	expiringID := uuid.New()
	_, _ = mgr.Register(ctx, "live.mp4", liveID.String(), "live.mp4", 5*time.Minute)
	expiring, _ := mgr.Register(ctx, "expiring.mp4", expiringID.String(), "expiring.mp4", time.Second)
	_ = backend.Save(ctx, "expiring.mp4", bytes.NewReader([]byte("x")))

	time.Sleep(1100 * time.Millisecond)

	count, err := mgr.CleanupExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one expired file cleaned up, got %d", count)
	}
	if exists, _ := backend.Exists(ctx, "expiring.mp4"); exists {
		t.Fatal("expected expiring blob to be deleted")
	}
	if expiring.Token == "" {
		t.Fatal("sanity: expiring token should be set")
	}
}
