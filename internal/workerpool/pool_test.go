package workerpool_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/henriquebonfim/ultradl/internal/job"
	"github.com/henriquebonfim/ultradl/internal/kv/redisstore"
	"github.com/henriquebonfim/ultradl/internal/queue"
	"github.com/henriquebonfim/ultradl/internal/redisqueue"
	"github.com/henriquebonfim/ultradl/internal/workerpool"
)

func newTestRepo(t *testing.T) *redisqueue.Repository {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redisqueue.New(redisstore.New(rdb), time.Hour)
}

func TestPoolSoftTimeoutKillsStuckHandler(t *testing.T) {
	repo := newTestRepo(t)
	logger := slog.Default()

	handler := func(ctx context.Context, jb *job.Job) error {
		<-ctx.Done()
		return ctx.Err()
	}

	cfg := workerpool.Config{
		Worker: queue.WorkerConfig{
			Concurrency:  1,
			Queue:        10,
			BatchSize:    1,
			PullInterval: 20 * time.Millisecond,
			LockTimeout:  500 * time.Millisecond,
		},
		SoftTimeout: 50 * time.Millisecond,
		HardTimeout: time.Second,
	}

	pool := workerpool.New(repo, handler, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pool.Start(ctx); err != nil {
		t.Fatal(err)
	}

	jb := job.New("https://example.com/v", "best")
	if err := repo.Push(ctx, jb, 0); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := repo.Get(ctx, jb.Id)
		if err == nil && got != nil && got.Status == job.Failed {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	got, err := repo.Get(ctx, jb.Id)
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != job.Failed {
		t.Fatalf("expected the soft-timeout context cancellation to fail the job, got %v", got.Status)
	}

	_ = pool.Stop(time.Second)
}

func TestPoolHardTimeoutAbandonsHandler(t *testing.T) {
	repo := newTestRepo(t)
	logger := slog.Default()

	// A handler that ignores context cancellation entirely, forcing the
	// hard timeout path since the soft-timeout context is never observed.
	blockForever := make(chan struct{})
	t.Cleanup(func() { close(blockForever) })
	handler := func(ctx context.Context, jb *job.Job) error {
		<-blockForever
		return nil
	}

	cfg := workerpool.Config{
		Worker: queue.WorkerConfig{
			Concurrency:  1,
			Queue:        10,
			BatchSize:    1,
			PullInterval: 20 * time.Millisecond,
			LockTimeout:  500 * time.Millisecond,
		},
		SoftTimeout: 20 * time.Millisecond,
		HardTimeout: 80 * time.Millisecond,
	}

	pool := workerpool.New(repo, handler, cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pool.Start(ctx); err != nil {
		t.Fatal(err)
	}

	jb := job.New("https://example.com/v", "best")
	if err := repo.Push(ctx, jb, 0); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var got *job.Job
	for time.Now().Before(deadline) {
		g, err := repo.Get(ctx, jb.Id)
		if err == nil && g != nil && g.Status == job.Failed {
			got = g
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if got == nil {
		t.Fatal("expected the hard timeout to kill the job even though the handler never returned")
	}

	_ = pool.Stop(time.Second)
}
