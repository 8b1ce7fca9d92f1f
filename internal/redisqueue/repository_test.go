package redisqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/henriquebonfim/ultradl/internal/apierr"
	"github.com/henriquebonfim/ultradl/internal/job"
	"github.com/henriquebonfim/ultradl/internal/kv/redisstore"
	"github.com/henriquebonfim/ultradl/internal/redisqueue"
)

func newTestRepo(t *testing.T) *redisqueue.Repository {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redisqueue.New(redisstore.New(rdb), time.Hour)
}

func TestPushAndPull(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	jb := job.New("https://example.com/v", "best")
	if err := repo.Push(ctx, jb, 0); err != nil {
		t.Fatal(err)
	}

	claimed, err := repo.Pull(ctx, 10, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 || claimed[0].Id != jb.Id {
		t.Fatalf("expected to claim pushed job, got %+v", claimed)
	}
	if claimed[0].Status != job.Processing {
		t.Fatalf("expected Processing, got %v", claimed[0].Status)
	}
	if claimed[0].Attempts != 1 {
		t.Fatalf("expected Attempts=1, got %d", claimed[0].Attempts)
	}

	second, err := repo.Pull(ctx, 10, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(second) != 0 {
		t.Fatalf("expected no further eligible jobs, got %d", len(second))
	}
}

func TestCompleteRequiresProcessing(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	jb := job.New("https://example.com/v", "best")
	_ = repo.Push(ctx, jb, 0)

	if err := repo.Complete(ctx, jb); err == nil {
		t.Fatal("expected Complete to fail on a Pending job")
	}

	claimed, _ := repo.Pull(ctx, 1, time.Second)
	if err := repo.Complete(ctx, claimed[0]); err != nil {
		t.Fatal(err)
	}
	stored, err := repo.Get(ctx, jb.Id)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != job.Completed {
		t.Fatalf("expected Completed, got %v", stored.Status)
	}
}

func TestReturnReschedules(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	jb := job.New("https://example.com/v", "best")
	_ = repo.Push(ctx, jb, 0)
	claimed, _ := repo.Pull(ctx, 1, time.Second)

	if err := repo.Return(ctx, claimed[0], 50*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	none, err := repo.Pull(ctx, 1, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatal("expected job not yet eligible")
	}

	time.Sleep(60 * time.Millisecond)
	again, err := repo.Pull(ctx, 1, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 1 {
		t.Fatal("expected job eligible again after backoff")
	}
}

func TestKillTransitionsToFailed(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	jb := job.New("https://example.com/v", "best")
	_ = repo.Push(ctx, jb, 0)
	claimed, _ := repo.Pull(ctx, 1, time.Second)

	if err := repo.Kill(ctx, claimed[0]); err != nil {
		t.Fatal(err)
	}
	stored, _ := repo.Get(ctx, jb.Id)
	if stored.Status != job.Failed {
		t.Fatalf("expected Failed, got %v", stored.Status)
	}

	if err := repo.Kill(ctx, claimed[0]); err == nil {
		t.Fatal("expected Kill on an already-terminal job to fail")
	}
}

func TestUpdateProgressMonotonic(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	jb := job.New("https://example.com/v", "best")
	_ = repo.Push(ctx, jb, 0)

	if err := repo.UpdateProgress(ctx, jb.Id, job.Progress{Percentage: 40, Phase: "downloading"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.UpdateProgress(ctx, jb.Id, job.Progress{Percentage: 10, Phase: "downloading"}); err != nil {
		t.Fatal(err)
	}
	stored, _ := repo.Get(ctx, jb.Id)
	if stored.Progress.Percentage != 40 {
		t.Fatalf("expected percentage to stay at 40, got %d", stored.Progress.Percentage)
	}
}

func TestUpdateStatusAttachesError(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	jb := job.New("https://example.com/v", "best")
	_ = repo.Push(ctx, jb, 0)
	claimed, _ := repo.Pull(ctx, 1, time.Second)

	if err := repo.UpdateStatus(ctx, claimed[0].Id, job.Failed, "boom", apierr.NetworkError); err != nil {
		t.Fatal(err)
	}
	stored, _ := repo.Get(ctx, jb.Id)
	if stored.Status != job.Failed {
		t.Fatalf("expected Failed, got %v", stored.Status)
	}
	if stored.ErrorMessage == nil || *stored.ErrorMessage != "boom" {
		t.Fatalf("expected error message attached, got %+v", stored.ErrorMessage)
	}
	if stored.ErrorCategory == nil || *stored.ErrorCategory != apierr.NetworkError {
		t.Fatalf("expected error category attached, got %+v", stored.ErrorCategory)
	}
}

func TestGetExpiredAndClean(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	jb := job.New("https://example.com/v", "best")
	_ = repo.Push(ctx, jb, 0)
	claimed, _ := repo.Pull(ctx, 1, time.Second)
	_ = repo.Complete(ctx, claimed[0])

	ids, err := repo.GetExpired(ctx, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != jb.Id {
		t.Fatalf("expected expired job, got %+v", ids)
	}

	n, err := repo.Clean(ctx, job.Completed, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected to clean 1 job, got %d", n)
	}
	if exists, _ := repo.Exists(ctx, jb.Id); exists {
		t.Fatal("expected job to be deleted")
	}
}
