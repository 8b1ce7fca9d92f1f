package fileasset_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/henriquebonfim/ultradl/internal/fileasset"
	"github.com/henriquebonfim/ultradl/internal/kv/redisstore"
)

func newTestRepo(t *testing.T) (*fileasset.Repository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return fileasset.New(redisstore.New(rdb)), mr
}

func newFile(jobID string, ttl time.Duration) *fileasset.File {
	now := time.Now().UTC()
	return &fileasset.File{
		Path:      "videos/" + jobID + "/out.mp4",
		Token:     fileasset.NewToken(),
		JobID:     jobID,
		Filename:  "out.mp4",
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestSaveAndGetByTokenRoundTrips(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	jobID := uuid.NewString()
	f := newFile(jobID, 10*time.Minute)

	if err := repo.Save(ctx, f); err != nil {
		t.Fatal(err)
	}
	got, err := repo.GetByToken(ctx, f.Token)
	if err != nil {
		t.Fatal(err)
	}
	if got.Token != f.Token || got.JobID != jobID {
		t.Fatalf("got %+v", got)
	}
}

func TestGetByJobIDResolvesToken(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	jobID := uuid.NewString()
	f := newFile(jobID, 10*time.Minute)
	_ = repo.Save(ctx, f)

	got, err := repo.GetByJobID(ctx, jobID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Token != f.Token {
		t.Fatalf("got %+v", got)
	}
}

func TestSaveRejectsAlreadyExpired(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	f := newFile(uuid.NewString(), -time.Minute)

	if err := repo.Save(ctx, f); err != fileasset.ErrAlreadyExpired {
		t.Fatalf("expected ErrAlreadyExpired, got %v", err)
	}
}

func TestTokenNotFoundBeyondGraceWindow(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()
	jobID := uuid.NewString()
	f := newFile(jobID, time.Second)
	if err := repo.Save(ctx, f); err != nil {
		t.Fatal(err)
	}

	mr.FastForward(time.Second + fileasset.Grace + time.Second)

	if _, err := repo.GetByToken(ctx, f.Token); err != fileasset.ErrNotFound {
		t.Fatalf("expected ErrNotFound once the grace window elapses, got %v", err)
	}
}

func TestWithinGraceWindowMetadataSurvivesButReportsExpired(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()
	jobID := uuid.NewString()
	f := newFile(jobID, time.Second)
	if err := repo.Save(ctx, f); err != nil {
		t.Fatal(err)
	}

	mr.FastForward(10 * time.Second)

	got, err := repo.GetByToken(ctx, f.Token)
	if err != nil {
		t.Fatalf("expected metadata still present during grace window, got %v", err)
	}
	if !got.Expired(time.Now().UTC().Add(10 * time.Second)) {
		t.Fatal("expected file to report itself expired")
	}
}

func TestDeleteRemovesBothIndices(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	jobID := uuid.NewString()
	f := newFile(jobID, 10*time.Minute)
	_ = repo.Save(ctx, f)

	if err := repo.Delete(ctx, f.Token); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.GetByToken(ctx, f.Token); err != fileasset.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := repo.GetByJobID(ctx, jobID); err != fileasset.ErrNotFound {
		t.Fatalf("expected job index gone after delete, got %v", err)
	}

	// Idempotent: deleting again is not an error.
	if err := repo.Delete(ctx, f.Token); err != nil {
		t.Fatalf("expected delete of absent token to be idempotent, got %v", err)
	}
}

func TestGetExpiredReturnsFilesPastExpiryWithinGrace(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()
	live := newFile(uuid.NewString(), 10*time.Minute)
	expiring := newFile(uuid.NewString(), time.Second)
	_ = repo.Save(ctx, live)
	_ = repo.Save(ctx, expiring)

	mr.FastForward(2 * time.Second)
	time.Sleep(1100 * time.Millisecond)

	expired, err := repo.GetExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0].Token != expiring.Token {
		t.Fatalf("expected only the expiring file, got %+v", expired)
	}
}
