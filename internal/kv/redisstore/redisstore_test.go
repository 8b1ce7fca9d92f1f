package redisstore_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/henriquebonfim/ultradl/internal/kv"
	"github.com/henriquebonfim/ultradl/internal/kv/redisstore"
)

func newTestStore(t *testing.T) *redisstore.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redisstore.New(rdb)
}

func TestGetSetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "foo", []byte("bar"), 0); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "foo")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "bar" {
		t.Fatalf("got %q", got)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type payload struct {
	Name string `json:"name"`
}

func TestSetGetJSON(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetJSON(ctx, "p", payload{Name: "x"}, time.Minute); err != nil {
		t.Fatal(err)
	}
	var out payload
	if err := s.GetJSON(ctx, "p", &out); err != nil {
		t.Fatal(err)
	}
	if out.Name != "x" {
		t.Fatalf("got %+v", out)
	}
}

func TestIncr(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, err := s.Incr(ctx, "counter")
		if err != nil {
			t.Fatal(err)
		}
		if n != int64(i) {
			t.Fatalf("expected %d, got %d", i, n)
		}
	}
}

func TestScanIteratesAllMatches(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		if err := s.Set(ctx, "job:"+string(rune('a'+i%26))+string(rune(i)), []byte("1"), 0); err != nil {
			t.Fatal(err)
		}
	}

	var count atomic.Int64
	for key, err := range s.Scan(ctx, "job:*") {
		if err != nil {
			t.Fatal(err)
		}
		if key == "" {
			t.Fatal("unexpected empty key")
		}
		count.Add(1)
	}
	if count.Load() != 250 {
		t.Fatalf("expected 250 keys, got %d", count.Load())
	}
}

func TestPipelineBatchesOperations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Set(ctx, "a", []byte("1"), 0); err != nil {
		t.Fatal(err)
	}

	var aRes, bRes *kv.Result
	err := s.Pipeline(ctx, func(p kv.Pipeline) {
		aRes = p.Get("a")
		bRes = p.Get("missing")
	})
	if err != nil {
		t.Fatal(err)
	}
	if aRes.Err != nil || string(aRes.Value) != "1" {
		t.Fatalf("unexpected result for a: %+v", aRes)
	}
	if !errors.Is(bRes.Err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing key, got %v", bRes.Err)
	}
}

func TestEvalScript(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	script := &kv.Script{Source: `return redis.call("set", KEYS[1], ARGV[1])`}
	if _, err := s.EvalScript(ctx, script, []string{"scripted"}, "value"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, "scripted")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "value" {
		t.Fatalf("got %q", got)
	}
}

func TestWithLockExcludesConcurrentHolders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.WithLock(ctx, "job", time.Second, time.Second, func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()

	<-entered
	err := s.WithLock(ctx, "job", time.Second, 50*time.Millisecond, func(ctx context.Context) error {
		t.Fatal("should not acquire lock while held")
		return nil
	})
	if err == nil {
		t.Fatal("expected lock acquisition to time out")
	}
	close(release)
}
