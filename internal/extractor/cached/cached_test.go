package cached_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/henriquebonfim/ultradl/internal/extractor"
	"github.com/henriquebonfim/ultradl/internal/extractor/cached"
	"github.com/henriquebonfim/ultradl/internal/extractor/fake"
	"github.com/henriquebonfim/ultradl/internal/kv/redisstore"
)

func newTestExtractor(t *testing.T, inner *fake.Extractor) *cached.Extractor {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return cached.New(inner, redisstore.New(rdb))
}

func TestProbeCachesAcrossCalls(t *testing.T) {
	inner := &fake.Extractor{Metadata: extractor.Metadata{ID: "abc", Title: "a video"}}
	ext := newTestExtractor(t, inner)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := ext.Probe(ctx, "https://example.com/watch?v=1")
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != "abc" {
			t.Fatalf("got %+v", got)
		}
	}
	if inner.ProbeCalls.Load() != 1 {
		t.Fatalf("expected exactly one underlying probe, got %d", inner.ProbeCalls.Load())
	}
}

func TestFormatsCachedSeparatelyPerURL(t *testing.T) {
	inner := &fake.Extractor{Formats_: []extractor.Format{{FormatID: "137", Height: 1080}}}
	ext := newTestExtractor(t, inner)
	ctx := context.Background()

	if _, err := ext.Formats(ctx, "https://example.com/a"); err != nil {
		t.Fatal(err)
	}
	if _, err := ext.Formats(ctx, "https://example.com/b"); err != nil {
		t.Fatal(err)
	}
	if inner.FormatsCalls.Load() != 2 {
		t.Fatalf("expected one underlying call per distinct URL, got %d", inner.FormatsCalls.Load())
	}
}

func TestProbeDoesNotCacheErrors(t *testing.T) {
	inner := &fake.Extractor{Err: context.DeadlineExceeded}
	ext := newTestExtractor(t, inner)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := ext.Probe(ctx, "https://example.com/watch?v=1"); err == nil {
			t.Fatal("expected error to propagate")
		}
	}
	if inner.ProbeCalls.Load() != 2 {
		t.Fatalf("expected errors to never be cached, got %d calls", inner.ProbeCalls.Load())
	}
}
