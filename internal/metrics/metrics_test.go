package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/henriquebonfim/ultradl/internal/metrics"
)

func TestJobsTotalIncrementsByLabel(t *testing.T) {
	before := testutil.ToFloat64(metrics.JobsTotal.WithLabelValues("completed", ""))
	metrics.JobsTotal.WithLabelValues("completed", "").Inc()
	after := testutil.ToFloat64(metrics.JobsTotal.WithLabelValues("completed", ""))
	if after != before+1 {
		t.Fatalf("expected JobsTotal to increment by 1, got %v -> %v", before, after)
	}
}

func TestHandlerServesRegisteredCollectors(t *testing.T) {
	if metrics.Handler() == nil {
		t.Fatal("expected a non-nil HTTP handler")
	}
}
