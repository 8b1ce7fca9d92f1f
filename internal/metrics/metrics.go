// Package metrics exposes the control plane's Prometheus instrumentation:
// package-level collectors registered once at import time, surfaced over
// HTTP via Handler. Every long-running component (worker pool, reaper,
// rate limiter, HTTP adapter) records into these directly rather than
// threading a metrics capability through every call — the same
// module-level-collector convention the rest of the ecosystem uses for
// Prometheus client libraries.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QueueDepth is a per-status gauge of job counts. It is registered
	// and exported, but no component in this module sets it, so every
	// series it exposes stays at zero.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ultradl_queue_depth",
			Help: "Number of jobs currently in a given status",
		},
		[]string{"status"},
	)

	// JobsTotal counts every terminal outcome a job reaches, labeled by
	// final status and, for failures, error category.
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ultradl_jobs_total",
			Help: "Total number of jobs reaching a terminal status",
		},
		[]string{"status", "category"},
	)

	// JobDuration observes wall-clock time from Processing to a terminal
	// status.
	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ultradl_job_duration_seconds",
			Help:    "Time from a job entering Processing to reaching a terminal status",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RateLimitRejectionsTotal counts requests refused by the rate
	// limiter, labeled by the limit type that triggered the refusal.
	RateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ultradl_rate_limit_rejections_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"limit_type"},
	)

	// ReaperSweepDuration observes one full three-sweep cycle.
	ReaperSweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ultradl_reaper_sweep_duration_seconds",
			Help:    "Time taken for one reaper sweep cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ReaperItemsRemovedTotal counts items removed per sweep stage.
	ReaperItemsRemovedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ultradl_reaper_items_removed_total",
			Help: "Total number of items removed by the reaper, by sweep stage",
		},
		[]string{"stage"},
	)

	// ReaperSweepErrorsTotal counts non-fatal errors accumulated across
	// all three sweep stages.
	ReaperSweepErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ultradl_reaper_sweep_errors_total",
			Help: "Total number of errors accumulated across reaper sweeps",
		},
	)

	// FanoutSubscribers reports how many clients are currently
	// subscribed across all rooms.
	FanoutSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ultradl_fanout_subscribers",
			Help: "Current number of progress fan-out subscribers across all rooms",
		},
	)

	// HTTPRequestsTotal and HTTPRequestDuration instrument the REST
	// surface, labeled by route and method the way chi's middleware
	// exposes them.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ultradl_http_requests_total",
			Help: "Total number of HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ultradl_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by route and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)

func init() {
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(RateLimitRejectionsTotal)
	prometheus.MustRegister(ReaperSweepDuration)
	prometheus.MustRegister(ReaperItemsRemovedTotal)
	prometheus.MustRegister(ReaperSweepErrorsTotal)
	prometheus.MustRegister(FanoutSubscribers)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
}

// Handler returns the Prometheus scrape handler, mounted at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation and reports the elapsed time to a histogram
// when ObserveDuration or ObserveDurationVec is called.
type Timer struct {
	start time.Time
}

// NewTimer starts a Timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time into histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time into a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
