// Package httpapi implements the HTTP half of the Adapter (component P):
// a chi router exposing the REST surface described in spec §6. It is a
// thin boundary — request parsing and response shaping only; every
// domain decision is delegated to the Job Manager, File Manager,
// Rate-Limit Manager, Signed-URL Service and Metadata Extractor it is
// constructed with.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/henriquebonfim/ultradl/internal/extractor"
	"github.com/henriquebonfim/ultradl/internal/fanout"
	"github.com/henriquebonfim/ultradl/internal/filemanager"
	"github.com/henriquebonfim/ultradl/internal/httpapi/ws"
	"github.com/henriquebonfim/ultradl/internal/jobmanager"
	"github.com/henriquebonfim/ultradl/internal/metrics"
	"github.com/henriquebonfim/ultradl/internal/ratelimit"
	"github.com/henriquebonfim/ultradl/internal/signedurl"
	"github.com/henriquebonfim/ultradl/internal/storage"
)

// Server holds every capability the REST surface dispatches into.
// It carries no state of its own beyond that.
type Server struct {
	extractor extractor.Extractor
	storage   storage.Backend
	jobs      *jobmanager.Manager
	files     *filemanager.Manager
	limiter   *ratelimit.Manager
	urls      *signedurl.Service
	hub       *fanout.Hub
	pinger    func(ctx context.Context) error
	log       *slog.Logger
}

// New creates a Server. pinger is invoked by the /health endpoint to
// check connectivity to the KV store (e.g. a Redis PING); it may be
// nil, in which case /health reports the store as unchecked.
func New(ex extractor.Extractor, store storage.Backend, jobs *jobmanager.Manager, files *filemanager.Manager, limiter *ratelimit.Manager, urls *signedurl.Service, hub *fanout.Hub, pinger func(ctx context.Context) error, log *slog.Logger) *Server {
	return &Server{extractor: ex, storage: store, jobs: jobs, files: files, limiter: limiter, urls: urls, hub: hub, pinger: pinger, log: log}
}

// Routes assembles the chi router for the whole REST surface, mounted
// under /api/v1 per spec §6, plus the unversioned /health and /metrics
// endpoints.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/videos/resolutions", s.handleResolutions)
		r.Post("/downloads", s.handleCreateDownload)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Delete("/jobs/{id}", s.handleDeleteJob)
		r.Get("/downloads/file/{token}", s.handleDownloadFile)
	})

	r.Get("/ws", ws.New(s.jobs, s.hub, s.log).ServeHTTP)

	return r
}

// logRequests is the one piece of ambient request logging the adapter
// owns directly; domain logging happens inside the managers
// themselves.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		status := ww.Status()
		metrics.HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
		s.log.Info("http request",
			"method", r.Method, "route", route, "status", status,
			"duration", time.Since(start), "remote_ip", r.RemoteAddr)
	})
}
