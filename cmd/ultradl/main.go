// Command ultradl starts the asynchronous media-download control
// plane: the HTTP/WS adapter, the worker pool driving the Download
// Orchestrator, and the periodic Reaper, all sharing one Redis-backed
// KV Store Adapter per spec §5's "single source of truth" policy.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"

	"github.com/henriquebonfim/ultradl/internal/archive"
	"github.com/henriquebonfim/ultradl/internal/config"
	"github.com/henriquebonfim/ultradl/internal/extractor/cached"
	"github.com/henriquebonfim/ultradl/internal/extractor/fake"
	"github.com/henriquebonfim/ultradl/internal/fanout"
	"github.com/henriquebonfim/ultradl/internal/fileasset"
	"github.com/henriquebonfim/ultradl/internal/filemanager"
	"github.com/henriquebonfim/ultradl/internal/httpapi"
	"github.com/henriquebonfim/ultradl/internal/jobmanager"
	"github.com/henriquebonfim/ultradl/internal/kv/redisstore"
	"github.com/henriquebonfim/ultradl/internal/orchestrator"
	"github.com/henriquebonfim/ultradl/internal/queue"
	"github.com/henriquebonfim/ultradl/internal/ratelimit"
	"github.com/henriquebonfim/ultradl/internal/reaper"
	"github.com/henriquebonfim/ultradl/internal/redisqueue"
	"github.com/henriquebonfim/ultradl/internal/signedurl"
	"github.com/henriquebonfim/ultradl/internal/storage"
	"github.com/henriquebonfim/ultradl/internal/storage/gcsbucket"
	"github.com/henriquebonfim/ultradl/internal/storage/localfs"
	"github.com/henriquebonfim/ultradl/internal/workerpool"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Error("invalid REDIS_URL", "err", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()
	store := redisstore.New(rdb)

	backend, err := selectStorage(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize storage backend", "err", err)
		os.Exit(1)
	}

	jobRepo := redisqueue.New(store, cfg.JobTTL)
	fileRepo := fileasset.New(store)
	archiveRepo := archive.New(store)
	rateRepo := ratelimit.New(store, log)

	jobs := jobmanager.New(jobRepo, jobRepo, log)
	files := filemanager.New(fileRepo, backend, log.With("component", "filemanager"))
	limiter := ratelimit.NewManager(rateRepo, cfg)
	urls := signedurl.New(cfg.SigningSecret, cfg.ResolvedDownloadBaseURL())
	hub := fanout.New(cfg.FanoutBufferSize, log.With("component", "fanout"))

	// No concrete network extractor ships with this control plane (the
	// spec treats metadata/format resolution and the actual download as
	// an external collaborator); the cache decorator wraps whatever
	// implementation is plugged in here. Swap fake.Extractor for a real
	// one without touching anything downstream.
	extr := cached.New(&fake.Extractor{}, store)

	orch := orchestrator.New(extr, backend, files, jobs, urls, hub, orchestrator.Config{
		DownloadDir: cfg.DownloadDir,
		FileTTL:     filemanager.DefaultTTL,
	}, log.With("component", "orchestrator"))

	pool := workerpool.New(jobRepo, orch.Run, workerpool.Config{
		Worker: queue.WorkerConfig{
			Concurrency:  cfg.WorkerConcurrency,
			Queue:        cfg.WorkerConcurrency * 2,
			BatchSize:    cfg.WorkerBatchSize,
			PullInterval: cfg.WorkerPullInterval,
			LockTimeout:  cfg.WorkerHardTimeout,
			Backoff: queue.BackoffConfig{
				MaxRetries:          1,
				InitialInterval:     time.Second,
				MaxInterval:         30 * time.Second,
				Multiplier:          2,
				RandomizationFactor: 0.2,
			},
		},
		SoftTimeout: cfg.WorkerSoftTimeout,
		HardTimeout: cfg.WorkerHardTimeout,
	}, log.With("component", "workerpool"))

	rp := reaper.New(jobs, archiveRepo, files, reaper.Config{
		Interval:     cfg.ReaperInterval,
		JobThreshold: cfg.ReaperThreshold,
		OrphanDir:    cfg.DownloadDir,
		OrphanMaxAge: cfg.OrphanTempMaxAge,
	}, log.With("component", "reaper"))

	pinger := func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	srv := httpapi.New(extr, backend, jobs, files, limiter, urls, hub, pinger, log.With("component", "httpapi"))

	if err := pool.Start(ctx); err != nil {
		log.Error("failed to start worker pool", "err", err)
		os.Exit(1)
	}
	if err := rp.Start(ctx); err != nil {
		log.Error("failed to start reaper", "err", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: srv.Routes(),
	}
	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server did not shut down cleanly", "err", err)
	}
	if err := rp.Stop(10 * time.Second); err != nil {
		log.Warn("reaper did not stop cleanly", "err", err)
	}
	if err := pool.Stop(cfg.WorkerSoftTimeout); err != nil {
		log.Warn("worker pool did not drain cleanly", "err", err)
	}
	log.Info("shutdown complete")
}

// selectStorage picks the local-filesystem or cloud-bucket Storage
// Backend per spec §4.4: a configured bucket name means cloud, else
// local. The core never assumes which one is in play beyond this one
// startup decision.
func selectStorage(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch storage.Select(cfg.BucketName) {
	case "cloud":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		return gcsbucket.New(client, cfg.BucketName), nil
	default:
		if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
			return nil, err
		}
		return localfs.New(cfg.DownloadDir), nil
	}
}
