// Package main is the entry point for the stockledger background worker.
// It runs scheduled lot and declaration maintenance, drains the alert outbox
// and cleans up expired idempotency keys.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"stockledger/internal/app"
	"stockledger/internal/config"
	"stockledger/internal/infrastructure/cache"
	"stockledger/internal/infrastructure/storage/postgres"
	"stockledger/internal/jobs"
	"stockledger/pkg/logger"
)

// publishedRetention is how long delivered outbox rows are kept.
const publishedRetention = 7 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Development: !cfg.IsProduction(),
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithLogger(ctx, log)

	log.Info("starting stockledger worker")

	pool, err := postgres.NewPool(ctx, postgres.PoolConfigFrom(cfg))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	rdb, err := cache.NewRedisClient(ctx, cfg)
	if err != nil {
		log.Fatalw("failed to connect to redis", "error", err)
	}
	defer rdb.Close()

	services, err := app.NewServices(cfg, pool, cache.NewStockCache(rdb, cfg.StockCacheTTL))
	if err != nil {
		log.Fatalw("failed to build services", "error", err)
	}

	schedule, err := jobs.DefaultSchedule(cfg)
	if err != nil {
		log.Fatalw("failed to build schedule", "error", err)
	}
	tasks, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   jobs.RedisOpts(cfg),
		Concurrency: cfg.WorkerConcurrency,
		Logger:      log.WithComponent("jobs"),
		Handlers:    jobs.NewHandlers(services.Ledger, services.Reconciliation),
		Cron:        schedule,
	})
	if err != nil {
		log.Fatalw("failed to build task worker", "error", err)
	}

	w := &Worker{
		cfg:      cfg,
		pool:     pool,
		services: services,
		redis:    rdb,
		tasks:    tasks,
		log:      log.WithComponent("worker"),
	}
	if err := w.Run(ctx); err != nil {
		log.Errorw("worker stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("worker stopped")
}

// Worker supervises the background loops; the first to fail stops the rest.
type Worker struct {
	cfg      *config.Config
	pool     *postgres.Pool
	services *app.Services
	redis    *redis.Client
	tasks    *jobs.Worker
	log      *logger.Logger
}

func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return w.tasks.Run(ctx) })
	g.Go(func() error { return w.runOutbox(ctx) })
	g.Go(func() error { return w.runMaintenance(ctx) })

	return g.Wait()
}

func (w *Worker) runOutbox(ctx context.Context) error {
	log := w.log.WithComponent("outbox")
	ctx = logger.WithLogger(ctx, log)

	wake := make(chan struct{}, 1)
	listener := postgres.NewNotifyListener(w.pool, postgres.OutboxChannel)
	listener.OnNotify(postgres.WakeChannel(wake))
	if err := listener.Start(ctx); err != nil {
		return err
	}
	defer listener.Stop()

	relay := postgres.NewOutboxRelay(
		w.services.TxManager,
		w.cfg.OutboxBatchSize,
		cache.NewAlertPublisher(w.redis, w.cfg.AlertChannel),
	)
	log.Infow("outbox relay started", "channel", w.cfg.AlertChannel, "poll", w.cfg.OutboxPoll)
	return relay.Run(ctx, w.cfg.OutboxPoll, wake)
}

func (w *Worker) runMaintenance(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.IdempotencyCleanup)
	defer ticker.Stop()

	relay := postgres.NewOutboxRelay(w.services.TxManager, w.cfg.OutboxBatchSize, nil)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.cleanup(ctx, relay)
		}
	}
}

func (w *Worker) cleanup(ctx context.Context, relay *postgres.OutboxRelay) {
	w.pool.LogStats(logger.WithLogger(ctx, w.log))

	if n, err := w.services.Idempotency.CleanupExpired(ctx); err != nil {
		w.log.Errorw("idempotency cleanup failed", "error", err)
	} else if n > 0 {
		w.log.Infow("cleaned up idempotency keys", "count", n)
	}

	if n, err := relay.MoveToDLQ(ctx); err != nil {
		w.log.Errorw("outbox DLQ move failed", "error", err)
	} else if n > 0 {
		w.log.Warnw("outbox messages moved to DLQ", "count", n)
	}

	if n, err := relay.PurgePublished(ctx, time.Now().UTC().Add(-publishedRetention)); err != nil {
		w.log.Errorw("outbox purge failed", "error", err)
	} else if n > 0 {
		w.log.Infow("purged published outbox messages", "count", n)
	}
}
