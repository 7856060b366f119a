package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"stockledger/internal/config"
	"stockledger/pkg/logger"
)

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec string
	Task *asynq.Task
}

// WorkerConfig collects what the worker needs to boot.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Concurrency int
	Logger      *logger.Logger
	Handlers    *Handlers
	Cron        []CronRegistration
}

// Worker wraps the asynq server and its scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	log       *logger.Logger
}

// RedisOpts maps the runtime configuration to asynq connection options.
func RedisOpts(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

// DefaultSchedule builds the cron registrations from configuration.
// Tasks carry no date so each run uses the time it executes.
func DefaultSchedule(cfg *config.Config) ([]CronRegistration, error) {
	specs := []struct {
		spec    string
		newTask func(time.Time) (*asynq.Task, error)
	}{
		{cfg.CronBlockExpired, NewBlockExpiredLotsTask},
		{cfg.CronAlertExpiring, NewAlertExpiringLotsTask},
		{cfg.CronExpireDeclared, NewExpireDeclarationsTask},
	}

	var out []CronRegistration
	for _, s := range specs {
		if s.spec == "" {
			continue
		}
		task, err := s.newTask(time.Time{})
		if err != nil {
			return nil, err
		}
		out = append(out, CronRegistration{Spec: s.spec, Task: task})
	}
	return out, nil
}

// NewWorker constructs a Worker. Cron specs are validated here.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Handlers == nil {
		return nil, errors.New("worker: no handlers")
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueDefault: 1,
		},
		Logger: log.SugaredLogger,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			log.Errorw("task failed",
				"type", task.Type(),
				"retry", retried,
				"max_retry", maxRetry,
				"error", err)
		}),
	})

	mux := asynq.NewServeMux()
	cfg.Handlers.Register(mux)

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{
			Location: time.UTC,
			Logger:   log.SugaredLogger,
		})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task); err != nil {
				return nil, fmt.Errorf("register %s (%q): %w", entry.Task.Type(), entry.Spec, err)
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, log: log}, nil
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}
	if err := w.server.Start(w.mux); err != nil {
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return fmt.Errorf("start task server: %w", err)
	}
	w.log.Info("task worker started")

	<-ctx.Done()

	if w.scheduler != nil {
		w.scheduler.Shutdown()
	}
	w.server.Shutdown()
	w.log.Info("task worker stopped")
	return nil
}
