// Command worker processes queued and scheduled catalog imports.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/catalogsync/internal/application"
	"github.com/JonMunkholm/catalogsync/internal/catalog"
	"github.com/JonMunkholm/catalogsync/internal/config"
	"github.com/JonMunkholm/catalogsync/internal/jobs"
	"github.com/JonMunkholm/catalogsync/internal/logging"
	"github.com/JonMunkholm/catalogsync/internal/pipeline"
)

func main() {
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := application.New(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	cron, err := schedule(cfg.Worker)
	if err != nil {
		slog.Error("build scheduled task", "error", err)
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   app.RedisOpt(),
		Logger:      slog.Default(),
		Concurrency: cfg.Worker.Concurrency,
		Queue:       cfg.Worker.Queue,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskIngest, Handler: jobs.NewIngestJob(app.Service).Handle},
		},
		Cron: cron,
	})
	if err != nil {
		slog.Error("init worker", "error", err)
		os.Exit(1)
	}

	slog.Info("worker starting",
		"queue", cfg.Worker.Queue,
		"concurrency", cfg.Worker.Concurrency,
		"schedule", cfg.Worker.Schedule,
	)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker run", "error", err)
		os.Exit(1)
	}
	slog.Info("worker stopped")
}

// schedule registers the configured feed on its cron spec, if any.
func schedule(cfg config.WorkerConfig) ([]jobs.CronRegistration, error) {
	if cfg.Schedule == "" {
		return nil, nil
	}
	task, err := jobs.NewIngestTask(jobs.IngestPayload{
		Source:  cfg.FeedPath,
		Options: pipeline.Options{Mode: catalog.SyncType(cfg.ScheduleMode)},
	}, cfg.Queue)
	if err != nil {
		return nil, err
	}
	return []jobs.CronRegistration{{
		Spec:    cfg.Schedule,
		Task:    task,
		Options: []asynq.Option{asynq.MaxRetry(jobs.DefaultMaxRetry)},
	}}, nil
}
