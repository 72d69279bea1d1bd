// Package application wires configuration, the database pool and the
// pipeline components into one value shared by the binaries.
package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/catalogsync/internal/config"
	"github.com/JonMunkholm/catalogsync/internal/health"
	"github.com/JonMunkholm/catalogsync/internal/lock"
	"github.com/JonMunkholm/catalogsync/internal/observability"
	"github.com/JonMunkholm/catalogsync/internal/pipeline"
	"github.com/JonMunkholm/catalogsync/internal/schema"
	"github.com/JonMunkholm/catalogsync/internal/store"
)

// App holds the long-lived components of a process.
type App struct {
	Config  *config.Config
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	Metrics *observability.Metrics
	Tracker *health.Tracker
	Service *pipeline.Service
}

// New connects to the database, and to Redis when the lock backend needs
// it, and builds the ingest service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	pool, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Pool: pool, Metrics: observability.NewMetrics()}

	if cfg.Lock.Backend == lock.BackendRedis {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
	}

	locker, err := lock.New(cfg.Lock, pool, a.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Tracker = health.NewTracker(store.NewRunRepository(pool), a.Metrics, cfg.Ingest.MaxErrors)
	a.Service = pipeline.New(
		a.Tracker,
		locker,
		schema.NewGuard(store.NewInspector(pool)),
		store.New(pool),
		pipeline.SettingsFrom(cfg.Ingest, store.IsRetryable),
	)

	slog.Info("application ready",
		"lock_backend", cfg.Lock.Backend,
		"batch_size", cfg.Ingest.BatchSize,
		"destination", cfg.Ingest.Destination,
	)
	return a, nil
}

// RedisOpt returns the asynq connection options.
func (a *App) RedisOpt() asynq.RedisClientOpt {
	return RedisOpt(a.Config.Redis)
}

// RedisOpt converts the Redis config to asynq connection options.
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
}

// Close releases the connections.
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			slog.Warn("redis close", "error", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
