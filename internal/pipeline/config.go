package pipeline

import (
	"time"

	"github.com/JonMunkholm/catalogsync/internal/config"
	"github.com/JonMunkholm/catalogsync/internal/feed"
	"github.com/JonMunkholm/catalogsync/internal/retry"
	"github.com/JonMunkholm/catalogsync/internal/transform"
)

// DefaultFinishTimeout bounds the final audit write after the run context
// is gone.
const DefaultFinishTimeout = 10 * time.Second

// Settings holds what the service needs from configuration.
type Settings struct {
	Destination string
	Timeout     time.Duration

	Parse     feed.Options
	Transform transform.Options

	BatchSize  int
	BatchRetry retry.Policy
	TxRetry    retry.Policy

	FinishTimeout time.Duration
}

// SettingsFrom builds Settings from the application config. retryable
// decides which transaction failures are retried as a whole.
func SettingsFrom(cfg config.IngestConfig, retryable func(error) bool) Settings {
	backoff := retry.Exponential(cfg.BackoffBase, cfg.BackoffMax)
	return Settings{
		Destination: cfg.Destination,
		Timeout:     cfg.Timeout,
		Parse: feed.Options{
			MaxFileSize: cfg.MaxFileSize,
			Retry:       retry.Policy{MaxAttempts: cfg.ParseRetries, Backoff: backoff},
		},
		Transform: transform.Options{
			Language:        cfg.Language,
			DefaultVAT:      cfg.VAT(),
			DefaultCurrency: cfg.DefaultCurrency,
			GCEvery:         cfg.GCEvery,
		},
		BatchSize:     cfg.BatchSize,
		BatchRetry:    retry.Policy{MaxAttempts: cfg.BatchRetries, Backoff: backoff},
		TxRetry:       retry.Policy{MaxAttempts: cfg.TxRetries, Backoff: backoff, Retryable: retryable},
		FinishTimeout: DefaultFinishTimeout,
	}
}
