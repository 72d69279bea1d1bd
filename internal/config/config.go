// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ingest   IngestConfig
	Lock     LockConfig
	Redis    RedisConfig
	Worker   WorkerConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// IngestConfig holds feed ingestion settings.
type IngestConfig struct {
	// BatchSize is the number of rows written per batch (default: 500)
	BatchSize int `env:"INGEST_BATCH_SIZE" default:"500"`

	// ParseRetries is the number of attempts to read and decode a feed (default: 3)
	ParseRetries int `env:"INGEST_PARSE_RETRIES" default:"3"`

	// BatchRetries is the number of attempts per batch inside its savepoint (default: 3)
	BatchRetries int `env:"INGEST_BATCH_RETRIES" default:"3"`

	// TxRetries is the number of attempts of the whole load transaction (default: 2)
	TxRetries int `env:"INGEST_TX_RETRIES" default:"2"`

	// BackoffBase scales the retry wait, base * 2^attempt (default: 1s)
	BackoffBase time.Duration `env:"INGEST_BACKOFF_BASE" default:"1s"`

	// BackoffMax caps the retry wait (default: 1m)
	BackoffMax time.Duration `env:"INGEST_BACKOFF_MAX" default:"1m"`

	// MaxFileSize is the largest accepted feed in bytes (default: 1GiB)
	MaxFileSize int64 `env:"INGEST_MAX_FILE_SIZE" default:"1073741824"`

	// GCEvery forces a garbage collection every n records, 0 disables (default: 5000)
	GCEvery int `env:"INGEST_GC_EVERY" default:"5000"`

	// DefaultVAT is the VAT rate in percent for products without one (default: 23)
	DefaultVAT string `env:"INGEST_DEFAULT_VAT" default:"23"`

	// DefaultCurrency applies when the feed names none (default: PLN)
	DefaultCurrency string `env:"INGEST_DEFAULT_CURRENCY" default:"PLN"`

	// Language is the preferred xml:lang of text fields (default: pol)
	Language string `env:"INGEST_LANGUAGE" default:"pol"`

	// MaxErrors caps the error entries kept in a run's audit details (default: 500)
	MaxErrors int `env:"INGEST_MAX_ERRORS" default:"500"`

	// Timeout bounds a single run, 0 disables (default: 0)
	Timeout time.Duration `env:"INGEST_TIMEOUT" default:"0s"`

	// Destination names the target catalog in run lock keys (default: catalog)
	Destination string `env:"INGEST_DESTINATION" default:"catalog"`
}

// VAT returns DefaultVAT as a decimal. Validate guarantees it parses.
func (c *IngestConfig) VAT() decimal.Decimal {
	d, err := decimal.NewFromString(c.DefaultVAT)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// LockConfig holds run lock settings.
type LockConfig struct {
	// Backend is postgres, redis or none (default: postgres)
	Backend string `env:"LOCK_BACKEND" default:"postgres"`

	// TTL is the Redis lock lease, refreshed while the run is alive (default: 30s)
	TTL time.Duration `env:"LOCK_TTL" default:"30s"`
}

// RedisConfig holds Redis connection settings, used by the worker queue
// and the redis lock backend.
type RedisConfig struct {
	// Addr is host:port of the Redis server (default: localhost:6379)
	Addr string `env:"REDIS_ADDR" default:"localhost:6379"`

	// Password is the Redis password (optional)
	Password string `env:"REDIS_PASSWORD"`

	// DB is the Redis database number (default: 0)
	DB int `env:"REDIS_DB" default:"0"`
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	// Concurrency is the number of tasks processed in parallel (default: 2)
	Concurrency int `env:"WORKER_CONCURRENCY" default:"2"`

	// Queue is the asynq queue ingest tasks go to (default: ingest)
	Queue string `env:"WORKER_QUEUE" default:"ingest"`

	// FeedPath is the feed ingested on schedule (optional)
	FeedPath string `env:"FEED_PATH"`

	// Schedule is a cron spec for scheduled runs of FeedPath (optional)
	Schedule string `env:"FEED_SCHEDULE"`

	// ScheduleMode is the sync mode of scheduled runs (default: incremental)
	ScheduleMode string `env:"FEED_SCHEDULE_MODE" default:"incremental"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// RunLimit is requests per minute for starting runs (default: 5)
	RunLimit int `env:"RATE_LIMIT_RUNS" default:"5"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// RequireAPIKey protects the run endpoints with an API key (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
