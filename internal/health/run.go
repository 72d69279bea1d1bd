// Package health tracks the lifecycle of ingest runs in the sync_health
// audit table.
//
// A run is recorded as running when it starts and is always finalized as
// succeeded or failed, together with its error list, batch statistics and
// a memory snapshot.
package health

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/catalogsync/internal/catalog"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Entry is one recorded error or warning.
type Entry struct {
	Kind    catalog.ErrorKind `json:"kind"`
	Message string            `json:"message"`
	Code    string            `json:"code,omitempty"`
	Context map[string]any    `json:"context,omitempty"`
	At      time.Time         `json:"at"`
}

// BatchStats aggregates the write batches of one operation.
type BatchStats struct {
	Operation      string  `json:"operation"`
	Batches        int     `json:"batches"`
	Items          int     `json:"items"`
	TotalSeconds   float64 `json:"total_seconds"`
	AvgSeconds     float64 `json:"avg_seconds"`
	ItemsPerSecond float64 `json:"items_per_second"`
}

// Details is the JSON document stored with each run.
type Details struct {
	Errors          []Entry          `json:"errors"`
	ErrorsTruncated int              `json:"errors_truncated,omitempty"`
	Warnings        []Entry          `json:"warnings,omitempty"`
	WarningCount    int              `json:"warning_count"`
	Batches         []BatchStats     `json:"batches,omitempty"`
	Notes           map[string]any   `json:"notes,omitempty"`
	Failure         *catalog.Message `json:"failure,omitempty"`
}

// Run is one row of the audit table.
type Run struct {
	ID               uuid.UUID        `json:"id"`
	SyncType         catalog.SyncType `json:"sync_type"`
	SourceFile       string           `json:"source_file"`
	Status           Status           `json:"status"`
	StartTime        time.Time        `json:"start_time"`
	EndTime          *time.Time       `json:"end_time,omitempty"`
	DurationSeconds  float64          `json:"duration_seconds"`
	RecordsProcessed int              `json:"records_processed"`
	ErrorCount       int              `json:"error_count"`
	MemoryUsageMB    float64          `json:"memory_usage_mb"`
	Details          Details          `json:"details"`
}

// Repository persists runs.
type Repository interface {
	// Insert writes a new run.
	Insert(ctx context.Context, run Run) error

	// Save writes run, inserting it when it does not exist yet.
	Save(ctx context.Context, run Run) error

	// Recent returns the latest runs, newest first.
	Recent(ctx context.Context, limit int) ([]Run, error)

	// Get returns one run or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (Run, error)
}
