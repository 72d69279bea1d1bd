// Package jobs runs catalog imports from an asynq queue, either enqueued
// over HTTP or produced by a cron schedule.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/JonMunkholm/catalogsync/internal/catalog"
	"github.com/JonMunkholm/catalogsync/internal/logging"
	"github.com/JonMunkholm/catalogsync/internal/pipeline"
)

const (
	// QueueDefault is the queue ingest tasks go to unless configured.
	QueueDefault = "ingest"
	// TaskIngest imports one feed.
	TaskIngest = "catalog:ingest"
	// DefaultMaxRetry bounds redelivery of a task that lost the run lock.
	DefaultMaxRetry = 3
)

// IngestPayload is the body of a TaskIngest task.
type IngestPayload struct {
	Source string `json:"source" validate:"required"`
	pipeline.Options
}

// NewIngestTask constructs an ingest task for queue.
func NewIngestTask(payload IngestPayload, queue string) (*asynq.Task, error) {
	if queue == "" {
		queue = QueueDefault
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIngest, body, asynq.Queue(queue), asynq.MaxRetry(DefaultMaxRetry)), nil
}

// Ingester runs one import.
type Ingester interface {
	Ingest(ctx context.Context, source string, opts pipeline.Options) pipeline.RunResult
}

// IngestJob handles TaskIngest.
type IngestJob struct {
	ingester Ingester
}

func NewIngestJob(ingester Ingester) *IngestJob {
	return &IngestJob{ingester: ingester}
}

// Handle runs the import. A run that lost the lock to another run is
// retried later; any other failure is final because the run is already
// recorded as failed.
func (j *IngestJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("decode ingest payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Source == "" {
		return fmt.Errorf("ingest payload has no source: %w", asynq.SkipRetry)
	}

	if id, ok := asynq.GetTaskID(ctx); ok {
		ctx = logging.With(ctx, "task_id", id)
	}
	logger := logging.WithFields(ctx, "task", TaskIngest, "source", payload.Source)

	res := j.ingester.Ingest(ctx, payload.Source, payload.Options)
	if res.Success {
		logger.Info("ingest task done", "run_id", res.RunID, "records", res.RecordsProcessed)
		return nil
	}

	if errors.Is(res.Err, catalog.ErrRunInProgress) {
		logger.Warn("ingest task deferred, run in progress", "run_id", res.RunID)
		return res.Err
	}
	logger.Error("ingest task failed", "run_id", res.RunID, "error", res.Err)
	return fmt.Errorf("run %s: %v: %w", res.RunID, res.Err, asynq.SkipRetry)
}
