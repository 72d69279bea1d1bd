// Package pipeline runs one feed import end to end: audit row, run lock,
// schema check, parse, transform and load.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/JonMunkholm/catalogsync/internal/catalog"
	"github.com/JonMunkholm/catalogsync/internal/feed"
	"github.com/JonMunkholm/catalogsync/internal/health"
	"github.com/JonMunkholm/catalogsync/internal/loader"
	"github.com/JonMunkholm/catalogsync/internal/lock"
	"github.com/JonMunkholm/catalogsync/internal/logging"
	"github.com/JonMunkholm/catalogsync/internal/schema"
	"github.com/JonMunkholm/catalogsync/internal/transform"
)

// SchemaGuard checks the destination before anything is parsed.
type SchemaGuard interface {
	Ensure(ctx context.Context) (schema.Report, error)
}

// RunResult is the outcome of Ingest.
type RunResult struct {
	Success          bool          `json:"success"`
	RunID            uuid.UUID     `json:"run_id"`
	Status           health.Status `json:"status"`
	RecordsProcessed int           `json:"records_processed"`
	ErrorCount       int           `json:"error_count"`
	Err              error         `json:"-"`
}

// Service runs imports.
type Service struct {
	tracker  *health.Tracker
	locker   lock.Locker
	guard    SchemaGuard
	store    loader.Store
	settings Settings
}

// New returns a service. A nil locker grants every lease.
func New(tracker *health.Tracker, locker lock.Locker, guard SchemaGuard, store loader.Store, settings Settings) *Service {
	if locker == nil {
		locker = lock.Noop{}
	}
	if settings.FinishTimeout <= 0 {
		settings.FinishTimeout = DefaultFinishTimeout
	}
	return &Service{
		tracker:  tracker,
		locker:   locker,
		guard:    guard,
		store:    store,
		settings: settings,
	}
}

// Ingest imports the feed at source. It never returns an error value: the
// outcome, including failures, is in the RunResult. The run's audit row is
// always finalized, also when ctx is cancelled.
func (s *Service) Ingest(ctx context.Context, source string, opts Options) (result RunResult) {
	if s.settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.Timeout)
		defer cancel()
	}

	tr, err := s.tracker.Start(ctx, opts.Mode, source)
	ctx = logging.With(ctx, "run_id", tr.RunID(), "source", source)
	logger := logging.WithFields(ctx, "mode", opts.Mode)
	if err != nil {
		logger.Warn("run start not recorded", "error", err)
	}
	logger.Info("ingest started", "limit", opts.Limit, "purge", opts.Purge)

	var (
		records int
		runErr  error
	)
	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("ingest panic: %v", r)
			records = 0
			logger.Error("ingest panic", "panic", r, "stack", string(debug.Stack()))
		}
		result = s.finish(ctx, logger, tr, records, runErr)
	}()

	records, runErr = s.run(ctx, logger, tr, source, opts)
	return result
}

func (s *Service) run(ctx context.Context, logger *slog.Logger, tr *health.Tracking, source string, opts Options) (int, error) {
	if err := opts.Validate(); err != nil {
		return 0, err
	}

	lease, err := s.locker.Acquire(ctx, lock.Key(s.settings.Destination, source))
	if err != nil {
		return 0, err
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settings.FinishTimeout)
		defer cancel()
		if err := lease.Release(rctx); err != nil {
			logger.Warn("run lock release failed", "error", err)
		}
	}()

	if s.guard != nil {
		report, err := s.guard.Ensure(ctx)
		if err != nil {
			return 0, err
		}
		if len(report.Applied) > 0 {
			tr.Note("schema_changes", report.Applied)
		}
	}

	parseOpts := s.settings.Parse
	parseOpts.Limit = opts.Limit
	f, err := feed.Parse(ctx, source, parseOpts)
	if err != nil {
		return 0, err
	}
	tr.Note("feed", map[string]any{
		"shape":    f.Shape,
		"records":  len(f.Records),
		"total":    f.Total,
		"bytes":    f.BytesRead,
		"encoding": f.Encoding,
		"attempts": f.Attempts,
	})

	rc := catalog.NewRunContext(tr.RunID())
	res, err := transform.New(rc, tr, s.settings.Transform).Transform(ctx, f)
	if err != nil {
		return 0, err
	}
	tr.Note("transform", map[string]any{
		"products": res.Processed,
		"skipped":  res.Skipped,
		"failed":   res.Failed,
		"replaced": res.Replaced,
		"counts":   res.Graph.Counts(),
	})

	ld := loader.New(s.store, tr, loader.Options{
		Mode:       opts.Mode,
		BatchSize:  s.settings.BatchSize,
		Purge:      opts.Purge && opts.ConfirmPurge,
		BatchRetry: s.settings.BatchRetry,
		TxRetry:    s.settings.TxRetry,
	})
	stats, err := ld.Load(ctx, res.Graph, rc)
	if err != nil {
		return 0, err
	}
	tr.Note("load", map[string]any{
		"inserted":  stats.Inserted,
		"updated":   stats.Updated,
		"unchanged": stats.Unchanged,
		"batches":   stats.Batches,
		"purged":    stats.Purged,
		"attempts":  stats.Attempts,
	})
	return stats.Persisted(catalog.KindProduct), nil
}

// finish writes the final audit row on a context that outlives ctx.
func (s *Service) finish(ctx context.Context, logger *slog.Logger, tr *health.Tracking, records int, runErr error) RunResult {
	status := health.StatusSucceeded
	if runErr != nil {
		status = health.StatusFailed
		records = 0
		tr.Fail(runErr)
		logger.Error("ingest failed", "error", runErr, "kind", catalog.KindOf(runErr))
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settings.FinishTimeout)
	defer cancel()

	if _, err := s.tracker.Finish(fctx, tr, status, records); err != nil {
		logger.Error("run finish not recorded", "error", err)
	}

	return RunResult{
		Success:          runErr == nil,
		RunID:            tr.RunID(),
		Status:           status,
		RecordsProcessed: records,
		ErrorCount:       tr.ErrorCount(),
		Err:              runErr,
	}
}
