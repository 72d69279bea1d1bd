package health

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/catalogsync/internal/catalog"
	"github.com/JonMunkholm/catalogsync/internal/logging"
	"github.com/JonMunkholm/catalogsync/internal/observability"
)

// DefaultMaxErrors caps the error entries kept in a run's details.
const DefaultMaxErrors = 500

// DefaultRecentLimit is the number of runs RecentRuns returns by default.
const DefaultRecentLimit = 20

// Tracker creates and finalizes run records.
type Tracker struct {
	repo      Repository
	metrics   *observability.Metrics
	maxErrors int
	now       func() time.Time
}

// NewTracker returns a tracker. metrics may be nil.
func NewTracker(repo Repository, metrics *observability.Metrics, maxErrors int) *Tracker {
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	return &Tracker{repo: repo, metrics: metrics, maxErrors: maxErrors, now: time.Now}
}

// Tracking is the in-memory state of one run. Its record methods never
// fail and are safe for concurrent use.
type Tracking struct {
	tracker *Tracker

	mu        sync.Mutex
	run       Run
	errors    int
	batches   map[string]*BatchStats
	finished  bool
	finishErr error
}

// Start begins tracking a run and writes it with status running. The
// returned Tracking is usable even when the write fails; the error is
// returned so the caller can log it, and Finish writes the row again.
func (t *Tracker) Start(ctx context.Context, syncType catalog.SyncType, source string) (*Tracking, error) {
	tr := &Tracking{
		tracker: t,
		batches: make(map[string]*BatchStats),
		run: Run{
			ID:         uuid.New(),
			SyncType:   syncType,
			SourceFile: source,
			Status:     StatusRunning,
			StartTime:  t.now().UTC(),
			Details:    Details{Errors: []Entry{}},
		},
	}

	if err := t.repo.Insert(ctx, tr.snapshot()); err != nil {
		return tr, fmt.Errorf("record run start: %w", err)
	}
	return tr, nil
}

// RunID returns the id of the tracked run.
func (tr *Tracking) RunID() uuid.UUID {
	return tr.run.ID
}

// RecordError adds an error to the run. Only the first maxErrors entries
// are kept; all of them are counted.
func (tr *Tracking) RecordError(kind catalog.ErrorKind, message string, context map[string]any) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.errors++
	tr.tracker.metrics.RecordError(string(kind))
	if len(tr.run.Details.Errors) >= tr.tracker.maxErrors {
		tr.run.Details.ErrorsTruncated++
		return
	}

	e := Entry{Kind: kind, Message: message, Context: context, At: tr.tracker.now().UTC()}
	if kind != catalog.KindValidation {
		e.Code = catalog.Describe(errors.New(message)).Code
	}
	tr.run.Details.Errors = append(tr.run.Details.Errors, e)
}

// RecordWarning adds a warning. Warnings do not count as errors.
func (tr *Tracking) RecordWarning(kind catalog.ErrorKind, message string, context map[string]any) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tr.run.Details.WarningCount++
	if len(tr.run.Details.Warnings) >= tr.tracker.maxErrors {
		return
	}
	tr.run.Details.Warnings = append(tr.run.Details.Warnings, Entry{
		Kind: kind, Message: message, Context: context, At: tr.tracker.now().UTC(),
	})
}

// RecordBatch adds the timing of one write batch.
func (tr *Tracking) RecordBatch(operation string, size int, start, end time.Time) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	bs, ok := tr.batches[operation]
	if !ok {
		bs = &BatchStats{Operation: operation}
		tr.batches[operation] = bs
	}
	d := end.Sub(start)
	bs.Batches++
	bs.Items += size
	bs.TotalSeconds += d.Seconds()
	tr.tracker.metrics.BatchWritten(operation, size, d)
}

// Note attaches a value to the run details.
func (tr *Tracking) Note(key string, value any) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if tr.run.Details.Notes == nil {
		tr.run.Details.Notes = make(map[string]any)
	}
	tr.run.Details.Notes[key] = value
}

// Fail records err as the reason the run failed.
func (tr *Tracking) Fail(err error) {
	if err == nil {
		return
	}
	tr.RecordError(catalog.KindOf(err), err.Error(), nil)

	msg := catalog.Describe(err)
	tr.mu.Lock()
	tr.run.Details.Failure = &msg
	tr.mu.Unlock()
}

// ErrorCount returns the number of errors recorded so far.
func (tr *Tracking) ErrorCount() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.errors
}

// snapshot copies the run. Callers hold mu or own tr exclusively.
func (tr *Tracking) snapshot() Run {
	r := tr.run
	r.Details.Errors = slices.Clone(tr.run.Details.Errors)
	r.Details.Warnings = slices.Clone(tr.run.Details.Warnings)
	return r
}

// Finish finalizes the run with status and writes it. Calling Finish again
// returns the first result without writing.
func (t *Tracker) Finish(ctx context.Context, tr *Tracking, status Status, recordsProcessed int) (Run, error) {
	if !status.Terminal() {
		return Run{}, fmt.Errorf("finish run %s: %q is not a terminal status", tr.run.ID, status)
	}

	tr.mu.Lock()
	if tr.finished {
		run, err := tr.snapshot(), tr.finishErr
		tr.mu.Unlock()
		return run, err
	}

	end := t.now().UTC()
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	tr.run.Status = status
	tr.run.EndTime = &end
	tr.run.DurationSeconds = end.Sub(tr.run.StartTime).Seconds()
	tr.run.RecordsProcessed = recordsProcessed
	tr.run.ErrorCount = tr.errors
	tr.run.MemoryUsageMB = float64(mem.Alloc) / (1024 * 1024)
	tr.run.Details.Batches = batchStats(tr.batches)
	tr.finished = true

	run := tr.snapshot()
	tr.mu.Unlock()

	err := t.repo.Save(ctx, run)
	if err != nil {
		err = fmt.Errorf("record run finish: %w", err)
	}

	tr.mu.Lock()
	tr.finishErr = err
	tr.mu.Unlock()

	t.metrics.RunFinished(string(status), string(run.SyncType),
		time.Duration(run.DurationSeconds*float64(time.Second)), recordsProcessed)

	logging.FromContext(ctx).Info("run finished",
		"status", status,
		"records_processed", recordsProcessed,
		"error_count", run.ErrorCount,
		"warnings", run.Details.WarningCount,
		"duration_s", run.DurationSeconds,
		"memory_mb", run.MemoryUsageMB,
	)
	return run, err
}

func batchStats(in map[string]*BatchStats) []BatchStats {
	out := make([]BatchStats, 0, len(in))
	for _, bs := range in {
		s := *bs
		if s.Batches > 0 {
			s.AvgSeconds = s.TotalSeconds / float64(s.Batches)
		}
		if s.TotalSeconds > 0 {
			s.ItemsPerSecond = float64(s.Items) / s.TotalSeconds
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operation < out[j].Operation })
	return out
}

// RecentRuns returns the latest runs, newest first.
func (t *Tracker) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return t.repo.Recent(ctx, limit)
}

// Run returns one run by id.
func (t *Tracker) Run(ctx context.Context, id uuid.UUID) (Run, error) {
	return t.repo.Get(ctx, id)
}
