// Package loader writes a transformed catalog graph to the destination
// store in one transaction.
//
// Entities are written stage by stage in dependency order. Each stage is
// split into batches; a batch runs inside a savepoint and is retried on
// failure. When a batch keeps failing the whole transaction is rolled
// back, so a run either lands completely or not at all.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/catalogsync/internal/catalog"
	"github.com/JonMunkholm/catalogsync/internal/logging"
	"github.com/JonMunkholm/catalogsync/internal/retry"
)

// DefaultBatchSize is the number of rows written per batch.
const DefaultBatchSize = 500

// Existing is the stored state of a row found by natural key.
type Existing struct {
	ID   int64 // zero for tables without a surrogate id
	Hash string
}

// Tx is a destination transaction.
type Tx interface {
	// Existing returns the stored rows among keys, indexed by JoinKey.
	Existing(ctx context.Context, t *Table, keys [][]string) (map[string]Existing, error)

	// Insert writes new rows and returns the surrogate ids handed out,
	// indexed by JoinKey. Tables without an IDColumn return nil.
	Insert(ctx context.Context, t *Table, rows []Row) (map[string]int64, error)

	// Update overwrites the value columns of existing rows.
	Update(ctx context.Context, t *Table, rows []Row) error

	// Savepoint runs fn in a nested transaction, rolled back when fn fails.
	Savepoint(ctx context.Context, fn func(Tx) error) error

	// Purge deletes every row of tables, in the given order.
	Purge(ctx context.Context, tables []*Table) (int64, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store opens destination transactions.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// BatchRecorder receives timing for every written batch.
type BatchRecorder interface {
	RecordBatch(operation string, size int, start, end time.Time)
}

// Options configures a load.
type Options struct {
	Mode      catalog.SyncType
	BatchSize int

	// Purge deletes all catalog rows inside the load transaction before
	// writing. Callers are responsible for operator confirmation.
	Purge bool

	// BatchRetry governs retries of one batch inside its savepoint.
	BatchRetry retry.Policy

	// TxRetry governs retries of the whole transaction. Its Retryable
	// func decides which failures are worth starting over for.
	TxRetry retry.Policy
}

// Stats summarizes a load.
type Stats struct {
	Inserted  map[string]int
	Updated   map[string]int
	Unchanged map[string]int
	Batches   int
	Purged    int64
	Attempts  int
	Duration  time.Duration
}

func newStats() Stats {
	return Stats{
		Inserted:  make(map[string]int),
		Updated:   make(map[string]int),
		Unchanged: make(map[string]int),
	}
}

// Persisted returns how many rows of table are present after the load.
func (s Stats) Persisted(table string) int {
	return s.Inserted[table] + s.Updated[table] + s.Unchanged[table]
}

// Loader writes graphs to a Store.
type Loader struct {
	store Store
	rec   BatchRecorder
	opts  Options
}

// New returns a loader. rec may be nil.
func New(store Store, rec BatchRecorder, opts Options) *Loader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Mode == "" {
		opts.Mode = catalog.SyncIncremental
	}
	return &Loader{store: store, rec: rec, opts: opts}
}

// Load writes g in one transaction. Surrogate ids resolved along the way
// are stored in rc. Any failure is returned as a *catalog.TransactionError
// and nothing is committed.
func (l *Loader) Load(ctx context.Context, g *catalog.Graph, rc *catalog.RunContext) (Stats, error) {
	logger := logging.WithFields(ctx, "mode", l.opts.Mode)
	start := time.Now()

	policy := l.opts.TxRetry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("load transaction failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	}

	var stats Stats
	attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			rc.ResetIDs()
		}
		var err error
		stats, err = l.loadOnce(ctx, logger, g, rc)
		return err
	})
	stats.Attempts = attempts
	stats.Duration = time.Since(start)

	if err != nil {
		var txErr *catalog.TransactionError
		if !errors.As(err, &txErr) {
			err = &catalog.TransactionError{Attempts: attempts, Err: err}
		} else {
			txErr.Attempts = attempts
		}
		logger.Error("load rolled back", "attempts", attempts, "error", err)
		return stats, err
	}

	logger.Info("load committed",
		"batches", stats.Batches,
		"products", stats.Persisted(TableProduct),
		"purged", stats.Purged,
		"attempts", attempts,
		"duration_ms", stats.Duration.Milliseconds(),
	)
	return stats, nil
}

func (l *Loader) loadOnce(ctx context.Context, logger *slog.Logger, g *catalog.Graph, rc *catalog.RunContext) (Stats, error) {
	stats := newStats()

	tx, err := l.store.Begin(ctx)
	if err != nil {
		return stats, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if l.opts.Purge {
		tables := Tables()
		for i, j := 0, len(tables)-1; i < j; i, j = i+1, j-1 {
			tables[i], tables[j] = tables[j], tables[i]
		}
		n, err := tx.Purge(ctx, tables)
		if err != nil {
			return stats, fmt.Errorf("purge: %w", err)
		}
		stats.Purged = n
		logger.Warn("catalog purged", "rows", n)
	}

	for _, st := range stages(g) {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		rows, err := st.rows(rc)
		if err != nil {
			return stats, retry.Permanent(fmt.Errorf("build %s rows: %w", st.label, err))
		}

		for batch, off := 1, 0; off < len(rows); batch, off = batch+1, off+l.opts.BatchSize {
			end := min(off+l.opts.BatchSize, len(rows))
			if err := l.writeBatch(ctx, tx, st, batch, rows[off:end], rc, &stats); err != nil {
				return stats, &catalog.TransactionError{Err: err}
			}
		}
		logger.Debug("stage written", "stage", st.label, "rows", len(rows))
	}

	if err := tx.Commit(ctx); err != nil {
		return stats, fmt.Errorf("commit: %w", err)
	}
	return stats, nil
}

type batchResult struct {
	ids       map[string]int64
	inserted  int
	updated   int
	unchanged int
}

func (l *Loader) writeBatch(ctx context.Context, tx Tx, st stage, batch int, rows []Row, rc *catalog.RunContext, stats *Stats) error {
	start := time.Now()

	policy := l.opts.BatchRetry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		logging.FromContext(ctx).Warn("batch failed, retrying",
			"stage", st.label, "batch", batch, "attempt", attempt, "wait", wait, "error", err)
	}

	var res batchResult
	attempts, err := policy.Do(ctx, func(ctx context.Context, _ int) error {
		return tx.Savepoint(ctx, func(sp Tx) error {
			var err error
			res, err = l.apply(ctx, sp, st.table, rows)
			return err
		})
	})
	if err != nil {
		return &catalog.BatchPersistError{
			Table:    st.label,
			Batch:    batch,
			Size:     len(rows),
			Attempts: attempts,
			Err:      err,
		}
	}

	if st.table.IDColumn != "" {
		for key, id := range res.ids {
			rc.SetID(st.table.Name, key, id)
		}
	}
	stats.Batches++
	stats.Inserted[st.table.Name] += res.inserted
	stats.Updated[st.table.Name] += res.updated
	stats.Unchanged[st.table.Name] += res.unchanged

	if l.rec != nil {
		l.rec.RecordBatch("write_"+st.table.Name, len(rows), start, time.Now())
	}
	return nil
}

// apply diffs rows against the stored state and writes the difference.
// In full mode every existing row is rewritten; in incremental mode rows
// whose hash is unchanged are left alone.
func (l *Loader) apply(ctx context.Context, tx Tx, t *Table, rows []Row) (batchResult, error) {
	res := batchResult{ids: make(map[string]int64, len(rows))}

	keys := make([][]string, len(rows))
	for i, r := range rows {
		keys[i] = r.Key
	}
	existing, err := tx.Existing(ctx, t, keys)
	if err != nil {
		return res, fmt.Errorf("lookup %s: %w", t.Name, err)
	}

	var inserts, updates []Row
	for _, r := range rows {
		e, ok := existing[r.KeyString()]
		if !ok {
			inserts = append(inserts, r)
			continue
		}
		res.ids[r.KeyString()] = e.ID
		if l.opts.Mode == catalog.SyncIncremental && e.Hash == r.Hash {
			res.unchanged++
			continue
		}
		updates = append(updates, r)
	}

	if len(inserts) > 0 {
		ids, err := tx.Insert(ctx, t, inserts)
		if err != nil {
			return res, fmt.Errorf("insert %s: %w", t.Name, err)
		}
		for k, id := range ids {
			res.ids[k] = id
		}
		res.inserted = len(inserts)
	}

	if len(updates) > 0 {
		if err := tx.Update(ctx, t, updates); err != nil {
			return res, fmt.Errorf("update %s: %w", t.Name, err)
		}
		res.updated = len(updates)
	}
	return res, nil
}
