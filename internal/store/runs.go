package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/catalogsync/internal/catalog"
	"github.com/JonMunkholm/catalogsync/internal/health"
)

// RunRepository stores runs in the sync_health table.
type RunRepository struct {
	db DBTX
}

var _ health.Repository = (*RunRepository)(nil)

// NewRunRepository returns a repository on pool.
func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{db: pool}
}

const runColumns = `id, sync_type, source_file, status, start_time, end_time,
	duration_seconds, records_processed, error_count, details, memory_usage_mb`

const insertRunSQL = `INSERT INTO sync_health (` + runColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

const saveRunSQL = insertRunSQL + `
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		end_time = EXCLUDED.end_time,
		duration_seconds = EXCLUDED.duration_seconds,
		records_processed = EXCLUDED.records_processed,
		error_count = EXCLUDED.error_count,
		details = EXCLUDED.details,
		memory_usage_mb = EXCLUDED.memory_usage_mb`

func runArgs(run health.Run) ([]any, error) {
	details, err := json.Marshal(run.Details)
	if err != nil {
		return nil, fmt.Errorf("encode run details: %w", err)
	}

	var end pgtype.Timestamptz
	if run.EndTime != nil {
		end = pgtype.Timestamptz{Time: *run.EndTime, Valid: true}
	}

	return []any{
		pgtype.UUID{Bytes: run.ID, Valid: true},
		string(run.SyncType),
		toPgText(run.SourceFile),
		string(run.Status),
		pgtype.Timestamptz{Time: run.StartTime, Valid: true},
		end,
		run.DurationSeconds,
		run.RecordsProcessed,
		run.ErrorCount,
		details,
		run.MemoryUsageMB,
	}, nil
}

// Insert writes a new run.
func (r *RunRepository) Insert(ctx context.Context, run health.Run) error {
	args, err := runArgs(run)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, insertRunSQL, args...)
	return err
}

// Save upserts run.
func (r *RunRepository) Save(ctx context.Context, run health.Run) error {
	args, err := runArgs(run)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, saveRunSQL, args...)
	return err
}

// Recent returns the latest runs, newest first.
func (r *RunRepository) Recent(ctx context.Context, limit int) ([]health.Run, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+runColumns+` FROM sync_health ORDER BY start_time DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []health.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Get returns one run.
func (r *RunRepository) Get(ctx context.Context, id uuid.UUID) (health.Run, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+runColumns+` FROM sync_health WHERE id = $1`, pgtype.UUID{Bytes: id, Valid: true})
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return health.Run{}, health.ErrNotFound
	}
	return run, err
}

func scanRun(row pgx.Row) (health.Run, error) {
	var (
		run      health.Run
		id       pgtype.UUID
		syncType string
		source   pgtype.Text
		status   string
		start    pgtype.Timestamptz
		end      pgtype.Timestamptz
		duration pgtype.Float8
		records  pgtype.Int4
		errCount pgtype.Int4
		details  []byte
		memory   pgtype.Float8
	)
	if err := row.Scan(&id, &syncType, &source, &status, &start, &end,
		&duration, &records, &errCount, &details, &memory); err != nil {
		return run, err
	}

	run.ID = pgUUID(id)
	run.SyncType = catalog.SyncType(syncType)
	run.SourceFile = source.String
	run.Status = health.Status(status)
	run.StartTime = start.Time
	if end.Valid {
		t := end.Time
		run.EndTime = &t
	}
	run.DurationSeconds = duration.Float64
	run.RecordsProcessed = int(records.Int32)
	run.ErrorCount = int(errCount.Int32)
	run.MemoryUsageMB = memory.Float64
	if len(details) > 0 {
		if err := json.Unmarshal(details, &run.Details); err != nil {
			return run, fmt.Errorf("decode run details: %w", err)
		}
	}
	return run, nil
}
