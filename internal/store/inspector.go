package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Inspector reads table definitions from information_schema and applies
// schema fixes.
type Inspector struct {
	db DBTX
}

// NewInspector returns an inspector on pool.
func NewInspector(pool *pgxpool.Pool) *Inspector {
	return &Inspector{db: pool}
}

// Columns returns the column names of table in the current schema, or nil
// when the table does not exist.
func (i *Inspector) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := i.db.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// Exec runs one DDL statement.
func (i *Inspector) Exec(ctx context.Context, sql string) error {
	_, err := i.db.Exec(ctx, sql)
	return err
}
