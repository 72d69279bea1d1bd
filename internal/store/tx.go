package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/catalogsync/internal/loader"
)

// Tx is a load transaction. Savepoints are pgx pseudo-nested transactions.
type Tx struct {
	tx pgx.Tx
}

var _ loader.Tx = (*Tx)(nil)

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func columnList(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = ident(c)
	}
	return strings.Join(quoted, ", ")
}

// keyExpr renders the natural key as text, matching loader.JoinKey.
func keyExpr(t *loader.Table) string {
	parts := make([]string, len(t.Key))
	for i, c := range t.Key {
		parts[i] = ident(c.Name) + "::text"
	}
	return "concat_ws(E'\\x1f', " + strings.Join(parts, ", ") + ")"
}

func existingSQL(t *loader.Table) string {
	id := "0::bigint"
	if t.IDColumn != "" {
		id = ident(t.IDColumn)
	}

	keyCols := make([]string, len(t.Key))
	arrays := make([]string, len(t.Key))
	for i, c := range t.Key {
		keyCols[i] = ident(c.Name)
		arrays[i] = fmt.Sprintf("$%d::text[]::%s[]", i+1, c.Type)
	}

	return fmt.Sprintf(
		"SELECT %s, COALESCE(%s, ''), %s FROM %s WHERE (%s) IN (SELECT * FROM unnest(%s))",
		id, ident(loader.HashColumn), keyExpr(t), ident(t.Name),
		strings.Join(keyCols, ", "), strings.Join(arrays, ", "),
	)
}

// Existing looks up keys with one query, passing each key column as a
// text array.
func (x *Tx) Existing(ctx context.Context, t *loader.Table, keys [][]string) (map[string]loader.Existing, error) {
	out := make(map[string]loader.Existing, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	args := make([]any, len(t.Key))
	for i := range t.Key {
		col := make([]string, len(keys))
		for j, k := range keys {
			col[j] = k[i]
		}
		args[i] = col
	}

	rows, err := x.tx.Query(ctx, existingSQL(t), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e   loader.Existing
			key string
		)
		if err := rows.Scan(&e.ID, &e.Hash, &key); err != nil {
			return nil, err
		}
		out[key] = e
	}
	return out, rows.Err()
}

// Insert writes rows with one multi-row INSERT, returning surrogate ids
// for tables that have them.
func (x *Tx) Insert(ctx context.Context, t *loader.Table, rows []loader.Row) (map[string]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	cols := t.AllColumns()
	var (
		sql  strings.Builder
		args = make([]any, 0, len(rows)*len(cols))
	)
	fmt.Fprintf(&sql, "INSERT INTO %s (%s) VALUES ", ident(t.Name), columnList(cols))
	for i, r := range rows {
		if i > 0 {
			sql.WriteString(", ")
		}
		sql.WriteByte('(')
		for _, v := range r.Values {
			args = append(args, toPg(v))
			fmt.Fprintf(&sql, "$%d, ", len(args))
		}
		args = append(args, r.Hash)
		fmt.Fprintf(&sql, "$%d)", len(args))
	}

	if t.IDColumn == "" {
		_, err := x.tx.Exec(ctx, sql.String(), args...)
		return nil, err
	}

	fmt.Fprintf(&sql, " RETURNING %s, %s", ident(t.IDColumn), keyExpr(t))
	res, err := x.tx.Query(ctx, sql.String(), args...)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	ids := make(map[string]int64, len(rows))
	for res.Next() {
		var (
			id  int64
			key string
		)
		if err := res.Scan(&id, &key); err != nil {
			return nil, err
		}
		ids[key] = id
	}
	return ids, res.Err()
}

func updateSQL(t *loader.Table) string {
	nk := len(t.Key)
	set := make([]string, 0, len(t.Columns)+1)
	for i, c := range t.Columns {
		set = append(set, fmt.Sprintf("%s = $%d", ident(c.Name), nk+i+1))
	}
	set = append(set, fmt.Sprintf("%s = $%d", ident(loader.HashColumn), nk+len(t.Columns)+1))

	where := make([]string, nk)
	for i, c := range t.Key {
		where[i] = fmt.Sprintf("%s = $%d", ident(c.Name), i+1)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		ident(t.Name), strings.Join(set, ", "), strings.Join(where, " AND "))
}

// Update pipelines one UPDATE per row in a pgx.Batch.
func (x *Tx) Update(ctx context.Context, t *loader.Table, rows []loader.Row) error {
	if len(rows) == 0 {
		return nil
	}

	sql := updateSQL(t)
	b := &pgx.Batch{}
	for _, r := range rows {
		args := make([]any, 0, len(r.Values)+1)
		for _, v := range r.Values {
			args = append(args, toPg(v))
		}
		b.Queue(sql, append(args, r.Hash)...)
	}

	br := x.tx.SendBatch(ctx, b)
	for range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}

// Savepoint runs fn in a nested transaction.
func (x *Tx) Savepoint(ctx context.Context, fn func(loader.Tx) error) error {
	nested, err := x.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}

	if err := fn(&Tx{tx: nested}); err != nil {
		if rbErr := nested.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint: %w", rbErr))
		}
		return err
	}
	return nested.Commit(ctx)
}

// Purge deletes all rows of tables in order.
func (x *Tx) Purge(ctx context.Context, tables []*loader.Table) (int64, error) {
	var total int64
	for _, t := range tables {
		tag, err := x.tx.Exec(ctx, "DELETE FROM "+ident(t.Name))
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", t.Name, err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

func (x *Tx) Commit(ctx context.Context) error { return x.tx.Commit(ctx) }

// Rollback aborts the transaction. Rolling back a committed transaction
// is a no-op.
func (x *Tx) Rollback(ctx context.Context) error {
	err := x.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
