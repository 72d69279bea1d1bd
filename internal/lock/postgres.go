package lock

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/catalogsync/internal/catalog"
)

// Postgres uses session advisory locks. The lease pins one pool connection
// because the lock belongs to the session that took it.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Acquire(ctx context.Context, key string) (Lease, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for lock: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", key).Scan(&ok); err != nil {
		conn.Release()
		return nil, fmt.Errorf("advisory lock %s: %w", key, err)
	}
	if !ok {
		conn.Release()
		return nil, fmt.Errorf("%w: %s", catalog.ErrRunInProgress, key)
	}
	return &pgLease{conn: conn, key: key}, nil
}

type pgLease struct {
	conn *pgxpool.Conn
	key  string
}

func (l *pgLease) Release(ctx context.Context) error {
	defer l.conn.Release()

	var ok bool
	if err := l.conn.QueryRow(ctx, "SELECT pg_advisory_unlock(hashtext($1))", l.key).Scan(&ok); err != nil {
		return fmt.Errorf("advisory unlock %s: %w", l.key, err)
	}
	if !ok {
		return ErrNotHeld
	}
	return nil
}
