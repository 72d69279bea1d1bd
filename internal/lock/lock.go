// Package lock keeps two runs from importing the same feed into the same
// destination at once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/catalogsync/internal/config"
)

// Backend names accepted by New.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendNone     = "none"
)

// ErrNotHeld is returned by Release when the lease expired or was taken
// over before it was released.
var ErrNotHeld = errors.New("lock not held")

// Locker hands out exclusive leases. Acquire returns
// catalog.ErrRunInProgress when the key is already held.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Key builds the lock key of one destination and source.
func Key(destination, source string) string {
	return "catalogsync:" + strings.ToLower(destination) + ":" + source
}

// New returns the locker selected by cfg.Backend. The redis client is only
// used by the redis backend and the pool only by the postgres backend.
func New(cfg config.LockConfig, pool *pgxpool.Pool, client *redis.Client) (Locker, error) {
	switch cfg.Backend {
	case BackendPostgres:
		if pool == nil {
			return nil, fmt.Errorf("lock backend %s needs a database pool", cfg.Backend)
		}
		return NewPostgres(pool), nil
	case BackendRedis:
		if client == nil {
			return nil, fmt.Errorf("lock backend %s needs a redis client", cfg.Backend)
		}
		return NewRedis(client, cfg.TTL), nil
	case BackendNone, "":
		return Noop{}, nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

// Noop grants every lease. Used when runs are serialized elsewhere.
type Noop struct{}

func (Noop) Acquire(context.Context, string) (Lease, error) { return noopLease{}, nil }

type noopLease struct{}

func (noopLease) Release(context.Context) error { return nil }
