package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/catalogsync/internal/catalog"
	"github.com/JonMunkholm/catalogsync/internal/config"
)

func newRedis(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, ttl), mr
}

func TestKey(t *testing.T) {
	assert.Equal(t, "catalogsync:catalog:/feeds/a.xml", Key("Catalog", "/feeds/a.xml"))
}

func TestRedis_SecondAcquireFails(t *testing.T) {
	ctx := context.Background()
	locker, _ := newRedis(t, time.Minute)

	lease, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "k")
	require.ErrorIs(t, err, catalog.ErrRunInProgress)
	assert.Equal(t, catalog.KindLock, catalog.KindOf(err))

	other, err := locker.Acquire(ctx, "other")
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lease.Release(ctx))

	again, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRedis_ReleaseOnlyByOwner(t *testing.T) {
	ctx := context.Background()
	locker, mr := newRedis(t, time.Minute)

	lease, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)

	// Another process took the key after ours expired.
	require.NoError(t, mr.Set("k", "someone-else"))

	err = lease.Release(ctx)
	require.ErrorIs(t, err, ErrNotHeld)

	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedis_ExpiredLeaseFreesKey(t *testing.T) {
	ctx := context.Background()
	locker, mr := newRedis(t, time.Hour)

	lease, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)

	mr.FastForward(2 * time.Hour)

	next, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)

	assert.ErrorIs(t, lease.Release(ctx), ErrNotHeld)
	require.NoError(t, next.Release(ctx))
}

func TestRedis_KeepAliveRefreshesTTL(t *testing.T) {
	ctx := context.Background()
	ttl := 300 * time.Millisecond
	locker, mr := newRedis(t, ttl)

	lease, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)
	defer func() { _ = lease.Release(ctx) }()

	mr.FastForward(200 * time.Millisecond)
	require.LessOrEqual(t, mr.TTL("k"), 100*time.Millisecond)

	assert.Eventually(t, func() bool {
		return mr.TTL("k") > 200*time.Millisecond
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNew(t *testing.T) {
	locker, err := New(config.LockConfig{Backend: BackendNone}, nil, nil)
	require.NoError(t, err)
	lease, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)
	assert.NoError(t, lease.Release(context.Background()))

	_, err = New(config.LockConfig{Backend: BackendPostgres}, nil, nil)
	assert.Error(t, err)

	_, err = New(config.LockConfig{Backend: BackendRedis}, nil, nil)
	assert.Error(t, err)

	_, err = New(config.LockConfig{Backend: "zookeeper"}, nil, nil)
	assert.Error(t, err)
}
