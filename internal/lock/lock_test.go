package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLocker_ExclusiveUntilRelease(t *testing.T) {
	mr, client := setupTestClient(t)
	locker := NewRedisLocker(client, "programs:lock:")
	locker.Poll = 5 * time.Millisecond
	ctx := context.Background()

	lease, ok, err := locker.Acquire(ctx, "certificate:1", 0, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("programs:lock:certificate:1"))

	_, ok, err = locker.Acquire(ctx, "certificate:1", 20*time.Millisecond, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must time out while held")

	require.NoError(t, lease.Release(ctx))
	assert.False(t, mr.Exists("programs:lock:certificate:1"))

	_, ok, err = locker.Acquire(ctx, "certificate:1", 0, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_ReleaseKeepsForeignToken(t *testing.T) {
	mr, client := setupTestClient(t)
	locker := NewRedisLocker(client, "")
	ctx := context.Background()

	lease, ok, err := locker.Acquire(ctx, "k", 0, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// Simulate expiry and takeover by another holder.
	require.NoError(t, mr.Set("k", "someone-else"))
	require.NoError(t, lease.Release(ctx))

	v, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestLocalLocker_BoundedWait(t *testing.T) {
	locker := NewLocalLocker()
	locker.Poll = time.Millisecond
	ctx := context.Background()

	lease, ok, err := locker.Acquire(ctx, "a", 0, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	start := time.Now()
	_, ok, err = locker.Acquire(ctx, "a", 10*time.Millisecond, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	require.NoError(t, lease.Release(ctx))
	_, ok, err = locker.Acquire(ctx, "a", 0, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
