package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polytrax/engine/internal/store"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCursorStore_Lifecycle(t *testing.T) {
	mr, client := setupRedis(t)
	s := NewCursorStore(client)
	ctx := context.Background()

	_, err := s.GetCursor(ctx, "user-1", "0xabc")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.SetCursor(ctx, "user-1", "0xABC", "t1"))

	// Key layout is shared with the web app.
	raw, err := mr.Get("lastTrade:user-1:0xabc")
	require.NoError(t, err)
	assert.Equal(t, "t1", raw)

	got, err := s.GetCursor(ctx, "user-1", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "t1", got)

	require.NoError(t, s.DeleteCursor(ctx, "user-1", "0xabc"))
	_, err = s.GetCursor(ctx, "user-1", "0xabc")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCursorStore_BackendError(t *testing.T) {
	mr, client := setupRedis(t)
	s := NewCursorStore(client)

	mr.Close()

	_, err := s.GetCursor(context.Background(), "user-1", "0xabc")
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}

func TestLocker_AcquireRelease(t *testing.T) {
	mr, client := setupRedis(t)
	l := NewLocker(client)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "lock:user-1:0xabc", time.Minute)
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:user-1:0xabc"))

	_, err = l.Acquire(ctx, "lock:user-1:0xabc", time.Minute)
	assert.ErrorIs(t, err, store.ErrLockHeld)

	release()
	assert.False(t, mr.Exists("lock:user-1:0xabc"))
}

func TestLocker_ExpiryAndStaleRelease(t *testing.T) {
	mr, client := setupRedis(t)
	l := NewLocker(client)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "k", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	release, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	// The expired holder must not delete the new lease.
	stale()
	assert.True(t, mr.Exists("k"))

	release()
	assert.False(t, mr.Exists("k"))
}
