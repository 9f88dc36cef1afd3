package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polytrax/engine/internal/store"
)

func TestCursorStore_Lifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	s := NewCursorStore(pool)
	ctx := context.Background()

	_, err := s.GetCursor(ctx, "user-1", "0xabc")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.SetCursor(ctx, "user-1", "0xABC", "t1"))
	got, err := s.GetCursor(ctx, "user-1", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "t1", got)

	// Upsert replaces the value.
	require.NoError(t, s.SetCursor(ctx, "user-1", "0xabc", "t2"))
	got, err = s.GetCursor(ctx, "user-1", "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "t2", got)

	// Other subscribers tracking the same wallet are independent.
	_, err = s.GetCursor(ctx, "user-2", "0xabc")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.DeleteCursor(ctx, "user-1", "0xabc"))
	_, err = s.GetCursor(ctx, "user-1", "0xabc")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLocker_Exclusive(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	l := NewLocker(pool)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "lock:user-1:0xabc", time.Minute)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "lock:user-1:0xabc", time.Minute)
	assert.ErrorIs(t, err, store.ErrLockHeld)

	release()

	release, err = l.Acquire(ctx, "lock:user-1:0xabc", time.Minute)
	require.NoError(t, err)
	release()
}

func TestLocker_ExpiredLeaseTakenOver(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	l := NewLocker(pool)
	ctx := context.Background()

	_, err := l.Acquire(ctx, "k", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	release, err := l.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	release()
}

func TestSubscriberDirectory_ListAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	trialEnd := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := pool.Exec(ctx, `
		INSERT INTO users (id, email, phone, sms_enabled, email_enabled, subscription_status, trial_end_date)
		VALUES
			('user-1', 'a@example.com', '+15551234567', TRUE, TRUE, 'ACTIVE', NULL),
			('user-2', NULL, '5559876543', TRUE, FALSE, 'TRIALING', $1),
			('user-3', 'c@example.com', NULL, FALSE, TRUE, 'ACTIVE', NULL)
	`, trialEnd)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `
		INSERT INTO wallets (user_id, address)
		VALUES ('user-1', '0xAAA'), ('user-1', '0xbbb'), ('user-2', '0xccc')
	`)
	require.NoError(t, err)

	dir := NewSubscriberDirectory(pool)

	subs, err := dir.ListSubscribers(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 2, "user-3 has no wallets")

	assert.Equal(t, "user-1", subs[0].ID)
	assert.ElementsMatch(t, []string{"0xaaa", "0xbbb"}, subs[0].Wallets)
	assert.Equal(t, store.StatusActive, subs[0].Status)
	assert.True(t, subs[0].Phone.Usable())
	assert.True(t, subs[0].Email.Usable())

	assert.Equal(t, "user-2", subs[1].ID)
	assert.Equal(t, store.StatusTrialing, subs[1].Status)
	require.NotNil(t, subs[1].TrialEndsAt)
	assert.True(t, subs[1].TrialEndsAt.Equal(trialEnd))
	assert.False(t, subs[1].Email.Usable())

	got, err := dir.GetSubscriber(ctx, "user-3")
	require.NoError(t, err)
	assert.Empty(t, got.Wallets)

	_, err = dir.GetSubscriber(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
