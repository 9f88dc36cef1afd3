package store

import (
	"context"
	"time"
)

// CursorStore persists, per (subscriber, wallet) pair, the id of the most
// recently notified trade. Implementations must make each key's get/set
// atomic; no cross-key transactions are required.
type CursorStore interface {
	// GetCursor returns the last notified trade id. Returns ErrNotFound if absent.
	GetCursor(ctx context.Context, subscriberID, wallet string) (string, error)

	// SetCursor stores the last notified trade id, replacing any previous value.
	SetCursor(ctx context.Context, subscriberID, wallet, tradeID string) error

	// DeleteCursor removes the cursor. Deleting an absent cursor is not an error.
	DeleteCursor(ctx context.Context, subscriberID, wallet string) error
}

// Locker grants short-lived exclusive leases keyed by (subscriber, wallet).
type Locker interface {
	// Acquire takes the lease for key. Returns ErrLockHeld if another holder owns it.
	// The returned release func is safe to call once the work is done.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// SubscriberDirectory supplies subscribers from the auth/billing collaborator.
type SubscriberDirectory interface {
	// ListSubscribers returns all subscribers with at least one tracked wallet.
	ListSubscribers(ctx context.Context) ([]Subscriber, error)

	// GetSubscriber retrieves one subscriber. Returns ErrNotFound if not exists.
	GetSubscriber(ctx context.Context, id string) (*Subscriber, error)
}

// CursorKey is the storage key for a (subscriber, wallet) cursor.
func CursorKey(subscriberID, wallet string) string {
	return "lastTrade:" + subscriberID + ":" + NormalizeAddress(wallet)
}

// LockKey is the lease key guarding a (subscriber, wallet) pair.
func LockKey(subscriberID, wallet string) string {
	return "lock:" + subscriberID + ":" + NormalizeAddress(wallet)
}
