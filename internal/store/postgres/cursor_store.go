package postgres

import (
	"context"

	"github.com/polytrax/engine/internal/store"
)

// CursorStore is a PostgreSQL implementation of store.CursorStore.
// One row per (subscriber, wallet); writes are single-row upserts.
type CursorStore struct {
	pool *Pool
}

// NewCursorStore creates a new PostgreSQL cursor store.
func NewCursorStore(pool *Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

var _ store.CursorStore = (*CursorStore)(nil)

// GetCursor returns the last notified trade id for the pair.
func (s *CursorStore) GetCursor(ctx context.Context, subscriberID, wallet string) (string, error) {
	if subscriberID == "" || wallet == "" {
		return "", store.ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx, `
		SELECT last_trade_id
		FROM wallet_cursors
		WHERE subscriber_id = $1 AND wallet = $2
	`, subscriberID, store.NormalizeAddress(wallet))

	var id string
	if err := row.Scan(&id); err != nil {
		if isNotFoundError(err) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return id, nil
}

// SetCursor upserts the last notified trade id for the pair.
func (s *CursorStore) SetCursor(ctx context.Context, subscriberID, wallet, tradeID string) error {
	if subscriberID == "" || wallet == "" || tradeID == "" {
		return store.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_cursors (subscriber_id, wallet, last_trade_id, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (subscriber_id, wallet) DO UPDATE
		SET last_trade_id = EXCLUDED.last_trade_id,
		    updated_at = NOW()
	`, subscriberID, store.NormalizeAddress(wallet), tradeID)

	return err
}

// DeleteCursor removes the cursor for the pair.
func (s *CursorStore) DeleteCursor(ctx context.Context, subscriberID, wallet string) error {
	if subscriberID == "" || wallet == "" {
		return store.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		DELETE FROM wallet_cursors
		WHERE subscriber_id = $1 AND wallet = $2
	`, subscriberID, store.NormalizeAddress(wallet))

	return err
}
