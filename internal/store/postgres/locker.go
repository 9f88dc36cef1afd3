package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/polytrax/engine/internal/store"
)

// Locker implements store.Locker on the wallet_leases table. A lease row
// may be taken over once its expires_at has passed.
type Locker struct {
	pool *Pool
}

// NewLocker creates a new PostgreSQL locker.
func NewLocker(pool *Pool) *Locker {
	return &Locker{pool: pool}
}

var _ store.Locker = (*Locker)(nil)

// Acquire takes the lease for key or returns store.ErrLockHeld.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if key == "" {
		return nil, store.ErrInvalidInput
	}

	token := uuid.NewString()
	tag, err := l.pool.Exec(ctx, `
		INSERT INTO wallet_leases (lease_key, token, expires_at)
		VALUES ($1, $2, NOW() + $3::bigint * INTERVAL '1 millisecond')
		ON CONFLICT (lease_key) DO UPDATE
		SET token = EXCLUDED.token,
		    expires_at = EXCLUDED.expires_at
		WHERE wallet_leases.expires_at < NOW()
	`, key, token, ttl.Milliseconds())
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, store.ErrLockHeld
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := l.pool.Exec(ctx, `
			DELETE FROM wallet_leases WHERE lease_key = $1 AND token = $2
		`, key, token)
		if err != nil {
			slog.Warn("lease_release_failed", "key", key, "error", err)
		}
	}
	return release, nil
}
