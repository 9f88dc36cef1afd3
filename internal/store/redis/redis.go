// Package redis provides Redis-backed cursor storage and per-pair leases.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/polytrax/engine/internal/store"
)

// NewClient parses a redis:// URL and verifies the connection.
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// CursorStore keeps one string key per (subscriber, wallet) pair.
type CursorStore struct {
	client goredis.UniversalClient
}

// NewCursorStore creates a Redis cursor store.
func NewCursorStore(client goredis.UniversalClient) *CursorStore {
	return &CursorStore{client: client}
}

var _ store.CursorStore = (*CursorStore)(nil)

// GetCursor returns the last notified trade id for the pair.
func (s *CursorStore) GetCursor(ctx context.Context, subscriberID, wallet string) (string, error) {
	if subscriberID == "" || wallet == "" {
		return "", store.ErrInvalidInput
	}

	id, err := s.client.Get(ctx, store.CursorKey(subscriberID, wallet)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get cursor: %w", err)
	}
	return id, nil
}

// SetCursor stores the last notified trade id for the pair.
func (s *CursorStore) SetCursor(ctx context.Context, subscriberID, wallet, tradeID string) error {
	if subscriberID == "" || wallet == "" || tradeID == "" {
		return store.ErrInvalidInput
	}

	if err := s.client.Set(ctx, store.CursorKey(subscriberID, wallet), tradeID, 0).Err(); err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}

// DeleteCursor removes the cursor for the pair.
func (s *CursorStore) DeleteCursor(ctx context.Context, subscriberID, wallet string) error {
	if subscriberID == "" || wallet == "" {
		return store.ErrInvalidInput
	}

	if err := s.client.Del(ctx, store.CursorKey(subscriberID, wallet)).Err(); err != nil {
		return fmt.Errorf("delete cursor: %w", err)
	}
	return nil
}

// releaseScript deletes the lease only if it still carries our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker grants leases with SET NX PX.
type Locker struct {
	client goredis.UniversalClient
}

// NewLocker creates a Redis locker.
func NewLocker(client goredis.UniversalClient) *Locker {
	return &Locker{client: client}
}

var _ store.Locker = (*Locker)(nil)

// Acquire takes the lease for key or returns store.ErrLockHeld.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if key == "" {
		return nil, store.ErrInvalidInput
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, store.ErrLockHeld
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			slog.Warn("lease_release_failed", "key", key, "error", err)
		}
	}
	return release, nil
}
