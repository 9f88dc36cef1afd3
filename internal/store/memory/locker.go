package memory

import (
	"context"
	"sync"
	"time"

	"github.com/polytrax/engine/internal/store"
)

// Locker is a process-local lease table. Expired leases are reclaimed
// lazily on the next Acquire for the same key.
type Locker struct {
	mu     sync.Mutex
	leases map[string]lease
	seq    uint64
	now    func() time.Time
}

type lease struct {
	token   uint64
	expires time.Time
}

// NewLocker creates a new in-memory locker.
func NewLocker() *Locker {
	return &Locker{
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

var _ store.Locker = (*Locker)(nil)

// Acquire takes the lease for key or returns store.ErrLockHeld.
func (l *Locker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	if key == "" {
		return nil, store.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.leases[key]; ok && now.Before(held.expires) {
		return nil, store.ErrLockHeld
	}

	l.seq++
	token := l.seq
	l.leases[key] = lease{token: token, expires: now.Add(ttl)}

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// A lease that expired and was re-acquired belongs to someone else.
			if cur, ok := l.leases[key]; ok && cur.token == token {
				delete(l.leases, key)
			}
		})
	}
	return release, nil
}

// Cleanup removes expired leases.
// Should be called periodically to prevent memory leaks.
func (l *Locker) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, held := range l.leases {
		if !now.Before(held.expires) {
			delete(l.leases, key)
		}
	}
}
