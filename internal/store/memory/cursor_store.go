// Package memory provides in-memory implementations of the store interfaces.
package memory

import (
	"context"
	"sync"

	"github.com/polytrax/engine/internal/store"
)

// CursorStore is an in-memory implementation of store.CursorStore.
type CursorStore struct {
	mu      sync.RWMutex
	cursors map[string]string
}

// NewCursorStore creates a new in-memory cursor store.
func NewCursorStore() *CursorStore {
	return &CursorStore{
		cursors: make(map[string]string),
	}
}

var _ store.CursorStore = (*CursorStore)(nil)

// GetCursor returns the last notified trade id for the pair.
func (s *CursorStore) GetCursor(_ context.Context, subscriberID, wallet string) (string, error) {
	if subscriberID == "" || wallet == "" {
		return "", store.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.cursors[store.CursorKey(subscriberID, wallet)]
	if !ok {
		return "", store.ErrNotFound
	}
	return id, nil
}

// SetCursor stores the last notified trade id for the pair.
func (s *CursorStore) SetCursor(_ context.Context, subscriberID, wallet, tradeID string) error {
	if subscriberID == "" || wallet == "" || tradeID == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors[store.CursorKey(subscriberID, wallet)] = tradeID
	return nil
}

// DeleteCursor removes the cursor for the pair.
func (s *CursorStore) DeleteCursor(_ context.Context, subscriberID, wallet string) error {
	if subscriberID == "" || wallet == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cursors, store.CursorKey(subscriberID, wallet))
	return nil
}

// Len returns the number of stored cursors.
func (s *CursorStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cursors)
}
