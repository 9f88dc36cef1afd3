package memory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/polytrax/engine/internal/store"
)

// SubscriberDirectory is an in-memory implementation of store.SubscriberDirectory.
type SubscriberDirectory struct {
	mu          sync.RWMutex
	subscribers map[string]store.Subscriber
}

// NewSubscriberDirectory creates a directory holding the given subscribers.
func NewSubscriberDirectory(subs ...store.Subscriber) *SubscriberDirectory {
	d := &SubscriberDirectory{
		subscribers: make(map[string]store.Subscriber),
	}
	for _, s := range subs {
		_ = d.Put(s)
	}
	return d
}

var _ store.SubscriberDirectory = (*SubscriberDirectory)(nil)

// subscribersFile is the YAML layout of a seed file.
type subscribersFile struct {
	Subscribers []store.Subscriber `yaml:"subscribers"`
}

// LoadSubscribersFile builds a directory from a YAML seed file.
func LoadSubscribersFile(path string) (*SubscriberDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read subscribers file: %w", err)
	}

	var f subscribersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode subscribers file: %w", err)
	}

	d := NewSubscriberDirectory()
	for _, s := range f.Subscribers {
		if err := d.Put(s); err != nil {
			return nil, fmt.Errorf("subscriber %q: %w", s.ID, err)
		}
	}
	return d, nil
}

// Put inserts or replaces a subscriber. Wallet addresses are normalized
// and de-duplicated.
func (d *SubscriberDirectory) Put(s store.Subscriber) error {
	if s.ID == "" {
		return store.ErrInvalidInput
	}

	seen := make(map[string]bool, len(s.Wallets))
	wallets := make([]string, 0, len(s.Wallets))
	for _, w := range s.Wallets {
		w = store.NormalizeAddress(w)
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		wallets = append(wallets, w)
	}
	s.Wallets = wallets

	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[s.ID] = s
	return nil
}

// Remove deletes a subscriber.
func (d *SubscriberDirectory) Remove(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subscribers, id)
}

// ListSubscribers returns subscribers with at least one wallet, ordered by ID.
func (d *SubscriberDirectory) ListSubscribers(_ context.Context) ([]store.Subscriber, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	subs := make([]store.Subscriber, 0, len(d.subscribers))
	for _, s := range d.subscribers {
		if len(s.Wallets) == 0 {
			continue
		}
		subs = append(subs, copySubscriber(s))
	}

	sort.Slice(subs, func(i, j int) bool {
		return subs[i].ID < subs[j].ID
	})
	return subs, nil
}

// GetSubscriber retrieves a subscriber by ID.
func (d *SubscriberDirectory) GetSubscriber(_ context.Context, id string) (*store.Subscriber, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.subscribers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := copySubscriber(s)
	return &c, nil
}

func copySubscriber(s store.Subscriber) store.Subscriber {
	s.Wallets = append([]string(nil), s.Wallets...)
	if s.TrialEndsAt != nil {
		t := *s.TrialEndsAt
		s.TrialEndsAt = &t
	}
	return s
}
