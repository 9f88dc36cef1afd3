package detector

import (
	"sync"
	"time"
)

// DefaultGapWindow is used when no tracking window is configured.
const DefaultGapWindow = time.Hour

// GapTracker counts gap occurrences per (subscriber, wallet) key within a
// sliding window. A pair that keeps overflowing the fetch window is losing
// trades to the gap cap every cycle.
type GapTracker struct {
	mu     sync.Mutex
	gaps   map[string][]time.Time
	window time.Duration
	now    func() time.Time
}

// NewGapTracker creates a new GapTracker with the specified window.
func NewGapTracker(window time.Duration) *GapTracker {
	if window <= 0 {
		window = DefaultGapWindow
	}
	return &GapTracker{
		gaps:   make(map[string][]time.Time),
		window: window,
		now:    time.Now,
	}
}

// Record adds a gap for key and returns the number of gaps within the
// window (including the new one).
func (g *GapTracker) Record(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	cutoff := now.Add(-g.window)

	timestamps := g.gaps[key]
	keep := 0
	for keep < len(timestamps) && !timestamps[keep].After(cutoff) {
		keep++
	}
	timestamps = append(timestamps[keep:], now)
	g.gaps[key] = timestamps

	return len(timestamps)
}

// Cleanup removes keys with no gaps inside the window.
// Should be called periodically to prevent memory leaks.
func (g *GapTracker) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := g.now().Add(-g.window)
	for key, timestamps := range g.gaps {
		if len(timestamps) == 0 || !timestamps[len(timestamps)-1].After(cutoff) {
			delete(g.gaps, key)
		}
	}
}
