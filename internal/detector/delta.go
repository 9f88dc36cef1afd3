// Package detector computes which trades in a fetched activity window are new.
package detector

import (
	"github.com/polytrax/engine/internal/config"
	"github.com/polytrax/engine/internal/store"
)

// DefaultGapLimit caps notifications when the cursor fell out of the window.
const DefaultGapLimit = 5

// Result is the outcome of diffing one activity window against a cursor.
type Result struct {
	// New holds the trades to notify, most recent first.
	New []store.Trade

	// Cursor is the id the caller should persist when Advance is set.
	Cursor string

	// Advance is false only for an empty window.
	Advance bool

	// Baseline marks a first observation (no prior cursor).
	Baseline bool

	// Gap marks a cursor that was not found in the window.
	Gap bool
}

// Detector applies the delta rules to an activity window.
type Detector struct {
	gapLimit int
	gaps     *GapTracker
}

// NewDetector creates a new Detector.
func NewDetector(cfg *config.Config) *Detector {
	gapLimit := cfg.GapNotifyLimit
	if gapLimit <= 0 {
		gapLimit = DefaultGapLimit
	}
	return &Detector{
		gapLimit: gapLimit,
		gaps:     NewGapTracker(cfg.RepeatedGapWindow),
	}
}

// GapLimit returns the configured gap cap.
func (d *Detector) GapLimit() int {
	return d.gapLimit
}

// Diff computes the new trades in window given the last notified trade id.
// window must be ordered most recent first.
func (d *Detector) Diff(window []store.Trade, lastSeenID string, hasCursor bool) Result {
	if len(window) == 0 {
		return Result{}
	}

	res := Result{
		Cursor:  window[0].ID,
		Advance: true,
	}

	if !hasCursor {
		res.Baseline = true
		return res
	}

	if i := indexOf(window, lastSeenID); i >= 0 {
		// i == 0 means nothing newer than the cursor.
		if i > 0 {
			res.New = window[:i:i]
		}
		return res
	}

	n := min(d.gapLimit, len(window))
	res.New = window[:n:n]
	res.Gap = true
	return res
}

// Contains reports whether the cursor appears in window.
func Contains(window []store.Trade, id string) bool {
	return indexOf(window, id) >= 0
}

// RecordGap notes a gap for key and returns how many gaps key has had
// within the tracking window, including this one.
func (d *Detector) RecordGap(key string) int {
	return d.gaps.Record(key)
}

// Cleanup drops stale gap history.
func (d *Detector) Cleanup() {
	d.gaps.Cleanup()
}

func indexOf(window []store.Trade, id string) int {
	for i := range window {
		if window[i].ID == id {
			return i
		}
	}
	return -1
}
