// Package metrics provides real-time metrics tracking for the system.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/polytrax/engine/internal/store"
)

// WalletActivity tracks notified activity for a single wallet.
type WalletActivity struct {
	Wallet      string
	LastMarket  string
	LastSide    store.Side
	LastOutcome string
	LastPrice   float64
	TradeCount  int
	Volume      float64
	Gaps        int
	Subscribers int
	LastUpdate  time.Time
}

// ChannelStats counts delivery outcomes for one channel.
type ChannelStats struct {
	Sent   int64
	Failed int64
}

// MetricsSnapshot is a point-in-time view of metrics.
type MetricsSnapshot struct {
	CyclesTotal      int64
	CycleErrors      int64
	WalletsChecked   int64
	TradesNotified   int64
	Baselines        int64
	Gaps             int64
	FetchFailures    int64
	LockSkips        int64
	CursorErrors     int64
	Channels         map[store.Channel]ChannelStats
	AlertRate        float64 // notified trades per minute over the last hour
	WalletActivities map[string]*WalletActivity
	LastCycle        *store.CycleSummary
	LastCycleAt      time.Time
	Uptime           time.Duration
}

// MetricsTracker provides thread-safe metrics tracking. Every recording
// call also updates the Prometheus collectors.
type MetricsTracker struct {
	mu              sync.RWMutex
	prom            *Collectors
	cyclesTotal     int64
	cycleErrors     int64
	walletsChecked  int64
	tradesNotified  int64
	baselines       int64
	gaps            int64
	fetchFailures   int64
	lockSkips       int64
	cursorErrors    int64
	channels        map[store.Channel]ChannelStats
	walletActivity  map[string]*walletState
	lastCycle       *store.CycleSummary
	lastCycleAt     time.Time
	startTime       time.Time
	alertTimestamps []time.Time // for rate calculation
	now             func() time.Time
}

type walletState struct {
	WalletActivity
	subscribers map[string]struct{}
}

// NewMetricsTracker creates a new MetricsTracker registering its
// collectors with reg.
func NewMetricsTracker(namespace string, reg prometheus.Registerer) *MetricsTracker {
	return &MetricsTracker{
		prom:            NewCollectors(namespace, reg),
		channels:        make(map[store.Channel]ChannelStats),
		walletActivity:  make(map[string]*walletState),
		startTime:       time.Now(),
		alertTimestamps: make([]time.Time, 0, 1000),
		now:             time.Now,
	}
}

// RecordCycle records a completed cycle.
func (m *MetricsTracker) RecordCycle(summary *store.CycleSummary, d time.Duration) {
	m.prom.CyclesTotal.WithLabelValues("ok").Inc()
	m.prom.CycleDuration.Observe(d.Seconds())
	m.prom.WalletsChecked.Add(float64(summary.WalletsChecked))

	m.mu.Lock()
	defer m.mu.Unlock()

	m.cyclesTotal++
	m.walletsChecked += int64(summary.WalletsChecked)
	copied := *summary
	copied.Results = append([]store.WalletResult(nil), summary.Results...)
	m.lastCycle = &copied
	m.lastCycleAt = m.now()
	m.prom.LastCycleTimestamp.Set(float64(m.lastCycleAt.Unix()))
}

// RecordCycleError records a cycle that could not run.
func (m *MetricsTracker) RecordCycleError() {
	m.prom.CyclesTotal.WithLabelValues("error").Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycleErrors++
}

// RecordFetch records one feed request.
func (m *MetricsTracker) RecordFetch(d time.Duration, err error) {
	m.prom.FetchDuration.Observe(d.Seconds())
	if err == nil {
		return
	}
	m.prom.FetchErrors.Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchFailures++
}

// RecordBaseline records a first observation for a pair.
func (m *MetricsTracker) RecordBaseline() {
	m.prom.Baselines.Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.baselines++
}

// RecordGap records a cursor missing from the fetched window.
func (m *MetricsTracker) RecordGap(wallet string) {
	m.prom.Gaps.Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.gaps++
	m.wallet(wallet).Gaps++
}

// RecordLockSkip records a pair skipped because its lease was held.
func (m *MetricsTracker) RecordLockSkip() {
	m.prom.LockSkips.Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockSkips++
}

// RecordCursorError records a failed cursor read or write.
func (m *MetricsTracker) RecordCursorError(op string) {
	m.prom.CursorErrors.WithLabelValues(op).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursorErrors++
}

// RecordAlert records a dispatched batch and its per-channel outcome.
// attempted reports which channels were tried.
func (m *MetricsTracker) RecordAlert(alert store.Alert, attempted store.Delivery) {
	m.prom.NewTrades.Add(float64(len(alert.Trades)))
	m.recordChannel(store.ChannelSMS, attempted.SMS, alert.Delivery.SMS)
	m.recordChannel(store.ChannelEmail, attempted.Email, alert.Delivery.Email)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.tradesNotified += int64(len(alert.Trades))
	for range alert.Trades {
		m.alertTimestamps = append(m.alertTimestamps, now)
	}
	m.alertTimestamps = trimBefore(m.alertTimestamps, now.Add(-60*time.Minute))

	if len(alert.Trades) == 0 {
		return
	}

	w := m.wallet(alert.Wallet)
	newest := alert.Trades[0]
	w.LastMarket = newest.MarketTitle
	w.LastSide = newest.Side
	w.LastOutcome = newest.Outcome
	w.LastPrice = newest.Price.InexactFloat64()
	w.TradeCount += len(alert.Trades)
	for _, t := range alert.Trades {
		w.Volume += t.USDCSize.InexactFloat64()
	}
	w.subscribers[alert.SubscriberID] = struct{}{}
	w.Subscribers = len(w.subscribers)
	w.LastUpdate = now
}

func (m *MetricsTracker) recordChannel(ch store.Channel, attempted, ok bool) {
	if !attempted {
		return
	}
	result := "sent"
	if !ok {
		result = "failed"
	}
	m.prom.Notifications.WithLabelValues(string(ch), result).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.channels[ch]
	if ok {
		stats.Sent++
	} else {
		stats.Failed++
	}
	m.channels[ch] = stats
}

// wallet returns the state for addr, creating it. Must be called with lock held.
func (m *MetricsTracker) wallet(addr string) *walletState {
	w, ok := m.walletActivity[addr]
	if !ok {
		w = &walletState{
			WalletActivity: WalletActivity{Wallet: addr},
			subscribers:    make(map[string]struct{}),
		}
		m.walletActivity[addr] = w
	}
	w.LastUpdate = m.now()
	return w
}

// Snapshot returns a point-in-time snapshot of metrics.
func (m *MetricsTracker) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()

	// Calculate alert rate (trades per minute over the last hour)
	alertRate := 0.0
	if recent := trimBefore(m.alertTimestamps, now.Add(-60*time.Minute)); len(recent) > 0 {
		minutes := now.Sub(recent[0]).Minutes()
		if minutes < 1 {
			minutes = 1
		}
		alertRate = float64(len(recent)) / minutes
	}

	channels := make(map[store.Channel]ChannelStats, len(m.channels))
	for k, v := range m.channels {
		channels[k] = v
	}

	activities := make(map[string]*WalletActivity, len(m.walletActivity))
	for k, v := range m.walletActivity {
		activity := v.WalletActivity
		activities[k] = &activity
	}

	var last *store.CycleSummary
	if m.lastCycle != nil {
		copied := *m.lastCycle
		copied.Results = append([]store.WalletResult(nil), m.lastCycle.Results...)
		last = &copied
	}

	return MetricsSnapshot{
		CyclesTotal:      m.cyclesTotal,
		CycleErrors:      m.cycleErrors,
		WalletsChecked:   m.walletsChecked,
		TradesNotified:   m.tradesNotified,
		Baselines:        m.baselines,
		Gaps:             m.gaps,
		FetchFailures:    m.fetchFailures,
		LockSkips:        m.lockSkips,
		CursorErrors:     m.cursorErrors,
		Channels:         channels,
		AlertRate:        alertRate,
		WalletActivities: activities,
		LastCycle:        last,
		LastCycleAt:      m.lastCycleAt,
		Uptime:           now.Sub(m.startTime),
	}
}

// TopWallets returns wallet activity sorted by notified trade count.
func (s MetricsSnapshot) TopWallets(limit int) []WalletActivity {
	list := make([]WalletActivity, 0, len(s.WalletActivities))
	for _, a := range s.WalletActivities {
		list = append(list, *a)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].TradeCount != list[j].TradeCount {
			return list[i].TradeCount > list[j].TradeCount
		}
		return list[i].Wallet < list[j].Wallet
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

// Cleanup removes stale data from the tracker.
func (m *MetricsTracker) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-24 * time.Hour)

	// Clean up wallets with no recent updates
	for addr, w := range m.walletActivity {
		if w.LastUpdate.Before(cutoff) {
			delete(m.walletActivity, addr)
		}
	}
	m.alertTimestamps = trimBefore(m.alertTimestamps, now.Add(-60*time.Minute))
}

// trimBefore drops timestamps not after cutoff. ts must be ascending.
func trimBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}
