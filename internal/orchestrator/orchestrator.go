// Package orchestrator runs polling cycles: for every eligible subscriber
// and wallet it fetches activity, detects new trades, dispatches alerts and
// advances the cursor.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/polytrax/engine/internal/detector"
	"github.com/polytrax/engine/internal/ingest"
	"github.com/polytrax/engine/internal/metrics"
	"github.com/polytrax/engine/internal/store"
	"github.com/polytrax/engine/internal/store/memory"
)

// ErrNotEligible is returned by RunForSubscriber for subscribers that may
// not receive alerts.
var ErrNotEligible = errors.New("subscriber not eligible")

const (
	defaultFetchLimit   = 10
	defaultConcurrency  = 5
	defaultCycleTimeout = 55 * time.Second
	defaultLockTTL      = 2 * time.Minute
	cursorWriteTimeout  = 5 * time.Second
)

// Fetcher returns a wallet's recent activity, most recent first.
type Fetcher interface {
	FetchActivity(ctx context.Context, address string, opts ingest.FetchOptions) ([]store.Trade, error)
}

// Notifier delivers a batch of new trades to a subscriber.
type Notifier interface {
	Dispatch(ctx context.Context, sub store.Subscriber, trades []store.Trade) store.Delivery
}

// Options configures an Orchestrator.
type Options struct {
	Directory store.SubscriberDirectory
	Fetcher   Fetcher
	Cursors   store.CursorStore
	Locker    store.Locker
	Notifier  Notifier
	Detector  *detector.Detector
	Tracker   *metrics.MetricsTracker

	// Alerts receives every dispatched batch. Sends never block.
	Alerts chan<- store.Alert

	FetchLimit       int
	GapRefetchLimit  int
	RepeatedGapCount int
	Concurrency      int
	CycleTimeout     time.Duration
	LockTTL          time.Duration

	Now func() time.Time
}

// Orchestrator coordinates the fetch, detect, dispatch, advance sequence.
type Orchestrator struct {
	directory store.SubscriberDirectory
	fetcher   Fetcher
	cursors   store.CursorStore
	locker    store.Locker
	notifier  Notifier
	detector  *detector.Detector
	tracker   *metrics.MetricsTracker
	alerts    chan<- store.Alert

	fetchLimit       int
	gapRefetchLimit  int
	repeatedGapCount int
	concurrency      int
	cycleTimeout     time.Duration
	lockTTL          time.Duration
	now              func() time.Time
}

// New creates a new Orchestrator. Directory, Fetcher, Cursors, Notifier and
// Detector are required.
func New(opts Options) (*Orchestrator, error) {
	if opts.Directory == nil || opts.Fetcher == nil || opts.Cursors == nil || opts.Notifier == nil || opts.Detector == nil {
		return nil, fmt.Errorf("orchestrator: missing collaborator: %w", store.ErrInvalidInput)
	}

	o := &Orchestrator{
		directory:        opts.Directory,
		fetcher:          opts.Fetcher,
		cursors:          opts.Cursors,
		locker:           opts.Locker,
		notifier:         opts.Notifier,
		detector:         opts.Detector,
		tracker:          opts.Tracker,
		alerts:           opts.Alerts,
		fetchLimit:       opts.FetchLimit,
		gapRefetchLimit:  opts.GapRefetchLimit,
		repeatedGapCount: opts.RepeatedGapCount,
		concurrency:      opts.Concurrency,
		cycleTimeout:     opts.CycleTimeout,
		lockTTL:          opts.LockTTL,
		now:              opts.Now,
	}

	if o.locker == nil {
		o.locker = memory.NewLocker()
	}
	if o.tracker == nil {
		o.tracker = metrics.NewMetricsTracker("", prometheus.NewRegistry())
	}
	if o.fetchLimit <= 0 {
		o.fetchLimit = defaultFetchLimit
	}
	if o.concurrency <= 0 {
		o.concurrency = defaultConcurrency
	}
	if o.cycleTimeout <= 0 {
		o.cycleTimeout = defaultCycleTimeout
	}
	if o.lockTTL <= 0 {
		o.lockTTL = defaultLockTTL
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o, nil
}

// Eligible reports whether sub takes part in a cycle: an active or
// unexpired trialing subscription, a tracked wallet and a usable channel.
func Eligible(sub store.Subscriber, now time.Time) bool {
	switch sub.Status {
	case store.StatusActive:
	case store.StatusTrialing:
		if sub.TrialEndsAt != nil && !now.Before(*sub.TrialEndsAt) {
			return false
		}
	default:
		return false
	}

	if len(walletsOf(sub)) == 0 {
		return false
	}
	return sub.HasChannel()
}

// RunCycle checks every eligible subscriber's wallets once.
func (o *Orchestrator) RunCycle(ctx context.Context) (*store.CycleSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cycleTimeout)
	defer cancel()

	subs, err := o.directory.ListSubscribers(ctx)
	if err != nil {
		o.tracker.RecordCycleError()
		return nil, fmt.Errorf("list subscribers: %w", err)
	}

	now := o.now()
	eligible := make([]store.Subscriber, 0, len(subs))
	for _, s := range subs {
		if Eligible(s, now) {
			eligible = append(eligible, s)
		}
	}

	return o.run(ctx, eligible), nil
}

// RunForSubscriber runs the same per-wallet sequence for one subscriber.
func (o *Orchestrator) RunForSubscriber(ctx context.Context, subscriberID string) (*store.CycleSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cycleTimeout)
	defer cancel()

	sub, err := o.directory.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("get subscriber %s: %w", subscriberID, err)
	}
	if !Eligible(*sub, o.now()) {
		return nil, ErrNotEligible
	}

	return o.run(ctx, []store.Subscriber{*sub}), nil
}

type pair struct {
	sub    store.Subscriber
	wallet string
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeFailed
	outcomeSkipped
)

// run processes all pairs with bounded fan-out. Result order follows the
// subscriber and wallet order regardless of completion order.
func (o *Orchestrator) run(ctx context.Context, subs []store.Subscriber) *store.CycleSummary {
	start := o.now()
	cycleID := uuid.NewString()

	var pairs []pair
	for _, s := range subs {
		for _, w := range walletsOf(s) {
			pairs = append(pairs, pair{sub: s, wallet: w})
		}
	}

	results := make([]*store.WalletResult, len(pairs))
	outcomes := make([]outcome, len(pairs))

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, p := range pairs {
		i, p := i, p
		g.Go(func() error {
			results[i], outcomes[i] = o.checkPair(ctx, cycleID, p)
			return nil
		})
	}
	_ = g.Wait()

	summary := &store.CycleSummary{
		CycleID:            cycleID,
		StartedAt:          start,
		SubscribersChecked: len(subs),
		WalletsChecked:     len(pairs),
		Results:            make([]store.WalletResult, 0, len(pairs)),
	}
	for i, r := range results {
		switch outcomes[i] {
		case outcomeFailed:
			summary.Failures++
		case outcomeSkipped:
			summary.Skipped++
		}
		if r != nil {
			summary.Results = append(summary.Results, *r)
		}
	}

	elapsed := o.now().Sub(start)
	summary.DurationMs = elapsed.Milliseconds()
	o.tracker.RecordCycle(summary, elapsed)

	slog.Info("cycle_completed",
		"cycle_id", cycleID,
		"subscribers", summary.SubscribersChecked,
		"wallets", summary.WalletsChecked,
		"results", len(summary.Results),
		"notifications", summary.NotificationCount(),
		"failures", summary.Failures,
		"skipped", summary.Skipped,
		"duration_ms", summary.DurationMs,
	)
	return summary
}

// checkPair runs FETCH, DETECT, DISPATCH, ADVANCE for one pair under its
// lease. A nil result means nothing reportable happened.
func (o *Orchestrator) checkPair(ctx context.Context, cycleID string, p pair) (*store.WalletResult, outcome) {
	log := slog.With("cycle_id", cycleID, "subscriber", p.sub.ID, "wallet", p.wallet)

	if err := ctx.Err(); err != nil {
		log.Warn("wallet_check_abandoned", "error", err)
		return nil, outcomeSkipped
	}

	release, err := o.locker.Acquire(ctx, store.LockKey(p.sub.ID, p.wallet), o.lockTTL)
	if errors.Is(err, store.ErrLockHeld) {
		log.Debug("wallet_lock_held")
		o.tracker.RecordLockSkip()
		return nil, outcomeSkipped
	}
	if err != nil {
		log.Warn("wallet_lock_failed", "error", err)
		return nil, outcomeFailed
	}
	defer release()

	window, err := o.fetch(ctx, p.wallet, o.fetchLimit)
	if err != nil {
		log.Warn("wallet_fetch_failed", "error", err)
		return nil, outcomeFailed
	}

	lastSeen, hasCursor := o.readCursor(ctx, log, p)
	res := o.detector.Diff(window, lastSeen, hasCursor)

	if res.Gap && o.gapRefetchLimit > o.fetchLimit {
		res = o.refetch(ctx, log, p, lastSeen, res)
	}

	if !res.Advance {
		return nil, outcomeDone
	}

	if res.Gap {
		o.recordGap(log, p, len(res.New))
	}

	if res.Baseline {
		o.tracker.RecordBaseline()
		o.writeCursor(ctx, log, p, res.Cursor)
		log.Debug("wallet_baseline", "cursor", res.Cursor)
		return &store.WalletResult{
			SubscriberID: p.sub.ID,
			Wallet:       p.wallet,
			Baseline:     true,
		}, outcomeDone
	}

	if len(res.New) == 0 {
		if res.Cursor != lastSeen {
			o.writeCursor(ctx, log, p, res.Cursor)
		}
		return nil, outcomeDone
	}

	delivery := o.notifier.Dispatch(ctx, p.sub, res.New)

	// Cursor moves even when every channel failed.
	o.writeCursor(ctx, log, p, res.Cursor)

	alert := store.Alert{
		CycleID:      cycleID,
		SubscriberID: p.sub.ID,
		Wallet:       p.wallet,
		Trades:       res.New,
		Gap:          res.Gap,
		Delivery:     delivery,
		SentAt:       o.now(),
	}
	o.tracker.RecordAlert(alert, store.Delivery{SMS: p.sub.Phone.Usable(), Email: p.sub.Email.Usable()})
	o.emit(alert)

	log.Info("wallet_notified",
		"new_trades", len(res.New),
		"gap", res.Gap,
		"sms", delivery.SMS,
		"email", delivery.Email,
	)

	return &store.WalletResult{
		SubscriberID: p.sub.ID,
		Wallet:       p.wallet,
		NewTrades:    len(res.New),
		Gap:          res.Gap,
		Delivery:     delivery,
	}, outcomeDone
}

func (o *Orchestrator) fetch(ctx context.Context, wallet string, limit int) ([]store.Trade, error) {
	start := time.Now()
	trades, err := o.fetcher.FetchActivity(ctx, wallet, ingest.FetchOptions{Limit: limit})
	o.tracker.RecordFetch(time.Since(start), err)
	return trades, err
}

// refetch widens the window once when the cursor was not found. The capped
// gap result stands if the wider fetch fails or still misses the cursor.
func (o *Orchestrator) refetch(ctx context.Context, log *slog.Logger, p pair, lastSeen string, capped detector.Result) detector.Result {
	wider, err := o.fetch(ctx, p.wallet, o.gapRefetchLimit)
	if err != nil {
		log.Warn("gap_refetch_failed", "error", err)
		return capped
	}

	res := o.detector.Diff(wider, lastSeen, true)
	if !res.Gap {
		log.Info("gap_resolved_by_refetch", "new_trades", len(res.New), "limit", o.gapRefetchLimit)
	}
	return res
}

func (o *Orchestrator) recordGap(log *slog.Logger, p pair, notified int) {
	o.tracker.RecordGap(p.wallet)
	n := o.detector.RecordGap(store.CursorKey(p.sub.ID, p.wallet))

	if o.repeatedGapCount > 0 && n >= o.repeatedGapCount {
		log.Warn("repeated_gap", "gaps_in_window", n, "notified", notified)
		return
	}
	log.Info("cursor_not_in_window", "notified", notified)
}

// readCursor treats a failing cursor store like an absent cursor.
func (o *Orchestrator) readCursor(ctx context.Context, log *slog.Logger, p pair) (string, bool) {
	id, err := o.cursors.GetCursor(ctx, p.sub.ID, p.wallet)
	if errors.Is(err, store.ErrNotFound) {
		return "", false
	}
	if err != nil {
		log.Warn("cursor_read_failed", "error", err)
		o.tracker.RecordCursorError("get")
		return "", false
	}
	return id, true
}

// writeCursor persists the cursor even if the cycle budget ran out after
// dispatch, so sent alerts are not repeated.
func (o *Orchestrator) writeCursor(ctx context.Context, log *slog.Logger, p pair, id string) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cursorWriteTimeout)
	defer cancel()

	if err := o.cursors.SetCursor(wctx, p.sub.ID, p.wallet, id); err != nil {
		log.Warn("cursor_write_failed", "cursor", id, "error", err)
		o.tracker.RecordCursorError("set")
	}
}

// emit forwards an alert to observers without blocking the cycle.
func (o *Orchestrator) emit(alert store.Alert) {
	if o.alerts == nil {
		return
	}
	select {
	case o.alerts <- alert:
	default:
		slog.Warn("alert_channel_full", "subscriber", alert.SubscriberID, "wallet", alert.Wallet)
	}
}

// walletsOf returns the subscriber's normalized, de-duplicated wallets.
func walletsOf(sub store.Subscriber) []string {
	seen := make(map[string]bool, len(sub.Wallets))
	out := make([]string, 0, len(sub.Wallets))
	for _, w := range sub.Wallets {
		w = store.NormalizeAddress(w)
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	return out
}
