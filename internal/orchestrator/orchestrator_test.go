package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polytrax/engine/internal/config"
	"github.com/polytrax/engine/internal/detector"
	"github.com/polytrax/engine/internal/ingest"
	"github.com/polytrax/engine/internal/store"
	"github.com/polytrax/engine/internal/store/memory"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeFeed struct {
	mu     sync.Mutex
	trades map[string][]store.Trade
	errs   map[string]error
	limits []int
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{trades: map[string][]store.Trade{}, errs: map[string]error{}}
}

func (f *fakeFeed) set(wallet string, ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	trades := make([]store.Trade, 0, len(ids))
	for _, id := range ids {
		trades = append(trades, store.Trade{ID: id, Wallet: wallet, Side: store.SideBuy, MarketTitle: "M " + id})
	}
	f.trades[wallet] = trades
}

func (f *fakeFeed) FetchActivity(_ context.Context, address string, opts ingest.FetchOptions) ([]store.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, opts.Limit)
	if err := f.errs[address]; err != nil {
		return nil, err
	}
	trades := f.trades[address]
	if opts.Limit > 0 && len(trades) > opts.Limit {
		trades = trades[:opts.Limit]
	}
	return append([]store.Trade(nil), trades...), nil
}

type sent struct {
	subscriber string
	ids        []string
}

type fakeNotifier struct {
	mu       sync.Mutex
	sent     []sent
	delivery store.Delivery
}

func (n *fakeNotifier) Dispatch(_ context.Context, sub store.Subscriber, trades []store.Trade) store.Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, 0, len(trades))
	for _, t := range trades {
		ids = append(ids, t.ID)
	}
	n.sent = append(n.sent, sent{subscriber: sub.ID, ids: ids})
	return n.delivery
}

type failingCursors struct{ store.CursorStore }

func (failingCursors) GetCursor(context.Context, string, string) (string, error) {
	return "", errors.New("kv unavailable")
}

func (failingCursors) SetCursor(context.Context, string, string, string) error {
	return errors.New("kv unavailable")
}

func activeSub(id string, wallets ...string) store.Subscriber {
	return store.Subscriber{
		ID:      id,
		Status:  store.StatusActive,
		Wallets: wallets,
		Phone:   store.Contact{Address: "5551234567", Enabled: true},
		Email:   store.Contact{Address: id + "@example.com", Enabled: true},
	}
}

type harness struct {
	feed     *fakeFeed
	notifier *fakeNotifier
	cursors  *memory.CursorStore
	dir      *memory.SubscriberDirectory
	alerts   chan store.Alert
	orch     *Orchestrator
}

func newHarness(t *testing.T, subs ...store.Subscriber) *harness {
	t.Helper()
	h := &harness{
		feed:     newFakeFeed(),
		notifier: &fakeNotifier{delivery: store.Delivery{SMS: true, Email: true}},
		cursors:  memory.NewCursorStore(),
		dir:      memory.NewSubscriberDirectory(subs...),
		alerts:   make(chan store.Alert, 16),
	}
	h.orch = h.build(t, Options{})
	return h
}

func (h *harness) build(t *testing.T, opts Options) *Orchestrator {
	t.Helper()
	if opts.Cursors == nil {
		opts.Cursors = h.cursors
	}
	opts.Directory = h.dir
	if opts.Fetcher == nil {
		opts.Fetcher = h.feed
	}
	if opts.Notifier == nil {
		opts.Notifier = h.notifier
	}
	opts.Detector = detector.NewDetector(&config.Config{GapNotifyLimit: 5})
	opts.Alerts = h.alerts
	opts.Now = func() time.Time { return testNow }
	o, err := New(opts)
	require.NoError(t, err)
	return o
}

func TestRunCycle_BaselineDoesNotNotify(t *testing.T) {
	h := newHarness(t, activeSub("u1", "0xaaa"))
	h.feed.set("0xaaa", "T3", "T2", "T1")

	summary, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Empty(t, h.notifier.sent)
	require.Len(t, summary.Results, 1)
	assert.True(t, summary.Results[0].Baseline)
	assert.Equal(t, 0, summary.Results[0].NewTrades)

	cursor, err := h.cursors.GetCursor(context.Background(), "u1", "0xaaa")
	require.NoError(t, err)
	assert.Equal(t, "T3", cursor)
}

func TestRunCycle_SimpleDeltaAndIdempotentRerun(t *testing.T) {
	h := newHarness(t, activeSub("u1", "0xaaa"))
	ctx := context.Background()
	require.NoError(t, h.cursors.SetCursor(ctx, "u1", "0xaaa", "T3"))
	h.feed.set("0xaaa", "T5", "T4", "T3", "T2", "T1")

	summary, err := h.orch.RunCycle(ctx)
	require.NoError(t, err)

	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, []string{"T5", "T4"}, h.notifier.sent[0].ids)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, 2, summary.Results[0].NewTrades)
	assert.True(t, summary.Results[0].SMS)
	assert.True(t, summary.Results[0].Email)
	assert.Equal(t, 2, summary.NotificationCount())

	cursor, _ := h.cursors.GetCursor(ctx, "u1", "0xaaa")
	assert.Equal(t, "T5", cursor)

	select {
	case a := <-h.alerts:
		assert.Equal(t, "u1", a.SubscriberID)
		assert.Len(t, a.Trades, 2)
	default:
		t.Fatal("expected an alert event")
	}

	// Unchanged feed: second run notifies nothing.
	summary, err = h.orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Len(t, h.notifier.sent, 1)
	assert.Empty(t, summary.Results)
	assert.Zero(t, summary.NotificationCount())
}

func TestRunCycle_GapCapsAtFive(t *testing.T) {
	h := newHarness(t, activeSub("u1", "0xaaa"))
	ctx := context.Background()
	require.NoError(t, h.cursors.SetCursor(ctx, "u1", "0xaaa", "T0"))

	ids := make([]string, 0, 10)
	for i := 10; i >= 1; i-- {
		ids = append(ids, fmt.Sprintf("T%d", i))
	}
	h.feed.set("0xaaa", ids...)

	summary, err := h.orch.RunCycle(ctx)
	require.NoError(t, err)

	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, []string{"T10", "T9", "T8", "T7", "T6"}, h.notifier.sent[0].ids)
	assert.True(t, summary.Results[0].Gap)

	cursor, _ := h.cursors.GetCursor(ctx, "u1", "0xaaa")
	assert.Equal(t, "T10", cursor)
}

func TestRunCycle_GapRefetchFindsCursor(t *testing.T) {
	h := newHarness(t, activeSub("u1", "0xaaa"))
	h.orch = h.build(t, Options{FetchLimit: 3, GapRefetchLimit: 10})
	ctx := context.Background()
	require.NoError(t, h.cursors.SetCursor(ctx, "u1", "0xaaa", "T2"))
	h.feed.set("0xaaa", "T8", "T7", "T6", "T5", "T4", "T3", "T2", "T1")

	summary, err := h.orch.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, []int{3, 10}, h.feed.limits)
	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, []string{"T8", "T7", "T6", "T5", "T4", "T3"}, h.notifier.sent[0].ids)
	assert.False(t, summary.Results[0].Gap)
}

func TestRunCycle_EmptyFeedLeavesCursor(t *testing.T) {
	h := newHarness(t, activeSub("u1", "0xaaa"))
	ctx := context.Background()
	require.NoError(t, h.cursors.SetCursor(ctx, "u1", "0xaaa", "T3"))
	h.feed.set("0xaaa")

	summary, err := h.orch.RunCycle(ctx)
	require.NoError(t, err)

	assert.Empty(t, summary.Results)
	cursor, _ := h.cursors.GetCursor(ctx, "u1", "0xaaa")
	assert.Equal(t, "T3", cursor)

	// No cursor and empty feed: still no baseline.
	require.NoError(t, h.cursors.DeleteCursor(ctx, "u1", "0xaaa"))
	_, err = h.orch.RunCycle(ctx)
	require.NoError(t, err)
	_, err = h.cursors.GetCursor(ctx, "u1", "0xaaa")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunCycle_ChannelFailureStillAdvances(t *testing.T) {
	h := newHarness(t, activeSub("u1", "0xaaa"))
	h.notifier.delivery = store.Delivery{SMS: false, Email: true}
	ctx := context.Background()
	require.NoError(t, h.cursors.SetCursor(ctx, "u1", "0xaaa", "T1"))
	h.feed.set("0xaaa", "T2", "T1")

	summary, err := h.orch.RunCycle(ctx)
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.False(t, summary.Results[0].SMS)
	assert.True(t, summary.Results[0].Email)

	cursor, _ := h.cursors.GetCursor(ctx, "u1", "0xaaa")
	assert.Equal(t, "T2", cursor)
}

func TestRunCycle_FetchFailureIsolated(t *testing.T) {
	h := newHarness(t, activeSub("u1", "0xaaa", "0xbbb"))
	ctx := context.Background()
	require.NoError(t, h.cursors.SetCursor(ctx, "u1", "0xaaa", "A1"))
	require.NoError(t, h.cursors.SetCursor(ctx, "u1", "0xbbb", "B1"))
	h.feed.errs["0xaaa"] = &ingest.StatusError{StatusCode: 503, Address: "0xaaa"}
	h.feed.set("0xbbb", "B2", "B1")

	summary, err := h.orch.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.WalletsChecked)
	assert.Equal(t, 1, summary.Failures)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, "0xbbb", summary.Results[0].Wallet)

	cursor, _ := h.cursors.GetCursor(ctx, "u1", "0xaaa")
	assert.Equal(t, "A1", cursor, "failed wallet cursor must be untouched")
}

func TestRunCycle_CursorStoreFailureDegradesToBaseline(t *testing.T) {
	h := newHarness(t, activeSub("u1", "0xaaa"))
	h.orch = h.build(t, Options{Cursors: failingCursors{}})
	h.feed.set("0xaaa", "T2", "T1")

	summary, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Empty(t, h.notifier.sent)
	require.Len(t, summary.Results, 1)
	assert.True(t, summary.Results[0].Baseline)
}

func TestRunCycle_LockHeldSkipsPair(t *testing.T) {
	h := newHarness(t, activeSub("u1", "0xaaa"))
	locker := memory.NewLocker()
	h.orch = h.build(t, Options{Locker: locker})
	ctx := context.Background()
	require.NoError(t, h.cursors.SetCursor(ctx, "u1", "0xaaa", "T1"))
	h.feed.set("0xaaa", "T2", "T1")

	release, err := locker.Acquire(ctx, store.LockKey("u1", "0xaaa"), time.Minute)
	require.NoError(t, err)

	summary, err := h.orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, h.notifier.sent)

	release()
	_, err = h.orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Len(t, h.notifier.sent, 1)
}

func TestRunCycle_EligibilityFilter(t *testing.T) {
	expired := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)

	trialing := activeSub("trial", "0xaaa")
	trialing.Status = store.StatusTrialing
	trialing.TrialEndsAt = &future

	lapsed := activeSub("lapsed", "0xaaa")
	lapsed.Status = store.StatusTrialing
	lapsed.TrialEndsAt = &expired

	canceled := activeSub("canceled", "0xaaa")
	canceled.Status = store.StatusCanceled

	silent := activeSub("silent", "0xaaa")
	silent.Phone.Enabled = false
	silent.Email.Enabled = false

	h := newHarness(t, activeSub("active", "0xaaa"), trialing, lapsed, canceled, silent)
	h.feed.set("0xaaa", "T1")

	summary, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.SubscribersChecked)
	var ids []string
	for _, r := range summary.Results {
		ids = append(ids, r.SubscriberID)
	}
	assert.Equal(t, []string{"active", "trial"}, ids)
}

func TestEligible(t *testing.T) {
	sub := activeSub("u1", "0xaaa")
	assert.True(t, Eligible(sub, testNow))

	sub.Wallets = nil
	assert.False(t, Eligible(sub, testNow))

	sub = activeSub("u1", "0xaaa")
	sub.Status = store.StatusPastDue
	assert.False(t, Eligible(sub, testNow))

	sub.Status = store.StatusTrialing
	assert.True(t, Eligible(sub, testNow), "trial without end date is open")

	sub = activeSub("u1", "0xaaa")
	sub.Email.Enabled = false
	assert.True(t, Eligible(sub, testNow), "one usable channel is enough")
}

func TestRunForSubscriber(t *testing.T) {
	canceled := activeSub("u2", "0xbbb")
	canceled.Status = store.StatusCanceled

	h := newHarness(t, activeSub("u1", "0xaaa"), canceled)
	ctx := context.Background()
	require.NoError(t, h.cursors.SetCursor(ctx, "u1", "0xaaa", "T1"))
	h.feed.set("0xaaa", "T2", "T1")

	summary, err := h.orch.RunForSubscriber(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.SubscribersChecked)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, 1, summary.Results[0].NewTrades)

	_, err = h.orch.RunForSubscriber(ctx, "u2")
	assert.ErrorIs(t, err, ErrNotEligible)

	_, err = h.orch.RunForSubscriber(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunCycle_SubscribersIndependentOnSharedWallet(t *testing.T) {
	h := newHarness(t, activeSub("u1", "0xaaa"), activeSub("u2", "0xAAA"))
	ctx := context.Background()
	require.NoError(t, h.cursors.SetCursor(ctx, "u1", "0xaaa", "T1"))
	h.feed.set("0xaaa", "T2", "T1")

	summary, err := h.orch.RunCycle(ctx)
	require.NoError(t, err)

	require.Len(t, summary.Results, 2)
	assert.Equal(t, 1, summary.Results[0].NewTrades)
	assert.True(t, summary.Results[1].Baseline)
	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, "u1", h.notifier.sent[0].subscriber)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

// blockingFeed holds every fetch until the cycle budget runs out.
type blockingFeed struct{ calls atomic.Int32 }

func (b *blockingFeed) FetchActivity(ctx context.Context, _ string, _ ingest.FetchOptions) ([]store.Trade, error) {
	b.calls.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

// slowNotifier returns only after the cycle deadline has passed.
type slowNotifier struct{ inner *fakeNotifier }

func (n *slowNotifier) Dispatch(ctx context.Context, sub store.Subscriber, trades []store.Trade) store.Delivery {
	<-ctx.Done()
	return n.inner.Dispatch(ctx, sub, trades)
}

func TestRunCycle_BudgetExpirySkipsRemainingPairs(t *testing.T) {
	h := newHarness(t, activeSub("u1", "0xaaa", "0xbbb", "0xccc"))
	ctx := context.Background()
	for _, w := range []string{"0xaaa", "0xbbb", "0xccc"} {
		require.NoError(t, h.cursors.SetCursor(ctx, "u1", w, "T1"))
	}

	feed := &blockingFeed{}
	orch := h.build(t, Options{Fetcher: feed, Concurrency: 1, CycleTimeout: 20 * time.Millisecond})

	summary, err := orch.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(1), feed.calls.Load())
	assert.Equal(t, 3, summary.WalletsChecked)
	assert.Equal(t, 1, summary.Failures)
	assert.Equal(t, 2, summary.Skipped)
	assert.Empty(t, summary.Results)
	assert.Empty(t, h.notifier.sent)

	for _, w := range []string{"0xaaa", "0xbbb", "0xccc"} {
		cursor, err := h.cursors.GetCursor(ctx, "u1", w)
		require.NoError(t, err)
		assert.Equal(t, "T1", cursor, "cursor for %s", w)
	}
}

func TestRunCycle_CursorAdvancesWhenDeadlinePassesDuringDispatch(t *testing.T) {
	h := newHarness(t, activeSub("u1", "0xaaa"))
	ctx := context.Background()
	require.NoError(t, h.cursors.SetCursor(ctx, "u1", "0xaaa", "T3"))
	h.feed.set("0xaaa", "T5", "T4", "T3")

	orch := h.build(t, Options{
		Notifier:     &slowNotifier{inner: h.notifier},
		CycleTimeout: 20 * time.Millisecond,
	})

	summary, err := orch.RunCycle(ctx)
	require.NoError(t, err)

	require.Len(t, h.notifier.sent, 1)
	assert.Equal(t, []string{"T5", "T4"}, h.notifier.sent[0].ids)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, 2, summary.Results[0].NewTrades)

	cursor, err := h.cursors.GetCursor(ctx, "u1", "0xaaa")
	require.NoError(t, err)
	assert.Equal(t, "T5", cursor)

	// Next cycle sees nothing new.
	_, err = h.orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Len(t, h.notifier.sent, 1)
}

func TestRunCycle_SiblingFillLeavingWindowKeepsCursor(t *testing.T) {
	const (
		fillA = `{"transactionHash":"0xtx1","timestamp":1700000000,"side":"BUY","outcome":"Yes","price":0.4,"size":10,"title":"M"}`
		fillB = `{"transactionHash":"0xtx1","timestamp":1700000000,"side":"BUY","outcome":"Yes","price":0.41,"size":5,"title":"M"}`
		fillN = `{"transactionHash":"0xtx2","timestamp":1700000100,"side":"SELL","outcome":"No","price":0.5,"size":1,"title":"M"}`
	)

	var mu sync.Mutex
	body := "[" + fillA + "," + fillB + "]"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	h := newHarness(t, activeSub("u1", "0xaaa"))
	orch := h.build(t, Options{
		Fetcher:    ingest.NewActivityClient(ingest.ClientConfig{BaseURL: srv.URL}),
		FetchLimit: 2,
	})
	ctx := context.Background()

	summary, err := orch.RunCycle(ctx)
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	require.True(t, summary.Results[0].Baseline)

	mu.Lock()
	body = "[" + fillN + "," + fillA + "]"
	mu.Unlock()

	summary, err = orch.RunCycle(ctx)
	require.NoError(t, err)

	require.Len(t, h.notifier.sent, 1)
	require.Len(t, h.notifier.sent[0].ids, 1)
	assert.Contains(t, h.notifier.sent[0].ids[0], "0xtx2-")
	require.Len(t, summary.Results, 1)
	assert.False(t, summary.Results[0].Gap)
	assert.Equal(t, 1, summary.Results[0].NewTrades)
}
