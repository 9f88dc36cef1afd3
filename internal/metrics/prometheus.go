package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors holds the Prometheus metrics exported by the engine.
type Collectors struct {
	// Cycle metrics
	CyclesTotal        *prometheus.CounterVec
	CycleDuration      prometheus.Histogram
	LastCycleTimestamp prometheus.Gauge
	WalletsChecked     prometheus.Counter

	// Feed metrics
	FetchDuration prometheus.Histogram
	FetchErrors   prometheus.Counter

	// Detection metrics
	NewTrades prometheus.Counter
	Baselines prometheus.Counter
	Gaps      prometheus.Counter

	// Delivery metrics
	Notifications *prometheus.CounterVec

	// Coordination metrics
	LockSkips    prometheus.Counter
	CursorErrors *prometheus.CounterVec
}

// NewCollectors creates the collectors and registers them with reg.
func NewCollectors(namespace string, reg prometheus.Registerer) *Collectors {
	if namespace == "" {
		namespace = "polytrax"
	}
	factory := promauto.With(reg)

	return &Collectors{
		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "runs_total",
			Help:      "Total number of polling cycles by outcome",
		}, []string{"outcome"}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of polling cycles",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
		}),
		LastCycleTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "last_completed_timestamp_seconds",
			Help:      "Unix timestamp of the last completed cycle",
		}),
		WalletsChecked: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "wallets_checked_total",
			Help:      "Total number of (subscriber, wallet) pairs checked",
		}),

		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "fetch_duration_seconds",
			Help:      "Latency of activity feed requests",
			Buckets:   prometheus.DefBuckets,
		}),
		FetchErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "fetch_errors_total",
			Help:      "Total number of failed activity feed requests",
		}),

		NewTrades: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "new_trades_total",
			Help:      "Total number of trades detected as new",
		}),
		Baselines: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "baselines_total",
			Help:      "Total number of first observations that seeded a cursor",
		}),
		Gaps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "gaps_total",
			Help:      "Total number of windows where the cursor was not found",
		}),

		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "messages_total",
			Help:      "Total number of notification attempts by channel and result",
		}, []string{"channel", "result"}),

		LockSkips: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "lock_skips_total",
			Help:      "Total number of pairs skipped because another cycle held the lease",
		}),
		CursorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "cursor_errors_total",
			Help:      "Total number of cursor store errors by operation",
		}, []string{"op"}),
	}
}

// Handler returns the Prometheus HTTP handler for the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a Prometheus HTTP handler for a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
