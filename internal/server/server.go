// Package server exposes the polling engine over HTTP: the scheduler
// trigger, the single-subscriber check and a few operator endpoints.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/polytrax/engine/internal/ingest"
	"github.com/polytrax/engine/internal/metrics"
	"github.com/polytrax/engine/internal/orchestrator"
	"github.com/polytrax/engine/internal/store"
)

const (
	// SubscriberHeader carries the subscriber id resolved by the auth collaborator.
	SubscriberHeader = "X-Subscriber-ID"

	defaultTradesLimit = ingest.DefaultLimit
	maxTradesLimit     = 500
	maxTradesWallets   = 20
	shutdownTimeout    = 5 * time.Second
)

// CycleRunner runs polling cycles.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*store.CycleSummary, error)
	RunForSubscriber(ctx context.Context, subscriberID string) (*store.CycleSummary, error)
}

// TradeFeed returns the merged activity of several wallets.
type TradeFeed interface {
	FetchMultiple(ctx context.Context, addresses []string, opts ingest.FetchOptions) []store.Trade
}

// TestSender sends a sample notification over one channel.
type TestSender interface {
	SendTest(ctx context.Context, channel store.Channel, to string) error
}

// Options configures a Server.
type Options struct {
	Addr       string
	CronSecret string

	Runner   CycleRunner
	Feed     TradeFeed
	Notifier TestSender
	Cursors  store.CursorStore
	Tracker  *metrics.MetricsTracker

	// Metrics serves /metrics. Defaults to the Prometheus default gatherer.
	Metrics http.Handler
}

// Server hosts the engine's HTTP surface.
type Server struct {
	opts       Options
	httpServer *http.Server
}

// New creates a new Server.
func New(opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Handler()
	}
	return &Server{opts: opts}
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("http_server_started", "addr", s.opts.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		slog.Info("http_server_stopped")
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler builds the gin router.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(s.opts.Metrics))

	api := router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/trades", s.handleTrades)
	api.POST("/check-trades", s.handleCheckTrades)

	cron := api.Group("", s.requireCronSecret)
	cron.GET("/cron/poll-trades", s.handlePollTrades)
	cron.POST("/cron/poll-trades", s.handlePollTrades)
	cron.POST("/test-notification", s.handleTestNotification)
	cron.DELETE("/cursors/:subscriber/:wallet", s.handleDeleteCursor)

	return router
}

// requireCronSecret accepts "Authorization: Bearer <CRON_SECRET>".
func (s *Server) requireCronSecret(c *gin.Context) {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || s.opts.CronSecret == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.CronSecret)) != 1 {
		slog.Warn("unauthorized_request", "path", c.FullPath(), "remote", c.ClientIP())
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.Next()
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handlePollTrades(c *gin.Context) {
	summary, err := s.opts.Runner.RunCycle(c.Request.Context())
	if err != nil {
		slog.Error("cycle_failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to poll trades"})
		return
	}
	c.JSON(http.StatusOK, cycleResponse(summary))
}

func (s *Server) handleCheckTrades(c *gin.Context) {
	id := strings.TrimSpace(c.GetHeader(SubscriberHeader))
	if id == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	summary, err := s.opts.Runner.RunForSubscriber(c.Request.Context(), id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, cycleResponse(summary))
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Subscriber not found"})
	case errors.Is(err, orchestrator.ErrNotEligible):
		c.JSON(http.StatusForbidden, gin.H{"error": "Active subscription required"})
	default:
		slog.Error("check_trades_failed", "subscriber", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check trades"})
	}
}

func (s *Server) handleTrades(c *gin.Context) {
	var wallets []string
	for _, w := range strings.Split(c.Query("wallets"), ",") {
		if w = store.NormalizeAddress(w); w != "" {
			wallets = append(wallets, w)
		}
	}
	if len(wallets) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallets parameter is required"})
		return
	}
	if len(wallets) > maxTradesWallets {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("at most %d wallets per request", maxTradesWallets)})
		return
	}

	limit := defaultTradesLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxTradesLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	trades := s.opts.Feed.FetchMultiple(c.Request.Context(), wallets, ingest.FetchOptions{Limit: limit})
	if trades == nil {
		trades = []store.Trade{}
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

type testNotificationRequest struct {
	Type string `json:"type" binding:"required"`
	To   string `json:"to" binding:"required"`
}

func (s *Server) handleTestNotification(c *gin.Context) {
	var req testNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type and to are required"})
		return
	}

	channel := store.Channel(strings.ToLower(req.Type))
	err := s.opts.Notifier.SendTest(c.Request.Context(), channel, req.To)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "type": channel})
	case errors.Is(err, store.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		slog.Error("test_notification_failed", "type", channel, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send test notification"})
	}
}

func (s *Server) handleDeleteCursor(c *gin.Context) {
	sub, wallet := c.Param("subscriber"), c.Param("wallet")
	err := s.opts.Cursors.DeleteCursor(c.Request.Context(), sub, wallet)
	switch {
	case err == nil:
		slog.Info("cursor_deleted", "subscriber", sub, "wallet", store.NormalizeAddress(wallet))
		c.Status(http.StatusNoContent)
	case errors.Is(err, store.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		slog.Error("cursor_delete_failed", "subscriber", sub, "wallet", wallet, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete cursor"})
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.opts.Tracker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tracker not configured"})
		return
	}
	snap := s.opts.Tracker.Snapshot()

	channels := gin.H{}
	for ch, stats := range snap.Channels {
		channels[string(ch)] = gin.H{"sent": stats.Sent, "failed": stats.Failed}
	}

	resp := gin.H{
		"uptimeSeconds":  int64(snap.Uptime.Seconds()),
		"cyclesTotal":    snap.CyclesTotal,
		"cycleErrors":    snap.CycleErrors,
		"walletsChecked": snap.WalletsChecked,
		"tradesNotified": snap.TradesNotified,
		"baselines":      snap.Baselines,
		"gaps":           snap.Gaps,
		"fetchFailures":  snap.FetchFailures,
		"lockSkips":      snap.LockSkips,
		"cursorErrors":   snap.CursorErrors,
		"channels":       channels,
		"alertRate":      snap.AlertRate,
	}
	if snap.LastCycle != nil {
		resp["lastCycle"] = snap.LastCycle
		resp["lastCycleAt"] = snap.LastCycleAt.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

func cycleResponse(summary *store.CycleSummary) gin.H {
	results := summary.Results
	if results == nil {
		results = []store.WalletResult{}
	}
	return gin.H{
		"success":            true,
		"cycleId":            summary.CycleID,
		"subscribersChecked": summary.SubscribersChecked,
		"walletsChecked":     summary.WalletsChecked,
		"notificationsSent":  summary.NotificationCount(),
		"failures":           summary.Failures,
		"skipped":            summary.Skipped,
		"durationMs":         summary.DurationMs,
		"results":            results,
	}
}
