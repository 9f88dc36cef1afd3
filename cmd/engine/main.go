// Package main is the entry point for the PolyTrax wallet alert engine.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/polytrax/engine/internal/config"
	"github.com/polytrax/engine/internal/detector"
	"github.com/polytrax/engine/internal/ingest"
	"github.com/polytrax/engine/internal/metrics"
	"github.com/polytrax/engine/internal/notify"
	"github.com/polytrax/engine/internal/orchestrator"
	"github.com/polytrax/engine/internal/server"
	"github.com/polytrax/engine/internal/store"
	"github.com/polytrax/engine/internal/store/memory"
	"github.com/polytrax/engine/internal/store/postgres"
	"github.com/polytrax/engine/internal/store/redis"
	"github.com/polytrax/engine/internal/ui"
)

const (
	// AlertChannelBuffer is the size of the buffered alert channel feeding the TUI
	AlertChannelBuffer = 100
	// CleanupInterval is how often in-memory trackers drop stale entries
	CleanupInterval = 5 * time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, logFile := setupLogger(cfg)
	slog.SetDefault(logger)
	if logFile != nil {
		defer logFile.Close()
	}

	slog.Info("polytrax starting",
		"version", "1.0.0",
	)

	slog.Info("config_loaded",
		"data_api_url", cfg.DataAPIURL,
		"fetch_limit", cfg.FetchLimit,
		"gap_notify_limit", cfg.GapNotifyLimit,
		"gap_refetch_limit", cfg.GapRefetchLimit,
		"cycle_interval", cfg.CycleInterval,
		"cycle_timeout", cfg.CycleTimeout,
		"worker_count", cfg.WorkerCount,
		"http_addr", cfg.HTTPAddr,
		"cron_secret", cfg.MaskedCronSecret(),
		"cursor_backend", cfg.CursorBackend,
		"subscriber_source", cfg.SubscriberSource,
		"redis_url", cfg.MaskedRedisURL(),
		"postgres_dsn", cfg.MaskedPostgresDSN(),
		"notify_provider", cfg.NotifyProvider,
		"enable_tui", cfg.EnableTUI,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	stores, err := openStores(ctx, cfg)
	if err != nil {
		slog.Error("failed to open stores", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	dispatcher, err := buildDispatcher(ctx, cfg)
	if err != nil {
		slog.Error("failed to configure notifications", "error", err)
		stores.Close()
		os.Exit(1)
	}

	tracker := metrics.NewMetricsTracker(cfg.MetricsNamespace, prometheus.DefaultRegisterer)
	detect := detector.NewDetector(cfg)

	feed := ingest.NewActivityClient(ingest.ClientConfig{
		BaseURL:           cfg.DataAPIURL,
		Timeout:           cfg.FeedTimeout,
		RequestsPerSecond: cfg.FeedRequestsPerSecond,
		Burst:             cfg.FeedBurst,
	})

	// Alerts only flow to the console; without it nobody drains the channel.
	var alertChan chan store.Alert
	if cfg.EnableTUI {
		alertChan = make(chan store.Alert, AlertChannelBuffer)
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Directory:        stores.directory,
		Fetcher:          feed,
		Cursors:          stores.cursors,
		Locker:           stores.locker,
		Notifier:         dispatcher,
		Detector:         detect,
		Tracker:          tracker,
		Alerts:           alertChan,
		FetchLimit:       cfg.FetchLimit,
		GapRefetchLimit:  cfg.GapRefetchLimit,
		RepeatedGapCount: cfg.RepeatedGapCount,
		Concurrency:      cfg.WorkerCount,
		CycleTimeout:     cfg.CycleTimeout,
		LockTTL:          cfg.LockTTL,
	})
	if err != nil {
		slog.Error("failed to create orchestrator", "error", err)
		stores.Close()
		os.Exit(1)
	}

	var wg sync.WaitGroup

	// Periodic cleanup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tracker.Cleanup()
				detect.Cleanup()
				if stores.memLocker != nil {
					stores.memLocker.Cleanup()
				}
			}
		}
	}()

	if cfg.HTTPAddr != "" {
		srv := server.New(server.Options{
			Addr:       cfg.HTTPAddr,
			CronSecret: cfg.CronSecret,
			Runner:     orch,
			Feed:       feed,
			Notifier:   dispatcher,
			Cursors:    stores.cursors,
			Tracker:    tracker,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				slog.Error("http_server_error", "error", err)
				cancel()
			}
		}()
	}

	if cfg.CycleInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runScheduler(ctx, orch, cfg.CycleInterval)
		}()
	}

	slog.Info("engine_started",
		"http_addr", cfg.HTTPAddr,
		"internal_scheduler", cfg.CycleInterval > 0,
		"workers", cfg.WorkerCount,
		"tui_enabled", cfg.EnableTUI,
	)

	if cfg.EnableTUI {
		slog.Info("starting_tui")
		app := ui.NewApp(alertChan, tracker, cfg.UIRefreshRate)

		go func() {
			if err := app.Run(); err != nil {
				slog.Error("tui_error", "error", err)
			}
			cancel()
		}()

		select {
		case sig := <-sigChan:
			slog.Info("shutdown_signal_received", "signal", sig.String())
			app.Stop()
		case <-ctx.Done():
			app.Stop()
		}
	} else {
		select {
		case sig := <-sigChan:
			slog.Info("shutdown_signal_received", "signal", sig.String())
		case <-ctx.Done():
		}
	}

	cancel()

	slog.Info("shutting_down", "status", "waiting for background tasks")
	wg.Wait()

	slog.Info("shutdown_complete")
}

// runScheduler runs a cycle every interval. Cycles never overlap within the
// process; the per-pair lease covers overlap with external triggers.
func runScheduler(ctx context.Context, orch *orchestrator.Orchestrator, interval time.Duration) {
	slog.Info("scheduler_started", "interval", interval)
	defer slog.Info("scheduler_stopped")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := orch.RunCycle(ctx); err != nil {
				slog.Error("scheduled_cycle_failed", "error", err)
			}
		}
	}
}

// backends holds the storage collaborators selected by configuration.
type backends struct {
	cursors   store.CursorStore
	locker    store.Locker
	directory store.SubscriberDirectory
	memLocker *memory.Locker
	closers   []func()
}

// Close releases backend connections. Later calls are no-ops.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

func openStores(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}

	var pool *postgres.Pool
	if cfg.CursorBackend == config.BackendPostgres || cfg.SubscriberSource == config.BackendPostgres {
		p, err := postgres.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, p.Close)
		if err := p.Migrate(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		pool = p
	}

	switch cfg.CursorBackend {
	case config.BackendRedis:
		client, err := redis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = client.Close() })
		b.cursors = redis.NewCursorStore(client)
		b.locker = redis.NewLocker(client)
	case config.BackendPostgres:
		b.cursors = postgres.NewCursorStore(pool)
		b.locker = postgres.NewLocker(pool)
	default:
		b.memLocker = memory.NewLocker()
		b.cursors = memory.NewCursorStore()
		b.locker = b.memLocker
		slog.Warn("memory_cursor_store", "detail", "cursors are lost on restart; first cycle after restart re-baselines")
	}

	switch cfg.SubscriberSource {
	case config.BackendPostgres:
		b.directory = postgres.NewSubscriberDirectory(pool)
	default:
		if cfg.SubscribersFile == "" {
			slog.Warn("no_subscribers_file", "detail", "memory directory starts empty")
			b.directory = memory.NewSubscriberDirectory()
			break
		}
		dir, err := memory.LoadSubscribersFile(cfg.SubscribersFile)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.directory = dir
	}

	return b, nil
}

func buildDispatcher(ctx context.Context, cfg *config.Config) (*notify.Dispatcher, error) {
	opts := notify.Options{
		Brand:              cfg.AlertBrand,
		MarketBaseURL:      cfg.MarketBaseURL,
		DefaultCountryCode: cfg.DefaultCountryCode,
	}

	switch cfg.NotifyProvider {
	case config.ProviderAWS:
		sms, email, err := notify.NewAWSSenders(ctx, notify.AWSConfig{
			Region:          cfg.AWSRegion,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
			Endpoint:        cfg.AWSEndpoint,
			EmailFrom:       cfg.EmailFrom,
			SMSSenderID:     cfg.SMSSenderID,
		})
		if err != nil {
			return nil, err
		}
		opts.SMS, opts.Email = sms, email
	default:
		opts.SMS, opts.Email = notify.LogSender{}, notify.LogSender{}
	}

	return notify.NewDispatcher(opts), nil
}

// setupLogger creates a structured logger with the configured level.
// Format: 2025-01-04 14:32:01 [INFO]  message key=value
// Output goes to stdout unless the TUI owns the terminal, plus LOG_FILE
// through a rotating writer when set.
func setupLogger(cfg *config.Config) (*slog.Logger, io.Closer) {
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format("2006-01-02 15:04:05"))
				}
			}
			return a
		},
	}

	var writers []io.Writer
	if !cfg.EnableTUI {
		writers = append(writers, os.Stdout)
	}

	var file *lumberjack.Logger
	if cfg.LogFile != "" {
		file = &lumberjack.Logger{
			Filename: cfg.LogFile,
			MaxSize:  cfg.LogMaxSizeMB,
			MaxAge:   cfg.LogMaxAgeDays,
			Compress: true,
		}
		writers = append(writers, file)
	}

	var out io.Writer = io.Discard
	if len(writers) > 0 {
		out = io.MultiWriter(writers...)
	}

	handler := slog.NewTextHandler(out, opts)
	if file == nil {
		return slog.New(handler), nil
	}
	return slog.New(handler), file
}
