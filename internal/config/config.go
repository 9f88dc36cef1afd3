// Package config handles loading and validating configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backend names accepted by CURSOR_BACKEND and SUBSCRIBER_SOURCE.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Notification providers accepted by NOTIFY_PROVIDER.
const (
	ProviderLog = "log"
	ProviderAWS = "aws"
)

// Config holds all configuration values for the PolyTrax engine.
type Config struct {
	// Polymarket data API
	DataAPIURL            string
	FetchLimit            int
	FeedRequestsPerSecond float64
	FeedBurst             int
	FeedTimeout           time.Duration

	// Detection
	GapNotifyLimit    int
	GapRefetchLimit   int
	RepeatedGapCount  int
	RepeatedGapWindow time.Duration

	// Cycle
	CycleInterval time.Duration
	CycleTimeout  time.Duration
	WorkerCount   int
	LockTTL       time.Duration

	// HTTP
	HTTPAddr   string
	CronSecret string

	// Storage
	CursorBackend    string
	RedisURL         string
	PostgresDSN      string
	SubscriberSource string
	SubscribersFile  string

	// Notifications
	NotifyProvider     string
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
	EmailFrom          string
	SMSSenderID        string
	AlertBrand         string
	MarketBaseURL      string
	DefaultCountryCode string

	// Metrics
	MetricsNamespace string

	// UI
	EnableTUI     bool
	UIRefreshRate time.Duration

	// Logging
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxAgeDays int
}

// Load reads configuration from environment variables with fallback to .env file.
// Priority order: Environment variables > .env file > hardcoded defaults
func Load() (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		// Polymarket
		DataAPIURL:            strings.TrimRight(getEnv("POLYMARKET_DATA_API_URL", "https://data-api.polymarket.com"), "/"),
		FetchLimit:            getEnvInt("ACTIVITY_FETCH_LIMIT", 10),
		FeedRequestsPerSecond: getEnvFloat("FEED_REQUESTS_PER_SECOND", 5),
		FeedBurst:             getEnvInt("FEED_BURST", 5),
		FeedTimeout:           time.Duration(getEnvInt("FEED_TIMEOUT_SECONDS", 10)) * time.Second,

		// Detection
		GapNotifyLimit:    getEnvInt("GAP_NOTIFY_LIMIT", 5),
		GapRefetchLimit:   getEnvInt("GAP_REFETCH_LIMIT", 0),
		RepeatedGapCount:  getEnvInt("REPEATED_GAP_COUNT", 3),
		RepeatedGapWindow: time.Duration(getEnvInt("REPEATED_GAP_WINDOW_MINUTES", 60)) * time.Minute,

		// Cycle
		CycleInterval: time.Duration(getEnvInt("CYCLE_INTERVAL_SECONDS", 0)) * time.Second,
		CycleTimeout:  time.Duration(getEnvInt("CYCLE_TIMEOUT_SECONDS", 55)) * time.Second,
		WorkerCount:   getEnvInt("WORKER_COUNT", 5),
		LockTTL:       time.Duration(getEnvInt("LOCK_TTL_SECONDS", 120)) * time.Second,

		// HTTP
		HTTPAddr:   getEnv("HTTP_ADDR", ":8080"),
		CronSecret: getEnv("CRON_SECRET", ""),

		// Storage
		CursorBackend:    strings.ToLower(getEnv("CURSOR_BACKEND", BackendMemory)),
		RedisURL:         getEnv("REDIS_URL", ""),
		PostgresDSN:      getEnv("POSTGRES_DSN", ""),
		SubscriberSource: strings.ToLower(getEnv("SUBSCRIBER_SOURCE", BackendMemory)),
		SubscribersFile:  getEnv("SUBSCRIBERS_FILE", ""),

		// Notifications
		NotifyProvider:     strings.ToLower(getEnv("NOTIFY_PROVIDER", ProviderLog)),
		AWSRegion:          getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpoint:        getEnv("AWS_ENDPOINT_URL", ""),
		EmailFrom:          getEnv("EMAIL_FROM", ""),
		SMSSenderID:        getEnv("SMS_SENDER_ID", ""),
		AlertBrand:         getEnv("ALERT_BRAND", "PolyTrax"),
		MarketBaseURL:      strings.TrimRight(getEnv("MARKET_BASE_URL", "https://polymarket.com"), "/"),
		DefaultCountryCode: strings.TrimPrefix(getEnv("DEFAULT_COUNTRY_CODE", "1"), "+"),

		// Metrics
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "polytrax"),

		// UI
		EnableTUI:     getEnvBool("ENABLE_TUI", false),
		UIRefreshRate: time.Duration(getEnvInt("UI_REFRESH_MS", 500)) * time.Millisecond,

		// Logging
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 50),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 14),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set and valid.
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.DataAPIURL); err != nil {
		return fmt.Errorf("POLYMARKET_DATA_API_URL is invalid: %w", err)
	}

	if c.FetchLimit < 1 {
		return fmt.Errorf("ACTIVITY_FETCH_LIMIT must be at least 1")
	}

	if c.GapNotifyLimit < 1 {
		return fmt.Errorf("GAP_NOTIFY_LIMIT must be at least 1")
	}

	if c.GapRefetchLimit < 0 {
		return fmt.Errorf("GAP_REFETCH_LIMIT must not be negative")
	}

	if c.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1")
	}

	if c.CycleTimeout <= 0 {
		return fmt.Errorf("CYCLE_TIMEOUT_SECONDS must be positive")
	}

	if c.LockTTL < c.CycleTimeout {
		return fmt.Errorf("LOCK_TTL_SECONDS must be at least CYCLE_TIMEOUT_SECONDS")
	}

	if c.CycleInterval < 0 {
		return fmt.Errorf("CYCLE_INTERVAL_SECONDS must not be negative")
	}

	if c.HTTPAddr != "" && c.CronSecret == "" {
		return fmt.Errorf("CRON_SECRET is required when HTTP_ADDR is set")
	}

	switch c.CursorBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for CURSOR_BACKEND=redis")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for CURSOR_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("CURSOR_BACKEND must be one of memory, redis, postgres")
	}

	switch c.SubscriberSource {
	case BackendMemory:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for SUBSCRIBER_SOURCE=postgres")
		}
	default:
		return fmt.Errorf("SUBSCRIBER_SOURCE must be one of memory, postgres")
	}

	switch c.NotifyProvider {
	case ProviderLog:
	case ProviderAWS:
		if c.EmailFrom == "" {
			return fmt.Errorf("EMAIL_FROM is required for NOTIFY_PROVIDER=aws")
		}
	default:
		return fmt.Errorf("NOTIFY_PROVIDER must be one of log, aws")
	}

	if _, err := strconv.Atoi(c.DefaultCountryCode); err != nil {
		return fmt.Errorf("DEFAULT_COUNTRY_CODE must be numeric")
	}

	return nil
}

// MaskedCronSecret returns the cron secret with most characters hidden for logging.
func (c *Config) MaskedCronSecret() string {
	return maskSecret(c.CronSecret)
}

// MaskedRedisURL returns the Redis URL with most characters hidden for logging.
func (c *Config) MaskedRedisURL() string {
	return maskSecret(c.RedisURL)
}

// MaskedPostgresDSN returns the DSN with most characters hidden for logging.
func (c *Config) MaskedPostgresDSN() string {
	return maskSecret(c.PostgresDSN)
}

// maskSecret hides all but the first and last 4 characters of a secret.
func maskSecret(s string) string {
	if len(s) <= 8 {
		if len(s) == 0 {
			return "(not set)"
		}
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an environment variable as an integer or returns a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat retrieves an environment variable as a float64 or returns a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// getEnvBool retrieves an environment variable as a boolean or returns a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
