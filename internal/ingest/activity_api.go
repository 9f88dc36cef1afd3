// Package ingest fetches wallet activity from the Polymarket data API.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/polytrax/engine/internal/store"
)

const (
	// DataAPIBaseURL is the Polymarket data API endpoint
	DataAPIBaseURL = "https://data-api.polymarket.com"
	// DefaultLimit is the page size used when none is requested
	DefaultLimit = 50
	// DefaultTimeout bounds a single feed request
	DefaultTimeout = 10 * time.Second
	// MultiFetchConcurrency caps in-flight requests for FetchMultiple
	MultiFetchConcurrency = 5
)

// StatusError is returned when the feed answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Address    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("polymarket api error: %d (user %s)", e.StatusCode, e.Address)
}

// FetchOptions controls the window requested from the feed.
type FetchOptions struct {
	Limit  int
	Offset int
}

// ClientConfig holds ActivityClient settings.
type ClientConfig struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// ActivityClient reads the /activity endpoint. Requests share one rate
// limiter so concurrent wallet checks stay under the feed's quota.
type ActivityClient struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// NewActivityClient creates a new ActivityClient.
func NewActivityClient(cfg ClientConfig) *ActivityClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DataAPIBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &ActivityClient{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

// FetchActivity returns the most recent activity for address, newest first.
func (c *ActivityClient) FetchActivity(ctx context.Context, address string, opts FetchOptions) ([]store.Trade, error) {
	address = store.NormalizeAddress(address)
	if address == "" {
		return nil, store.ErrInvalidInput
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	params := url.Values{}
	params.Set("user", address)
	params.Set("limit", strconv.Itoa(limit))
	if opts.Offset > 0 {
		params.Set("offset", strconv.Itoa(opts.Offset))
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	reqURL := fmt.Sprintf("%s/activity?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Address: address}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}

	return NormalizeItems(raw, address, c.now()), nil
}

// FetchMultiple fetches every address concurrently and merges the results
// newest first. A failing address contributes nothing.
func (c *ActivityClient) FetchMultiple(ctx context.Context, addresses []string, opts FetchOptions) []store.Trade {
	results := make([][]store.Trade, len(addresses))

	var g errgroup.Group
	g.SetLimit(MultiFetchConcurrency)
	for i, addr := range addresses {
		i, addr := i, addr
		g.Go(func() error {
			trades, err := c.FetchActivity(ctx, addr, opts)
			if err != nil {
				slog.Warn("wallet_fetch_failed", "wallet", addr, "error", err)
				return nil
			}
			results[i] = trades
			return nil
		})
	}
	_ = g.Wait()

	var merged []store.Trade
	for _, r := range results {
		merged = append(merged, r...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	return merged
}
