package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polytrax/engine/internal/store"
)

// DefaultMarketTitle is used when an item carries no title-like field.
const DefaultMarketTitle = "Unknown Market"

// secondsThreshold separates Unix seconds from Unix milliseconds.
const secondsThreshold = 10_000_000_000

// NormalizeItems converts raw feed items into trades, preserving feed order.
// Malformed fields fall back to defaults; an item is never dropped.
// now is substituted for missing timestamps.
func NormalizeItems(raw []map[string]any, address string, now time.Time) []store.Trade {
	trades := make([]store.Trade, 0, len(raw))
	synthesized := make([]bool, 0, len(raw))

	for _, item := range raw {
		t, synth := normalizeItem(item, address, now)
		trades = append(trades, t)
		synthesized = append(synthesized, synth)
	}

	disambiguate(trades, synthesized)
	return trades
}

func normalizeItem(item map[string]any, address string, now time.Time) (store.Trade, bool) {
	rawTS := field(item, "timestamp")
	txHash := field(item, "transactionHash")

	id := field(item, "id")
	synthesized := id == ""
	if synthesized {
		id = txHash + "-" + rawTS
	}

	trade := store.Trade{
		ID:              id,
		Wallet:          store.NormalizeAddress(coalesce(field(item, "proxyWallet"), address)),
		ConditionID:     field(item, "conditionId"),
		Type:            coalesce(field(item, "type"), store.ActivityTrade),
		MarketTitle:     coalesce(field(item, "title"), field(item, "market"), field(item, "question"), DefaultMarketTitle),
		Slug:            coalesce(field(item, "slug"), field(item, "marketSlug")),
		EventSlug:       coalesce(field(item, "eventSlug"), field(item, "event")),
		Outcome:         field(item, "outcome"),
		Side:            store.ParseSide(field(item, "side")),
		Price:           parseDecimal(field(item, "price")),
		USDCSize:        parseDecimal(coalesce(field(item, "usdcSize"), field(item, "amount"))),
		Size:            parseDecimal(coalesce(field(item, "size"), field(item, "shares"))),
		Timestamp:       parseTimestamp(item["timestamp"], now),
		TransactionHash: txHash,
	}
	return trade, synthesized
}

// disambiguate suffixes every synthesized id with a content hash. The id must
// not depend on which same-transaction siblings share the window. Items with
// identical content get an ordinal counted from the newest.
func disambiguate(trades []store.Trade, synthesized []bool) {
	seen := make(map[string]int)
	for i := range trades {
		if !synthesized[i] {
			continue
		}
		id := trades[i].ID + "-" + contentHash(trades[i])
		seen[id]++
		if n := seen[id]; n > 1 {
			id = fmt.Sprintf("%s-%d", id, n)
		}
		trades[i].ID = id
	}
}

// contentHash is the first 12 hex chars of SHA256(wallet|side|outcome|price|size|conditionId).
func contentHash(t store.Trade) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%s|%s",
		t.Wallet,
		string(t.Side),
		t.Outcome,
		t.Price.String(),
		t.Size.String(),
		t.ConditionID,
	)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])[:12]
}

// field returns the item's value for key as text, or "" if absent.
func field(item map[string]any, key string) string {
	switch v := item[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// coalesce returns the first non-empty string.
func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseDecimal parses a numeric string, returning zero on error.
func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// parseTimestamp accepts Unix seconds, Unix milliseconds, numeric strings
// and ISO-8601 strings. Anything else yields now.
func parseTimestamp(v any, now time.Time) time.Time {
	switch ts := v.(type) {
	case json.Number:
		if f, err := ts.Float64(); err == nil {
			return fromUnix(f, now)
		}
	case float64:
		return fromUnix(ts, now)
	case string:
		s := strings.TrimSpace(ts)
		if s == "" {
			return now
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromUnix(f, now)
		}
		formats := []string{
			time.RFC3339Nano,
			time.RFC3339,
			"2006-01-02T15:04:05.000Z",
			"2006-01-02T15:04:05",
			"2006-01-02 15:04:05",
		}
		for _, format := range formats {
			if t, err := time.Parse(format, s); err == nil {
				return t.UTC()
			}
		}
	}
	return now
}

func fromUnix(f float64, now time.Time) time.Time {
	if f <= 0 {
		return now
	}
	if f < secondsThreshold {
		f *= 1000
	}
	return time.UnixMilli(int64(f)).UTC()
}
