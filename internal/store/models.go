// Package store provides data models and storage interfaces.
package store

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide maps a provider side string to a Side. Anything that is not
// SELL is treated as BUY, matching the feed's default.
func ParseSide(s string) Side {
	if strings.EqualFold(strings.TrimSpace(s), string(SideSell)) {
		return SideSell
	}
	return SideBuy
}

// Verb returns "bought" or "sold".
func (s Side) Verb() string {
	if s == SideSell {
		return "sold"
	}
	return "bought"
}

// Activity types reported by the feed.
const (
	ActivityTrade      = "TRADE"
	ActivitySplit      = "SPLIT"
	ActivityMerge      = "MERGE"
	ActivityRedeem     = "REDEEM"
	ActivityReward     = "REWARD"
	ActivityConversion = "CONVERSION"
)

// Trade represents a single market action by a tracked wallet.
// Trades are immutable once normalized.
type Trade struct {
	// ID is provider-assigned, or synthesized from transaction hash and raw timestamp
	ID string `json:"id"`

	// Wallet is the lowercase proxy wallet address
	Wallet string `json:"proxyWallet"`

	ConditionID string `json:"conditionId"`
	Type        string `json:"type"`

	// MarketTitle falls back to "Unknown Market"
	MarketTitle string `json:"title"`
	Slug        string `json:"slug"`
	EventSlug   string `json:"eventSlug"`

	Outcome string `json:"outcome"`
	Side    Side   `json:"side"`

	Price    decimal.Decimal `json:"price"`
	USDCSize decimal.Decimal `json:"usdcSize"`
	Size     decimal.Decimal `json:"size"`

	Timestamp       time.Time `json:"timestamp"`
	TransactionHash string    `json:"transactionHash"`
}

// SubscriptionStatus mirrors the billing collaborator's status values.
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "ACTIVE"
	StatusTrialing SubscriptionStatus = "TRIALING"
	StatusPastDue  SubscriptionStatus = "PAST_DUE"
	StatusCanceled SubscriptionStatus = "CANCELED"
	StatusNone     SubscriptionStatus = "NONE"
)

// Channel identifies a notification channel.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// Contact is one deliverable address for a channel.
type Contact struct {
	Address string `json:"address" yaml:"address"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// Usable reports whether the contact can receive notifications.
func (c Contact) Usable() bool {
	return c.Enabled && strings.TrimSpace(c.Address) != ""
}

// Subscriber is a user with tracked wallets and contact channels,
// as supplied by the auth and billing collaborators.
type Subscriber struct {
	ID          string             `json:"id" yaml:"id"`
	Status      SubscriptionStatus `json:"subscriptionStatus" yaml:"status"`
	TrialEndsAt *time.Time         `json:"trialEndDate,omitempty" yaml:"trialEndsAt,omitempty"`
	Wallets     []string           `json:"wallets" yaml:"wallets"`
	Phone       Contact            `json:"phone" yaml:"phone"`
	Email       Contact            `json:"email" yaml:"email"`
}

// HasChannel reports whether at least one channel is usable.
func (s *Subscriber) HasChannel() bool {
	return s.Phone.Usable() || s.Email.Usable()
}

// Delivery reports per-channel outcome of one dispatch.
type Delivery struct {
	SMS   bool `json:"notifiedSMS"`
	Email bool `json:"notifiedEmail"`
}

// WalletResult is the outcome for one (subscriber, wallet) pair in a cycle.
type WalletResult struct {
	SubscriberID string `json:"subscriberId"`
	Wallet       string `json:"wallet"`
	NewTrades    int    `json:"newTrades"`
	Baseline     bool   `json:"baseline,omitempty"`
	Gap          bool   `json:"gap,omitempty"`
	Delivery
}

// CycleSummary is returned by a polling cycle.
type CycleSummary struct {
	CycleID            string         `json:"cycleId"`
	StartedAt          time.Time      `json:"startedAt"`
	DurationMs         int64          `json:"durationMs"`
	SubscribersChecked int            `json:"subscribersChecked"`
	WalletsChecked     int            `json:"walletsChecked"`
	Failures           int            `json:"failures"`
	Skipped            int            `json:"skipped"`
	Results            []WalletResult `json:"results"`
}

// NotificationCount returns the number of successful channel deliveries.
func (c *CycleSummary) NotificationCount() int {
	n := 0
	for _, r := range c.Results {
		if r.SMS {
			n++
		}
		if r.Email {
			n++
		}
	}
	return n
}

// Alert is emitted for every dispatched batch so observers (the operator
// console) can follow deliveries.
type Alert struct {
	CycleID      string
	SubscriberID string
	Wallet       string
	Trades       []Trade
	Gap          bool
	Delivery     Delivery
	SentAt       time.Time
}

// NormalizeAddress lowercases and trims a wallet address.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
