package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polytrax/engine/internal/store"
)

// ErrChannelUnavailable is returned when no sender is wired for a channel.
var ErrChannelUnavailable = errors.New("channel unavailable")

// Options configures a Dispatcher.
type Options struct {
	SMS   SMSSender
	Email EmailSender

	Brand              string
	MarketBaseURL      string
	DefaultCountryCode string
}

// Dispatcher sends one message per enabled channel per batch. Channels are
// attempted independently; a failed channel is reported, never raised.
type Dispatcher struct {
	sms         SMSSender
	email       EmailSender
	brand       string
	baseURL     string
	countryCode string
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.MarketBaseURL == "" {
		opts.MarketBaseURL = DefaultMarketBaseURL
	}
	if opts.DefaultCountryCode == "" {
		opts.DefaultCountryCode = "1"
	}
	return &Dispatcher{
		sms:         opts.SMS,
		email:       opts.Email,
		brand:       opts.Brand,
		baseURL:     opts.MarketBaseURL,
		countryCode: opts.DefaultCountryCode,
	}
}

// Dispatch notifies sub about trades (most recent first). SMS carries only
// the newest trade; email carries all of them.
func (d *Dispatcher) Dispatch(ctx context.Context, sub store.Subscriber, trades []store.Trade) store.Delivery {
	var delivery store.Delivery
	if len(trades) == 0 {
		return delivery
	}

	if sub.Phone.Usable() {
		if err := d.sendSMS(ctx, sub.Phone.Address, trades[0]); err != nil {
			slog.Warn("sms_delivery_failed",
				"subscriber", sub.ID,
				"wallet", trades[0].Wallet,
				"error", err,
			)
		} else {
			delivery.SMS = true
		}
	}

	if sub.Email.Usable() {
		if err := d.sendEmail(ctx, sub.Email.Address, trades); err != nil {
			slog.Warn("email_delivery_failed",
				"subscriber", sub.ID,
				"wallet", trades[0].Wallet,
				"error", err,
			)
		} else {
			delivery.Email = true
		}
	}

	return delivery
}

// SendTest delivers a fixed sample trade over one channel.
func (d *Dispatcher) SendTest(ctx context.Context, channel store.Channel, to string) error {
	sample := SampleTrade(time.Now())
	switch channel {
	case store.ChannelSMS:
		return d.sendSMS(ctx, to, sample)
	case store.ChannelEmail:
		return d.sendEmail(ctx, to, []store.Trade{sample})
	default:
		return fmt.Errorf("unknown channel %q: %w", channel, store.ErrInvalidInput)
	}
}

func (d *Dispatcher) sendSMS(ctx context.Context, to string, t store.Trade) error {
	if d.sms == nil {
		return ErrChannelUnavailable
	}
	phone := NormalizePhone(to, d.countryCode)
	if phone == "" {
		return fmt.Errorf("phone %q: %w", to, store.ErrInvalidInput)
	}
	return d.sms.SendSMS(ctx, phone, FormatSMS(d.brand, t))
}

func (d *Dispatcher) sendEmail(ctx context.Context, to string, trades []store.Trade) error {
	if d.email == nil {
		return ErrChannelUnavailable
	}
	subject, html, err := FormatEmail(d.brand, d.baseURL, trades)
	if err != nil {
		return err
	}
	return d.email.SendEmail(ctx, to, subject, html)
}

// SampleTrade is the trade used by test notifications.
func SampleTrade(now time.Time) store.Trade {
	return store.Trade{
		ID:          "test-notification",
		Wallet:      "0x0000000000000000000000000000000000000000",
		Type:        store.ActivityTrade,
		MarketTitle: "Test notification: your alerts are working",
		Outcome:     "Yes",
		Side:        store.SideBuy,
		Price:       decimal.RequireFromString("0.50"),
		USDCSize:    decimal.RequireFromString("100"),
		Size:        decimal.RequireFromString("200"),
		Timestamp:   now,
	}
}
