package notify

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/polytrax/engine/internal/store"
)

const (
	// SMSMaxLength is the single-segment target for an alert.
	SMSMaxLength = 160
	// smsTitleMax caps the market line even when the budget allows more.
	smsTitleMax = 60
)

// SMSSender delivers a text message to an E.164 number.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// FormatSMS voices a single trade:
//
//	{brand}: 0x1234...abcd bought Yes @ $0.42 ($1,250.00)
//	Will it rain tomorrow?
//
// The market line is shortened so the whole message fits SMSMaxLength.
func FormatSMS(brand string, t store.Trade) string {
	header := fmt.Sprintf("%s %s %s @ $%s (%s)",
		ShortenAddress(t.Wallet),
		t.Side.Verb(),
		t.Outcome,
		FormatPrice(t.Price),
		FormatUSD(t.USDCSize),
	)
	if brand != "" {
		header = brand + ": " + header
	}

	budget := SMSMaxLength - utf8.RuneCountInString(header) - 1
	if budget < 4 {
		// No room for a useful market line.
		return ellipsize(header, SMSMaxLength)
	}

	return header + "\n" + ellipsize(t.MarketTitle, min(budget, smsTitleMax))
}
