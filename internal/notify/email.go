package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/polytrax/engine/internal/store"
)

// EmailSender delivers one HTML email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, html string) error
}

type emailRow struct {
	Title   string
	Side    store.Side
	Outcome string
	Price   string
	Amount  string
	URL     string
	Buy     bool
}

type emailData struct {
	Brand  string
	Wallet string
	Rows   []emailRow
}

var emailTemplate = template.Must(template.New("alert").Parse(`<!DOCTYPE html>
<html>
  <head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
  </head>
  <body style="margin: 0; padding: 0; background-color: #0a0a0a; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;">
    <div style="max-width: 600px; margin: 0 auto; background-color: #141414;">
      <div style="padding: 20px; border-bottom: 1px solid #262626;">
        <h1 style="margin: 0; color: #fafafa; font-size: 16px; font-weight: 500;">{{.Brand}} Trade Alert</h1>
      </div>
      <div style="padding: 0 20px;">
{{- range .Rows}}
{{- $color := "#ef4444"}}{{if .Buy}}{{$color = "#22c55e"}}{{end}}
        <div style="padding: 16px 0; border-bottom: 1px solid #262626;">
          <span style="color: {{$color}}; font-size: 20px;">{{if .Buy}}↑{{else}}↓{{end}}</span>
          <p style="margin: 0 0 8px 0; color: #fafafa; font-size: 14px;">{{.Title}}</p>
          <p style="margin: 0 0 8px 0; color: #a3a3a3; font-size: 12px;">
            <span style="color: {{$color}}; font-weight: 500;">{{.Side}}</span> {{.Outcome}} @ ${{.Price}}
          </p>
          <a href="{{.URL}}" style="color: #3b82f6; font-size: 12px; text-decoration: none;">View on Polymarket →</a>
          <p style="margin: 0; color: {{$color}}; font-family: monospace; font-size: 14px; text-align: right;">{{if .Buy}}+{{else}}-{{end}}{{.Amount}}</p>
        </div>
{{- end}}
      </div>
      <div style="padding: 20px; color: #a3a3a3; font-size: 12px;">
        <p style="margin: 0;">Wallet: <span style="font-family: monospace;">{{.Wallet}}</span></p>
      </div>
    </div>
  </body>
</html>
`))

// FormatEmail renders all trades, newest first, into one message. The
// subject names the single trade or the count.
func FormatEmail(brand, baseURL string, trades []store.Trade) (subject, html string, err error) {
	if len(trades) == 0 {
		return "", "", fmt.Errorf("format email: no trades")
	}

	first := trades[0]
	wallet := ShortenAddress(first.Wallet)
	if len(trades) == 1 {
		subject = fmt.Sprintf("%s %s %s", wallet, first.Side.Verb(), first.Outcome)
	} else {
		subject = fmt.Sprintf("%d new trades from %s", len(trades), wallet)
	}

	data := emailData{
		Brand:  brand,
		Wallet: first.Wallet,
		Rows:   make([]emailRow, 0, len(trades)),
	}
	for _, t := range trades {
		data.Rows = append(data.Rows, emailRow{
			Title:   t.MarketTitle,
			Side:    t.Side,
			Outcome: t.Outcome,
			Price:   FormatPrice(t.Price),
			Amount:  FormatUSD(t.USDCSize),
			URL:     MarketURL(baseURL, t.EventSlug, t.Slug, t.MarketTitle),
			Buy:     t.Side != store.SideSell,
		})
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("render email: %w", err)
	}
	return subject, buf.String(), nil
}
