// Package notify formats trade alerts and delivers them over SMS and email.
package notify

import (
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultMarketBaseURL is the public Polymarket site.
const DefaultMarketBaseURL = "https://polymarket.com"

var usdPrinter = message.NewPrinter(language.English)

// ShortenAddress renders 0x1234...abcd.
func ShortenAddress(addr string) string {
	if addr == "" {
		return ""
	}
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// FormatUSD renders an amount as $1,234.56.
func FormatUSD(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	return sign + "$" + usdPrinter.Sprintf("%.2f", d.Round(2).InexactFloat64())
}

// FormatPrice renders a share price with two decimals.
func FormatPrice(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// MarketURL links to the market detail page, preferring event and market
// slugs and falling back to a title search.
func MarketURL(baseURL, eventSlug, slug, title string) string {
	if baseURL == "" {
		baseURL = DefaultMarketBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	switch {
	case eventSlug != "" && slug != "":
		return baseURL + "/event/" + url.PathEscape(eventSlug) + "/" + url.PathEscape(slug)
	case eventSlug != "":
		return baseURL + "/event/" + url.PathEscape(eventSlug)
	case slug != "":
		return baseURL + "/event/" + url.PathEscape(slug)
	case title != "":
		q := strings.ReplaceAll(url.QueryEscape(truncateRunes(title, 50)), "+", "%20")
		return baseURL + "/search?query=" + q
	default:
		return baseURL
	}
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// ellipsize cuts s to at most n runes, ending with "..." when cut.
func ellipsize(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return strings.Repeat(".", max(n, 0))
	}
	return truncateRunes(s, n-3) + "..."
}
