package notify

import "strings"

// NormalizePhone returns an E.164 number. Numbers already starting with +
// keep their country code; anything else gets +{countryCode}.
func NormalizePhone(raw, countryCode string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	digits := digitsOnly(raw)
	if digits == "" {
		return ""
	}
	if strings.HasPrefix(raw, "+") {
		return "+" + digits
	}

	cc := digitsOnly(countryCode)
	if cc == "" {
		cc = "1"
	}
	return "+" + cc + digits
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
