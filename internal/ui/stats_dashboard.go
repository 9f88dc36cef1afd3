package ui

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/polytrax/engine/internal/metrics"
	"github.com/polytrax/engine/internal/store"
)

// CycleStatsView displays engine health and delivery totals.
type CycleStatsView struct {
	textView *tview.TextView
}

// NewCycleStatsView creates a new cycle stats view.
func NewCycleStatsView() *CycleStatsView {
	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(false)

	textView.SetTitle(" Stats Dashboard ").SetBorder(true)

	return &CycleStatsView{
		textView: textView,
	}
}

// Widget returns the tview primitive.
func (v *CycleStatsView) Widget() tview.Primitive {
	return v.textView
}

// Update refreshes the stats display.
func (v *CycleStatsView) Update(snapshot metrics.MetricsSnapshot) {
	v.textView.Clear()
	fmt.Fprint(v.textView, formatStats(snapshot))
}

func formatStats(snapshot metrics.MetricsSnapshot) string {
	lastColor := "green"
	if snapshot.LastCycleAt.IsZero() {
		lastColor = "red"
	}

	lastDuration := "-"
	if snapshot.LastCycle != nil {
		lastDuration = fmt.Sprintf("%dms", snapshot.LastCycle.DurationMs)
	}

	sms := snapshot.Channels[store.ChannelSMS]
	email := snapshot.Channels[store.ChannelEmail]

	return fmt.Sprintf(`[yellow]System Status[-]
Uptime: %s
Last Cycle: [%s]%s[-] (%s)
Cycles: %d (%d errors)

[yellow]Detection[-]
Wallets Checked: %d
Trades Notified: %d
Baselines: %d
Gaps: %d
Rate: %.2f trades/min

[yellow]Delivery[-]
SMS: %d sent, %d failed
Email: %d sent, %d failed

[yellow]Errors[-]
Fetch: %d  Cursor: %d  Lock Skips: %d
`,
		formatDuration(snapshot.Uptime),
		lastColor, formatTimeAgo(snapshot.LastCycleAt), lastDuration,
		snapshot.CyclesTotal, snapshot.CycleErrors,
		snapshot.WalletsChecked,
		snapshot.TradesNotified,
		snapshot.Baselines,
		snapshot.Gaps,
		snapshot.AlertRate,
		sms.Sent, sms.Failed,
		email.Sent, email.Failed,
		snapshot.FetchFailures, snapshot.CursorErrors, snapshot.LockSkips,
	)
}

// formatDuration formats a duration in human-readable form.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// formatTimeAgo formats a time as "X ago".
func formatTimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	elapsed := time.Since(t)

	if elapsed < time.Minute {
		return fmt.Sprintf("%.0fs ago", elapsed.Seconds())
	}
	if elapsed < time.Hour {
		return fmt.Sprintf("%.0fm ago", elapsed.Minutes())
	}
	if elapsed < 24*time.Hour {
		return fmt.Sprintf("%.0fh ago", elapsed.Hours())
	}
	return fmt.Sprintf("%.0fd ago", elapsed.Hours()/24)
}
