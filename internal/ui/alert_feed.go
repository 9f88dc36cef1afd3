package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/polytrax/engine/internal/notify"
	"github.com/polytrax/engine/internal/store"
)

var alertFeedHeaders = []string{"Time", "Wallet", "Market", "Side", "Outcome", "Price", "Value"}

// feedRow is one notified trade and the subscriber it went to.
type feedRow struct {
	subscriber string
	trade      store.Trade
}

// AlertFeedView displays a scrolling feed of notified trades.
type AlertFeedView struct {
	table   *tview.Table
	rows    []feedRow
	maxRows int
}

// NewAlertFeedView creates a new alert feed view.
func NewAlertFeedView() *AlertFeedView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)

	table.SetTitle(" Notified Trades ").SetBorder(true)

	v := &AlertFeedView{
		table:   table,
		rows:    make([]feedRow, 0, 100),
		maxRows: 100,
	}
	v.setHeader()
	return v
}

// Widget returns the tview primitive.
func (v *AlertFeedView) Widget() tview.Primitive {
	return v.table
}

// AddAlert prepends the alert's trades, newest first.
func (v *AlertFeedView) AddAlert(alert store.Alert) {
	rows := make([]feedRow, 0, len(alert.Trades)+len(v.rows))
	for _, t := range alert.Trades {
		rows = append(rows, feedRow{subscriber: alert.SubscriberID, trade: t})
	}
	v.rows = append(rows, v.rows...)

	if len(v.rows) > v.maxRows {
		v.rows = v.rows[:v.maxRows]
	}

	v.updateTable()
}

// Refresh redraws the table.
func (v *AlertFeedView) Refresh() {
	v.updateTable()
}

// Len returns the number of rows held.
func (v *AlertFeedView) Len() int {
	return len(v.rows)
}

func (v *AlertFeedView) setHeader() {
	for col, header := range alertFeedHeaders {
		cell := tview.NewTableCell(header).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAlign(tview.AlignLeft).
			SetSelectable(false)
		v.table.SetCell(0, col, cell)
	}
}

func (v *AlertFeedView) updateTable() {
	v.table.Clear()
	v.setHeader()

	for i, r := range v.rows {
		t := r.trade

		sideColor := tcell.ColorGreen
		if t.Side == store.SideSell {
			sideColor = tcell.ColorRed
		}

		cells := []string{
			t.Timestamp.Format("15:04:05"),
			notify.ShortenAddress(t.Wallet),
			truncate(t.MarketTitle, 32),
			string(t.Side),
			truncate(t.Outcome, 12),
			"$" + notify.FormatPrice(t.Price),
			notify.FormatUSD(t.USDCSize),
		}

		for col, text := range cells {
			cell := tview.NewTableCell(text).SetAlign(tview.AlignLeft)
			if col == 3 {
				cell.SetTextColor(sideColor)
			}
			v.table.SetCell(i+1, col, cell)
		}
	}

	v.table.SetTitle(fmt.Sprintf(" Notified Trades (%d) ", len(v.rows)))
}

// truncate shortens s to max runes with a trailing "...".
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
