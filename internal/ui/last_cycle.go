package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/polytrax/engine/internal/metrics"
	"github.com/polytrax/engine/internal/notify"
	"github.com/polytrax/engine/internal/store"
)

var lastCycleHeaders = []string{"Subscriber", "Wallet", "New", "SMS", "Email", "Note"}

// LastCycleView shows the per-wallet results of the most recent cycle.
type LastCycleView struct {
	table *tview.Table
}

// NewLastCycleView creates a new last cycle view.
func NewLastCycleView() *LastCycleView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)

	table.SetTitle(" Last Cycle ").SetBorder(true)

	v := &LastCycleView{table: table}
	v.setHeader()
	return v
}

// Widget returns the tview primitive.
func (v *LastCycleView) Widget() tview.Primitive {
	return v.table
}

func (v *LastCycleView) setHeader() {
	for col, header := range lastCycleHeaders {
		cell := tview.NewTableCell(header).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAlign(tview.AlignLeft).
			SetSelectable(false)
		v.table.SetCell(0, col, cell)
	}
}

// Update refreshes the last cycle display.
func (v *LastCycleView) Update(snapshot metrics.MetricsSnapshot) {
	v.table.Clear()
	v.setHeader()

	last := snapshot.LastCycle
	if last == nil || len(last.Results) == 0 {
		cell := tview.NewTableCell("No results yet...").
			SetAlign(tview.AlignCenter).
			SetExpansion(1)
		v.table.SetCell(1, 0, cell)
		if last != nil {
			v.table.SetTitle(fmt.Sprintf(" Last Cycle (%d wallets) ", last.WalletsChecked))
		}
		return
	}

	for i, r := range last.Results {
		row := i + 1

		v.table.SetCell(row, 0, tview.NewTableCell(truncate(r.SubscriberID, 14)))
		v.table.SetCell(row, 1, tview.NewTableCell(notify.ShortenAddress(r.Wallet)))
		v.table.SetCell(row, 2, tview.NewTableCell(fmt.Sprintf("%d", r.NewTrades)).SetAlign(tview.AlignRight))
		v.table.SetCell(row, 3, channelCell(r.NewTrades > 0, r.SMS))
		v.table.SetCell(row, 4, channelCell(r.NewTrades > 0, r.Email))
		v.table.SetCell(row, 5, tview.NewTableCell(resultNote(r)))
	}

	v.table.SetTitle(fmt.Sprintf(" Last Cycle (%d wallets, %d failed, %d skipped) ",
		last.WalletsChecked, last.Failures, last.Skipped))
}

func channelCell(dispatched, ok bool) *tview.TableCell {
	if !dispatched {
		return tview.NewTableCell("")
	}
	if ok {
		return tview.NewTableCell("ok").SetTextColor(tcell.ColorGreen)
	}
	return tview.NewTableCell("fail").SetTextColor(tcell.ColorRed)
}

func resultNote(r store.WalletResult) string {
	switch {
	case r.Baseline:
		return "baseline"
	case r.Gap:
		return "gap"
	default:
		return ""
	}
}
