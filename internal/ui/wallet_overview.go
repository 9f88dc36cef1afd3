package ui

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/polytrax/engine/internal/metrics"
	"github.com/polytrax/engine/internal/notify"
)

var walletOverviewHeaders = []string{"Wallet", "Trades", "Volume", "Subs", "Gaps", "Updated"}

// WalletOverviewView displays the most active tracked wallets.
type WalletOverviewView struct {
	table *tview.Table
}

// NewWalletOverviewView creates a new wallet overview view.
func NewWalletOverviewView() *WalletOverviewView {
	table := tview.NewTable().
		SetBorders(false).
		SetFixed(1, 0)

	table.SetTitle(" Wallet Overview ").SetBorder(true)

	v := &WalletOverviewView{table: table}
	v.setHeader()
	return v
}

// Widget returns the tview primitive.
func (v *WalletOverviewView) Widget() tview.Primitive {
	return v.table
}

func (v *WalletOverviewView) setHeader() {
	for col, header := range walletOverviewHeaders {
		cell := tview.NewTableCell(header).
			SetTextColor(tview.Styles.SecondaryTextColor).
			SetAlign(tview.AlignLeft).
			SetSelectable(false).
			SetExpansion(1)
		v.table.SetCell(0, col, cell)
	}
}

// Update refreshes the view with new metrics data.
func (v *WalletOverviewView) Update(snapshot metrics.MetricsSnapshot) {
	v.table.Clear()
	v.setHeader()

	for i, w := range snapshot.TopWallets(10) {
		cells := []string{
			notify.ShortenAddress(w.Wallet),
			fmt.Sprintf("%d", w.TradeCount),
			fmt.Sprintf("$%.0f", w.Volume),
			fmt.Sprintf("%d", w.Subscribers),
			fmt.Sprintf("%d", w.Gaps),
			formatTimeAgo(w.LastUpdate),
		}

		for col, text := range cells {
			cell := tview.NewTableCell(text).
				SetAlign(tview.AlignLeft).
				SetExpansion(1)
			v.table.SetCell(i+1, col, cell)
		}
	}

	v.table.SetTitle(fmt.Sprintf(" Wallet Overview (%d active) ", len(snapshot.WalletActivities)))
}
