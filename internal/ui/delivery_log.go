package ui

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/polytrax/engine/internal/notify"
	"github.com/polytrax/engine/internal/store"
)

// DeliveryLogView lists dispatched batches with their per-channel outcome.
type DeliveryLogView struct {
	list     *tview.List
	alerts   []store.Alert
	maxItems int
}

// NewDeliveryLogView creates a new delivery log view.
func NewDeliveryLogView() *DeliveryLogView {
	list := tview.NewList().
		ShowSecondaryText(true)

	list.SetTitle(" Deliveries ").SetBorder(true)

	return &DeliveryLogView{
		list:     list,
		alerts:   make([]store.Alert, 0, 50),
		maxItems: 50,
	}
}

// Widget returns the tview primitive.
func (v *DeliveryLogView) Widget() tview.Primitive {
	return v.list
}

// AddAlert adds a dispatched batch to the top of the log.
func (v *DeliveryLogView) AddAlert(alert store.Alert) {
	v.alerts = append([]store.Alert{alert}, v.alerts...)

	if len(v.alerts) > v.maxItems {
		v.alerts = v.alerts[:v.maxItems]
	}

	v.rebuildList()
}

// Refresh redraws the list.
func (v *DeliveryLogView) Refresh() {
	v.rebuildList()
}

func (v *DeliveryLogView) rebuildList() {
	v.list.Clear()

	if len(v.alerts) == 0 {
		v.list.AddItem("No notifications sent yet", "", 0, nil)
		return
	}

	for _, alert := range v.alerts {
		mainText, secondaryText := formatDelivery(alert)
		v.list.AddItem(mainText, secondaryText, 0, nil)
	}

	v.list.SetTitle(fmt.Sprintf(" Deliveries (%d) ", len(v.alerts)))
}

// formatDelivery renders one alert as list text.
func formatDelivery(alert store.Alert) (string, string) {
	trades := "trade"
	if len(alert.Trades) != 1 {
		trades = "trades"
	}

	mainText := fmt.Sprintf("%s %s %s (%d %s)",
		alert.SentAt.Format("15:04:05"),
		alert.SubscriberID,
		notify.ShortenAddress(alert.Wallet),
		len(alert.Trades), trades)

	secondaryText := fmt.Sprintf("SMS: %s | Email: %s",
		deliveryState(alert.Delivery.SMS), deliveryState(alert.Delivery.Email))
	if alert.Gap {
		secondaryText += " | gap"
	}

	return mainText, secondaryText
}

func deliveryState(ok bool) string {
	if ok {
		return "sent"
	}
	return "-"
}
