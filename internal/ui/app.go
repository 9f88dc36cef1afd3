// Package ui provides terminal user interface components.
package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/polytrax/engine/internal/metrics"
	"github.com/polytrax/engine/internal/store"
)

// App is the operator console.
type App struct {
	app    *tview.Application
	layout *tview.Flex

	// Views
	walletOverview *WalletOverviewView
	deliveryLog    *DeliveryLogView
	alertFeed      *AlertFeedView
	cycleStats     *CycleStatsView
	lastCycle      *LastCycleView

	// Data sources
	alertChan      <-chan store.Alert
	metricsTracker *metrics.MetricsTracker
	refreshRate    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates a new TUI application.
func NewApp(alertChan <-chan store.Alert, tracker *metrics.MetricsTracker, refreshRate time.Duration) *App {
	ctx, cancel := context.WithCancel(context.Background())

	if refreshRate <= 0 {
		refreshRate = 500 * time.Millisecond
	}

	app := &App{
		app:            tview.NewApplication(),
		alertChan:      alertChan,
		metricsTracker: tracker,
		refreshRate:    refreshRate,
		ctx:            ctx,
		cancel:         cancel,
	}

	app.walletOverview = NewWalletOverviewView()
	app.deliveryLog = NewDeliveryLogView()
	app.alertFeed = NewAlertFeedView()
	app.cycleStats = NewCycleStatsView()
	app.lastCycle = NewLastCycleView()

	app.setupLayout()
	app.setupKeyboard()

	return app
}

// setupLayout creates the 5-panel layout.
func (a *App) setupLayout() {
	// Top row: Wallet Overview (left) | Delivery Log (right)
	topRow := tview.NewFlex().
		AddItem(a.walletOverview.Widget(), 0, 1, false).
		AddItem(a.deliveryLog.Widget(), 0, 2, false)

	middleRow := a.alertFeed.Widget()

	// Bottom row: Cycle Stats (left) | Last Cycle (right)
	bottomRow := tview.NewFlex().
		AddItem(a.cycleStats.Widget(), 0, 1, false).
		AddItem(a.lastCycle.Widget(), 0, 1, false)

	a.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(topRow, 0, 2, false).
		AddItem(middleRow, 0, 3, false).
		AddItem(bottomRow, 0, 2, false)

	a.app.SetRoot(a.layout, true)
}

// setupKeyboard configures keyboard shortcuts.
func (a *App) setupKeyboard() {
	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			a.Stop()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q', 'Q':
				a.Stop()
				return nil
			case 'r', 'R':
				a.refresh()
				return nil
			}
		}
		return event
	})
}

// Run starts the TUI application (blocking).
func (a *App) Run() error {
	go a.processAlerts()
	go a.updateLoop()

	if err := a.app.Run(); err != nil {
		return fmt.Errorf("app run failed: %w", err)
	}

	return nil
}

// Stop gracefully stops the application.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

// processAlerts reads dispatched batches and feeds the alert views.
func (a *App) processAlerts() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case alert, ok := <-a.alertChan:
			if !ok {
				return
			}

			a.app.QueueUpdateDraw(func() {
				a.alertFeed.AddAlert(alert)
				a.deliveryLog.AddAlert(alert)
			})
		}
	}
}

// updateLoop periodically refreshes views with metrics data.
func (a *App) updateLoop() {
	ticker := time.NewTicker(a.refreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			snapshot := a.metricsTracker.Snapshot()

			a.app.QueueUpdateDraw(func() {
				a.cycleStats.Update(snapshot)
				a.lastCycle.Update(snapshot)
				a.walletOverview.Update(snapshot)
			})
		}
	}
}

// refresh manually refreshes all views.
func (a *App) refresh() {
	snapshot := a.metricsTracker.Snapshot()

	a.app.QueueUpdateDraw(func() {
		a.walletOverview.Update(snapshot)
		a.deliveryLog.Refresh()
		a.alertFeed.Refresh()
		a.cycleStats.Update(snapshot)
		a.lastCycle.Update(snapshot)
	})
}
