package monitor

import (
	"fmt"
	"time"

	"github.com/tradoai/agentguard/internal/broker"
)

// AlertType names the kinds of position alerts.
type AlertType string

const (
	AlertPositionOpened     AlertType = "position_opened"
	AlertPositionClosed     AlertType = "position_closed"
	AlertLiquidationWarning AlertType = "liquidation_warning"
	AlertPnlChange          AlertType = "pnl_change"

	// Stop and take-profit triggers fire on the exchange side; these
	// types exist for subscribers of broker-originated events and are
	// never raised by the poll loop.
	AlertStopLoss   AlertType = "stop_loss"
	AlertTakeProfit AlertType = "take_profit"
)

// Alert is an ephemeral position event. Alerts are dispatched to
// subscribers and optionally forwarded to the notification channel, but
// never persisted.
type Alert struct {
	Type      AlertType              `json:"type"`
	Symbol    string                 `json:"symbol"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Handler consumes one alert. A panicking handler is recovered and must
// not stop delivery to other subscribers.
type Handler func(Alert)

func openedAlert(pos broker.Position) Alert {
	return Alert{
		Type:   AlertPositionOpened,
		Symbol: pos.Symbol,
		Message: fmt.Sprintf("position opened: %s %s %.4f @ %.2f",
			pos.Symbol, pos.Side, pos.Quantity, pos.EntryPrice),
		Data: map[string]interface{}{
			"side":        pos.Side,
			"quantity":    pos.Quantity,
			"entry_price": pos.EntryPrice,
			"leverage":    pos.Leverage,
		},
		Timestamp: time.Now().UTC(),
	}
}

func closedAlert(last broker.Position) Alert {
	return Alert{
		Type:   AlertPositionClosed,
		Symbol: last.Symbol,
		Message: fmt.Sprintf("position closed: %s (last known P&L %.2f)",
			last.Symbol, last.UnrealizedPnl),
		Data: map[string]interface{}{
			"side":           last.Side,
			"quantity":       last.Quantity,
			"entry_price":    last.EntryPrice,
			"unrealized_pnl": last.UnrealizedPnl,
		},
		Timestamp: time.Now().UTC(),
	}
}

func liquidationAlert(pos broker.Position, proximityPct float64) Alert {
	return Alert{
		Type:   AlertLiquidationWarning,
		Symbol: pos.Symbol,
		Message: fmt.Sprintf("liquidation warning: %s price %.2f is %.2f%% from liquidation at %.2f",
			pos.Symbol, pos.CurrentPrice, proximityPct, pos.LiquidationPrice),
		Data: map[string]interface{}{
			"current_price":     pos.CurrentPrice,
			"liquidation_price": pos.LiquidationPrice,
			"proximity_pct":     proximityPct,
			"leverage":          pos.Leverage,
		},
		Timestamp: time.Now().UTC(),
	}
}

func pnlChangeAlert(pos broker.Position, lastPnl, changePct float64) Alert {
	direction := "increased"
	if pos.UnrealizedPnl < lastPnl {
		direction = "decreased"
	}
	return Alert{
		Type:   AlertPnlChange,
		Symbol: pos.Symbol,
		Message: fmt.Sprintf("P&L for %s %s by %.2f%% (from %.2f to %.2f)",
			pos.Symbol, direction, changePct, lastPnl, pos.UnrealizedPnl),
		Data: map[string]interface{}{
			"previous_pnl": lastPnl,
			"current_pnl":  pos.UnrealizedPnl,
			"change_pct":   changePct,
			"direction":    direction,
		},
		Timestamp: time.Now().UTC(),
	}
}

func alertLevel(t AlertType) string {
	switch t {
	case AlertLiquidationWarning:
		return "error"
	case AlertPnlChange, AlertPositionClosed:
		return "warning"
	default:
		return "info"
	}
}
