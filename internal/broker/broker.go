// Package broker defines the position-feed collaborator consumed by the
// position monitor and session ledger.
package broker

import "context"

// Position is a point-in-time view of one open position.
type Position struct {
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"` // "Buy" / "Sell"
	Quantity         float64 `json:"quantity"`
	EntryPrice       float64 `json:"entry_price"`
	CurrentPrice     float64 `json:"current_price"`
	LiquidationPrice float64 `json:"liquidation_price"`
	UnrealizedPnl    float64 `json:"unrealized_pnl"`
	Leverage         float64 `json:"leverage"`
}

// Broker supplies the complete current position set, never a delta.
type Broker interface {
	GetPositions(ctx context.Context) ([]Position, error)
}
