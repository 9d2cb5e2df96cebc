package risk

// ActionKind identifies what a proposed action does with funds. The
// caller builds a typed request per kind instead of passing loose
// parameter bags.
type ActionKind string

const (
	ActionPlaceOrder        ActionKind = "place_order"
	ActionClosePosition     ActionKind = "close_position"
	ActionCloseAllPositions ActionKind = "close_all_positions"
	ActionTransferFunds     ActionKind = "transfer_funds"
	ActionOther             ActionKind = "other"
)

// ActionRequest describes a proposed action submitted for gating.
// Symbol, Size and Price are meaningful for order-like kinds only.
type ActionRequest struct {
	Kind     ActionKind
	Symbol   string
	Size     float64
	Price    float64
	Leverage float64
}

// ActionOutcome reports what actually happened after an approved action
// was executed by the broker.
type ActionOutcome struct {
	Success     bool
	RealizedPnl float64
}

// CheckResult is the verdict for one gated action. Rejection is a
// routine, expected outcome, never an error: Reason carries the
// triggering value and the configured limit.
type CheckResult struct {
	Allowed  bool
	Reason   string
	Warnings []string
}

// Metrics is a point-in-time snapshot of risk state and limits.
type Metrics struct {
	DailyLoss          float64 `json:"daily_loss"`
	MaxDailyLossUsd    float64 `json:"max_daily_loss_usd"`
	OpenPositions      int     `json:"open_positions"`
	MaxOpenPositions   int     `json:"max_open_positions"`
	MaxPositionSizeUsd float64 `json:"max_position_size_usd"`
	LastResetDate      string  `json:"last_reset_date"`
}

// HighRiskFunc classifies which action kinds are gated. Supplied by the
// caller and treated as opaque.
type HighRiskFunc func(kind ActionKind) bool

// DefaultHighRisk gates every kind that can move funds or change
// position exposure.
func DefaultHighRisk(kind ActionKind) bool {
	switch kind {
	case ActionPlaceOrder, ActionClosePosition, ActionCloseAllPositions, ActionTransferFunds:
		return true
	}
	return false
}
