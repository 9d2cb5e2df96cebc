package session

import (
	"time"

	"github.com/tradoai/agentguard/internal/broker"
)

// Stage is a named phase of a trading session. Stages form a known total
// order but the current stage may move in either direction.
type Stage string

const (
	StageDiscovery     Stage = "discovery"
	StageStrategyBuild Stage = "strategy_build"
	StageBacktest      Stage = "backtest"
	StageAnalysis      Stage = "analysis"
	StageExecution     Stage = "execution"
	StagePaperTrading  Stage = "paper_trading"
	StageReview        Stage = "review"
)

// StageOrder lists all stages in workflow order.
var StageOrder = []Stage{
	StageDiscovery,
	StageStrategyBuild,
	StageBacktest,
	StageAnalysis,
	StageExecution,
	StagePaperTrading,
	StageReview,
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	for _, known := range StageOrder {
		if s == known {
			return true
		}
	}
	return false
}

// TriggerSource identifies who requested a stage transition.
type TriggerSource string

const (
	TriggerUser   TriggerSource = "user"
	TriggerAgent  TriggerSource = "agent"
	TriggerSystem TriggerSource = "system"
)

// Valid reports whether t is a known trigger source.
func (t TriggerSource) Valid() bool {
	switch t {
	case TriggerUser, TriggerAgent, TriggerSystem:
		return true
	}
	return false
}

// StageTransition records one move of the stage pointer. Immutable once
// appended to the history.
type StageTransition struct {
	FromStage   Stage         `json:"from_stage"`
	ToStage     Stage         `json:"to_stage"`
	Timestamp   time.Time     `json:"timestamp"`
	Reason      string        `json:"reason"`
	TriggeredBy TriggerSource `json:"triggered_by"`
}

// ApprovalStatus tracks the one-shot lifecycle of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Valid reports whether a is a known approval status.
func (a ApprovalStatus) Valid() bool {
	switch a {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

// ApprovalRequest is a human-in-the-loop gate on a proposed action.
type ApprovalRequest struct {
	RequestID   string                 `json:"request_id"`
	Type        string                 `json:"type"`
	Status      ApprovalStatus         `json:"status"`
	RequestedAt time.Time              `json:"requested_at"`
	RespondedAt *time.Time             `json:"responded_at,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// TradeRecord is one entry of the session's trade ledger. A record starts
// in pending_trades and moves to executed_trades exactly once.
type TradeRecord struct {
	Symbol      string                 `json:"symbol"`
	Side        string                 `json:"side"`
	Quantity    float64                `json:"quantity"`
	Price       float64                `json:"price"`
	RequestedAt time.Time              `json:"requested_at"`
	ExecutedAt  *time.Time             `json:"executed_at,omitempty"`
	Result      map[string]interface{} `json:"result,omitempty"`
}

// State is the complete persisted document for one trading session.
type State struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	CurrentStage Stage     `json:"current_stage"`

	StageHistory    []StageTransition `json:"stage_history"`
	AgentSessionIDs map[string]string `json:"agent_session_ids"`

	PendingTrades    []TradeRecord     `json:"pending_trades"`
	ExecutedTrades   []TradeRecord     `json:"executed_trades"`
	CurrentPositions []broker.Position `json:"current_positions"`
	PendingApprovals []ApprovalRequest `json:"pending_approvals"`

	DiscoveryInsights []map[string]interface{} `json:"discovery_insights"`
	AnalysisResults   []map[string]interface{} `json:"analysis_results"`

	ActiveStrategy      map[string]interface{} `json:"active_strategy,omitempty"`
	StrategyDraft       map[string]interface{} `json:"strategy_draft,omitempty"`
	ActiveBacktestRunID string                 `json:"active_backtest_run_id,omitempty"`
	BacktestResults     map[string]interface{} `json:"backtest_results,omitempty"`
}

// newState builds an empty session document at the initial stage.
func newState(id string) *State {
	now := time.Now().UTC()
	return &State{
		SessionID:         id,
		CreatedAt:         now,
		UpdatedAt:         now,
		CurrentStage:      StageDiscovery,
		StageHistory:      make([]StageTransition, 0),
		AgentSessionIDs:   make(map[string]string),
		PendingTrades:     make([]TradeRecord, 0),
		ExecutedTrades:    make([]TradeRecord, 0),
		CurrentPositions:  make([]broker.Position, 0),
		PendingApprovals:  make([]ApprovalRequest, 0),
		DiscoveryInsights: make([]map[string]interface{}, 0),
		AnalysisResults:   make([]map[string]interface{}, 0),
	}
}
