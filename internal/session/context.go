package session

import (
	"fmt"

	"github.com/tradoai/agentguard/internal/guarderr"
)

// ContextForStage returns the stage-specific projection of session state
// used by the caller to build prompts. Every projection carries the
// session id and the current stage; the rest depends on what the stage
// needs to see.
func (m *Manager) ContextForStage(stage Stage) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.loaded("context_for_stage")
	if err != nil {
		return nil, err
	}
	if !stage.Valid() {
		return nil, guarderr.NewValidation("session", "context_for_stage",
			fmt.Sprintf("session %q: unknown stage %q", st.SessionID, stage))
	}

	ctx := map[string]interface{}{
		"session_id":    st.SessionID,
		"current_stage": string(st.CurrentStage),
	}

	switch stage {
	case StageDiscovery:
		ctx["discovery_insights"] = st.DiscoveryInsights

	case StageStrategyBuild:
		ctx["discovery_insights"] = st.DiscoveryInsights
		ctx["strategy_draft"] = st.StrategyDraft
		ctx["active_strategy"] = st.ActiveStrategy

	case StageBacktest:
		ctx["active_strategy"] = st.ActiveStrategy
		ctx["strategy_draft"] = st.StrategyDraft
		ctx["active_backtest_run_id"] = st.ActiveBacktestRunID
		ctx["backtest_results"] = st.BacktestResults

	case StageAnalysis:
		ctx["backtest_results"] = st.BacktestResults
		ctx["analysis_results"] = st.AnalysisResults

	case StageExecution, StagePaperTrading:
		ctx["active_strategy"] = st.ActiveStrategy
		ctx["pending_trades"] = st.PendingTrades
		ctx["current_positions"] = st.CurrentPositions
		ctx["pending_approvals"] = pendingOnly(st.PendingApprovals)

	case StageReview:
		ctx["executed_trades"] = st.ExecutedTrades
		ctx["analysis_results"] = st.AnalysisResults
		ctx["stage_history"] = st.StageHistory
	}

	return ctx, nil
}

func pendingOnly(approvals []ApprovalRequest) []ApprovalRequest {
	pending := make([]ApprovalRequest, 0, len(approvals))
	for _, ap := range approvals {
		if ap.Status == ApprovalPending {
			pending = append(pending, ap)
		}
	}
	return pending
}
