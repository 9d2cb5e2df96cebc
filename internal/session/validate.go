package session

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tradoai/agentguard/internal/broker"
	"github.com/tradoai/agentguard/internal/guarderr"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateSessionID rejects malformed or path-traversal-bearing session
// ids before any filesystem path is built from them.
func ValidateSessionID(id string) error {
	if id == "" {
		return guarderr.NewSecurity("session", "validate_id", "session id is empty")
	}
	// Traversal sequences are checked explicitly even though the pattern
	// below already excludes them; the two checks are independent layers.
	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return guarderr.NewSecurity("session", "validate_id",
			fmt.Sprintf("session id %q contains path traversal characters", id))
	}
	if !sessionIDPattern.MatchString(id) {
		return guarderr.NewSecurity("session", "validate_id",
			fmt.Sprintf("session id %q does not match ^[A-Za-z0-9_-]+$", id))
	}
	return nil
}

// validateState checks a freshly decoded session document before any of
// its fields are trusted, and normalizes absent collections to empty.
// Validation errors name the session id and the offending field path.
func validateState(id string, st *State) error {
	fail := func(field, msg string) error {
		return guarderr.NewValidation("session", "load",
			fmt.Sprintf("session %q: %s: %s", id, field, msg))
	}

	if st.SessionID == "" {
		return fail("session_id", "missing")
	}
	if st.SessionID != id {
		return fail("session_id", fmt.Sprintf("document id %q does not match file name", st.SessionID))
	}
	if st.CreatedAt.IsZero() {
		return fail("created_at", "missing or unparseable timestamp")
	}
	if st.UpdatedAt.IsZero() {
		return fail("updated_at", "missing or unparseable timestamp")
	}
	if !st.CurrentStage.Valid() {
		return fail("current_stage", fmt.Sprintf("unknown stage %q", st.CurrentStage))
	}

	for i, tr := range st.StageHistory {
		if !tr.FromStage.Valid() {
			return fail(fmt.Sprintf("stage_history[%d].from_stage", i), fmt.Sprintf("unknown stage %q", tr.FromStage))
		}
		if !tr.ToStage.Valid() {
			return fail(fmt.Sprintf("stage_history[%d].to_stage", i), fmt.Sprintf("unknown stage %q", tr.ToStage))
		}
		if !tr.TriggeredBy.Valid() {
			return fail(fmt.Sprintf("stage_history[%d].triggered_by", i), fmt.Sprintf("unknown trigger %q", tr.TriggeredBy))
		}
		if tr.Timestamp.IsZero() {
			return fail(fmt.Sprintf("stage_history[%d].timestamp", i), "missing or unparseable timestamp")
		}
	}

	// The stage pointer must agree with the last recorded transition.
	if n := len(st.StageHistory); n > 0 {
		if last := st.StageHistory[n-1].ToStage; last != st.CurrentStage {
			return fail("current_stage",
				fmt.Sprintf("stage %q disagrees with last transition target %q", st.CurrentStage, last))
		}
	}

	for i, ap := range st.PendingApprovals {
		if ap.RequestID == "" {
			return fail(fmt.Sprintf("pending_approvals[%d].request_id", i), "missing")
		}
		if !ap.Status.Valid() {
			return fail(fmt.Sprintf("pending_approvals[%d].status", i), fmt.Sprintf("unknown status %q", ap.Status))
		}
		if ap.Status != ApprovalPending && ap.RespondedAt == nil {
			return fail(fmt.Sprintf("pending_approvals[%d].responded_at", i), "terminal approval missing response time")
		}
	}

	// Missing array and map fields default to empty rather than nil.
	if st.StageHistory == nil {
		st.StageHistory = make([]StageTransition, 0)
	}
	if st.AgentSessionIDs == nil {
		st.AgentSessionIDs = make(map[string]string)
	}
	if st.PendingTrades == nil {
		st.PendingTrades = make([]TradeRecord, 0)
	}
	if st.ExecutedTrades == nil {
		st.ExecutedTrades = make([]TradeRecord, 0)
	}
	if st.CurrentPositions == nil {
		st.CurrentPositions = make([]broker.Position, 0)
	}
	if st.PendingApprovals == nil {
		st.PendingApprovals = make([]ApprovalRequest, 0)
	}
	if st.DiscoveryInsights == nil {
		st.DiscoveryInsights = make([]map[string]interface{}, 0)
	}
	if st.AnalysisResults == nil {
		st.AnalysisResults = make([]map[string]interface{}, 0)
	}

	return nil
}
