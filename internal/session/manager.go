// Package session owns the persisted state machine for one trading
// session: workflow stage, stage history, trade ledger, approvals and
// strategy artifacts, stored as a single JSON document per session.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tradoai/agentguard/internal/broker"
	"github.com/tradoai/agentguard/internal/guarderr"
	"github.com/tradoai/agentguard/internal/monitoring"
)

// Manager owns at most one session document at a time. Mutations are
// serialized internally and durable once the call returns: every mutating
// method rewrites the full document before unlocking.
//
// Concurrent managers on the same session id are unsupported; no file
// locking is provided.
type Manager struct {
	dir    string
	logger zerolog.Logger

	mu    sync.Mutex
	state *State
}

// NewManager creates a session manager rooted at dir, creating the
// directory if needed.
func NewManager(dir string, logger zerolog.Logger) (*Manager, error) {
	// MkdirAll succeeds when the directory already exists, which also
	// absorbs creation races between processes.
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, guarderr.WrapIO(err, "session", "create_dir")
	}
	return &Manager{dir: dir, logger: logger}, nil
}

// sessionPath validates id and builds the document path, re-verifying
// that the resolved path stays strictly inside the session directory.
func (m *Manager) sessionPath(id string) (string, error) {
	if err := ValidateSessionID(id); err != nil {
		return "", err
	}

	path := filepath.Join(m.dir, id+".json")
	absDir, err := filepath.Abs(m.dir)
	if err != nil {
		return "", guarderr.WrapIO(err, "session", "resolve_path")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", guarderr.WrapIO(err, "session", "resolve_path")
	}
	if !strings.HasPrefix(absPath, absDir+string(os.PathSeparator)) {
		return "", guarderr.NewSecurity("session", "resolve_path",
			fmt.Sprintf("session id %q resolves outside the session directory", id))
	}
	return path, nil
}

// CreateSession initializes a new session document and persists it.
func (m *Manager) CreateSession() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	m.state = newState(id)
	if err := m.save(); err != nil {
		m.state = nil
		return "", err
	}

	m.logger.Info().Str("session_id", id).Msg("session created")
	return id, nil
}

// LoadSession reads and validates an existing session document.
func (m *Manager) LoadSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, err := m.sessionPath(id)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return guarderr.NewNotFound("session", "load", fmt.Sprintf("session %q does not exist", id))
	}
	if err != nil {
		return guarderr.WrapIO(err, "session", "load")
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return guarderr.NewValidation("session", "load",
			fmt.Sprintf("session %q: document is not valid JSON: %v", id, err))
	}
	if err := validateState(id, &st); err != nil {
		return err
	}

	m.state = &st
	m.logger.Debug().Str("session_id", id).Str("stage", string(st.CurrentStage)).Msg("session loaded")
	return nil
}

// Save rewrites the full session document. Idempotent.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.loaded("save"); err != nil {
		return err
	}
	return m.save()
}

// save rewrites the document via a temp file and atomic rename.
// Callers must hold m.mu.
func (m *Manager) save() error {
	m.state.UpdatedAt = time.Now().UTC()

	path, err := m.sessionPath(m.state.SessionID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return guarderr.NewValidation("session", "save",
			fmt.Sprintf("session %q: cannot marshal document: %v", m.state.SessionID, err))
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return guarderr.WrapIO(err, "session", "save")
	}
	if err := os.Rename(tmp, path); err != nil {
		return guarderr.WrapIO(err, "session", "save")
	}
	return nil
}

func (m *Manager) loaded(op string) (*State, error) {
	if m.state == nil {
		return nil, guarderr.NewValidation("session", op, "no session loaded")
	}
	return m.state, nil
}

// TransitionStage moves the stage pointer, appending an audit record
// before persisting. Any known stage is accepted, forward or backward.
func (m *Manager) TransitionStage(to Stage, reason string, triggeredBy TriggerSource) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.loaded("transition_stage")
	if err != nil {
		return err
	}
	if !to.Valid() {
		return guarderr.NewValidation("session", "transition_stage",
			fmt.Sprintf("session %q: unknown stage %q", st.SessionID, to))
	}
	if !triggeredBy.Valid() {
		return guarderr.NewValidation("session", "transition_stage",
			fmt.Sprintf("session %q: unknown trigger source %q", st.SessionID, triggeredBy))
	}

	transition := StageTransition{
		FromStage:   st.CurrentStage,
		ToStage:     to,
		Timestamp:   time.Now().UTC(),
		Reason:      reason,
		TriggeredBy: triggeredBy,
	}
	st.StageHistory = append(st.StageHistory, transition)
	st.CurrentStage = to

	if err := m.save(); err != nil {
		return err
	}

	monitoring.RecordStageTransition(string(to))
	m.logger.Info().
		Str("session_id", st.SessionID).
		Str("from", string(transition.FromStage)).
		Str("to", string(to)).
		Str("triggered_by", string(triggeredBy)).
		Str("reason", reason).
		Msg("stage transition")
	return nil
}

// UpdateAgentSession records the agent-runtime session id for an agent.
func (m *Manager) UpdateAgentSession(agent, agentSessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.loaded("update_agent_session")
	if err != nil {
		return err
	}
	st.AgentSessionIDs[agent] = agentSessionID
	return m.save()
}

// GetAgentSession returns the recorded agent-runtime session id.
func (m *Manager) GetAgentSession(agent string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return "", false
	}
	id, ok := m.state.AgentSessionIDs[agent]
	return id, ok
}

// SetActiveStrategy stores the promoted strategy document.
func (m *Manager) SetActiveStrategy(strategy map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.loaded("set_active_strategy")
	if err != nil {
		return err
	}
	st.ActiveStrategy = strategy
	return m.save()
}

// SetStrategyDraft stores the in-progress strategy draft.
func (m *Manager) SetStrategyDraft(draft map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.loaded("set_strategy_draft")
	if err != nil {
		return err
	}
	st.StrategyDraft = draft
	return m.save()
}

// SetActiveBacktest records the backtest run the session is waiting on.
func (m *Manager) SetActiveBacktest(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.loaded("set_active_backtest")
	if err != nil {
		return err
	}
	st.ActiveBacktestRunID = runID
	return m.save()
}

// SetBacktestResults stores the finished backtest summary.
func (m *Manager) SetBacktestResults(results map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.loaded("set_backtest_results")
	if err != nil {
		return err
	}
	st.BacktestResults = results
	return m.save()
}

// AddDiscoveryInsight appends one discovery-stage finding.
func (m *Manager) AddDiscoveryInsight(insight map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.loaded("add_discovery_insight")
	if err != nil {
		return err
	}
	st.DiscoveryInsights = append(st.DiscoveryInsights, insight)
	return m.save()
}

// AddAnalysisResult appends one analysis-stage finding.
func (m *Manager) AddAnalysisResult(result map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.loaded("add_analysis_result")
	if err != nil {
		return err
	}
	st.AnalysisResults = append(st.AnalysisResults, result)
	return m.save()
}

// AddPendingTrade appends a trade awaiting execution to the ledger.
func (m *Manager) AddPendingTrade(trade TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.loaded("add_pending_trade")
	if err != nil {
		return err
	}
	if trade.RequestedAt.IsZero() {
		trade.RequestedAt = time.Now().UTC()
	}
	st.PendingTrades = append(st.PendingTrades, trade)
	return m.save()
}

// ExecuteTrade moves the pending trade at index into the executed ledger
// with its execution result, in a single persisted step.
func (m *Manager) ExecuteTrade(index int, result map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.loaded("execute_trade")
	if err != nil {
		return err
	}
	if index < 0 || index >= len(st.PendingTrades) {
		return guarderr.NewNotFound("session", "execute_trade",
			fmt.Sprintf("session %q: no pending trade at index %d", st.SessionID, index))
	}

	trade := st.PendingTrades[index]
	now := time.Now().UTC()
	trade.ExecutedAt = &now
	trade.Result = result

	st.PendingTrades = append(st.PendingTrades[:index], st.PendingTrades[index+1:]...)
	st.ExecutedTrades = append(st.ExecutedTrades, trade)
	return m.save()
}

// UpdatePositions replaces the session's position snapshot.
func (m *Manager) UpdatePositions(positions []broker.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.loaded("update_positions")
	if err != nil {
		return err
	}
	if positions == nil {
		positions = make([]broker.Position, 0)
	}
	st.CurrentPositions = positions
	return m.save()
}

// AddApprovalRequest opens a new pending approval gate and returns its id.
func (m *Manager) AddApprovalRequest(reqType string, payload map[string]interface{}) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.loaded("add_approval_request")
	if err != nil {
		return "", err
	}

	req := ApprovalRequest{
		RequestID:   uuid.NewString(),
		Type:        reqType,
		Status:      ApprovalPending,
		RequestedAt: time.Now().UTC(),
		Payload:     payload,
	}
	st.PendingApprovals = append(st.PendingApprovals, req)
	if err := m.save(); err != nil {
		return "", err
	}
	return req.RequestID, nil
}

// RespondToApproval resolves a pending approval exactly once. Unknown ids
// fail NotFound; already-resolved requests fail Validation so the status
// can never flip twice.
func (m *Manager) RespondToApproval(id string, approved bool, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.loaded("respond_to_approval")
	if err != nil {
		return err
	}

	for i := range st.PendingApprovals {
		req := &st.PendingApprovals[i]
		if req.RequestID != id {
			continue
		}
		if req.Status != ApprovalPending {
			return guarderr.NewValidation("session", "respond_to_approval",
				fmt.Sprintf("session %q: approval %q already %s", st.SessionID, id, req.Status))
		}
		now := time.Now().UTC()
		if approved {
			req.Status = ApprovalApproved
		} else {
			req.Status = ApprovalRejected
		}
		req.RespondedAt = &now
		req.Reason = reason
		return m.save()
	}

	return guarderr.NewNotFound("session", "respond_to_approval",
		fmt.Sprintf("session %q: unknown approval request %q", st.SessionID, id))
}

// Snapshot returns a copy of the loaded session document safe to read
// without holding the manager's lock.
func (m *Manager) Snapshot() (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.loaded("snapshot")
	if err != nil {
		return nil, err
	}

	// Copies must stay empty rather than nil so the document keeps
	// marshaling absent collections as [] instead of null.
	cp := *st
	cp.StageHistory = copySlice(st.StageHistory)
	cp.PendingTrades = copySlice(st.PendingTrades)
	cp.ExecutedTrades = copySlice(st.ExecutedTrades)
	cp.CurrentPositions = copySlice(st.CurrentPositions)
	cp.PendingApprovals = copySlice(st.PendingApprovals)
	cp.DiscoveryInsights = copySlice(st.DiscoveryInsights)
	cp.AnalysisResults = copySlice(st.AnalysisResults)
	cp.AgentSessionIDs = make(map[string]string, len(st.AgentSessionIDs))
	for k, v := range st.AgentSessionIDs {
		cp.AgentSessionIDs[k] = v
	}
	return &cp, nil
}

func copySlice[T any](src []T) []T {
	dst := make([]T, len(src))
	copy(dst, src)
	return dst
}

// ListSessions returns the ids of all session documents in the directory.
func (m *Manager) ListSessions() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, guarderr.WrapIO(err, "session", "list")
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if ValidateSessionID(id) != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// DeleteSession removes a session document from disk.
func (m *Manager) DeleteSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, err := m.sessionPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); os.IsNotExist(err) {
		return guarderr.NewNotFound("session", "delete", fmt.Sprintf("session %q does not exist", id))
	} else if err != nil {
		return guarderr.WrapIO(err, "session", "delete")
	}

	if m.state != nil && m.state.SessionID == id {
		m.state = nil
	}
	m.logger.Info().Str("session_id", id).Msg("session deleted")
	return nil
}
