package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradoai/agentguard/internal/broker"
	"github.com/tradoai/agentguard/internal/guarderr"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return m
}

// TestCreateAndLoadSession_RoundTrip persists a session and reads it back intact
func TestCreateAndLoadSession_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, zerolog.Nop())
	require.NoError(t, err)

	id, err := m.CreateSession()
	require.NoError(t, err)
	require.NoError(t, m.TransitionStage(StageStrategyBuild, "research done", TriggerUser))
	require.NoError(t, m.AddDiscoveryInsight(map[string]interface{}{"theme": "momentum"}))
	require.NoError(t, m.AddPendingTrade(TradeRecord{Symbol: "BTCUSDT", Side: "Buy", Quantity: 0.5, Price: 42000}))

	// A fresh manager over the same directory sees the identical document.
	m2, err := NewManager(dir, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, m2.LoadSession(id))

	st, err := m2.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, id, st.SessionID)
	assert.Equal(t, StageStrategyBuild, st.CurrentStage)
	require.Len(t, st.StageHistory, 1)
	assert.Equal(t, StageDiscovery, st.StageHistory[0].FromStage)
	assert.Equal(t, "research done", st.StageHistory[0].Reason)
	require.Len(t, st.PendingTrades, 1)
	assert.Equal(t, "BTCUSDT", st.PendingTrades[0].Symbol)
	assert.Len(t, st.DiscoveryInsights, 1)
}

// TestLoadSession_TraversalRejectedBeforeFilesystem never touches disk for bad ids
func TestLoadSession_TraversalRejectedBeforeFilesystem(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, zerolog.Nop())
	require.NoError(t, err)

	// Plant a file outside the session dir that a traversal would reach.
	outside := filepath.Join(filepath.Dir(dir), "secret.json")
	require.NoError(t, os.WriteFile(outside, []byte(`{}`), 0o644))
	defer os.Remove(outside)

	err = m.LoadSession("../secret")
	require.Error(t, err)
	assert.True(t, guarderr.IsSecurity(err))
}

// TestLoadSession_NotFound distinguishes absent sessions from invalid ones
func TestLoadSession_NotFound(t *testing.T) {
	m := newTestManager(t)

	err := m.LoadSession("no-such-session")
	require.Error(t, err)
	assert.True(t, guarderr.IsNotFound(err))
}

// TestLoadSession_CorruptDocument fails validation instead of trusting the bytes
func TestLoadSession_CorruptDocument(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{not json`), 0o644))
	err = m.LoadSession("bad")
	require.Error(t, err)
	assert.True(t, guarderr.IsValidation(err))
}

// TestTransitionStage_HistoryGrowsByOne appends exactly one record per transition
func TestTransitionStage_HistoryGrowsByOne(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateSession()
	require.NoError(t, err)

	moves := []Stage{StageStrategyBuild, StageBacktest, StageAnalysis, StageBacktest, StageExecution}
	for _, to := range moves {
		require.NoError(t, m.TransitionStage(to, "step", TriggerAgent))
	}

	st, err := m.Snapshot()
	require.NoError(t, err)
	require.Len(t, st.StageHistory, len(moves))
	assert.Equal(t, StageExecution, st.CurrentStage)

	// Each record chains from the previous stage, backward moves included.
	prev := StageDiscovery
	for i, tr := range st.StageHistory {
		assert.Equal(t, prev, tr.FromStage, "transition %d", i)
		assert.Equal(t, moves[i], tr.ToStage, "transition %d", i)
		prev = tr.ToStage
	}
}

// TestTransitionStage_RejectsUnknownStage leaves state and history untouched
func TestTransitionStage_RejectsUnknownStage(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateSession()
	require.NoError(t, err)

	err = m.TransitionStage("warmup", "bad", TriggerUser)
	require.Error(t, err)
	assert.True(t, guarderr.IsValidation(err))

	st, err := m.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, StageDiscovery, st.CurrentStage)
	assert.Empty(t, st.StageHistory)
}

// TestExecuteTrade_MovesPendingToExecuted transfers the record in one persisted step
func TestExecuteTrade_MovesPendingToExecuted(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateSession()
	require.NoError(t, err)

	require.NoError(t, m.AddPendingTrade(TradeRecord{Symbol: "BTCUSDT", Side: "Buy", Quantity: 1, Price: 42000}))
	require.NoError(t, m.AddPendingTrade(TradeRecord{Symbol: "ETHUSDT", Side: "Sell", Quantity: 2, Price: 2500}))

	require.NoError(t, m.ExecuteTrade(0, map[string]interface{}{"order_id": "abc"}))

	st, err := m.Snapshot()
	require.NoError(t, err)
	require.Len(t, st.PendingTrades, 1)
	assert.Equal(t, "ETHUSDT", st.PendingTrades[0].Symbol)
	require.Len(t, st.ExecutedTrades, 1)
	assert.Equal(t, "BTCUSDT", st.ExecutedTrades[0].Symbol)
	require.NotNil(t, st.ExecutedTrades[0].ExecutedAt)
	assert.Equal(t, "abc", st.ExecutedTrades[0].Result["order_id"])
}

// TestExecuteTrade_BadIndex fails NotFound without changing the ledger
func TestExecuteTrade_BadIndex(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateSession()
	require.NoError(t, err)

	err = m.ExecuteTrade(0, nil)
	require.Error(t, err)
	assert.True(t, guarderr.IsNotFound(err))
}

// TestApprovals_OneShot resolves each request exactly once
func TestApprovals_OneShot(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateSession()
	require.NoError(t, err)

	id, err := m.AddApprovalRequest("live_execution", map[string]interface{}{"symbol": "BTCUSDT"})
	require.NoError(t, err)

	require.NoError(t, m.RespondToApproval(id, true, "checked the numbers"))

	st, err := m.Snapshot()
	require.NoError(t, err)
	require.Len(t, st.PendingApprovals, 1)
	assert.Equal(t, ApprovalApproved, st.PendingApprovals[0].Status)
	assert.NotNil(t, st.PendingApprovals[0].RespondedAt)

	// A second response can never flip the status.
	err = m.RespondToApproval(id, false, "changed my mind")
	require.Error(t, err)
	assert.True(t, guarderr.IsValidation(err))

	st, err = m.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, ApprovalApproved, st.PendingApprovals[0].Status)
}

// TestRespondToApproval_UnknownID fails NotFound
func TestRespondToApproval_UnknownID(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateSession()
	require.NoError(t, err)

	err = m.RespondToApproval("nope", true, "")
	require.Error(t, err)
	assert.True(t, guarderr.IsNotFound(err))
}

// TestUpdatePositions_ReplacesSnapshot swaps the whole position list
func TestUpdatePositions_ReplacesSnapshot(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateSession()
	require.NoError(t, err)

	require.NoError(t, m.UpdatePositions([]broker.Position{
		{Symbol: "BTCUSDT", Side: "Buy", Quantity: 1, EntryPrice: 42000},
	}))
	require.NoError(t, m.UpdatePositions(nil))

	st, err := m.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, st.CurrentPositions)
	assert.NotNil(t, st.CurrentPositions)
}

// TestSnapshot_EmptyCollectionsStayEmpty keeps empty collections non-nil so they marshal as []
func TestSnapshot_EmptyCollectionsStayEmpty(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateSession()
	require.NoError(t, err)

	st, err := m.Snapshot()
	require.NoError(t, err)
	assert.NotNil(t, st.StageHistory)
	assert.NotNil(t, st.PendingTrades)
	assert.NotNil(t, st.ExecutedTrades)
	assert.NotNil(t, st.CurrentPositions)
	assert.NotNil(t, st.PendingApprovals)
	assert.NotNil(t, st.DiscoveryInsights)
	assert.NotNil(t, st.AnalysisResults)
	assert.NotNil(t, st.AgentSessionIDs)

	data, err := json.Marshal(st)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "null")
}

// TestListSessions_FiltersNonSessionFiles ignores directories and stray files
func TestListSessions_FiltersNonSessionFiles(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, zerolog.Nop())
	require.NoError(t, err)

	id, err := m.CreateSession()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive"), 0o755))

	ids, err := m.ListSessions()
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)
}

// TestDeleteSession removes the document and unloads matching state
func TestDeleteSession(t *testing.T) {
	m := newTestManager(t)
	id, err := m.CreateSession()
	require.NoError(t, err)

	require.NoError(t, m.DeleteSession(id))

	err = m.LoadSession(id)
	require.Error(t, err)
	assert.True(t, guarderr.IsNotFound(err))

	// Mutations after delete fail because no session is loaded.
	err = m.TransitionStage(StageReview, "late", TriggerUser)
	assert.Error(t, err)

	err = m.DeleteSession(id)
	require.Error(t, err)
	assert.True(t, guarderr.IsNotFound(err))
}

// TestUpdatedAtAdvancesOnMutation bumps the document timestamp on every save
func TestUpdatedAtAdvancesOnMutation(t *testing.T) {
	m := newTestManager(t)
	_, err := m.CreateSession()
	require.NoError(t, err)

	before, err := m.Snapshot()
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.UpdateAgentSession("researcher", "run-42"))

	after, err := m.Snapshot()
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))

	got, ok := m.GetAgentSession("researcher")
	require.True(t, ok)
	assert.Equal(t, "run-42", got)
}
