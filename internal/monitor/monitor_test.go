package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradoai/agentguard/internal/broker"
)

// fakeBroker serves a settable position list and optional failure.
type fakeBroker struct {
	mu        sync.Mutex
	positions []broker.Position
	err       error
	calls     int
}

func (f *fakeBroker) GetPositions(ctx context.Context) ([]broker.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]broker.Position(nil), f.positions...), nil
}

func (f *fakeBroker) set(positions []broker.Position, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = positions
	f.err = err
}

type fakeRiskSink struct {
	mu   sync.Mutex
	last int
	set  bool
}

func (f *fakeRiskSink) SetOpenPositions(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = n
	f.set = true
}

func testMonitorConfig() Config {
	return Config{
		PollInterval:          10 * time.Millisecond,
		LiquidationWarningPct: 10,
		PnlChangeAlertPct:     5,
		NotifyQueueSize:       16,
	}
}

func btcPosition() broker.Position {
	return broker.Position{
		Symbol:           "BTCUSDT",
		Side:             "Buy",
		Quantity:         1,
		EntryPrice:       42000,
		CurrentPrice:     42500,
		LiquidationPrice: 21000,
		UnrealizedPnl:    500,
		Leverage:         2,
	}
}

// collectAlerts subscribes a channel-backed handler and returns the channel.
func collectAlerts(m *Monitor) <-chan Alert {
	ch := make(chan Alert, 64)
	m.OnAlert(func(a Alert) { ch <- a })
	return ch
}

func waitForAlert(t *testing.T, ch <-chan Alert, want AlertType) Alert {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case a := <-ch:
			if a.Type == want {
				return a
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s alert", want)
		}
	}
}

// TestMonitor_PositionOpenedAlertFiresOnce alerts on first sight of a symbol only
func TestMonitor_PositionOpenedAlertFiresOnce(t *testing.T) {
	fb := &fakeBroker{positions: []broker.Position{btcPosition()}}
	m, err := NewMonitor(fb, nil, nil, testMonitorConfig(), zerolog.Nop())
	require.NoError(t, err)

	alerts := collectAlerts(m)
	require.NoError(t, m.Start())
	defer m.Stop()

	a := waitForAlert(t, alerts, AlertPositionOpened)
	assert.Equal(t, "BTCUSDT", a.Symbol)
	assert.Contains(t, a.Message, "BTCUSDT")

	// Subsequent polls with the same position stay quiet.
	time.Sleep(60 * time.Millisecond)
	for {
		select {
		case extra := <-alerts:
			assert.NotEqual(t, AlertPositionOpened, extra.Type, "opened alert fired twice")
		default:
			return
		}
	}
}

// TestMonitor_PositionClosedAlert fires when a symbol drops out of the poll
func TestMonitor_PositionClosedAlert(t *testing.T) {
	fb := &fakeBroker{positions: []broker.Position{btcPosition()}}
	m, err := NewMonitor(fb, nil, nil, testMonitorConfig(), zerolog.Nop())
	require.NoError(t, err)

	alerts := collectAlerts(m)
	require.NoError(t, m.Start())
	defer m.Stop()

	waitForAlert(t, alerts, AlertPositionOpened)
	fb.set(nil, nil)

	a := waitForAlert(t, alerts, AlertPositionClosed)
	assert.Equal(t, "BTCUSDT", a.Symbol)
	assert.Contains(t, a.Message, "500.00")
	assert.Equal(t, 0, m.Status().TrackedPositions)
}

// TestMonitor_FailedPollKeepsSnapshot never emits closed alerts on poll errors
func TestMonitor_FailedPollKeepsSnapshot(t *testing.T) {
	fb := &fakeBroker{positions: []broker.Position{btcPosition()}}
	m, err := NewMonitor(fb, nil, nil, testMonitorConfig(), zerolog.Nop())
	require.NoError(t, err)

	alerts := collectAlerts(m)
	require.NoError(t, m.Start())
	defer m.Stop()

	waitForAlert(t, alerts, AlertPositionOpened)
	fb.set(nil, errors.New("exchange unreachable"))

	time.Sleep(60 * time.Millisecond)

	// Snapshot is stale but intact, and the error is surfaced.
	pos, ok := m.GetPosition("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", pos.Symbol)
	assert.Contains(t, m.Status().LastError, "unreachable")

	select {
	case a := <-alerts:
		assert.NotEqual(t, AlertPositionClosed, a.Type, "closed alert from failed poll")
	default:
	}

	// Recovery with the same position produces no spurious opened alert.
	fb.set([]broker.Position{btcPosition()}, nil)
	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, m.Status().LastError)
}

// TestMonitor_StopSuppressesAlerts guarantees no handler runs after Stop returns
func TestMonitor_StopSuppressesAlerts(t *testing.T) {
	fb := &fakeBroker{positions: []broker.Position{btcPosition()}}
	m, err := NewMonitor(fb, nil, nil, testMonitorConfig(), zerolog.Nop())
	require.NoError(t, err)

	var mu sync.Mutex
	stopped := false
	m.OnAlert(func(a Alert) {
		mu.Lock()
		defer mu.Unlock()
		assert.False(t, stopped, "handler invoked after Stop returned")
	})

	require.NoError(t, m.Start())
	time.Sleep(30 * time.Millisecond)

	m.Stop()
	mu.Lock()
	stopped = true
	mu.Unlock()

	// Force more would-be alerts; none may be delivered.
	fb.set(nil, nil)
	time.Sleep(60 * time.Millisecond)
	assert.False(t, m.Status().Running)
}

// TestMonitor_RiskSinkReceivesOpenCount pushes the count after each good poll
func TestMonitor_RiskSinkReceivesOpenCount(t *testing.T) {
	fb := &fakeBroker{positions: []broker.Position{
		btcPosition(),
		{Symbol: "ETHUSDT", Side: "Sell", Quantity: 2, EntryPrice: 2500, CurrentPrice: 2480, UnrealizedPnl: 40},
	}}
	sink := &fakeRiskSink{}
	m, err := NewMonitor(fb, sink, nil, testMonitorConfig(), zerolog.Nop())
	require.NoError(t, err)

	alerts := collectAlerts(m)
	require.NoError(t, m.Start())
	defer m.Stop()

	waitForAlert(t, alerts, AlertPositionOpened)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.True(t, sink.set)
	assert.Equal(t, 2, sink.last)
}

// TestMonitor_HandlerPanicDoesNotStopDelivery recovers and reaches later handlers
func TestMonitor_HandlerPanicDoesNotStopDelivery(t *testing.T) {
	fb := &fakeBroker{positions: []broker.Position{btcPosition()}}
	m, err := NewMonitor(fb, nil, nil, testMonitorConfig(), zerolog.Nop())
	require.NoError(t, err)

	m.OnAlert(func(a Alert) { panic("bad handler") })
	alerts := collectAlerts(m)

	require.NoError(t, m.Start())
	defer m.Stop()

	waitForAlert(t, alerts, AlertPositionOpened)
}

// TestMonitor_RemoveHandler stops delivery to the removed subscription
func TestMonitor_RemoveHandler(t *testing.T) {
	fb := &fakeBroker{}
	m, err := NewMonitor(fb, nil, nil, testMonitorConfig(), zerolog.Nop())
	require.NoError(t, err)

	id := m.On(AlertPositionOpened, func(a Alert) {})
	assert.True(t, m.RemoveHandler(id))
	assert.False(t, m.RemoveHandler(id))
	assert.False(t, m.RemoveHandler("unknown"))
}

// TestMonitor_TotalPnl sums across tracked positions
func TestMonitor_TotalPnl(t *testing.T) {
	fb := &fakeBroker{positions: []broker.Position{
		btcPosition(),
		{Symbol: "ETHUSDT", UnrealizedPnl: -120, EntryPrice: 2500, Quantity: 2},
	}}
	m, err := NewMonitor(fb, nil, nil, testMonitorConfig(), zerolog.Nop())
	require.NoError(t, err)

	alerts := collectAlerts(m)
	require.NoError(t, m.Start())
	defer m.Stop()

	waitForAlert(t, alerts, AlertPositionOpened)
	assert.InDelta(t, 380.0, m.GetTotalPnl(), 0.001)

	all := m.GetAllPositions()
	require.Len(t, all, 2)
	assert.Equal(t, "BTCUSDT", all[0].Symbol)
	assert.Equal(t, "ETHUSDT", all[1].Symbol)
}

// TestCheckLiquidation applies the proximity threshold
func TestCheckLiquidation(t *testing.T) {
	pos := btcPosition()

	// 50% away from liquidation, no warning.
	_, ok := checkLiquidation(pos, 10)
	assert.False(t, ok)

	// 5% away, warning.
	pos.CurrentPrice = 22000
	pos.LiquidationPrice = 21000
	a, ok := checkLiquidation(pos, 10)
	require.True(t, ok)
	assert.Equal(t, AlertLiquidationWarning, a.Type)
	assert.Contains(t, a.Message, "liquidation")

	// Spot positions have no liquidation price.
	pos.LiquidationPrice = 0
	_, ok = checkLiquidation(pos, 10)
	assert.False(t, ok)
}

// TestCheckPnlSwing measures the change against position cost
func TestCheckPnlSwing(t *testing.T) {
	pos := btcPosition() // cost 42000 * 1

	// Swing of 500 on 42000 is ~1.2%, below the 5% threshold.
	_, ok := checkPnlSwing(pos, 0, 5)
	assert.False(t, ok)

	// Swing of 2600 is ~6.2%.
	a, ok := checkPnlSwing(pos, -2100, 5)
	require.True(t, ok)
	assert.Equal(t, AlertPnlChange, a.Type)
	assert.Contains(t, a.Message, "increased")

	// Downward swings report the direction.
	pos.UnrealizedPnl = -3000
	a, ok = checkPnlSwing(pos, 0, 5)
	require.True(t, ok)
	assert.Contains(t, a.Message, "decreased")

	// Zero-cost rows never divide by zero.
	pos.EntryPrice = 0
	_, ok = checkPnlSwing(pos, 0, 5)
	assert.False(t, ok)
}

// TestMonitor_UpdateConfig validates patches and rejects bad thresholds
func TestMonitor_UpdateConfig(t *testing.T) {
	fb := &fakeBroker{}
	m, err := NewMonitor(fb, nil, nil, testMonitorConfig(), zerolog.Nop())
	require.NoError(t, err)

	bad := -5.0
	assert.Error(t, m.UpdateConfig(ConfigPatch{PnlChangeAlertPct: &bad}))

	good := 2.5
	require.NoError(t, m.UpdateConfig(ConfigPatch{PnlChangeAlertPct: &good}))
}

// TestNewMonitor_RequiresBroker rejects nil brokers up front
func TestNewMonitor_RequiresBroker(t *testing.T) {
	_, err := NewMonitor(nil, nil, nil, testMonitorConfig(), zerolog.Nop())
	assert.Error(t, err)
}
