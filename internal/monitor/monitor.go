// Package monitor polls the broker for open positions, detects
// position lifecycle changes and risk thresholds, and fans alerts out
// to subscribers and the notification channel.
package monitor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tradoai/agentguard/internal/broker"
	"github.com/tradoai/agentguard/internal/guarderr"
	"github.com/tradoai/agentguard/internal/monitoring"
	"github.com/tradoai/agentguard/internal/notifications"
)

// Config controls poll cadence and alert thresholds.
type Config struct {
	PollInterval          time.Duration
	LiquidationWarningPct float64
	PnlChangeAlertPct     float64
	NotifyQueueSize       int
}

// DefaultConfig returns the standard monitor settings.
func DefaultConfig() Config {
	return Config{
		PollInterval:          30 * time.Second,
		LiquidationWarningPct: 10,
		PnlChangeAlertPct:     5,
		NotifyQueueSize:       64,
	}
}

// Validate checks the config for usable values.
func (c Config) Validate() error {
	if c.PollInterval <= 0 {
		return guarderr.NewValidation("monitor", "validate_config", "poll interval must be positive")
	}
	if c.LiquidationWarningPct <= 0 || c.LiquidationWarningPct > 100 {
		return guarderr.NewValidation("monitor", "validate_config",
			fmt.Sprintf("liquidation warning pct must be in (0, 100], got %.2f", c.LiquidationWarningPct))
	}
	if c.PnlChangeAlertPct <= 0 {
		return guarderr.NewValidation("monitor", "validate_config",
			fmt.Sprintf("pnl change alert pct must be positive, got %.2f", c.PnlChangeAlertPct))
	}
	return nil
}

// ConfigPatch carries partial config updates. Nil fields keep the
// current value.
type ConfigPatch struct {
	PollInterval          *time.Duration
	LiquidationWarningPct *float64
	PnlChangeAlertPct     *float64
}

func (p ConfigPatch) applied(cur Config) Config {
	next := cur
	if p.PollInterval != nil {
		next.PollInterval = *p.PollInterval
	}
	if p.LiquidationWarningPct != nil {
		next.LiquidationWarningPct = *p.LiquidationWarningPct
	}
	if p.PnlChangeAlertPct != nil {
		next.PnlChangeAlertPct = *p.PnlChangeAlertPct
	}
	return next
}

// RiskSink receives the open position count after each successful poll.
type RiskSink interface {
	SetOpenPositions(n int)
}

// Status is a point-in-time snapshot of the monitor.
type Status struct {
	Running          bool          `json:"running"`
	LastPollAt       time.Time     `json:"last_poll_at"`
	LastError        string        `json:"last_error,omitempty"`
	TrackedPositions int           `json:"tracked_positions"`
	PollInterval     time.Duration `json:"poll_interval"`
}

type subscription struct {
	typ     AlertType // empty matches every type
	handler Handler
}

// Monitor tracks open positions through periodic broker polls. A single
// poll goroutine serializes all polls; outbound notifications go
// through a bounded queue drained by a second goroutine so a slow
// notifier never stalls polling.
type Monitor struct {
	broker   broker.Broker
	risk     RiskSink
	notifier notifications.Notifier
	logger   zerolog.Logger
	health   *monitoring.HealthChecker

	// running gates dispatch; dispatchMu doubles as the Stop barrier
	// that waits out an in-flight dispatch.
	running    atomic.Bool
	dispatchMu sync.Mutex

	mu         sync.Mutex
	cfg        Config
	positions  map[string]broker.Position
	handlers   map[string]subscription
	lastPollAt time.Time
	lastErr    error
	cancel     context.CancelFunc
	pollDone   chan struct{}
	notifyDone chan struct{}
	notifyCh   chan Alert
}

// NewMonitor builds a monitor. The risk sink may be nil; a nil notifier
// is replaced with a no-op.
func NewMonitor(b broker.Broker, risk RiskSink, notifier notifications.Notifier, cfg Config, logger zerolog.Logger) (*Monitor, error) {
	if b == nil {
		return nil, guarderr.NewValidation("monitor", "new", "broker is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = &notifications.Noop{}
	}
	if cfg.NotifyQueueSize <= 0 {
		cfg.NotifyQueueSize = DefaultConfig().NotifyQueueSize
	}
	return &Monitor{
		broker:    b,
		risk:      risk,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
		positions: make(map[string]broker.Position),
		handlers:  make(map[string]subscription),
	}, nil
}

// AttachHealth wires a health checker that receives poll outcomes.
func (m *Monitor) AttachHealth(h *monitoring.HealthChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health = h
}

// Start launches the poll and notification goroutines. Calling Start on
// a running monitor is a no-op.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.pollDone = make(chan struct{})
	m.notifyDone = make(chan struct{})
	m.notifyCh = make(chan Alert, m.cfg.NotifyQueueSize)
	interval := m.cfg.PollInterval
	pollDone := m.pollDone
	notifyDone := m.notifyDone
	notifyCh := m.notifyCh
	health := m.health
	m.mu.Unlock()

	m.running.Store(true)
	if health != nil {
		health.SetRunning(true)
	}
	m.logger.Info().Dur("interval", interval).Msg("Position monitor started")

	go m.pollLoop(ctx, interval, pollDone)
	go m.notifyLoop(ctx, notifyCh, notifyDone)
	return nil
}

// Stop halts polling and guarantees that no alert handler runs and no
// notification is queued after it returns. An in-flight poll finishes
// first; its alerts are suppressed.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.cancel == nil {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.cancel = nil
	pollDone := m.pollDone
	notifyDone := m.notifyDone
	health := m.health
	m.mu.Unlock()

	m.running.Store(false)
	// Barrier: wait for any dispatch that passed the running check.
	m.dispatchMu.Lock()
	m.dispatchMu.Unlock() //nolint:staticcheck // empty critical section used as barrier

	cancel()
	<-pollDone
	<-notifyDone

	if health != nil {
		health.SetRunning(false)
	}
	m.logger.Info().Msg("Position monitor stopped")
}

func (m *Monitor) pollLoop(ctx context.Context, interval time.Duration, done chan<- struct{}) {
	defer close(done)

	m.poll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) notifyLoop(ctx context.Context, ch <-chan Alert, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-ch:
			if !m.running.Load() {
				continue
			}
			if err := m.notifier.SendAlert(alertLevel(alert.Type), alert.Message); err != nil {
				m.logger.Warn().Err(err).Str("type", string(alert.Type)).Msg("Failed to send notification")
			}
		}
	}
}

// poll fetches the full position set, diffs it against the last
// snapshot, and replaces the snapshot wholesale. A failed fetch keeps
// the previous snapshot so the next success produces accurate diffs.
func (m *Monitor) poll(ctx context.Context) {
	current, err := m.broker.GetPositions(ctx)
	now := time.Now().UTC()

	if err != nil {
		m.mu.Lock()
		m.lastErr = err
		m.lastPollAt = now
		health := m.health
		m.mu.Unlock()

		monitoring.RecordPoll(false)
		if health != nil {
			health.RecordPoll(err)
		}
		m.logger.Warn().Err(err).Msg("Position poll failed")
		return
	}

	next := make(map[string]broker.Position, len(current))
	for _, pos := range current {
		next[pos.Symbol] = pos
	}

	m.mu.Lock()
	cfg := m.cfg
	prev := m.positions
	m.positions = next
	m.lastErr = nil
	m.lastPollAt = now
	health := m.health
	m.mu.Unlock()

	var alerts []Alert
	totalPnl := 0.0
	for symbol, pos := range next {
		totalPnl += pos.UnrealizedPnl
		last, known := prev[symbol]
		if !known {
			alerts = append(alerts, openedAlert(pos))
			continue
		}
		if a, ok := checkLiquidation(pos, cfg.LiquidationWarningPct); ok {
			alerts = append(alerts, a)
		}
		if a, ok := checkPnlSwing(pos, last.UnrealizedPnl, cfg.PnlChangeAlertPct); ok {
			alerts = append(alerts, a)
		}
	}
	for symbol, last := range prev {
		if _, still := next[symbol]; !still {
			alerts = append(alerts, closedAlert(last))
		}
	}

	monitoring.RecordPoll(true)
	monitoring.SetTotalUnrealizedPnl(totalPnl)
	if health != nil {
		health.RecordPoll(nil)
	}
	if m.risk != nil {
		m.risk.SetOpenPositions(len(next))
	}

	for _, alert := range alerts {
		m.dispatch(alert)
	}
}

func checkLiquidation(pos broker.Position, warnPct float64) (Alert, bool) {
	if pos.LiquidationPrice <= 0 || pos.CurrentPrice <= 0 {
		return Alert{}, false
	}
	proximity := math.Abs(pos.CurrentPrice-pos.LiquidationPrice) / pos.CurrentPrice * 100
	if proximity > warnPct {
		return Alert{}, false
	}
	return liquidationAlert(pos, proximity), true
}

func checkPnlSwing(pos broker.Position, lastPnl, alertPct float64) (Alert, bool) {
	base := pos.EntryPrice * pos.Quantity
	if base <= 0 {
		return Alert{}, false
	}
	changePct := math.Abs(pos.UnrealizedPnl-lastPnl) / base * 100
	if changePct < alertPct {
		return Alert{}, false
	}
	return pnlChangeAlert(pos, lastPnl, changePct), true
}

// dispatch delivers one alert to matching subscribers and enqueues it
// for notification. Suppressed entirely once the monitor is stopped.
func (m *Monitor) dispatch(alert Alert) {
	m.dispatchMu.Lock()
	defer m.dispatchMu.Unlock()
	if !m.running.Load() {
		return
	}

	monitoring.RecordAlert(string(alert.Type))
	m.logger.Info().
		Str("type", string(alert.Type)).
		Str("symbol", alert.Symbol).
		Msg(alert.Message)

	m.mu.Lock()
	subs := make([]subscription, 0, len(m.handlers))
	for _, sub := range m.handlers {
		subs = append(subs, sub)
	}
	notifyCh := m.notifyCh
	m.mu.Unlock()

	for _, sub := range subs {
		if sub.typ != "" && sub.typ != alert.Type {
			continue
		}
		m.invoke(sub.handler, alert)
	}

	select {
	case notifyCh <- alert:
	default:
		monitoring.RecordNotifyDrop()
		m.logger.Warn().Str("type", string(alert.Type)).Msg("Notification queue full, alert dropped")
	}
}

func (m *Monitor) invoke(h Handler, alert Alert) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error().
				Interface("panic", r).
				Str("type", string(alert.Type)).
				Msg("Alert handler panicked")
		}
	}()
	h(alert)
}

// OnAlert subscribes a handler to every alert type and returns a
// subscription id for RemoveHandler.
func (m *Monitor) OnAlert(h Handler) string {
	return m.subscribe("", h)
}

// On subscribes a handler to one alert type.
func (m *Monitor) On(t AlertType, h Handler) string {
	return m.subscribe(t, h)
}

func (m *Monitor) subscribe(t AlertType, h Handler) string {
	id := uuid.NewString()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[id] = subscription{typ: t, handler: h}
	return id
}

// RemoveHandler drops a subscription. Returns false for unknown ids.
func (m *Monitor) RemoveHandler(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.handlers[id]; !ok {
		return false
	}
	delete(m.handlers, id)
	return true
}

// GetPosition returns the tracked position for a symbol.
func (m *Monitor) GetPosition(symbol string) (broker.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[symbol]
	return pos, ok
}

// GetAllPositions returns the tracked positions sorted by symbol.
func (m *Monitor) GetAllPositions() []broker.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]broker.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// GetTotalPnl sums unrealized P&L across tracked positions.
func (m *Monitor) GetTotalPnl() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0.0
	for _, pos := range m.positions {
		total += pos.UnrealizedPnl
	}
	return total
}

// Status reports the monitor's current state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Running:          m.running.Load(),
		LastPollAt:       m.lastPollAt,
		TrackedPositions: len(m.positions),
		PollInterval:     m.cfg.PollInterval,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

// UpdateConfig applies a validated patch. A changed poll interval takes
// effect on the next Start.
func (m *Monitor) UpdateConfig(patch ConfigPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := patch.applied(m.cfg)
	if err := next.Validate(); err != nil {
		return err
	}
	m.cfg = next
	m.logger.Info().
		Dur("poll_interval", next.PollInterval).
		Float64("liquidation_warning_pct", next.LiquidationWarningPct).
		Float64("pnl_change_alert_pct", next.PnlChangeAlertPct).
		Msg("Monitor configuration updated")
	return nil
}
