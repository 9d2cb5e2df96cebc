// Package risk implements the stateful guardrail consulted before and
// after every high-risk action: position-size, daily-loss, open-position
// and blacklist limits.
package risk

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tradoai/agentguard/internal/monitoring"
)

const dateLayout = "2006-01-02"

// Manager enforces the configured limits. All methods serialize on an
// internal mutex; checks are CPU-only and never block on I/O.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	highRisk HighRiskFunc
	logger   zerolog.Logger

	dailyLoss     float64
	openPositions int
	lastResetDate string

	now func() time.Time // test hook
}

// NewManager creates a risk manager with validated limits. A nil
// classifier falls back to DefaultHighRisk.
func NewManager(cfg Config, highRisk HighRiskFunc, logger zerolog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if highRisk == nil {
		highRisk = DefaultHighRisk
	}
	return &Manager{
		cfg:           cfg,
		highRisk:      highRisk,
		logger:        logger,
		lastResetDate: time.Now().Format(dateLayout),
		now:           time.Now,
	}, nil
}

// CheckAction gates a proposed action. Non-high-risk kinds pass through
// immediately with no state touched. Checks run in a fixed order; the
// first failing gate rejects with the triggering value and the limit.
func (m *Manager) CheckAction(req ActionRequest) CheckResult {
	if !m.highRisk(req.Kind) {
		return CheckResult{Allowed: true}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetDailyLossIfNeeded()

	result := CheckResult{Allowed: true}

	// 1. Position value vs max position size.
	if req.Kind == ActionPlaceOrder && req.Size > 0 && req.Price > 0 {
		value := req.Size * req.Price
		if value > m.cfg.MaxPositionSizeUsd {
			result = CheckResult{
				Allowed: false,
				Reason: fmt.Sprintf("position value $%.2f exceeds the $%.2f limit",
					value, m.cfg.MaxPositionSizeUsd),
				Warnings: result.Warnings,
			}
			m.finishCheck(req, result)
			return result
		}
		if value > 0.8*m.cfg.MaxPositionSizeUsd {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("position value $%.2f is approaching the $%.2f limit",
					value, m.cfg.MaxPositionSizeUsd))
		}
	}

	// 2. Accumulated daily loss vs max daily loss.
	if m.dailyLoss >= m.cfg.MaxDailyLossUsd {
		result = CheckResult{
			Allowed: false,
			Reason: fmt.Sprintf("daily loss $%.2f has reached the $%.2f limit",
				m.dailyLoss, m.cfg.MaxDailyLossUsd),
			Warnings: result.Warnings,
		}
		m.finishCheck(req, result)
		return result
	}
	if m.dailyLoss > 0.8*m.cfg.MaxDailyLossUsd {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("daily loss $%.2f is approaching the $%.2f limit",
				m.dailyLoss, m.cfg.MaxDailyLossUsd))
	}

	// 3. Open position count vs max open positions.
	if req.Kind == ActionPlaceOrder {
		if m.openPositions >= m.cfg.MaxOpenPositions {
			result = CheckResult{
				Allowed: false,
				Reason: fmt.Sprintf("%d open positions have reached the limit of %d",
					m.openPositions, m.cfg.MaxOpenPositions),
				Warnings: result.Warnings,
			}
			m.finishCheck(req, result)
			return result
		}
		if m.openPositions == m.cfg.MaxOpenPositions-1 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("%d open positions, one below the limit of %d",
					m.openPositions, m.cfg.MaxOpenPositions))
		}
	}

	// 4. Symbol blacklist, case-insensitive exact or substring match.
	if req.Symbol != "" {
		symbol := strings.ToUpper(req.Symbol)
		for _, blocked := range m.cfg.BlacklistedSymbols {
			b := strings.ToUpper(strings.TrimSpace(blocked))
			if b == "" {
				continue
			}
			if symbol == b || strings.Contains(symbol, b) {
				result = CheckResult{
					Allowed:  false,
					Reason:   fmt.Sprintf("symbol %s matches blacklist entry %s", req.Symbol, blocked),
					Warnings: result.Warnings,
				}
				m.finishCheck(req, result)
				return result
			}
		}
	}

	// 5. Confirmation policy, advisory only.
	if m.cfg.RequireConfirmation {
		result.Warnings = append(result.Warnings,
			"confirmation required: this action should be confirmed before execution")
	}

	m.finishCheck(req, result)
	return result
}

// finishCheck records metrics and logging for a completed check.
// Callers must hold m.mu.
func (m *Manager) finishCheck(req ActionRequest, result CheckResult) {
	monitoring.RecordRiskCheck(result.Allowed)
	if !result.Allowed {
		m.logger.Warn().
			Str("kind", string(req.Kind)).
			Str("symbol", req.Symbol).
			Str("reason", result.Reason).
			Msg("high-risk action rejected")
	}
}

// RecordOutcome synchronizes the in-memory counters with what actually
// executed. Side-effect only; never rejects.
func (m *Manager) RecordOutcome(req ActionRequest, outcome ActionOutcome) {
	if !m.highRisk(req.Kind) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch req.Kind {
	case ActionPlaceOrder:
		if outcome.Success {
			m.openPositions++
		}
	case ActionClosePosition:
		if outcome.Success && m.openPositions > 0 {
			m.openPositions--
		}
	case ActionCloseAllPositions:
		if outcome.Success {
			m.openPositions = 0
		}
	}

	if outcome.Success && outcome.RealizedPnl < 0 {
		m.dailyLoss += -outcome.RealizedPnl
		monitoring.SetDailyLoss(m.dailyLoss)
	}
	monitoring.SetOpenPositions(m.openPositions)
}

// RecordLoss adds a realized loss to the daily total. Negative amounts
// are ignored; dailyLoss never decreases except at the date boundary.
func (m *Manager) RecordLoss(amount float64) {
	if amount <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyLoss += amount
	monitoring.SetDailyLoss(m.dailyLoss)
}

// SetOpenPositions overwrites the open-position counter, normally from
// the position monitor after a successful poll.
func (m *Manager) SetOpenPositions(n int) {
	if n < 0 {
		n = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openPositions = n
	monitoring.SetOpenPositions(n)
}

// UpdateConfig applies a partial config update after validating the
// resulting limits.
func (m *Manager) UpdateConfig(patch ConfigPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.cfg.applied(patch)
	if err := next.Validate(); err != nil {
		return err
	}
	m.cfg = next
	m.logger.Info().
		Float64("max_position_size_usd", next.MaxPositionSizeUsd).
		Float64("max_daily_loss_usd", next.MaxDailyLossUsd).
		Int("max_open_positions", next.MaxOpenPositions).
		Msg("risk config updated")
	return nil
}

// GetRiskMetrics returns a snapshot of counters and limits.
func (m *Manager) GetRiskMetrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		DailyLoss:          m.dailyLoss,
		MaxDailyLossUsd:    m.cfg.MaxDailyLossUsd,
		OpenPositions:      m.openPositions,
		MaxOpenPositions:   m.cfg.MaxOpenPositions,
		MaxPositionSizeUsd: m.cfg.MaxPositionSizeUsd,
		LastResetDate:      m.lastResetDate,
	}
}

// resetDailyLossIfNeeded zeroes the daily loss on the first check after
// a calendar-date change. Callers must hold m.mu.
func (m *Manager) resetDailyLossIfNeeded() {
	today := m.now().Format(dateLayout)
	if today == m.lastResetDate {
		return
	}
	m.dailyLoss = 0
	m.lastResetDate = today
	monitoring.SetDailyLoss(0)
	m.logger.Info().Str("date", today).Msg("daily loss counter reset")
}
