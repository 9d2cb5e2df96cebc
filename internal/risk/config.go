package risk

import (
	"fmt"

	"github.com/tradoai/agentguard/internal/guarderr"
)

// Config holds the guardrail limits consulted before every high-risk
// action.
type Config struct {
	MaxPositionSizeUsd  float64  `json:"max_position_size_usd"`
	MaxDailyLossUsd     float64  `json:"max_daily_loss_usd"`
	MaxOpenPositions    int      `json:"max_open_positions"`
	RequireConfirmation bool     `json:"require_confirmation"`
	BlacklistedSymbols  []string `json:"blacklisted_symbols"`
}

// DefaultConfig returns conservative default limits.
func DefaultConfig() Config {
	return Config{
		MaxPositionSizeUsd:  10000.0,
		MaxDailyLossUsd:     1000.0,
		MaxOpenPositions:    5,
		RequireConfirmation: true,
	}
}

// Validate rejects limits that would disable or invert the guardrails.
func (c Config) Validate() error {
	if c.MaxPositionSizeUsd <= 0 {
		return guarderr.NewValidation("risk", "validate_config",
			fmt.Sprintf("max_position_size_usd %.2f must be positive", c.MaxPositionSizeUsd))
	}
	if c.MaxDailyLossUsd <= 0 {
		return guarderr.NewValidation("risk", "validate_config",
			fmt.Sprintf("max_daily_loss_usd %.2f must be positive", c.MaxDailyLossUsd))
	}
	if c.MaxOpenPositions <= 0 {
		return guarderr.NewValidation("risk", "validate_config",
			fmt.Sprintf("max_open_positions %d must be positive", c.MaxOpenPositions))
	}
	return nil
}

// ConfigPatch carries a partial config update; nil fields are untouched.
type ConfigPatch struct {
	MaxPositionSizeUsd  *float64
	MaxDailyLossUsd     *float64
	MaxOpenPositions    *int
	RequireConfirmation *bool
	BlacklistedSymbols  *[]string
}

func (c Config) applied(p ConfigPatch) Config {
	if p.MaxPositionSizeUsd != nil {
		c.MaxPositionSizeUsd = *p.MaxPositionSizeUsd
	}
	if p.MaxDailyLossUsd != nil {
		c.MaxDailyLossUsd = *p.MaxDailyLossUsd
	}
	if p.MaxOpenPositions != nil {
		c.MaxOpenPositions = *p.MaxOpenPositions
	}
	if p.RequireConfirmation != nil {
		c.RequireConfirmation = *p.RequireConfirmation
	}
	if p.BlacklistedSymbols != nil {
		c.BlacklistedSymbols = append([]string(nil), (*p.BlacklistedSymbols)...)
	}
	return c
}
