package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all environment-driven settings for the guard process.
type Config struct {
	Environment string
	LogLevel    string
	LogConsole  bool

	SessionDir string

	Exchange ExchangeConfig
	Risk     RiskConfig
	Monitor  MonitorConfig

	Monitoring struct {
		PrometheusPort int
		HealthPort     int
	}

	Notifications struct {
		TelegramToken  string
		TelegramChatID string
	}
}

// ExchangeConfig holds broker credentials and environment selection.
type ExchangeConfig struct {
	APIKey    string
	APISecret string
	Testnet   bool
	Demo      bool
	Category  string
}

// RiskConfig mirrors the risk manager limits as env settings.
type RiskConfig struct {
	MaxPositionSizeUsd  float64
	MaxDailyLossUsd     float64
	MaxOpenPositions    int
	RequireConfirmation bool
	BlacklistedSymbols  string // comma-separated
}

// MonitorConfig holds position monitor tuning.
type MonitorConfig struct {
	PollInterval          time.Duration
	LiquidationWarningPct float64
	PnlChangeAlertPct     float64
}

// Load reads configuration from the environment with defaults.
func Load() *Config {
	cfg := &Config{
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogConsole:  getEnvBool("LOG_CONSOLE", false),
		SessionDir:  getEnv("SESSION_DIR", "sessions"),

		Exchange: ExchangeConfig{
			APIKey:    getEnv("BYBIT_API_KEY", ""),
			APISecret: getEnv("BYBIT_API_SECRET", ""),
			Testnet:   getEnvBool("BYBIT_TESTNET", true),
			Demo:      getEnvBool("BYBIT_DEMO", false),
			Category:  getEnv("BYBIT_CATEGORY", "linear"),
		},

		Risk: RiskConfig{
			MaxPositionSizeUsd:  getEnvFloat("RISK_MAX_POSITION_SIZE_USD", 10000.0),
			MaxDailyLossUsd:     getEnvFloat("RISK_MAX_DAILY_LOSS_USD", 1000.0),
			MaxOpenPositions:    getEnvInt("RISK_MAX_OPEN_POSITIONS", 5),
			RequireConfirmation: getEnvBool("RISK_REQUIRE_CONFIRMATION", true),
			BlacklistedSymbols:  getEnv("RISK_BLACKLISTED_SYMBOLS", ""),
		},

		Monitor: MonitorConfig{
			PollInterval:          getEnvDuration("MONITOR_POLL_INTERVAL", 30*time.Second),
			LiquidationWarningPct: getEnvFloat("MONITOR_LIQUIDATION_WARNING_PCT", 10.0),
			PnlChangeAlertPct:     getEnvFloat("MONITOR_PNL_CHANGE_ALERT_PCT", 5.0),
		},
	}

	cfg.Monitoring.PrometheusPort = getEnvInt("PROMETHEUS_PORT", 9090)
	cfg.Monitoring.HealthPort = getEnvInt("HEALTH_PORT", 9091)
	cfg.Notifications.TelegramToken = getEnv("TELEGRAM_TOKEN", "")
	cfg.Notifications.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")

	return cfg
}

// Validate rejects settings that would misconfigure the guard at startup.
func (c *Config) Validate() error {
	if c.SessionDir == "" {
		return fmt.Errorf("SESSION_DIR must not be empty")
	}
	if c.Monitor.PollInterval < time.Second {
		return fmt.Errorf("MONITOR_POLL_INTERVAL %v is below the 1s minimum", c.Monitor.PollInterval)
	}
	if c.Monitor.LiquidationWarningPct <= 0 || c.Monitor.LiquidationWarningPct >= 100 {
		return fmt.Errorf("MONITOR_LIQUIDATION_WARNING_PCT %.2f must be in (0, 100)", c.Monitor.LiquidationWarningPct)
	}
	if c.Monitor.PnlChangeAlertPct <= 0 {
		return fmt.Errorf("MONITOR_PNL_CHANGE_ALERT_PCT %.2f must be positive", c.Monitor.PnlChangeAlertPct)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}
