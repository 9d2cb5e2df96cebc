package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/tradoai/agentguard/internal/broker"
	"github.com/tradoai/agentguard/internal/config"
	"github.com/tradoai/agentguard/internal/logging"
	"github.com/tradoai/agentguard/internal/monitor"
	"github.com/tradoai/agentguard/internal/monitoring"
	"github.com/tradoai/agentguard/internal/notifications"
	"github.com/tradoai/agentguard/internal/risk"
	"github.com/tradoai/agentguard/internal/session"
)

func main() {
	var (
		envFile   = flag.String("env", ".env", "Environment file path")
		sessionID = flag.String("session", "", "Session id to load or create on startup")
	)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("Warning: could not load %s (%v), using environment variables", *envFile, err)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Console: cfg.LogConsole})
	logger.Info().
		Str("environment", cfg.Environment).
		Str("session_dir", cfg.SessionDir).
		Msg("Trading guard starting")

	// Notifications: Telegram when configured, otherwise silent.
	var notifier notifications.Notifier = &notifications.Noop{}
	if cfg.Notifications.TelegramToken != "" && cfg.Notifications.TelegramChatID != "" {
		notifier = notifications.NewTelegramNotifier(cfg.Notifications.TelegramToken, cfg.Notifications.TelegramChatID)
		logger.Info().Msg("Telegram notifications enabled")
	}

	sessions, err := session.NewManager(cfg.SessionDir, logging.Component(logger, "session"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize session manager")
	}
	if *sessionID != "" {
		if err := sessions.LoadSession(*sessionID); err != nil {
			logger.Fatal().Err(err).Str("session_id", *sessionID).Msg("Failed to load session")
		}
		logger.Info().Str("session_id", *sessionID).Msg("Session loaded")
	} else {
		id, err := sessions.CreateSession()
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create session")
		}
		logger.Info().Str("session_id", id).Msg("Session created")
	}

	riskMgr, err := risk.NewManager(riskConfig(cfg.Risk), nil, logging.Component(logger, "risk"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize risk manager")
	}

	bybit, err := broker.NewBybitBroker(broker.BybitConfig{
		APIKey:    cfg.Exchange.APIKey,
		APISecret: cfg.Exchange.APISecret,
		Testnet:   cfg.Exchange.Testnet,
		Demo:      cfg.Exchange.Demo,
		Category:  cfg.Exchange.Category,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize Bybit broker")
	}

	health := monitoring.NewHealthChecker(5 * cfg.Monitor.PollInterval)

	mon, err := monitor.NewMonitor(bybit, riskMgr, notifier, monitor.Config{
		PollInterval:          cfg.Monitor.PollInterval,
		LiquidationWarningPct: cfg.Monitor.LiquidationWarningPct,
		PnlChangeAlertPct:     cfg.Monitor.PnlChangeAlertPct,
	}, logging.Component(logger, "monitor"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize position monitor")
	}
	mon.AttachHealth(health)

	// Keep the session's position snapshot in sync with the broker.
	mon.OnAlert(func(alert monitor.Alert) {
		if alert.Type != monitor.AlertPositionOpened && alert.Type != monitor.AlertPositionClosed {
			return
		}
		if err := sessions.UpdatePositions(mon.GetAllPositions()); err != nil {
			logger.Warn().Err(err).Msg("Failed to persist position snapshot")
		}
	})

	metricsSrv := serveHTTP(cfg.Monitoring.PrometheusPort, "/metrics", monitoring.NewMetricsHandler(), logger)
	healthSrv := serveHTTP(cfg.Monitoring.HealthPort, "/health", health, logger)

	if err := mon.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start position monitor")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")

	mon.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Metrics server shutdown error")
	}
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("Health server shutdown error")
	}

	logger.Info().Msg("Trading guard stopped")
}

func riskConfig(rc config.RiskConfig) risk.Config {
	cfg := risk.Config{
		MaxPositionSizeUsd:  rc.MaxPositionSizeUsd,
		MaxDailyLossUsd:     rc.MaxDailyLossUsd,
		MaxOpenPositions:    rc.MaxOpenPositions,
		RequireConfirmation: rc.RequireConfirmation,
	}
	for _, sym := range strings.Split(rc.BlacklistedSymbols, ",") {
		if sym = strings.TrimSpace(sym); sym != "" {
			cfg.BlacklistedSymbols = append(cfg.BlacklistedSymbols, sym)
		}
	}
	return cfg
}

func serveHTTP(port int, path string, handler http.Handler, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("path", path).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Str("addr", srv.Addr).Msg("HTTP server stopped")
		}
	}()
	return srv
}
