package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	stageTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentguard_stage_transitions_total",
			Help: "Total number of session stage transitions",
		},
		[]string{"to_stage"},
	)

	riskChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentguard_risk_checks_total",
			Help: "Total number of high-risk action checks",
		},
		[]string{"result"},
	)

	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentguard_polls_total",
			Help: "Total number of position poll cycles",
		},
		[]string{"result"},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentguard_alerts_total",
			Help: "Total number of position alerts dispatched",
		},
		[]string{"type"},
	)

	notifyDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentguard_notify_drops_total",
			Help: "Alerts dropped because the notification queue was full",
		},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentguard_open_positions",
			Help: "Number of currently tracked open positions",
		},
	)

	dailyLossUsd = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentguard_daily_loss_usd",
			Help: "Accumulated realized loss for the current calendar date",
		},
	)

	totalUnrealizedPnl = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentguard_total_unrealized_pnl",
			Help: "Sum of unrealized P&L across tracked positions",
		},
	)
)

func init() {
	prometheus.MustRegister(stageTransitionsTotal)
	prometheus.MustRegister(riskChecksTotal)
	prometheus.MustRegister(pollsTotal)
	prometheus.MustRegister(alertsTotal)
	prometheus.MustRegister(notifyDropsTotal)
	prometheus.MustRegister(openPositions)
	prometheus.MustRegister(dailyLossUsd)
	prometheus.MustRegister(totalUnrealizedPnl)
}

// MetricsHandler serves the Prometheus metrics endpoint.
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler.
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordStageTransition records one stage transition.
func RecordStageTransition(toStage string) {
	stageTransitionsTotal.WithLabelValues(toStage).Inc()
}

// RecordRiskCheck records the outcome of one high-risk check.
func RecordRiskCheck(allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	riskChecksTotal.WithLabelValues(result).Inc()
}

// RecordPoll records the outcome of one poll cycle.
func RecordPoll(success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	pollsTotal.WithLabelValues(result).Inc()
}

// RecordAlert records one dispatched alert.
func RecordAlert(alertType string) {
	alertsTotal.WithLabelValues(alertType).Inc()
}

// RecordNotifyDrop records an alert dropped from the notification queue.
func RecordNotifyDrop() {
	notifyDropsTotal.Inc()
}

// SetOpenPositions updates the open-position gauge.
func SetOpenPositions(n int) {
	openPositions.Set(float64(n))
}

// SetDailyLoss updates the daily realized loss gauge.
func SetDailyLoss(v float64) {
	dailyLossUsd.Set(v)
}

// SetTotalUnrealizedPnl updates the unrealized P&L gauge.
func SetTotalUnrealizedPnl(v float64) {
	totalUnrealizedPnl.Set(v)
}
