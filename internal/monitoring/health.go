package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthChecker exposes monitor liveness as a JSON endpoint.
type HealthChecker struct {
	mu          sync.RWMutex
	lastPoll    time.Time
	lastError   string
	running     bool
	staleCutoff time.Duration
}

// HealthStatus is the JSON body served by the health endpoint.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Running   bool      `json:"running"`
	LastPoll  time.Time `json:"last_poll"`
	LastError string    `json:"last_error,omitempty"`
	Uptime    string    `json:"uptime"`
}

// NewHealthChecker creates a health checker; polls older than staleCutoff
// mark the process degraded.
func NewHealthChecker(staleCutoff time.Duration) *HealthChecker {
	if staleCutoff <= 0 {
		staleCutoff = 5 * time.Minute
	}
	return &HealthChecker{staleCutoff: staleCutoff}
}

// SetRunning records whether the position monitor loop is active.
func (h *HealthChecker) SetRunning(running bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.running = running
}

// RecordPoll records the outcome of the latest poll cycle.
func (h *HealthChecker) RecordPoll(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastPoll = time.Now()
	if err != nil {
		h.lastError = err.Error()
	} else {
		h.lastError = ""
	}
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK
	if !h.running || (!h.lastPoll.IsZero() && time.Since(h.lastPoll) > h.staleCutoff) {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if h.lastError != "" {
		status = "unhealthy"
		code = http.StatusInternalServerError
	}

	health := HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Running:   h.running,
		LastPoll:  h.lastPoll,
		LastError: h.lastError,
		Uptime:    time.Since(startTime).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}
