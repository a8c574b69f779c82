package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"

	"github.com/Fiduciary-Gate/Fiduciarygate/internal/adapter/outbound/memory"
)

// HealthResponse is the JSON response from the health endpoints.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker verifies component health.
type HealthChecker struct {
	sessionStore *memory.SessionStore
	version      string
	ready        func() bool
}

// NewHealthChecker creates a HealthChecker. Pass nil for components that
// aren't available; ready may be nil, in which case readiness follows
// liveness.
func NewHealthChecker(sessionStore *memory.SessionStore, version string, ready func() bool) *HealthChecker {
	return &HealthChecker{
		sessionStore: sessionStore,
		version:      version,
		ready:        ready,
	}
}

// Check performs health checks on all components.
func (h *HealthChecker) Check() HealthResponse {
	checks := make(map[string]string)

	if h.sessionStore != nil {
		// Size acquires the store lock; a hang here is itself a finding.
		checks["session_store"] = fmt.Sprintf("ok: %d sessions", h.sessionStore.Size())
	} else {
		checks["session_store"] = "not configured"
	}
	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	return HealthResponse{
		Status:  "healthy",
		Checks:  checks,
		Version: h.version,
	}
}

// LivenessHandler serves GET /healthz.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check()
		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}

// ReadinessHandler serves GET /readyz. Not ready until the server has
// finished wiring its stores and background workers.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.ready != nil && !h.ready() {
			http.Error(w, `{"status":"not ready"}`, http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
}
