package rest

import (
	"context"
	"net/http"
	"time"
)

const probeTimeout = 2 * time.Second

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealthz is the liveness probe: the process is up and serving.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthStatus{Status: "ok"})
}

// handleReadyz reports whether both stores answer. A failing dependency
// returns 503 so the instance is pulled from rotation without being killed.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	checks := make(map[string]string, 2)
	healthy := true

	if err := s.hot.Ping(ctx); err != nil {
		checks["hot"] = err.Error()
		healthy = false
	} else {
		checks["hot"] = "ok"
	}

	if err := s.cold.PingContext(ctx); err != nil {
		checks["cold"] = err.Error()
		healthy = false
	} else {
		checks["cold"] = "ok"
	}

	status := healthStatus{Status: "ready", Checks: checks}
	code := http.StatusOK
	if !healthy {
		status.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
