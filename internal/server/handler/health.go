package handler

import (
	"net/http"
	"time"
)

// Pauser reports the engine pause state.
type Pauser interface {
	Paused() bool
}

// HealthHandler serves the service liveness endpoint.
type HealthHandler struct {
	mode      string
	pauser    Pauser
	startedAt time.Time
}

func NewHealthHandler(mode string, pauser Pauser) *HealthHandler {
	return &HealthHandler{mode: mode, pauser: pauser, startedAt: time.Now().UTC()}
}

// HealthCheck reports service status.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"mode":           h.mode,
		"paused":         h.pauser.Paused(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}
