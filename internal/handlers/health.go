package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/maplecart/api/internal/platform/httpx"
)

var startTime = time.Now()

// HealthHandlers serves the liveness and readiness endpoints.
type HealthHandlers struct {
	// ready reports whether downstream dependencies are reachable. A nil
	// check means the process is ready as soon as it serves traffic.
	ready func(ctx context.Context) error
}

// NewHealthHandlers constructs health handlers with an optional readiness check.
func NewHealthHandlers(ready func(ctx context.Context) error) *HealthHandlers {
	return &HealthHandlers{ready: ready}
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(startTime).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz reports whether the service can take traffic.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			httpx.WriteError(r.Context(), w, httpx.NewError("not_ready", "dependencies unavailable", http.StatusServiceUnavailable))
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
