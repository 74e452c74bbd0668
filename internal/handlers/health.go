package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/parcelhub/api/internal/platform/httpx"
)

var startTime = time.Now()

// ReadinessProbe reports whether a downstream dependency is reachable.
type ReadinessProbe func(ctx context.Context) error

// HealthHandlers serves liveness and readiness endpoints.
type HealthHandlers struct {
	probe ReadinessProbe
}

// NewHealthHandlers constructs health handlers with an optional readiness probe.
func NewHealthHandlers(probe ReadinessProbe) *HealthHandlers {
	return &HealthHandlers{probe: probe}
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteData(r.Context(), w, map[string]any{
		"status": "ok",
		"uptime": time.Since(startTime).String(),
	})
}

// Readyz reports whether the service can reach its dependencies.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.probe != nil {
		if err := h.probe(ctx); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("dependencies unavailable", http.StatusServiceUnavailable))
			return
		}
	}
	httpx.WriteData(ctx, w, map[string]any{
		"status": "ready",
	})
}
