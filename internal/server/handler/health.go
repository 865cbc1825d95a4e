package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger is any dependency that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	logger *slog.Logger
	deps   map[string]Pinger
}

// NewHealthHandler creates a HealthHandler. deps maps a dependency name
// (e.g. "redis", "postgres") to its pinger; nil entries are skipped.
func NewHealthHandler(logger *slog.Logger, deps map[string]Pinger) *HealthHandler {
	return &HealthHandler{logger: logger, deps: deps}
}

// HealthCheck responds with the server status plus per-dependency health.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	depStatus := make(map[string]string, len(h.deps))
	for name, dep := range h.deps {
		if dep == nil {
			continue
		}
		if err := dep.Ping(ctx); err != nil {
			depStatus[name] = "down"
			status = "degraded"
			continue
		}
		depStatus[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"dependencies": depStatus,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}
