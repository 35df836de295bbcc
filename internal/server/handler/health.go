package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fanforge/marketd/internal/domain"
)

// ReadModelStats reports the listing read model's size and reduction progress.
type ReadModelStats interface {
	Stats() (activeCount int, lastApplied domain.EventCoord, hasApplied bool)
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	stats     ReadModelStats
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. stats may be nil in serve-only
// deployments without a local read model.
func NewHealthHandler(stats ReadModelStats, startedAt time.Time, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{stats: stats, startedAt: startedAt, logger: logger}
}

// HealthCheck responds with the process status and reduction progress.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":        "ok",
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"uptimeSeconds": int64(time.Since(h.startedAt).Seconds()),
	}

	if h.stats != nil {
		active, last, applied := h.stats.Stats()
		body["activeListings"] = active
		if applied {
			body["lastAppliedBlock"] = last.BlockNumber
			body["lastAppliedLogIndex"] = last.LogIndex
		}
	}

	writeJSON(w, http.StatusOK, body)
}
