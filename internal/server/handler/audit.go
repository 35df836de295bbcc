package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fanforge/marketd/internal/domain"
)

// AuditHandler serves the audit log endpoint.
type AuditHandler struct {
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditStore, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logHandler(logger, "audit"),
	}
}

type auditResponse struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// List returns recent audit entries, newest first.
// GET /api/audit?limit=50
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100, 500)

	entries, err := h.audit.List(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit entries failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	out := make([]auditResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditResponse{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": out,
		"count":   len(out),
	})
}
