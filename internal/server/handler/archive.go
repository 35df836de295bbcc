package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/fanforge/marketd/internal/domain"
)

const archivePrefix = "events/"

// ArchiveHandler lists archived event batches written by the ingest pipeline.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		blobs:  blobs,
		logger: logHandler(logger, "archives"),
	}
}

type archiveResponse struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"contentType,omitempty"`
	LastModified time.Time `json:"lastModified"`
}

// List returns the archived raw event batches. Batches are laid out under
// events/YYYY/MM/DD/, so an optional date parameter narrows the listing to
// one day's directory.
// GET /api/archives?date=2026-08-29
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	prefix := archivePrefix
	if date := r.URL.Query().Get("date"); date != "" {
		day, err := time.Parse("2006-01-02", date)
		if err != nil {
			writeError(w, http.StatusBadRequest, "date must be formatted YYYY-MM-DD")
			return
		}
		prefix += day.Format("2006/01/02") + "/"
	}

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list archives failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	out := make([]archiveResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, archiveResponse{
			Path:         info.Path,
			Size:         info.Size,
			ContentType:  info.ContentType,
			LastModified: info.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"archives": out,
		"count":    len(out),
	})
}
