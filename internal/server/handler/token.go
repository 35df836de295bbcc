package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/fanforge/marketd/internal/domain"
)

// TokenLister is the slice of the token service the handler needs.
type TokenLister interface {
	ListTokens(ctx context.Context) ([]domain.TokenInfo, error)
}

// TokenHandler serves the token explorer endpoint.
type TokenHandler struct {
	tokens TokenLister
	logger *slog.Logger
}

// NewTokenHandler creates a TokenHandler.
func NewTokenHandler(tokens TokenLister, logger *slog.Logger) *TokenHandler {
	return &TokenHandler{
		tokens: tokens,
		logger: logHandler(logger, "tokens"),
	}
}

type tokenResponse struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	TotalSupply string `json:"totalSupply"`
}

// ListTokens returns every visible token launched through the platform
// factory, newest first.
// GET /api/tokens
func (h *TokenHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.tokens.ListTokens(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list tokens failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	out := make([]tokenResponse, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, tokenResponse{
			Address:     t.Address,
			Name:        t.Name,
			Symbol:      t.Symbol,
			TotalSupply: t.TotalSupply.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tokens": out,
		"count":  len(out),
	})
}
