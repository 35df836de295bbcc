package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fanforge/marketd/internal/domain"
)

// ListingReader is the slice of the listing service the handler needs.
type ListingReader interface {
	ActiveListings(ctx context.Context) ([]domain.ListingView, error)
	GetListing(ctx context.Context, key domain.ListingKey) (domain.ListingView, error)
}

// ListingHandler serves the marketplace listing endpoints.
type ListingHandler struct {
	listings ListingReader
	logger   *slog.Logger
}

// NewListingHandler creates a ListingHandler.
func NewListingHandler(listings ListingReader, logger *slog.Logger) *ListingHandler {
	return &ListingHandler{
		listings: listings,
		logger:   logHandler(logger, "listings"),
	}
}

// listingResponse is the wire form of one enriched listing.
type listingResponse struct {
	AssetAddress   string `json:"assetAddress"`
	AssetID        string `json:"assetId"`
	Seller         string `json:"seller"`
	PriceWei       string `json:"priceWei,omitempty"`
	Status         string `json:"status"`
	OriginBlock    uint64 `json:"originBlock"`
	OriginLogIndex uint   `json:"originLogIndex"`
	TxHash         string `json:"txHash,omitempty"`
	Name           string `json:"name,omitempty"`
	Symbol         string `json:"symbol,omitempty"`
	ImageURL       string `json:"imageUrl,omitempty"`
}

func toListingResponse(v domain.ListingView) listingResponse {
	resp := listingResponse{
		AssetAddress:   v.Key.AssetAddress,
		AssetID:        v.Key.AssetID,
		Seller:         v.Seller,
		Status:         string(v.Status),
		OriginBlock:    v.OriginBlock,
		OriginLogIndex: v.OriginLogIndex,
		TxHash:         v.TxHash,
		Name:           v.DisplayName,
		Symbol:         v.DisplaySymbol,
		ImageURL:       v.ImageURL,
	}
	if v.Price != nil {
		resp.PriceWei = v.Price.String()
	}
	return resp
}

// ListActive returns every currently active listing, most recently listed
// first.
// GET /api/listings
func (h *ListingHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	views, err := h.listings.ActiveListings(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list active listings failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	out := make([]listingResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toListingResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listings": out,
		"count":    len(out),
	})
}

// GetByKey returns the current listing instance for one asset, whatever its
// status.
// GET /api/listings/{address}/{id}
func (h *ListingHandler) GetByKey(w http.ResponseWriter, r *http.Request) {
	address := pathParam(r, "address")
	id := pathParam(r, "id")
	if address == "" || id == "" {
		writeError(w, http.StatusBadRequest, "asset address and id are required")
		return
	}

	view, err := h.listings.GetListing(r.Context(), domain.ListingKey{
		AssetAddress: strings.ToLower(address),
		AssetID:      id,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toListingResponse(view))
}
