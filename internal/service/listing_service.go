package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/fanforge/marketd/internal/domain"
	"github.com/fanforge/marketd/internal/metrics"
)

// ListingState is the read side of the listing state machine.
type ListingState interface {
	ActiveListings() []domain.Listing
	Get(key domain.ListingKey) (domain.Listing, bool)
	ActiveCount() int
	LastApplied() (domain.EventCoord, bool)
}

// CollectionReader reads collection display facts from the chain.
type CollectionReader interface {
	CollectionFacts(ctx context.Context, assetAddress string, assetID *big.Int) (name, symbol, tokenURI string, err error)
}

// MetadataFetcher retrieves the off-chain metadata document behind a tokenURI.
type MetadataFetcher interface {
	Fetch(ctx context.Context, uri string) (domain.TokenMetadata, error)
}

// ListingService serves the current listing state enriched with display
// metadata. Enrichment is layered: Redis cache first, then the chain plus the
// metadata host, and it degrades to bare listings when both are unreachable.
type ListingService struct {
	state    ListingState
	chain    CollectionReader
	metadata MetadataFetcher
	cache    domain.MetadataCache
	logger   *slog.Logger
}

// NewListingService creates a ListingService. chain, metadata, and cache may
// each be nil; enrichment shrinks to whatever collaborators are wired.
func NewListingService(
	state ListingState,
	chain CollectionReader,
	metadata MetadataFetcher,
	cache domain.MetadataCache,
	logger *slog.Logger,
) *ListingService {
	return &ListingService{
		state:    state,
		chain:    chain,
		metadata: metadata,
		cache:    cache,
		logger:   logger.With(slog.String("component", "listing_service")),
	}
}

// ActiveListings returns every currently active listing, most recently listed
// first, enriched with display metadata where available.
func (s *ListingService) ActiveListings(ctx context.Context) ([]domain.ListingView, error) {
	listings := s.state.ActiveListings()

	views := make([]domain.ListingView, 0, len(listings))
	for _, l := range listings {
		views = append(views, s.enrich(ctx, l))
	}
	return views, nil
}

// GetListing returns the current listing instance for a key, whatever its
// status. It returns domain.ErrNotFound when the key has never been listed.
func (s *ListingService) GetListing(ctx context.Context, key domain.ListingKey) (domain.ListingView, error) {
	l, ok := s.state.Get(key)
	if !ok {
		return domain.ListingView{}, fmt.Errorf("listing_service: get %s: %w", key, domain.ErrNotFound)
	}
	return s.enrich(ctx, l), nil
}

// Stats reports the read model's size and reduction progress for the health
// and status endpoints.
func (s *ListingService) Stats() (activeCount int, lastApplied domain.EventCoord, hasApplied bool) {
	lastApplied, hasApplied = s.state.LastApplied()
	return s.state.ActiveCount(), lastApplied, hasApplied
}

// enrich attaches display metadata to a listing. Every failure path degrades
// to the bare listing; a for-sale item with no thumbnail still sells.
func (s *ListingService) enrich(ctx context.Context, l domain.Listing) domain.ListingView {
	view := domain.ListingView{Listing: l}

	if s.cache != nil {
		name, symbol, imageURL, err := s.cache.Get(ctx, l.Key)
		if err == nil {
			view.DisplayName = name
			view.DisplaySymbol = symbol
			view.ImageURL = imageURL
			return view
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "metadata cache read failed",
				slog.String("key", l.Key.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.chain == nil {
		return view
	}

	assetID, ok := new(big.Int).SetString(l.Key.AssetID, 10)
	if !ok {
		metrics.MetadataFailures.Inc()
		return view
	}

	name, symbol, tokenURI, err := s.chain.CollectionFacts(ctx, l.Key.AssetAddress, assetID)
	if err != nil {
		metrics.MetadataFailures.Inc()
		s.logger.WarnContext(ctx, "collection facts unavailable",
			slog.String("key", l.Key.String()),
			slog.String("error", err.Error()),
		)
		return view
	}
	view.DisplayName = name
	view.DisplaySymbol = symbol

	if tokenURI != "" && s.metadata != nil {
		meta, err := s.metadata.Fetch(ctx, tokenURI)
		if err != nil {
			metrics.MetadataFailures.Inc()
			s.logger.WarnContext(ctx, "metadata fetch failed",
				slog.String("key", l.Key.String()),
				slog.String("uri", tokenURI),
				slog.String("error", err.Error()),
			)
		} else {
			view.ImageURL = meta.Image
			if meta.Name != "" {
				view.DisplayName = meta.Name
			}
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, l.Key, view.DisplayName, view.DisplaySymbol, view.ImageURL); err != nil {
			s.logger.WarnContext(ctx, "metadata cache write failed",
				slog.String("key", l.Key.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	return view
}
