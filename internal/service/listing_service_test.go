package service

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanforge/marketd/internal/domain"
)

type fakeState struct {
	listings []domain.Listing
}

func (s *fakeState) ActiveListings() []domain.Listing {
	var out []domain.Listing
	for _, l := range s.listings {
		if l.Status == domain.ListingStatusActive {
			out = append(out, l)
		}
	}
	return out
}

func (s *fakeState) Get(key domain.ListingKey) (domain.Listing, bool) {
	for _, l := range s.listings {
		if l.Key == key {
			return l, true
		}
	}
	return domain.Listing{}, false
}

func (s *fakeState) ActiveCount() int { return len(s.ActiveListings()) }

func (s *fakeState) LastApplied() (domain.EventCoord, bool) {
	if len(s.listings) == 0 {
		return domain.EventCoord{}, false
	}
	return domain.EventCoord{BlockNumber: 99, LogIndex: 0}, true
}

type fakeCollectionReader struct {
	name, symbol, tokenURI string
	err                    error
	calls                  int
}

func (f *fakeCollectionReader) CollectionFacts(_ context.Context, _ string, _ *big.Int) (string, string, string, error) {
	f.calls++
	if f.err != nil {
		return "", "", "", f.err
	}
	return f.name, f.symbol, f.tokenURI, nil
}

type fakeMetadataFetcher struct {
	meta domain.TokenMetadata
	err  error
}

func (f *fakeMetadataFetcher) Fetch(_ context.Context, _ string) (domain.TokenMetadata, error) {
	if f.err != nil {
		return domain.TokenMetadata{}, f.err
	}
	return f.meta, nil
}

type fakeMetadataCache struct {
	entries map[domain.ListingKey][3]string
}

func newFakeMetadataCache() *fakeMetadataCache {
	return &fakeMetadataCache{entries: make(map[domain.ListingKey][3]string)}
}

func (c *fakeMetadataCache) Set(_ context.Context, key domain.ListingKey, name, symbol, imageURL string) error {
	c.entries[key] = [3]string{name, symbol, imageURL}
	return nil
}

func (c *fakeMetadataCache) Get(_ context.Context, key domain.ListingKey) (string, string, string, error) {
	e, ok := c.entries[key]
	if !ok {
		return "", "", "", domain.ErrNotFound
	}
	return e[0], e[1], e[2], nil
}

func (c *fakeMetadataCache) Invalidate(_ context.Context, key domain.ListingKey) error {
	delete(c.entries, key)
	return nil
}

func activeListing(addr, id string) domain.Listing {
	return domain.Listing{
		Key:         domain.ListingKey{AssetAddress: addr, AssetID: id},
		Seller:      "0xseller",
		Price:       big.NewInt(500),
		Status:      domain.ListingStatusActive,
		OriginBlock: 42,
	}
}

func TestActiveListings_EnrichesFromChainAndBackfillsCache(t *testing.T) {
	ctx := context.Background()
	state := &fakeState{listings: []domain.Listing{activeListing("0xcafe", "7")}}
	chain := &fakeCollectionReader{name: "Club Crest", symbol: "CREST", tokenURI: "https://meta/7"}
	fetcher := &fakeMetadataFetcher{meta: domain.TokenMetadata{Name: "Crest #7", Image: "https://img/7.png"}}
	cache := newFakeMetadataCache()

	svc := NewListingService(state, chain, fetcher, cache, slog.Default())

	views, err := svc.ActiveListings(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "Crest #7", views[0].DisplayName, "metadata document name wins over contract name")
	assert.Equal(t, "CREST", views[0].DisplaySymbol)
	assert.Equal(t, "https://img/7.png", views[0].ImageURL)

	// Second read is served from the cache without another chain call.
	_, err = svc.ActiveListings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, chain.calls)
}

func TestActiveListings_DegradesWhenChainUnavailable(t *testing.T) {
	ctx := context.Background()
	state := &fakeState{listings: []domain.Listing{activeListing("0xcafe", "7")}}
	chain := &fakeCollectionReader{err: domain.External("chain", errors.New("rpc down"))}

	svc := NewListingService(state, chain, nil, newFakeMetadataCache(), slog.Default())

	views, err := svc.ActiveListings(ctx)
	require.NoError(t, err, "enrichment failure must not fail the listing query")
	require.Len(t, views, 1)
	assert.Empty(t, views[0].DisplayName)
	assert.Equal(t, "0xcafe", views[0].Key.AssetAddress)
	assert.Equal(t, big.NewInt(500), views[0].Price)
}

func TestActiveListings_SurvivesMetadataFetchFailure(t *testing.T) {
	ctx := context.Background()
	state := &fakeState{listings: []domain.Listing{activeListing("0xcafe", "7")}}
	chain := &fakeCollectionReader{name: "Club Crest", symbol: "CREST", tokenURI: "https://meta/7"}
	fetcher := &fakeMetadataFetcher{err: domain.External("metadata fetch", errors.New("timeout"))}

	svc := NewListingService(state, chain, fetcher, newFakeMetadataCache(), slog.Default())

	views, err := svc.ActiveListings(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "Club Crest", views[0].DisplayName, "contract facts still apply")
	assert.Empty(t, views[0].ImageURL)
}

func TestGetListing_NotFound(t *testing.T) {
	svc := NewListingService(&fakeState{}, nil, nil, nil, slog.Default())

	_, err := svc.GetListing(context.Background(), domain.ListingKey{AssetAddress: "0xcafe", AssetID: "1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetListing_ReturnsClosedInstances(t *testing.T) {
	sold := activeListing("0xcafe", "7")
	sold.Status = domain.ListingStatusSold
	svc := NewListingService(&fakeState{listings: []domain.Listing{sold}}, nil, nil, nil, slog.Default())

	view, err := svc.GetListing(context.Background(), sold.Key)
	require.NoError(t, err)
	assert.Equal(t, domain.ListingStatusSold, view.Status)
}
