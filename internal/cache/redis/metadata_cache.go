package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fanforge/marketd/internal/domain"
)

const defaultMetadataTTL = 30 * time.Minute

// MetadataCache implements domain.MetadataCache using Redis strings holding
// JSON-serialized display metadata.
//
// Key schema:
//
//	meta:{assetAddress}:{assetID} - JSON {name, symbol, imageUrl}
type MetadataCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMetadataCache creates a MetadataCache backed by the given Client. A
// non-positive ttl falls back to 30 minutes.
func NewMetadataCache(c *Client, ttl time.Duration) *MetadataCache {
	if ttl <= 0 {
		ttl = defaultMetadataTTL
	}
	return &MetadataCache{rdb: c.Underlying(), ttl: ttl}
}

func metadataKey(key domain.ListingKey) string {
	return "meta:" + key.AssetAddress + ":" + key.AssetID
}

type cachedMetadata struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	ImageURL string `json:"imageUrl"`
}

// Set stores display metadata for a listing key with the configured TTL.
func (mc *MetadataCache) Set(ctx context.Context, key domain.ListingKey, name, symbol, imageURL string) error {
	data, err := json.Marshal(cachedMetadata{Name: name, Symbol: symbol, ImageURL: imageURL})
	if err != nil {
		return fmt.Errorf("redis: marshal metadata %s: %w", key, err)
	}
	if err := mc.rdb.Set(ctx, metadataKey(key), data, mc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set metadata %s: %w", key, err)
	}
	return nil
}

// Get retrieves display metadata for a listing key. It returns
// domain.ErrNotFound on a cache miss.
func (mc *MetadataCache) Get(ctx context.Context, key domain.ListingKey) (name, symbol, imageURL string, err error) {
	data, err := mc.rdb.Get(ctx, metadataKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", "", "", domain.ErrNotFound
		}
		return "", "", "", fmt.Errorf("redis: get metadata %s: %w", key, err)
	}

	var m cachedMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return "", "", "", fmt.Errorf("redis: unmarshal metadata %s: %w", key, err)
	}
	return m.Name, m.Symbol, m.ImageURL, nil
}

// Invalidate removes cached metadata for a listing key.
func (mc *MetadataCache) Invalidate(ctx context.Context, key domain.ListingKey) error {
	if err := mc.rdb.Del(ctx, metadataKey(key)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate metadata %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MetadataCache = (*MetadataCache)(nil)
