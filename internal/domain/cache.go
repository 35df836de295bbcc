package domain

import (
	"context"
	"time"
)

// MetadataCache provides fast lookups of collection display metadata so the
// query service does not hit the chain and the metadata host on every read.
type MetadataCache interface {
	Set(ctx context.Context, key ListingKey, name, symbol, imageURL string) error
	// Get returns ErrNotFound on a cache miss.
	Get(ctx context.Context, key ListingKey) (name, symbol, imageURL string, err error)
	Invalidate(ctx context.Context, key ListingKey) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// SignalBus provides pub/sub fan-out of listing lifecycle updates to the
// WebSocket hub and any other interested process.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// LockManager provides distributed mutual exclusion. The ingestor uses it so
// only one process advances checkpoints when several daemons share a
// database.
type LockManager interface {
	// Acquire returns an unlock function on success and ErrLockHeld when
	// another party holds the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
