package domain

import (
	"context"
	"time"
)

// EventStore is the durable append-only record of every marketplace event
// the ingestor has ever accepted. Its primary key (kind, block, log index)
// is what makes ingestion idempotent: re-inserting an already-seen event is
// a no-op and the event is not handed to the reducer again.
type EventStore interface {
	// InsertNew appends events, skipping any already present. It returns the
	// subset that was actually inserted, preserving input order.
	InsertNew(ctx context.Context, events []ListingEvent) ([]ListingEvent, error)

	// ListAll returns every stored event in (block, log index) order. Used to
	// rebuild the listing read model at process start.
	ListAll(ctx context.Context) ([]ListingEvent, error)

	Count(ctx context.Context) (int64, error)
}

// CheckpointStore persists the last fully reduced block per event kind.
type CheckpointStore interface {
	Get(ctx context.Context, kind EventKind) (uint64, error)
	Set(ctx context.Context, kind EventKind, block uint64) error
}

// StakePositionStore persists stake positions keyed by owner address.
type StakePositionStore interface {
	Get(ctx context.Context, owner string) (StakePosition, error)
	Upsert(ctx context.Context, pos StakePosition) error
	Delete(ctx context.Context, owner string) error
	List(ctx context.Context) ([]StakePosition, error)
}

// PoolStore persists the staking pool row, in particular the running
// TotalStaked figure that survives restarts.
type PoolStore interface {
	Get(ctx context.Context, tokenAddress string) (Pool, error)
	// Init creates the pool row if absent, leaving an existing row untouched.
	Init(ctx context.Context, pool Pool) error
	// AddTotalStaked atomically adjusts TotalStaked by delta (negative for
	// unstakes) and returns the new total.
	AddTotalStaked(ctx context.Context, tokenAddress string, delta string) (string, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        string
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of ledger mutations and
// reconciliation anomalies.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}
