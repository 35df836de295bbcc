package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fanforge/marketd/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. The primary key
// on (kind, block_number, log_index) is what makes ingestion idempotent.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// InsertNew appends events, skipping any already recorded, and returns the
// subset that was actually inserted in input order. The whole batch commits
// atomically.
func (s *EventStore) InsertNew(ctx context.Context, events []domain.ListingEvent) ([]domain.ListingEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}

	const query = `
		INSERT INTO marketplace_events (
			kind, block_number, log_index,
			asset_address, asset_id, seller, buyer, price_wei, tx_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (kind, block_number, log_index) DO NOTHING`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin event insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var fresh []domain.ListingEvent
	for _, ev := range events {
		var price *string
		if ev.Price != nil {
			p := ev.Price.String()
			price = &p
		}
		tag, err := tx.Exec(ctx, query,
			string(ev.Kind), ev.Coord.BlockNumber, ev.Coord.LogIndex,
			ev.Key.AssetAddress, ev.Key.AssetID,
			ev.Seller, ev.Buyer, price, ev.TxHash,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: insert event %s %s: %w", ev.Kind, ev.Coord, err)
		}
		if tag.RowsAffected() > 0 {
			fresh = append(fresh, ev)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit event insert: %w", err)
	}
	return fresh, nil
}

// ListAll returns every stored event in (block, log index) order.
func (s *EventStore) ListAll(ctx context.Context) ([]domain.ListingEvent, error) {
	const query = `
		SELECT kind, block_number, log_index,
		       asset_address, asset_id, seller, buyer, price_wei::text, tx_hash
		FROM marketplace_events
		ORDER BY block_number, log_index`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events: %w", err)
	}
	return events, nil
}

// Count returns the total number of recorded events.
func (s *EventStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM marketplace_events`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count events: %w", err)
	}
	return n, nil
}

func scanEventRows(rows pgx.Rows) ([]domain.ListingEvent, error) {
	var events []domain.ListingEvent
	for rows.Next() {
		var (
			ev    domain.ListingEvent
			kind  string
			price *string
		)
		if err := rows.Scan(
			&kind, &ev.Coord.BlockNumber, &ev.Coord.LogIndex,
			&ev.Key.AssetAddress, &ev.Key.AssetID,
			&ev.Seller, &ev.Buyer, &price, &ev.TxHash,
		); err != nil {
			return nil, err
		}
		ev.Kind = domain.EventKind(kind)
		if price != nil {
			p, ok := new(big.Int).SetString(*price, 10)
			if !ok {
				return nil, fmt.Errorf("bad price %q at %s", *price, ev.Coord)
			}
			ev.Price = p
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

var _ domain.EventStore = (*EventStore)(nil)
