package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fanforge/marketd/internal/domain"
)

// CheckpointStore implements domain.CheckpointStore using PostgreSQL.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore creates a new CheckpointStore backed by the given
// connection pool.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Get returns the last fully reduced block for kind, or domain.ErrNotFound
// when no checkpoint has been written yet.
func (s *CheckpointStore) Get(ctx context.Context, kind domain.EventKind) (uint64, error) {
	var block uint64
	err := s.pool.QueryRow(ctx,
		`SELECT block_number FROM ingest_checkpoints WHERE kind = $1`,
		string(kind),
	).Scan(&block)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: get %s checkpoint: %w", kind, err)
	}
	return block, nil
}

// Set records block as the last fully reduced block for kind.
func (s *CheckpointStore) Set(ctx context.Context, kind domain.EventKind, block uint64) error {
	const query = `
		INSERT INTO ingest_checkpoints (kind, block_number, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (kind) DO UPDATE SET
			block_number = EXCLUDED.block_number,
			updated_at   = NOW()`

	if _, err := s.pool.Exec(ctx, query, string(kind), block); err != nil {
		return fmt.Errorf("postgres: set %s checkpoint to %d: %w", kind, block, err)
	}
	return nil
}

var _ domain.CheckpointStore = (*CheckpointStore)(nil)
