package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fanforge/marketd/internal/domain"
)

// StakePositionStore implements domain.StakePositionStore using PostgreSQL.
// Amounts travel as text so NUMERIC columns round-trip without float loss.
type StakePositionStore struct {
	pool *pgxpool.Pool
}

// NewStakePositionStore creates a new StakePositionStore backed by the given
// connection pool.
func NewStakePositionStore(pool *pgxpool.Pool) *StakePositionStore {
	return &StakePositionStore{pool: pool}
}

// Get retrieves the position for owner, or domain.ErrNotFound.
func (s *StakePositionStore) Get(ctx context.Context, owner string) (domain.StakePosition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT owner, principal::text, checkpoint_time, accrued_rewards::text,
		       created_at, updated_at
		FROM stake_positions WHERE owner = $1`, owner)

	pos, err := scanStakePosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StakePosition{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.StakePosition{}, fmt.Errorf("postgres: get position %s: %w", owner, err)
	}
	return pos, nil
}

// Upsert creates or replaces the position for pos.Owner.
func (s *StakePositionStore) Upsert(ctx context.Context, pos domain.StakePosition) error {
	const query = `
		INSERT INTO stake_positions (
			owner, principal, checkpoint_time, accrued_rewards, created_at, updated_at
		) VALUES ($1, $2::numeric, $3, $4::numeric, $5, $6)
		ON CONFLICT (owner) DO UPDATE SET
			principal       = EXCLUDED.principal,
			checkpoint_time = EXCLUDED.checkpoint_time,
			accrued_rewards = EXCLUDED.accrued_rewards,
			updated_at      = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		pos.Owner,
		pos.Principal.String(),
		pos.CheckpointTime,
		pos.AccruedRewards.String(),
		pos.CreatedAt,
		pos.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", pos.Owner, err)
	}
	return nil
}

// Delete removes the position for owner.
func (s *StakePositionStore) Delete(ctx context.Context, owner string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM stake_positions WHERE owner = $1`, owner)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", owner, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// List returns every stored position.
func (s *StakePositionStore) List(ctx context.Context) ([]domain.StakePosition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT owner, principal::text, checkpoint_time, accrued_rewards::text,
		       created_at, updated_at
		FROM stake_positions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.StakePosition
	for rows.Next() {
		pos, err := scanStakePosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

func scanStakePosition(row pgx.Row) (domain.StakePosition, error) {
	var (
		pos                domain.StakePosition
		principal, accrued string
	)
	err := row.Scan(
		&pos.Owner, &principal, &pos.CheckpointTime, &accrued,
		&pos.CreatedAt, &pos.UpdatedAt,
	)
	if err != nil {
		return domain.StakePosition{}, err
	}
	if pos.Principal, err = decimal.NewFromString(principal); err != nil {
		return domain.StakePosition{}, fmt.Errorf("bad principal %q: %w", principal, err)
	}
	if pos.AccruedRewards, err = decimal.NewFromString(accrued); err != nil {
		return domain.StakePosition{}, fmt.Errorf("bad accrued rewards %q: %w", accrued, err)
	}
	return pos, nil
}

var _ domain.StakePositionStore = (*StakePositionStore)(nil)
