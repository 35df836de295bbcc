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

// PoolStore implements domain.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *pgxpool.Pool
}

// NewPoolStore creates a new PoolStore backed by the given connection pool.
func NewPoolStore(pool *pgxpool.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// Get retrieves the pool row for tokenAddress, or domain.ErrNotFound.
func (s *PoolStore) Get(ctx context.Context, tokenAddress string) (domain.Pool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT token_address, apy_rate::text, minimum_stake::text,
		       total_staked::text, rewards_reserve::text
		FROM staking_pools WHERE token_address = $1`, tokenAddress)

	var (
		pool                         domain.Pool
		apy, minimum, total, reserve string
	)
	err := row.Scan(&pool.TokenAddress, &apy, &minimum, &total, &reserve)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Pool{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Pool{}, fmt.Errorf("postgres: get pool %s: %w", tokenAddress, err)
	}

	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&pool.APYRate, apy},
		{&pool.MinimumStake, minimum},
		{&pool.TotalStaked, total},
		{&pool.RewardsReserve, reserve},
	}
	for _, f := range fields {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return domain.Pool{}, fmt.Errorf("postgres: bad pool value %q: %w", f.src, err)
		}
	}
	return pool, nil
}

// Init creates the pool row if absent, leaving an existing row untouched.
func (s *PoolStore) Init(ctx context.Context, pool domain.Pool) error {
	const query = `
		INSERT INTO staking_pools (
			token_address, apy_rate, minimum_stake, total_staked, rewards_reserve
		) VALUES ($1, $2::numeric, $3::numeric, $4::numeric, $5::numeric)
		ON CONFLICT (token_address) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		pool.TokenAddress,
		pool.APYRate.String(),
		pool.MinimumStake.String(),
		pool.TotalStaked.String(),
		pool.RewardsReserve.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: init pool %s: %w", pool.TokenAddress, err)
	}
	return nil
}

// AddTotalStaked atomically adjusts TotalStaked by delta and returns the new
// total.
func (s *PoolStore) AddTotalStaked(ctx context.Context, tokenAddress string, delta string) (string, error) {
	var total string
	err := s.pool.QueryRow(ctx, `
		UPDATE staking_pools
		SET total_staked = total_staked + $2::numeric, updated_at = NOW()
		WHERE token_address = $1
		RETURNING total_staked::text`, tokenAddress, delta,
	).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres: adjust pool %s total: %w", tokenAddress, err)
	}
	return total, nil
}

var _ domain.PoolStore = (*PoolStore)(nil)
