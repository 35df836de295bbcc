package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SecondsPerYear is the accrual year length used for APY math.
const SecondsPerYear = 365 * 24 * 60 * 60

// StakePosition is one owner's stake in the pool. AccruedRewards holds
// rewards realized at past checkpoints but not yet paid out; rewards for the
// open interval since CheckpointTime are computed on demand.
type StakePosition struct {
	Owner          string
	Principal      decimal.Decimal
	CheckpointTime time.Time
	AccruedRewards decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Pool is the process-wide staking pool configuration and running totals.
type Pool struct {
	TokenAddress   string
	APYRate        decimal.Decimal
	MinimumStake   decimal.Decimal
	TotalStaked    decimal.Decimal
	RewardsReserve decimal.Decimal
}

// StakeReceipt reports the outcome of a successful stake operation.
type StakeReceipt struct {
	OperationRef           string
	Owner                  string
	Amount                 decimal.Decimal
	TotalStaked            decimal.Decimal // owner's principal after the stake
	APYRate                decimal.Decimal
	EstimatedYearlyRewards decimal.Decimal
}

// UnstakeReceipt reports the outcome of a successful unstake operation.
// RewardsEarned is non-zero only when the position was fully withdrawn, in
// which case the terminal accrued rewards are paid out with the principal.
type UnstakeReceipt struct {
	OperationRef    string
	Owner           string
	Amount          decimal.Decimal
	RemainingStaked decimal.Decimal
	RewardsEarned   decimal.Decimal
	TotalReceived   decimal.Decimal
	PositionRemoved bool
}

// StakeSummary is the read-only view of one owner's standing in the pool.
type StakeSummary struct {
	Owner          string
	StakingBalance decimal.Decimal
	PendingRewards decimal.Decimal
	Pool           Pool
}
