package staking

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fanforge/marketd/internal/domain"
	"github.com/fanforge/marketd/internal/metrics"
)

// lockStripes is the size of the per-owner mutex pool. Operations for the
// same owner always serialize; operations for different owners contend only
// on hash collisions.
const lockStripes = 64

// Config holds the pool parameters the ledger is initialized with.
type Config struct {
	TokenAddress   string
	APYRate        decimal.Decimal
	MinimumStake   decimal.Decimal
	RewardsReserve decimal.Decimal
}

// Ledger owns the stake positions for one pool. All mutations realize
// accrued rewards up to the operation time before touching principal, so a
// position's AccruedRewards is always exact as of its CheckpointTime.
type Ledger struct {
	cfg       Config
	positions domain.StakePositionStore
	pools     domain.PoolStore
	audit     domain.AuditStore
	locks     [lockStripes]sync.Mutex
	now       func() time.Time
	logger    *slog.Logger
}

// NewLedger creates a Ledger over the given stores. The audit store may be
// nil, in which case mutations are only logged.
func NewLedger(cfg Config, positions domain.StakePositionStore, pools domain.PoolStore, audit domain.AuditStore, logger *slog.Logger) *Ledger {
	return &Ledger{
		cfg:       cfg,
		positions: positions,
		pools:     pools,
		audit:     audit,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "staking")),
	}
}

// InitPool ensures the durable pool row exists. Called once at wire time.
func (l *Ledger) InitPool(ctx context.Context) error {
	pool := domain.Pool{
		TokenAddress:   l.cfg.TokenAddress,
		APYRate:        l.cfg.APYRate,
		MinimumStake:   l.cfg.MinimumStake,
		TotalStaked:    decimal.Zero,
		RewardsReserve: l.cfg.RewardsReserve,
	}
	if err := l.pools.Init(ctx, pool); err != nil {
		return fmt.Errorf("staking: init pool: %w", err)
	}
	return nil
}

// Stake adds amount to the owner's position, creating it on first stake.
// First stakes must meet the pool minimum; top-ups of any positive size are
// allowed. Accrued rewards are realized before the principal changes so the
// new principal only earns from now on.
func (l *Ledger) Stake(ctx context.Context, owner string, amount decimal.Decimal) (domain.StakeReceipt, error) {
	owner = normalizeOwner(owner)
	if owner == "" {
		return domain.StakeReceipt{}, domain.Validationf("user address is required")
	}
	if !amount.IsPositive() {
		metrics.StakingOps.WithLabelValues("stake", "rejected").Inc()
		return domain.StakeReceipt{}, domain.Validationf("invalid amount")
	}

	lock := l.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	now := l.now()

	pos, err := l.positions.Get(ctx, owner)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if amount.LessThan(l.cfg.MinimumStake) {
			metrics.StakingOps.WithLabelValues("stake", "rejected").Inc()
			return domain.StakeReceipt{}, domain.Validationf(
				"minimum stake is %s", l.cfg.MinimumStake.String())
		}
		pos = domain.StakePosition{
			Owner:          owner,
			Principal:      decimal.Zero,
			CheckpointTime: now,
			AccruedRewards: decimal.Zero,
			CreatedAt:      now,
		}
	case err != nil:
		metrics.StakingOps.WithLabelValues("stake", "error").Inc()
		return domain.StakeReceipt{}, fmt.Errorf("staking: load position %s: %w", owner, err)
	default:
		pos.AccruedRewards = pos.AccruedRewards.Add(
			Accrue(pos.Principal, l.cfg.APYRate, now.Sub(pos.CheckpointTime)))
	}

	pos.Principal = pos.Principal.Add(amount)
	pos.CheckpointTime = now
	pos.UpdatedAt = now

	if err := l.positions.Upsert(ctx, pos); err != nil {
		metrics.StakingOps.WithLabelValues("stake", "error").Inc()
		return domain.StakeReceipt{}, fmt.Errorf("staking: save position %s: %w", owner, err)
	}

	if _, err := l.pools.AddTotalStaked(ctx, l.cfg.TokenAddress, amount.String()); err != nil {
		// The position write succeeded; the pool total is display-level
		// aggregate state, so log and continue rather than unwinding.
		l.logger.WarnContext(ctx, "pool total update failed",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
	}

	receipt := domain.StakeReceipt{
		OperationRef:           uuid.NewString(),
		Owner:                  owner,
		Amount:                 amount,
		TotalStaked:            pos.Principal,
		APYRate:                l.cfg.APYRate,
		EstimatedYearlyRewards: pos.Principal.Mul(l.cfg.APYRate),
	}

	metrics.StakingOps.WithLabelValues("stake", "ok").Inc()
	l.auditLog(ctx, "stake", map[string]any{
		"operation_ref": receipt.OperationRef,
		"owner":         owner,
		"amount":        amount.String(),
		"principal":     pos.Principal.String(),
	})
	l.logger.InfoContext(ctx, "stake accepted",
		slog.String("owner", owner),
		slog.String("amount", amount.String()),
		slog.String("principal", pos.Principal.String()),
	)

	return receipt, nil
}

// Unstake removes amount from the owner's position. Withdrawing the full
// principal deletes the position and pays out its terminal accrued rewards
// alongside the principal; a partial withdrawal keeps rewards accumulating
// unpaid on the surviving position.
func (l *Ledger) Unstake(ctx context.Context, owner string, amount decimal.Decimal) (domain.UnstakeReceipt, error) {
	owner = normalizeOwner(owner)
	if owner == "" {
		return domain.UnstakeReceipt{}, domain.Validationf("user address is required")
	}
	if !amount.IsPositive() {
		metrics.StakingOps.WithLabelValues("unstake", "rejected").Inc()
		return domain.UnstakeReceipt{}, domain.Validationf("invalid amount")
	}

	lock := l.ownerLock(owner)
	lock.Lock()
	defer lock.Unlock()

	now := l.now()

	pos, err := l.positions.Get(ctx, owner)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.StakingOps.WithLabelValues("unstake", "rejected").Inc()
		return domain.UnstakeReceipt{}, domain.Validationf("insufficient staked amount")
	}
	if err != nil {
		metrics.StakingOps.WithLabelValues("unstake", "error").Inc()
		return domain.UnstakeReceipt{}, fmt.Errorf("staking: load position %s: %w", owner, err)
	}
	if pos.Principal.LessThan(amount) {
		metrics.StakingOps.WithLabelValues("unstake", "rejected").Inc()
		return domain.UnstakeReceipt{}, domain.Validationf("insufficient staked amount")
	}

	pos.AccruedRewards = pos.AccruedRewards.Add(
		Accrue(pos.Principal, l.cfg.APYRate, now.Sub(pos.CheckpointTime)))
	pos.Principal = pos.Principal.Sub(amount)
	pos.CheckpointTime = now
	pos.UpdatedAt = now

	receipt := domain.UnstakeReceipt{
		OperationRef:    uuid.NewString(),
		Owner:           owner,
		Amount:          amount,
		RemainingStaked: pos.Principal,
		RewardsEarned:   decimal.Zero,
		TotalReceived:   amount,
	}

	if pos.Principal.IsZero() {
		// Full withdrawal: terminal rewards pay out with the principal.
		receipt.RewardsEarned = pos.AccruedRewards
		receipt.TotalReceived = amount.Add(pos.AccruedRewards)
		receipt.PositionRemoved = true

		if err := l.positions.Delete(ctx, owner); err != nil {
			metrics.StakingOps.WithLabelValues("unstake", "error").Inc()
			return domain.UnstakeReceipt{}, fmt.Errorf("staking: delete position %s: %w", owner, err)
		}
	} else {
		if err := l.positions.Upsert(ctx, pos); err != nil {
			metrics.StakingOps.WithLabelValues("unstake", "error").Inc()
			return domain.UnstakeReceipt{}, fmt.Errorf("staking: save position %s: %w", owner, err)
		}
	}

	if _, err := l.pools.AddTotalStaked(ctx, l.cfg.TokenAddress, amount.Neg().String()); err != nil {
		l.logger.WarnContext(ctx, "pool total update failed",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
	}

	metrics.StakingOps.WithLabelValues("unstake", "ok").Inc()
	l.auditLog(ctx, "unstake", map[string]any{
		"operation_ref":    receipt.OperationRef,
		"owner":            owner,
		"amount":           amount.String(),
		"remaining":        pos.Principal.String(),
		"rewards_earned":   receipt.RewardsEarned.String(),
		"position_removed": receipt.PositionRemoved,
	})
	l.logger.InfoContext(ctx, "unstake accepted",
		slog.String("owner", owner),
		slog.String("amount", amount.String()),
		slog.String("remaining", pos.Principal.String()),
		slog.Bool("position_removed", receipt.PositionRemoved),
	)

	return receipt, nil
}

// PendingRewards returns the rewards the owner has earned but not been paid:
// realized accruals plus interest over the open interval since the last
// checkpoint. It never mutates the position and is safe to call repeatedly.
func (l *Ledger) PendingRewards(ctx context.Context, owner string) (decimal.Decimal, error) {
	owner = normalizeOwner(owner)

	pos, err := l.positions.Get(ctx, owner)
	if errors.Is(err, domain.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("staking: load position %s: %w", owner, err)
	}

	open := Accrue(pos.Principal, l.cfg.APYRate, l.now().Sub(pos.CheckpointTime))
	return pos.AccruedRewards.Add(open), nil
}

// Summary returns the owner's standing plus pool-level figures for the
// staking query endpoint. Owners without a position get zero balances.
func (l *Ledger) Summary(ctx context.Context, owner string) (domain.StakeSummary, error) {
	owner = normalizeOwner(owner)

	summary := domain.StakeSummary{
		Owner:          owner,
		StakingBalance: decimal.Zero,
		PendingRewards: decimal.Zero,
	}

	pos, err := l.positions.Get(ctx, owner)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.StakeSummary{}, fmt.Errorf("staking: load position %s: %w", owner, err)
	}
	if err == nil {
		summary.StakingBalance = pos.Principal
		open := Accrue(pos.Principal, l.cfg.APYRate, l.now().Sub(pos.CheckpointTime))
		summary.PendingRewards = pos.AccruedRewards.Add(open)
	}

	pool, err := l.pools.Get(ctx, l.cfg.TokenAddress)
	if err != nil {
		// Fall back to configured parameters with an unknown running total.
		pool = domain.Pool{
			TokenAddress:   l.cfg.TokenAddress,
			APYRate:        l.cfg.APYRate,
			MinimumStake:   l.cfg.MinimumStake,
			TotalStaked:    decimal.Zero,
			RewardsReserve: l.cfg.RewardsReserve,
		}
		l.logger.WarnContext(ctx, "pool row unavailable, serving configured defaults",
			slog.String("error", err.Error()),
		)
	}
	summary.Pool = pool

	return summary, nil
}

// ownerLock returns the stripe mutex for an owner.
func (l *Ledger) ownerLock(owner string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(owner))
	return &l.locks[h.Sum32()%lockStripes]
}

func (l *Ledger) auditLog(ctx context.Context, event string, detail map[string]any) {
	if l.audit == nil {
		return
	}
	if err := l.audit.Log(ctx, event, detail); err != nil {
		l.logger.WarnContext(ctx, "audit log write failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func normalizeOwner(owner string) string {
	return strings.ToLower(strings.TrimSpace(owner))
}
