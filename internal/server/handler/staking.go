package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fanforge/marketd/internal/domain"
)

// StakingLedger is the slice of the staking ledger the handler needs.
type StakingLedger interface {
	Stake(ctx context.Context, owner string, amount decimal.Decimal) (domain.StakeReceipt, error)
	Unstake(ctx context.Context, owner string, amount decimal.Decimal) (domain.UnstakeReceipt, error)
	Summary(ctx context.Context, owner string) (domain.StakeSummary, error)
}

// StakingHandler serves the staking endpoints.
type StakingHandler struct {
	ledger StakingLedger
	logger *slog.Logger
}

// NewStakingHandler creates a StakingHandler.
func NewStakingHandler(ledger StakingLedger, logger *slog.Logger) *StakingHandler {
	return &StakingHandler{
		ledger: ledger,
		logger: logHandler(logger, "staking"),
	}
}

// stakingRequest mirrors the wire contract of the frontend this API replaced.
// TokenAddress is accepted for compatibility; the ledger runs a single pool.
type stakingRequest struct {
	TokenAddress string `json:"tokenAddress"`
	UserAddress  string `json:"userAddress"`
	Amount       string `json:"amount"`
	IsStaking    bool   `json:"isStaking"`
}

type stakeResponse struct {
	Message                string `json:"message"`
	TransactionReference   string `json:"transactionReference"`
	StakingType            string `json:"stakingType"`
	Amount                 string `json:"amount"`
	TotalStaked            string `json:"totalStaked"`
	APY                    string `json:"apy"`
	EstimatedYearlyRewards string `json:"estimatedYearlyRewards"`
}

type unstakeResponse struct {
	Message              string `json:"message"`
	TransactionReference string `json:"transactionReference"`
	StakingType          string `json:"stakingType"`
	Amount               string `json:"amount"`
	RemainingStaked      string `json:"remainingStaked"`
	RewardsEarned        string `json:"rewardsEarned"`
	TotalReceived        string `json:"totalReceived"`
	PositionRemoved      bool   `json:"positionRemoved"`
}

type summaryResponse struct {
	UserAddress    string `json:"userAddress"`
	StakingBalance string `json:"stakingBalance"`
	PendingRewards string `json:"pendingRewards"`
	TotalStaked    string `json:"totalStaked"`
	APYRate        string `json:"apyRate"`
	MinimumStake   string `json:"minimumStake"`
	StakingRewards string `json:"stakingRewards"`
}

// Execute stakes or unstakes on behalf of an owner.
// POST /api/staking
func (h *StakingHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req stakingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	owner := strings.ToLower(strings.TrimSpace(req.UserAddress))
	if owner == "" {
		writeError(w, http.StatusBadRequest, "userAddress is required")
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount must be a decimal string")
		return
	}

	ctx := r.Context()
	if req.IsStaking {
		receipt, err := h.ledger.Stake(ctx, owner, amount)
		if err != nil {
			h.logger.ErrorContext(ctx, "stake failed",
				slog.String("owner", owner),
				slog.String("error", err.Error()),
			)
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stakeResponse{
			Message:                "tokens staked",
			TransactionReference:   receipt.OperationRef,
			StakingType:            "stake",
			Amount:                 receipt.Amount.String(),
			TotalStaked:            receipt.TotalStaked.String(),
			APY:                    receipt.APYRate.String(),
			EstimatedYearlyRewards: receipt.EstimatedYearlyRewards.String(),
		})
		return
	}

	receipt, err := h.ledger.Unstake(ctx, owner, amount)
	if err != nil {
		h.logger.ErrorContext(ctx, "unstake failed",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unstakeResponse{
		Message:              "tokens unstaked",
		TransactionReference: receipt.OperationRef,
		StakingType:          "unstake",
		Amount:               receipt.Amount.String(),
		RemainingStaked:      receipt.RemainingStaked.String(),
		RewardsEarned:        receipt.RewardsEarned.String(),
		TotalReceived:        receipt.TotalReceived.String(),
		PositionRemoved:      receipt.PositionRemoved,
	})
}

// Summary returns an owner's balance, live pending rewards and the pool
// parameters. Owners with no position get zero balances and the pool defaults.
// GET /api/staking?userAddress=0x...
func (h *StakingHandler) Summary(w http.ResponseWriter, r *http.Request) {
	owner := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("userAddress")))
	if owner == "" {
		writeError(w, http.StatusBadRequest, "userAddress query parameter is required")
		return
	}

	summary, err := h.ledger.Summary(r.Context(), owner)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "staking summary failed",
			slog.String("owner", owner),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{
		UserAddress:    summary.Owner,
		StakingBalance: summary.StakingBalance.String(),
		PendingRewards: summary.PendingRewards.String(),
		TotalStaked:    summary.Pool.TotalStaked.String(),
		APYRate:        summary.Pool.APYRate.String(),
		MinimumStake:   summary.Pool.MinimumStake.String(),
		StakingRewards: summary.Pool.RewardsReserve.String(),
	})
}
