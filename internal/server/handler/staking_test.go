package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanforge/marketd/internal/domain"
)

type fakeLedger struct {
	stakeReceipt   domain.StakeReceipt
	unstakeReceipt domain.UnstakeReceipt
	summary        domain.StakeSummary
	err            error

	lastOwner  string
	lastAmount decimal.Decimal
}

func (f *fakeLedger) Stake(_ context.Context, owner string, amount decimal.Decimal) (domain.StakeReceipt, error) {
	f.lastOwner, f.lastAmount = owner, amount
	return f.stakeReceipt, f.err
}

func (f *fakeLedger) Unstake(_ context.Context, owner string, amount decimal.Decimal) (domain.UnstakeReceipt, error) {
	f.lastOwner, f.lastAmount = owner, amount
	return f.unstakeReceipt, f.err
}

func (f *fakeLedger) Summary(_ context.Context, owner string) (domain.StakeSummary, error) {
	f.lastOwner = owner
	return f.summary, f.err
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func postStaking(t *testing.T, h *StakingHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/staking", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Execute(rec, req)
	return rec
}

func TestExecute_Stake(t *testing.T) {
	ledger := &fakeLedger{
		stakeReceipt: domain.StakeReceipt{
			OperationRef:           "op-1",
			Owner:                  "0xabc",
			Amount:                 decimal.RequireFromString("100"),
			TotalStaked:            decimal.RequireFromString("100"),
			APYRate:                decimal.RequireFromString("0.08"),
			EstimatedYearlyRewards: decimal.RequireFromString("8"),
		},
	}
	h := NewStakingHandler(ledger, discard())

	rec := postStaking(t, h, `{"userAddress":"0xABC","amount":"100","isStaking":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "stake", resp["stakingType"])
	assert.Equal(t, "op-1", resp["transactionReference"])
	assert.Equal(t, "100", resp["totalStaked"])
	assert.Equal(t, "0.08", resp["apy"])

	// Owner addresses are canonicalised to lower case before the ledger
	// sees them.
	assert.Equal(t, "0xabc", ledger.lastOwner)
	assert.True(t, ledger.lastAmount.Equal(decimal.RequireFromString("100")))
}

func TestExecute_Unstake(t *testing.T) {
	ledger := &fakeLedger{
		unstakeReceipt: domain.UnstakeReceipt{
			OperationRef:    "op-2",
			Owner:           "0xabc",
			Amount:          decimal.RequireFromString("40"),
			RemainingStaked: decimal.RequireFromString("60"),
			RewardsEarned:   decimal.Zero,
			TotalReceived:   decimal.RequireFromString("40"),
		},
	}
	h := NewStakingHandler(ledger, discard())

	rec := postStaking(t, h, `{"userAddress":"0xabc","amount":"40","isStaking":false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unstake", resp["stakingType"])
	assert.Equal(t, "60", resp["remainingStaked"])
	assert.Equal(t, false, resp["positionRemoved"])
}

func TestExecute_BadRequests(t *testing.T) {
	h := NewStakingHandler(&fakeLedger{}, discard())

	cases := map[string]string{
		"malformed json":  `{"userAddress":`,
		"missing address": `{"amount":"10","isStaking":true}`,
		"bad amount":      `{"userAddress":"0xabc","amount":"ten","isStaking":true}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := postStaking(t, h, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestExecute_ValidationErrorSurfacesVerbatim(t *testing.T) {
	ledger := &fakeLedger{err: domain.Validationf("minimum stake is 10")}
	h := NewStakingHandler(ledger, discard())

	rec := postStaking(t, h, `{"userAddress":"0xabc","amount":"5","isStaking":true}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "minimum stake is 10")
}

func TestSummary(t *testing.T) {
	ledger := &fakeLedger{
		summary: domain.StakeSummary{
			Owner:          "0xabc",
			StakingBalance: decimal.RequireFromString("150"),
			PendingRewards: decimal.RequireFromString("1.5"),
			Pool: domain.Pool{
				APYRate:        decimal.RequireFromString("0.08"),
				MinimumStake:   decimal.RequireFromString("10"),
				TotalStaked:    decimal.RequireFromString("125000"),
				RewardsReserve: decimal.RequireFromString("15000"),
			},
		},
	}
	h := NewStakingHandler(ledger, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/staking?userAddress=0xABC", nil)
	rec := httptest.NewRecorder()
	h.Summary(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "150", resp["stakingBalance"])
	assert.Equal(t, "1.5", resp["pendingRewards"])
	assert.Equal(t, "125000", resp["totalStaked"])
	assert.Equal(t, "15000", resp["stakingRewards"])
	assert.Equal(t, "0xabc", ledger.lastOwner)
}

func TestSummary_RequiresAddress(t *testing.T) {
	h := NewStakingHandler(&fakeLedger{}, discard())

	req := httptest.NewRequest(http.MethodGet, "/api/staking", nil)
	rec := httptest.NewRecorder()
	h.Summary(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
