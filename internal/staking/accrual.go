// Package staking implements the stake ledger and its accrual math.
package staking

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fanforge/marketd/internal/domain"
)

var secondsPerYear = decimal.NewFromInt(domain.SecondsPerYear)

// Accrue computes simple (non-compounding) interest on principal at the
// given annual rate over elapsed time:
//
//	principal × apyRate × (elapsedSeconds / secondsPerYear)
//
// It is linear in elapsed time and deterministic in its inputs. Compounding
// falls out of checkpoint folding in the ledger -- every stake and unstake
// realizes accrued rewards and restarts the clock -- so no exponentiation
// happens here.
func Accrue(principal, apyRate decimal.Decimal, elapsed time.Duration) decimal.Decimal {
	if elapsed <= 0 {
		return decimal.Zero
	}
	elapsedSeconds := decimal.NewFromFloat(elapsed.Seconds())
	return principal.Mul(apyRate).Mul(elapsedSeconds.Div(secondsPerYear))
}
