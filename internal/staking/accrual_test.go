package staking

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/fanforge/marketd/internal/domain"
)

const yearSeconds = domain.SecondsPerYear * time.Second

func TestAccrue_FullYear(t *testing.T) {
	got := Accrue(decimal.NewFromInt(1000), decimal.RequireFromString("0.08"), yearSeconds)

	diff := got.Sub(decimal.NewFromInt(80)).Abs()
	assert.True(t, diff.LessThan(decimal.RequireFromString("0.000001")),
		"accrue(1000, 0.08, 1y) = %s, want 80 within 1e-6", got)
}

func TestAccrue_ZeroElapsed(t *testing.T) {
	cases := []struct {
		name      string
		principal string
		rate      string
	}{
		{"typical", "1000", "0.08"},
		{"zero principal", "0", "0.08"},
		{"zero rate", "5000", "0"},
		{"large principal", "125000000", "0.15"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Accrue(
				decimal.RequireFromString(tc.principal),
				decimal.RequireFromString(tc.rate),
				0,
			)
			assert.True(t, got.IsZero(), "zero elapsed must accrue zero, got %s", got)
		})
	}
}

func TestAccrue_NegativeElapsedClampsToZero(t *testing.T) {
	got := Accrue(decimal.NewFromInt(1000), decimal.RequireFromString("0.08"), -time.Hour)
	assert.True(t, got.IsZero())
}

func TestAccrue_LinearInTime(t *testing.T) {
	principal := decimal.NewFromInt(500)
	rate := decimal.RequireFromString("0.10")

	half := Accrue(principal, rate, yearSeconds/2)
	full := Accrue(principal, rate, yearSeconds)

	diff := full.Sub(half.Mul(decimal.NewFromInt(2))).Abs()
	assert.True(t, diff.LessThan(decimal.RequireFromString("0.000001")),
		"half-year accrual must be exactly half the full-year accrual")
}

func TestAccrue_Deterministic(t *testing.T) {
	principal := decimal.RequireFromString("1234.5678")
	rate := decimal.RequireFromString("0.0725")
	elapsed := 37 * 24 * time.Hour

	first := Accrue(principal, rate, elapsed)
	second := Accrue(principal, rate, elapsed)
	assert.True(t, first.Equal(second))
}
