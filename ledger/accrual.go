package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCRUAL - Simple interest, prorated by days held
// =============================================================================

var (
	daysPerYear = decimal.NewFromInt(365)
	hundred     = decimal.NewFromInt(100)
	dayNanos    = decimal.NewFromInt(int64(24 * time.Hour))
)

// Accrual is the result of holding a principal over a period.
type Accrual struct {
	Days decimal.Decimal
	Gain decimal.Decimal
}

// DaysHeld returns the fractional number of days between start and end.
// It is negative when end is before start.
func DaysHeld(start, end time.Time) decimal.Decimal {
	return decimal.NewFromInt(int64(end.Sub(start))).Div(dayNanos)
}

// Gain computes principal * annualRate * (days / 365).
// annualRate is a fraction (0.10 for 10%). The year is always 365 days,
// leap years included, and interest never compounds.
func Gain(principal, annualRate, days decimal.Decimal) decimal.Decimal {
	// Divide last so whole-year holdings stay exact.
	return principal.Mul(annualRate).Mul(days).Div(daysPerYear)
}

// RateFraction converts a percent rate (10) to a fraction (0.10).
func RateFraction(percent decimal.Decimal) decimal.Decimal {
	return percent.Div(hundred)
}

// Accrue computes days held and gain for a principal at a percent rate.
// A holding period that ends before it starts accrues nothing.
func Accrue(principal, ratePercent decimal.Decimal, start, end time.Time) Accrual {
	days := DaysHeld(start, end)
	if days.IsNegative() {
		days = decimal.Zero
	}
	return Accrual{
		Days: days,
		Gain: Gain(principal, RateFraction(ratePercent), days),
	}
}

// AccrueInvestment previews what closing inv at the given instant would earn.
func AccrueInvestment(inv Investment, at time.Time) Accrual {
	return Accrue(inv.Amount, inv.ROIRate, inv.CreatedAt, at)
}
