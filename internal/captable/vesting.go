package captable

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/captable/internal/equity"
)

// monthsElapsed returns the number of whole calendar months between start
// and asOf, never negative.
func monthsElapsed(start, asOf time.Time) int {
	if asOf.Before(start) {
		return 0
	}
	months := (asOf.Year()-start.Year())*12 + int(asOf.Month()) - int(start.Month())
	if asOf.Day() < start.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// VestedQuantity returns the vested portion of a grant as of the given
// instant: zero before the cliff, the full quantity after the vesting
// duration, and a monthly pro-rata amount in between, floored to whole
// shares.
func VestedQuantity(grant *equity.OptionGrant, asOf time.Time) decimal.Decimal {
	schedule := grant.Vesting
	if schedule.DurationMonths <= 0 {
		return grant.Quantity
	}

	months := monthsElapsed(schedule.StartDate, asOf)
	if months < schedule.CliffMonths {
		return decimal.Zero
	}
	if months >= schedule.DurationMonths {
		return grant.Quantity
	}

	return grant.Quantity.
		Mul(decimal.NewFromInt(int64(months))).
		Div(decimal.NewFromInt(int64(schedule.DurationMonths))).
		Floor()
}

// UnvestedQuantity returns the grant quantity not yet vested as of the
// given instant.
func UnvestedQuantity(grant *equity.OptionGrant, asOf time.Time) decimal.Decimal {
	return grant.Quantity.Sub(VestedQuantity(grant, asOf))
}
