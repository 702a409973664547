package captable

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/captable/internal/equity"
)

var daysPerYear = decimal.NewFromInt(365)

// AccruedInterest derives the interest accrued on an instrument between its
// issue date and asOf. It is always recomputed, never stored.
//
// SIMPLE interest is principal × rate × years. COMPOUND interest compounds
// annually for each whole elapsed year and accrues simple interest for the
// remaining fraction of a year, keeping the computation exact in decimal
// arithmetic.
func AccruedInterest(inst *equity.ConvertibleInstrument, asOf time.Time) decimal.Decimal {
	if inst.InterestRate.IsZero() || !asOf.After(inst.IssuedAt) {
		return decimal.Zero
	}

	days := decimal.NewFromInt(int64(asOf.Sub(inst.IssuedAt).Hours() / 24))
	years := days.Div(daysPerYear)

	switch inst.InterestType {
	case equity.InterestCompound:
		wholeYears := years.Floor()
		fraction := years.Sub(wholeYears)
		factor := decimal.NewFromInt(1).Add(inst.InterestRate).Pow(wholeYears)
		factor = factor.Mul(decimal.NewFromInt(1).Add(inst.InterestRate.Mul(fraction)))
		return inst.PrincipalAmount.Mul(factor.Sub(decimal.NewFromInt(1)))
	default:
		return inst.PrincipalAmount.Mul(inst.InterestRate).Mul(years)
	}
}

// conversionTerms are the cap and discount actually applied to an
// instrument, after any MFN adjustment.
type conversionTerms struct {
	valuationCap decimal.Decimal
	discountRate decimal.Decimal
}

// conversionPrice computes the price at which an instrument converts.
//
// For QUALIFIED_FINANCING the price is the better of the cap-based price
// (valuationCap over the trial fully-diluted share count) and the
// discounted round price; with neither term the round price applies
// unchanged. For MATURITY the price is the cap over the pre-conversion
// fully-diluted count, a fixed denominator with no iteration. The returned
// ok is false when the instrument cannot be priced at all.
func conversionPrice(inst *equity.ConvertibleInstrument, terms conversionTerms, roundPrice, trialFD, preConversionFD decimal.Decimal) (price decimal.Decimal, ok bool) {
	switch inst.ConversionTrigger {
	case equity.TriggerQualifiedFinancing:
		var candidates []decimal.Decimal
		if terms.valuationCap.IsPositive() && trialFD.IsPositive() {
			candidates = append(candidates, terms.valuationCap.Div(trialFD))
		}
		if terms.discountRate.IsPositive() && roundPrice.IsPositive() {
			candidates = append(candidates, roundPrice.Mul(decimal.NewFromInt(1).Sub(terms.discountRate)))
		}
		if len(candidates) == 0 {
			if roundPrice.IsPositive() {
				return roundPrice, true
			}
			return decimal.Zero, false
		}
		price = candidates[0]
		for _, c := range candidates[1:] {
			if c.LessThan(price) {
				price = c
			}
		}
		return price, price.IsPositive()

	case equity.TriggerMaturity:
		if !terms.valuationCap.IsPositive() || !preConversionFD.IsPositive() {
			return decimal.Zero, false
		}
		return terms.valuationCap.Div(preConversionFD), true

	default:
		return decimal.Zero, false
	}
}
