package captable

import (
	"sort"

	"github.com/shopspring/decimal"
)

// one hundred percent expressed in micro-percent units (6 decimal digits).
const hundredPercentMicro int64 = 100_000_000

// allocatePercentages converts a slice of non-negative weights into
// percentages at 6 decimal digits that sum to exactly 100.000000.
//
// Each weight first receives the floor of its exact micro-percent share;
// the leftover units are then handed to the entries with the largest
// fractional remainders (largest-remainder allocation). Ties are broken by
// the larger weight, then by input position, so callers that pass entries
// in a deterministic order get deterministic output.
func allocatePercentages(weights []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(weights))
	if len(weights) == 0 {
		return out
	}

	total := decimal.Zero
	for _, w := range weights {
		total = total.Add(w)
	}
	if !total.IsPositive() {
		for i := range out {
			out[i] = decimal.Zero.Round(6)
		}
		return out
	}

	type share struct {
		index     int
		units     int64
		remainder decimal.Decimal
	}

	shares := make([]share, len(weights))
	var allocated int64
	for i, w := range weights {
		exact := w.Mul(decimal.NewFromInt(hundredPercentMicro)).Div(total)
		units := exact.Floor().IntPart()
		shares[i] = share{index: i, units: units, remainder: exact.Sub(exact.Floor())}
		allocated += units
	}

	leftover := hundredPercentMicro - allocated
	order := make([]int, len(shares))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := shares[order[a]], shares[order[b]]
		if !sa.remainder.Equal(sb.remainder) {
			return sa.remainder.GreaterThan(sb.remainder)
		}
		return weights[sa.index].GreaterThan(weights[sb.index])
	})
	for i := int64(0); i < leftover; i++ {
		shares[order[i%int64(len(order))]].units++
	}

	for _, s := range shares {
		out[s.index] = decimal.New(s.units, -6)
	}
	return out
}
