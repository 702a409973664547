package captable

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/example/captable/internal/equity"
)

func fourYearGrant() *equity.OptionGrant {
	return &equity.OptionGrant{
		ID:            "grant-1",
		ShareholderID: "sh-emp",
		Quantity:      decimal.NewFromInt(48_000),
		Vesting: equity.VestingSchedule{
			StartDate:      time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			CliffMonths:    12,
			DurationMonths: 48,
		},
		Status: equity.GrantActive,
	}
}

func TestVestedQuantity(t *testing.T) {
	grant := fourYearGrant()

	cases := []struct {
		name string
		asOf time.Time
		want int64
	}{
		{"before start", time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC), 0},
		{"before cliff", time.Date(2024, 11, 15, 0, 0, 0, 0, time.UTC), 0},
		{"day before cliff anniversary", time.Date(2025, 1, 14, 0, 0, 0, 0, time.UTC), 0},
		{"at cliff", time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), 12_000},
		{"mid-schedule", time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC), 30_000},
		{"at full duration", time.Date(2028, 1, 15, 0, 0, 0, 0, time.UTC), 48_000},
		{"after full duration", time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), 48_000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := VestedQuantity(grant, tc.asOf)
			assert.True(t, got.Equal(decimal.NewFromInt(tc.want)), "got %s", got)
		})
	}
}

func TestVestedQuantityProRataFloors(t *testing.T) {
	grant := fourYearGrant()
	grant.Quantity = decimal.NewFromInt(1000)

	// 13/48 of 1000 = 270.833..., floored to whole shares.
	got := VestedQuantity(grant, time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC))
	assert.True(t, got.Equal(decimal.NewFromInt(270)), "got %s", got)

	unvested := UnvestedQuantity(grant, time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC))
	assert.True(t, unvested.Equal(decimal.NewFromInt(730)))
}

func TestVestedQuantityNoSchedule(t *testing.T) {
	grant := fourYearGrant()
	grant.Vesting = equity.VestingSchedule{}

	got := VestedQuantity(grant, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, got.Equal(grant.Quantity))
}

func TestAccruedInterestSimple(t *testing.T) {
	inst := &equity.ConvertibleInstrument{
		PrincipalAmount: decimal.NewFromInt(100_000),
		InterestRate:    decimal.NewFromFloat(0.10),
		InterestType:    equity.InterestSimple,
		IssuedAt:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	got := AccruedInterest(inst, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, got.Equal(decimal.NewFromInt(10_000)), "got %s", got)

	// Partial year: 182/365 of the annual interest.
	got = AccruedInterest(inst, inst.IssuedAt.AddDate(0, 0, 182))
	years := decimal.NewFromInt(182).Div(decimal.NewFromInt(365))
	want := decimal.NewFromInt(100_000).Mul(decimal.NewFromFloat(0.10)).Mul(years)
	assert.True(t, got.Equal(want), "got %s", got)
}

func TestAccruedInterestCompound(t *testing.T) {
	inst := &equity.ConvertibleInstrument{
		PrincipalAmount: decimal.NewFromInt(100_000),
		InterestRate:    decimal.NewFromFloat(0.10),
		InterestType:    equity.InterestCompound,
		IssuedAt:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	// Two whole 365-day years: (1.1)^2 - 1 = 21%.
	got := AccruedInterest(inst, inst.IssuedAt.AddDate(0, 0, 730))
	assert.True(t, got.Equal(decimal.NewFromInt(21_000)), "got %s", got)
}

func TestAccruedInterestZeroRate(t *testing.T) {
	inst := &equity.ConvertibleInstrument{
		PrincipalAmount: decimal.NewFromInt(100_000),
		InterestType:    equity.InterestSimple,
		IssuedAt:        time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	got := AccruedInterest(inst, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, got.IsZero())

	// Not yet issued as of the query date.
	inst.InterestRate = decimal.NewFromFloat(0.10)
	got = AccruedInterest(inst, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, got.IsZero())
}
