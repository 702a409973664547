package captable

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/captable/internal/equity"
)

func baseDilutionInput(issued int64) DilutionInput {
	return DilutionInput{
		Transactions: []*equity.Transaction{
			confirmedTx("tx-1", equity.TxIssuance, "", "sh-founder", "cls-c", issued),
		},
		Classes: []*equity.ShareClass{commonClass("cls-c", 1), commonClass("cls-p", 1)},
		AsOf:    time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func outstandingInstrument(id string, principal, cap int64, trigger equity.ConversionTrigger) *equity.ConvertibleInstrument {
	return &equity.ConvertibleInstrument{
		ID:                 id,
		CompanyID:          "co-1",
		HolderID:           "sh-investor",
		PrincipalAmount:    decimal.NewFromInt(principal),
		ValuationCap:       decimal.NewFromInt(cap),
		ConversionTrigger:  trigger,
		TargetShareClassID: "cls-p",
		Status:             equity.InstrumentOutstanding,
		IssuedAt:           time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestFullyDilutedCapConversionFixedPoint(t *testing.T) {
	// 1,000,000 shares outstanding, a 512,500 note against a 10,000,000
	// cap. The cap price depends on the fully-diluted total, which depends
	// on the converted share count; the fixed point settles at 54,018
	// shares and a 1,054,018 total.
	in := baseDilutionInput(1_000_000)
	in.Instruments = []*equity.ConvertibleInstrument{
		outstandingInstrument("cn-1", 512_500, 10_000_000, equity.TriggerQualifiedFinancing),
	}

	table, err := FullyDiluted("co-1", in)
	require.NoError(t, err)

	require.Len(t, table.Entries, 2)
	investor := table.Entries[1]
	assert.Equal(t, "sh-investor", investor.ShareholderID)
	assert.True(t, investor.AsConvertedShares.Equal(decimal.NewFromInt(54_018)),
		"as-converted = %s", investor.AsConvertedShares)
	assert.True(t, table.Summary.FullyDilutedShares.Equal(decimal.NewFromInt(1_054_018)),
		"fully diluted = %s", table.Summary.FullyDilutedShares)
	assert.True(t, table.Summary.TotalSharesOutstanding.Equal(decimal.NewFromInt(1_000_000)))
}

func TestFullyDilutedDivergenceFails(t *testing.T) {
	// A note whose principal exceeds its own cap mints more than one new
	// share per existing share on every pass; the trial total doubles
	// forever instead of settling.
	in := baseDilutionInput(1_000_000)
	in.Instruments = []*equity.ConvertibleInstrument{
		outstandingInstrument("cn-1", 20_000_000, 10_000_000, equity.TriggerQualifiedFinancing),
	}

	_, err := FullyDiluted("co-1", in)
	var dilutionErr *equity.DilutionComputationError
	require.ErrorAs(t, err, &dilutionErr)
	assert.Equal(t, "co-1", dilutionErr.CompanyID)
	assert.Equal(t, 50, dilutionErr.Iterations)
}

func TestFullyDilutedMaturityUsesFixedDenominator(t *testing.T) {
	// MATURITY prices against the pre-conversion count, so the converted
	// shares are cap-price shares with no feedback loop: 512,500 / 10 =
	// 51,250.
	in := baseDilutionInput(1_000_000)
	in.Instruments = []*equity.ConvertibleInstrument{
		outstandingInstrument("cn-1", 512_500, 10_000_000, equity.TriggerMaturity),
	}

	table, err := FullyDiluted("co-1", in)
	require.NoError(t, err)

	investor := table.Entries[1]
	assert.True(t, investor.AsConvertedShares.Equal(decimal.NewFromInt(51_250)))
}

func TestFullyDilutedMaturityWithoutCapFails(t *testing.T) {
	in := baseDilutionInput(1_000_000)
	in.Instruments = []*equity.ConvertibleInstrument{
		outstandingInstrument("cn-1", 100_000, 0, equity.TriggerMaturity),
	}

	_, err := FullyDiluted("co-1", in)
	var dilutionErr *equity.DilutionComputationError
	require.ErrorAs(t, err, &dilutionErr)
	assert.Contains(t, dilutionErr.Reason, "cn-1")
}

func TestFullyDilutedExcludesNonConverting(t *testing.T) {
	in := baseDilutionInput(1_000_000)
	in.Instruments = []*equity.ConvertibleInstrument{
		outstandingInstrument("cn-none", 100_000, 10_000_000, equity.TriggerNone),
	}
	converted := outstandingInstrument("cn-done", 100_000, 10_000_000, equity.TriggerQualifiedFinancing)
	converted.Status = equity.InstrumentConverted
	in.Instruments = append(in.Instruments, converted)

	table, err := FullyDiluted("co-1", in)
	require.NoError(t, err)

	require.Len(t, table.Entries, 1)
	assert.True(t, table.Summary.FullyDilutedShares.Equal(decimal.NewFromInt(1_000_000)))
}

func TestFullyDilutedCountsOptions(t *testing.T) {
	in := baseDilutionInput(900_000)
	in.Plans = []*equity.OptionPlan{{
		ID: "plan-1", CompanyID: "co-1", ShareClassID: "cls-c",
		TotalPoolSize: decimal.NewFromInt(100_000),
		Status:        equity.PlanActive,
	}}
	in.Grants = []*equity.OptionGrant{{
		ID: "grant-1", PlanID: "plan-1", CompanyID: "co-1",
		ShareholderID: "sh-emp",
		Quantity:      decimal.NewFromInt(48_000),
		Vesting: equity.VestingSchedule{
			StartDate:      time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			CliffMonths:    12,
			DurationMonths: 48,
		},
		Status: equity.GrantActive,
	}}

	table, err := FullyDiluted("co-1", in)
	require.NoError(t, err)
	require.Len(t, table.Entries, 2)

	// 24 of 48 months elapsed at the as-of date.
	employee := table.Entries[0]
	assert.Equal(t, "sh-emp", employee.ShareholderID)
	assert.True(t, employee.OptionsVested.Equal(decimal.NewFromInt(24_000)))
	assert.True(t, employee.OptionsUnvested.Equal(decimal.NewFromInt(24_000)))
	assert.True(t, employee.FullyDilutedShares.Equal(decimal.NewFromInt(48_000)))
	assert.True(t, table.Summary.TotalOptionsOutstanding.Equal(decimal.NewFromInt(48_000)))
	assert.True(t, table.Summary.FullyDilutedShares.Equal(decimal.NewFromInt(948_000)))
}

func TestFullyDilutedIgnoresInactiveGrantsAndPlans(t *testing.T) {
	in := baseDilutionInput(1_000_000)
	in.Plans = []*equity.OptionPlan{
		{ID: "plan-live", CompanyID: "co-1", ShareClassID: "cls-c", Status: equity.PlanActive},
		{ID: "plan-dead", CompanyID: "co-1", ShareClassID: "cls-c", Status: equity.PlanTerminated},
	}
	in.Grants = []*equity.OptionGrant{
		{ID: "g-forfeited", PlanID: "plan-live", ShareholderID: "sh-x",
			Quantity: decimal.NewFromInt(1000), Status: equity.GrantForfeited},
		{ID: "g-dead-plan", PlanID: "plan-dead", ShareholderID: "sh-y",
			Quantity: decimal.NewFromInt(1000), Status: equity.GrantActive},
	}

	table, err := FullyDiluted("co-1", in)
	require.NoError(t, err)

	require.Len(t, table.Entries, 1)
	assert.True(t, table.Summary.TotalOptionsOutstanding.IsZero())
}

func TestResolveConversionsMFN(t *testing.T) {
	// The MFN note carries no cap and no discount of its own but adopts
	// the sibling's 20% discount and 8,000,000 cap, so both notes convert
	// on identical terms below the round price.
	mfn := outstandingInstrument("cn-mfn", 100_000, 0, equity.TriggerQualifiedFinancing)
	mfn.MFNClause = true
	sibling := outstandingInstrument("cn-sib", 100_000, 8_000_000, equity.TriggerQualifiedFinancing)
	sibling.DiscountRate = decimal.NewFromFloat(0.20)

	in := baseDilutionInput(1_000_000)
	in.Instruments = []*equity.ConvertibleInstrument{mfn, sibling}
	in.Rounds = []*equity.FundingRound{{
		ID: "round-1", CompanyID: "co-1",
		TargetAmount:  decimal.NewFromInt(5_000_000),
		PricePerShare: decimal.NewFromInt(10),
		ShareClassID:  "cls-p",
		Status:        equity.RoundOpen,
	}}

	results, err := ResolveConversions("co-1", in)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].ConversionPrice.Equal(results[1].ConversionPrice))
	assert.True(t, results[0].Shares.Equal(results[1].Shares))
	assert.True(t, results[0].ConversionPrice.LessThan(decimal.NewFromInt(8)),
		"cap price should beat the discounted round price, got %s", results[0].ConversionPrice)
}

func TestResolveConversionsWithoutMFNUsesOwnTerms(t *testing.T) {
	// Same setup minus the MFN clause: the bare note has no cap and no
	// discount, so it converts at the full round price.
	bare := outstandingInstrument("cn-bare", 100_000, 0, equity.TriggerQualifiedFinancing)
	sibling := outstandingInstrument("cn-sib", 100_000, 8_000_000, equity.TriggerQualifiedFinancing)
	sibling.DiscountRate = decimal.NewFromFloat(0.20)

	in := baseDilutionInput(1_000_000)
	in.Instruments = []*equity.ConvertibleInstrument{bare, sibling}
	in.Rounds = []*equity.FundingRound{{
		ID: "round-1", CompanyID: "co-1",
		TargetAmount:  decimal.NewFromInt(5_000_000),
		PricePerShare: decimal.NewFromInt(10),
		ShareClassID:  "cls-p",
		Status:        equity.RoundOpen,
	}}

	results, err := ResolveConversions("co-1", in)
	require.NoError(t, err)
	require.Len(t, results, 2)

	var bareResult ConversionResult
	for _, res := range results {
		if res.InstrumentID == "cn-bare" {
			bareResult = res
		}
	}
	assert.True(t, bareResult.ConversionPrice.Equal(decimal.NewFromInt(10)))
	assert.True(t, bareResult.Shares.Equal(decimal.NewFromInt(10_000)))
}

func TestResolveConversionsCapVersusDiscount(t *testing.T) {
	// With a loose cap the discounted round price wins.
	note := outstandingInstrument("cn-1", 100_000, 100_000_000, equity.TriggerQualifiedFinancing)
	note.DiscountRate = decimal.NewFromFloat(0.20)

	in := baseDilutionInput(1_000_000)
	in.Instruments = []*equity.ConvertibleInstrument{note}
	in.Rounds = []*equity.FundingRound{{
		ID: "round-1", CompanyID: "co-1",
		TargetAmount:  decimal.NewFromInt(5_000_000),
		PricePerShare: decimal.NewFromInt(10),
		ShareClassID:  "cls-p",
		Status:        equity.RoundOpen,
	}}

	results, err := ResolveConversions("co-1", in)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.True(t, results[0].ConversionPrice.Equal(decimal.NewFromInt(8)))
	assert.True(t, results[0].Shares.Equal(decimal.NewFromInt(12_500)))
}

func TestResolveConversionsSkipsUnpriceableQF(t *testing.T) {
	// No cap and no open round: nothing to price against, so the note
	// stays out of the view instead of failing it.
	in := baseDilutionInput(1_000_000)
	in.Instruments = []*equity.ConvertibleInstrument{
		outstandingInstrument("cn-1", 100_000, 0, equity.TriggerQualifiedFinancing),
	}

	results, err := ResolveConversions("co-1", in)
	require.NoError(t, err)
	assert.Empty(t, results)
}
