package captable

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/captable/internal/equity"
)

// maxDilutionIterations bounds the fixed-point loop. Exceeding it surfaces
// a DilutionComputationError, never a silently wrong answer.
const maxDilutionIterations = 50

// DilutedEntry is one row of the fully-diluted cap table.
type DilutedEntry struct {
	ShareholderID          string          `json:"shareholder_id"`
	ShareClassID           string          `json:"share_class_id"`
	Shares                 decimal.Decimal `json:"shares"`
	OptionsVested          decimal.Decimal `json:"options_vested"`
	OptionsUnvested        decimal.Decimal `json:"options_unvested"`
	AsConvertedShares      decimal.Decimal `json:"as_converted_shares"`
	FullyDilutedShares     decimal.Decimal `json:"fully_diluted_shares"`
	FullyDilutedPercentage decimal.Decimal `json:"fully_diluted_percentage"`
}

// DilutedSummary aggregates the fully-diluted view.
type DilutedSummary struct {
	TotalSharesOutstanding  decimal.Decimal `json:"total_shares_outstanding"`
	TotalOptionsOutstanding decimal.Decimal `json:"total_options_outstanding"`
	FullyDilutedShares      decimal.Decimal `json:"fully_diluted_shares"`
}

// DilutedCapTable is the fully-diluted ownership view.
type DilutedCapTable struct {
	Entries []DilutedEntry `json:"entries"`
	Summary DilutedSummary `json:"summary"`
}

// DilutionInput carries everything the resolver needs. The resolver is a
// pure function over this input and may run concurrently with writers.
type DilutionInput struct {
	Transactions []*equity.Transaction
	Classes      []*equity.ShareClass
	Plans        []*equity.OptionPlan
	Grants       []*equity.OptionGrant
	Instruments  []*equity.ConvertibleInstrument
	Rounds       []*equity.FundingRound
	AsOf         time.Time
}

// FullyDiluted combines current balances with option grants and outstanding
// convertible instruments into the fully-diluted view.
//
// The cap-based conversion price depends on the fully-diluted share count,
// which depends on each instrument's own converted share count, so the
// resolver runs a bounded fixed-point iteration: price every instrument
// against a trial total, recompute the total, and repeat until it moves by
// less than one whole share.
func FullyDiluted(companyID string, in DilutionInput) (*DilutedCapTable, error) {
	asOf := in.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	balances, err := FoldBalances(in.Transactions)
	if err != nil {
		return nil, err
	}

	totalOutstanding := decimal.Zero
	for _, shares := range balances {
		totalOutstanding = totalOutstanding.Add(shares)
	}

	// Option grants: vested and unvested counted separately; only active
	// grants under plans whose status allows dilution count.
	activePlans := make(map[string]*equity.OptionPlan)
	for _, plan := range in.Plans {
		if plan.Status == equity.PlanActive {
			activePlans[plan.ID] = plan
		}
	}

	type optionPosition struct {
		vested   decimal.Decimal
		unvested decimal.Decimal
	}
	options := make(map[BalanceKey]optionPosition)
	totalOptions := decimal.Zero
	for _, grant := range in.Grants {
		if grant.Status != equity.GrantActive {
			continue
		}
		plan, ok := activePlans[grant.PlanID]
		if !ok {
			continue
		}
		vested := VestedQuantity(grant, asOf)
		unvested := grant.Quantity.Sub(vested)
		key := BalanceKey{grant.ShareholderID, plan.ShareClassID}
		pos := options[key]
		pos.vested = pos.vested.Add(vested)
		pos.unvested = pos.unvested.Add(unvested)
		options[key] = pos
		totalOptions = totalOptions.Add(grant.Quantity)
	}

	preConversionFD := totalOutstanding.Add(totalOptions)

	conversions, err := resolveInstruments(companyID, in, asOf, preConversionFD)
	if err != nil {
		return nil, err
	}
	converted := make(map[BalanceKey]decimal.Decimal)
	for _, c := range conversions {
		key := BalanceKey{c.HolderID, c.TargetShareClassID}
		converted[key] = converted[key].Add(c.Shares)
	}

	// Merge balances, options, and as-converted counts into entries.
	type position struct {
		shares      decimal.Decimal
		vested      decimal.Decimal
		unvested    decimal.Decimal
		asConverted decimal.Decimal
	}
	positions := make(map[BalanceKey]*position)
	at := func(key BalanceKey) *position {
		p, ok := positions[key]
		if !ok {
			p = &position{}
			positions[key] = p
		}
		return p
	}
	for key, shares := range balances {
		at(key).shares = shares
	}
	for key, pos := range options {
		p := at(key)
		p.vested = pos.vested
		p.unvested = pos.unvested
	}
	for key, shares := range converted {
		p := at(key)
		p.asConverted = p.asConverted.Add(shares)
	}

	keys := make([]BalanceKey, 0, len(positions))
	for key := range positions {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ShareholderID == keys[j].ShareholderID {
			return keys[i].ShareClassID < keys[j].ShareClassID
		}
		return keys[i].ShareholderID < keys[j].ShareholderID
	})

	entries := make([]DilutedEntry, len(keys))
	weights := make([]decimal.Decimal, len(keys))
	totalFD := decimal.Zero
	for i, key := range keys {
		p := positions[key]
		fd := p.shares.Add(p.vested).Add(p.unvested).Add(p.asConverted)
		entries[i] = DilutedEntry{
			ShareholderID:      key.ShareholderID,
			ShareClassID:       key.ShareClassID,
			Shares:             p.shares,
			OptionsVested:      p.vested,
			OptionsUnvested:    p.unvested,
			AsConvertedShares:  p.asConverted,
			FullyDilutedShares: fd,
		}
		weights[i] = fd
		totalFD = totalFD.Add(fd)
	}

	percentages := allocatePercentages(weights)
	for i := range entries {
		entries[i].FullyDilutedPercentage = percentages[i]
	}

	return &DilutedCapTable{
		Entries: entries,
		Summary: DilutedSummary{
			TotalSharesOutstanding:  totalOutstanding,
			TotalOptionsOutstanding: totalOptions,
			FullyDilutedShares:      totalFD,
		},
	}, nil
}

// activeRound returns the financing round currently driving
// qualified-financing conversion: the most recent OPEN or CLOSING round.
func activeRound(rounds []*equity.FundingRound) *equity.FundingRound {
	var best *equity.FundingRound
	for _, round := range rounds {
		if round.Status != equity.RoundOpen && round.Status != equity.RoundClosing {
			continue
		}
		if best == nil || round.CreatedAt.After(best.CreatedAt) {
			best = round
		}
	}
	return best
}

// effectiveTerms applies the MFN clause: an MFN instrument adopts, per
// term, the most favorable discount and valuation cap among the sibling
// instruments converting in the same round.
func effectiveTerms(inst *equity.ConvertibleInstrument, siblings []*equity.ConvertibleInstrument) conversionTerms {
	terms := conversionTerms{valuationCap: inst.ValuationCap, discountRate: inst.DiscountRate}
	if !inst.MFNClause {
		return terms
	}
	for _, sib := range siblings {
		if sib.DiscountRate.GreaterThan(terms.discountRate) {
			terms.discountRate = sib.DiscountRate
		}
		if sib.ValuationCap.IsPositive() &&
			(!terms.valuationCap.IsPositive() || sib.ValuationCap.LessThan(terms.valuationCap)) {
			terms.valuationCap = sib.ValuationCap
		}
	}
	return terms
}

// ConversionResult is the priced outcome for one convertible instrument.
type ConversionResult struct {
	InstrumentID       string          `json:"instrument_id"`
	HolderID           string          `json:"holder_id"`
	TargetShareClassID string          `json:"target_share_class_id"`
	ConversionPrice    decimal.Decimal `json:"conversion_price"`
	Shares             decimal.Decimal `json:"shares"`
}

// ResolveConversions prices every OUTSTANDING instrument against the
// current ledger state and returns the per-instrument as-converted share
// counts. Round closing uses this to emit CONVERSION transactions at the
// same prices the fully-diluted view reports.
func ResolveConversions(companyID string, in DilutionInput) ([]ConversionResult, error) {
	asOf := in.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	balances, err := FoldBalances(in.Transactions)
	if err != nil {
		return nil, err
	}
	preConversionFD := decimal.Zero
	for _, shares := range balances {
		preConversionFD = preConversionFD.Add(shares)
	}
	for _, grant := range in.Grants {
		if grant.Status == equity.GrantActive {
			preConversionFD = preConversionFD.Add(grant.Quantity)
		}
	}

	return resolveInstruments(companyID, in, asOf, preConversionFD)
}

// resolveInstruments prices every OUTSTANDING instrument via the bounded
// fixed-point loop and returns one result per eligible instrument.
func resolveInstruments(companyID string, in DilutionInput, asOf time.Time, preConversionFD decimal.Decimal) ([]ConversionResult, error) {
	round := activeRound(in.Rounds)
	roundPrice := decimal.Zero
	if round != nil {
		roundPrice = round.PricePerShare
	}

	var outstanding []*equity.ConvertibleInstrument
	var siblings []*equity.ConvertibleInstrument
	for _, inst := range in.Instruments {
		if inst.Status != equity.InstrumentOutstanding {
			continue
		}
		outstanding = append(outstanding, inst)
		if inst.ConversionTrigger == equity.TriggerQualifiedFinancing {
			siblings = append(siblings, inst)
		}
	}
	if len(outstanding) == 0 {
		return nil, nil
	}

	type pending struct {
		inst   *equity.ConvertibleInstrument
		terms  conversionTerms
		amount decimal.Decimal
		price  decimal.Decimal
		shares decimal.Decimal
	}
	var eligible []*pending
	for _, inst := range outstanding {
		switch inst.ConversionTrigger {
		case equity.TriggerMaturity:
			if !inst.ValuationCap.IsPositive() {
				return nil, &equity.DilutionComputationError{
					CompanyID: companyID,
					Reason:    "maturity-trigger instrument " + inst.ID + " has no valuation cap to price against",
				}
			}
		case equity.TriggerQualifiedFinancing:
			// Without a cap there is nothing to price against until a
			// round opens; such instruments stay out of the view.
			if !inst.ValuationCap.IsPositive() && !roundPrice.IsPositive() {
				continue
			}
		default:
			// No conversion mechanism, no dilution.
			continue
		}
		eligible = append(eligible, &pending{
			inst:   inst,
			terms:  effectiveTerms(inst, siblings),
			amount: inst.PrincipalAmount.Add(AccruedInterest(inst, asOf)),
		})
	}

	trial := preConversionFD
	converged := false
	for iter := 0; iter < maxDilutionIterations; iter++ {
		next := preConversionFD
		for _, p := range eligible {
			price, ok := conversionPrice(p.inst, p.terms, roundPrice, trial, preConversionFD)
			if !ok {
				return nil, &equity.DilutionComputationError{
					CompanyID: companyID,
					Reason:    "instrument " + p.inst.ID + " cannot be priced",
				}
			}
			p.price = price
			p.shares = p.amount.Div(price).Floor()
			next = next.Add(p.shares)
		}
		if next.Sub(trial).Abs().LessThan(decimal.NewFromInt(1)) {
			trial = next
			converged = true
			break
		}
		trial = next
	}
	if !converged {
		return nil, &equity.DilutionComputationError{
			CompanyID:  companyID,
			Iterations: maxDilutionIterations,
			Reason:     "conversion price fixed point did not converge",
		}
	}

	out := make([]ConversionResult, 0, len(eligible))
	for _, p := range eligible {
		out = append(out, ConversionResult{
			InstrumentID:       p.inst.ID,
			HolderID:           p.inst.HolderID,
			TargetShareClassID: p.inst.TargetShareClassID,
			ConversionPrice:    p.price,
			Shares:             p.shares,
		})
	}
	return out, nil
}
