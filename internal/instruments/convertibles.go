package instruments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/captable/internal/captable"
	"github.com/example/captable/internal/equity"
	"github.com/example/captable/internal/ledger"
)

// instrumentTransitions defines the one-way instrument lifecycle. Every
// status out of OUTSTANDING is terminal.
func instrumentTransitions() map[equity.InstrumentStatus][]equity.InstrumentStatus {
	return map[equity.InstrumentStatus][]equity.InstrumentStatus{
		equity.InstrumentOutstanding: {
			equity.InstrumentConverted,
			equity.InstrumentRedeemed,
			equity.InstrumentMatured,
			equity.InstrumentCancelled,
		},
		equity.InstrumentConverted: {},
		equity.InstrumentRedeemed:  {},
		equity.InstrumentMatured:   {},
		equity.InstrumentCancelled: {},
	}
}

// CreateInstrumentRequest carries the fields for a new convertible.
type CreateInstrumentRequest struct {
	CompanyID                   string
	HolderID                    string
	PrincipalAmount             decimal.Decimal
	InterestRate                decimal.Decimal
	InterestType                equity.InterestType
	ValuationCap                decimal.Decimal
	DiscountRate                decimal.Decimal
	QualifiedFinancingThreshold decimal.Decimal
	ConversionTrigger           equity.ConversionTrigger
	TargetShareClassID          string
	AutoConvert                 bool
	MFNClause                   bool
	IssuedAt                    time.Time
	MaturityDate                time.Time
}

// CreateInstrument registers a new OUTSTANDING convertible instrument.
func (s *Service) CreateInstrument(ctx context.Context, req CreateInstrumentRequest) (*equity.ConvertibleInstrument, error) {
	if req.CompanyID == "" {
		return nil, fmt.Errorf("company_id is required")
	}
	if req.HolderID == "" {
		return nil, fmt.Errorf("holder_id is required")
	}
	if !req.PrincipalAmount.IsPositive() {
		return nil, fmt.Errorf("principal_amount must be positive")
	}
	if req.InterestRate.IsNegative() {
		return nil, fmt.Errorf("interest_rate must be non-negative")
	}
	if req.DiscountRate.IsNegative() || req.DiscountRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("discount_rate must be in [0, 1)")
	}
	switch req.InterestType {
	case "", equity.InterestSimple, equity.InterestCompound:
	default:
		return nil, fmt.Errorf("invalid interest type: %s", req.InterestType)
	}
	switch req.ConversionTrigger {
	case equity.TriggerQualifiedFinancing, equity.TriggerMaturity, equity.TriggerNone:
	default:
		return nil, fmt.Errorf("invalid conversion trigger: %s", req.ConversionTrigger)
	}
	if _, err := s.registry.Get(ctx, req.TargetShareClassID); err != nil {
		return nil, err
	}

	issuedAt := req.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now().UTC()
	}
	interestType := req.InterestType
	if interestType == "" {
		interestType = equity.InterestSimple
	}

	inst := &equity.ConvertibleInstrument{
		ID:                          uuid.NewString(),
		CompanyID:                   req.CompanyID,
		HolderID:                    req.HolderID,
		PrincipalAmount:             req.PrincipalAmount,
		InterestRate:                req.InterestRate,
		InterestType:                interestType,
		ValuationCap:                req.ValuationCap,
		DiscountRate:                req.DiscountRate,
		QualifiedFinancingThreshold: req.QualifiedFinancingThreshold,
		ConversionTrigger:           req.ConversionTrigger,
		TargetShareClassID:          req.TargetShareClassID,
		AutoConvert:                 req.AutoConvert,
		MFNClause:                   req.MFNClause,
		Status:                      equity.InstrumentOutstanding,
		IssuedAt:                    issuedAt,
		MaturityDate:                req.MaturityDate,
	}
	s.store.putInstrument(inst)
	s.record("", "instrument.create", "convertible_instrument", inst.ID, nil, inst)
	return inst, nil
}

// TransitionInstrument moves an instrument to a terminal status without
// conversion (redeemed, matured, cancelled).
func (s *Service) TransitionInstrument(ctx context.Context, instrumentID string, to equity.InstrumentStatus, actor string) (*equity.ConvertibleInstrument, error) {
	if to == equity.InstrumentConverted {
		return nil, fmt.Errorf("use Convert to convert an instrument")
	}
	inst, err := s.store.getInstrument(instrumentID)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, next := range instrumentTransitions()[inst.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, &equity.InvalidStateTransitionError{
			EntityID:   instrumentID,
			FromStatus: string(inst.Status),
			ToStatus:   string(to),
		}
	}

	before := *inst
	inst.Status = to
	s.store.putInstrument(inst)
	s.record(actor, "instrument.transition", "convertible_instrument", inst.ID, &before, inst)
	return inst, nil
}

// Convert converts an OUTSTANDING instrument using a priced resolution,
// emitting a CONVERSION transaction onto the ledger and marking the
// instrument CONVERTED. Converting an already-converted instrument is a
// no-op that returns the original conversion transaction, so retries are
// safe.
func (s *Service) Convert(ctx context.Context, result captable.ConversionResult, actor string) (*equity.Transaction, error) {
	inst, err := s.store.getInstrument(result.InstrumentID)
	if err != nil {
		return nil, err
	}
	if inst.Status == equity.InstrumentConverted {
		return s.ledger.Get(ctx, inst.ConversionTxID)
	}
	if inst.Status != equity.InstrumentOutstanding {
		return nil, &equity.InvalidStateTransitionError{
			EntityID:   inst.ID,
			FromStatus: string(inst.Status),
			ToStatus:   string(equity.InstrumentConverted),
		}
	}
	if !result.Shares.IsPositive() {
		return nil, fmt.Errorf("conversion of instrument %s yields no shares", inst.ID)
	}

	tx, err := s.ledger.Append(ctx, ledger.AppendRequest{
		CompanyID:       inst.CompanyID,
		Type:            equity.TxConversion,
		ToShareholderID: inst.HolderID,
		ShareClassID:    inst.TargetShareClassID,
		Quantity:        result.Shares,
		PricePerShare:   result.ConversionPrice,
		CreatedBy:       actor,
	})
	if err != nil {
		return nil, err
	}
	if err := s.confirmLedgerTx(ctx, tx.ID, actor); err != nil {
		return nil, err
	}

	before := *inst
	inst.Status = equity.InstrumentConverted
	inst.ConvertedAt = time.Now().UTC()
	inst.ConversionTxID = tx.ID
	s.store.putInstrument(inst)
	s.record(actor, "instrument.convert", "convertible_instrument", inst.ID, &before, inst)
	return s.ledger.Get(ctx, tx.ID)
}
