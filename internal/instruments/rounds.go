package instruments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/captable/internal/captable"
	"github.com/example/captable/internal/equity"
)

// roundTransitions defines the funding round lifecycle.
func roundTransitions() map[equity.FundingRoundStatus][]equity.FundingRoundStatus {
	return map[equity.FundingRoundStatus][]equity.FundingRoundStatus{
		equity.RoundDraft:     {equity.RoundOpen, equity.RoundCancelled},
		equity.RoundOpen:      {equity.RoundClosing, equity.RoundCancelled},
		equity.RoundClosing:   {equity.RoundClosed, equity.RoundCancelled},
		equity.RoundClosed:    {},
		equity.RoundCancelled: {},
	}
}

// CreateRoundRequest carries the fields for a new funding round.
type CreateRoundRequest struct {
	CompanyID         string
	Name              string
	TargetAmount      decimal.Decimal
	PreMoneyValuation decimal.Decimal
	PricePerShare     decimal.Decimal
	ShareClassID      string
}

// CreateRound registers a new funding round in DRAFT status.
func (s *Service) CreateRound(ctx context.Context, req CreateRoundRequest) (*equity.FundingRound, error) {
	if req.CompanyID == "" {
		return nil, fmt.Errorf("company_id is required")
	}
	if !req.TargetAmount.IsPositive() {
		return nil, fmt.Errorf("target_amount must be positive")
	}
	if !req.PricePerShare.IsPositive() {
		return nil, fmt.Errorf("price_per_share must be positive")
	}
	if _, err := s.registry.Get(ctx, req.ShareClassID); err != nil {
		return nil, err
	}

	round := &equity.FundingRound{
		ID:                uuid.NewString(),
		CompanyID:         req.CompanyID,
		Name:              req.Name,
		TargetAmount:      req.TargetAmount,
		PreMoneyValuation: req.PreMoneyValuation,
		PricePerShare:     req.PricePerShare,
		ShareClassID:      req.ShareClassID,
		Status:            equity.RoundDraft,
		CreatedAt:         time.Now().UTC(),
	}
	s.store.putRound(round)
	s.record("", "round.create", "funding_round", round.ID, nil, round)
	return round, nil
}

// TransitionRound moves a round through its lifecycle.
func (s *Service) TransitionRound(ctx context.Context, roundID string, to equity.FundingRoundStatus, actor string) (*equity.FundingRound, error) {
	round, err := s.store.getRound(roundID)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, next := range roundTransitions()[round.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, &equity.InvalidStateTransitionError{
			EntityID:   roundID,
			FromStatus: string(round.Status),
			ToStatus:   string(to),
		}
	}

	before := *round
	round.Status = to
	if to == equity.RoundClosed {
		round.ClosedAt = time.Now().UTC()
	}
	s.store.putRound(round)
	s.record(actor, "round.transition", "funding_round", round.ID, &before, round)
	return round, nil
}

// CloseRound closes an open round and converts every qualifying
// auto-convert instrument at the round's price. Instruments whose
// qualified-financing threshold exceeds the round's target stay
// outstanding, as do instruments requiring manual conversion.
func (s *Service) CloseRound(ctx context.Context, roundID, actor string) (*equity.FundingRound, []*equity.Transaction, error) {
	round, err := s.store.getRound(roundID)
	if err != nil {
		return nil, nil, err
	}
	if round.Status == equity.RoundOpen {
		if round, err = s.TransitionRound(ctx, roundID, equity.RoundClosing, actor); err != nil {
			return nil, nil, err
		}
	}
	if round.Status != equity.RoundClosing {
		return nil, nil, &equity.InvalidStateTransitionError{
			EntityID:   roundID,
			FromStatus: string(round.Status),
			ToStatus:   string(equity.RoundClosed),
		}
	}

	in, err := s.DilutionInput(ctx, round.CompanyID, time.Time{})
	if err != nil {
		return nil, nil, err
	}
	results, err := captable.ResolveConversions(round.CompanyID, in)
	if err != nil {
		return nil, nil, err
	}

	eligible := make(map[string]bool)
	for _, inst := range in.Instruments {
		if inst.Status != equity.InstrumentOutstanding || !inst.AutoConvert {
			continue
		}
		if inst.ConversionTrigger != equity.TriggerQualifiedFinancing {
			continue
		}
		if inst.QualifiedFinancingThreshold.GreaterThan(round.TargetAmount) {
			continue
		}
		eligible[inst.ID] = true
	}

	var txs []*equity.Transaction
	for _, result := range results {
		if !eligible[result.InstrumentID] {
			continue
		}
		tx, err := s.Convert(ctx, result, actor)
		if err != nil {
			return nil, nil, err
		}
		txs = append(txs, tx)
	}

	round, err = s.TransitionRound(ctx, roundID, equity.RoundClosed, actor)
	if err != nil {
		return nil, nil, err
	}
	return round, txs, nil
}
