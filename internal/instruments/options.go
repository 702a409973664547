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

// CreatePlanRequest carries the fields for a new option plan.
type CreatePlanRequest struct {
	CompanyID          string
	Name               string
	ShareClassID       string
	TotalPoolSize      decimal.Decimal
	TerminationPolicy  equity.TerminationPolicy
	ExerciseWindowDays int
}

// CreatePlan registers a new option plan with validation.
func (s *Service) CreatePlan(ctx context.Context, req CreatePlanRequest) (*equity.OptionPlan, error) {
	if req.CompanyID == "" {
		return nil, fmt.Errorf("company_id is required")
	}
	if !req.TotalPoolSize.IsPositive() {
		return nil, fmt.Errorf("total_pool_size must be positive")
	}
	if req.ExerciseWindowDays < 1 || req.ExerciseWindowDays > 365 {
		return nil, fmt.Errorf("exercise_window_days must be between 1 and 365")
	}
	switch req.TerminationPolicy {
	case equity.TerminationForfeiture, equity.TerminationAcceleration, equity.TerminationProRata:
	default:
		return nil, fmt.Errorf("invalid termination policy: %s", req.TerminationPolicy)
	}
	if _, err := s.registry.Get(ctx, req.ShareClassID); err != nil {
		return nil, err
	}

	plan := &equity.OptionPlan{
		ID:                 uuid.NewString(),
		CompanyID:          req.CompanyID,
		Name:               req.Name,
		ShareClassID:       req.ShareClassID,
		TotalPoolSize:      req.TotalPoolSize,
		TerminationPolicy:  req.TerminationPolicy,
		ExerciseWindowDays: req.ExerciseWindowDays,
		Status:             equity.PlanActive,
		CreatedAt:          time.Now().UTC(),
	}
	s.store.putPlan(plan)
	s.record("", "plan.create", "option_plan", plan.ID, nil, plan)
	return plan, nil
}

// CreateGrantRequest carries the fields for a new option grant.
type CreateGrantRequest struct {
	PlanID        string
	ShareholderID string
	Quantity      decimal.Decimal
	ExercisePrice decimal.Decimal
	Vesting       equity.VestingSchedule
}

// CreateGrant allocates part of a plan's pool. The sum of live grant
// quantities never exceeds the pool size.
func (s *Service) CreateGrant(ctx context.Context, req CreateGrantRequest) (*equity.OptionGrant, error) {
	if !req.Quantity.IsPositive() {
		return nil, fmt.Errorf("quantity must be positive")
	}
	plan, err := s.store.getPlan(req.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.Status != equity.PlanActive {
		return nil, fmt.Errorf("plan %s is not active", plan.ID)
	}

	grants, err := s.store.Grants(ctx, plan.CompanyID)
	if err != nil {
		return nil, err
	}
	allocated := decimal.Zero
	for _, g := range grants {
		if g.PlanID == plan.ID && g.Status != equity.GrantForfeited && g.Status != equity.GrantExpired {
			allocated = allocated.Add(g.Quantity)
		}
	}
	if allocated.Add(req.Quantity).GreaterThan(plan.TotalPoolSize) {
		return nil, fmt.Errorf("grant of %s shares exceeds remaining pool of %s in plan %s",
			req.Quantity.String(), plan.TotalPoolSize.Sub(allocated).String(), plan.ID)
	}

	grant := &equity.OptionGrant{
		ID:            uuid.NewString(),
		PlanID:        plan.ID,
		CompanyID:     plan.CompanyID,
		ShareholderID: req.ShareholderID,
		Quantity:      req.Quantity,
		ExercisePrice: req.ExercisePrice,
		Vesting:       req.Vesting,
		Status:        equity.GrantActive,
		CreatedAt:     time.Now().UTC(),
	}
	s.store.putGrant(grant)
	s.record("", "grant.create", "option_grant", grant.ID, nil, grant)
	return grant, nil
}

// ExerciseGrant exercises the vested portion of a grant. The exercised
// shares become an ordinary ISSUANCE transaction on the ledger and the
// grant leaves the option domain; the unvested remainder lapses.
func (s *Service) ExerciseGrant(ctx context.Context, grantID, actor string) (*equity.Transaction, error) {
	grant, err := s.store.getGrant(grantID)
	if err != nil {
		return nil, err
	}
	if grant.Status != equity.GrantActive {
		return nil, &equity.InvalidStateTransitionError{
			EntityID:   grantID,
			FromStatus: string(grant.Status),
			ToStatus:   string(equity.GrantExercised),
		}
	}
	plan, err := s.store.getPlan(grant.PlanID)
	if err != nil {
		return nil, err
	}

	vested := captable.VestedQuantity(grant, time.Now().UTC())
	if !vested.IsPositive() {
		return nil, fmt.Errorf("grant %s has no vested options to exercise", grantID)
	}

	tx, err := s.ledger.Append(ctx, ledger.AppendRequest{
		CompanyID:       grant.CompanyID,
		Type:            equity.TxIssuance,
		ToShareholderID: grant.ShareholderID,
		ShareClassID:    plan.ShareClassID,
		Quantity:        vested,
		PricePerShare:   grant.ExercisePrice,
		CreatedBy:       actor,
	})
	if err != nil {
		return nil, err
	}
	if err := s.confirmLedgerTx(ctx, tx.ID, actor); err != nil {
		return nil, err
	}

	before := *grant
	grant.Status = equity.GrantExercised
	s.store.putGrant(grant)
	s.record(actor, "grant.exercise", "option_grant", grant.ID, &before, grant)
	return s.ledger.Get(ctx, tx.ID)
}

// TerminateGrant applies the plan's termination policy to a grant:
// FORFEITURE and PRO_RATA trim the grant to what has vested (PRO_RATA
// without the monthly floor), ACCELERATION vests it in full. The grant
// stays exercisable within the plan's exercise window.
func (s *Service) TerminateGrant(ctx context.Context, grantID, actor string) (*equity.OptionGrant, error) {
	grant, err := s.store.getGrant(grantID)
	if err != nil {
		return nil, err
	}
	if grant.Status != equity.GrantActive {
		return nil, fmt.Errorf("grant %s is not active", grantID)
	}
	plan, err := s.store.getPlan(grant.PlanID)
	if err != nil {
		return nil, err
	}

	before := *grant
	now := time.Now().UTC()
	switch plan.TerminationPolicy {
	case equity.TerminationAcceleration:
		grant.Vesting.CliffMonths = 0
		grant.Vesting.DurationMonths = 0
	case equity.TerminationProRata:
		total := grant.Vesting.DurationMonths
		if total > 0 {
			elapsed := now.Sub(grant.Vesting.StartDate)
			full := grant.Vesting.StartDate.AddDate(0, total, 0).Sub(grant.Vesting.StartDate)
			if elapsed < 0 {
				elapsed = 0
			}
			if elapsed > full {
				elapsed = full
			}
			grant.Quantity = grant.Quantity.
				Mul(decimal.NewFromInt(int64(elapsed))).
				Div(decimal.NewFromInt(int64(full))).
				Floor()
			grant.Vesting.CliffMonths = 0
			grant.Vesting.DurationMonths = 0
		}
	default: // FORFEITURE
		grant.Quantity = captable.VestedQuantity(grant, now)
		grant.Vesting.CliffMonths = 0
		grant.Vesting.DurationMonths = 0
	}

	if !grant.Quantity.IsPositive() {
		grant.Status = equity.GrantForfeited
	}
	s.store.putGrant(grant)
	s.record(actor, "grant.terminate", "option_grant", grant.ID, &before, grant)
	return grant, nil
}

// ExpireGrant marks a grant whose exercise window has closed.
func (s *Service) ExpireGrant(ctx context.Context, grantID, actor string) error {
	grant, err := s.store.getGrant(grantID)
	if err != nil {
		return err
	}
	if grant.Status != equity.GrantActive {
		return fmt.Errorf("grant %s is not active", grantID)
	}
	before := *grant
	grant.Status = equity.GrantExpired
	s.store.putGrant(grant)
	s.record(actor, "grant.expire", "option_grant", grant.ID, &before, grant)
	return nil
}
