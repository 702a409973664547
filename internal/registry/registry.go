// Package registry holds the authoritative share class metadata consulted by
// every ownership computation.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/captable/internal/equity"
)

// Registry is the share class registry. Classes are created by admin
// actions, have their issuance totals adjusted only by confirmed
// transactions, and are never deleted while shares remain issued. State
// lives in the Store, so separate processes pointed at the same durable
// store see the same classes and issuance totals.
type Registry struct {
	store Store
}

// New creates a registry over an in-memory store.
func New() *Registry {
	return NewWithStore(NewMemoryStore())
}

// NewWithStore creates a registry over the given store.
func NewWithStore(store Store) *Registry {
	return &Registry{store: store}
}

// CreateClassRequest carries the fields needed to register a share class.
type CreateClassRequest struct {
	CompanyID                     string
	Name                          string
	Type                          equity.ShareClassType
	TotalAuthorized               decimal.Decimal
	VotesPerShare                 int64
	LiquidationPreferenceMultiple decimal.Decimal
	ParticipatingRights           bool
	ParticipationCap              decimal.Decimal
	Seniority                     int
	ConversionRatio               decimal.Decimal
	AntiDilutionType              equity.AntiDilutionType
}

// CreateClass registers a new share class with validation.
func (r *Registry) CreateClass(ctx context.Context, req CreateClassRequest) (*equity.ShareClass, error) {
	if req.CompanyID == "" {
		return nil, fmt.Errorf("company_id is required")
	}
	if req.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	switch req.Type {
	case equity.ClassQuota, equity.ClassCommon, equity.ClassPreferred:
	default:
		return nil, fmt.Errorf("invalid share class type: %s", req.Type)
	}
	if !req.TotalAuthorized.IsPositive() {
		return nil, fmt.Errorf("total_authorized must be positive")
	}
	if req.VotesPerShare < 0 {
		return nil, fmt.Errorf("votes_per_share must be non-negative")
	}
	switch req.AntiDilutionType {
	case "", equity.AntiDilutionNone, equity.AntiDilutionFullRatchet, equity.AntiDilutionWeightedAverage:
	default:
		return nil, fmt.Errorf("invalid anti-dilution type: %s", req.AntiDilutionType)
	}

	conversionRatio := req.ConversionRatio
	if conversionRatio.IsZero() {
		conversionRatio = decimal.NewFromInt(1)
	}
	antiDilution := req.AntiDilutionType
	if antiDilution == "" {
		antiDilution = equity.AntiDilutionNone
	}

	class := &equity.ShareClass{
		ID:                            uuid.NewString(),
		CompanyID:                     req.CompanyID,
		Name:                          req.Name,
		Type:                          req.Type,
		TotalAuthorized:               req.TotalAuthorized,
		TotalIssued:                   decimal.Zero,
		VotesPerShare:                 req.VotesPerShare,
		LiquidationPreferenceMultiple: req.LiquidationPreferenceMultiple,
		ParticipatingRights:           req.ParticipatingRights,
		ParticipationCap:              req.ParticipationCap,
		Seniority:                     req.Seniority,
		ConversionRatio:               conversionRatio,
		AntiDilutionType:              antiDilution,
		CreatedAt:                     time.Now().UTC(),
	}

	if err := r.store.Insert(ctx, class); err != nil {
		return nil, err
	}
	return class, nil
}

// Get returns a share class by id.
func (r *Registry) Get(ctx context.Context, classID string) (*equity.ShareClass, error) {
	return r.store.Get(ctx, classID)
}

// ListByCompany returns the company's share classes ordered by creation time.
func (r *Registry) ListByCompany(ctx context.Context, companyID string) ([]*equity.ShareClass, error) {
	return r.store.ListByCompany(ctx, companyID)
}

// AdjustIssued moves totalIssued by delta (negative for cancellations).
// The totalIssued <= totalAuthorized invariant is enforced in the store,
// so a confirmed issuance can never over-issue a class.
func (r *Registry) AdjustIssued(ctx context.Context, classID string, delta decimal.Decimal) error {
	return r.store.AdjustIssued(ctx, classID, delta)
}

// ApplySplit rescales a class's authorized and issued totals by the split
// ratio. Per-shareholder balances are rescaled by the ledger fold.
func (r *Registry) ApplySplit(ctx context.Context, classID string, ratio decimal.Decimal) error {
	if !ratio.IsPositive() {
		return fmt.Errorf("split ratio must be positive")
	}
	return r.store.ApplySplit(ctx, classID, ratio)
}

// Delete removes a class. Classes with issued shares are never deleted.
func (r *Registry) Delete(ctx context.Context, classID string) error {
	return r.store.Delete(ctx, classID)
}
