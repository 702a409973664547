// Package ledger is the append-only, ordered sequence of equity
// transactions per company: the single source of truth for current
// ownership. Only CONFIRMED transactions participate in ownership
// computation, and a confirmed transaction is write-once.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/captable/internal/captable"
	"github.com/example/captable/internal/equity"
	"github.com/example/captable/internal/registry"
	"github.com/example/captable/pkg/audit"
)

// Service provides the ledger API. All mutation for one company runs under
// a per-company lock (single-writer discipline); reads fold immutable
// confirmed transactions and need no lock.
type Service struct {
	store    TransactionStore
	registry *registry.Registry
	auditor  *audit.Recorder
	locks    sync.Map // companyID -> *sync.Mutex
}

// NewService creates a ledger service. The auditor may be nil.
func NewService(store TransactionStore, reg *registry.Registry, auditor *audit.Recorder) *Service {
	return &Service{store: store, registry: reg, auditor: auditor}
}

func (s *Service) companyLock(companyID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(companyID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// AppendRequest carries a new ledger transaction. Transactions enter the
// ledger in DRAFT status; the external authoring workflow drives them
// through the state machine.
type AppendRequest struct {
	CompanyID          string
	Type               equity.TransactionType
	FromShareholderID  string
	ToShareholderID    string
	ShareClassID       string
	SourceShareClassID string
	Quantity           decimal.Decimal
	SourceQuantity     decimal.Decimal
	PricePerShare      decimal.Decimal
	CreatedBy          string
}

// Append validates and appends a transaction in DRAFT status.
func (s *Service) Append(ctx context.Context, req AppendRequest) (*equity.Transaction, error) {
	if req.CompanyID == "" {
		return nil, fmt.Errorf("company_id is required")
	}
	if err := validateShape(req); err != nil {
		return nil, err
	}
	if _, err := s.registry.Get(ctx, req.ShareClassID); err != nil {
		return nil, err
	}
	if req.SourceShareClassID != "" {
		if _, err := s.registry.Get(ctx, req.SourceShareClassID); err != nil {
			return nil, err
		}
	}

	tx := &equity.Transaction{
		ID:                 uuid.NewString(),
		CompanyID:          req.CompanyID,
		Type:               req.Type,
		Status:             equity.TxDraft,
		FromShareholderID:  req.FromShareholderID,
		ToShareholderID:    req.ToShareholderID,
		ShareClassID:       req.ShareClassID,
		SourceShareClassID: req.SourceShareClassID,
		Quantity:           req.Quantity,
		SourceQuantity:     req.SourceQuantity,
		PricePerShare:      req.PricePerShare,
		CreatedBy:          req.CreatedBy,
		CreatedAt:          time.Now().UTC(),
	}

	mu := s.companyLock(req.CompanyID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.store.Insert(ctx, tx); err != nil {
		return nil, err
	}
	if s.auditor != nil {
		s.auditor.Record(req.CreatedBy, "transaction.append", "transaction", tx.ID, nil, tx)
	}
	return tx, nil
}

func validateShape(req AppendRequest) error {
	if !req.Quantity.IsPositive() {
		return fmt.Errorf("quantity must be positive")
	}
	if req.ShareClassID == "" {
		return fmt.Errorf("share_class_id is required")
	}

	switch req.Type {
	case equity.TxIssuance:
		if req.ToShareholderID == "" {
			return fmt.Errorf("issuance requires to_shareholder_id")
		}
		if req.FromShareholderID != "" {
			return fmt.Errorf("issuance must not carry from_shareholder_id")
		}
	case equity.TxTransfer:
		if req.FromShareholderID == "" || req.ToShareholderID == "" {
			return fmt.Errorf("transfer requires both from_shareholder_id and to_shareholder_id")
		}
		if req.FromShareholderID == req.ToShareholderID {
			return fmt.Errorf("transfer endpoints must differ")
		}
	case equity.TxCancellation:
		if req.FromShareholderID == "" {
			return fmt.Errorf("cancellation requires from_shareholder_id")
		}
		if req.ToShareholderID != "" {
			return fmt.Errorf("cancellation must not carry to_shareholder_id")
		}
	case equity.TxSplit:
		if req.FromShareholderID != "" || req.ToShareholderID != "" {
			return fmt.Errorf("split applies to a share class, not to shareholders")
		}
	case equity.TxConversion:
		if req.ToShareholderID == "" {
			return fmt.Errorf("conversion requires to_shareholder_id")
		}
		if req.SourceShareClassID != "" {
			if req.FromShareholderID == "" {
				return fmt.Errorf("class conversion requires from_shareholder_id")
			}
			if !req.SourceQuantity.IsPositive() {
				return fmt.Errorf("class conversion requires a positive source_quantity")
			}
		}
	default:
		return fmt.Errorf("invalid transaction type: %s", req.Type)
	}
	return nil
}

// Transition moves a transaction through the status state machine. Illegal
// transitions fail with InvalidStateTransition; any transition out of
// CONFIRMED fails with ImmutableRecord. Confirming a transaction applies
// the balance and issuance invariants before anything is written.
func (s *Service) Transition(ctx context.Context, txID string, to equity.TransactionStatus, actor string) (*equity.Transaction, error) {
	tx, err := s.store.Get(ctx, txID)
	if err != nil {
		return nil, err
	}

	mu := s.companyLock(tx.CompanyID)
	mu.Lock()
	defer mu.Unlock()

	// Re-read under the lock so concurrent transitions serialize cleanly.
	tx, err = s.store.Get(ctx, txID)
	if err != nil {
		return nil, err
	}

	if tx.Status == equity.TxConfirmed {
		return nil, &equity.ImmutableRecordError{ResourceType: "transaction", ResourceID: txID}
	}
	if !IsValidTransition(tx.Status, to) {
		return nil, &equity.InvalidStateTransitionError{
			EntityID:   txID,
			FromStatus: string(tx.Status),
			ToStatus:   string(to),
		}
	}

	before := *tx

	if to == equity.TxConfirmed {
		if err := s.confirm(ctx, tx); err != nil {
			return nil, err
		}
	}

	tx.Status = to
	if to == equity.TxConfirmed {
		tx.ConfirmedAt = time.Now().UTC()
	}
	if err := s.store.Update(ctx, tx); err != nil {
		return nil, err
	}
	if s.auditor != nil {
		s.auditor.Record(actor, "transaction.transition", "transaction", tx.ID, &before, tx)
	}
	return tx, nil
}

// confirm checks that confirming tx keeps every invariant, then applies
// the registry issuance accounting. The candidate is folded together with
// the already-confirmed history so a transfer or cancellation that would
// drive a balance negative is rejected before anything changes.
func (s *Service) confirm(ctx context.Context, tx *equity.Transaction) error {
	confirmed, err := s.store.ListByCompany(ctx, tx.CompanyID, Filter{Status: equity.TxConfirmed})
	if err != nil {
		return err
	}

	candidate := *tx
	candidate.Status = equity.TxConfirmed
	if _, err := captable.FoldBalances(append(confirmed, &candidate)); err != nil {
		return err
	}

	switch tx.Type {
	case equity.TxIssuance:
		return s.registry.AdjustIssued(ctx, tx.ShareClassID, tx.Quantity)
	case equity.TxCancellation:
		return s.registry.AdjustIssued(ctx, tx.ShareClassID, tx.Quantity.Neg())
	case equity.TxSplit:
		return s.registry.ApplySplit(ctx, tx.ShareClassID, tx.Quantity)
	case equity.TxConversion:
		if err := s.registry.AdjustIssued(ctx, tx.ShareClassID, tx.Quantity); err != nil {
			return err
		}
		if tx.SourceShareClassID != "" {
			if err := s.registry.AdjustIssued(ctx, tx.SourceShareClassID, tx.SourceQuantity.Neg()); err != nil {
				// Undo the target-side issuance so a failed confirmation
				// leaves the registry untouched.
				_ = s.registry.AdjustIssued(ctx, tx.ShareClassID, tx.Quantity.Neg())
				return err
			}
		}
	}
	return nil
}

// Get returns a transaction by id.
func (s *Service) Get(ctx context.Context, txID string) (*equity.Transaction, error) {
	return s.store.Get(ctx, txID)
}

// ConfirmedAsOf returns the company's confirmed transactions in creation
// order, optionally filtered by share class and cut off at an instant.
func (s *Service) ConfirmedAsOf(ctx context.Context, companyID, shareClassID string, asOf time.Time) ([]*equity.Transaction, error) {
	return s.store.ListByCompany(ctx, companyID, Filter{
		Status:       equity.TxConfirmed,
		ShareClassID: shareClassID,
		AsOf:         asOf,
	})
}
