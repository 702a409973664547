package equity

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InvalidStateTransitionError reports an illegal status change. The request
// is rejected outright; retrying the same transition will fail again.
type InvalidStateTransitionError struct {
	EntityID   string
	FromStatus string
	ToStatus   string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition from %s to %s for %s", e.FromStatus, e.ToStatus, e.EntityID)
}

// InsufficientBalanceError reports a transfer or cancellation that would
// drive a shareholder's balance negative. The ledger is left unchanged.
type InsufficientBalanceError struct {
	ShareholderID string
	ShareClassID  string
	Available     decimal.Decimal
	Requested     decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for shareholder %s in class %s: have %s, need %s",
		e.ShareholderID, e.ShareClassID, e.Available.String(), e.Requested.String())
}

// ImmutableRecordError reports an attempt to alter a CONFIRMED transaction
// or an existing snapshot.
type ImmutableRecordError struct {
	ResourceType string
	ResourceID   string
}

func (e *ImmutableRecordError) Error() string {
	return fmt.Sprintf("%s %s is immutable and cannot be modified", e.ResourceType, e.ResourceID)
}

// DilutionComputationError reports a fully-diluted computation that could
// not be completed. It is surfaced to the caller, never silently
// approximated.
type DilutionComputationError struct {
	CompanyID  string
	Iterations int
	Reason     string
}

func (e *DilutionComputationError) Error() string {
	if e.Iterations > 0 {
		return fmt.Sprintf("dilution computation failed for company %s after %d iterations: %s", e.CompanyID, e.Iterations, e.Reason)
	}
	return fmt.Sprintf("dilution computation failed for company %s: %s", e.CompanyID, e.Reason)
}

// LedgerConflictError reports a concurrent-write race detected by the
// backing store. Retrying the whole operation once is safe.
type LedgerConflictError struct {
	CompanyID string
	Detail    string
}

func (e *LedgerConflictError) Error() string {
	return fmt.Sprintf("ledger write conflict for company %s: %s", e.CompanyID, e.Detail)
}

// NotFoundError reports a missing entity.
type NotFoundError struct {
	ResourceType string
	ResourceID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.ResourceType, e.ResourceID)
}
