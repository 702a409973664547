package ledger

import (
	"github.com/example/captable/internal/equity"
)

// AllowedTransitions defines the legal transaction status transitions.
// CONFIRMED and CANCELLED are terminal: a confirmed transaction is
// write-once and corrections require a new, opposite transaction.
func AllowedTransitions() map[equity.TransactionStatus][]equity.TransactionStatus {
	return map[equity.TransactionStatus][]equity.TransactionStatus{
		equity.TxDraft:           {equity.TxPendingApproval, equity.TxCancelled},
		equity.TxPendingApproval: {equity.TxSubmitted, equity.TxCancelled},
		equity.TxSubmitted:       {equity.TxConfirmed, equity.TxFailed, equity.TxCancelled},
		equity.TxFailed:          {equity.TxCancelled},
		equity.TxConfirmed:       {},
		equity.TxCancelled:       {},
	}
}

// IsValidTransition checks whether a status change is allowed.
func IsValidTransition(from, to equity.TransactionStatus) bool {
	for _, allowed := range AllowedTransitions()[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status permits no further transitions.
func IsTerminal(status equity.TransactionStatus) bool {
	return len(AllowedTransitions()[status]) == 0
}

// IsCancellable reports whether a transaction in the given status may still
// be cancelled. CONFIRMED is never cancellable.
func IsCancellable(status equity.TransactionStatus) bool {
	return IsValidTransition(status, equity.TxCancelled)
}
