// Package captable derives ownership views from the equity ledger. All
// computations are pure functions over confirmed transactions plus registry
// and instrument records; no ownership number is ever stored as mutable
// state.
package captable

import (
	"github.com/shopspring/decimal"

	"github.com/example/captable/internal/equity"
)

// BalanceKey identifies a (shareholder, share class) position.
type BalanceKey struct {
	ShareholderID string
	ShareClassID  string
}

// FoldBalances replays confirmed transactions in creation order and returns
// the resulting per-position share balances. Transactions must already be
// ordered; the fold fails if a transfer or cancellation would drive a
// balance negative, which the ledger also rejects at confirmation time.
func FoldBalances(txs []*equity.Transaction) (map[BalanceKey]decimal.Decimal, error) {
	balances := make(map[BalanceKey]decimal.Decimal)

	for _, tx := range txs {
		if tx.Status != equity.TxConfirmed {
			continue
		}

		switch tx.Type {
		case equity.TxIssuance:
			key := BalanceKey{tx.ToShareholderID, tx.ShareClassID}
			balances[key] = balances[key].Add(tx.Quantity)

		case equity.TxTransfer:
			from := BalanceKey{tx.FromShareholderID, tx.ShareClassID}
			to := BalanceKey{tx.ToShareholderID, tx.ShareClassID}
			next := balances[from].Sub(tx.Quantity)
			if next.IsNegative() {
				return nil, &equity.InsufficientBalanceError{
					ShareholderID: tx.FromShareholderID,
					ShareClassID:  tx.ShareClassID,
					Available:     balances[from],
					Requested:     tx.Quantity,
				}
			}
			balances[from] = next
			balances[to] = balances[to].Add(tx.Quantity)

		case equity.TxCancellation:
			key := BalanceKey{tx.FromShareholderID, tx.ShareClassID}
			next := balances[key].Sub(tx.Quantity)
			if next.IsNegative() {
				return nil, &equity.InsufficientBalanceError{
					ShareholderID: tx.FromShareholderID,
					ShareClassID:  tx.ShareClassID,
					Available:     balances[key],
					Requested:     tx.Quantity,
				}
			}
			balances[key] = next

		case equity.TxSplit:
			// Quantity carries the split ratio; every position in the
			// class is rescaled.
			for key, shares := range balances {
				if key.ShareClassID == tx.ShareClassID {
					balances[key] = shares.Mul(tx.Quantity)
				}
			}

		case equity.TxConversion:
			// An issuance into the target class paired with a
			// cancellation from the source: constant economic value, not
			// constant share count. Instrument conversions have no source
			// class and only the issuance side applies.
			if tx.SourceShareClassID != "" {
				src := BalanceKey{tx.FromShareholderID, tx.SourceShareClassID}
				next := balances[src].Sub(tx.SourceQuantity)
				if next.IsNegative() {
					return nil, &equity.InsufficientBalanceError{
						ShareholderID: tx.FromShareholderID,
						ShareClassID:  tx.SourceShareClassID,
						Available:     balances[src],
						Requested:     tx.SourceQuantity,
					}
				}
				balances[src] = next
			}
			key := BalanceKey{tx.ToShareholderID, tx.ShareClassID}
			balances[key] = balances[key].Add(tx.Quantity)
		}
	}

	for key, shares := range balances {
		if shares.IsZero() {
			delete(balances, key)
		}
	}
	return balances, nil
}
