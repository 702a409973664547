package captable

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/captable/internal/equity"
)

// Entry is one (shareholder, share class) row of the current cap table.
type Entry struct {
	ShareholderID       string          `json:"shareholder_id"`
	ShareClassID        string          `json:"share_class_id"`
	Shares              decimal.Decimal `json:"shares"`
	OwnershipPercentage decimal.Decimal `json:"ownership_percentage"`
	VotingPower         decimal.Decimal `json:"voting_power"`
	VotingPercentage    decimal.Decimal `json:"voting_percentage"`
}

// Summary aggregates a cap table view.
type Summary struct {
	TotalShares       decimal.Decimal `json:"total_shares"`
	TotalShareholders int             `json:"total_shareholders"`
	TotalShareClasses int             `json:"total_share_classes"`
	LastUpdated       time.Time       `json:"last_updated"`
}

// CapTable is the current ownership view derived from the ledger.
type CapTable struct {
	Entries []Entry `json:"entries"`
	Summary Summary `json:"summary"`
}

// CurrentCapTable folds the confirmed transactions into per-position
// balances and derives ownership and voting percentages at 6 decimal
// digits. When shareClassFilter is non-empty, positions outside that class
// are excluded and percentages are computed over the filtered set, so the
// 100%-sum invariant holds for every view.
func CurrentCapTable(txs []*equity.Transaction, classes []*equity.ShareClass, shareClassFilter string) (*CapTable, error) {
	balances, err := FoldBalances(txs)
	if err != nil {
		return nil, err
	}

	votes := make(map[string]decimal.Decimal, len(classes))
	for _, class := range classes {
		votes[class.ID] = decimal.NewFromInt(class.VotesPerShare)
	}

	keys := make([]BalanceKey, 0, len(balances))
	for key := range balances {
		if shareClassFilter != "" && key.ShareClassID != shareClassFilter {
			continue
		}
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ShareholderID == keys[j].ShareholderID {
			return keys[i].ShareClassID < keys[j].ShareClassID
		}
		return keys[i].ShareholderID < keys[j].ShareholderID
	})

	entries := make([]Entry, len(keys))
	shareWeights := make([]decimal.Decimal, len(keys))
	votingWeights := make([]decimal.Decimal, len(keys))
	totalShares := decimal.Zero
	holders := make(map[string]struct{})
	classesSeen := make(map[string]struct{})

	for i, key := range keys {
		shares := balances[key]
		vps, ok := votes[key.ShareClassID]
		if !ok {
			return nil, &equity.NotFoundError{ResourceType: "share class", ResourceID: key.ShareClassID}
		}

		entries[i] = Entry{
			ShareholderID: key.ShareholderID,
			ShareClassID:  key.ShareClassID,
			Shares:        shares,
			VotingPower:   shares.Mul(vps),
		}
		shareWeights[i] = shares
		votingWeights[i] = entries[i].VotingPower
		totalShares = totalShares.Add(shares)
		holders[key.ShareholderID] = struct{}{}
		classesSeen[key.ShareClassID] = struct{}{}
	}

	ownership := allocatePercentages(shareWeights)
	voting := allocatePercentages(votingWeights)
	for i := range entries {
		entries[i].OwnershipPercentage = ownership[i]
		entries[i].VotingPercentage = voting[i]
	}

	var lastUpdated time.Time
	for _, tx := range txs {
		if tx.Status != equity.TxConfirmed {
			continue
		}
		at := tx.ConfirmedAt
		if at.IsZero() {
			at = tx.CreatedAt
		}
		if at.After(lastUpdated) {
			lastUpdated = at
		}
	}

	return &CapTable{
		Entries: entries,
		Summary: Summary{
			TotalShares:       totalShares,
			TotalShareholders: len(holders),
			TotalShareClasses: len(classesSeen),
			LastUpdated:       lastUpdated,
		},
	}, nil
}
