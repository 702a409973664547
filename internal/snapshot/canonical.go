// Package snapshot freezes point-in-time cap-table state into immutable,
// hash-chained records and verifies the resulting chain on demand.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// GenesisHash is the previousHash sentinel for the first snapshot of a
// chain.
var GenesisHash = strings.Repeat("0", 64)

// Position is one (shareholder, share class) balance inside a snapshot.
type Position struct {
	ShareholderID string          `json:"shareholder_id"`
	ShareClassID  string          `json:"share_class_id"`
	Shares        decimal.Decimal `json:"shares"`
}

// State is the cap-table state a snapshot freezes.
type State struct {
	TotalShares       decimal.Decimal
	TotalShareholders int
	Positions         []Position
}

// Canonicalize serializes a state deterministically: versioned prefix,
// fixed 6-decimal share formatting, and positions sorted bytewise by
// (shareholderID, shareClassID). The same state always yields the same
// string regardless of input order, which is what makes the chain
// verifiable across implementations.
func Canonicalize(state State) string {
	positions := make([]Position, len(state.Positions))
	copy(positions, state.Positions)
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].ShareholderID == positions[j].ShareholderID {
			return positions[i].ShareClassID < positions[j].ShareClassID
		}
		return positions[i].ShareholderID < positions[j].ShareholderID
	})

	var sb strings.Builder
	fmt.Fprintf(&sb, "v1|shares=%s|holders=%d|", state.TotalShares.StringFixed(6), state.TotalShareholders)
	for _, p := range positions {
		fmt.Fprintf(&sb, "%s:%s:%s;", p.ShareholderID, p.ShareClassID, p.Shares.StringFixed(6))
	}
	return sb.String()
}

// StateHash computes the SHA-256 content hash of a canonical payload.
func StateHash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
