// Package query composes the ledger, registry, instrument, and snapshot
// services into the read-side facade the HTTP API serves. The facade keeps
// no state of its own: every call re-derives its answer from the ledger.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/example/captable/internal/captable"
	"github.com/example/captable/internal/instruments"
	"github.com/example/captable/internal/ledger"
	"github.com/example/captable/internal/registry"
	"github.com/example/captable/internal/snapshot"
)

// Facade answers cap-table queries.
type Facade struct {
	ledger      *ledger.Service
	registry    *registry.Registry
	instruments *instruments.Service
	snapshots   *snapshot.Service
}

// NewFacade wires the read-side facade.
func NewFacade(ledgerSvc *ledger.Service, reg *registry.Registry, inst *instruments.Service, snaps *snapshot.Service) *Facade {
	return &Facade{ledger: ledgerSvc, registry: reg, instruments: inst, snapshots: snaps}
}

// CurrentCapTable returns the current ownership view, optionally filtered
// to a single share class.
func (f *Facade) CurrentCapTable(ctx context.Context, companyID, shareClassFilter string) (*captable.CapTable, error) {
	if shareClassFilter != "" {
		if _, err := f.registry.Get(ctx, shareClassFilter); err != nil {
			return nil, err
		}
	}
	txs, err := f.ledger.ConfirmedAsOf(ctx, companyID, "", time.Time{})
	if err != nil {
		return nil, err
	}
	classes, err := f.registry.ListByCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return captable.CurrentCapTable(txs, classes, shareClassFilter)
}

// FullyDiluted returns the fully-diluted ownership view, including vested
// and unvested options and as-converted convertible instruments.
func (f *Facade) FullyDiluted(ctx context.Context, companyID string) (*captable.DilutedCapTable, error) {
	in, err := f.instruments.DilutionInput(ctx, companyID, time.Time{})
	if err != nil {
		return nil, err
	}
	return captable.FullyDiluted(companyID, in)
}

// History returns the company's snapshots newest-first.
func (f *Facade) History(ctx context.Context, companyID string, limit, offset int) ([]*snapshot.Record, error) {
	return f.snapshots.History(ctx, companyID, limit, offset)
}

// VerifyIntegrity verifies the company's snapshot hash chain.
func (f *Facade) VerifyIntegrity(ctx context.Context, companyID string) (*snapshot.Report, error) {
	return f.snapshots.VerifyChain(ctx, companyID)
}

// CreateSnapshot freezes the company's current cap-table state into a new
// chained snapshot.
func (f *Facade) CreateSnapshot(ctx context.Context, companyID, trigger string) (*snapshot.Record, error) {
	table, err := f.CurrentCapTable(ctx, companyID, "")
	if err != nil {
		return nil, err
	}

	state := snapshot.State{
		TotalShares:       table.Summary.TotalShares,
		TotalShareholders: table.Summary.TotalShareholders,
		Positions:         make([]snapshot.Position, len(table.Entries)),
	}
	for i, entry := range table.Entries {
		state.Positions[i] = snapshot.Position{
			ShareholderID: entry.ShareholderID,
			ShareClassID:  entry.ShareClassID,
			Shares:        entry.Shares,
		}
	}
	return f.snapshots.Create(ctx, companyID, trigger, state)
}

// Export formats accepted by the external document renderers.
var exportFormats = map[string]struct{}{
	"pdf":  {},
	"xlsx": {},
	"csv":  {},
	"oct":  {}, // Open Cap Table format
}

// Export is the computed payload handed to an external renderer.
type Export struct {
	CompanyID   string                    `json:"company_id"`
	Format      string                    `json:"format"`
	GeneratedAt time.Time                 `json:"generated_at"`
	CapTable    *captable.CapTable        `json:"cap_table"`
	Diluted     *captable.DilutedCapTable `json:"diluted"`
}

// BuildExport computes the full cap-table payload for an export in the
// requested format. Rendering is the caller's concern; the facade only
// derives the numbers.
func (f *Facade) BuildExport(ctx context.Context, companyID, format string) (*Export, error) {
	if _, ok := exportFormats[format]; !ok {
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
	table, err := f.CurrentCapTable(ctx, companyID, "")
	if err != nil {
		return nil, err
	}
	diluted, err := f.FullyDiluted(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return &Export{
		CompanyID:   companyID,
		Format:      format,
		GeneratedAt: time.Now().UTC(),
		CapTable:    table,
		Diluted:     diluted,
	}, nil
}
