package instruments

import (
	"context"
	"time"

	"github.com/example/captable/internal/captable"
	"github.com/example/captable/internal/equity"
	"github.com/example/captable/internal/ledger"
	"github.com/example/captable/internal/registry"
	"github.com/example/captable/pkg/audit"
)

// Service provides the instrument API. Conversions and exercises emit
// ordinary ledger transactions, so the ledger stays the single source of
// truth for share ownership.
type Service struct {
	store    *Store
	ledger   *ledger.Service
	registry *registry.Registry
	auditor  *audit.Recorder
}

// NewService creates an instruments service. The auditor may be nil.
func NewService(store *Store, ledgerSvc *ledger.Service, reg *registry.Registry, auditor *audit.Recorder) *Service {
	return &Service{store: store, ledger: ledgerSvc, registry: reg, auditor: auditor}
}

// Store exposes the backing store for read-side composition.
func (s *Service) Store() *Store {
	return s.store
}

func (s *Service) record(actor, action, resourceType, resourceID string, before, after any) {
	if s.auditor != nil {
		s.auditor.Record(actor, action, resourceType, resourceID, before, after)
	}
}

// DilutionInput assembles the pure-function input for the resolver from
// the company's state as of the given time. A zero asOf means now.
func (s *Service) DilutionInput(ctx context.Context, companyID string, asOf time.Time) (captable.DilutionInput, error) {
	var in captable.DilutionInput

	txs, err := s.ledger.ConfirmedAsOf(ctx, companyID, "", asOf)
	if err != nil {
		return in, err
	}
	classes, err := s.registry.ListByCompany(ctx, companyID)
	if err != nil {
		return in, err
	}
	plans, err := s.store.Plans(ctx, companyID)
	if err != nil {
		return in, err
	}
	grants, err := s.store.Grants(ctx, companyID)
	if err != nil {
		return in, err
	}
	insts, err := s.store.Instruments(ctx, companyID)
	if err != nil {
		return in, err
	}
	rounds, err := s.store.Rounds(ctx, companyID)
	if err != nil {
		return in, err
	}

	in = captable.DilutionInput{
		Transactions: txs,
		Classes:      classes,
		Plans:        plans,
		Grants:       grants,
		Instruments:  insts,
		Rounds:       rounds,
		AsOf:         asOf,
	}
	return in, nil
}

// confirmLedgerTx drives a freshly appended transaction through the
// approval workflow to CONFIRMED.
func (s *Service) confirmLedgerTx(ctx context.Context, txID, actor string) error {
	for _, status := range []equity.TransactionStatus{
		equity.TxPendingApproval, equity.TxSubmitted, equity.TxConfirmed,
	} {
		if _, err := s.ledger.Transition(ctx, txID, status, actor); err != nil {
			return err
		}
	}
	return nil
}
