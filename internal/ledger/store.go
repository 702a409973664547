package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/captable/internal/equity"
)

// Filter narrows a ledger listing. A zero AsOf means "now"; an empty
// ShareClassID matches every class. Status filtering is exact.
type Filter struct {
	ShareClassID string
	Status       equity.TransactionStatus
	AsOf         time.Time
}

// TransactionStore persists ledger transactions. Implementations must
// return listings in creation order, ties broken by id, so that folds are
// deterministic.
type TransactionStore interface {
	Insert(ctx context.Context, tx *equity.Transaction) error
	Get(ctx context.Context, txID string) (*equity.Transaction, error)
	Update(ctx context.Context, tx *equity.Transaction) error
	ListByCompany(ctx context.Context, companyID string, filter Filter) ([]*equity.Transaction, error)
}

// MemoryStore is an in-memory TransactionStore used by the single-binary
// mode and by tests.
type MemoryStore struct {
	mu  sync.RWMutex
	txs map[string]*equity.Transaction
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txs: make(map[string]*equity.Transaction)}
}

func (m *MemoryStore) Insert(ctx context.Context, tx *equity.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *tx
	m.txs[tx.ID] = &copied
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, txID string) (*equity.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.txs[txID]
	if !ok {
		return nil, &equity.NotFoundError{ResourceType: "transaction", ResourceID: txID}
	}
	copied := *tx
	return &copied, nil
}

func (m *MemoryStore) Update(ctx context.Context, tx *equity.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.txs[tx.ID]; !ok {
		return &equity.NotFoundError{ResourceType: "transaction", ResourceID: tx.ID}
	}
	copied := *tx
	m.txs[tx.ID] = &copied
	return nil
}

func (m *MemoryStore) ListByCompany(ctx context.Context, companyID string, filter Filter) ([]*equity.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*equity.Transaction
	for _, tx := range m.txs {
		if tx.CompanyID != companyID {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if filter.ShareClassID != "" && tx.ShareClassID != filter.ShareClassID && tx.SourceShareClassID != filter.ShareClassID {
			continue
		}
		if !filter.AsOf.IsZero() && tx.CreatedAt.After(filter.AsOf) {
			continue
		}
		copied := *tx
		out = append(out, &copied)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
