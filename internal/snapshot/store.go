package snapshot

import (
	"context"
	"sort"
	"sync"

	"github.com/example/captable/internal/equity"
)

// Record is a stored snapshot together with the canonical payload its
// stateHash was computed from. The payload is what verification replays.
type Record struct {
	equity.CapTableSnapshot
	Payload string `json:"payload"`
}

// Store persists snapshot chains. Snapshots are append-only: implementations
// refuse to overwrite an existing record with ImmutableRecord.
type Store interface {
	Append(ctx context.Context, rec *Record) error
	Latest(ctx context.Context, companyID string) (*Record, error)
	List(ctx context.Context, companyID string, limit, offset int) ([]*Record, error)
	ListChronological(ctx context.Context, companyID string) ([]*Record, error)
}

// MemoryStore is an in-memory snapshot store for the single-binary mode
// and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]*Record // companyID -> append order
	byID    map[string]struct{}
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]*Record),
		byID:    make(map[string]struct{}),
	}
}

func (m *MemoryStore) Append(ctx context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[rec.ID]; exists {
		return &equity.ImmutableRecordError{ResourceType: "snapshot", ResourceID: rec.ID}
	}
	copied := *rec
	m.records[rec.CompanyID] = append(m.records[rec.CompanyID], &copied)
	m.byID[rec.ID] = struct{}{}
	return nil
}

func (m *MemoryStore) Latest(ctx context.Context, companyID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.records[companyID]
	if len(chain) == 0 {
		return nil, nil
	}
	copied := *chain[len(chain)-1]
	return &copied, nil
}

func (m *MemoryStore) List(ctx context.Context, companyID string, limit, offset int) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.records[companyID]
	// Newest first for history listings.
	out := make([]*Record, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		copied := *chain[i]
		out = append(out, &copied)
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListChronological(ctx context.Context, companyID string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.records[companyID]
	out := make([]*Record, len(chain))
	for i, rec := range chain {
		copied := *rec
		out[i] = &copied
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
