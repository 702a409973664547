package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/example/captable/internal/equity"
)

// Store persists share classes. Mutations are atomic per class and
// enforce the issuance bounds, so every implementation rejects the same
// writes the registry would.
type Store interface {
	Insert(ctx context.Context, class *equity.ShareClass) error
	Get(ctx context.Context, classID string) (*equity.ShareClass, error)
	ListByCompany(ctx context.Context, companyID string) ([]*equity.ShareClass, error)
	AdjustIssued(ctx context.Context, classID string, delta decimal.Decimal) error
	ApplySplit(ctx context.Context, classID string, ratio decimal.Decimal) error
	Delete(ctx context.Context, classID string) error
}

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	classes map[string]*equity.ShareClass
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{classes: make(map[string]*equity.ShareClass)}
}

func (s *MemoryStore) Insert(ctx context.Context, class *equity.ShareClass) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *class
	s.classes[class.ID] = &copied
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, classID string) (*equity.ShareClass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	class, ok := s.classes[classID]
	if !ok {
		return nil, &equity.NotFoundError{ResourceType: "share class", ResourceID: classID}
	}
	copied := *class
	return &copied, nil
}

func (s *MemoryStore) ListByCompany(ctx context.Context, companyID string) ([]*equity.ShareClass, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*equity.ShareClass
	for _, class := range s.classes {
		if class.CompanyID == companyID {
			copied := *class
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) AdjustIssued(ctx context.Context, classID string, delta decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	class, ok := s.classes[classID]
	if !ok {
		return &equity.NotFoundError{ResourceType: "share class", ResourceID: classID}
	}

	next := class.TotalIssued.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("total issued for class %s cannot go negative", classID)
	}
	if next.GreaterThan(class.TotalAuthorized) {
		return fmt.Errorf("issuing %s shares would exceed authorized total %s for class %s",
			delta.String(), class.TotalAuthorized.String(), classID)
	}

	class.TotalIssued = next
	return nil
}

func (s *MemoryStore) ApplySplit(ctx context.Context, classID string, ratio decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	class, ok := s.classes[classID]
	if !ok {
		return &equity.NotFoundError{ResourceType: "share class", ResourceID: classID}
	}

	class.TotalAuthorized = class.TotalAuthorized.Mul(ratio)
	class.TotalIssued = class.TotalIssued.Mul(ratio)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, classID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	class, ok := s.classes[classID]
	if !ok {
		return &equity.NotFoundError{ResourceType: "share class", ResourceID: classID}
	}
	if class.TotalIssued.IsPositive() {
		return fmt.Errorf("share class %s has issued shares and cannot be deleted", classID)
	}

	delete(s.classes, classID)
	return nil
}
