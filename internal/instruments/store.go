// Package instruments manages option plans and grants, convertible
// instruments, and funding rounds: everything that dilutes the cap table
// without yet being shares on the ledger.
package instruments

import (
	"context"
	"sort"
	"sync"

	"github.com/example/captable/internal/equity"
)

// Store is an in-memory store for the option and convertible domain.
type Store struct {
	mu          sync.RWMutex
	plans       map[string]*equity.OptionPlan
	grants      map[string]*equity.OptionGrant
	instruments map[string]*equity.ConvertibleInstrument
	rounds      map[string]*equity.FundingRound
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		plans:       make(map[string]*equity.OptionPlan),
		grants:      make(map[string]*equity.OptionGrant),
		instruments: make(map[string]*equity.ConvertibleInstrument),
		rounds:      make(map[string]*equity.FundingRound),
	}
}

func (s *Store) putPlan(p *equity.OptionPlan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *p
	s.plans[p.ID] = &copied
}

func (s *Store) getPlan(id string) (*equity.OptionPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, &equity.NotFoundError{ResourceType: "option plan", ResourceID: id}
	}
	copied := *p
	return &copied, nil
}

func (s *Store) putGrant(g *equity.OptionGrant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *g
	s.grants[g.ID] = &copied
}

func (s *Store) getGrant(id string) (*equity.OptionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[id]
	if !ok {
		return nil, &equity.NotFoundError{ResourceType: "option grant", ResourceID: id}
	}
	copied := *g
	return &copied, nil
}

func (s *Store) putInstrument(inst *equity.ConvertibleInstrument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *inst
	s.instruments[inst.ID] = &copied
}

func (s *Store) getInstrument(id string) (*equity.ConvertibleInstrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instruments[id]
	if !ok {
		return nil, &equity.NotFoundError{ResourceType: "convertible instrument", ResourceID: id}
	}
	copied := *inst
	return &copied, nil
}

func (s *Store) putRound(r *equity.FundingRound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *r
	s.rounds[r.ID] = &copied
}

func (s *Store) getRound(id string) (*equity.FundingRound, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rounds[id]
	if !ok {
		return nil, &equity.NotFoundError{ResourceType: "funding round", ResourceID: id}
	}
	copied := *r
	return &copied, nil
}

// Plans returns a company's option plans ordered by creation time.
func (s *Store) Plans(ctx context.Context, companyID string) ([]*equity.OptionPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*equity.OptionPlan
	for _, p := range s.plans {
		if p.CompanyID == companyID {
			copied := *p
			out = append(out, &copied)
		}
	}
	sortByCreated(out, func(p *equity.OptionPlan) (string, int64) { return p.ID, p.CreatedAt.UnixNano() })
	return out, nil
}

// Grants returns a company's option grants ordered by creation time.
func (s *Store) Grants(ctx context.Context, companyID string) ([]*equity.OptionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*equity.OptionGrant
	for _, g := range s.grants {
		if g.CompanyID == companyID {
			copied := *g
			out = append(out, &copied)
		}
	}
	sortByCreated(out, func(g *equity.OptionGrant) (string, int64) { return g.ID, g.CreatedAt.UnixNano() })
	return out, nil
}

// Instruments returns a company's convertible instruments ordered by issue
// time.
func (s *Store) Instruments(ctx context.Context, companyID string) ([]*equity.ConvertibleInstrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*equity.ConvertibleInstrument
	for _, inst := range s.instruments {
		if inst.CompanyID == companyID {
			copied := *inst
			out = append(out, &copied)
		}
	}
	sortByCreated(out, func(i *equity.ConvertibleInstrument) (string, int64) { return i.ID, i.IssuedAt.UnixNano() })
	return out, nil
}

// Rounds returns a company's funding rounds ordered by creation time.
func (s *Store) Rounds(ctx context.Context, companyID string) ([]*equity.FundingRound, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*equity.FundingRound
	for _, r := range s.rounds {
		if r.CompanyID == companyID {
			copied := *r
			out = append(out, &copied)
		}
	}
	sortByCreated(out, func(r *equity.FundingRound) (string, int64) { return r.ID, r.CreatedAt.UnixNano() })
	return out, nil
}

func sortByCreated[T any](items []T, key func(T) (string, int64)) {
	sort.Slice(items, func(i, j int) bool {
		idI, atI := key(items[i])
		idJ, atJ := key(items[j])
		if atI == atJ {
			return idI < idJ
		}
		return atI < atJ
	})
}
