package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/parlakisik/aex-negotiation/internal/model"
)

// MemoryStore implements Store using in-memory maps.
type MemoryStore struct {
	mu           sync.RWMutex
	strategies   map[string]model.Strategy
	negotiations map[string]model.Negotiation
	rounds       map[string][]model.Round
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		strategies:   make(map[string]model.Strategy),
		negotiations: make(map[string]model.Negotiation),
		rounds:       make(map[string][]model.Round),
	}
}

func (s *MemoryStore) GetStrategy(ctx context.Context, id string) (*model.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.strategies[id]
	if !ok {
		return nil, nil
	}
	out := st
	return &out, nil
}

func (s *MemoryStore) FindStrategies(ctx context.Context, q StrategyQuery) ([]model.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []model.Strategy
	for _, st := range s.strategies {
		if matchesQuery(st, q) {
			result = append(result, st)
		}
	}
	sortStrategies(result)
	return result, nil
}

func (s *MemoryStore) ListStrategies(ctx context.Context, publisherID string) ([]model.Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []model.Strategy
	for _, st := range s.strategies {
		if st.PublisherID == publisherID {
			result = append(result, st)
		}
	}
	sortStrategies(result)
	return result, nil
}

func (s *MemoryStore) SaveStrategy(ctx context.Context, st model.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies[st.ID] = st
	return nil
}

func (s *MemoryStore) DeleteStrategy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.strategies[id]; !ok {
		return fmt.Errorf("strategy %s: %w", id, ErrNotFound)
	}
	delete(s.strategies, id)
	return nil
}

func (s *MemoryStore) GetNegotiation(ctx context.Context, id string) (*model.Negotiation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.negotiations[id]
	if !ok {
		return nil, nil
	}
	out := cloneNegotiation(n)
	return &out, nil
}

func (s *MemoryStore) CreateNegotiation(ctx context.Context, n *model.Negotiation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.negotiations[n.ID]; ok {
		return fmt.Errorf("negotiation %s: %w", n.ID, ErrAlreadyExists)
	}
	n.Version = 1
	s.negotiations[n.ID] = cloneNegotiation(*n)
	return nil
}

func (s *MemoryStore) UpdateNegotiation(ctx context.Context, n *model.Negotiation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.negotiations[n.ID]
	if !ok {
		return fmt.Errorf("negotiation %s: %w", n.ID, ErrNotFound)
	}
	if cur.Version != n.Version {
		return fmt.Errorf("negotiation %s at version %d, got %d: %w", n.ID, cur.Version, n.Version, ErrVersionConflict)
	}
	n.Version++
	s.negotiations[n.ID] = cloneNegotiation(*n)
	return nil
}

func (s *MemoryStore) ListNegotiations(ctx context.Context, f NegotiationFilter) ([]model.Negotiation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []model.Negotiation
	for _, n := range s.negotiations {
		if matchesFilter(n, f) {
			result = append(result, cloneNegotiation(n))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastActivityAt.After(result[j].LastActivityAt)
	})
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (s *MemoryStore) AppendRound(ctx context.Context, r model.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Terms = r.Terms.Clone()
	s.rounds[r.NegotiationID] = append(s.rounds[r.NegotiationID], r)
	return nil
}

func (s *MemoryStore) ListRounds(ctx context.Context, negotiationID string) ([]model.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.rounds[negotiationID]
	out := make([]model.Round, len(src))
	copy(out, src)
	return out, nil
}

func sortStrategies(list []model.Strategy) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}

func cloneNegotiation(n model.Negotiation) model.Negotiation {
	out := n
	out.InitialProposal = n.InitialProposal.Clone()
	out.CurrentTerms = n.CurrentTerms.Clone()
	if n.FinalTerms != nil {
		ft := n.FinalTerms.Clone()
		out.FinalTerms = &ft
	}
	if n.LastOffer != nil {
		lo := n.LastOffer.Clone()
		out.LastOffer = &lo
	}
	if n.Context != nil {
		out.Context = make(map[string]any, len(n.Context))
		for k, v := range n.Context {
			out.Context[k] = v
		}
	}
	return out
}
