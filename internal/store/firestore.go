package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/parlakisik/aex-negotiation/internal/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	strategiesCollection   = "negotiation_strategies"
	negotiationsCollection = "negotiations"
	roundsCollection       = "negotiation_rounds"
)

// FirestoreStore implements Store on Cloud Firestore. Queries filter on one
// equality field and the remaining predicates run client side, so no composite
// indexes are needed.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

func (s *FirestoreStore) GetStrategy(ctx context.Context, id string) (*model.Strategy, error) {
	doc, err := s.client.Collection(strategiesCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get strategy: %w", err)
	}
	var st model.Strategy
	if err := doc.DataTo(&st); err != nil {
		return nil, fmt.Errorf("decode strategy: %w", err)
	}
	return &st, nil
}

func (s *FirestoreStore) FindStrategies(ctx context.Context, q StrategyQuery) ([]model.Strategy, error) {
	all, err := s.ListStrategies(ctx, q.PublisherID)
	if err != nil {
		return nil, err
	}
	var out []model.Strategy
	for _, st := range all {
		if matchesQuery(st, q) {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *FirestoreStore) ListStrategies(ctx context.Context, publisherID string) ([]model.Strategy, error) {
	iter := s.client.Collection(strategiesCollection).
		Where("publisher_id", "==", publisherID).
		Documents(ctx)
	defer iter.Stop()

	var out []model.Strategy
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate strategies: %w", err)
		}
		var st model.Strategy
		if err := doc.DataTo(&st); err != nil {
			return nil, fmt.Errorf("decode strategy: %w", err)
		}
		out = append(out, st)
	}
	sortStrategies(out)
	return out, nil
}

func (s *FirestoreStore) SaveStrategy(ctx context.Context, st model.Strategy) error {
	if _, err := s.client.Collection(strategiesCollection).Doc(st.ID).Set(ctx, st); err != nil {
		return fmt.Errorf("save strategy: %w", err)
	}
	return nil
}

func (s *FirestoreStore) DeleteStrategy(ctx context.Context, id string) error {
	_, err := s.client.Collection(strategiesCollection).Doc(id).Delete(ctx, firestore.Exists)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("strategy %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("delete strategy: %w", err)
	}
	return nil
}

func (s *FirestoreStore) GetNegotiation(ctx context.Context, id string) (*model.Negotiation, error) {
	doc, err := s.client.Collection(negotiationsCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get negotiation: %w", err)
	}
	var n model.Negotiation
	if err := doc.DataTo(&n); err != nil {
		return nil, fmt.Errorf("decode negotiation: %w", err)
	}
	return &n, nil
}

func (s *FirestoreStore) CreateNegotiation(ctx context.Context, n *model.Negotiation) error {
	n.Version = 1
	_, err := s.client.Collection(negotiationsCollection).Doc(n.ID).Create(ctx, n)
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("negotiation %s: %w", n.ID, ErrAlreadyExists)
	}
	if err != nil {
		return fmt.Errorf("create negotiation: %w", err)
	}
	return nil
}

func (s *FirestoreStore) UpdateNegotiation(ctx context.Context, n *model.Negotiation) error {
	ref := s.client.Collection(negotiationsCollection).Doc(n.ID)
	next := *n
	next.Version = n.Version + 1
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("negotiation %s: %w", n.ID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		var cur model.Negotiation
		if err := doc.DataTo(&cur); err != nil {
			return fmt.Errorf("decode negotiation: %w", err)
		}
		if cur.Version != n.Version {
			return fmt.Errorf("negotiation %s at version %d, got %d: %w", n.ID, cur.Version, n.Version, ErrVersionConflict)
		}
		return tx.Set(ref, next)
	})
	if err != nil {
		return err
	}
	n.Version = next.Version
	return nil
}

func (s *FirestoreStore) ListNegotiations(ctx context.Context, f NegotiationFilter) ([]model.Negotiation, error) {
	query := s.client.Collection(negotiationsCollection).Query
	if f.PublisherID != "" {
		query = query.Where("publisher_id", "==", f.PublisherID)
	}
	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []model.Negotiation
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate negotiations: %w", err)
		}
		var n model.Negotiation
		if err := doc.DataTo(&n); err != nil {
			return nil, fmt.Errorf("decode negotiation: %w", err)
		}
		if matchesFilter(n, f) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.After(out[j].LastActivityAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *FirestoreStore) AppendRound(ctx context.Context, r model.Round) error {
	if _, err := s.client.Collection(roundsCollection).Doc(r.ID).Set(ctx, r); err != nil {
		return fmt.Errorf("append round: %w", err)
	}
	return nil
}

func (s *FirestoreStore) ListRounds(ctx context.Context, negotiationID string) ([]model.Round, error) {
	iter := s.client.Collection(roundsCollection).
		Where("negotiation_id", "==", negotiationID).
		Documents(ctx)
	defer iter.Stop()

	out := []model.Round{}
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate rounds: %w", err)
		}
		var r model.Round
		if err := doc.DataTo(&r); err != nil {
			return nil, fmt.Errorf("decode round: %w", err)
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
