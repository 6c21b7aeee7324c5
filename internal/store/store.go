package store

import (
	"context"
	"errors"

	"github.com/parlakisik/aex-negotiation/internal/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrVersionConflict = errors.New("version conflict")
)

// StrategyQuery selects active strategies for one publisher. A nil PartnerName
// matches only strategies that have no partner name.
type StrategyQuery struct {
	PublisherID string
	PartnerType model.PartnerType
	PartnerName *string
	LicenseType string
}

type NegotiationFilter struct {
	PublisherID string
	Status      model.NegotiationStatus
	Limit       int
}

type StrategyStore interface {
	GetStrategy(ctx context.Context, id string) (*model.Strategy, error)
	FindStrategies(ctx context.Context, q StrategyQuery) ([]model.Strategy, error)
	ListStrategies(ctx context.Context, publisherID string) ([]model.Strategy, error)
	SaveStrategy(ctx context.Context, s model.Strategy) error
	DeleteStrategy(ctx context.Context, id string) error
}

// NegotiationStore persists the negotiation aggregate. UpdateNegotiation is a
// compare-and-swap on Version: it fails with ErrVersionConflict unless the stored
// version equals n.Version, and on success bumps n.Version.
type NegotiationStore interface {
	GetNegotiation(ctx context.Context, id string) (*model.Negotiation, error)
	CreateNegotiation(ctx context.Context, n *model.Negotiation) error
	UpdateNegotiation(ctx context.Context, n *model.Negotiation) error
	ListNegotiations(ctx context.Context, f NegotiationFilter) ([]model.Negotiation, error)
}

type RoundStore interface {
	AppendRound(ctx context.Context, r model.Round) error
	ListRounds(ctx context.Context, negotiationID string) ([]model.Round, error)
}

type Store interface {
	StrategyStore
	NegotiationStore
	RoundStore
}

func matchesQuery(s model.Strategy, q StrategyQuery) bool {
	if !s.Active || s.PublisherID != q.PublisherID || s.PartnerType != q.PartnerType {
		return false
	}
	if q.PartnerName == nil {
		if s.PartnerName != nil {
			return false
		}
	} else if s.PartnerName == nil || *s.PartnerName != *q.PartnerName {
		return false
	}
	return s.AppliesTo(q.LicenseType)
}

func matchesFilter(n model.Negotiation, f NegotiationFilter) bool {
	if f.PublisherID != "" && n.PublisherID != f.PublisherID {
		return false
	}
	if f.Status != "" && n.Status != f.Status {
		return false
	}
	return true
}
