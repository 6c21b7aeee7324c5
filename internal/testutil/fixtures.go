package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/parlakisik/aex-negotiation/internal/events"
	"github.com/parlakisik/aex-negotiation/internal/model"
)

// StrategyFixture builds a valid strategy for tests.
type StrategyFixture struct {
	s model.Strategy
}

// NewStrategyFixture creates a startup-tier strategy with a 1000..5000 micro price band
func NewStrategyFixture() StrategyFixture {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return StrategyFixture{s: model.Strategy{
		ID:                          "strat_test_001",
		PublisherID:                 "pub_test_001",
		Name:                        "default startup",
		PartnerType:                 model.PartnerStartup,
		LicenseTypes:                []string{model.LicenseRAGUnrestricted, model.LicenseTraining},
		PricingModel:                model.PricingPerFetch,
		MinPricePerFetchMicro:       1000,
		PreferredPricePerFetchMicro: 2000,
		MaxPricePerFetchMicro:       5000,
		MinTokenTTLSeconds:          60,
		PreferredTokenTTLSeconds:    600,
		MaxTokenTTLSeconds:          3600,
		MinBurstRPS:                 1,
		PreferredBurstRPS:           10,
		MaxBurstRPS:                 100,
		NegotiationStyle:            "balanced",
		AutoAcceptThreshold:         0.9,
		PreferredPurposes:           []string{"rag"},
		LLMProvider:                 "fake",
		LLMModel:                    "fake-model",
		MaxRounds:                   5,
		TimeoutSeconds:              0,
		Active:                      true,
		CreatedAt:                   now,
		UpdatedAt:                   now,
	}}
}

// WithID sets the strategy ID
func (f StrategyFixture) WithID(id string) StrategyFixture {
	f.s.ID = id
	return f
}

// WithPublisherID sets the publisher ID
func (f StrategyFixture) WithPublisherID(id string) StrategyFixture {
	f.s.PublisherID = id
	return f
}

// WithPartnerType sets the tier and clears any partner name
func (f StrategyFixture) WithPartnerType(pt model.PartnerType) StrategyFixture {
	f.s.PartnerType = pt
	f.s.PartnerName = nil
	return f
}

// WithSpecificPartner turns the fixture into a specific_partner strategy
func (f StrategyFixture) WithSpecificPartner(name string) StrategyFixture {
	f.s.PartnerType = model.PartnerSpecific
	f.s.PartnerName = &name
	return f
}

func (f StrategyFixture) WithLicenseTypes(types ...string) StrategyFixture {
	f.s.LicenseTypes = types
	return f
}

// WithPriceBand sets min, preferred and max price in micro-dollars
func (f StrategyFixture) WithPriceBand(min, preferred, max int64) StrategyFixture {
	f.s.MinPricePerFetchMicro = min
	f.s.PreferredPricePerFetchMicro = preferred
	f.s.MaxPricePerFetchMicro = max
	return f
}

func (f StrategyFixture) WithThreshold(threshold float64) StrategyFixture {
	f.s.AutoAcceptThreshold = threshold
	return f
}

func (f StrategyFixture) WithDealBreaker(field, op string, value any) StrategyFixture {
	f.s.DealBreakers = append(append([]model.DealBreaker{}, f.s.DealBreakers...), model.DealBreaker{Field: field, Operator: op, Value: value})
	return f
}

func (f StrategyFixture) WithMaxRounds(n int) StrategyFixture {
	f.s.MaxRounds = n
	return f
}

func (f StrategyFixture) WithTimeoutSeconds(sec int64) StrategyFixture {
	f.s.TimeoutSeconds = sec
	return f
}

func (f StrategyFixture) WithCreatedAt(t time.Time) StrategyFixture {
	f.s.CreatedAt = t
	f.s.UpdatedAt = t
	return f
}

func (f StrategyFixture) WithActive(active bool) StrategyFixture {
	f.s.Active = active
	return f
}

// Build returns the strategy
func (f StrategyFixture) Build() model.Strategy {
	return f.s
}

// TermsFixture builds proposal terms.
type TermsFixture struct {
	t model.Terms
}

// NewTermsFixture creates an empty proposal
func NewTermsFixture() TermsFixture {
	return TermsFixture{}
}

func (f TermsFixture) WithPrice(micro int64) TermsFixture {
	f.t.PricePerFetchMicro = model.Int64(micro)
	return f
}

func (f TermsFixture) WithTTL(seconds int64) TermsFixture {
	f.t.TokenTTLSeconds = model.Int64(seconds)
	return f
}

func (f TermsFixture) WithBurstRPS(rps int64) TermsFixture {
	f.t.BurstRPS = model.Int64(rps)
	return f
}

func (f TermsFixture) WithPurposes(p ...string) TermsFixture {
	f.t.Purposes = p
	return f
}

func (f TermsFixture) WithPricingModel(m string) TermsFixture {
	f.t.PricingModel = m
	return f
}

func (f TermsFixture) Build() model.Terms {
	return f.t.Clone()
}

// RecordingSink collects emitted events.
type RecordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *RecordingSink) Emit(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Types returns the emitted event types in order
func (r *RecordingSink) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *RecordingSink) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}
