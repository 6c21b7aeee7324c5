package counteroffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/parlakisik/aex-negotiation/internal/llm"
	"github.com/parlakisik/aex-negotiation/internal/model"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

var ErrInvalidLLMResponse = errors.New("invalid llm response")

// ProviderSource resolves an LLM backend per strategy. *llm.Registry satisfies it.
type ProviderSource interface {
	Get(provider, model string) (llm.Provider, error)
}

type Input struct {
	NegotiationID string
	Proposal      model.Terms
	Strategy      model.Strategy
	// Round is the ledger round the offer is recorded at; 0 is the opening offer.
	Round         int
	Partner       model.PartnerInfo
}

// CounterOffer is the publisher's next offer. Price is micro-dollars per fetch,
// already clamped into the strategy's price band.
type CounterOffer struct {
	Price        int64       `json:"price"`
	PricingModel string      `json:"pricing_model"`
	Terms        model.Terms `json:"terms"`
	Reasoning    string      `json:"reasoning"`
	Tone         string      `json:"tone,omitempty"`

	Model      string        `json:"model"`
	TokensUsed int           `json:"tokens_used"`
	Latency    time.Duration `json:"-"`
}

// ProposedTerms folds price and pricing model into the offered terms.
func (c CounterOffer) ProposedTerms() model.Terms {
	t := c.Terms.Clone()
	t.PricePerFetchMicro = model.Int64(c.Price)
	t.PricingModel = c.PricingModel
	return t
}

type Generator struct {
	providers       ProviderSource
	schema          *jsonschema.Schema
	defaultProvider string
	systemPrompt    string
	temperature     float64
}

type Option func(*Generator)

func WithDefaultProvider(name string) Option {
	return func(g *Generator) { g.defaultProvider = name }
}

func WithSystemPrompt(prompt string) Option {
	return func(g *Generator) { g.systemPrompt = prompt }
}

func NewGenerator(providers ProviderSource, opts ...Option) (*Generator, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	g := &Generator{
		providers:       providers,
		schema:          schema,
		defaultProvider: llm.ProviderOpenAI,
		systemPrompt:    DefaultSystemPrompt,
		temperature:     0.4,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

type llmOffer struct {
	Price        float64     `json:"price"`
	PricingModel string      `json:"pricing_model"`
	Terms        model.Terms `json:"terms"`
	Reasoning    string      `json:"reasoning"`
	Tone         string      `json:"tone"`
}

// Generate asks the strategy's LLM for the next counter-offer. Transport
// failures are returned as-is; unusable output fails with ErrInvalidLLMResponse.
func (g *Generator) Generate(ctx context.Context, in Input) (*CounterOffer, error) {
	providerName := in.Strategy.LLMProvider
	if strings.TrimSpace(providerName) == "" {
		providerName = g.defaultProvider
	}
	provider, err := g.providers.Get(providerName, in.Strategy.LLMModel)
	if err != nil {
		return nil, err
	}

	req := llm.Request{
		System:      g.systemPrompt,
		User:        buildUserPrompt(in),
		Temperature: g.temperature,
		MaxTokens:   800,
	}
	var raw map[string]any
	completion, err := llm.CompleteJSON(ctx, provider, req, &raw)
	if err != nil {
		if errors.Is(err, llm.ErrInvalidResponse) {
			slog.WarnContext(ctx, "counter_offer_unparsable", "negotiation_id", in.NegotiationID, "error", err)
			return nil, fmt.Errorf("%w: %v", ErrInvalidLLMResponse, err)
		}
		return nil, err
	}
	if err := g.schema.Validate(raw); err != nil {
		slog.WarnContext(ctx, "counter_offer_schema_mismatch", "negotiation_id", in.NegotiationID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidLLMResponse, err)
	}

	var parsed llmOffer
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLLMResponse, err)
	}
	if err := json.Unmarshal(encoded, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLLMResponse, err)
	}
	if err := parsed.Terms.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLLMResponse, err)
	}

	offer := &CounterOffer{
		Price:        clampPrice(parsed.Price, in.Strategy),
		PricingModel: parsed.PricingModel,
		Terms:        parsed.Terms,
		Reasoning:    parsed.Reasoning,
		Tone:         parsed.Tone,
		Model:        completion.Model,
		TokensUsed:   completion.TokensUsed,
		Latency:      completion.Latency,
	}
	slog.InfoContext(ctx, "counter_offer_generated",
		"negotiation_id", in.NegotiationID,
		"round", in.Round,
		"price", offer.Price,
		"model", offer.Model,
		"tokens_used", offer.TokensUsed,
		"latency_ms", offer.Latency.Milliseconds(),
	)
	return offer, nil
}

func clampPrice(price float64, s model.Strategy) int64 {
	if price <= float64(s.MinPricePerFetchMicro) {
		return s.MinPricePerFetchMicro
	}
	if s.MaxPricePerFetchMicro > 0 && price >= float64(s.MaxPricePerFetchMicro) {
		return s.MaxPricePerFetchMicro
	}
	return int64(math.Round(price))
}
