package license

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/parlakisik/aex-negotiation/internal/model"
)

var ErrInvalidState = errors.New("negotiation is not accepted")

// PolicyDocument is the enforceable license issued for an accepted negotiation.
type PolicyDocument struct {
	PolicyID       string   `json:"policy_id"`
	NegotiationID  string   `json:"negotiation_id"`
	PublisherID    string   `json:"publisher_id"`
	ClientName     string   `json:"client_name"`
	PartnerName    string   `json:"partner_name,omitempty"`
	LicenseType    string   `json:"license_type"`
	PricingModel   string   `json:"pricing_model"`
	PriceMicro     int64    `json:"price_per_fetch_micro"`
	PriceUSD       string   `json:"price_per_fetch_usd"`
	PricePer1KUSD  string   `json:"price_per_1000_fetches_usd"`
	TokenTTL       int64    `json:"token_ttl_seconds"`
	BurstRPS       int64    `json:"burst_rps"`
	Purposes       []string `json:"purposes"`
	URLPatterns    []string `json:"url_patterns,omitempty"`
	RequiresAttrib bool     `json:"requires_attribution"`

	IssuedAt  time.Time  `json:"issued_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

var microPerDollar = decimal.New(1, 6)

type Generator struct {
	now      func() time.Time
	validity time.Duration
}

type Option func(*Generator)

// WithValidity sets how long issued policies stay valid. Zero means no expiry.
func WithValidity(d time.Duration) Option {
	return func(g *Generator) { g.validity = d }
}

func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

func NewGenerator(opts ...Option) *Generator {
	g := &Generator{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate builds the policy for n. Only accepted negotiations with final
// terms can be licensed.
func (g *Generator) Generate(n model.Negotiation) (*PolicyDocument, error) {
	if n.Status != model.StatusAccepted || n.FinalTerms == nil {
		return nil, fmt.Errorf("%w: negotiation %s is %s", ErrInvalidState, n.ID, n.Status)
	}
	final := *n.FinalTerms
	if !final.IsComplete() {
		return nil, fmt.Errorf("%w: negotiation %s has incomplete final terms", ErrInvalidState, n.ID)
	}

	price := decimal.NewFromInt(*final.PricePerFetchMicro).Div(microPerDollar)
	now := g.now()
	doc := &PolicyDocument{
		PolicyID:       "pol_" + uuid.New().String(),
		NegotiationID:  n.ID,
		PublisherID:    n.PublisherID,
		ClientName:     n.ClientName,
		LicenseType:    n.LicenseType,
		PricingModel:   final.PricingModel,
		PriceMicro:     *final.PricePerFetchMicro,
		PriceUSD:       price.StringFixed(6),
		PricePer1KUSD:  price.Mul(decimal.NewFromInt(1000)).StringFixed(2),
		TokenTTL:       *final.TokenTTLSeconds,
		BurstRPS:       *final.BurstRPS,
		Purposes:       append([]string{}, final.Purposes...),
		URLPatterns:    urlPatterns(n.Context),
		RequiresAttrib: n.LicenseType == model.LicenseRAGAttribution,
		IssuedAt:       now,
	}
	if n.PartnerName != nil {
		doc.PartnerName = *n.PartnerName
	}
	if g.validity > 0 {
		exp := now.Add(g.validity)
		doc.ExpiresAt = &exp
	}
	return doc, nil
}

// urlPatterns reads context["url_patterns"], accepting a string slice, a JSON
// array or a comma separated string.
func urlPatterns(ctx map[string]any) []string {
	raw, ok := ctx["url_patterns"]
	if !ok {
		return nil
	}
	var out []string
	switch v := raw.(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	case string:
		out = strings.Split(v, ",")
	}
	cleaned := out[:0]
	for _, p := range out {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		return nil
	}
	return cleaned
}
