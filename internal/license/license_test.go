package license

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlakisik/aex-negotiation/internal/model"
	"github.com/parlakisik/aex-negotiation/internal/testutil"
)

func acceptedNegotiation() model.Negotiation {
	s := testutil.NewStrategyFixture().Build()
	final := testutil.NewTermsFixture().WithPrice(2500).Build().Complete(s)
	name := "OpenAI"
	return model.Negotiation{
		ID:          "neg_1",
		PublisherID: "pub_1",
		ClientName:  "GPTBot",
		PartnerName: &name,
		Status:      model.StatusAccepted,
		LicenseType: model.LicenseRAGAttribution,
		FinalTerms:  &final,
		Context:     map[string]any{"url_patterns": []any{"https://news.example.com/*", " ", "https://blog.example.com/*"}},
	}
}

func TestGenerate(t *testing.T) {
	issued := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	g := NewGenerator(WithClock(func() time.Time { return issued }), WithValidity(24*time.Hour))

	doc, err := g.Generate(acceptedNegotiation())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(doc.PolicyID, "pol_"))
	assert.Equal(t, "neg_1", doc.NegotiationID)
	assert.Equal(t, "OpenAI", doc.PartnerName)
	assert.Equal(t, int64(2500), doc.PriceMicro)
	assert.Equal(t, "0.002500", doc.PriceUSD)
	assert.Equal(t, "2.50", doc.PricePer1KUSD)
	assert.Equal(t, int64(600), doc.TokenTTL)
	assert.Equal(t, int64(10), doc.BurstRPS)
	assert.Equal(t, []string{"rag"}, doc.Purposes)
	assert.Equal(t, []string{"https://news.example.com/*", "https://blog.example.com/*"}, doc.URLPatterns)
	assert.True(t, doc.RequiresAttrib)
	assert.Equal(t, model.PricingPerFetch, doc.PricingModel)
	assert.Equal(t, issued, doc.IssuedAt)
	require.NotNil(t, doc.ExpiresAt)
	assert.Equal(t, issued.Add(24*time.Hour), *doc.ExpiresAt)
}

func TestGenerateRejectsNonAccepted(t *testing.T) {
	g := NewGenerator()
	for _, status := range []model.NegotiationStatus{model.StatusNegotiating, model.StatusRejected, model.StatusTimeout} {
		n := acceptedNegotiation()
		n.Status = status
		_, err := g.Generate(n)
		assert.ErrorIs(t, err, ErrInvalidState, string(status))
	}

	n := acceptedNegotiation()
	n.FinalTerms = nil
	_, err := g.Generate(n)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestURLPatterns(t *testing.T) {
	assert.Nil(t, urlPatterns(nil))
	assert.Equal(t, []string{"a", "b"}, urlPatterns(map[string]any{"url_patterns": "a, b,"}))
	assert.Equal(t, []string{"x"}, urlPatterns(map[string]any{"url_patterns": []string{"x"}}))
	assert.Nil(t, urlPatterns(map[string]any{"url_patterns": 42}))
}
