package counteroffer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const DefaultSystemPrompt = "You are a licensing negotiator acting for a content publisher. " +
	"Negotiate firmly but fairly, stay inside the publisher's limits, and respond only with valid JSON."

// MicroToUSD renders a micro-dollar amount as a USD string.
func MicroToUSD(micro int64) string {
	return "$" + decimal.New(micro, -6).StringFixed(6)
}

func buildUserPrompt(in Input) string {
	s := in.Strategy
	var b strings.Builder

	b.WriteString("## Counterpart\n")
	fmt.Fprintf(&b, "- partner tier: %s\n", in.Partner.Type)
	if in.Partner.Name != "" {
		fmt.Fprintf(&b, "- partner: %s\n", in.Partner.Name)
	}
	fmt.Fprintf(&b, "- client: %s\n", in.Partner.ClientName)
	if in.Partner.UseCase != "" {
		fmt.Fprintf(&b, "- use case: %s\n", in.Partner.UseCase)
	}
	if len(in.Partner.Context) > 0 {
		fmt.Fprintf(&b, "- context: %s\n", compactJSON(in.Partner.Context))
	}

	b.WriteString("\n## Publisher limits\n")
	fmt.Fprintf(&b, "- pricing model: %s\n", s.PricingModel)
	fmt.Fprintf(&b, "- price per fetch (micro-dollars): min %d, preferred %d, max %d (%s to %s)\n",
		s.MinPricePerFetchMicro, s.PreferredPricePerFetchMicro, s.MaxPricePerFetchMicro,
		MicroToUSD(s.MinPricePerFetchMicro), MicroToUSD(s.MaxPricePerFetchMicro))
	fmt.Fprintf(&b, "- token ttl seconds: min %d, preferred %d, max %d\n",
		s.MinTokenTTLSeconds, s.PreferredTokenTTLSeconds, s.MaxTokenTTLSeconds)
	fmt.Fprintf(&b, "- burst rps: min %d, preferred %d, max %d\n",
		s.MinBurstRPS, s.PreferredBurstRPS, s.MaxBurstRPS)
	if len(s.PreferredPurposes) > 0 {
		fmt.Fprintf(&b, "- preferred purposes: %s\n", strings.Join(s.PreferredPurposes, ", "))
	}
	if s.NegotiationStyle != "" {
		fmt.Fprintf(&b, "- negotiation style: %s\n", s.NegotiationStyle)
	}
	if len(s.DealBreakers) > 0 {
		b.WriteString("- deal breakers (never accept):\n")
		for _, d := range s.DealBreakers {
			fmt.Fprintf(&b, "  - %s\n", d.String())
		}
	}
	if len(s.PreferredTerms) > 0 {
		fmt.Fprintf(&b, "- preferred terms: %s\n", compactJSON(s.PreferredTerms))
	}

	if in.Round == 0 {
		fmt.Fprintf(&b, "\n## Opening offer (up to %d rounds)\n", s.MaxRounds)
	} else {
		fmt.Fprintf(&b, "\n## Round %d of %d\n", in.Round, s.MaxRounds)
	}
	fmt.Fprintf(&b, "Counterpart proposal: %s\n", compactJSON(in.Proposal))

	b.WriteString("\nRespond with a JSON object: ")
	b.WriteString(`{"price": <price per fetch in micro-dollars>, "pricing_model": "<model>", `)
	b.WriteString(`"terms": {"token_ttl_seconds": <int>, "burst_rps": <int>, "purposes": [<string>]}, `)
	b.WriteString(`"reasoning": "<short justification>", "tone": "<firm|flexible|collaborative>"}`)
	return b.String()
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
