package evaluation

import (
	"math"

	"github.com/parlakisik/aex-negotiation/internal/model"
)

const (
	weightPrice    = 0.4
	weightTTL      = 0.2
	weightBurstRPS = 0.2
	weightPurposes = 0.2

	priceCapMultiple = 2.0
)

// Breakdown holds the sub-scores that contributed to Total. A nil sub-score
// means the field was absent and its weight was dropped.
type Breakdown struct {
	Price    *float64 `json:"price,omitempty"`
	TTL      *float64 `json:"ttl,omitempty"`
	BurstRPS *float64 `json:"burst_rps,omitempty"`
	Purposes *float64 `json:"purposes,omitempty"`
	Total    float64  `json:"total"`
}

// Score is the weighted fitness of terms against the strategy's preferred
// values, in [0,1]. Terms with no scorable field score 0.
func Score(terms model.Terms, s model.Strategy) float64 {
	return ScoreBreakdown(terms, s).Total
}

func ScoreBreakdown(terms model.Terms, s model.Strategy) Breakdown {
	var b Breakdown
	var sum, weights float64
	add := func(dst **float64, w, v float64) {
		v = clamp01(v)
		*dst = &v
		sum += w * v
		weights += w
	}

	if terms.PricePerFetchMicro != nil {
		price := float64(*terms.PricePerFetchMicro)
		if s.PreferredPricePerFetchMicro > 0 {
			add(&b.Price, weightPrice, math.Min(price/float64(s.PreferredPricePerFetchMicro), priceCapMultiple)/priceCapMultiple)
		} else {
			add(&b.Price, weightPrice, 1)
		}
	}
	if terms.TokenTTLSeconds != nil && s.PreferredTokenTTLSeconds > 0 {
		add(&b.TTL, weightTTL, deviationScore(*terms.TokenTTLSeconds, s.PreferredTokenTTLSeconds))
	}
	if terms.BurstRPS != nil && s.PreferredBurstRPS > 0 {
		add(&b.BurstRPS, weightBurstRPS, deviationScore(*terms.BurstRPS, s.PreferredBurstRPS))
	}
	if terms.Purposes != nil && len(s.PreferredPurposes) > 0 {
		add(&b.Purposes, weightPurposes, purposeOverlap(terms.Purposes, s.PreferredPurposes))
	}

	if weights > 0 {
		b.Total = clamp01(sum / weights)
	}
	return b
}

func deviationScore(got, preferred int64) float64 {
	dev := math.Abs(float64(got-preferred)) / float64(preferred)
	return 1 - math.Min(dev, 1)
}

func purposeOverlap(proposed, preferred []string) float64 {
	have := make(map[string]struct{}, len(proposed))
	for _, p := range proposed {
		have[p] = struct{}{}
	}
	matched := 0
	for _, p := range preferred {
		if _, ok := have[p]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(preferred))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
