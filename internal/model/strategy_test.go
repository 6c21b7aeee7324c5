package model

import (
	"errors"
	"strings"
	"testing"
)

func validStrategy() Strategy {
	return Strategy{
		ID:                          "strat_1",
		PublisherID:                 "pub_1",
		PartnerType:                 PartnerTier1AI,
		LicenseTypes:                []string{LicenseTraining},
		PricingModel:                PricingPerFetch,
		MinPricePerFetchMicro:       1000,
		PreferredPricePerFetchMicro: 2000,
		MaxPricePerFetchMicro:       5000,
		MinTokenTTLSeconds:          60,
		PreferredTokenTTLSeconds:    3600,
		MaxTokenTTLSeconds:          86400,
		MinBurstRPS:                 1,
		PreferredBurstRPS:           10,
		MaxBurstRPS:                 100,
		AutoAcceptThreshold:         0.9,
		MaxRounds:                   5,
		TimeoutSeconds:              3600,
	}
}

func TestStrategyValidate(t *testing.T) {
	name := "OpenAI"
	tests := []struct {
		name    string
		mutate  func(s *Strategy)
		wantErr string
	}{
		{name: "valid", mutate: func(s *Strategy) {}},
		{
			name:    "price bounds inverted",
			mutate:  func(s *Strategy) { s.PreferredPricePerFetchMicro = 9000 },
			wantErr: "price bounds",
		},
		{
			name:    "ttl min above preferred",
			mutate:  func(s *Strategy) { s.MinTokenTTLSeconds = 7200 },
			wantErr: "token ttl bounds",
		},
		{
			name:    "threshold out of range",
			mutate:  func(s *Strategy) { s.AutoAcceptThreshold = 1.5 },
			wantErr: "auto_accept_threshold",
		},
		{
			name:    "specific partner without name",
			mutate:  func(s *Strategy) { s.PartnerType = PartnerSpecific },
			wantErr: "partner_name is required",
		},
		{
			name: "specific partner with name",
			mutate: func(s *Strategy) {
				s.PartnerType = PartnerSpecific
				s.PartnerName = &name
			},
		},
		{
			name: "unsupported operator",
			mutate: func(s *Strategy) {
				s.DealBreakers = []DealBreaker{{Field: "price", Operator: "!=", Value: 1}}
			},
			wantErr: "operator",
		},
		{
			name:    "zero max rounds",
			mutate:  func(s *Strategy) { s.MaxRounds = 0 },
			wantErr: "max_rounds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validStrategy()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidStrategy) {
				t.Fatalf("Validate() error = %v, want ErrInvalidStrategy", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestStrategyAppliesTo(t *testing.T) {
	s := validStrategy()
	if !s.AppliesTo(LicenseTraining) {
		t.Error("AppliesTo(training) = false")
	}
	if s.AppliesTo(LicenseRAGUnrestricted) {
		t.Error("AppliesTo(rag_unrestricted) = true")
	}
}

func TestDealBreakerString(t *testing.T) {
	tests := []struct {
		rule DealBreaker
		want string
	}{
		{DealBreaker{Field: "price_per_fetch_micro", Operator: OpLess, Value: float64(1000000)}, "price_per_fetch_micro < 1000000"},
		{DealBreaker{Field: "burst_rps", Operator: OpGreater, Value: 2.5}, "burst_rps > 2.5"},
		{DealBreaker{Field: "price_per_fetch_micro", Operator: OpLess, Value: 500}, "price_per_fetch_micro < 500"},
		{DealBreaker{Field: "purposes", Operator: OpContains, Value: "resale"}, "purposes contains resale"},
	}
	for _, tt := range tests {
		if got := tt.rule.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
