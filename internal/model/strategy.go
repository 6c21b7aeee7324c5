package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidStrategy = errors.New("invalid strategy")

type PartnerType string

const (
	PartnerSpecific PartnerType = "specific_partner"
	PartnerTier1AI  PartnerType = "tier1_ai"
	PartnerTier2AI  PartnerType = "tier2_ai"
	PartnerStartup  PartnerType = "startup"
	PartnerResearch PartnerType = "research"
)

func (p PartnerType) Valid() bool {
	switch p {
	case PartnerSpecific, PartnerTier1AI, PartnerTier2AI, PartnerStartup, PartnerResearch:
		return true
	}
	return false
}

const (
	LicenseTraining        = "training"
	LicenseRAGUnrestricted = "rag_unrestricted"
	LicenseRAGAttribution  = "rag_attribution"
)

const (
	PricingPerFetch = "per_fetch"
	PricingFlatFee  = "flat_fee"
)

const (
	OpLess     = "<"
	OpGreater  = ">"
	OpEqual    = "="
	OpEqualEq  = "=="
	OpContains = "contains"
)

type DealBreaker struct {
	Field    string `json:"field" bson:"field" firestore:"field" yaml:"field"`
	Operator string `json:"operator" bson:"operator" firestore:"operator" yaml:"operator"`
	Value    any    `json:"value" bson:"value" firestore:"value" yaml:"value"`
}

func (d DealBreaker) String() string {
	return fmt.Sprintf("%s %s %s", d.Field, d.Operator, formatRuleValue(d.Value))
}

// formatRuleValue prints numbers without exponents; JSON decodes them as float64.
func formatRuleValue(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Strategy is a publisher-owned negotiation policy. The engine only reads it.
type Strategy struct {
	ID           string      `json:"id" bson:"_id" firestore:"id" yaml:"id"`
	PublisherID  string      `json:"publisher_id" bson:"publisher_id" firestore:"publisher_id" yaml:"publisher_id"`
	Name         string      `json:"name" bson:"name" firestore:"name" yaml:"name"`
	PartnerType  PartnerType `json:"partner_type" bson:"partner_type" firestore:"partner_type" yaml:"partner_type"`
	PartnerName  *string     `json:"partner_name,omitempty" bson:"partner_name" firestore:"partner_name" yaml:"partner_name"`
	LicenseTypes []string    `json:"license_types" bson:"license_types" firestore:"license_types" yaml:"license_types"`
	PricingModel string      `json:"pricing_model" bson:"pricing_model" firestore:"pricing_model" yaml:"pricing_model"`

	MinPricePerFetchMicro       int64 `json:"min_price_per_fetch_micro" bson:"min_price_per_fetch_micro" firestore:"min_price_per_fetch_micro" yaml:"min_price_per_fetch_micro"`
	PreferredPricePerFetchMicro int64 `json:"preferred_price_per_fetch_micro" bson:"preferred_price_per_fetch_micro" firestore:"preferred_price_per_fetch_micro" yaml:"preferred_price_per_fetch_micro"`
	MaxPricePerFetchMicro       int64 `json:"max_price_per_fetch_micro" bson:"max_price_per_fetch_micro" firestore:"max_price_per_fetch_micro" yaml:"max_price_per_fetch_micro"`

	MinTokenTTLSeconds       int64 `json:"min_token_ttl_seconds" bson:"min_token_ttl_seconds" firestore:"min_token_ttl_seconds" yaml:"min_token_ttl_seconds"`
	PreferredTokenTTLSeconds int64 `json:"preferred_token_ttl_seconds" bson:"preferred_token_ttl_seconds" firestore:"preferred_token_ttl_seconds" yaml:"preferred_token_ttl_seconds"`
	MaxTokenTTLSeconds       int64 `json:"max_token_ttl_seconds" bson:"max_token_ttl_seconds" firestore:"max_token_ttl_seconds" yaml:"max_token_ttl_seconds"`

	MinBurstRPS       int64 `json:"min_burst_rps" bson:"min_burst_rps" firestore:"min_burst_rps" yaml:"min_burst_rps"`
	PreferredBurstRPS int64 `json:"preferred_burst_rps" bson:"preferred_burst_rps" firestore:"preferred_burst_rps" yaml:"preferred_burst_rps"`
	MaxBurstRPS       int64 `json:"max_burst_rps" bson:"max_burst_rps" firestore:"max_burst_rps" yaml:"max_burst_rps"`

	NegotiationStyle    string         `json:"negotiation_style" bson:"negotiation_style" firestore:"negotiation_style" yaml:"negotiation_style"`
	AutoAcceptThreshold float64        `json:"auto_accept_threshold" bson:"auto_accept_threshold" firestore:"auto_accept_threshold" yaml:"auto_accept_threshold"`
	DealBreakers        []DealBreaker  `json:"deal_breakers" bson:"deal_breakers" firestore:"deal_breakers" yaml:"deal_breakers"`
	PreferredPurposes   []string       `json:"preferred_purposes" bson:"preferred_purposes" firestore:"preferred_purposes" yaml:"preferred_purposes"`
	PreferredTerms      map[string]any `json:"preferred_terms,omitempty" bson:"preferred_terms,omitempty" firestore:"preferred_terms,omitempty" yaml:"preferred_terms"`

	LLMProvider    string `json:"llm_provider" bson:"llm_provider" firestore:"llm_provider" yaml:"llm_provider"`
	LLMModel       string `json:"llm_model" bson:"llm_model" firestore:"llm_model" yaml:"llm_model"`
	MaxRounds      int    `json:"max_rounds" bson:"max_rounds" firestore:"max_rounds" yaml:"max_rounds"`
	TimeoutSeconds int64  `json:"timeout_seconds" bson:"timeout_seconds" firestore:"timeout_seconds" yaml:"timeout_seconds"`

	Active    bool      `json:"active" bson:"active" firestore:"active" yaml:"active"`
	CreatedAt time.Time `json:"created_at" bson:"created_at" firestore:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at" firestore:"updated_at" yaml:"-"`
}

func (s Strategy) AppliesTo(licenseType string) bool {
	for _, lt := range s.LicenseTypes {
		if lt == licenseType {
			return true
		}
	}
	return false
}

func (s Strategy) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Validate checks the configuration invariants the engine relies on.
func (s Strategy) Validate() error {
	var problems []string
	if strings.TrimSpace(s.PublisherID) == "" {
		problems = append(problems, "publisher_id is required")
	}
	if !s.PartnerType.Valid() {
		problems = append(problems, fmt.Sprintf("unknown partner_type %q", s.PartnerType))
	}
	if s.PartnerType == PartnerSpecific && (s.PartnerName == nil || strings.TrimSpace(*s.PartnerName) == "") {
		problems = append(problems, "partner_name is required for specific_partner")
	}
	if len(s.LicenseTypes) == 0 {
		problems = append(problems, "at least one license type is required")
	}
	if !ordered(s.MinPricePerFetchMicro, s.PreferredPricePerFetchMicro, s.MaxPricePerFetchMicro) {
		problems = append(problems, "price bounds must satisfy 0 <= min <= preferred <= max")
	}
	if !ordered(s.MinTokenTTLSeconds, s.PreferredTokenTTLSeconds, s.MaxTokenTTLSeconds) {
		problems = append(problems, "token ttl bounds must satisfy 0 <= min <= preferred <= max")
	}
	if !ordered(s.MinBurstRPS, s.PreferredBurstRPS, s.MaxBurstRPS) {
		problems = append(problems, "burst rps bounds must satisfy 0 <= min <= preferred <= max")
	}
	if s.AutoAcceptThreshold < 0 || s.AutoAcceptThreshold > 1 {
		problems = append(problems, "auto_accept_threshold must be within [0,1]")
	}
	for i, d := range s.DealBreakers {
		if d.Field == "" {
			problems = append(problems, fmt.Sprintf("deal_breakers[%d].field is required", i))
		}
		switch d.Operator {
		case OpLess, OpGreater, OpEqual, OpEqualEq, OpContains:
		default:
			problems = append(problems, fmt.Sprintf("deal_breakers[%d].operator %q is not supported", i, d.Operator))
		}
	}
	if s.MaxRounds < 1 {
		problems = append(problems, "max_rounds must be at least 1")
	}
	if s.TimeoutSeconds < 0 {
		problems = append(problems, "timeout_seconds must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidStrategy, strings.Join(problems, "; "))
	}
	return nil
}

func ordered(lo, mid, hi int64) bool {
	return lo >= 0 && lo <= mid && mid <= hi
}
