package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var ErrInvalidTerms = errors.New("invalid terms")

// Wire names of the core proposal fields.
const (
	FieldPricePerFetchMicro = "price_per_fetch_micro"
	FieldPrice              = "price"
	FieldTokenTTLSeconds    = "token_ttl_seconds"
	FieldBurstRPS           = "burst_rps"
	FieldPurposes           = "purposes"
	FieldPricingModel       = "pricing_model"
)

// Terms is the proposal shape exchanged in every round. Core fields are optional;
// anything else the counterpart sends is kept in Extra and echoed back untouched.
type Terms struct {
	PricePerFetchMicro *int64   `json:"price_per_fetch_micro,omitempty" bson:"price_per_fetch_micro,omitempty" firestore:"price_per_fetch_micro,omitempty"`
	TokenTTLSeconds    *int64   `json:"token_ttl_seconds,omitempty" bson:"token_ttl_seconds,omitempty" firestore:"token_ttl_seconds,omitempty"`
	BurstRPS           *int64   `json:"burst_rps,omitempty" bson:"burst_rps,omitempty" firestore:"burst_rps,omitempty"`
	Purposes           []string `json:"purposes,omitempty" bson:"purposes,omitempty" firestore:"purposes,omitempty"`
	PricingModel       string   `json:"pricing_model,omitempty" bson:"pricing_model,omitempty" firestore:"pricing_model,omitempty"`

	Extra map[string]any `json:"-" bson:"extra,omitempty" firestore:"extra,omitempty"`
}

func Int64(v int64) *int64 { return &v }

func (t *Terms) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTerms, err)
	}
	out := Terms{}
	var alias *int64
	for key, val := range raw {
		var err error
		switch key {
		case FieldPricePerFetchMicro:
			out.PricePerFetchMicro, err = decodeInt(val)
		case FieldPrice:
			alias, err = decodeInt(val)
		case FieldTokenTTLSeconds:
			out.TokenTTLSeconds, err = decodeInt(val)
		case FieldBurstRPS:
			out.BurstRPS, err = decodeInt(val)
		case FieldPurposes:
			err = json.Unmarshal(val, &out.Purposes)
		case FieldPricingModel:
			err = json.Unmarshal(val, &out.PricingModel)
		default:
			var v any
			err = json.Unmarshal(val, &v)
			if out.Extra == nil {
				out.Extra = map[string]any{}
			}
			out.Extra[key] = v
		}
		if err != nil {
			return fmt.Errorf("%w: field %s: %v", ErrInvalidTerms, key, err)
		}
	}
	if out.PricePerFetchMicro == nil && alias != nil {
		out.PricePerFetchMicro = alias
	}
	*t = out
	return nil
}

func (t Terms) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(t.Extra)+5)
	for k, v := range t.Extra {
		m[k] = v
	}
	if t.PricePerFetchMicro != nil {
		m[FieldPricePerFetchMicro] = *t.PricePerFetchMicro
	}
	if t.TokenTTLSeconds != nil {
		m[FieldTokenTTLSeconds] = *t.TokenTTLSeconds
	}
	if t.BurstRPS != nil {
		m[FieldBurstRPS] = *t.BurstRPS
	}
	if t.Purposes != nil {
		m[FieldPurposes] = t.Purposes
	}
	if t.PricingModel != "" {
		m[FieldPricingModel] = t.PricingModel
	}
	return json.Marshal(m)
}

func decodeInt(raw json.RawMessage) (*int64, error) {
	if string(raw) == "null" {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > 1e15 {
		return nil, fmt.Errorf("out of range")
	}
	v := int64(math.Round(f))
	return &v, nil
}

// Validate rejects terms that are structurally present but unusable.
func (t Terms) Validate() error {
	if t.PricePerFetchMicro != nil && *t.PricePerFetchMicro < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidTerms, FieldPricePerFetchMicro)
	}
	if t.TokenTTLSeconds != nil && *t.TokenTTLSeconds < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidTerms, FieldTokenTTLSeconds)
	}
	if t.BurstRPS != nil && *t.BurstRPS < 0 {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidTerms, FieldBurstRPS)
	}
	for _, p := range t.Purposes {
		if p == "" {
			return fmt.Errorf("%w: purposes must not contain empty values", ErrInvalidTerms)
		}
	}
	return nil
}

// Field resolves a proposal field by its wire name. Numeric core fields are
// returned as float64 so they compare uniformly against rule values.
func (t Terms) Field(name string) (any, bool) {
	switch name {
	case FieldPricePerFetchMicro, FieldPrice:
		if t.PricePerFetchMicro == nil {
			return nil, false
		}
		return float64(*t.PricePerFetchMicro), true
	case FieldTokenTTLSeconds:
		if t.TokenTTLSeconds == nil {
			return nil, false
		}
		return float64(*t.TokenTTLSeconds), true
	case FieldBurstRPS:
		if t.BurstRPS == nil {
			return nil, false
		}
		return float64(*t.BurstRPS), true
	case FieldPurposes:
		if t.Purposes == nil {
			return nil, false
		}
		return t.Purposes, true
	case FieldPricingModel:
		if t.PricingModel == "" {
			return nil, false
		}
		return t.PricingModel, true
	}
	v, ok := t.Extra[name]
	return v, ok
}

// Clone returns a copy that shares no slices or maps with t.
func (t Terms) Clone() Terms {
	out := Terms{PricingModel: t.PricingModel}
	if t.PricePerFetchMicro != nil {
		out.PricePerFetchMicro = Int64(*t.PricePerFetchMicro)
	}
	if t.TokenTTLSeconds != nil {
		out.TokenTTLSeconds = Int64(*t.TokenTTLSeconds)
	}
	if t.BurstRPS != nil {
		out.BurstRPS = Int64(*t.BurstRPS)
	}
	if t.Purposes != nil {
		out.Purposes = append([]string{}, t.Purposes...)
	}
	if t.Extra != nil {
		out.Extra = make(map[string]any, len(t.Extra))
		for k, v := range t.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// Complete fills every absent core field from the strategy's preferred values.
// Values already present are never changed.
func (t Terms) Complete(s Strategy) Terms {
	out := t.Clone()
	if out.PricePerFetchMicro == nil {
		out.PricePerFetchMicro = Int64(s.PreferredPricePerFetchMicro)
	}
	if out.TokenTTLSeconds == nil {
		out.TokenTTLSeconds = Int64(s.PreferredTokenTTLSeconds)
	}
	if out.BurstRPS == nil {
		out.BurstRPS = Int64(s.PreferredBurstRPS)
	}
	if out.Purposes == nil {
		out.Purposes = append([]string{}, s.PreferredPurposes...)
	}
	if out.PricingModel == "" {
		out.PricingModel = s.PricingModel
	}
	return out
}

// IsComplete reports whether every quantitative core field is set.
func (t Terms) IsComplete() bool {
	return t.PricePerFetchMicro != nil && t.TokenTTLSeconds != nil && t.BurstRPS != nil && t.Purposes != nil
}
