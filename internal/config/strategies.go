package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/parlakisik/aex-negotiation/internal/model"
)

// StrategyFile is the YAML seed document:
//
//	strategies:
//	  - id: strat_startup
//	    publisher_id: pub_1
//	    partner_type: startup
//	    ...
type StrategyFile struct {
	Strategies []model.Strategy `yaml:"strategies"`
}

// LoadStrategies reads and validates the strategies in path. Strategies
// without an explicit active flag are active.
func LoadStrategies(path string) ([]model.Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategies file: %w", err)
	}
	return ParseStrategies(data, time.Now().UTC())
}

func ParseStrategies(data []byte, now time.Time) ([]model.Strategy, error) {
	var raw struct {
		Strategies []yaml.Node `yaml:"strategies"`
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse strategies file: %w", err)
	}

	seen := make(map[string]bool, len(raw.Strategies))
	out := make([]model.Strategy, 0, len(raw.Strategies))
	for i, node := range raw.Strategies {
		s := model.Strategy{Active: true}
		if err := decodeStrict(&node, &s); err != nil {
			return nil, fmt.Errorf("strategies[%d]: %w", i, err)
		}
		if s.ID == "" {
			return nil, fmt.Errorf("strategies[%d]: id is required", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("strategies[%d]: duplicate id %q", i, s.ID)
		}
		seen[s.ID] = true
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("strategies[%d] %s: %w", i, s.ID, err)
		}
		// Earlier entries win ties in strategy matching.
		s.CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
		s.UpdatedAt = s.CreatedAt
		out = append(out, s)
	}
	return out, nil
}

// decodeStrict decodes node with unknown fields rejected. yaml.Node.Decode
// does not honour the outer decoder's KnownFields setting.
func decodeStrict(node *yaml.Node, out any) error {
	data, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}
