package counteroffer

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaURL = "https://aex.schemas.local/negotiation/counter_offer.schema.json"

const counterOfferSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["price", "pricing_model", "terms", "reasoning"],
  "properties": {
    "price": {"type": "number", "minimum": 0},
    "pricing_model": {"type": "string", "minLength": 1},
    "terms": {
      "type": "object",
      "properties": {
        "token_ttl_seconds": {"type": "number", "minimum": 0},
        "burst_rps": {"type": "number", "minimum": 0},
        "purposes": {"type": "array", "items": {"type": "string", "minLength": 1}}
      }
    },
    "reasoning": {"type": "string", "minLength": 1},
    "tone": {"type": "string"}
  }
}`

func compileSchema() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(counterOfferSchema)); err != nil {
		return nil, fmt.Errorf("counter offer schema load failed: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("counter offer schema compile failed: %w", err)
	}
	return compiled, nil
}
