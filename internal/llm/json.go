package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CompleteJSON runs req in JSON mode and decodes the first JSON object in the
// response into out. Decoding failures wrap ErrInvalidResponse and are never
// retried here.
func CompleteJSON(ctx context.Context, p Provider, req Request, out any) (*Completion, error) {
	req.JSON = true
	c, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	raw, ok := ExtractJSONObject(c.Content)
	if !ok {
		return c, fmt.Errorf("%w: no JSON object in response", ErrInvalidResponse)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return c, nil
}

// ExtractJSONObject returns the outermost {...} span of s, tolerating code
// fences and prose around it.
func ExtractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
