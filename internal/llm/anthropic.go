package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/parlakisik/aex-negotiation/internal/httpclient"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokens      = 1024
)

type AnthropicClient struct {
	http    *httpclient.Client
	baseURL string
	model   string
}

func NewAnthropicClient(http *httpclient.Client, baseURL, model string) *AnthropicClient {
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &AnthropicClient{http: http, baseURL: strings.TrimRight(baseURL, "/"), model: model}
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete calls the messages API. The API has no JSON mode, so JSON requests
// get an explicit instruction appended to the system prompt.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	body := anthropicRequest{
		Model:       c.model,
		System:      req.System,
		Messages:    []anthropicMessage{{Role: "user", Content: req.User}},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = anthropicMaxTokens
	}
	if req.JSON {
		body.System = strings.TrimSpace(body.System + "\nRespond with a single JSON object and nothing else.")
	}

	start := time.Now()
	var resp anthropicResponse
	headers := map[string]string{"anthropic-version": anthropicVersion}
	if err := c.http.PostJSON(ctx, c.baseURL+"/v1/messages", headers, body, &resp); err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("anthropic: no text content in response: %w", ErrInvalidResponse)
	}
	model := resp.Model
	if model == "" {
		model = c.model
	}
	return &Completion{
		Content:    text.String(),
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
		Model:      model,
		Latency:    time.Since(start),
	}, nil
}
