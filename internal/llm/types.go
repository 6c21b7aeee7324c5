package llm

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnknownProvider = errors.New("unknown llm provider")
	ErrInvalidResponse = errors.New("invalid llm response")
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

type Request struct {
	System      string
	User        string
	JSON        bool
	MaxTokens   int
	Temperature float64
}

type Completion struct {
	Content    string
	TokensUsed int
	Model      string
	Latency    time.Duration
}

// Provider is a single completion backend bound to one model.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}
