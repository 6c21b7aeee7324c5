package negotiation

import (
	"errors"

	"github.com/parlakisik/aex-negotiation/internal/counteroffer"
	"github.com/parlakisik/aex-negotiation/internal/strategy"
)

var (
	ErrNotFound         = errors.New("negotiation not found")
	ErrInvalidState     = errors.New("invalid negotiation state")
	ErrInvalidProposal  = errors.New("invalid proposal")
	ErrConcurrentUpdate = errors.New("negotiation changed concurrently")
	ErrRoundOutOfOrder  = errors.New("round number out of order")

	ErrNoStrategyFound    = strategy.ErrNoStrategyFound
	ErrInvalidLLMResponse = counteroffer.ErrInvalidLLMResponse
)
