package negotiation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/parlakisik/aex-negotiation/internal/model"
	"github.com/parlakisik/aex-negotiation/internal/store"
)

// RoundLedger is the append-only history of a negotiation. Callers must hold the
// negotiation's lock while appending.
type RoundLedger struct {
	store store.RoundStore
	now   func() time.Time
}

func NewRoundLedger(st store.RoundStore) *RoundLedger {
	return &RoundLedger{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// Append assigns an id and timestamp and stores r. Non-terminal rounds may not
// go below the highest round number already recorded.
func (l *RoundLedger) Append(ctx context.Context, r model.Round) (model.Round, error) {
	if r.NegotiationID == "" {
		return model.Round{}, fmt.Errorf("round: negotiation_id is required")
	}
	if r.RoundNumber < model.TerminalRound {
		return model.Round{}, fmt.Errorf("%w: %d", ErrRoundOutOfOrder, r.RoundNumber)
	}
	if r.RoundNumber != model.TerminalRound {
		history, err := l.store.ListRounds(ctx, r.NegotiationID)
		if err != nil {
			return model.Round{}, err
		}
		if last := lastRoundNumber(history); r.RoundNumber < last {
			return model.Round{}, fmt.Errorf("%w: %d after %d", ErrRoundOutOfOrder, r.RoundNumber, last)
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return model.Round{}, err
	}
	r.ID = "rnd_" + id.String()
	r.CreatedAt = l.now()
	if err := l.store.AppendRound(ctx, r); err != nil {
		return model.Round{}, fmt.Errorf("append round: %w", err)
	}
	return r, nil
}

// History returns the rounds of a negotiation in append order.
func (l *RoundLedger) History(ctx context.Context, negotiationID string) ([]model.Round, error) {
	return l.store.ListRounds(ctx, negotiationID)
}

func lastRoundNumber(history []model.Round) int {
	last := 0
	for _, r := range history {
		if r.RoundNumber > last {
			last = r.RoundNumber
		}
	}
	return last
}
