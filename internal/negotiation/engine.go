package negotiation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/parlakisik/aex-negotiation/internal/counteroffer"
	"github.com/parlakisik/aex-negotiation/internal/evaluation"
	"github.com/parlakisik/aex-negotiation/internal/events"
	"github.com/parlakisik/aex-negotiation/internal/lock"
	"github.com/parlakisik/aex-negotiation/internal/model"
	"github.com/parlakisik/aex-negotiation/internal/store"
	"github.com/parlakisik/aex-negotiation/internal/strategy"
)

const maxUpdateAttempts = 3

var tracer = otel.Tracer("github.com/parlakisik/aex-negotiation/internal/negotiation")

// StrategyResolver picks the strategy for an incoming proposal. *strategy.Matcher satisfies it.
type StrategyResolver interface {
	FindMatchingStrategy(ctx context.Context, publisherID, partnerIdentifier, licenseType string) (*strategy.Match, error)
}

// CounterOfferer produces the publisher's next offer. *counteroffer.Generator satisfies it.
type CounterOfferer interface {
	Generate(ctx context.Context, in counteroffer.Input) (*counteroffer.CounterOffer, error)
}

// EventSink receives domain events. Delivery is best-effort and must not block.
type EventSink interface {
	Emit(ctx context.Context, e events.Event)
}

type discardSink struct{}

func (discardSink) Emit(context.Context, events.Event) {}

type InitiateRequest struct {
	PublisherID string         `json:"publisher_id"`
	ClientName  string         `json:"client_name"`
	LicenseType string         `json:"license_type,omitempty"`
	UseCase     string         `json:"use_case,omitempty"`
	Proposal    model.Terms    `json:"proposal"`
	Context     map[string]any `json:"context,omitempty"`
}

// Outcome is the result of a state machine step. Business rejections and
// timeouts are Outcomes, not errors.
type Outcome struct {
	Status       model.NegotiationStatus    `json:"status"`
	Negotiation  *model.Negotiation         `json:"negotiation"`
	CounterOffer *counteroffer.CounterOffer `json:"counter_offer,omitempty"`
	Score        *float64                   `json:"score,omitempty"`
	Violations   []string                   `json:"violations,omitempty"`
}

type Engine struct {
	store     store.Store
	ledger    *RoundLedger
	matcher   StrategyResolver
	generator CounterOfferer
	locker    lock.Locker
	events    EventSink
	now       func() time.Time
}

type Option func(*Engine)

func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

func WithEvents(sink EventSink) Option {
	return func(e *Engine) { e.events = sink }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(st store.Store, matcher StrategyResolver, generator CounterOfferer, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		ledger:    NewRoundLedger(st),
		matcher:   matcher,
		generator: generator,
		locker:    lock.NewMemoryLocker(),
		events:    discardSink{},
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ledger.now = e.now
	return e
}

// Initiate opens a negotiation for a client's first proposal. The proposal is
// rejected on any deal-breaker, accepted when it scores at or above the
// strategy's threshold, and otherwise answered with an LLM counter-offer. If
// the counter-offer cannot be generated nothing is persisted.
func (e *Engine) Initiate(ctx context.Context, req InitiateRequest) (out *Outcome, err error) {
	ctx, span := tracer.Start(ctx, "negotiation.initiate", trace.WithAttributes(
		attribute.String("publisher.id", req.PublisherID),
		attribute.String("client.name", req.ClientName),
	))
	defer func() { endSpan(span, out, err) }()

	if strings.TrimSpace(req.PublisherID) == "" || strings.TrimSpace(req.ClientName) == "" {
		return nil, fmt.Errorf("%w: publisher_id and client_name are required", ErrInvalidProposal)
	}
	if err := req.Proposal.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProposal, err)
	}

	match, err := e.matcher.FindMatchingStrategy(ctx, req.PublisherID, req.ClientName, req.LicenseType)
	if err != nil {
		return nil, err
	}
	s := match.Strategy

	now := e.now()
	n := &model.Negotiation{
		ID:              "neg_" + uuid.New().String(),
		PublisherID:     req.PublisherID,
		ClientName:      req.ClientName,
		StrategyID:      s.ID,
		Status:          model.StatusNegotiating,
		InitialProposal: req.Proposal.Clone(),
		CurrentTerms:    req.Proposal.Clone(),
		PartnerType:     match.PartnerType,
		PartnerName:     match.PartnerName,
		LicenseType:     match.LicenseType,
		UseCase:         req.UseCase,
		Context:         copyContext(req.Context),
		InitiatedAt:     now,
		LastActivityAt:  now,
	}
	span.SetAttributes(attribute.String("negotiation.id", n.ID), attribute.String("strategy.id", s.ID))
	opening := model.Round{
		NegotiationID: n.ID,
		RoundNumber:   0,
		Actor:         model.ActorClient,
		Action:        model.ActionPropose,
		Terms:         req.Proposal.Clone(),
	}

	if violations := evaluation.EvaluateDealBreakers(req.Proposal, s); len(violations) > 0 {
		reason := evaluation.FormatViolations(violations)
		n.Status = model.StatusRejected
		n.RejectionReason = reason
		n.CompletedAt = &now
		if err := e.store.CreateNegotiation(ctx, n); err != nil {
			return nil, fmt.Errorf("create negotiation: %w", err)
		}
		if err := e.appendRounds(ctx, opening, model.Round{
			NegotiationID: n.ID,
			RoundNumber:   0,
			Actor:         model.ActorPublisher,
			Action:        model.ActionReject,
			Terms:         req.Proposal.Clone(),
			Reasoning:     reason,
		}); err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "negotiation_auto_rejected", "negotiation_id", n.ID, "strategy_id", s.ID, "violations", violations)
		e.emitTerminal(ctx, n, 0)
		return &Outcome{Status: n.Status, Negotiation: n, Violations: violations}, nil
	}

	breakdown := evaluation.ScoreBreakdown(req.Proposal, s)
	score := breakdown.Total
	if score >= s.AutoAcceptThreshold {
		final := req.Proposal.Complete(s)
		n.Status = model.StatusAccepted
		n.FinalTerms = &final
		n.CompletedAt = &now
		if err := e.store.CreateNegotiation(ctx, n); err != nil {
			return nil, fmt.Errorf("create negotiation: %w", err)
		}
		if err := e.appendRounds(ctx, opening, model.Round{
			NegotiationID: n.ID,
			RoundNumber:   0,
			Actor:         model.ActorPublisher,
			Action:        model.ActionAccept,
			Terms:         final.Clone(),
			Reasoning:     fmt.Sprintf("auto-accepted: score %.3f", score),
		}); err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "negotiation_auto_accepted", "negotiation_id", n.ID, "strategy_id", s.ID, "score", score)
		e.emitTerminal(ctx, n, 0)
		return &Outcome{Status: n.Status, Negotiation: n, Score: &score}, nil
	}

	offer, err := e.generator.Generate(ctx, counteroffer.Input{
		NegotiationID: n.ID,
		Proposal:      req.Proposal,
		Strategy:      s,
		Round:         0,
		Partner:       n.PartnerInfo(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "counter_offer_failed", "negotiation_id", n.ID, "round", 0, "error", err)
		return nil, err
	}
	offered := offer.ProposedTerms()
	n.LastOffer = &offered
	if err := e.store.CreateNegotiation(ctx, n); err != nil {
		return nil, fmt.Errorf("create negotiation: %w", err)
	}
	if err := e.appendRounds(ctx, opening, counterRound(n.ID, 0, offer)); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "negotiation_initiated",
		"negotiation_id", n.ID,
		"publisher_id", n.PublisherID,
		"strategy_id", s.ID,
		"partner_type", string(n.PartnerType),
		"score", score,
	)
	e.events.Emit(ctx, events.Event{
		Type:     events.EventNegotiationInitiated,
		TenantID: n.PublisherID,
		Key:      n.ID,
		Data: map[string]any{
			"negotiation_id": n.ID,
			"client_name":    n.ClientName,
			"strategy_id":    n.StrategyID,
			"status":         string(n.Status),
			"round":          n.CurrentRound,
			"proposal":       n.CurrentTerms,
			"counter_offer":  offer,
		},
	})
	return &Outcome{Status: n.Status, Negotiation: n, CounterOffer: offer, Score: &score}, nil
}

// ProcessCounterProposal advances an open negotiation by one round with the
// client's counter-proposal. Calls for the same negotiation are serialized.
func (e *Engine) ProcessCounterProposal(ctx context.Context, id string, proposal model.Terms) (out *Outcome, err error) {
	ctx, span := tracer.Start(ctx, "negotiation.counter", trace.WithAttributes(attribute.String("negotiation.id", id)))
	defer func() { endSpan(span, out, err) }()

	if err := proposal.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProposal, err)
	}
	release, err := e.locker.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	n, s, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status != model.StatusNegotiating {
		return nil, fmt.Errorf("%w: negotiation %s is %s", ErrInvalidState, id, n.Status)
	}
	base := n.CurrentRound
	now := e.now()

	if reason, expired := timedOut(n, s, now); expired {
		n, err = e.update(ctx, id, base, func(n *model.Negotiation) error {
			n.Status = model.StatusTimeout
			n.RejectionReason = reason
			n.LastActivityAt = now
			n.CompletedAt = &now
			return nil
		})
		if err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "negotiation_timeout", "negotiation_id", id, "round", base, "reason", reason)
		e.emitTerminal(ctx, n, base)
		return &Outcome{Status: n.Status, Negotiation: n}, nil
	}

	round := base + 1
	span.SetAttributes(attribute.Int("negotiation.round", round))
	clientRound := model.Round{
		NegotiationID: id,
		RoundNumber:   round,
		Actor:         model.ActorClient,
		Action:        model.ActionCounter,
		Terms:         proposal.Clone(),
	}

	if violations := evaluation.EvaluateDealBreakers(proposal, s); len(violations) > 0 {
		reason := evaluation.FormatViolations(violations)
		n, err = e.update(ctx, id, base, func(n *model.Negotiation) error {
			n.Status = model.StatusRejected
			n.CurrentRound = round
			n.CurrentTerms = proposal.Clone()
			n.RejectionReason = reason
			n.LastActivityAt = now
			n.CompletedAt = &now
			return nil
		})
		if err != nil {
			return nil, err
		}
		if err := e.appendRounds(ctx, clientRound, model.Round{
			NegotiationID: id,
			RoundNumber:   model.TerminalRound,
			Actor:         model.ActorPublisher,
			Action:        model.ActionReject,
			Terms:         proposal.Clone(),
			Reasoning:     reason,
		}); err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "negotiation_rejected", "negotiation_id", id, "round", round, "violations", violations)
		e.emitTerminal(ctx, n, round)
		return &Outcome{Status: n.Status, Negotiation: n, Violations: violations}, nil
	}

	score := evaluation.Score(proposal, s)
	if score >= s.AutoAcceptThreshold {
		final := proposal.Complete(s)
		n, err = e.update(ctx, id, base, func(n *model.Negotiation) error {
			n.Status = model.StatusAccepted
			n.CurrentRound = round
			n.CurrentTerms = proposal.Clone()
			n.FinalTerms = &final
			n.LastActivityAt = now
			n.CompletedAt = &now
			return nil
		})
		if err != nil {
			return nil, err
		}
		if err := e.appendRounds(ctx, clientRound, model.Round{
			NegotiationID: id,
			RoundNumber:   model.TerminalRound,
			Actor:         model.ActorPublisher,
			Action:        model.ActionAccept,
			Terms:         final.Clone(),
			Reasoning:     fmt.Sprintf("auto-accepted: score %.3f", score),
		}); err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "negotiation_accepted", "negotiation_id", id, "round", round, "score", score)
		e.emitTerminal(ctx, n, round)
		return &Outcome{Status: n.Status, Negotiation: n, Score: &score}, nil
	}

	offer, err := e.generator.Generate(ctx, counteroffer.Input{
		NegotiationID: id,
		Proposal:      proposal,
		Strategy:      s,
		Round:         round,
		Partner:       n.PartnerInfo(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "counter_offer_failed", "negotiation_id", id, "round", round, "error", err)
		return nil, err
	}
	offered := offer.ProposedTerms()
	n, err = e.update(ctx, id, base, func(n *model.Negotiation) error {
		n.CurrentRound = round
		n.CurrentTerms = proposal.Clone()
		n.LastOffer = &offered
		n.LastActivityAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := e.appendRounds(ctx, clientRound, counterRound(id, round, offer)); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "negotiation_round", "negotiation_id", id, "round", round, "score", score, "counter_price", offer.Price)
	e.events.Emit(ctx, events.Event{
		Type:     events.EventNegotiationRound,
		TenantID: n.PublisherID,
		Key:      fmt.Sprintf("%s_%d", id, round),
		Data: map[string]any{
			"negotiation_id": id,
			"client_name":    n.ClientName,
			"status":         string(n.Status),
			"round":          round,
			"proposal":       proposal,
			"counter_offer":  offer,
		},
	})
	return &Outcome{Status: n.Status, Negotiation: n, CounterOffer: offer, Score: &score}, nil
}

// Accept closes an open negotiation as accepted. With nil terms the client's
// current proposal is accepted. Final terms are completed from the strategy.
func (e *Engine) Accept(ctx context.Context, id string, terms *model.Terms) (n *model.Negotiation, err error) {
	ctx, span := tracer.Start(ctx, "negotiation.accept", trace.WithAttributes(attribute.String("negotiation.id", id)))
	defer func() { endSpanErr(span, err) }()

	if terms != nil {
		if err := terms.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProposal, err)
		}
	}
	release, err := e.locker.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	cur, s, err := e.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status.Terminal() {
		return nil, fmt.Errorf("%w: negotiation %s is already %s", ErrInvalidState, id, cur.Status)
	}
	accepted := cur.CurrentTerms
	if terms != nil {
		accepted = *terms
	}
	final := accepted.Complete(s)
	now := e.now()

	n, err = e.update(ctx, id, cur.CurrentRound, func(n *model.Negotiation) error {
		n.Status = model.StatusAccepted
		n.FinalTerms = &final
		n.LastActivityAt = now
		n.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := e.appendRounds(ctx, model.Round{
		NegotiationID: id,
		RoundNumber:   model.TerminalRound,
		Actor:         model.ActorPublisher,
		Action:        model.ActionAccept,
		Terms:         final.Clone(),
		Reasoning:     "accepted",
	}); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "negotiation_accepted", "negotiation_id", id, "round", n.CurrentRound, "manual", true)
	e.emitTerminal(ctx, n, model.TerminalRound)
	return n, nil
}

// Reject closes an open negotiation as rejected.
func (e *Engine) Reject(ctx context.Context, id, reason string) (n *model.Negotiation, err error) {
	ctx, span := tracer.Start(ctx, "negotiation.reject", trace.WithAttributes(attribute.String("negotiation.id", id)))
	defer func() { endSpanErr(span, err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "rejected by publisher"
	}
	release, err := e.locker.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	cur, err := e.store.GetNegotiation(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if cur.Status.Terminal() {
		return nil, fmt.Errorf("%w: negotiation %s is already %s", ErrInvalidState, id, cur.Status)
	}
	now := e.now()

	n, err = e.update(ctx, id, cur.CurrentRound, func(n *model.Negotiation) error {
		n.Status = model.StatusRejected
		n.RejectionReason = reason
		n.LastActivityAt = now
		n.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := e.appendRounds(ctx, model.Round{
		NegotiationID: id,
		RoundNumber:   model.TerminalRound,
		Actor:         model.ActorPublisher,
		Action:        model.ActionReject,
		Terms:         n.CurrentTerms.Clone(),
		Reasoning:     reason,
	}); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "negotiation_rejected", "negotiation_id", id, "round", n.CurrentRound, "manual", true)
	e.emitTerminal(ctx, n, model.TerminalRound)
	return n, nil
}

// Get returns a negotiation with its round history.
func (e *Engine) Get(ctx context.Context, id string) (*model.Negotiation, []model.Round, error) {
	n, err := e.store.GetNegotiation(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if n == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rounds, err := e.ledger.History(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return n, rounds, nil
}

func (e *Engine) List(ctx context.Context, f store.NegotiationFilter) ([]model.Negotiation, error) {
	return e.store.ListNegotiations(ctx, f)
}

// AttachPolicy links an issued license policy to an accepted negotiation.
func (e *Engine) AttachPolicy(ctx context.Context, id, policyID string) (*model.Negotiation, error) {
	release, err := e.locker.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		n, err := e.store.GetNegotiation(ctx, id)
		if err != nil {
			return nil, err
		}
		if n == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if n.Status != model.StatusAccepted {
			return nil, fmt.Errorf("%w: negotiation %s is %s", ErrInvalidState, id, n.Status)
		}
		if n.PolicyID != nil {
			return nil, fmt.Errorf("%w: negotiation %s already has policy %s", ErrInvalidState, id, *n.PolicyID)
		}
		n.PolicyID = &policyID
		err = e.store.UpdateNegotiation(ctx, n)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrConcurrentUpdate, id)
}

func (e *Engine) load(ctx context.Context, id string) (*model.Negotiation, model.Strategy, error) {
	n, err := e.store.GetNegotiation(ctx, id)
	if err != nil {
		return nil, model.Strategy{}, err
	}
	if n == nil {
		return nil, model.Strategy{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s, err := e.store.GetStrategy(ctx, n.StrategyID)
	if err != nil {
		return nil, model.Strategy{}, err
	}
	if s == nil {
		return nil, model.Strategy{}, fmt.Errorf("%w: strategy %s of negotiation %s", ErrNotFound, n.StrategyID, id)
	}
	return n, *s, nil
}

// update applies mutate to a freshly loaded copy and writes it with a version
// check, retrying on conflict. The write is refused if another writer closed
// the negotiation or moved it past round base.
func (e *Engine) update(ctx context.Context, id string, base int, mutate func(*model.Negotiation) error) (*model.Negotiation, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		n, err := e.store.GetNegotiation(ctx, id)
		if err != nil {
			return nil, err
		}
		if n == nil {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if n.Status.Terminal() {
			return nil, fmt.Errorf("%w: negotiation %s is %s", ErrInvalidState, id, n.Status)
		}
		if n.CurrentRound != base {
			return nil, fmt.Errorf("%w: %s moved to round %d", ErrConcurrentUpdate, id, n.CurrentRound)
		}
		if err := mutate(n); err != nil {
			return nil, err
		}
		err = e.store.UpdateNegotiation(ctx, n)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, fmt.Errorf("update negotiation: %w", err)
		}
		slog.WarnContext(ctx, "negotiation_version_conflict", "negotiation_id", id, "attempt", attempt+1)
	}
	return nil, fmt.Errorf("%w: %s", ErrConcurrentUpdate, id)
}

func (e *Engine) appendRounds(ctx context.Context, rounds ...model.Round) error {
	for _, r := range rounds {
		if _, err := e.ledger.Append(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) emitTerminal(ctx context.Context, n *model.Negotiation, round int) {
	var eventType string
	switch n.Status {
	case model.StatusAccepted:
		eventType = events.EventNegotiationAccepted
	case model.StatusRejected:
		eventType = events.EventNegotiationRejected
	case model.StatusTimeout:
		eventType = events.EventNegotiationTimeout
	default:
		return
	}
	data := map[string]any{
		"negotiation_id": n.ID,
		"client_name":    n.ClientName,
		"strategy_id":    n.StrategyID,
		"status":         string(n.Status),
		"round":          round,
	}
	if n.FinalTerms != nil {
		data["final_terms"] = *n.FinalTerms
	}
	if n.RejectionReason != "" {
		data["reason"] = n.RejectionReason
	}
	e.events.Emit(ctx, events.Event{Type: eventType, TenantID: n.PublisherID, Key: n.ID, Data: data})
}

func timedOut(n *model.Negotiation, s model.Strategy, now time.Time) (string, bool) {
	if n.CurrentRound >= s.MaxRounds {
		return fmt.Sprintf("max rounds reached (%d)", s.MaxRounds), true
	}
	if timeout := s.Timeout(); timeout > 0 && now.Sub(n.LastActivityAt) > timeout {
		return fmt.Sprintf("no activity for %s", timeout), true
	}
	return "", false
}

func counterRound(negotiationID string, round int, offer *counteroffer.CounterOffer) model.Round {
	return model.Round{
		NegotiationID: negotiationID,
		RoundNumber:   round,
		Actor:         model.ActorPublisher,
		Action:        model.ActionCounter,
		Terms:         offer.ProposedTerms(),
		Reasoning:     offer.Reasoning,
		Model:         offer.Model,
		TokensUsed:    offer.TokensUsed,
		LatencyMs:     offer.Latency.Milliseconds(),
	}
}

func copyContext(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func endSpan(span trace.Span, out *Outcome, err error) {
	if out != nil {
		span.SetAttributes(attribute.String("negotiation.status", string(out.Status)))
	}
	endSpanErr(span, err)
}

func endSpanErr(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
