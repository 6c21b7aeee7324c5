package negotiation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlakisik/aex-negotiation/internal/counteroffer"
	"github.com/parlakisik/aex-negotiation/internal/events"
	"github.com/parlakisik/aex-negotiation/internal/model"
	"github.com/parlakisik/aex-negotiation/internal/store"
	"github.com/parlakisik/aex-negotiation/internal/strategy"
	"github.com/parlakisik/aex-negotiation/internal/testutil"
)

const counterJSON = `{"price": 3000, "pricing_model": "per_fetch", "terms": {"token_ttl_seconds": 600, "purposes": ["rag"]}, "reasoning": "meet in the middle", "tone": "firm"}`

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	engine *Engine
	store  *store.MemoryStore
	llm    *testutil.ScriptedLLM
	sink   *testutil.RecordingSink
	clock  *fakeClock
}

func newHarness(t *testing.T, llm *testutil.ScriptedLLM, strategies ...model.Strategy) *harness {
	t.Helper()
	st := store.NewMemoryStore()
	for _, s := range strategies {
		require.NoError(t, st.SaveStrategy(context.Background(), s))
	}
	gen, err := counteroffer.NewGenerator(llm)
	require.NoError(t, err)
	h := &harness{
		store: st,
		llm:   llm,
		sink:  &testutil.RecordingSink{},
		clock: &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	h.engine = NewEngine(st, strategy.NewMatcher(st), gen, WithEvents(h.sink), WithClock(h.clock.Now))
	return h
}

func initiate(t *testing.T, h *harness, price int64) *Outcome {
	t.Helper()
	out, err := h.engine.Initiate(context.Background(), InitiateRequest{
		PublisherID: "pub_test_001",
		ClientName:  "acme-bot",
		UseCase:     "retrieval for support answers",
		Proposal:    testutil.NewTermsFixture().WithPrice(price).Build(),
	})
	require.NoError(t, err)
	return out
}

func lowPrice() model.Terms {
	return testutil.NewTermsFixture().WithPrice(1000).Build()
}

func TestInitiate_AutoAccepts(t *testing.T) {
	s := testutil.NewStrategyFixture().WithPriceBand(1000, 2000, 8000).WithThreshold(0.9).Build()
	h := newHarness(t, testutil.NewScriptedLLM(counterJSON), s)

	out := initiate(t, h, 5000)

	assert.Equal(t, model.StatusAccepted, out.Status)
	require.NotNil(t, out.Score)
	assert.InDelta(t, 1.0, *out.Score, 1e-9)
	require.NotNil(t, out.Negotiation.FinalTerms)
	assert.True(t, out.Negotiation.FinalTerms.IsComplete())
	assert.Equal(t, int64(5000), *out.Negotiation.FinalTerms.PricePerFetchMicro)
	assert.NotNil(t, out.Negotiation.CompletedAt)
	assert.Equal(t, 0, h.llm.Calls())

	_, rounds, err := h.engine.Get(context.Background(), out.Negotiation.ID)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, model.ActionPropose, rounds[0].Action)
	assert.Equal(t, model.ActionAccept, rounds[1].Action)
	assert.Equal(t, 0, rounds[1].RoundNumber)
	assert.Contains(t, rounds[1].Reasoning, "auto-accepted")
	assert.Equal(t, []string{events.EventNegotiationAccepted}, h.sink.Types())
}

func TestInitiate_DealBreakerRejects(t *testing.T) {
	s := testutil.NewStrategyFixture().WithDealBreaker(model.FieldPricePerFetchMicro, model.OpLess, 1000).Build()
	h := newHarness(t, testutil.NewScriptedLLM(counterJSON), s)

	out := initiate(t, h, 500)

	assert.Equal(t, model.StatusRejected, out.Status)
	assert.Contains(t, out.Negotiation.RejectionReason, "price_per_fetch_micro < 1000")
	assert.Len(t, out.Violations, 1)
	assert.NotNil(t, out.Negotiation.CompletedAt)
	assert.Nil(t, out.Negotiation.FinalTerms)
	assert.Equal(t, 0, h.llm.Calls())

	stored, err := h.store.GetNegotiation(context.Background(), out.Negotiation.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.StatusRejected, stored.Status)

	_, rounds, err := h.engine.Get(context.Background(), out.Negotiation.ID)
	require.NoError(t, err)
	for _, r := range rounds {
		assert.Equal(t, 0, r.RoundNumber)
	}
	assert.Equal(t, []string{events.EventNegotiationRejected}, h.sink.Types())
}

func TestInitiate_DealBreakerBeatsAutoAccept(t *testing.T) {
	s := testutil.NewStrategyFixture().
		WithThreshold(0).
		WithDealBreaker(model.FieldPricePerFetchMicro, model.OpLess, 1000).
		Build()
	h := newHarness(t, testutil.NewScriptedLLM(counterJSON), s)

	out := initiate(t, h, 999)
	assert.Equal(t, model.StatusRejected, out.Status)
}

func TestInitiate_CounterOffer(t *testing.T) {
	h := newHarness(t, testutil.NewScriptedLLM(counterJSON), testutil.NewStrategyFixture().Build())

	out := initiate(t, h, 1000)

	assert.Equal(t, model.StatusNegotiating, out.Status)
	require.NotNil(t, out.CounterOffer)
	assert.Equal(t, int64(3000), out.CounterOffer.Price)
	assert.Equal(t, 0, out.Negotiation.CurrentRound)
	assert.Equal(t, int64(1000), *out.Negotiation.CurrentTerms.PricePerFetchMicro)
	require.NotNil(t, out.Negotiation.LastOffer)
	assert.Equal(t, int64(3000), *out.Negotiation.LastOffer.PricePerFetchMicro)
	assert.Equal(t, model.PartnerStartup, out.Negotiation.PartnerType)
	assert.Equal(t, model.LicenseTraining, out.Negotiation.LicenseType)
	assert.Contains(t, h.llm.LastRequest().User, "## Opening offer (up to 5 rounds)")

	_, rounds, err := h.engine.Get(context.Background(), out.Negotiation.ID)
	require.NoError(t, err)
	require.Len(t, rounds, 2)
	assert.Equal(t, model.ActorClient, rounds[0].Actor)
	assert.Equal(t, model.ActorPublisher, rounds[1].Actor)
	assert.Equal(t, model.ActionCounter, rounds[1].Action)
	assert.Equal(t, "fake-model", rounds[1].Model)
	assert.Equal(t, 42, rounds[1].TokensUsed)
	assert.Equal(t, int64(5), rounds[1].LatencyMs)

	evts := h.sink.Events()
	require.Len(t, evts, 1)
	assert.Equal(t, events.EventNegotiationInitiated, evts[0].Type)
	assert.Equal(t, "pub_test_001", evts[0].TenantID)
	assert.Equal(t, out.CounterOffer, evts[0].Data["counter_offer"])
}

func TestInitiate_LLMFailurePersistsNothing(t *testing.T) {
	h := newHarness(t, testutil.NewScriptedLLM("I would rather not answer in JSON"), testutil.NewStrategyFixture().Build())

	_, err := h.engine.Initiate(context.Background(), InitiateRequest{
		PublisherID: "pub_test_001",
		ClientName:  "acme-bot",
		Proposal:    lowPrice(),
	})
	require.ErrorIs(t, err, ErrInvalidLLMResponse)

	list, err := h.engine.List(context.Background(), store.NegotiationFilter{PublisherID: "pub_test_001"})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, h.sink.Types())
}

func TestInitiate_NoStrategy(t *testing.T) {
	h := newHarness(t, testutil.NewScriptedLLM(counterJSON), testutil.NewStrategyFixture().Build())

	_, err := h.engine.Initiate(context.Background(), InitiateRequest{
		PublisherID: "pub_unknown",
		ClientName:  "acme-bot",
		Proposal:    lowPrice(),
	})
	assert.ErrorIs(t, err, ErrNoStrategyFound)
}

func TestInitiate_InvalidProposal(t *testing.T) {
	h := newHarness(t, testutil.NewScriptedLLM(counterJSON), testutil.NewStrategyFixture().Build())

	_, err := h.engine.Initiate(context.Background(), InitiateRequest{
		PublisherID: "pub_test_001",
		ClientName:  "acme-bot",
		Proposal:    testutil.NewTermsFixture().WithPrice(-1).Build(),
	})
	assert.ErrorIs(t, err, ErrInvalidProposal)
}

func TestInitiate_SpecificPartnerWins(t *testing.T) {
	tier := testutil.NewStrategyFixture().WithID("strat_tier1").WithPartnerType(model.PartnerTier1AI).Build()
	specific := testutil.NewStrategyFixture().WithID("strat_openai").WithSpecificPartner("OpenAI").Build()
	h := newHarness(t, testutil.NewScriptedLLM(counterJSON), tier, specific)

	out, err := h.engine.Initiate(context.Background(), InitiateRequest{
		PublisherID: "pub_test_001",
		ClientName:  "GPTBot/1.0",
		Proposal:    lowPrice(),
	})
	require.NoError(t, err)
	assert.Equal(t, "strat_openai", out.Negotiation.StrategyID)
	assert.Equal(t, model.PartnerSpecific, out.Negotiation.PartnerType)
	require.NotNil(t, out.Negotiation.PartnerName)
	assert.Equal(t, "OpenAI", *out.Negotiation.PartnerName)
}

func TestProcessCounterProposal_Round(t *testing.T) {
	h := newHarness(t, testutil.NewScriptedLLM(counterJSON), testutil.NewStrategyFixture().Build())
	opened := initiate(t, h, 1000)

	out, err := h.engine.ProcessCounterProposal(context.Background(), opened.Negotiation.ID,
		testutil.NewTermsFixture().WithPrice(1500).Build())
	require.NoError(t, err)

	assert.Equal(t, model.StatusNegotiating, out.Status)
	assert.Equal(t, 1, out.Negotiation.CurrentRound)
	assert.Equal(t, int64(1500), *out.Negotiation.CurrentTerms.PricePerFetchMicro)
	require.NotNil(t, out.CounterOffer)
	assert.Equal(t, 2, h.llm.Calls())

	_, rounds, err := h.engine.Get(context.Background(), opened.Negotiation.ID)
	require.NoError(t, err)
	require.Len(t, rounds, 4)
	assert.Equal(t, 1, rounds[2].RoundNumber)
	assert.Equal(t, model.ActionCounter, rounds[2].Action)
	assert.Equal(t, model.ActorClient, rounds[2].Actor)
	assert.Equal(t, 1, rounds[3].RoundNumber)
	assert.Equal(t, model.ActorPublisher, rounds[3].Actor)
	assert.Equal(t, []string{events.EventNegotiationInitiated, events.EventNegotiationRound}, h.sink.Types())
}

func TestProcessCounterProposal_AcceptsOnThreshold(t *testing.T) {
	h := newHarness(t, testutil.NewScriptedLLM(counterJSON), testutil.NewStrategyFixture().Build())
	opened := initiate(t, h, 1000)

	out, err := h.engine.ProcessCounterProposal(context.Background(), opened.Negotiation.ID,
		testutil.NewTermsFixture().WithPrice(4000).Build())
	require.NoError(t, err)

	assert.Equal(t, model.StatusAccepted, out.Status)
	assert.Equal(t, 1, out.Negotiation.CurrentRound)
	require.NotNil(t, out.Negotiation.FinalTerms)
	assert.Equal(t, int64(4000), *out.Negotiation.FinalTerms.PricePerFetchMicro)
	assert.Equal(t, int64(600), *out.Negotiation.FinalTerms.TokenTTLSeconds)
	assert.Equal(t, 1, h.llm.Calls())

	_, rounds, err := h.engine.Get(context.Background(), opened.Negotiation.ID)
	require.NoError(t, err)
	last := rounds[len(rounds)-1]
	assert.Equal(t, model.TerminalRound, last.RoundNumber)
	assert.Equal(t, model.ActionAccept, last.Action)
}

func TestProcessCounterProposal_DealBreakerRejects(t *testing.T) {
	s := testutil.NewStrategyFixture().WithDealBreaker(model.FieldPricePerFetchMicro, model.OpLess, 800).Build()
	h := newHarness(t, testutil.NewScriptedLLM(counterJSON), s)
	opened := initiate(t, h, 1000)

	out, err := h.engine.ProcessCounterProposal(context.Background(), opened.Negotiation.ID,
		testutil.NewTermsFixture().WithPrice(100).Build())
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, out.Status)
	assert.Contains(t, out.Negotiation.RejectionReason, "price_per_fetch_micro < 800")
	assert.Equal(t, 1, out.Negotiation.CurrentRound)
}

func TestProcessCounterProposal_MaxRoundsTimeout(t *testing.T) {
	s := testutil.NewStrategyFixture().WithMaxRounds(3).Build()
	h := newHarness(t, testutil.NewScriptedLLM(counterJSON), s)
	opened := initiate(t, h, 1000)
	id := opened.Negotiation.ID

	for i := 1; i <= 3; i++ {
		out, err := h.engine.ProcessCounterProposal(context.Background(), id, lowPrice())
		require.NoError(t, err)
		require.Equal(t, model.StatusNegotiating, out.Status, "round %d", i)
		require.Equal(t, i, out.Negotiation.CurrentRound)
	}

	out, err := h.engine.ProcessCounterProposal(context.Background(), id, lowPrice())
	require.NoError(t, err)
	assert.Equal(t, model.StatusTimeout, out.Status)

	stored, err := h.store.GetNegotiation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusTimeout, stored.Status)
	assert.Equal(t, 3, stored.CurrentRound)
	assert.NotNil(t, stored.CompletedAt)

	types := h.sink.Types()
	assert.Equal(t, events.EventNegotiationTimeout, types[len(types)-1])

	_, err = h.engine.ProcessCounterProposal(context.Background(), id, lowPrice())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestProcessCounterProposal_InactivityTimeout(t *testing.T) {
	s := testutil.NewStrategyFixture().WithTimeoutSeconds(60).Build()
	h := newHarness(t, testutil.NewScriptedLLM(counterJSON), s)
	opened := initiate(t, h, 1000)

	h.clock.Advance(61 * time.Second)
	out, err := h.engine.ProcessCounterProposal(context.Background(), opened.Negotiation.ID, lowPrice())
	require.NoError(t, err)
	assert.Equal(t, model.StatusTimeout, out.Status)
	assert.Equal(t, 0, out.Negotiation.CurrentRound)
	assert.Equal(t, 1, h.llm.Calls())
}

func TestProcessCounterProposal_LLMFailureKeepsState(t *testing.T) {
	llm := testutil.NewScriptedLLM(counterJSON, `{"price": "lots"}`)
	h := newHarness(t, llm, testutil.NewStrategyFixture().Build())
	opened := initiate(t, h, 1000)
	before, err := h.store.GetNegotiation(context.Background(), opened.Negotiation.ID)
	require.NoError(t, err)

	_, err = h.engine.ProcessCounterProposal(context.Background(), opened.Negotiation.ID, lowPrice())
	require.ErrorIs(t, err, ErrInvalidLLMResponse)

	after, err := h.store.GetNegotiation(context.Background(), opened.Negotiation.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, 0, after.CurrentRound)
	assert.Equal(t, model.StatusNegotiating, after.Status)

	_, rounds, err := h.engine.Get(context.Background(), opened.Negotiation.ID)
	require.NoError(t, err)
	assert.Len(t, rounds, 2)
}

func TestProcessCounterProposal_TransportErrorPropagates(t *testing.T) {
	boom := errors.New("connection reset")
	llm := testutil.NewScriptedLLM(counterJSON)
	h := newHarness(t, llm, testutil.NewStrategyFixture().Build())
	opened := initiate(t, h, 1000)

	llm.WithError(boom)
	_, err := h.engine.ProcessCounterProposal(context.Background(), opened.Negotiation.ID, lowPrice())
	assert.ErrorIs(t, err, boom)
}

func TestProcessCounterProposal_NotFound(t *testing.T) {
	h := newHarness(t, testutil.NewScriptedLLM(counterJSON), testutil.NewStrategyFixture().Build())
	_, err := h.engine.ProcessCounterProposal(context.Background(), "neg_missing", lowPrice())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProcessCounterProposal_ConcurrentCallsSerialize(t *testing.T) {
	h := newHarness(t, testutil.NewScriptedLLM(counterJSON), testutil.NewStrategyFixture().Build())
	opened := initiate(t, h, 1000)
	id := opened.Negotiation.ID

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.engine.ProcessCounterProposal(context.Background(), id, lowPrice())
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	stored, err := h.store.GetNegotiation(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.CurrentRound)

	_, rounds, err := h.engine.Get(context.Background(), id)
	require.NoError(t, err)
	seen := map[int]int{}
	for _, r := range rounds {
		seen[r.RoundNumber]++
	}
	assert.Equal(t, 2, seen[1])
	assert.Equal(t, 2, seen[2])
}

func TestAccept(t *testing.T) {
	h := newHarness(t, testutil.NewScriptedLLM(counterJSON), testutil.NewStrategyFixture().Build())
	opened := initiate(t, h, 1000)
	id := opened.Negotiation.ID

	n, err := h.engine.Accept(context.Background(), id, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, n.Status)
	require.NotNil(t, n.FinalTerms)
	assert.Equal(t, int64(1000), *n.FinalTerms.PricePerFetchMicro)
	assert.True(t, n.FinalTerms.IsComplete())
	require.NotNil(t, n.CompletedAt)
	completedAt := *n.CompletedAt

	h.clock.Advance(time.Minute)
	_, err = h.engine.Accept(context.Background(), id, nil)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = h.engine.Reject(context.Background(), id, "changed my mind")
	assert.ErrorIs(t, err, ErrInvalidState)

	stored, err := h.store.GetNegotiation(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, completedAt.Equal(*stored.CompletedAt))
	assert.Equal(t, events.EventNegotiationAccepted, h.sink.Types()[1])
}

func TestAccept_WithExplicitTerms(t *testing.T) {
	h := newHarness(t, testutil.NewScriptedLLM(counterJSON), testutil.NewStrategyFixture().Build())
	opened := initiate(t, h, 1000)

	terms := testutil.NewTermsFixture().WithPrice(2500).WithBurstRPS(20).Build()
	n, err := h.engine.Accept(context.Background(), opened.Negotiation.ID, &terms)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), *n.FinalTerms.PricePerFetchMicro)
	assert.Equal(t, int64(20), *n.FinalTerms.BurstRPS)
	assert.Equal(t, int64(600), *n.FinalTerms.TokenTTLSeconds)
}

func TestReject(t *testing.T) {
	h := newHarness(t, testutil.NewScriptedLLM(counterJSON), testutil.NewStrategyFixture().Build())
	opened := initiate(t, h, 1000)

	n, err := h.engine.Reject(context.Background(), opened.Negotiation.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, n.Status)
	assert.Equal(t, "rejected by publisher", n.RejectionReason)
	assert.NotNil(t, n.CompletedAt)

	_, rounds, err := h.engine.Get(context.Background(), opened.Negotiation.ID)
	require.NoError(t, err)
	last := rounds[len(rounds)-1]
	assert.Equal(t, model.TerminalRound, last.RoundNumber)
	assert.Equal(t, model.ActionReject, last.Action)

	_, err = h.engine.Reject(context.Background(), "neg_missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAttachPolicy(t *testing.T) {
	h := newHarness(t, testutil.NewScriptedLLM(counterJSON), testutil.NewStrategyFixture().Build())
	opened := initiate(t, h, 1000)
	id := opened.Negotiation.ID

	_, err := h.engine.AttachPolicy(context.Background(), id, "pol_1")
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = h.engine.Accept(context.Background(), id, nil)
	require.NoError(t, err)
	n, err := h.engine.AttachPolicy(context.Background(), id, "pol_1")
	require.NoError(t, err)
	require.NotNil(t, n.PolicyID)
	assert.Equal(t, "pol_1", *n.PolicyID)

	_, err = h.engine.AttachPolicy(context.Background(), id, "pol_2")
	assert.ErrorIs(t, err, ErrInvalidState)
	stored, _, err := h.engine.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "pol_1", *stored.PolicyID)
}

func TestRoundLedgerRejectsBackwardsRounds(t *testing.T) {
	ledger := NewRoundLedger(store.NewMemoryStore())
	ctx := context.Background()

	r, err := ledger.Append(ctx, model.Round{NegotiationID: "neg_1", RoundNumber: 2, Actor: model.ActorClient, Action: model.ActionCounter})
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.False(t, r.CreatedAt.IsZero())

	_, err = ledger.Append(ctx, model.Round{NegotiationID: "neg_1", RoundNumber: 1, Actor: model.ActorClient, Action: model.ActionCounter})
	assert.ErrorIs(t, err, ErrRoundOutOfOrder)

	_, err = ledger.Append(ctx, model.Round{NegotiationID: "neg_1", RoundNumber: model.TerminalRound, Actor: model.ActorPublisher, Action: model.ActionReject})
	require.NoError(t, err)

	_, err = ledger.Append(ctx, model.Round{NegotiationID: "neg_1", RoundNumber: -2})
	assert.ErrorIs(t, err, ErrRoundOutOfOrder)

	history, err := ledger.History(ctx, "neg_1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
