package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/parlakisik/aex-negotiation/internal/model"
)

func strategyFixture(id string, pt model.PartnerType, name *string, created time.Time) model.Strategy {
	return model.Strategy{
		ID:           id,
		PublisherID:  "pub_1",
		PartnerType:  pt,
		PartnerName:  name,
		LicenseTypes: []string{model.LicenseTraining},
		Active:       true,
		MaxRounds:    3,
		CreatedAt:    created,
	}
}

func TestMemoryStoreFindStrategies(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	openai := "OpenAI"

	inactive := strategyFixture("s_inactive", model.PartnerTier1AI, nil, base)
	inactive.Active = false
	fixtures := []model.Strategy{
		strategyFixture("s_newer", model.PartnerTier1AI, nil, base.Add(time.Hour)),
		strategyFixture("s_older", model.PartnerTier1AI, nil, base),
		strategyFixture("s_named", model.PartnerSpecific, &openai, base),
		inactive,
	}
	for _, f := range fixtures {
		if err := st.SaveStrategy(ctx, f); err != nil {
			t.Fatalf("SaveStrategy(%s): %v", f.ID, err)
		}
	}

	got, err := st.FindStrategies(ctx, StrategyQuery{
		PublisherID: "pub_1",
		PartnerType: model.PartnerTier1AI,
		LicenseType: model.LicenseTraining,
	})
	if err != nil {
		t.Fatalf("FindStrategies: %v", err)
	}
	if len(got) != 2 || got[0].ID != "s_older" || got[1].ID != "s_newer" {
		t.Fatalf("FindStrategies(tier1) = %v, want [s_older s_newer]", ids(got))
	}

	got, _ = st.FindStrategies(ctx, StrategyQuery{
		PublisherID: "pub_1",
		PartnerType: model.PartnerSpecific,
		PartnerName: &openai,
		LicenseType: model.LicenseTraining,
	})
	if len(got) != 1 || got[0].ID != "s_named" {
		t.Errorf("FindStrategies(specific) = %v, want [s_named]", ids(got))
	}

	got, _ = st.FindStrategies(ctx, StrategyQuery{
		PublisherID: "pub_1",
		PartnerType: model.PartnerTier1AI,
		LicenseType: model.LicenseRAGUnrestricted,
	})
	if len(got) != 0 {
		t.Errorf("FindStrategies(rag) = %v, want none", ids(got))
	}
}

func TestMemoryStoreUpdateNegotiationCAS(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	n := &model.Negotiation{ID: "neg_1", PublisherID: "pub_1", Status: model.StatusNegotiating}
	if err := st.CreateNegotiation(ctx, n); err != nil {
		t.Fatalf("CreateNegotiation: %v", err)
	}
	if n.Version != 1 {
		t.Fatalf("Version after create = %d, want 1", n.Version)
	}

	stale := *n
	n.CurrentRound = 1
	if err := st.UpdateNegotiation(ctx, n); err != nil {
		t.Fatalf("UpdateNegotiation: %v", err)
	}
	if n.Version != 2 {
		t.Errorf("Version after update = %d, want 2", n.Version)
	}

	stale.CurrentRound = 5
	if err := st.UpdateNegotiation(ctx, &stale); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale update err = %v, want ErrVersionConflict", err)
	}

	got, _ := st.GetNegotiation(ctx, "neg_1")
	if got.CurrentRound != 1 {
		t.Errorf("CurrentRound = %d, want 1", got.CurrentRound)
	}

	missing := &model.Negotiation{ID: "neg_missing"}
	if err := st.UpdateNegotiation(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing update err = %v, want ErrNotFound", err)
	}
	if err := st.CreateNegotiation(ctx, &model.Negotiation{ID: "neg_1"}); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate create err = %v, want ErrAlreadyExists", err)
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	n := &model.Negotiation{
		ID:           "neg_1",
		CurrentTerms: model.Terms{Purposes: []string{"rag"}},
	}
	_ = st.CreateNegotiation(ctx, n)
	n.CurrentTerms.Purposes[0] = "training"

	got, _ := st.GetNegotiation(ctx, "neg_1")
	if got.CurrentTerms.Purposes[0] != "rag" {
		t.Errorf("stored terms aliased caller slice: %v", got.CurrentTerms.Purposes)
	}
	if missing, err := st.GetNegotiation(ctx, "nope"); missing != nil || err != nil {
		t.Errorf("GetNegotiation(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestMemoryStoreListNegotiations(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, s := range []model.NegotiationStatus{model.StatusNegotiating, model.StatusAccepted, model.StatusNegotiating} {
		n := &model.Negotiation{
			ID:             string(rune('a' + i)),
			PublisherID:    "pub_1",
			Status:         s,
			LastActivityAt: base.Add(time.Duration(i) * time.Minute),
		}
		_ = st.CreateNegotiation(ctx, n)
	}
	_ = st.CreateNegotiation(ctx, &model.Negotiation{ID: "other", PublisherID: "pub_2"})

	got, err := st.ListNegotiations(ctx, NegotiationFilter{PublisherID: "pub_1", Status: model.StatusNegotiating})
	if err != nil {
		t.Fatalf("ListNegotiations: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "a" {
		t.Errorf("ListNegotiations = %v, want [c a]", got)
	}

	got, _ = st.ListNegotiations(ctx, NegotiationFilter{PublisherID: "pub_1", Limit: 1})
	if len(got) != 1 || got[0].ID != "c" {
		t.Errorf("ListNegotiations(limit 1) = %v", got)
	}
}

func TestMemoryStoreRoundsKeepOrder(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	for i, a := range []model.Action{model.ActionPropose, model.ActionCounter, model.ActionAccept} {
		_ = st.AppendRound(ctx, model.Round{ID: string(rune('a' + i)), NegotiationID: "neg_1", Action: a})
	}
	got, err := st.ListRounds(ctx, "neg_1")
	if err != nil {
		t.Fatalf("ListRounds: %v", err)
	}
	if len(got) != 3 || got[2].Action != model.ActionAccept {
		t.Errorf("ListRounds = %v", got)
	}
	if empty, _ := st.ListRounds(ctx, "none"); len(empty) != 0 {
		t.Errorf("ListRounds(none) = %v, want empty", empty)
	}
}

func ids(list []model.Strategy) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.ID)
	}
	return out
}
