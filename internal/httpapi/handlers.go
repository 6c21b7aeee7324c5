package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/parlakisik/aex-negotiation/internal/events"
	"github.com/parlakisik/aex-negotiation/internal/license"
	"github.com/parlakisik/aex-negotiation/internal/model"
	"github.com/parlakisik/aex-negotiation/internal/negotiation"
	"github.com/parlakisik/aex-negotiation/internal/store"
)

type Server struct {
	engine     *negotiation.Engine
	strategies store.StrategyStore
	licenses   *license.Generator
	events     negotiation.EventSink
	now        func() time.Time
}

func NewServer(engine *negotiation.Engine, strategies store.StrategyStore, licenses *license.Generator, sink negotiation.EventSink) *Server {
	return &Server{
		engine:     engine,
		strategies: strategies,
		licenses:   licenses,
		events:     sink,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req negotiation.InitiateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	out, err := s.engine.Initiate(r.Context(), req)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

type counterRequest struct {
	Proposal *model.Terms `json:"proposal"`
}

func (s *Server) handleCounter(w http.ResponseWriter, r *http.Request) {
	var req counterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	if req.Proposal == nil {
		writeErr(w, r, fmt.Errorf("%w: proposal is required", errBadRequest))
		return
	}
	out, err := s.engine.ProcessCounterProposal(r.Context(), chi.URLParam(r, "id"), *req.Proposal)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type acceptRequest struct {
	FinalTerms *model.Terms `json:"final_terms,omitempty"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	n, err := s.engine.Accept(r.Context(), chi.URLParam(r, "id"), req.FinalTerms)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	n, err := s.engine.Reject(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleListNegotiations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.NegotiationFilter{
		PublisherID: strings.TrimSpace(q.Get("publisher_id")),
		Status:      model.NegotiationStatus(strings.TrimSpace(q.Get("status"))),
		Limit:       50,
	}
	switch f.Status {
	case "", model.StatusNegotiating, model.StatusAccepted, model.StatusRejected, model.StatusTimeout:
	default:
		writeErr(w, r, fmt.Errorf("%w: unknown status %q", errBadRequest, f.Status))
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeErr(w, r, fmt.Errorf("%w: limit must be between 1 and 500", errBadRequest))
			return
		}
		f.Limit = n
	}
	list, err := s.engine.List(r.Context(), f)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if list == nil {
		list = []model.Negotiation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"negotiations": list, "total": len(list)})
}

func (s *Server) handleGetNegotiation(w http.ResponseWriter, r *http.Request) {
	n, rounds, err := s.engine.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if rounds == nil {
		rounds = []model.Round{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"negotiation": n, "rounds": rounds})
}

func (s *Server) handleGenerateLicense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	n, _, err := s.engine.Get(ctx, id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if n.PolicyID != nil {
		writeErr(w, r, fmt.Errorf("%w: license %s already issued", negotiation.ErrInvalidState, *n.PolicyID))
		return
	}
	doc, err := s.licenses.Generate(*n)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if _, err := s.engine.AttachPolicy(ctx, id, doc.PolicyID); err != nil {
		writeErr(w, r, err)
		return
	}
	slog.InfoContext(ctx, "license_generated", "negotiation_id", id, "policy_id", doc.PolicyID, "price_per_fetch_usd", doc.PriceUSD)
	s.events.Emit(ctx, events.Event{
		Type:     events.EventLicenseGenerated,
		TenantID: n.PublisherID,
		Key:      doc.PolicyID,
		Data: map[string]any{
			"negotiation_id": id,
			"policy_id":      doc.PolicyID,
			"client_name":    doc.ClientName,
			"license_type":   doc.LicenseType,
			"price_usd":      doc.PriceUSD,
		},
	})
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListStrategies(w http.ResponseWriter, r *http.Request) {
	list, err := s.strategies.ListStrategies(r.Context(), chi.URLParam(r, "publisherID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if list == nil {
		list = []model.Strategy{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategies": list, "total": len(list)})
}

func (s *Server) handleCreateStrategy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := model.Strategy{Active: true}
	if err := decodeJSON(r, &st); err != nil {
		writeErr(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	st.PublisherID = chi.URLParam(r, "publisherID")
	if st.ID == "" {
		st.ID = "strat_" + uuid.NewString()
	} else {
		existing, err := s.strategies.GetStrategy(ctx, st.ID)
		if err != nil {
			writeErr(w, r, err)
			return
		}
		if existing != nil {
			writeErr(w, r, fmt.Errorf("strategy %s: %w", st.ID, store.ErrAlreadyExists))
			return
		}
	}
	if err := st.Validate(); err != nil {
		writeErr(w, r, err)
		return
	}
	now := s.now()
	st.CreatedAt, st.UpdatedAt = now, now
	if err := s.strategies.SaveStrategy(ctx, st); err != nil {
		writeErr(w, r, err)
		return
	}
	slog.InfoContext(ctx, "strategy_created", "strategy_id", st.ID, "publisher_id", st.PublisherID, "partner_type", string(st.PartnerType))
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleGetStrategy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.strategies.GetStrategy(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if st == nil {
		writeErr(w, r, fmt.Errorf("strategy %s: %w", id, store.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleUpdateStrategy replaces a strategy. Identity, owner and creation time
// are kept from the stored copy.
func (s *Server) handleUpdateStrategy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	existing, err := s.strategies.GetStrategy(ctx, id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if existing == nil {
		writeErr(w, r, fmt.Errorf("strategy %s: %w", id, store.ErrNotFound))
		return
	}
	st := model.Strategy{Active: true}
	if err := decodeJSON(r, &st); err != nil {
		writeErr(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	st.ID = existing.ID
	st.PublisherID = existing.PublisherID
	st.CreatedAt = existing.CreatedAt
	st.UpdatedAt = s.now()
	if err := st.Validate(); err != nil {
		writeErr(w, r, err)
		return
	}
	if err := s.strategies.SaveStrategy(ctx, st); err != nil {
		writeErr(w, r, err)
		return
	}
	slog.InfoContext(ctx, "strategy_updated", "strategy_id", st.ID)
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeleteStrategy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.strategies.DeleteStrategy(r.Context(), id); err != nil {
		writeErr(w, r, err)
		return
	}
	slog.InfoContext(r.Context(), "strategy_deleted", "strategy_id", id)
	w.WriteHeader(http.StatusNoContent)
}
