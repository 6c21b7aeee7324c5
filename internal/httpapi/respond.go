package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/parlakisik/aex-negotiation/internal/httpclient"
	"github.com/parlakisik/aex-negotiation/internal/license"
	"github.com/parlakisik/aex-negotiation/internal/llm"
	"github.com/parlakisik/aex-negotiation/internal/model"
	"github.com/parlakisik/aex-negotiation/internal/negotiation"
	"github.com/parlakisik/aex-negotiation/internal/store"
)

var errBadRequest = errors.New("bad request")

// decodeJSON reads at most 1 MiB. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	defer func() { _ = r.Body.Close() }()
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":       code,
			"message":    message,
			"request_id": GetRequestID(r.Context()),
		},
	})
}

// writeErr maps domain errors to HTTP responses.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request_failed", "path", r.URL.Path, "status", status, "error", err, "request_id", GetRequestID(r.Context()))
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "An internal error occurred"
	}
	writeError(w, r, status, code, msg)
}

func classify(err error) (int, string) {
	var httpErr *httpclient.HTTPError
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, negotiation.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, negotiation.ErrNoStrategyFound):
		return http.StatusNotFound, "no_strategy_found"
	case errors.Is(err, negotiation.ErrInvalidState), errors.Is(err, license.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, negotiation.ErrConcurrentUpdate), errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict, "concurrent_update"
	case errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, negotiation.ErrInvalidProposal), errors.Is(err, model.ErrInvalidStrategy), errors.Is(err, model.ErrInvalidTerms):
		return http.StatusUnprocessableEntity, "invalid_request"
	case errors.Is(err, negotiation.ErrInvalidLLMResponse):
		return http.StatusBadGateway, "invalid_llm_response"
	case errors.Is(err, llm.ErrUnknownProvider):
		return http.StatusBadGateway, "llm_unavailable"
	case errors.As(err, &httpErr):
		return http.StatusBadGateway, "llm_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal_error"
}
