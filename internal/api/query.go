package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/sathlab/medq/internal/assistant"
	"github.com/sathlab/medq/internal/log"
	"github.com/sathlab/medq/internal/orchestrator"
	"github.com/sathlab/medq/internal/route"
	"github.com/sathlab/medq/internal/session"
	"github.com/sathlab/medq/internal/wiki"
)

const (
	// MaxQuestionChars caps one question, counted in runes.
	MaxQuestionChars = 8000

	// maxQueryBody bounds the request body read.
	maxQueryBody = 64 << 10 // 64 KiB
)

// Responder answers a routed question. *orchestrator.Orchestrator
// satisfies it.
type Responder interface {
	Respond(ctx context.Context, sessionID, question string) (orchestrator.Result, error)
}

// QueryRequest is the POST /api/v1/query request body.
type QueryRequest struct {
	// SessionID scopes the conversation. Blank starts a new session; the
	// response echoes the id to continue it.
	SessionID string `json:"sessionId,omitempty"`
	Question  string `json:"question"`
}

// QueryResponse is the POST /api/v1/query response body.
type QueryResponse struct {
	SessionID string `json:"sessionId"`
	Route     string `json:"route"`
	Answer    string `json:"answer"`
}

type queryHandler struct {
	responder Responder
	logger    log.Logger
}

// query handles POST /api/v1/query.
func (h *queryHandler) query(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxQueryBody)

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large", h.logger)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "invalid_question", "question is required", h.logger)
		return
	}
	if utf8.RuneCountInString(question) > MaxQuestionChars {
		writeError(w, http.StatusBadRequest, "question_too_long",
			fmt.Sprintf("question exceeds %d characters", MaxQuestionChars), h.logger)
		return
	}

	// A supplied session id must be valid no matter which branch ends up
	// answering; the contract stays uniform across routes.
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = session.NewID()
	} else {
		id, err := session.NormalizeID(sessionID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_session",
				"session id must be 1-128 characters starting with a letter or digit", h.logger)
			return
		}
		sessionID = id
	}

	res, err := h.responder.Respond(r.Context(), sessionID, question)
	if err != nil {
		h.logger.Error("query failed",
			"error", err,
			"session", sessionID,
			"request_id", requestIDFromContext(r.Context()),
		)
		h.writeQueryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		SessionID: sessionID,
		Route:     string(res.Route),
		Answer:    res.Answer,
	}, h.logger)
}

// writeQueryError maps pipeline sentinels onto HTTP statuses. The
// circuit breaker check runs first: an open breaker also matches the
// stage sentinel it surfaced through.
func (h *queryHandler) writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, assistant.ErrCircuitOpen):
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, "model_unavailable",
			"the model provider is unavailable, retry shortly", h.logger)
	case errors.Is(err, session.ErrInvalidID):
		writeError(w, http.StatusBadRequest, "invalid_session", "session id is invalid", h.logger)
	case errors.Is(err, route.ErrRouting):
		writeError(w, http.StatusBadGateway, "routing_failed", "could not classify the question", h.logger)
	case errors.Is(err, wiki.ErrSearch):
		writeError(w, http.StatusBadGateway, "wiki_unavailable", "Wikipedia lookup failed", h.logger)
	case errors.Is(err, assistant.ErrReformulation),
		errors.Is(err, assistant.ErrRetrieval),
		errors.Is(err, assistant.ErrSynthesis):
		writeError(w, http.StatusBadGateway, "assistant_failed", "answering from the corpus failed", h.logger)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
	}
}
