package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/sathlab/medq/internal/log"
	"github.com/sathlab/medq/internal/session"
)

// List pagination bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
	MaxListOffset    = 100000
)

type sessionHandler struct {
	store  session.Store
	logger log.Logger
}

// list handles GET /api/v1/sessions.
// Query parameters: limit (default 50, max 500) and offset.
func (h *sessionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)
	offset := parseIntParam(r, "offset", 0, 0, MaxListOffset)

	sessions, err := h.store.Sessions(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("listing sessions", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list sessions", h.logger)
		return
	}
	if sessions == nil {
		sessions = []session.Session{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
		"limit":    limit,
		"offset":   offset,
	}, h.logger)
}

// get handles GET /api/v1/sessions/{id}, returning the transcript
// oldest-first. A session that has never been written to reads as an
// empty transcript, matching the store contract.
func (h *sessionHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := session.NormalizeID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session", "session id is invalid", h.logger)
		return
	}

	turns, err := h.store.History(r.Context(), id)
	if err != nil {
		h.logger.Error("reading transcript", "error", err, "session", id)
		writeError(w, http.StatusInternalServerError, "history_failed", "failed to read transcript", h.logger)
		return
	}
	if turns == nil {
		turns = []session.Turn{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": id,
		"turns":     turns,
	}, h.logger)
}

// delete handles DELETE /api/v1/sessions/{id}.
func (h *sessionHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := session.NormalizeID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_session", "session id is invalid", h.logger)
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "session does not exist", h.logger)
			return
		}
		h.logger.Error("deleting session", "error", err, "session", id)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete session", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, h.logger)
}

// parseIntParam parses an integer query parameter, clamped to [min, max].
func parseIntParam(r *http.Request, name string, defaultVal, min, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return defaultVal
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
