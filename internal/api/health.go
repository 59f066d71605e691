package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sathlab/medq/internal/log"
)

// readyPingTimeout bounds the readiness database ping so a hung
// database cannot hang the probe.
const readyPingTimeout = 2 * time.Second

type healthHandler struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// liveness reports that the process is up. It says nothing about
// dependencies; that is what /ready is for.
func (h *healthHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, h.logger)
}

// readiness reports whether the server can do real work, which means
// the database answers.
func (h *healthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	if h.pool == nil {
		writeError(w, http.StatusServiceUnavailable, "not_ready", "database pool not configured", h.logger)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyPingTimeout)
	defer cancel()
	if err := h.pool.Ping(ctx); err != nil {
		h.logger.Error("readiness check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "not_ready", "database not ready", h.logger)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"}, h.logger)
}
