// Package api exposes the assistant over HTTP as a JSON API.
//
// Endpoints:
//
//	POST   /api/v1/query          — route and answer one question
//	GET    /api/v1/sessions       — list sessions
//	GET    /api/v1/sessions/{id}  — read a session transcript
//	DELETE /api/v1/sessions/{id}  — delete a session
//	POST   /api/v1/flow           — the Genkit flow endpoint (dev tooling)
//	GET    /health                — liveness probe
//	GET    /ready                 — readiness probe (pings the database)
//
// Error responses are a JSON envelope {"error": code, "message": text};
// the query endpoint maps the pipeline's sentinel errors onto statuses
// (400 invalid input, 502 upstream failure, 503 circuit open).
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sathlab/medq/internal/log"
	"github.com/sathlab/medq/internal/orchestrator"
	"github.com/sathlab/medq/internal/session"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds request header reads (Slowloris defense).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response. Model
	// calls with retries can take a while; this must outlast them.
	WriteTimeout = 2 * time.Minute

	// IdleTimeout closes idle keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// ServerConfig configures the API server.
type ServerConfig struct {
	// Responder answers routed questions. Required.
	Responder Responder

	// Sessions serves the transcript endpoints. Required.
	Sessions session.Store

	// Flow, when set, is also served raw through genkit.Handler for the
	// Genkit dev UI and tooling.
	Flow *orchestrator.Flow

	// Pool backs the readiness probe; nil reports not ready.
	Pool *pgxpool.Pool

	// CORSOrigins lists origins allowed to call the API cross-site.
	CORSOrigins []string

	// TrustProxy trusts X-Real-IP/X-Forwarded-For for client addressing.
	// Enable only behind a reverse proxy that sets them.
	TrustProxy bool

	// RateBurst is the per-client token bucket size (refill 1/sec).
	// Zero means 60.
	RateBurst int

	Logger log.Logger
}

// Server is the JSON API HTTP server.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger
}

// NewServer creates a server with all routes registered.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Responder == nil {
		return nil, errors.New("responder is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	qh := &queryHandler{responder: cfg.Responder, logger: logger}
	sh := &sessionHandler{store: cfg.Sessions, logger: logger}
	hh := &healthHandler{pool: cfg.Pool, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/query", qh.query)
	mux.HandleFunc("GET /api/v1/sessions", sh.list)
	mux.HandleFunc("GET /api/v1/sessions/{id}", sh.get)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", sh.delete)
	if cfg.Flow != nil {
		mux.Handle("POST /api/v1/flow", genkit.Handler(cfg.Flow))
	}

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware, outermost first:
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID precedes Logging so request_id lands in log attributes;
	// CORS precedes RateLimit so preflight responses carry CORS headers.
	handler := chain(mux,
		recoveryMiddleware(logger),
		requestIDMiddleware(),
		loggingMiddleware(logger),
		corsMiddleware(cfg.CORSOrigins),
		rateLimitMiddleware(rl, cfg.TrustProxy, logger),
	)

	// Health probes bypass the middleware stack: they must answer even
	// when a client has exhausted its rate budget.
	top := http.NewServeMux()
	top.HandleFunc("GET /health", hh.liveness)
	top.HandleFunc("GET /ready", hh.readiness)
	top.Handle("/", handler)

	return &Server{mux: top, logger: logger}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving HTTP: %w", err)
	}
}
