package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sathlab/medq/internal/api"
	"github.com/sathlab/medq/internal/app"
	"github.com/sathlab/medq/internal/config"
)

// parseRateBurst reads the per-client rate limit burst override from the
// MEDQ_RATE_BURST environment variable. Returns 0 (use the server default)
// when unset or not a positive integer.
func parseRateBurst() int {
	raw := os.Getenv("MEDQ_RATE_BURST")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		slog.Warn("ignoring invalid MEDQ_RATE_BURST", "value", raw)
		return 0
	}
	return n
}

// runServe initializes the application and starts the HTTP API server.
// It blocks until the context is cancelled (SIGINT/SIGTERM) or the
// server fails.
func runServe(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr, err := parseServeAddr(cfg.HTTPAddr, args)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.Default()
	logger.Info("starting medq HTTP server", "version", Version, "addr", addr)

	if cfg.SessionBackend == config.SessionBackendMemory {
		logger.Warn("using the in-memory session backend; transcripts are lost on restart",
			"hint", "set session_backend: postgres for durable sessions")
	}

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	srv, err := api.NewServer(api.ServerConfig{
		Responder:   a.Orchestrator,
		Sessions:    a.Sessions,
		Flow:        a.Flow,
		Pool:        a.Pool,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		RateBurst:   parseRateBurst(),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	return srv.Run(ctx, addr)
}
