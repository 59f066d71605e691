// Package app assembles the application from its components.
//
// Setup builds the full graph — Genkit with the configured model
// provider, the Postgres pool, corpus store, retriever, session store,
// Wikipedia client, router, assistant, and the orchestrator with its
// Genkit flow — and returns an App that owns their lifecycles. Every
// entry point (serve, chat, ask, ingest, mcp) starts here.
package app

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sathlab/medq/internal/assistant"
	"github.com/sathlab/medq/internal/config"
	"github.com/sathlab/medq/internal/corpus"
	"github.com/sathlab/medq/internal/log"
	"github.com/sathlab/medq/internal/orchestrator"
	"github.com/sathlab/medq/internal/rag"
	"github.com/sathlab/medq/internal/route"
	"github.com/sathlab/medq/internal/session"
	"github.com/sathlab/medq/internal/wiki"
)

// App is the application container. Fields are initialized by Setup and
// read-only afterwards.
type App struct {
	Config *config.Config

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	Pool     *pgxpool.Pool

	Corpus       *corpus.Store
	Retriever    *rag.Retriever
	Ingester     *rag.Ingester
	Sessions     session.Store
	Wiki         *wiki.Client
	Router       *route.Router
	Assistant    *assistant.ConversationalRetriever
	Orchestrator *orchestrator.Orchestrator
	Flow         *orchestrator.Flow

	logger log.Logger

	// Teardown hooks captured during Setup; nil when the component was
	// never initialized.
	sessionStop  func()
	otelShutdown func()
}

// Close releases everything Setup acquired: the session janitor, the
// database pool, and the trace exporter, in that order. Safe to call on
// a partially initialized App.
func (a *App) Close() error {
	logger := a.logger
	if logger == nil {
		logger = log.NewNop()
	}
	logger.Info("shutting down")

	if a.sessionStop != nil {
		a.sessionStop()
	}
	if a.Pool != nil {
		a.Pool.Close()
		logger.Debug("database pool closed")
	}
	if a.otelShutdown != nil {
		a.otelShutdown()
	}

	return nil
}
