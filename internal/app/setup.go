package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/genai"

	"github.com/sathlab/medq/db"
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

// RetrieverName is the name the corpus retriever registers under in
// Genkit, for flows and dev tooling.
const RetrieverName = "corpus"

// Setup creates and initializes the application. cfg must have passed
// config validation. A nil logger gets the default stderr logger.
//
// Returns an App with embedded cleanup — call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = log.New(log.Config{})
	}

	a := &App{Config: cfg, logger: logger}

	// On error, release everything initialized so far.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	// Tracing first, so Genkit's TracerProvider has its processor before
	// any flow or model action is defined.
	a.otelShutdown = provideOtelShutdown(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder, embedOptions := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	store, err := corpus.NewStore(pool, embedder, embedOptions, logger)
	if err != nil {
		return nil, fmt.Errorf("creating corpus store: %w", err)
	}
	a.Corpus = store

	retriever, err := rag.NewRetriever(store, cfg.RetrievalTopK, logger)
	if err != nil {
		return nil, fmt.Errorf("creating retriever: %w", err)
	}
	a.Retriever = retriever
	retriever.Define(g, RetrieverName)

	ingester, err := rag.NewIngester(store, rag.IngesterConfig{
		LockPath: ingestLockPath(logger),
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating ingester: %w", err)
	}
	a.Ingester = ingester

	a.Sessions, a.sessionStop = provideSessionStore(cfg, pool, logger)

	wikiClient, err := wiki.New(wiki.Config{
		BaseURL:  cfg.WikiBaseURL,
		TopK:     cfg.WikiTopK,
		MaxChars: cfg.WikiMaxChars,
		Timeout:  time.Duration(cfg.WikiTimeoutMS) * time.Millisecond,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating wiki client: %w", err)
	}
	a.Wiki = wikiClient

	router, err := route.New(g, route.Config{
		Model:  cfg.RouterModelName(),
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating router: %w", err)
	}
	a.Router = router

	asst, err := assistant.New(g, a.Sessions, retriever, assistant.Config{
		Model:           cfg.FullModelName(),
		MaxHistoryTurns: cfg.MaxHistoryTurns,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating assistant: %w", err)
	}
	a.Assistant = asst

	orch, err := orchestrator.New(router, wikiClient, asst, logger)
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	a.Orchestrator = orch
	a.Flow = orch.DefineFlow(g)

	logger.Info("application ready",
		"provider", cfg.Provider,
		"model", cfg.FullModelName(),
		"router_model", cfg.RouterModelName(),
		"session_backend", cfg.SessionBackend,
	)

	return a, nil
}

// provideOtelShutdown wires trace export into Genkit's TracerProvider.
// An empty OTLP endpoint disables export entirely; exporter failures
// degrade to no tracing rather than failing startup.
//
// The endpoint is a local OTLP HTTP collector; it owns authentication
// and forwarding to whatever backend is configured.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	if cfg.OTLPEndpoint == "" {
		return func() {}
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(), // local collector, no TLS
	)
	if err != nil {
		logger.Warn("creating OTLP exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)
	logger.Debug("trace export enabled", "endpoint", cfg.OTLPEndpoint)

	shutdown := tracing.TracerProvider().Shutdown

	//nolint:contextcheck // Independent context: shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and opens the PostgreSQL pool. Postgres
// is always required: the document corpus lives there regardless of the
// session backend.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// provideGenkit initializes Genkit with the configured chat provider
// and, when routing runs on Groq, the OpenAI-compatible router plugin.
// Supports ollama (default), gemini, and openai providers.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	groq := routerPlugin(cfg)

	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOllama:
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		if groq != nil {
			g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin, groq))
		} else {
			g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		}
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit registration (no auto-discovery).
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case config.ProviderOpenAI:
		// Config validation guarantees the router reuses the chat
		// provider here; two "openai" plugins cannot coexist.
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized Genkit with openai provider", "model", cfg.ModelName)

	default: // "gemini"
		if groq != nil {
			g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}, groq))
		} else {
			g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		}
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// routerPlugin returns the Groq-backed plugin serving classification
// calls, or nil when the router reuses the chat provider. Groq speaks
// the OpenAI wire protocol, so it registers as the "openai" provider
// pointed at a different base URL.
func routerPlugin(cfg *config.Config) *openai.OpenAI {
	if cfg.RouterProvider != config.RouterProviderGroq {
		return nil
	}
	return &openai.OpenAI{
		APIKey: cfg.RouterAPIKey,
		Opts:   []option.RequestOption{option.WithBaseURL(cfg.RouterBaseURL)},
	}
}

// provideEmbedder looks up the embedder registered by the provider
// plugin, along with the embed options every request must carry. Each
// provider registers embedders differently:
//   - ollama: registered in provideGenkit, keyed by server address
//   - gemini: GoogleAIEmbedder(g, modelName)
//   - openai: auto-registered in Init(), looked up by model name
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) (ai.Embedder, any) {
	switch cfg.Provider {
	case config.ProviderOllama:
		return ollama.Embedder(g, cfg.OllamaHost), nil
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel)), nil
	default: // "gemini"
		// Gemini embedding models default to wider vectors than the
		// documents.embedding column holds; pin the dimensionality.
		embedOptions := &genai.EmbedContentConfig{
			OutputDimensionality: genai.Ptr(corpus.VectorDimension),
		}
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel), embedOptions
	}
}

// provideSessionStore selects the transcript backend. The second return
// is the teardown hook (the memory store runs a TTL janitor).
func provideSessionStore(cfg *config.Config, pool *pgxpool.Pool, logger log.Logger) (session.Store, func()) {
	if cfg.SessionBackend == config.SessionBackendPostgres {
		return session.NewPostgres(pool, logger), nil
	}

	mem := session.NewMemory(session.MemoryConfig{
		TTL:         time.Duration(cfg.SessionTTLMin) * time.Minute,
		MaxSessions: cfg.SessionMaxCount,
		Logger:      logger,
	})
	return mem, mem.Stop
}

// ingestLockPath places the cross-process ingest lock under the config
// directory. Returns "" (locking disabled) when the directory cannot be
// resolved or created.
func ingestLockPath(logger log.Logger) string {
	home, err := os.UserHomeDir()
	if err != nil {
		logger.Warn("resolving home directory, ingest locking disabled", "error", err)
		return ""
	}
	dir := filepath.Join(home, ".medq")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		logger.Warn("creating config directory, ingest locking disabled", "error", err)
		return ""
	}
	return filepath.Join(dir, "ingest.lock")
}
