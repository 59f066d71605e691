package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors checkable with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// Provider selection and the API keys it implies. Ollama needs no key;
	// gemini and openai read theirs from the environment inside Genkit.
	switch c.Provider {
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host cannot be empty when provider is %q",
				ErrInvalidOllamaHost, ProviderOllama)
		}
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required for provider %q",
				ErrMissingAPIKey, ProviderGemini)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY environment variable is required for provider %q",
				ErrMissingAPIKey, ProviderOpenAI)
		}
	default:
		return fmt.Errorf("%w: %q is not one of: %v", ErrInvalidProvider, c.Provider,
			[]string{ProviderOllama, ProviderGemini, ProviderOpenAI})
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	// Router configuration.
	switch c.RouterProvider {
	case RouterProviderChat:
		// Classification reuses the chat model; nothing further to check.
	case RouterProviderGroq:
		if c.RouterModel == "" {
			return fmt.Errorf("%w: router_model cannot be empty", ErrInvalidRouterModel)
		}
		if c.RouterAPIKey == "" {
			return fmt.Errorf("%w: GROQ_API_KEY environment variable is required for router_provider %q"+
				" (or set router_provider: chat to reuse the chat model)",
				ErrMissingAPIKey, RouterProviderGroq)
		}
		// Both the Groq endpoint and the OpenAI chat provider register under
		// the "openai" Genkit provider name; they cannot coexist.
		if c.Provider == ProviderOpenAI {
			return fmt.Errorf("%w: router_provider %q conflicts with provider %q; set router_provider: chat",
				ErrInvalidRouterModel, RouterProviderGroq, ProviderOpenAI)
		}
	default:
		return fmt.Errorf("%w: router_provider %q is not one of: %v", ErrInvalidRouterModel,
			c.RouterProvider, []string{RouterProviderGroq, RouterProviderChat})
	}

	// Retrieval configuration.
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}
	if c.RetrievalTopK < 1 || c.RetrievalTopK > 20 {
		return fmt.Errorf("%w: retrieval_top_k must be between 1 and 20, got %d", ErrInvalidTopK, c.RetrievalTopK)
	}

	// Wikipedia lookup configuration.
	if c.WikiBaseURL == "" {
		return fmt.Errorf("%w: wiki_base_url cannot be empty", ErrInvalidWikiConfig)
	}
	if c.WikiTopK < 1 || c.WikiTopK > 10 {
		return fmt.Errorf("%w: wiki_top_k must be between 1 and 10, got %d", ErrInvalidWikiConfig, c.WikiTopK)
	}
	if c.WikiMaxChars < 100 {
		return fmt.Errorf("%w: wiki_max_chars must be at least 100, got %d", ErrInvalidWikiConfig, c.WikiMaxChars)
	}
	if c.WikiTimeoutMS < 1 {
		return fmt.Errorf("%w: wiki_timeout_ms must be positive, got %d", ErrInvalidWikiConfig, c.WikiTimeoutMS)
	}

	// Session configuration.
	switch c.SessionBackend {
	case SessionBackendMemory, SessionBackendPostgres:
	default:
		return fmt.Errorf("%w: %q is not one of: %v", ErrInvalidSessionBackend, c.SessionBackend,
			[]string{SessionBackendMemory, SessionBackendPostgres})
	}
	if c.MaxHistoryTurns < 1 {
		return fmt.Errorf("%w: max_history_turns must be positive, got %d", ErrInvalidSessionBackend, c.MaxHistoryTurns)
	}

	// PostgreSQL configuration. Validated regardless of session backend:
	// the document corpus always lives in Postgres.
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}
	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set", ErrInvalidPostgresPassword)
	}
	if c.PostgresPassword == "medq_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"hint", "change postgres_password for production deployments")
	}
	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only; allow/prefer are excluded as MITM-vulnerable.
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}
