// Package config provides application configuration with multi-source priority.
//
// Sources, highest priority first:
//  1. Environment variables (MEDQ_*, GROQ_API_KEY, DATABASE_URL)
//  2. Config file (~/.medq/config.yaml, or ./config.yaml)
//  3. Defaults (local-first: Ollama models, localhost Postgres)
//
// Sensitive values (passwords, API keys) are masked in MarshalJSON and never
// logged in the clear. Validation runs inside Load; all validation failures
// are sentinel errors checkable with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the model provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidRouterModel indicates the router model configuration is invalid.
	ErrInvalidRouterModel = errors.New("invalid router model")

	// ErrInvalidTopK indicates the retrieval top-K is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top-k")

	// ErrInvalidWikiConfig indicates the Wikipedia lookup configuration is invalid.
	ErrInvalidWikiConfig = errors.New("invalid wiki configuration")

	// ErrInvalidSessionBackend indicates the session backend is not supported.
	ErrInvalidSessionBackend = errors.New("invalid session backend")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// Model provider identifiers used in Config.Provider.
const (
	ProviderGemini   = "gemini"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"

	// RouterProviderGroq routes classification calls to Groq's
	// OpenAI-compatible endpoint. RouterProviderChat reuses the chat provider.
	RouterProviderGroq = "groq"
	RouterProviderChat = "chat"
)

// Session backend identifiers used in Config.SessionBackend.
const (
	SessionBackendMemory   = "memory"
	SessionBackendPostgres = "postgres"
)

// Config stores application configuration.
// SECURITY: sensitive fields are masked in MarshalJSON. When adding a new
// secret field, update MarshalJSON as well.
type Config struct {
	// Chat model provider configuration. The chat model serves
	// reformulation and answer synthesis.
	Provider   string `mapstructure:"provider" json:"provider"`       // "ollama" (default), "gemini", "openai"
	ModelName  string `mapstructure:"model_name" json:"model_name"`   // e.g. "meditron", "gemini-2.5-flash", "gpt-4o"
	OllamaHost string `mapstructure:"ollama_host" json:"ollama_host"` // only used when provider is "ollama"

	// Router model configuration. Routing is a single cheap structured
	// call, served by a fast hosted model by default.
	RouterProvider string `mapstructure:"router_provider" json:"router_provider"` // "groq" (default) or "chat"
	RouterModel    string `mapstructure:"router_model" json:"router_model"`
	RouterBaseURL  string `mapstructure:"router_base_url" json:"router_base_url"`
	RouterAPIKey   string `mapstructure:"router_api_key" json:"router_api_key"` // SENSITIVE: masked in MarshalJSON

	// Retrieval configuration.
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	RetrievalTopK int    `mapstructure:"retrieval_top_k" json:"retrieval_top_k"`

	// Wikipedia lookup configuration.
	WikiBaseURL   string `mapstructure:"wiki_base_url" json:"wiki_base_url"`
	WikiTopK      int    `mapstructure:"wiki_top_k" json:"wiki_top_k"`
	WikiMaxChars  int    `mapstructure:"wiki_max_chars" json:"wiki_max_chars"`
	WikiTimeoutMS int    `mapstructure:"wiki_timeout_ms" json:"wiki_timeout_ms"`

	// Session configuration.
	SessionBackend  string `mapstructure:"session_backend" json:"session_backend"` // "memory" (default) or "postgres"
	SessionTTLMin   int    `mapstructure:"session_ttl_minutes" json:"session_ttl_minutes"`
	SessionMaxCount int    `mapstructure:"session_max_count" json:"session_max_count"`
	MaxHistoryTurns int    `mapstructure:"max_history_turns" json:"max_history_turns"`

	// Storage configuration (see storage.go).
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Serve mode configuration.
	HTTPAddr    string   `mapstructure:"http_addr" json:"http_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // trust X-Forwarded-For (behind reverse proxy)

	// Observability. Empty endpoint disables trace export.
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".medq")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults carry a local setup.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides the discrete postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	// Chat model defaults: fully local via Ollama.
	viper.SetDefault("provider", ProviderOllama)
	viper.SetDefault("model_name", "meditron")
	viper.SetDefault("ollama_host", "http://localhost:11434")

	// Router defaults: Groq-hosted small model keeps routing latency low.
	viper.SetDefault("router_provider", RouterProviderGroq)
	viper.SetDefault("router_model", "gemma2-9b-it")
	viper.SetDefault("router_base_url", "https://api.groq.com/openai/v1")

	// Retrieval defaults. all-minilm outputs 384-dimension vectors,
	// matching the documents table schema.
	viper.SetDefault("embedder_model", "all-minilm")
	viper.SetDefault("retrieval_top_k", 3)

	// Wikipedia defaults: top result only, truncated to 1000 characters.
	viper.SetDefault("wiki_base_url", "https://en.wikipedia.org/w/api.php")
	viper.SetDefault("wiki_top_k", 1)
	viper.SetDefault("wiki_max_chars", 1000)
	viper.SetDefault("wiki_timeout_ms", 10000)

	// Session defaults.
	viper.SetDefault("session_backend", SessionBackendMemory)
	viper.SetDefault("session_ttl_minutes", 60)
	viper.SetDefault("session_max_count", 1024)
	viper.SetDefault("max_history_turns", 20)

	// PostgreSQL defaults (matching docker-compose.yml).
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "medq")
	viper.SetDefault("postgres_password", "medq_dev_password")
	viper.SetDefault("postgres_db_name", "medq")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Serve defaults.
	viper.SetDefault("http_addr", "localhost:8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:5173"})
	viper.SetDefault("trust_proxy", false)
}

// bindEnvVariables binds environment overrides explicitly. GEMINI_API_KEY and
// OPENAI_API_KEY are read directly by the Genkit plugins, not through Viper;
// Validate checks their presence for the selected provider.
func bindEnvVariables() {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime condition.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "MEDQ_PROVIDER")
	mustBind("model_name", "MEDQ_MODEL_NAME")
	mustBind("ollama_host", "MEDQ_OLLAMA_HOST")
	mustBind("embedder_model", "MEDQ_EMBEDDER_MODEL")

	mustBind("router_provider", "MEDQ_ROUTER_PROVIDER")
	mustBind("router_model", "MEDQ_ROUTER_MODEL")
	mustBind("router_api_key", "GROQ_API_KEY")

	mustBind("session_backend", "MEDQ_SESSION_BACKEND")

	mustBind("http_addr", "MEDQ_HTTP_ADDR")
	mustBind("cors_origins", "MEDQ_CORS_ORIGINS")
	mustBind("trust_proxy", "MEDQ_TRUST_PROXY")

	mustBind("otlp_endpoint", "MEDQ_OTLP_ENDPOINT")
}

// maskedValue is the placeholder for masked sensitive data. Full-width
// blocks avoid accidental substring matches against real secret content.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Secrets of 8 characters or
// fewer are fully masked; longer ones keep the first and last two characters
// for debug utility. This defends against accidental logging, nothing more -
// rotate secrets if logs are ever compromised.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.RouterAPIKey = maskSecret(a.RouterAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified chat model name for Genkit.
// Examples: "ollama/meditron", "googleai/gemini-2.5-flash", "openai/gpt-4o".
// A ModelName already containing "/" is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	switch c.Provider {
	case ProviderOllama:
		return ProviderOllama + "/" + c.ModelName
	case ProviderOpenAI:
		return ProviderOpenAI + "/" + c.ModelName
	default:
		return ProviderGoogleAI + "/" + c.ModelName
	}
}

// RouterModelName returns the provider-qualified router model name.
// The Groq endpoint is OpenAI-compatible, so its models register under the
// "openai" provider prefix.
func (c *Config) RouterModelName() string {
	if c.RouterProvider == RouterProviderChat {
		return c.FullModelName()
	}
	if strings.Contains(c.RouterModel, "/") {
		return c.RouterModel
	}
	return ProviderOpenAI + "/" + c.RouterModel
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
