// Package route decides which knowledge source answers a question.
//
// A single structured-output model call classifies the raw question into
// one of two destinations: the private medical corpus or Wikipedia. The
// model's answer is validated in code; anything but the two known labels
// is ErrRouting, never a guessed route.
package route

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/sathlab/medq/internal/log"
)

// ErrRouting indicates classification failed: the model call errored,
// returned no parseable decision, or returned an unknown label.
var ErrRouting = errors.New("routing failed")

// Decision is the knowledge source chosen for one question.
type Decision string

// The two routes. There is no third option and no default.
const (
	Vectorstore Decision = "vectorstore"
	Wiki        Decision = "wiki_search"
)

// Valid reports whether d is one of the two known routes.
func (d Decision) Valid() bool {
	return d == Vectorstore || d == Wiki
}

// DefaultTimeout bounds one classification call.
const DefaultTimeout = 30 * time.Second

// systemPrompt fixes the classification criteria. The corpus side is
// deliberately narrow: only symptom/diagnosis material lives there.
const systemPrompt = `You are an expert at routing a user question to a vectorstore or wikipedia.
The vectorstore contains documents related to medical symptoms and diagnosis.
Use the vectorstore for questions on these topics. Otherwise, use wiki-search.`

// routeQuery is the structured output the router model must produce.
type routeQuery struct {
	// Datasource is "vectorstore" or "wiki_search".
	Datasource string `json:"datasource"`
}

// Config configures a Router.
type Config struct {
	// Model is the Genkit model name, e.g. "groq/gemma2-9b-it". The model
	// must support structured output.
	Model string
	// Timeout bounds the classification call; DefaultTimeout when zero.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Router classifies questions with one structured-output model call.
// Safe for concurrent use.
type Router struct {
	g       *genkit.Genkit
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Router bound to a Genkit instance and model.
func New(g *genkit.Genkit, cfg Config) (*Router, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	return &Router{g: g, model: cfg.Model, timeout: timeout, logger: logger}, nil
}

// Classify routes a raw question. The model gets exactly one attempt and
// there is no fallback route.
func (r *Router) Classify(ctx context.Context, question string) (Decision, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("%w: empty question", ErrRouting)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	response, err := genkit.Generate(ctx, r.g,
		ai.WithModelName(r.model),
		ai.WithSystem(systemPrompt),
		ai.WithMessages(ai.NewUserMessage(ai.NewTextPart(question))),
		ai.WithOutputType(routeQuery{}),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRouting, err)
	}

	var out routeQuery
	if err := response.Output(&out); err != nil {
		return "", fmt.Errorf("%w: parsing decision: %v", ErrRouting, err)
	}

	decision := Decision(strings.TrimSpace(out.Datasource))
	if !decision.Valid() {
		return "", fmt.Errorf("%w: model returned %q, want %q or %q",
			ErrRouting, out.Datasource, Vectorstore, Wiki)
	}

	r.logger.Debug("classified question", "route", decision)
	return decision, nil
}
