// Package assistant implements the conversational corpus path of a
// query: reformulate the question against the session transcript,
// retrieve passages from the corpus, synthesize an answer, and persist
// the exchange. Each stage fails with its own sentinel so callers can
// map failures without parsing messages.
package assistant

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/sathlab/medq/internal/corpus"
	"github.com/sathlab/medq/internal/log"
	"github.com/sathlab/medq/internal/session"
)

// DefaultTimeout bounds a single model attempt.
const DefaultTimeout = 60 * time.Second

// DefaultMaxHistoryTurns bounds the transcript window fed to the model
// stages.
const DefaultMaxHistoryTurns = 20

// Retriever is the corpus search surface the assistant consumes.
type Retriever interface {
	Retrieve(ctx context.Context, question string) ([]corpus.Passage, error)
}

// reformulator and synthesizer are the two model stages. Tests swap one
// out while the rest of the pipeline runs for real.
type reformulator interface {
	Reformulate(ctx context.Context, history []session.Turn, question string) (string, error)
}

type synthesizer interface {
	Synthesize(ctx context.Context, history []session.Turn, question string, passages []corpus.Passage) (string, error)
}

// Config configures the conversational pipeline.
type Config struct {
	// Model is the generation model in provider/name form.
	Model string

	// Timeout bounds each model attempt. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Retry tunes the backoff loop. Zero means DefaultRetryConfig.
	Retry RetryConfig

	// Breaker tunes the circuit breaker. Zero fields fall back to
	// DefaultCircuitBreakerConfig.
	Breaker CircuitBreakerConfig

	// RateLimiter caps outbound model calls across both stages.
	// Nil means 10 calls/sec with a burst of 30.
	RateLimiter *rate.Limiter

	// MaxHistoryTurns caps how many trailing transcript turns the model
	// stages see. The stored transcript itself is never trimmed.
	// Zero means DefaultMaxHistoryTurns.
	MaxHistoryTurns int

	// Logger defaults to a no-op logger.
	Logger log.Logger
}

// ConversationalRetriever answers questions from the ingested corpus,
// using the session transcript as conversational context. Turns within
// one session are serialized; distinct sessions proceed in parallel.
type ConversationalRetriever struct {
	reform     reformulator
	synth      synthesizer
	retriever  Retriever
	sessions   session.Store
	locks      lockTable
	maxHistory int
	logger     log.Logger
}

// New wires the two model stages and the retriever into a pipeline.
// Both stages share one generator, so the circuit breaker and rate
// limiter see the provider's health as a whole.
func New(g *genkit.Genkit, sessions session.Store, retriever Retriever, cfg Config) (*ConversationalRetriever, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.RateLimiter == nil {
		cfg.RateLimiter = rate.NewLimiter(10, 30)
	}
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = DefaultMaxHistoryTurns
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	llm := &generator{
		g:       g,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		retry:   cfg.Retry,
		breaker: NewCircuitBreaker(cfg.Breaker),
		limiter: cfg.RateLimiter,
		logger:  cfg.Logger,
	}
	return &ConversationalRetriever{
		reform:     &Reformulator{llm: llm},
		synth:      &Synthesizer{llm: llm},
		retriever:  retriever,
		sessions:   sessions,
		maxHistory: cfg.MaxHistoryTurns,
		logger:     cfg.Logger,
	}, nil
}

// Answer runs one conversational turn: reformulate against the
// transcript, retrieve from the corpus, synthesize, then append the
// exchange. The transcript is written only after every stage succeeded;
// a failed turn leaves the session exactly as it was. The stored
// question is the user's original, not the standalone rewrite. Model
// stages see at most MaxHistoryTurns trailing turns of the transcript.
func (c *ConversationalRetriever) Answer(ctx context.Context, sessionID, question string) (string, error) {
	id, err := session.NormalizeID(sessionID)
	if err != nil {
		return "", err
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("%w: empty question", ErrReformulation)
	}

	// One turn at a time per session.
	mu := c.locks.of(id)
	mu.Lock()
	defer mu.Unlock()

	history, err := c.sessions.History(ctx, id)
	if err != nil {
		return "", fmt.Errorf("reading transcript: %w", err)
	}
	window := history
	if c.maxHistory > 0 && len(window) > c.maxHistory {
		window = window[len(window)-c.maxHistory:]
	}

	standalone, err := c.reform.Reformulate(ctx, window, question)
	if err != nil {
		return "", err
	}

	passages, err := c.retriever.Retrieve(ctx, standalone)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	answer, err := c.synth.Synthesize(ctx, window, question, passages)
	if err != nil {
		return "", err
	}

	if err := c.sessions.Append(ctx, id, session.Exchange(question, answer)...); err != nil {
		return "", fmt.Errorf("saving transcript: %w", err)
	}

	c.logger.Debug("answered from corpus",
		"session", id,
		"passages", len(passages),
		"history_turns", len(history),
	)
	return answer, nil
}

// lockTable hands out per-session mutexes from a fixed set of stripes.
// Two sessions hashing to the same stripe serialize with each other;
// turns of one session always serialize.
type lockTable struct {
	mus [256]sync.Mutex
}

func (l *lockTable) of(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &l.mus[h.Sum32()%uint32(len(l.mus))]
}
