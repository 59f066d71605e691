package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/sathlab/medq/internal/log"
	"github.com/sathlab/medq/internal/session"
)

// RetryConfig tunes the backoff loop around each model call.
type RetryConfig struct {
	// MaxRetries is the number of extra attempts after the first.
	MaxRetries int
	// InitialInterval is the delay before the first retry. It doubles
	// after every failed attempt.
	InitialInterval time.Duration
	// MaxInterval caps the doubled delay.
	MaxInterval time.Duration
}

// DefaultRetryConfig returns the backoff used when the assistant config
// leaves it zero: 3 retries starting at 500ms, capped at 10s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryablePatterns groups error substrings by failure category, matched
// case-insensitively against err.Error(). String matching is the only
// option here: Genkit and the provider SDKs do not expose typed errors
// for transient failures.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},      // rate limiting
	{"500", "502", "503", "504", "unavailable"},  // transient server errors
	{"connection reset", "timeout", "temporary"}, // network errors
}

// retryableError reports whether err is transient and worth retrying.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, group := range retryablePatterns {
		for _, pattern := range group {
			if strings.Contains(msg, pattern) {
				return true
			}
		}
	}
	return false
}

// generator wraps genkit.Generate with the resilience stack shared by the
// reformulation and synthesis stages: a circuit breaker around each
// logical call, exponential-backoff retries inside it, and a rate limiter
// ahead of every attempt. Both stages talk to the same provider, so they
// share one generator and the breaker sees the provider's health as a
// whole.
type generator struct {
	g       *genkit.Genkit
	model   string
	timeout time.Duration
	retry   RetryConfig
	breaker *CircuitBreaker
	limiter waiter
	logger  log.Logger
}

// waiter is the rate-limiting surface the generator depends on,
// satisfied by *rate.Limiter.
type waiter interface {
	Wait(ctx context.Context) error
}

// generate runs one logical model call and returns the response text.
// The breaker is consulted once up front and records one outcome at the
// end; the retry loop lives entirely inside.
func (gn *generator) generate(ctx context.Context, opts ...ai.GenerateOption) (string, error) {
	if err := gn.breaker.Allow(); err != nil {
		return "", err
	}

	resp, err := gn.generateWithRetry(ctx, opts)
	if err != nil {
		gn.breaker.Failure()
		return "", err
	}
	gn.breaker.Success()
	return resp.Text(), nil
}

func (gn *generator) generateWithRetry(ctx context.Context, opts []ai.GenerateOption) (*ai.ModelResponse, error) {
	callOpts := make([]ai.GenerateOption, 0, len(opts)+1)
	callOpts = append(callOpts, ai.WithModelName(gn.model))
	callOpts = append(callOpts, opts...)

	var lastErr error
	delay := gn.retry.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= gn.retry.MaxRetries; attempt++ {
		// Each attempt pays the rate limiter, including retries.
		if gn.limiter != nil {
			if err := gn.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := gn.attempt(ctx, callOpts)
		if err == nil {
			gn.logger.Debug("model call succeeded",
				"model", gn.model,
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return resp, nil
		}
		lastErr = err

		if !retryableError(err) {
			return nil, fmt.Errorf("generate: %w", err)
		}
		if attempt == gn.retry.MaxRetries {
			break
		}

		gn.logger.Debug("retrying model call",
			"model", gn.model,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("canceled during retry backoff: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, gn.retry.MaxInterval)
		}
	}

	return nil, fmt.Errorf("generate after %d retries (elapsed %v): %w",
		gn.retry.MaxRetries, time.Since(start).Round(time.Millisecond), lastErr)
}

func (gn *generator) attempt(ctx context.Context, opts []ai.GenerateOption) (*ai.ModelResponse, error) {
	attemptCtx := ctx
	if gn.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, gn.timeout)
		defer cancel()
	}
	return genkit.Generate(attemptCtx, gn.g, opts...)
}

// historyMessages converts a stored transcript into model messages,
// oldest first.
func historyMessages(turns []session.Turn) []*ai.Message {
	msgs := make([]*ai.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case session.RoleAssistant:
			msgs = append(msgs, ai.NewModelMessage(ai.NewTextPart(t.Content)))
		default:
			msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(t.Content)))
		}
	}
	return msgs
}
