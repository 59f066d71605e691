// Package orchestrator runs one question through the routing graph: a
// router node decides between the Wikipedia branch and the conversational
// corpus branch, exactly one branch executes, and its output is the
// answer. The traversal is a small explicit state machine, synchronous
// from start to end, with no cycles and no retries of its own.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/sathlab/medq/internal/log"
	"github.com/sathlab/medq/internal/route"
)

// Router classifies a question to a knowledge source.
type Router interface {
	Classify(ctx context.Context, question string) (route.Decision, error)
}

// WikiSearcher answers general-knowledge questions from Wikipedia.
type WikiSearcher interface {
	Search(ctx context.Context, question string) (string, error)
}

// CorpusAnswerer answers medical questions from the ingested corpus,
// conversationally within a session.
type CorpusAnswerer interface {
	Answer(ctx context.Context, sessionID, question string) (string, error)
}

// node is a state of the traversal.
type node int

const (
	nodeRoute node = iota
	nodeWiki
	nodeVectorstore
	nodeEnd
)

func (n node) String() string {
	switch n {
	case nodeRoute:
		return "route"
	case nodeWiki:
		return "wiki"
	case nodeVectorstore:
		return "vectorstore"
	case nodeEnd:
		return "end"
	default:
		return "unknown"
	}
}

// graphState is the per-invocation working record threaded through the
// traversal. It carries no transcript; history lives in the session
// store and is read by the corpus branch itself.
type graphState struct {
	sessionID string
	question  string
	route     route.Decision
	answer    string
}

// Result is one answered turn.
type Result struct {
	// Answer is the final answer text.
	Answer string
	// Route is the branch that produced it.
	Route route.Decision
}

// Orchestrator wires the router and the two answer branches together.
type Orchestrator struct {
	router Router
	wiki   WikiSearcher
	corpus CorpusAnswerer
	logger log.Logger
}

// New validates the wiring. Logger may be nil.
func New(router Router, wiki WikiSearcher, corpus CorpusAnswerer, logger log.Logger) (*Orchestrator, error) {
	if router == nil {
		return nil, fmt.Errorf("router is required")
	}
	if wiki == nil {
		return nil, fmt.Errorf("wiki searcher is required")
	}
	if corpus == nil {
		return nil, fmt.Errorf("corpus answerer is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Orchestrator{router: router, wiki: wiki, corpus: corpus, logger: logger}, nil
}

// Respond answers one question. The session id only matters on the
// vectorstore branch; the wiki branch never reads or writes sessions.
// Stage errors pass through unwrapped, so callers can errors.Is against
// route.ErrRouting, wiki.ErrSearch and the assistant sentinels.
func (o *Orchestrator) Respond(ctx context.Context, sessionID, question string) (Result, error) {
	state := &graphState{
		sessionID: sessionID,
		question:  strings.TrimSpace(question),
	}

	for current := nodeRoute; current != nodeEnd; {
		next, err := o.step(ctx, current, state)
		if err != nil {
			return Result{}, err
		}
		current = next
	}

	o.logger.Info("answered question",
		"route", state.route,
		"session", state.sessionID,
	)
	return Result{Answer: state.answer, Route: state.route}, nil
}

// step executes one node and returns the next. The route node is the
// only branch point; both answer nodes transition to end.
func (o *Orchestrator) step(ctx context.Context, current node, state *graphState) (node, error) {
	switch current {
	case nodeRoute:
		decision, err := o.router.Classify(ctx, state.question)
		if err != nil {
			return nodeEnd, err
		}
		state.route = decision
		o.logger.Debug("routed question", "route", decision)
		if decision == route.Wiki {
			return nodeWiki, nil
		}
		return nodeVectorstore, nil

	case nodeWiki:
		answer, err := o.wiki.Search(ctx, state.question)
		if err != nil {
			return nodeEnd, err
		}
		state.answer = answer
		return nodeEnd, nil

	case nodeVectorstore:
		answer, err := o.corpus.Answer(ctx, state.sessionID, state.question)
		if err != nil {
			return nodeEnd, err
		}
		state.answer = answer
		return nodeEnd, nil

	default:
		return nodeEnd, fmt.Errorf("orchestrator: no transition from node %s", current)
	}
}
