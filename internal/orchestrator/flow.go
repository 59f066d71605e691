package orchestrator

import (
	"context"
	"strings"

	"github.com/firebase/genkit/go/core"
	"github.com/firebase/genkit/go/genkit"

	"github.com/sathlab/medq/internal/session"
)

// FlowName is the registered name of the query flow in Genkit.
const FlowName = "medq/query"

// Input is the request payload of the query flow.
type Input struct {
	// SessionID scopes the conversation. Blank mints a fresh session.
	SessionID string `json:"sessionId,omitempty"`
	Question  string `json:"question"`
}

// Output is the response payload of the query flow.
type Output struct {
	SessionID string `json:"sessionId"`
	Route     string `json:"route"`
	Answer    string `json:"answer"`
}

// Flow is the query flow's concrete Genkit type.
type Flow = core.Flow[Input, Output, struct{}]

// DefineFlow registers the query flow so the full routed turn shows up
// in Genkit tracing and the dev UI. Register it once per Genkit
// instance; a second registration on the same instance panics inside
// Genkit.
func (o *Orchestrator) DefineFlow(g *genkit.Genkit) *Flow {
	return genkit.DefineFlow(g, FlowName,
		func(ctx context.Context, input Input) (Output, error) {
			sessionID := strings.TrimSpace(input.SessionID)
			if sessionID == "" {
				sessionID = session.NewID()
			}

			res, err := o.Respond(ctx, sessionID, input.Question)
			if err != nil {
				return Output{}, err
			}
			return Output{
				SessionID: sessionID,
				Route:     string(res.Route),
				Answer:    res.Answer,
			}, nil
		},
	)
}
