package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"

	"github.com/sathlab/medq/internal/session"
)

// contextualizePrompt rewrites a follow-up into a question that stands on
// its own. The model must not answer here; answering happens in the
// synthesis stage against retrieved context.
const contextualizePrompt = `Given a chat history and the latest user question which might reference context in the chat history, formulate a standalone question which can be understood without the chat history. Do NOT answer the question, just reformulate it if needed and otherwise return it as is.`

// Reformulator turns follow-up questions into standalone ones so the
// retriever sees a self-contained query.
type Reformulator struct {
	llm *generator
}

// Reformulate returns a standalone version of question given the prior
// transcript. With an empty history the question is already standalone
// and is returned as is, without a model call.
func (r *Reformulator) Reformulate(ctx context.Context, history []session.Turn, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("%w: empty question", ErrReformulation)
	}
	if len(history) == 0 {
		return question, nil
	}

	msgs := historyMessages(history)
	msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(question)))

	text, err := r.llm.generate(ctx,
		ai.WithSystem(contextualizePrompt),
		ai.WithMessages(msgs...),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrReformulation, err)
	}

	standalone := strings.TrimSpace(text)
	if standalone == "" {
		return "", fmt.Errorf("%w: model returned an empty question", ErrReformulation)
	}
	if standalone != question {
		r.llm.logger.Debug("reformulated question",
			"question", question,
			"standalone", standalone,
		)
	}
	return standalone, nil
}
