package assistant

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"

	"github.com/sathlab/medq/internal/corpus"
	"github.com/sathlab/medq/internal/session"
)

// answerPrompt sets the answering persona and grounds it in retrieved
// context. The closing instruction keeps the model from inventing
// answers when the context does not cover the question.
const answerPrompt = `You are a medical professional. Use the following pieces of retrieved context to answer the question. It should consist of paragraph and conversational aspect rather than just a summary. If you don't know the answer, just say that you don't know.`

// Synthesizer produces the final answer from the retrieved passages and
// the conversation so far.
type Synthesizer struct {
	llm *generator
}

// Synthesize answers question using passages as grounding context. An
// empty passage list is not an error; the model is still consulted and
// the prompt steers it toward admitting it does not know.
func (s *Synthesizer) Synthesize(ctx context.Context, history []session.Turn, question string, passages []corpus.Passage) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", fmt.Errorf("%w: empty question", ErrSynthesis)
	}

	system := answerPrompt
	if block := contextBlock(passages); block != "" {
		system += "\n\n" + block
	}

	msgs := historyMessages(history)
	msgs = append(msgs, ai.NewUserMessage(ai.NewTextPart(question)))

	text, err := s.llm.generate(ctx,
		ai.WithSystem(system),
		ai.WithMessages(msgs...),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSynthesis, err)
	}

	answer := strings.TrimSpace(text)
	if answer == "" {
		return "", fmt.Errorf("%w: model returned an empty answer", ErrSynthesis)
	}
	return answer, nil
}

// contextBlock joins passage contents into the prompt's context section,
// blank-line separated, in retrieval order.
func contextBlock(passages []corpus.Passage) string {
	parts := make([]string, 0, len(passages))
	for _, p := range passages {
		if content := strings.TrimSpace(p.Content); content != "" {
			parts = append(parts, content)
		}
	}
	return strings.Join(parts, "\n\n")
}
