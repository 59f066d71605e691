package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/sathlab/medq/internal/corpus"
)

// DefaultTopK is how many passages one retrieval returns.
const DefaultTopK = 3

// Searcher is the part of the corpus store retrieval needs.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]corpus.Passage, error)
}

// Retriever maps a standalone question to the most similar corpus
// passages, best first.
type Retriever struct {
	store  Searcher
	topK   int
	logger *slog.Logger
}

// NewRetriever creates a Retriever over the given store. A non-positive
// topK falls back to DefaultTopK.
func NewRetriever(store Searcher, topK int, logger *slog.Logger) (*Retriever, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: store, topK: topK, logger: logger}, nil
}

// Retrieve returns up to topK passages for a standalone question, ordered
// by descending similarity. An empty corpus yields an empty slice.
func (r *Retriever) Retrieve(ctx context.Context, question string) ([]corpus.Passage, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}

	passages, err := r.store.Search(ctx, question, r.topK)
	if err != nil {
		return nil, fmt.Errorf("searching corpus: %w", err)
	}

	r.logger.Debug("retrieved passages", "count", len(passages), "k", r.topK)
	return passages, nil
}

// Define registers the retrieval as a Genkit retriever under the given
// name, so flows and dev tooling can query the corpus directly.
//
// Request options may carry {"k": n} with n in [1, 10] to override the
// configured passage count.
func (r *Retriever) Define(g *genkit.Genkit, name string) ai.Retriever {
	return genkit.DefineRetriever(
		g, name, nil,
		func(ctx context.Context, req *ai.RetrieverRequest) (*ai.RetrieverResponse, error) {
			query := extractQueryText(req)
			if strings.TrimSpace(query) == "" {
				return nil, fmt.Errorf("retriever %s: empty query", name)
			}

			passages, err := r.store.Search(ctx, query, extractTopK(req, r.topK))
			if err != nil {
				return nil, err
			}

			return &ai.RetrieverResponse{
				Documents: passageDocuments(passages),
			}, nil
		},
	)
}

// extractQueryText extracts text from RetrieverRequest.Query.
func extractQueryText(req *ai.RetrieverRequest) string {
	if req.Query != nil && len(req.Query.Content) > 0 {
		return req.Query.Content[0].Text
	}
	return ""
}

// extractTopK reads a k override from request options, returning defaultK
// when absent, malformed, or outside [1, 10].
func extractTopK(req *ai.RetrieverRequest, defaultK int) int {
	opts, ok := req.Options.(map[string]any)
	if !ok {
		return defaultK
	}
	raw, ok := opts["k"]
	if !ok {
		return defaultK
	}

	var k int
	switch v := raw.(type) {
	case int:
		k = v
	case int32:
		k = int(v)
	case int64:
		k = int(v)
	case float64:
		// JSON numbers decode as float64.
		k = int(v)
	default:
		return defaultK
	}

	if k < 1 || k > 10 {
		return defaultK
	}
	return k
}

// passageDocuments converts corpus passages to Genkit documents, carrying
// provenance and the similarity score in metadata.
func passageDocuments(passages []corpus.Passage) []*ai.Document {
	docs := make([]*ai.Document, len(passages))
	for i, p := range passages {
		metadata := make(map[string]any, len(p.Metadata)+5)
		for k, v := range p.Metadata {
			metadata[k] = v
		}
		metadata["id"] = p.ID
		metadata["source"] = p.Source
		metadata["source_type"] = p.SourceType
		metadata["chunk"] = p.Chunk
		metadata["similarity"] = p.Similarity

		docs[i] = ai.DocumentFromText(p.Content, metadata)
	}
	return docs
}
