// Package corpus stores the reference documents that ground retrieval
// answers. Documents live in PostgreSQL with a pgvector embedding per
// chunk; similarity search is cosine distance over an HNSW index.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const (
	// VectorDimension must match the documents.embedding column type.
	// all-minilm emits 384 dimensions natively; larger embedders are
	// clamped to it through EmbedOptions at setup time.
	VectorDimension int32 = 384

	// EmbedTimeout bounds a single embedding call.
	EmbedTimeout = 15 * time.Second

	// MaxContentLength caps one document chunk. The splitter produces
	// far smaller chunks; this guards direct Upsert callers.
	MaxContentLength = 8192
)

// Source type tags for indexed documents.
const (
	// SourceTypeFile marks content ingested from local files.
	SourceTypeFile = "file"

	// SourceTypeSeed marks the built-in reference documents.
	SourceTypeSeed = "seed"
)

// Document is one indexed chunk of source material.
type Document struct {
	ID         string            // stable chunk id, unique per source+offset
	Source     string            // origin path or ingest label
	SourceType string            // SourceTypeFile when empty
	Chunk      int               // zero-based chunk index within the source
	Content    string
	Metadata   map[string]string // display tags: file name, indexed_at, ...
}

// Passage is a search hit: a document plus its cosine similarity to the
// query, in [0, 1] for normalized embeddings.
type Passage struct {
	Document
	Similarity float64
}

// Store manages the document corpus backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool     *pgxpool.Pool
	embedder ai.Embedder
	// embedOptions rides along on every embed request; the provider
	// setup uses it to pin the output dimensionality when the embedder
	// natively emits more than VectorDimension.
	embedOptions any
	logger       *slog.Logger
}

// NewStore creates a corpus Store. embedOptions may be nil for embedders
// whose native dimensionality already matches VectorDimension.
func NewStore(pool *pgxpool.Pool, embedder ai.Embedder, embedOptions any, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, embedder: embedder, embedOptions: embedOptions, logger: logger}, nil
}

// embed generates the vector embedding for one text.
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	resp, err := s.embedder.Embed(embedCtx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: s.embedOptions,
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, fmt.Errorf("empty embedding response")
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}

// validateDocument checks required fields before indexing.
func validateDocument(d Document) error {
	if d.ID == "" {
		return fmt.Errorf("document id is required")
	}
	if d.Content == "" {
		return fmt.Errorf("document %s: content is required", d.ID)
	}
	if len(d.Content) > MaxContentLength {
		return fmt.Errorf("document %s: content length %d exceeds maximum %d", d.ID, len(d.Content), MaxContentLength)
	}
	return nil
}

// Upsert indexes documents, replacing any existing rows with the same id.
// Embeddings are computed before the transaction opens so no connection is
// held across model calls; the inserts themselves are atomic.
func (s *Store) Upsert(ctx context.Context, docs ...Document) error {
	if len(docs) == 0 {
		return nil
	}

	vecs := make([]pgvector.Vector, len(docs))
	for i, d := range docs {
		if err := validateDocument(d); err != nil {
			return err
		}
		vec, err := s.embed(ctx, d.Content)
		if err != nil {
			return fmt.Errorf("document %s: %w", d.ID, err)
		}
		vecs[i] = vec
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	for i, d := range docs {
		sourceType := d.SourceType
		if sourceType == "" {
			sourceType = SourceTypeFile
		}
		meta := d.Metadata
		if meta == nil {
			meta = map[string]string{}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO documents (id, source, source_type, chunk, content, metadata, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO UPDATE
			    SET source = EXCLUDED.source,
			        source_type = EXCLUDED.source_type,
			        chunk = EXCLUDED.chunk,
			        content = EXCLUDED.content,
			        metadata = EXCLUDED.metadata,
			        embedding = EXCLUDED.embedding,
			        updated_at = now()`,
			d.ID, d.Source, sourceType, d.Chunk, d.Content, meta, vecs[i]); err != nil {
			return fmt.Errorf("upserting document %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing corpus transaction: %w", err)
	}

	s.logger.Debug("indexed documents", "count", len(docs))
	return nil
}

// Search returns the k most similar documents to the query, best first.
// An empty corpus yields an empty result, not an error.
func (s *Store) Search(ctx context.Context, query string, k int) ([]Passage, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, source, source_type, chunk, content, metadata,
		        1 - (embedding <=> $1) AS similarity
		   FROM documents
		  ORDER BY embedding <=> $1
		  LIMIT $2`, vec, k)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var passages []Passage
	for rows.Next() {
		var p Passage
		if err := rows.Scan(&p.ID, &p.Source, &p.SourceType, &p.Chunk, &p.Content, &p.Metadata, &p.Similarity); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		passages = append(passages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	return passages, nil
}

// DeleteSource removes every document ingested from one source and
// reports how many rows went away. Used for re-ingestion.
func (s *Store) DeleteSource(ctx context.Context, source string) (int64, error) {
	if source == "" {
		return 0, fmt.Errorf("source is required")
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE source = $1`, source)
	if err != nil {
		return 0, fmt.Errorf("deleting documents for source %s: %w", source, err)
	}

	if n := tag.RowsAffected(); n > 0 {
		s.logger.Debug("deleted documents", "source", source, "count", n)
		return n, nil
	}
	return 0, nil
}

// Count reports the number of indexed documents. The ingest command
// prints it after an import.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}
