// Package rag implements retrieval over the medical document corpus.
//
// The package has two halves: the answering-path retriever, which maps a
// standalone question to the most similar corpus passages, and the
// out-of-band ingestion pipeline, which turns local files into embedded
// chunks.
//
// # Retrieval
//
//	standalone question
//	     |
//	     v
//	Retriever.Retrieve
//	     |
//	     +-- corpus search (embed query, cosine distance over HNSW)
//	     |
//	     v
//	<= K passages, best first
//
// An empty result is a valid outcome, not an error: the caller's prompt
// handles the no-context case.
//
// Define registers the same retrieval as a Genkit ai.Retriever so dev
// tooling and flows can query the corpus directly.
//
// # Ingestion
//
//	medq ingest <path>
//	     |
//	     +-- walk directory (.txt, .md)
//	     +-- Splitter: ~1000-char chunks, 200 overlap, boundary-aware
//	     +-- stable chunk ids (sha256 of source path + index)
//	     |
//	     v
//	corpus upsert (per-source replace)
//
// Re-ingesting a file first deletes its previous chunks, so a shrunken
// source never leaves stale passages behind. An advisory file lock
// (github.com/gofrs/flock) keeps concurrent ingest runs from interleaving.
package rag
