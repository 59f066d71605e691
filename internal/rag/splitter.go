package rag

import (
	"strings"
	"unicode"
)

const (
	// DefaultChunkSize is the target chunk length in runes, sized so a
	// chunk comfortably fits the embedding model's context.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is how many runes consecutive chunks share,
	// preserving context across chunk boundaries.
	DefaultChunkOverlap = 200
)

// Splitter cuts document text into overlapping chunks. It prefers to cut
// at a blank line, then at a sentence end, then at any whitespace, and
// only cuts mid-word when no boundary exists in the second half of the
// chunk.
type Splitter struct {
	chunkSize int
	overlap   int
}

// NewSplitter creates a Splitter. A non-positive chunk size falls back to
// DefaultChunkSize; a negative or oversized overlap falls back to a fifth
// of the chunk size. An overlap of zero is honored.
func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = chunkSize / 5
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap}
}

// Split cuts text into chunks of at most the configured size, measured in
// runes so multibyte text never splits inside a character. Whitespace-only
// input yields nil.
func (s *Splitter) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= s.chunkSize {
		return []string{string(runes)}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + s.chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = s.breakPoint(runes, start, end)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}

		next := end - s.overlap
		if next <= start {
			// Forward progress even when the boundary search shrank the
			// chunk below the overlap.
			next = end
		}
		start = next
	}
	return chunks
}

// breakPoint finds a natural cut at or before end, never shrinking the
// chunk below half its target size. Only called when end < len(runes).
func (s *Splitter) breakPoint(runes []rune, start, end int) int {
	floor := start + s.chunkSize/2

	// Blank line: cut right after the paragraph break.
	for i := end; i > floor+1; i-- {
		if runes[i-1] == '\n' && runes[i-2] == '\n' {
			return i
		}
	}

	// Sentence end followed by whitespace.
	for i := end; i > floor; i-- {
		r := runes[i-1]
		if (r == '.' || r == '!' || r == '?') && unicode.IsSpace(runes[i]) {
			return i
		}
	}

	// Any whitespace.
	for i := end; i > floor; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}

	return end
}
