package assistant

import "errors"

// Stage sentinels for the vectorstore path, matched with errors.Is. Each
// turn fails with exactly one of these, so callers can tell which stage
// broke without parsing messages. The underlying cause stays on the chain.
var (
	// ErrReformulation indicates the standalone-question rewrite failed.
	ErrReformulation = errors.New("reformulation failed")

	// ErrRetrieval indicates the corpus query failed. An empty result set
	// is not a retrieval error.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrSynthesis indicates answer generation failed. The transcript is
	// left untouched.
	ErrSynthesis = errors.New("synthesis failed")
)
