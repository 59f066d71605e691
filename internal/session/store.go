package session

import (
	"context"
	"fmt"
)

// Store is the transcript persistence contract shared by all backends.
//
// History returns the transcript oldest-first. An unknown session id yields
// an empty transcript, never an error; the session is created lazily by the
// first Append. Append is atomic: either every turn is persisted in order or
// none is.
type Store interface {
	// History returns every turn of the session, oldest first.
	History(ctx context.Context, sessionID string) ([]Turn, error)

	// Append adds turns to the end of the transcript, creating the
	// session if it does not exist yet. Appending zero turns is a no-op.
	Append(ctx context.Context, sessionID string, turns ...Turn) error

	// Sessions lists known sessions, most recently active first.
	Sessions(ctx context.Context, limit, offset int) ([]Session, error)

	// Delete removes a session and its transcript.
	// Returns ErrNotFound when the session does not exist.
	Delete(ctx context.Context, sessionID string) error
}

// validateAppend normalizes the session id and validates every turn.
// Shared by all Store implementations so they reject identical inputs.
func validateAppend(sessionID string, turns []Turn) (string, error) {
	id, err := NormalizeID(sessionID)
	if err != nil {
		return "", err
	}
	for i, t := range turns {
		if err := t.Validate(); err != nil {
			return "", fmt.Errorf("turn %d: %w", i, err)
		}
	}
	return id, nil
}

// normalizePage clamps list pagination to sane bounds.
func normalizePage(limit, offset int) (int, int) {
	const defaultLimit, maxLimit = 50, 500
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
