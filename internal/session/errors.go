package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MaxIDLength is the maximum length of a session id.
const MaxIDLength = 128

// Sentinel errors for session operations, checked with errors.Is.
var (
	// ErrNotFound indicates the requested session does not exist.
	// History deliberately does not return it: an unknown id reads as an
	// empty transcript, and the session materializes on first Append.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidID indicates a session id that fails NormalizeID.
	ErrInvalidID = errors.New("invalid session id")

	// ErrInvalidTurn indicates a turn with an unknown role or empty content.
	ErrInvalidTurn = errors.New("invalid turn")
)

// NewID mints a fresh session id. The result always passes NormalizeID.
func NewID() string {
	return uuid.NewString()
}

// NormalizeID validates a caller-supplied session id and returns it trimmed.
//
// Ids are opaque to the store but must be storable and safe to echo in logs
// and file paths: 1..MaxIDLength characters, starting with a letter or
// digit, containing only letters, digits, '-', '_' and '.'.
func NormalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > MaxIDLength {
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidID, MaxIDLength)
	}

	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case i > 0 && (c == '-' || c == '_' || c == '.'):
		default:
			return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}

	return id, nil
}
