package session

import (
	"fmt"
	"time"
)

// Role identifies the author of a transcript turn.
type Role string

// Valid turn roles. The transcript alternates between the two in practice,
// but the store does not enforce alternation.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single transcript entry: one utterance by one party.
// Turns are append-only and ordered oldest-first within a session.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate reports whether the turn can be persisted.
func (t Turn) Validate() error {
	switch t.Role {
	case RoleUser, RoleAssistant:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidTurn, t.Role)
	}
	if t.Content == "" {
		return fmt.Errorf("%w: empty content", ErrInvalidTurn)
	}
	return nil
}

// Exchange builds the user/assistant turn pair for one completed question.
// Both turns share a timestamp so the pair sorts as a unit.
func Exchange(question, answer string) []Turn {
	now := time.Now().UTC()
	return []Turn{
		{Role: RoleUser, Content: question, CreatedAt: now},
		{Role: RoleAssistant, Content: answer, CreatedAt: now},
	}
}

// Session is the listing metadata for one conversation.
// The transcript itself is loaded separately via [Store.History].
type Session struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	TurnCount    int       `json:"turnCount"`
}
