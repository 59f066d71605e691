package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// historyLoadLimit caps how many turns History loads for one session.
// Conversations long enough to hit it are truncated from the front.
const historyLoadLimit = 1000

// Postgres is a Store backed by PostgreSQL. All state lives in the
// database; the struct itself is stateless and safe for concurrent use.
//
// Append runs in a transaction that locks the session row with
// SELECT ... FOR UPDATE, so concurrent appends to the same session
// serialize and sequence numbers never collide.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres creates a PostgreSQL-backed store (logger nil = slog.Default()).
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, logger: logger}
}

// History returns the transcript oldest-first; unknown ids yield nil.
func (p *Postgres) History(ctx context.Context, sessionID string) ([]Turn, error) {
	id, err := NormalizeID(sessionID)
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx,
		`SELECT role, content, created_at
		   FROM messages
		  WHERE session_id = $1
		  ORDER BY seq
		  LIMIT $2`, id, historyLoadLimit)
	if err != nil {
		return nil, fmt.Errorf("load history for session %s: %w", id, err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load history for session %s: %w", id, err)
	}
	return turns, nil
}

// Append persists turns atomically, creating the session row on first write.
func (p *Postgres) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	id, err := validateAppend(sessionID, turns)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil {
			p.logger.Debug("transaction rollback (may be already committed)", "error", err)
		}
	}()

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`INSERT INTO sessions (id, created_at, last_active_at)
		 VALUES ($1, $2, $2)
		 ON CONFLICT (id) DO NOTHING`, id, now); err != nil {
		return fmt.Errorf("ensure session %s: %w", id, err)
	}

	// Lock the session row so concurrent appenders queue here and each
	// sees the true max sequence number.
	var locked string
	if err := tx.QueryRow(ctx,
		`SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
		return fmt.Errorf("lock session %s: %w", id, err)
	}

	var maxSeq int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_id = $1`, id).Scan(&maxSeq); err != nil {
		return fmt.Errorf("read max sequence for session %s: %w", id, err)
	}

	for i, t := range turns {
		createdAt := t.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO messages (session_id, seq, role, content, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			id, maxSeq+i+1, string(t.Role), t.Content, createdAt); err != nil {
			return fmt.Errorf("insert turn %d: %w", i, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET last_active_at = $2 WHERE id = $1`, id, now); err != nil {
		return fmt.Errorf("touch session %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	p.logger.Debug("appended turns", "session_id", id, "count", len(turns))
	return nil
}

// Sessions lists sessions most recently active first.
func (p *Postgres) Sessions(ctx context.Context, limit, offset int) ([]Session, error) {
	limit, offset = normalizePage(limit, offset)

	rows, err := p.pool.Query(ctx,
		`SELECT s.id, s.created_at, s.last_active_at, COUNT(m.id)
		   FROM sessions s
		   LEFT JOIN messages m ON m.session_id = s.id
		  GROUP BY s.id, s.created_at, s.last_active_at
		  ORDER BY s.last_active_at DESC
		  LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.CreatedAt, &s.LastActiveAt, &s.TurnCount); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Delete removes a session; messages cascade. Returns ErrNotFound for
// unknown ids.
func (p *Postgres) Delete(ctx context.Context, sessionID string) error {
	id, err := NormalizeID(sessionID)
	if err != nil {
		return err
	}

	tag, err := p.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	p.logger.Debug("deleted session", "session_id", id)
	return nil
}

// PruneIdle deletes every session idle for longer than idleFor and reports
// how many were removed. Serves the same purpose as the in-process TTL
// sweep for deployments on the PostgreSQL backend.
func (p *Postgres) PruneIdle(ctx context.Context, idleFor time.Duration) (int64, error) {
	if idleFor <= 0 {
		return 0, nil
	}

	cutoff := time.Now().UTC().Add(-idleFor)
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM sessions WHERE last_active_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune idle sessions: %w", err)
	}

	if n := tag.RowsAffected(); n > 0 {
		p.logger.Info("pruned idle sessions", "count", n, "idle_for", idleFor)
		return n, nil
	}
	return 0, nil
}
