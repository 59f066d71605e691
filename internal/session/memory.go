package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// MemoryConfig bounds the in-process store. The zero value disables both
// expiry and the session cap.
type MemoryConfig struct {
	// TTL is the idle lifetime of a session. Sessions untouched for longer
	// are reclaimed by a background sweep. Zero disables expiry.
	TTL time.Duration

	// MaxSessions caps the number of live sessions. When a new session
	// would exceed the cap, the least recently used one is evicted.
	// Zero means unbounded.
	MaxSessions int

	// Logger for eviction and sweep events (nil = slog.Default()).
	Logger *slog.Logger
}

// Memory is an in-process Store. Transcripts live in a map guarded by one
// mutex; a janitor goroutine reclaims idle sessions when a TTL is set.
//
// Memory is safe for concurrent use. Call Stop when done to release the
// janitor; the store itself remains usable afterwards.
type Memory struct {
	cfg    MemoryConfig
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*memorySession
	now      func() time.Time // test hook, replaced under mu

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

type memorySession struct {
	createdAt    time.Time
	lastActiveAt time.Time
	turns        []Turn
}

// NewMemory creates an in-process store and, when cfg.TTL is set, starts
// the sweep goroutine.
func NewMemory(cfg MemoryConfig) *Memory {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Memory{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*memorySession),
		now:      time.Now,
		done:     make(chan struct{}),
	}

	if cfg.TTL > 0 {
		m.wg.Add(1)
		go m.janitor()
	}

	return m
}

// Stop terminates the sweep goroutine. Idempotent.
func (m *Memory) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
	m.wg.Wait()
}

// History returns a copy of the transcript; an unknown id yields nil.
// Reading counts as activity so an ongoing conversation cannot expire or
// be evicted between its read and its append.
func (m *Memory) History(ctx context.Context, sessionID string) ([]Turn, error) {
	id, err := NormalizeID(sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	s.lastActiveAt = m.now()

	turns := make([]Turn, len(s.turns))
	copy(turns, s.turns)
	return turns, nil
}

// Append adds turns to the transcript, creating the session on first write.
func (m *Memory) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	id, err := validateAppend(sessionID, turns)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	s, ok := m.sessions[id]
	if !ok {
		if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
			m.evictOldestLocked()
		}
		s = &memorySession{createdAt: now}
		m.sessions[id] = s
	}

	for _, t := range turns {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		s.turns = append(s.turns, t)
	}
	s.lastActiveAt = now
	return nil
}

// Sessions lists sessions most recently active first.
func (m *Memory) Sessions(ctx context.Context, limit, offset int) ([]Session, error) {
	limit, offset = normalizePage(limit, offset)

	m.mu.Lock()
	all := make([]Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, Session{
			ID:           id,
			CreatedAt:    s.createdAt,
			LastActiveAt: s.lastActiveAt,
			TurnCount:    len(s.turns),
		})
	}
	m.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		return all[i].LastActiveAt.After(all[j].LastActiveAt)
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Delete removes a session. Returns ErrNotFound for unknown ids.
func (m *Memory) Delete(ctx context.Context, sessionID string) error {
	id, err := NormalizeID(sessionID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)
	return nil
}

// janitor sweeps expired sessions at half the TTL interval.
func (m *Memory) janitor() {
	defer m.wg.Done()

	interval := m.cfg.TTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep drops every session idle for longer than the TTL.
func (m *Memory) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.cfg.TTL)
	for id, s := range m.sessions {
		if s.lastActiveAt.Before(cutoff) {
			delete(m.sessions, id)
			m.logger.Debug("expired idle session", "session_id", id)
		}
	}
}

// evictOldestLocked removes the least recently used session.
// Caller holds m.mu. Linear scan: the cap is small enough that a
// dedicated LRU list is not worth the bookkeeping.
func (m *Memory) evictOldestLocked() {
	var (
		oldestID string
		oldestAt time.Time
	)
	for id, s := range m.sessions {
		if oldestID == "" || s.lastActiveAt.Before(oldestAt) {
			oldestID, oldestAt = id, s.lastActiveAt
		}
	}
	if oldestID != "" {
		delete(m.sessions, oldestID)
		m.logger.Debug("evicted least recently used session", "session_id", oldestID)
	}
}
