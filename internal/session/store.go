package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"squarecrop/internal/pipeline"

	"github.com/google/uuid"
)

// Session is one user's crop workspace. Images live only in its runner.
type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time
	Runner    *pipeline.Runner

	lastSeen time.Time
}

// Factory builds the runner for a new session.
type Factory func(id uuid.UUID) *pipeline.Runner

type Store struct {
	ttl     time.Duration
	factory Factory
	now     func() time.Time

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

func NewStore(ttl time.Duration, factory Factory) *Store {
	return &Store{
		ttl:      ttl,
		factory:  factory,
		now:      time.Now,
		sessions: make(map[uuid.UUID]*Session),
	}
}

func (s *Store) Create() *Session {
	id := uuid.New()
	now := s.now()
	sess := &Session{ID: id, CreatedAt: now, Runner: s.factory(id), lastSeen: now}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	return sess
}

// Get returns the session and refreshes its idle timer.
func (s *Store) Get(id uuid.UUID) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	sess.lastSeen = s.now()
	return sess, true
}

// Delete removes the session and cancels its work.
func (s *Store) Delete(id uuid.UUID) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		sess.Runner.Close()
	}
	return ok
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep closes sessions idle for longer than the TTL and returns how many
// were removed.
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)

	var expired []*Session
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range expired {
		sess.Runner.Close()
	}
	return len(expired)
}

// Janitor sweeps every interval until ctx is done, then closes all sessions.
func (s *Store) Janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				slog.Info("expired sessions", "count", n)
			}
		}
	}
}

func (s *Store) closeAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[uuid.UUID]*Session)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Runner.Close()
	}
}
