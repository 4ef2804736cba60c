package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Store owns all live sessions. Every map operation runs under one mutex and
// never performs I/O, which serializes resolution per key.
type Store struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[Key]*Session
}

// NewStore creates a store. A nil clock uses time.Now.
func NewStore(ttl time.Duration, now func() time.Time) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Store{ttl: ttl, now: now, sessions: make(map[Key]*Session)}
}

// TTL returns the idle lifetime of a session.
func (s *Store) TTL() time.Duration { return s.ttl }

// GetOrCreate returns the live session for key, replacing a stale one with a
// fresh, empty session. The returned session is touched.
func (s *Store) GetOrCreate(key Key) *Session {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[key]; ok {
		if !sess.expired(now, s.ttl) {
			sess.touch(now)
			return sess
		}
		delete(s.sessions, key)
	}
	sess := newSession(key, now)
	s.sessions[key] = sess
	return sess
}

// Get returns the live session for key without creating or touching it.
func (s *Store) Get(key Key) (*Session, bool) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok || sess.expired(now, s.ttl) {
		return nil, false
	}
	return sess, true
}

// Touch marks the session for key as used now. It returns false when there is
// no live session.
func (s *Store) Touch(key Key) bool {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok || sess.expired(now, s.ttl) {
		return false
	}
	sess.touch(now)
	return true
}

// Reset removes the session for key.
func (s *Store) Reset(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[key]
	delete(s.sessions, key)
	return ok
}

// ResetUser removes every session of userID and returns how many were removed.
func (s *Store) ResetUser(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.sessions {
		if key.UserID == userID {
			delete(s.sessions, key)
			n++
		}
	}
	return n
}

// EvictExpired removes stale sessions and returns how many were removed.
func (s *Store) EvictExpired() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, sess := range s.sessions {
		if sess.expired(now, s.ttl) {
			delete(s.sessions, key)
			n++
		}
	}
	return n
}

// Len returns the number of stored sessions, stale ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Run sweeps expired sessions every interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictExpired(); n > 0 {
				slog.Info("SessionStore: evicted expired sessions", "count", n, "live", s.Len())
			}
		}
	}
}
