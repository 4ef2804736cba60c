// Package session provides conversation session management.
//
// Sessions are keyed by (user, command category) and expire a fixed time
// after their last use. The Store is the only owner of sessions; callers get
// a *Session handle whose conversation state is guarded by its own lock.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frontiertower/towerbot/internal/command"
)

// DefaultTTL is how long an idle session stays live.
const DefaultTTL = 24 * time.Hour

const (
	maxMessages   = 200
	maxAppliedIDs = 256
)

// Key identifies a session.
type Key struct {
	UserID   string
	Category command.Category
}

func (k Key) String() string { return k.UserID + "_" + string(k.Category) }

// Message represents a chat message in a session.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// State is a snapshot of a session's conversation.
type State struct {
	SessionID string
	Messages  []Message
}

// Session represents a conversation session.
type Session struct {
	ID        string
	Key       Key
	CreatedAt time.Time

	mu          sync.Mutex
	lastTouched time.Time
	messages    []Message
	applied     map[string]struct{}
	appliedFIFO []string
}

func newSession(key Key, now time.Time) *Session {
	return &Session{
		ID:          uuid.NewString(),
		Key:         key,
		CreatedAt:   now,
		lastTouched: now,
		applied:     map[string]struct{}{},
	}
}

// LastTouchedAt returns the time of the last use.
func (s *Session) LastTouchedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTouched
}

// State returns a copy of the conversation.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]Message, len(s.messages))
	copy(msgs, s.messages)
	return State{SessionID: s.ID, Messages: msgs}
}

// Update replaces the conversation with st, keeping the newest messages.
func (s *Session) Update(st State) {
	msgs := st.Messages
	if len(msgs) > maxMessages {
		msgs = msgs[len(msgs)-maxMessages:]
	}
	cp := make([]Message, len(msgs))
	copy(cp, msgs)

	s.mu.Lock()
	s.messages = cp
	s.mu.Unlock()
}

// AddMessage appends one message.
func (s *Session) AddMessage(role, content string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, Message{Role: role, Content: content, Timestamp: at})
	if len(s.messages) > maxMessages {
		s.messages = s.messages[len(s.messages)-maxMessages:]
	}
}

// Len returns the number of stored messages.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Claim marks messageID as being applied to this session. It returns false if
// the message was already claimed, so a redelivered message is applied once.
// An empty messageID is always accepted.
func (s *Session) Claim(messageID string) bool {
	if messageID == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.applied[messageID]; dup {
		return false
	}
	s.applied[messageID] = struct{}{}
	s.appliedFIFO = append(s.appliedFIFO, messageID)
	if len(s.appliedFIFO) > maxAppliedIDs {
		delete(s.applied, s.appliedFIFO[0])
		s.appliedFIFO = s.appliedFIFO[1:]
	}
	return true
}

// Release forgets a claim after a failed attempt so a retry can proceed.
func (s *Session) Release(messageID string) {
	if messageID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.applied[messageID]; !ok {
		return
	}
	delete(s.applied, messageID)
	for i, id := range s.appliedFIFO {
		if id == messageID {
			s.appliedFIFO = append(s.appliedFIFO[:i], s.appliedFIFO[i+1:]...)
			break
		}
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastTouched = now
	s.mu.Unlock()
}

func (s *Session) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.LastTouchedAt()) >= ttl
}
