package timeline

import (
	"time"
)

// AgentTask is one routed request: an authorized message handed to an agent.
type AgentTask struct {
	ID             int64      `json:"id"`
	TaskID         string     `json:"task_id"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"` // channel:message_id
	TraceID        string     `json:"trace_id,omitempty"`
	Channel        string     `json:"channel"`
	ChatID         string     `json:"chat_id"`
	SenderID       string     `json:"sender_id,omitempty"`
	Category       string     `json:"category"`
	Status         string     `json:"status"`
	ContentIn      string     `json:"content_in,omitempty"`
	ContentOut     string     `json:"content_out,omitempty"`
	ErrorText      string     `json:"error_text,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Task status constants.
const (
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

// PolicyDecisionRecord is one authorization verdict.
type PolicyDecisionRecord struct {
	ID        int64     `json:"id"`
	TraceID   string    `json:"trace_id,omitempty"`
	Channel   string    `json:"channel,omitempty"`
	ChatID    string    `json:"chat_id,omitempty"`
	Sender    string    `json:"sender,omitempty"`
	Category  string    `json:"category"`
	Tier      int       `json:"tier"`
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// DecisionFilter narrows ListPolicyDecisions.
type DecisionFilter struct {
	TraceID    string
	Sender     string
	DeniedOnly bool
	Since      *time.Time
	Limit      int
}

// ReasonCount is the number of decisions with a given reason.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// MemoryRecord is a long-term memory owned by one user.
type MemoryRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const Schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT UNIQUE NOT NULL,
	idempotency_key TEXT UNIQUE,
	trace_id TEXT,
	channel TEXT NOT NULL,
	chat_id TEXT NOT NULL,
	sender_id TEXT,
	category TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'processing',
	content_in TEXT,
	content_out TEXT,
	error_text TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_trace ON tasks(trace_id);

CREATE TABLE IF NOT EXISTS policy_decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id TEXT,
	channel TEXT,
	chat_id TEXT,
	sender TEXT,
	category TEXT NOT NULL,
	tier INTEGER NOT NULL,
	allowed BOOLEAN NOT NULL,
	reason TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_policy_trace ON policy_decisions(trace_id);
CREATE INDEX IF NOT EXISTS idx_policy_created ON policy_decisions(created_at);

CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id, updated_at);

CREATE TABLE IF NOT EXISTS oauth_states (
	state TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_oauth_states_expires ON oauth_states(expires_at);
`
