package timeline

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a row does not exist for the caller.
var ErrNotFound = errors.New("not found")

// TimelineService is the local audit log and memory store.
type TimelineService struct {
	db  *sql.DB
	now func() time.Time
}

func NewTimelineService(dbPath string) (*TimelineService, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open timeline db: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &TimelineService{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *TimelineService) DB() *sql.DB { return s.db }

func (s *TimelineService) Close() error {
	return s.db.Close()
}

func newTaskID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return fmt.Sprintf("task-%d", time.Now().UnixNano())
}

// CreateTask inserts a new task. TaskID is generated if empty.
func (s *TimelineService) CreateTask(ctx context.Context, task *AgentTask) (*AgentTask, error) {
	if task.TaskID == "" {
		task.TaskID = newTaskID()
	}
	if task.Status == "" {
		task.Status = TaskStatusProcessing
	}
	now := s.now()
	task.CreatedAt, task.UpdatedAt = now, now

	// NULL keeps the UNIQUE constraint off empty keys.
	var idempKey any
	if task.IdempotencyKey != "" {
		idempKey = task.IdempotencyKey
	}
	result, err := s.db.ExecContext(ctx, `
	INSERT INTO tasks (task_id, idempotency_key, trace_id, channel, chat_id, sender_id, category, status, content_in, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskID, idempKey, task.TraceID, task.Channel, task.ChatID, task.SenderID,
		task.Category, task.Status, task.ContentIn, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	id, _ := result.LastInsertId()
	task.ID = id
	return task, nil
}

const taskColumns = `id, task_id, COALESCE(idempotency_key,''), COALESCE(trace_id,''),
	channel, chat_id, COALESCE(sender_id,''), category, status,
	COALESCE(content_in,''), COALESCE(content_out,''), COALESCE(error_text,''),
	created_at, updated_at, completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*AgentTask, error) {
	var t AgentTask
	var completedAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.TaskID, &t.IdempotencyKey, &t.TraceID,
		&t.Channel, &t.ChatID, &t.SenderID, &t.Category, &t.Status,
		&t.ContentIn, &t.ContentOut, &t.ErrorText,
		&t.CreatedAt, &t.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

// GetTask returns a task by its task ID.
func (s *TimelineService) GetTask(ctx context.Context, taskID string) (*AgentTask, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// GetTaskByIdempotencyKey returns the task for a redelivered message, or nil.
func (s *TimelineService) GetTaskByIdempotencyKey(ctx context.Context, key string) (*AgentTask, error) {
	if key == "" {
		return nil, nil
	}
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE idempotency_key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task by idempotency key: %w", err)
	}
	return t, nil
}

// UpdateTaskStatus records the outcome of a task.
func (s *TimelineService) UpdateTaskStatus(ctx context.Context, taskID, status, contentOut, errorText string) error {
	now := s.now()
	query := `UPDATE tasks SET status = ?, content_out = ?, error_text = ?, updated_at = ?`
	args := []any{status, contentOut, errorText, now}
	if status == TaskStatusCompleted || status == TaskStatusFailed {
		query += `, completed_at = ?`
		args = append(args, now)
	}
	query += ` WHERE task_id = ?`
	args = append(args, taskID)
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

// ListTasks returns tasks newest first, optionally filtered by status and channel.
func (s *TimelineService) ListTasks(ctx context.Context, status, channel string, limit, offset int) ([]AgentTask, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []any{}

	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	if channel != "" {
		query += " AND channel = ?"
		args = append(args, channel)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []AgentTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}
