package timeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AddMemory stores a memory for userID and returns its ID.
func (s *TimelineService) AddMemory(ctx context.Context, userID, content string) (string, error) {
	id := uuid.NewString()
	now := s.now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO memories (id, user_id, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, userID, content, now, now)
	if err != nil {
		return "", fmt.Errorf("add memory: %w", err)
	}
	return id, nil
}

// UpdateMemory replaces the content of one of userID's memories.
func (s *TimelineService) UpdateMemory(ctx context.Context, userID, id, content string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE memories SET content = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		content, s.now(), id, userID)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteMemory removes one of userID's memories.
func (s *TimelineService) DeleteMemory(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory %s: %w", id, ErrNotFound)
	}
	return nil
}

// SearchMemories returns userID's memories containing any word of query,
// most recently updated first. An empty query lists the latest memories.
func (s *TimelineService) SearchMemories(ctx context.Context, userID, query string, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	q := `SELECT id, user_id, content, created_at, updated_at FROM memories WHERE user_id = ?`
	args := []any{userID}

	var likes []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) < 3 {
			continue
		}
		likes = append(likes, "LOWER(content) LIKE ?")
		args = append(args, "%"+w+"%")
	}
	if len(likes) > 0 {
		q += " AND (" + strings.Join(likes, " OR ") + ")"
	}
	q += " ORDER BY updated_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()
	var out []MemoryRecord
	for rows.Next() {
		var m MemoryRecord
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
