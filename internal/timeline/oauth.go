package timeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateOAuthState records a login state token for userID valid for ttl and
// drops expired ones.
func (s *TimelineService) CreateOAuthState(ctx context.Context, userID string, ttl time.Duration) (string, time.Time, error) {
	state := newTaskID()
	now := s.now()
	expires := now.Add(ttl)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM oauth_states WHERE expires_at <= ?`, now); err != nil {
		return "", time.Time{}, fmt.Errorf("purge oauth states: %w", err)
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO oauth_states (state, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		state, userID, now, expires)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("create oauth state: %w", err)
	}
	return state, expires, nil
}

// OAuthStateUser returns the user a state token was issued to. Expired and
// unknown tokens yield ErrNotFound.
func (s *TimelineService) OAuthStateUser(ctx context.Context, state string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM oauth_states WHERE state = ? AND expires_at > ?`,
		state, s.now()).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("oauth state: %w", err)
	}
	return userID, nil
}
