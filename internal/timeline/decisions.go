package timeline

import (
	"context"
	"fmt"
)

// LogPolicyDecision stores an authorization verdict.
func (s *TimelineService) LogPolicyDecision(ctx context.Context, rec *PolicyDecisionRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO policy_decisions (trace_id, channel, chat_id, sender, category, tier, allowed, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID, rec.Channel, rec.ChatID, rec.Sender, rec.Category, rec.Tier, rec.Allowed, rec.Reason, rec.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("log policy decision: %w", err)
	}
	return nil
}

// ListPolicyDecisions returns decisions newest first.
func (s *TimelineService) ListPolicyDecisions(ctx context.Context, f DecisionFilter) ([]PolicyDecisionRecord, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	query := `SELECT id, COALESCE(trace_id,''), COALESCE(channel,''), COALESCE(chat_id,''), COALESCE(sender,''),
		category, tier, allowed, reason, created_at
		FROM policy_decisions WHERE 1=1`
	var args []any
	if f.TraceID != "" {
		query += " AND trace_id = ?"
		args = append(args, f.TraceID)
	}
	if f.Sender != "" {
		query += " AND sender = ?"
		args = append(args, f.Sender)
	}
	if f.DeniedOnly {
		query += " AND allowed = 0"
	}
	if f.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, f.Since.UTC())
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list policy decisions: %w", err)
	}
	defer rows.Close()
	var out []PolicyDecisionRecord
	for rows.Next() {
		var r PolicyDecisionRecord
		if err := rows.Scan(&r.ID, &r.TraceID, &r.Channel, &r.ChatID, &r.Sender,
			&r.Category, &r.Tier, &r.Allowed, &r.Reason, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountDecisionsByReason summarizes verdicts, most frequent reason first.
func (s *TimelineService) CountDecisionsByReason(ctx context.Context) ([]ReasonCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT reason, COUNT(*) FROM policy_decisions GROUP BY reason ORDER BY COUNT(*) DESC, reason ASC`)
	if err != nil {
		return nil, fmt.Errorf("count policy decisions: %w", err)
	}
	defer rows.Close()
	var out []ReasonCount
	for rows.Next() {
		var rc ReasonCount
		if err := rows.Scan(&rc.Reason, &rc.Count); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}
