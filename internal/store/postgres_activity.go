package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id=$1 AND read=FALSE`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertActivity(ctx context.Context, a Activity) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO task_activity (id, event_id, task_id, task_title, action, user_id, user_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`, a.ID, a.EventID, a.TaskID, a.TaskTitle, a.Action, a.UserID, a.UserName, a.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert activity: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert activity rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListActivity(ctx context.Context, filter ActivityFilter) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, task_id, task_title, action, user_id, user_name, created_at
		FROM task_activity
		WHERE ($1 = '' OR task_id = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, filter.TaskID, clampLimit(filter.Limit, 50, MaxActivityLimit))
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	items := make([]Activity, 0)
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.EventID, &a.TaskID, &a.TaskTitle, &a.Action, &a.UserID, &a.UserName, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (s *PostgresStore) InsertAudit(ctx context.Context, e AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, request_id, actor_user_id, actor_role, action, target_id, method, path, status, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, e.ID, e.RequestID, e.ActorUserID, e.ActorRole, e.Action, e.TargetID, e.Method, e.Path, e.Status, e.IPAddress, e.UserAgent, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, actor_user_id, actor_role, action, target_id, method, path, status, ip_address, user_agent, created_at
		FROM audit_log
		ORDER BY created_at DESC
		LIMIT $1
	`, clampLimit(limit, 50, MaxActivityLimit))
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	defer rows.Close()

	items := make([]AuditEntry, 0)
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.ActorUserID, &e.ActorRole, &e.Action, &e.TargetID, &e.Method, &e.Path, &e.Status, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		items = append(items, e)
	}
	return items, rows.Err()
}
