package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PostgresStore keeps each task as a JSONB document plus indexed columns.
// Change history is mirrored into an append-only table guarded by triggers.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateTask(ctx context.Context, task Task) error {
	task.Version = 1
	doc, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create task: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, doc, version, status, category, urgency, requester_id, assigned_to_id, deadline, reminder_sent, created_at, updated_at)
		VALUES ($1, $2, 1, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, task.ID, doc, task.Status, task.Category, task.Urgency, task.RequesterID, task.AssignedToID,
		nullableTime(task.Deadline), task.ReminderSent, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if err := insertHistory(ctx, tx, task.ID, 0, task.ChangeHistory); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (Task, error) {
	var (
		raw     []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT doc, version FROM tasks WHERE id=$1`, id).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return decodeTask(raw, version)
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	where, args := taskWhere(filter)
	query := `SELECT doc, version FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	args = append(args, filter.EffectiveLimit())
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		var (
			raw     []byte
			version int64
		)
		if err := rows.Scan(&raw, &version); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		task, err := decodeTask(raw, version)
		if err != nil {
			return nil, err
		}
		// JSONB columns cover the indexed filters; the rest is checked in memory.
		if filter.Matches(task) {
			items = append(items, task)
		}
	}
	return items, rows.Err()
}

func taskWhere(filter TaskFilter) ([]string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Status != "" {
		add(`status = $%d`, filter.Status)
	}
	if len(filter.Statuses) > 0 {
		add(`status = ANY($%d)`, filter.Statuses)
	}
	if filter.Category != "" {
		add(`category = $%d`, filter.Category)
	}
	if filter.Urgency != "" {
		add(`urgency = $%d`, filter.Urgency)
	}
	if filter.RequesterID != "" {
		add(`requester_id = $%d`, filter.RequesterID)
	}
	if filter.AssignedToID != "" {
		add(`assigned_to_id = $%d`, filter.AssignedToID)
	}
	if filter.AssignedOrOpen != "" {
		add(`(assigned_to_id = $%d OR assigned_to_id = '')`, filter.AssignedOrOpen)
	}
	if len(filter.IDs) > 0 {
		add(`id = ANY($%d)`, filter.IDs)
	}
	if filter.CreatedAfter != nil {
		add(`created_at > $%d`, *filter.CreatedAfter)
	}
	if filter.DeadlineAfter != nil {
		add(`deadline >= $%d`, *filter.DeadlineAfter)
	}
	if filter.DeadlineBefore != nil {
		add(`deadline <= $%d`, *filter.DeadlineBefore)
	}
	if filter.Unreminded {
		where = append(where, `reminder_sent = FALSE`)
	}
	return where, args
}

// UpdateTask writes task if its version still matches, appending any new history rows.
func (s *PostgresStore) UpdateTask(ctx context.Context, task Task) (Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Task{}, fmt.Errorf("begin update task: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		raw     []byte
		version int64
	)
	err = tx.QueryRowContext(ctx, `SELECT doc, version FROM tasks WHERE id=$1 FOR UPDATE`, task.ID).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("lock task: %w", err)
	}
	if version != task.Version {
		return Task{}, ErrConflict
	}
	current, err := decodeTask(raw, version)
	if err != nil {
		return Task{}, err
	}
	if err := CheckAppendOnly(current.ChangeHistory, task.ChangeHistory); err != nil {
		return Task{}, err
	}
	if err := insertHistory(ctx, tx, task.ID, len(current.ChangeHistory), task.ChangeHistory[len(current.ChangeHistory):]); err != nil {
		return Task{}, err
	}

	task.Version = version + 1
	doc, err := json.Marshal(task)
	if err != nil {
		return Task{}, fmt.Errorf("marshal task: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE tasks
		SET doc=$2, version=$3, status=$4, category=$5, urgency=$6, requester_id=$7,
			assigned_to_id=$8, deadline=$9, reminder_sent=$10, updated_at=$11
		WHERE id=$1
	`, task.ID, doc, task.Version, task.Status, task.Category, task.Urgency, task.RequesterID,
		task.AssignedToID, nullableTime(task.Deadline), task.ReminderSent, task.UpdatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Task{}, fmt.Errorf("commit update task: %w", err)
	}
	return task, nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, taskID string, offset int, entries []ChangeHistoryEntry) error {
	for i, entry := range entries {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO change_history (id, task_id, seq, type, field, old_value, new_value, note, user_id, user_name, user_role, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, entry.ID, taskID, offset+i, entry.Type, entry.Field, entry.OldValue, entry.NewValue, entry.Note,
			entry.UserID, entry.UserName, entry.UserRole, entry.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert change history: %w", err)
		}
	}
	return nil
}

func decodeTask(raw []byte, version int64) (Task, error) {
	var task Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	task.Version = version
	return task.Clone(), nil
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}

func (s *PostgresStore) InsertNotification(ctx context.Context, n Notification) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, event_id, type, title, message, task_id, link, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, event_id) DO NOTHING
	`, n.ID, n.UserID, n.EventID, n.Type, n.Title, n.Message, n.TaskID, n.Link, n.Read, n.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert notification rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, event_id, type, title, message, task_id, link, read, created_at
		FROM notifications
		WHERE user_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.EventID, &n.Type, &n.Title, &n.Message, &n.TaskID, &n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE notifications SET read=TRUE WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark notification read rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `UPDATE notifications SET read=TRUE WHERE user_id=$1 AND read=FALSE`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all notifications rows: %w", err)
	}
	return int(affected), nil
}

func (s *PostgresStore) UpsertUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, phone, role, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE
		SET name=EXCLUDED.name,
			email=EXCLUDED.email,
			role=EXCLUDED.role,
			phone=COALESCE(NULLIF(EXCLUDED.phone, ''), users.phone),
			updated_at=NOW()
	`, user.ID, user.Name, user.Email, user.Phone, user.Role)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, phone, role, updated_at FROM users WHERE id=$1
	`, id).Scan(&user.ID, &user.Name, &user.Email, &user.Phone, &user.Role, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) ListUsersByRole(ctx context.Context, role string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, phone, role, updated_at FROM users WHERE role=$1 ORDER BY id
	`, role)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.Phone, &user.Role, &user.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	return items, rows.Err()
}
