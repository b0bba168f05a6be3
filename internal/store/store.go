package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means the task changed since it was read.
	ErrConflict = errors.New("task version conflict")
	// ErrHistoryRewritten is returned when a write would mutate or drop existing change history.
	ErrHistoryRewritten = errors.New("change history is append-only")
)

// Store is the task store contract shared by the memory, Postgres and Mongo
// backends.
type Store interface {
	Ping(ctx context.Context) error
	CreateTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, id string) (Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error)
	// UpdateTask saves task if its Version still matches the stored one and
	// its change history only appends. The saved task carries the new Version.
	UpdateTask(ctx context.Context, task Task) (Task, error)
	InsertNotification(ctx context.Context, n Notification) (bool, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
	UpsertUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	ListUsersByRole(ctx context.Context, role string) ([]User, error)
	// InsertActivity stores a unless its EventID was already recorded.
	InsertActivity(ctx context.Context, a Activity) (bool, error)
	ListActivity(ctx context.Context, filter ActivityFilter) ([]Activity, error)
	InsertAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MongoStore)(nil)
)

const (
	defaultListLimit = 100
	MaxListLimit     = 500
	// MaxActivityLimit caps activity and audit pages.
	MaxActivityLimit = 200
)

func clampLimit(limit, fallback, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

// CheckAppendOnly verifies next extends prev without touching existing entries.
func CheckAppendOnly(prev, next []ChangeHistoryEntry) error {
	if len(next) < len(prev) {
		return fmt.Errorf("%w: %d entries dropped", ErrHistoryRewritten, len(prev)-len(next))
	}
	for i := range prev {
		if !sameEntry(prev[i], next[i]) {
			return fmt.Errorf("%w: entry %s modified", ErrHistoryRewritten, prev[i].ID)
		}
	}
	return nil
}

func sameEntry(a, b ChangeHistoryEntry) bool {
	return a.ID == b.ID &&
		a.Type == b.Type &&
		a.Field == b.Field &&
		a.OldValue == b.OldValue &&
		a.NewValue == b.NewValue &&
		a.Note == b.Note &&
		a.UserID == b.UserID &&
		a.UserName == b.UserName &&
		a.UserRole == b.UserRole &&
		a.CreatedAt.Equal(b.CreatedAt)
}

// Matches reports whether task satisfies every set field of the filter.
func (f TaskFilter) Matches(task Task) bool {
	if f.Status != "" && task.Status != f.Status {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, task.Status) {
		return false
	}
	if f.Category != "" && task.Category != f.Category {
		return false
	}
	if f.Urgency != "" && task.Urgency != f.Urgency {
		return false
	}
	if f.RequesterID != "" && task.RequesterID != f.RequesterID {
		return false
	}
	if f.AssignedToID != "" && task.AssignedToID != f.AssignedToID {
		return false
	}
	if f.AssignedOrOpen != "" && task.AssignedToID != "" && task.AssignedToID != f.AssignedOrOpen {
		return false
	}
	if len(f.IDs) > 0 && !contains(f.IDs, task.ID) {
		return false
	}
	if f.CreatedAfter != nil && !task.CreatedAt.After(*f.CreatedAfter) {
		return false
	}
	if f.DeadlineAfter != nil && (task.Deadline == nil || task.Deadline.Before(*f.DeadlineAfter)) {
		return false
	}
	if f.DeadlineBefore != nil && (task.Deadline == nil || task.Deadline.After(*f.DeadlineBefore)) {
		return false
	}
	if f.Unreminded && task.ReminderSent {
		return false
	}
	return true
}

// EffectiveLimit clamps the requested page size.
func (f TaskFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return defaultListLimit
	}
	if f.Limit > MaxListLimit {
		return MaxListLimit
	}
	return f.Limit
}

func sortNewestFirst(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}

func contains(values []string, value string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, value) {
			return true
		}
	}
	return false
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
