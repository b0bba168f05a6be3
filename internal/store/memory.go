package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps everything in process memory. It backs TASK_STORE=memory and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	tasks         map[string]Task
	notifications map[string]Notification
	users         map[string]User
	activity      []Activity
	audit         []AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:         make(map[string]Task),
		notifications: make(map[string]Notification),
		users:         make(map[string]User),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateTask(_ context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return ErrConflict
	}
	stored := task.Clone()
	stored.Version = 1
	s.tasks[task.ID] = stored
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return task.Clone(), nil
}

func (s *MemoryStore) ListTasks(_ context.Context, filter TaskFilter) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Task, 0)
	for _, task := range s.tasks {
		if filter.Matches(task) {
			items = append(items, task.Clone())
		}
	}
	sortNewestFirst(items)
	if limit := filter.EffectiveLimit(); len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// UpdateTask replaces the stored task if its version still matches task.Version.
func (s *MemoryStore) UpdateTask(_ context.Context, task Task) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tasks[task.ID]
	if !ok {
		return Task{}, ErrNotFound
	}
	if current.Version != task.Version {
		return Task{}, ErrConflict
	}
	if err := CheckAppendOnly(current.ChangeHistory, task.ChangeHistory); err != nil {
		return Task{}, err
	}
	stored := task.Clone()
	stored.Version = current.Version + 1
	s.tasks[task.ID] = stored
	return stored.Clone(), nil
}

// InsertNotification stores n unless (UserID, EventID) already exists.
func (s *MemoryStore) InsertNotification(_ context.Context, n Notification) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.notifications {
		if existing.UserID == n.UserID && existing.EventID == n.EventID {
			return false, nil
		}
	}
	s.notifications[n.ID] = n
	return true, nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, userID string, limit int) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Notification, 0)
	for _, n := range s.notifications {
		if n.UserID == userID {
			items = append(items, n)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MemoryStore) MarkNotificationRead(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return ErrNotFound
	}
	n.Read = true
	s.notifications[id] = n
	return nil
}

func (s *MemoryStore) MarkAllNotificationsRead(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := 0
	for id, n := range s.notifications {
		if n.UserID == userID && !n.Read {
			n.Read = true
			s.notifications[id] = n
			updated++
		}
	}
	return updated, nil
}

func (s *MemoryStore) UpsertUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.users[user.ID]; ok && user.Phone == "" {
		user.Phone = existing.Phone
	}
	user.UpdatedAt = nowUTC()
	s.users[user.ID] = user
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) ListUsersByRole(_ context.Context, role string) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]User, 0)
	for _, user := range s.users {
		if user.Role == role {
			items = append(items, user)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}
