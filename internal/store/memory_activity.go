package store

import (
	"context"
	"sort"
)

func (s *MemoryStore) CountUnreadNotifications(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.notifications {
		if n.UserID == userID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) InsertActivity(_ context.Context, a Activity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.EventID != "" {
		for _, existing := range s.activity {
			if existing.EventID == a.EventID {
				return false, nil
			}
		}
	}
	s.activity = append(s.activity, a)
	return true, nil
}

func (s *MemoryStore) ListActivity(_ context.Context, filter ActivityFilter) ([]Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Activity, 0)
	for _, a := range s.activity {
		if filter.TaskID == "" || a.TaskID == filter.TaskID {
			items = append(items, a)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if limit := clampLimit(filter.Limit, 50, MaxActivityLimit); len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MemoryStore) InsertAudit(_ context.Context, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

func (s *MemoryStore) ListAudit(_ context.Context, limit int) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := append([]AuditEntry(nil), s.audit...)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
	if limit = clampLimit(limit, 50, MaxActivityLimit); len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}
