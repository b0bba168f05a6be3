package search

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"designdesk/api/internal/events"
	"designdesk/api/internal/store"
)

type taskIndex interface {
	Searcher
	IndexTasks(records []TaskRecord) error
}

type taskLister interface {
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]store.Task, error)
}

// Service is the facade that tries Meilisearch first and falls back to the
// secondary searcher. Both may be nil.
type Service struct {
	index    taskIndex
	fallback Searcher
	log      logrus.FieldLogger

	mu      sync.Mutex
	indexed map[string]int64
}

// NewService creates a search service. index and fallback may be nil.
func NewService(index *Meili, fallback Searcher, log logrus.FieldLogger) *Service {
	s := &Service{fallback: fallback, log: log.WithField("component", "search")}
	if index != nil {
		s.index = index
	}
	return s
}

// Search returns matching task ids. ok is false when no searcher could serve
// the query and the caller should match text itself.
func (s *Service) Search(ctx context.Context, q Query) (ids []string, ok bool) {
	if s == nil {
		return nil, false
	}
	if s.index != nil && s.index.Healthy() {
		ids, err := s.index.Search(ctx, q)
		if err == nil {
			return ids, true
		}
		s.log.WithError(err).Warn("meilisearch error, falling back")
	}
	if s.fallback != nil && s.fallback.Healthy() {
		ids, err := s.fallback.Search(ctx, q)
		if err == nil {
			return ids, true
		}
		s.log.WithError(err).Warn("fallback search failed")
	}
	return nil, false
}

// HandleEvent keeps the index current from workflow events.
func (s *Service) HandleEvent(_ context.Context, event events.Event) error {
	if s == nil || s.index == nil || !s.index.Healthy() || event.Task.ID == "" {
		return nil
	}
	if !s.claim(event.Task.ID, event.Task.Version) {
		return nil
	}
	return s.index.IndexTasks([]TaskRecord{RecordFromTask(event.Task)})
}

// claim reports whether version is at least the newest one indexed for id,
// recording it if so. Stale snapshots are skipped.
func (s *Service) claim(id string, version int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexed == nil {
		s.indexed = make(map[string]int64)
	}
	if latest, ok := s.indexed[id]; ok && version < latest {
		return false
	}
	s.indexed[id] = version
	return true
}

// ReindexAll pushes every stored task to the index.
func (s *Service) ReindexAll(ctx context.Context, tasks taskLister) {
	if s == nil || s.index == nil || !s.index.Healthy() {
		return
	}
	all, err := tasks.ListTasks(ctx, store.TaskFilter{Limit: store.MaxListLimit})
	if err != nil {
		s.log.WithError(err).Warn("reindex load failed")
		return
	}
	records := make([]TaskRecord, 0, len(all))
	for _, task := range all {
		records = append(records, RecordFromTask(task))
	}
	if err := s.index.IndexTasks(records); err != nil {
		s.log.WithError(err).Warn("reindex tasks")
	}
}
