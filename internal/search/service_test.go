package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"designdesk/api/internal/events"
	"designdesk/api/internal/logging"
	"designdesk/api/internal/store"
)

type fakeSearcher struct {
	ids     []string
	err     error
	healthy bool
	indexed []TaskRecord
}

func (f *fakeSearcher) Search(context.Context, Query) ([]string, error) { return f.ids, f.err }
func (f *fakeSearcher) Healthy() bool { return f.healthy }
func (f *fakeSearcher) IndexTasks(records []TaskRecord) error {
	f.indexed = append(f.indexed, records...)
	return nil
}

func TestServiceSearchPrefersIndex(t *testing.T) {
	index := &fakeSearcher{ids: []string{"t1"}, healthy: true}
	fallback := &fakeSearcher{ids: []string{"t2"}, healthy: true}
	svc := &Service{index: index, fallback: fallback, log: logging.Discard()}

	ids, ok := svc.Search(context.Background(), Query{Text: "poster"})
	require.True(t, ok)
	assert.Equal(t, []string{"t1"}, ids)

	index.err = errors.New("down")
	ids, ok = svc.Search(context.Background(), Query{Text: "poster"})
	require.True(t, ok)
	assert.Equal(t, []string{"t2"}, ids)

	index.healthy = false
	fallback.healthy = false
	_, ok = svc.Search(context.Background(), Query{Text: "poster"})
	assert.False(t, ok)
}

func TestServiceWithoutBackends(t *testing.T) {
	svc := NewService(nil, nil, logging.Discard())
	_, ok := svc.Search(context.Background(), Query{Text: "x"})
	assert.False(t, ok)

	var nilSvc *Service
	_, ok = nilSvc.Search(context.Background(), Query{Text: "x"})
	assert.False(t, ok)
	assert.NoError(t, nilSvc.HandleEvent(context.Background(), events.Event{}))
}

func TestHandleEventIndexesCommittedTask(t *testing.T) {
	index := &fakeSearcher{healthy: true}
	svc := &Service{index: index, log: logging.Discard()}

	task := store.Task{ID: "t1", Title: "Poster", Comments: []store.Comment{{Content: "blue please"}, {Content: "ok"}}, CreatedAt: time.Unix(1700000000, 0)}
	require.NoError(t, svc.HandleEvent(context.Background(), events.Event{Type: events.CommentAdded, TaskID: "t1", Task: task}))

	require.Len(t, index.indexed, 1)
	assert.Equal(t, "Poster", index.indexed[0].Title)
	assert.Equal(t, "blue please\nok", index.indexed[0].Comments)
	assert.Equal(t, int64(1700000000), index.indexed[0].CreatedAt)
}

func TestHandleEventSkipsStaleSnapshots(t *testing.T) {
	index := &fakeSearcher{healthy: true}
	svc := &Service{index: index, log: logging.Discard()}
	ctx := context.Background()

	require.NoError(t, svc.HandleEvent(ctx, events.Event{TaskID: "t1", Task: store.Task{ID: "t1", Title: "v3", Version: 3}}))
	require.NoError(t, svc.HandleEvent(ctx, events.Event{TaskID: "t1", Task: store.Task{ID: "t1", Title: "v2", Version: 2}}))
	require.NoError(t, svc.HandleEvent(ctx, events.Event{TaskID: "t1", Task: store.Task{ID: "t1", Title: "v3 again", Version: 3}}))

	require.Len(t, index.indexed, 2)
	assert.Equal(t, "v3", index.indexed[0].Title)
	assert.Equal(t, "v3 again", index.indexed[1].Title)
}

func TestMatchText(t *testing.T) {
	task := store.Task{Title: "Spring Poster", Description: "A3 matte", RequesterName: "Sam"}
	assert.True(t, MatchText(task, ""))
	assert.True(t, MatchText(task, "poster"))
	assert.True(t, MatchText(task, "SAM a3"))
	assert.False(t, MatchText(task, "poster flyer"))
}
