package calendar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"designdesk/api/internal/events"
	"designdesk/api/internal/logging"
	"designdesk/api/internal/store"
)

type call struct {
	method string
	path   string
	auth   string
	body   map[string]any
}

func newScheduleServer(t *testing.T, status int) (*httptest.Server, func() []call) {
	t.Helper()
	var mu sync.Mutex
	var calls []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := call{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
		_ = json.NewDecoder(r.Body).Decode(&c.body)
		mu.Lock()
		calls = append(calls, c)
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []call {
		mu.Lock()
		defer mu.Unlock()
		return append([]call(nil), calls...)
	}
}

func emergencyEvent(decision string) events.Event {
	approvedAt := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	return events.Event{
		Type:     events.EmergencyDecided,
		TaskID:   "t1",
		Decision: decision,
		Task: store.Task{
			ID:                  "t1",
			IsEmergency:         true,
			ScheduleTaskID:      "sched-9",
			EmergencyApprovedBy: "Dana",
			EmergencyApprovedAt: &approvedAt,
		},
	}
}

func TestApprovedEmergencyConfirmsPlaceholder(t *testing.T) {
	srv, calls := newScheduleServer(t, http.StatusOK)
	client := NewClient(Config{BaseURL: srv.URL + "/", Token: "tok"}, logging.Discard())

	require.NoError(t, client.HandleEvent(context.Background(), emergencyEvent(store.DecisionApproved)))

	got := calls()
	require.Len(t, got, 1)
	assert.Equal(t, http.MethodPatch, got[0].method)
	assert.Equal(t, "/schedule/tasks/sched-9", got[0].path)
	assert.Equal(t, "Bearer tok", got[0].auth)
	assert.Equal(t, "EMERGENCY_APPROVED", got[0].body["status"])
	assert.Equal(t, "t1", got[0].body["taskId"])
}

func TestRejectedEmergencyRemovesPlaceholder(t *testing.T) {
	srv, calls := newScheduleServer(t, http.StatusNotFound)
	client := NewClient(Config{BaseURL: srv.URL}, logging.Discard())

	require.NoError(t, client.HandleEvent(context.Background(), emergencyEvent(store.DecisionRejected)), "missing slot is fine")

	got := calls()
	require.Len(t, got, 1)
	assert.Equal(t, http.MethodDelete, got[0].method)
}

func TestCalendarErrorsSurface(t *testing.T) {
	srv, _ := newScheduleServer(t, http.StatusInternalServerError)
	client := NewClient(Config{BaseURL: srv.URL}, logging.Discard())

	assert.Error(t, client.HandleEvent(context.Background(), emergencyEvent(store.DecisionApproved)))
}

func TestCalendarIgnoresUnrelatedEvents(t *testing.T) {
	srv, calls := newScheduleServer(t, http.StatusOK)
	client := NewClient(Config{BaseURL: srv.URL}, logging.Discard())

	ev := emergencyEvent(store.DecisionApproved)
	ev.Task.ScheduleTaskID = ""
	require.NoError(t, client.HandleEvent(context.Background(), ev))
	require.NoError(t, client.HandleEvent(context.Background(), events.Event{Type: events.CommentAdded}))
	assert.Empty(t, calls())

	disabled := NewClient(Config{}, logging.Discard())
	assert.False(t, disabled.Enabled())
	assert.NoError(t, disabled.HandleEvent(context.Background(), emergencyEvent(store.DecisionApproved)))
}
