package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"designdesk/api/internal/activity"
	"designdesk/api/internal/realtime"
	"designdesk/api/internal/store"
)

func TestSuccessfulWritesAreAudited(t *testing.T) {
	server, _, bus := newTestServer(store.NewMemoryStore())
	staff := tokenFor(t, "s1", "Sam", "staff")

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{"title":"Flyer","category":"print"}`))
	req.Header.Set("Authorization", "Bearer "+staff)
	req.Header.Set("User-Agent", "designdesk-web/2.1")
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	task := decodeTask(t, rr)

	audits := bus.audits()
	if len(audits) != 1 {
		t.Fatalf("expected one audit record, got %+v", audits)
	}
	got := audits[0]
	if got.Action != "TASK_CREATED" || got.TargetID != task.ID || got.Status != http.StatusCreated {
		t.Fatalf("unexpected audit record %+v", got)
	}
	if got.ActorUserID != "s1" || got.ActorRole != "staff" {
		t.Fatalf("unexpected actor %q/%q", got.ActorUserID, got.ActorRole)
	}
	if got.IPAddress != "203.0.113.9" || got.UserAgent != "designdesk-web/2.1" {
		t.Fatalf("unexpected client %q/%q", got.IPAddress, got.UserAgent)
	}
	if got.Path != "/api/tasks" || got.Method != http.MethodPost || got.ID == "" || got.RequestID == "" {
		t.Fatalf("unexpected request fields %+v", got)
	}

	doJSON(t, server.Handler(), http.MethodPost, "/api/tasks/"+task.ID+"/comments", staff, map[string]any{"content": "Use the blue logo"})
	audits = bus.audits()
	if len(audits) != 2 || audits[1].Action != "COMMENT_ADDED" || audits[1].TargetID != task.ID {
		t.Fatalf("expected comment audit on %s, got %+v", task.ID, audits)
	}
	if audits[1].Path != "/api/tasks/{taskID}/comments" {
		t.Fatalf("expected route pattern path, got %q", audits[1].Path)
	}

	failed := []struct {
		method string
		path   string
		token  string
	}{
		{method: http.MethodPost, path: "/api/tasks/missing/comments", token: staff},
		{method: http.MethodPost, path: "/api/tasks", token: ""},
		{method: http.MethodPost, path: "/api/tasks", token: tokenFor(t, "d1", "Dana", "designer")},
		{method: http.MethodGet, path: "/api/tasks/" + task.ID, token: staff},
	}
	for _, tc := range failed {
		doJSON(t, server.Handler(), tc.method, tc.path, tc.token, map[string]any{"title": "x", "category": "print", "content": "x"})
	}
	if n := len(bus.audits()); n != 2 {
		t.Fatalf("failed writes and reads must not be audited, got %d records", n)
	}
}

func TestAuditActionFallsBackToMethod(t *testing.T) {
	cases := []struct {
		method  string
		pattern string
		want    string
	}{
		{method: http.MethodPost, pattern: "/api/tasks/{taskID}/assign", want: "TASK_ASSIGNED"},
		{method: http.MethodPost, pattern: "/api/other", want: "DATA_CREATED"},
		{method: http.MethodDelete, pattern: "/api/tasks/{taskID}", want: "DATA_DELETED"},
		{method: http.MethodPut, pattern: "", want: "DATA_UPDATED"},
		{method: http.MethodPatch, pattern: "/api/tasks/{taskID}", want: "DATA_UPDATED"},
	}
	for _, tc := range cases {
		if got := auditAction(tc.method, tc.pattern); got != tc.want {
			t.Fatalf("auditAction(%s %s) = %q, want %q", tc.method, tc.pattern, got, tc.want)
		}
	}
}

func TestAuditLogIsAdminOnly(t *testing.T) {
	st := store.NewMemoryStore()
	server, _, bus := newTestServer(st)
	staff := tokenFor(t, "s1", "Sam", "staff")
	createTask(t, server, staff, map[string]any{"title": "Flyer", "category": "print"})
	bus.drain(t, activity.NewAuditTrail(st).HandleEvent)

	if rr := doJSON(t, server.Handler(), http.MethodGet, "/api/audit", tokenFor(t, "t1", "Tess", "treasurer"), nil); rr.Code != http.StatusForbidden {
		t.Fatalf("treasurer: expected 403, got %d", rr.Code)
	}
	rr := doJSON(t, server.Handler(), http.MethodGet, "/api/audit", tokenFor(t, "a1", "Ada", "admin"), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d", rr.Code)
	}
	var payload struct {
		Entries []store.AuditEntry `json:"entries"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(payload.Entries) != 1 || payload.Entries[0].Action != "TASK_CREATED" || payload.Entries[0].ActorUserID != "s1" {
		t.Fatalf("unexpected audit entries %+v", payload.Entries)
	}
}

func TestActivityFeedEndpoints(t *testing.T) {
	st := store.NewMemoryStore()
	server, _, bus := newTestServer(st)
	staff := tokenFor(t, "s1", "Sam", "staff")
	task := createTask(t, server, staff, map[string]any{"title": "Flyer", "category": "print"})
	createTask(t, server, tokenFor(t, "s2", "Sue", "staff"), map[string]any{"title": "Banner", "category": "print"})
	doJSON(t, server.Handler(), http.MethodPost, "/api/tasks/"+task.ID+"/comments", staff, map[string]any{"content": "Any update?"})
	doJSON(t, server.Handler(), http.MethodPost, "/api/tasks/"+task.ID+"/assign", staff, map[string]any{"assignedToId": "d1", "assignedToName": "Dana"})
	bus.drain(t, activity.NewFeed(st, nil).HandleEvent)

	list := func(t *testing.T, path, token string) (int, []store.Activity) {
		t.Helper()
		rr := doJSON(t, server.Handler(), http.MethodGet, path, token, nil)
		var payload struct {
			Activity []store.Activity `json:"activity"`
		}
		if rr.Code == http.StatusOK {
			if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
				t.Fatalf("parse: %v", err)
			}
		}
		return rr.Code, payload.Activity
	}

	code, items := list(t, "/api/tasks/"+task.ID+"/activity", staff)
	if code != http.StatusOK || len(items) != 3 {
		t.Fatalf("task feed: expected 3 lines, got %d (%d)", len(items), code)
	}
	actions := map[string]bool{}
	for _, item := range items {
		if item.TaskID != task.ID {
			t.Fatalf("task feed leaked %s", item.TaskID)
		}
		actions[item.Action] = true
	}
	for _, want := range []string{store.ActivityCreated, store.ActivityCommented, store.ActivityAssigned} {
		if !actions[want] {
			t.Fatalf("missing %s in %v", want, actions)
		}
	}

	if code, _ := list(t, "/api/tasks/"+task.ID+"/activity", tokenFor(t, "s2", "Sue", "staff")); code != http.StatusForbidden {
		t.Fatalf("other staff: expected 403, got %d", code)
	}
	if code, _ := list(t, "/api/activity", staff); code != http.StatusForbidden {
		t.Fatalf("staff global feed: expected 403, got %d", code)
	}
	code, items = list(t, "/api/activity?limit=2", tokenFor(t, "t1", "Tess", "treasurer"))
	if code != http.StatusOK || len(items) != 2 {
		t.Fatalf("treasurer global feed: expected 2 lines, got %d (%d)", len(items), code)
	}
	if code, items = list(t, "/api/activity", tokenFor(t, "a1", "Ada", "admin")); code != http.StatusOK || len(items) != 4 {
		t.Fatalf("admin global feed: expected 4 lines, got %d (%d)", len(items), code)
	}
}

func TestUnreadCount(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	for _, n := range []store.Notification{
		{ID: "n1", UserID: "s1", EventID: "e1", Title: "One"},
		{ID: "n2", UserID: "s1", EventID: "e2", Title: "Two"},
		{ID: "n3", UserID: "s2", EventID: "e1", Title: "Other"},
	} {
		if _, err := st.InsertNotification(ctx, n); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	server, _, _ := newTestServer(st)
	staff := tokenFor(t, "s1", "Sam", "staff")

	count := func() float64 {
		rr := doJSON(t, server.Handler(), http.MethodGet, "/api/notifications/unread-count", staff, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var payload map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse: %v", err)
		}
		got, _ := payload["count"].(float64)
		return got
	}
	if got := count(); got != 2 {
		t.Fatalf("expected 2 unread, got %v", got)
	}
	doJSON(t, server.Handler(), http.MethodPost, "/api/notifications/n1/read", staff, nil)
	if got := count(); got != 1 {
		t.Fatalf("expected 1 unread, got %v", got)
	}
	if rr := doJSON(t, server.Handler(), http.MethodGet, "/api/notifications/unread-count", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401, got %d", rr.Code)
	}
}

func TestGetTaskListsNextStatusesForMovers(t *testing.T) {
	server, _, _ := newTestServer(store.NewMemoryStore())
	staff := tokenFor(t, "s1", "Sam", "staff")
	task := createTask(t, server, staff, map[string]any{"title": "Flyer", "category": "print"})

	next := func(token string) []string {
		rr := doJSON(t, server.Handler(), http.MethodGet, "/api/tasks/"+task.ID, token, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var payload struct {
			NextStatuses []string `json:"nextStatuses"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse: %v", err)
		}
		return payload.NextStatuses
	}

	if got := next(staff); got == nil || len(got) != 0 {
		t.Fatalf("staff: expected empty list, got %v", got)
	}
	got := next(tokenFor(t, "d1", "Dana", "designer"))
	if len(got) != 2 || got[0] != store.StatusInProgress || got[1] != store.StatusClarificationRequired {
		t.Fatalf("designer: unexpected next statuses %v", got)
	}
}

func TestCanViewTaskFollowsTaskAccess(t *testing.T) {
	svc, _, _ := newTestService(store.NewMemoryStore())
	task := seedTask(t, svc, staffSession("s1"))
	ctx := context.Background()

	cases := []struct {
		name     string
		identity realtime.Identity
		want     bool
	}{
		{name: "requester", identity: realtime.Identity{UserID: "s1", Role: "staff"}, want: true},
		{name: "other staff", identity: realtime.Identity{UserID: "s2", Role: "staff"}, want: false},
		{name: "designer on open task", identity: realtime.Identity{UserID: "d1", Role: "designer"}, want: true},
		{name: "treasurer", identity: realtime.Identity{UserID: "t1", Role: "treasurer"}, want: true},
		{name: "unknown role", identity: realtime.Identity{UserID: "g1", Role: "guest"}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := svc.CanViewTask(ctx, tc.identity, task.ID); got != tc.want {
				t.Fatalf("CanViewTask = %v, want %v", got, tc.want)
			}
		})
	}
	if svc.CanViewTask(ctx, realtime.Identity{UserID: "a1", Role: "admin"}, "missing") {
		t.Fatal("missing task must not be viewable")
	}
}
