package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"designdesk/api/internal/auth"
	"designdesk/api/internal/config"
	"designdesk/api/internal/events"
	"designdesk/api/internal/logging"
	"designdesk/api/internal/store"
)

const testSecret = "test-secret"

type directMessage struct {
	Target  string
	Event   string
	Payload any
}

type fakeHub struct {
	mu       sync.Mutex
	updated  []store.Task
	comments []store.Comment
	direct   []directMessage
}

func (h *fakeHub) TaskUpdated(task store.Task) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updated = append(h.updated, task)
}

func (h *fakeHub) CommentAdded(_ string, comment store.Comment) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.comments = append(h.comments, comment)
}

func (h *fakeHub) ToUser(userID, event string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.direct = append(h.direct, directMessage{Target: "user:" + userID, Event: event, Payload: payload})
}

func (h *fakeHub) ToDesigners(event string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.direct = append(h.direct, directMessage{Target: "designers", Event: event, Payload: payload})
}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(ev events.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return true
}

// types lists workflow events. Audit records are read through audits.
func (b *recordingBus) types() []events.Type {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]events.Type, 0, len(b.events))
	for _, ev := range b.events {
		if ev.Type != events.RequestAudited {
			out = append(out, ev.Type)
		}
	}
	return out
}

func (b *recordingBus) audits() []store.AuditEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []store.AuditEntry
	for _, ev := range b.events {
		if ev.Type == events.RequestAudited && ev.Audit != nil {
			out = append(out, *ev.Audit)
		}
	}
	return out
}

// drain replays every recorded event into handle, as the bus workers would.
func (b *recordingBus) drain(t *testing.T, handle func(context.Context, events.Event) error) {
	t.Helper()
	b.mu.Lock()
	recorded := append([]events.Event(nil), b.events...)
	b.mu.Unlock()
	for _, ev := range recorded {
		if err := handle(context.Background(), ev); err != nil {
			t.Fatalf("handle %s: %v", ev.Type, err)
		}
	}
}

func (b *recordingBus) has(t events.Type) bool {
	for _, got := range b.types() {
		if got == t {
			return true
		}
	}
	return false
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:         testSecret,
		CORSOrigin:        "*",
		ApprovalThreshold: 3,
		TaskDedupeWindow:  2 * time.Minute,
	}
}

func newTestServer(st dataStore) (*HTTPServer, *fakeHub, *recordingBus) {
	hub := &fakeHub{}
	bus := &recordingBus{}
	svc := New(testConfig(), Deps{Store: st, Hub: hub, Bus: bus, Log: logging.Discard()})
	return NewHTTPServer(svc, ServerOptions{CORSOrigin: "*"}), hub, bus
}

func tokenFor(t *testing.T, id, name, role string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.Claims{
		Sub:  id,
		Name: name,
		Role: role,
		JTI:  "jti-" + id,
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeTask(t *testing.T, rr *httptest.ResponseRecorder) store.Task {
	t.Helper()
	var payload struct {
		Task store.Task `json:"task"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse task response: %v body=%s", err, rr.Body.String())
	}
	return payload.Task
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse error response: %v body=%s", err, rr.Body.String())
	}
	code, _ := payload["code"].(string)
	return code
}

func change(field, newValue string) map[string]any {
	return map[string]any{"type": "update", "field": field, "newValue": newValue}
}

func changes(items ...map[string]any) map[string]any {
	return map[string]any{"changes": items}
}
