package app

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"designdesk/api/internal/store"
)

// auditRecord is filled in while a write request is handled and read back by
// withMiddleware once the response status is known.
type auditRecord struct {
	actor    Session
	targetID string
}

type auditKey struct{}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// withAudit prepares ctx for auditing. The route context is created here so
// the matched pattern and URL params stay readable after the router returns.
func withAudit(ctx context.Context) (context.Context, *auditRecord, *chi.Context) {
	rec := &auditRecord{}
	rctx := chi.NewRouteContext()
	ctx = context.WithValue(ctx, auditKey{}, rec)
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	return ctx, rec, rctx
}

func auditFrom(ctx context.Context) *auditRecord {
	rec, _ := ctx.Value(auditKey{}).(*auditRecord)
	return rec
}

func noteAuditActor(ctx context.Context, session Session) {
	if rec := auditFrom(ctx); rec != nil {
		rec.actor = session
	}
}

func noteAuditTarget(ctx context.Context, id string) {
	if rec := auditFrom(ctx); rec != nil {
		rec.targetID = id
	}
}

var auditActions = map[string]string{
	"POST /api/tasks":                               "TASK_CREATED",
	"POST /api/tasks/{taskID}/changes":              "TASK_CHANGED",
	"POST /api/tasks/{taskID}/comments":             "COMMENT_ADDED",
	"POST /api/tasks/{taskID}/comments/seen":        "COMMENTS_SEEN",
	"POST /api/tasks/{taskID}/assign":               "TASK_ASSIGNED",
	"POST /api/notifications/read-all":              "NOTIFICATIONS_READ",
	"POST /api/notifications/{notificationID}/read": "NOTIFICATION_READ",
}

// auditAction names a write by its route, falling back to the verb.
func auditAction(method, pattern string) string {
	if action, ok := auditActions[method+" "+pattern]; ok {
		return action
	}
	switch method {
	case http.MethodPost:
		return "DATA_CREATED"
	case http.MethodDelete:
		return "DATA_DELETED"
	default:
		return "DATA_UPDATED"
	}
}

func (s *HTTPServer) audit(r *http.Request, rec *auditRecord, rctx *chi.Context, status int) {
	if status >= http.StatusBadRequest {
		return
	}
	pattern := rctx.RoutePattern()
	target := rec.targetID
	if target == "" {
		target = rctx.URLParam("taskID")
	}
	if target == "" {
		target = rctx.URLParam("notificationID")
	}
	path := pattern
	if path == "" {
		path = r.URL.Path
	}
	s.service.RecordAudit(store.AuditEntry{
		RequestID:   requestID(r.Context()),
		ActorUserID: rec.actor.UserID,
		ActorRole:   string(rec.actor.Role),
		Action:      auditAction(r.Method, pattern),
		TargetID:    target,
		Method:      r.Method,
		Path:        path,
		Status:      status,
		IPAddress:   clientKey(r),
		UserAgent:   r.UserAgent(),
	})
}
