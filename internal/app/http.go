package app

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"designdesk/api/internal/auth"
	"designdesk/api/internal/rbac"
	"designdesk/api/internal/workflow"
)

type HTTPServer struct {
	service    *Service
	sockets    http.Handler
	corsOrigin string
	limiter    *clientLimiter
	log        logrus.FieldLogger
}

type ServerOptions struct {
	CORSOrigin     string
	RateLimitRPS   float64
	RateLimitBurst int
	// Sockets serves /ws. Nil disables the realtime endpoint.
	Sockets http.Handler
	Log     logrus.FieldLogger
}

func NewHTTPServer(service *Service, opts ServerOptions) *HTTPServer {
	s := &HTTPServer{
		service:    service,
		sockets:    opts.Sockets,
		corsOrigin: opts.CORSOrigin,
		log:        opts.Log,
	}
	if s.log == nil {
		s.log = service.log
	}
	if opts.RateLimitRPS > 0 {
		s.limiter = newClientLimiter(opts.RateLimitRPS, opts.RateLimitBurst)
	}
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/api/health", s.handleHealth)
	r.Head("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Head("/api/ready", s.handleReady)
	if s.sockets != nil {
		r.Handle("/ws", s.sockets)
	}

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.middleware)
		}
		r.Get("/api/session", s.handleSession)

		r.Get("/api/tasks", s.handleListTasks)
		r.Post("/api/tasks", s.handleCreateTask)
		r.Get("/api/tasks/{taskID}", s.handleGetTask)
		r.Get("/api/tasks/{taskID}/changes", s.handleGetChanges)
		r.Post("/api/tasks/{taskID}/changes", s.handleSubmitChanges)
		r.Post("/api/tasks/{taskID}/comments", s.handleAddComment)
		r.Post("/api/tasks/{taskID}/comments/seen", s.handleCommentsSeen)
		r.Post("/api/tasks/{taskID}/assign", s.handleAssign)
		r.Get("/api/tasks/{taskID}/activity", s.handleTaskActivity)
		r.Get("/api/activity", s.handleRecentActivity)
		r.Get("/api/audit", s.handleAuditLog)

		r.Get("/api/notifications", s.handleListNotifications)
		r.Get("/api/notifications/unread-count", s.handleUnreadCount)
		r.Post("/api/notifications/read-all", s.handleReadAllNotifications)
		r.Post("/api/notifications/{notificationID}/read", s.handleReadNotification)
	})

	return s.withMiddleware(r)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userName":      session.UserName,
		"userId":        session.UserID,
		"email":         session.Email,
		"role":          session.Role,
	})
}

func (s *HTTPServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}
	tasks, err := s.service.ListTasks(r.Context(), session, ListTasksInput{
		Status:       query.Get("status"),
		Category:     query.Get("category"),
		Urgency:      query.Get("urgency"),
		RequesterID:  query.Get("requesterId"),
		AssignedToID: query.Get("assignedToId"),
		Query:        query.Get("q"),
		Limit:        limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *HTTPServer) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body CreateTaskInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	task, created, err := s.service.CreateTask(r.Context(), session, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	noteAuditTarget(r.Context(), task.ID)
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, map[string]any{"task": task, "created": created})
}

func (s *HTTPServer) handleGetTask(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	task, err := s.service.GetTask(r.Context(), session, chi.URLParam(r, "taskID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	nextStatuses := []string{}
	if rbac.Can(session.Role, rbac.ActionTransition) {
		nextStatuses = workflow.NextStatuses(task.Status)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task":         task,
		"unseenCount":  workflow.UnseenCount(task, string(session.Role)),
		"nextStatuses": nextStatuses,
	})
}

func (s *HTTPServer) handleGetChanges(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	changes, err := s.service.GetChanges(r.Context(), session, chi.URLParam(r, "taskID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

func (s *HTTPServer) handleSubmitChanges(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		Changes []workflow.ChangeRequest `json:"changes"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if len(body.Changes) == 0 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "changes must not be empty", nil)
		return
	}
	task, err := s.service.SubmitChanges(r.Context(), session, chi.URLParam(r, "taskID"), body.Changes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body workflow.CommentInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	_, comment, err := s.service.AddComment(r.Context(), session, chi.URLParam(r, "taskID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"comment": comment})
}

func (s *HTTPServer) handleCommentsSeen(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	_, marked, err := s.service.MarkCommentsSeen(r.Context(), session, chi.URLParam(r, "taskID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marked": marked})
}

func (s *HTTPServer) handleAssign(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		AssignedToID   string `json:"assignedToId"`
		AssignedToName string `json:"assignedToName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	task, err := s.service.Assign(r.Context(), session, chi.URLParam(r, "taskID"), body.AssignedToID, body.AssignedToName)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.service.ListNotifications(r.Context(), session, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	unread := 0
	for _, item := range items {
		if !item.Read {
			unread++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": items, "unread": unread})
}

func (s *HTTPServer) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	count, err := s.service.UnreadNotifications(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

func (s *HTTPServer) handleTaskActivity(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.service.TaskActivity(r.Context(), session, chi.URLParam(r, "taskID"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": items})
}

func (s *HTTPServer) handleRecentActivity(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.service.RecentActivity(r.Context(), session, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activity": items})
}

func (s *HTTPServer) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.service.AuditLog(r.Context(), session, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": items})
}

func (s *HTTPServer) handleReadNotification(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if err := s.service.MarkNotificationRead(r.Context(), session, chi.URLParam(r, "notificationID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReadAllNotifications(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	updated, err := s.service.MarkAllNotificationsRead(r.Context(), session)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "updated": updated})
}

// fail maps err onto the error envelope. Unexpected errors are logged with
// the request id and hidden from the caller.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{
			"request_id": requestID(r.Context()),
			"path":       r.URL.Path,
		}).Error("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		s.fail(w, r, err)
		return Session{}, false
	}
	noteAuditActor(r.Context(), session)
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		var (
			rec  *auditRecord
			rctx *chi.Context
		)
		if isWrite(r.Method) {
			ctx, rec, rctx = withAudit(ctx)
		}
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}
		if rec != nil {
			s.audit(r, rec, rctx, writer.status)
		}

		s.log.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
