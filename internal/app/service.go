package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"designdesk/api/internal/auth"
	"designdesk/api/internal/config"
	"designdesk/api/internal/events"
	"designdesk/api/internal/rbac"
	"designdesk/api/internal/realtime"
	"designdesk/api/internal/search"
	"designdesk/api/internal/store"
	"designdesk/api/internal/util"
	"designdesk/api/internal/workflow"
)

const (
	maxConflictRetries = 3
	tokenLeeway        = 30 * time.Second
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Email     string
	Role      rbac.Role
	JTI       string
	ExpiresAt time.Time
}

func (s Session) Actor() workflow.Actor {
	return workflow.Actor{ID: s.UserID, Name: s.UserName, Email: s.Email, Role: s.Role}
}

func (s Session) eventActor() events.Actor {
	return events.Actor{ID: s.UserID, Name: s.UserName, Role: string(s.Role)}
}

type CreateTaskInput struct {
	Title               string           `json:"title"`
	Description         string           `json:"description"`
	Category            string           `json:"category"`
	Urgency             string           `json:"urgency"`
	Deadline            string           `json:"deadline"`
	IsEmergency         bool             `json:"isEmergency"`
	IsModification      bool             `json:"isModification"`
	RequesterEmail      string           `json:"requesterEmail"`
	RequesterPhone      string           `json:"requesterPhone"`
	SecondaryPhones     []string         `json:"secondaryPhones"`
	RequesterDepartment string           `json:"requesterDepartment"`
	AssignedToID        string           `json:"assignedToId"`
	AssignedToName      string           `json:"assignedToName"`
	ScheduleTaskID      string           `json:"scheduleTaskId"`
	Files               []store.TaskFile `json:"files"`
}

type ListTasksInput struct {
	Status       string
	Category     string
	Urgency      string
	RequesterID  string
	AssignedToID string
	Query        string
	Limit        int
}

type dataStore interface {
	Ping(ctx context.Context) error
	CreateTask(ctx context.Context, task store.Task) error
	GetTask(ctx context.Context, id string) (store.Task, error)
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]store.Task, error)
	UpdateTask(ctx context.Context, task store.Task) (store.Task, error)
	ListNotifications(ctx context.Context, userID string, limit int) ([]store.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
	ListActivity(ctx context.Context, filter store.ActivityFilter) ([]store.Activity, error)
	ListAudit(ctx context.Context, limit int) ([]store.AuditEntry, error)
	UpsertUser(ctx context.Context, user store.User) error
	GetUser(ctx context.Context, id string) (store.User, error)
}

// broadcaster is the socket side of a committed mutation.
type broadcaster interface {
	TaskUpdated(task store.Task)
	CommentAdded(taskID string, comment store.Comment)
	ToUser(userID, event string, payload any)
	ToDesigners(event string, payload any)
}

type publisher interface {
	Publish(event events.Event) bool
}

type searcher interface {
	Search(ctx context.Context, q search.Query) ([]string, bool)
}

type hydrator interface {
	Hydrate(ctx context.Context, task store.Task) store.Task
}

type Deps struct {
	Store  dataStore
	Hub    broadcaster
	Bus    publisher
	Search searcher
	Files  hydrator
	Log    logrus.FieldLogger
}

type Service struct {
	cfg    config.Config
	store  dataStore
	hub    broadcaster
	bus    publisher
	search searcher
	files  hydrator
	engine workflow.Engine
	locks  *taskLocks
	tokens *auth.Verifier
	log    logrus.FieldLogger
}

func New(cfg config.Config, deps Deps) *Service {
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}
	return &Service{
		cfg:    cfg,
		store:  deps.Store,
		hub:    deps.Hub,
		bus:    deps.Bus,
		search: deps.Search,
		files:  deps.Files,
		engine: workflow.NewEngine(cfg.ApprovalThreshold),
		locks:  newTaskLocks(),
		tokens: auth.NewVerifier([]byte(cfg.JWTSecret), tokenLeeway),
		log:    deps.Log.WithField("component", "app"),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SessionFromToken verifies a bearer token and keeps the user directory
// current so role lookups (notifications) can find the caller.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return Session{}, err
	}
	role := strings.ToLower(strings.TrimSpace(claims.Role))
	if !rbac.Valid(role) {
		return Session{}, auth.ErrInvalidToken
	}
	session := Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Email:     claims.Email,
		Role:      rbac.Role(role),
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}
	if err := s.ensureUser(ctx, session); err != nil {
		return Session{}, err
	}
	return session, nil
}

// Authenticate resolves socket connections with the same tokens as REST.
func (s *Service) Authenticate(token string) (realtime.Identity, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	session, err := s.SessionFromToken(ctx, token)
	if err != nil {
		return realtime.Identity{}, err
	}
	return realtime.Identity{UserID: session.UserID, UserName: session.UserName, Role: string(session.Role), Email: session.Email}, nil
}

// CanViewTask applies the REST access rule to socket task rooms.
func (s *Service) CanViewTask(ctx context.Context, identity realtime.Identity, taskID string) bool {
	session := Session{UserID: identity.UserID, UserName: identity.UserName, Email: identity.Email, Role: rbac.Role(identity.Role)}
	if _, err := s.loadTask(ctx, session, taskID); err != nil {
		if status, _, _, _ := mapError(err); status >= http.StatusInternalServerError {
			s.log.WithError(err).WithField("task_id", taskID).Warn("socket task access check failed")
		}
		return false
	}
	return true
}

func (s *Service) ensureUser(ctx context.Context, session Session) error {
	existing, err := s.store.GetUser(ctx, session.UserID)
	if err == nil && existing.Name == session.UserName && existing.Role == string(session.Role) && existing.Email == session.Email {
		return nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("lookup user: %w", err)
	}
	return s.store.UpsertUser(ctx, store.User{
		ID:    session.UserID,
		Name:  session.UserName,
		Email: session.Email,
		Role:  string(session.Role),
	})
}

// CreateTask stores a new request. A duplicate submission inside the dedupe
// window returns the existing task and created=false.
func (s *Service) CreateTask(ctx context.Context, session Session, input CreateTaskInput) (store.Task, bool, error) {
	if !rbac.Can(session.Role, rbac.ActionCreate) {
		return store.Task{}, false, domainError(http.StatusForbidden, "FORBIDDEN", "Only staff or treasurer can create requests", nil)
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Task{}, false, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "title is required", map[string]any{"field": "title"})
	}
	category := strings.TrimSpace(input.Category)
	if category == "" {
		return store.Task{}, false, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "category is required", map[string]any{"field": "category"})
	}
	urgency := strings.ToLower(strings.TrimSpace(input.Urgency))
	if urgency == "" {
		urgency = "normal"
	}
	var deadline *time.Time
	if strings.TrimSpace(input.Deadline) != "" {
		parsed, err := workflow.ParseDeadline(input.Deadline)
		if err != nil {
			return store.Task{}, false, err
		}
		deadline = &parsed
	}

	draft := store.Task{
		Title:               title,
		Description:         strings.TrimSpace(input.Description),
		Category:            category,
		Urgency:             urgency,
		Deadline:            deadline,
		IsEmergency:         input.IsEmergency,
		IsModification:      input.IsModification,
		RequesterEmail:      strings.TrimSpace(input.RequesterEmail),
		RequesterPhone:      strings.TrimSpace(input.RequesterPhone),
		SecondaryPhones:     input.SecondaryPhones,
		RequesterDepartment: strings.TrimSpace(input.RequesterDepartment),
		AssignedToID:        strings.TrimSpace(input.AssignedToID),
		AssignedToName:      strings.TrimSpace(input.AssignedToName),
		ScheduleTaskID:      strings.TrimSpace(input.ScheduleTaskID),
		Files:               input.Files,
	}

	if existing, ok, err := s.findDuplicate(ctx, session, draft); err != nil {
		return store.Task{}, false, err
	} else if ok {
		s.log.WithFields(logrus.Fields{"task_id": existing.ID, "user_id": session.UserID}).Info("duplicate request suppressed")
		return existing, false, nil
	}

	task := workflow.NewTask(draft, session.Actor(), s.engine.Recorder)
	if task.AssignedToID != "" && task.AssignedToName == "" {
		if user, err := s.store.GetUser(ctx, task.AssignedToID); err == nil {
			task.AssignedToName = user.Name
		}
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return store.Task{}, false, fmt.Errorf("create task: %w", err)
	}
	saved, err := s.store.GetTask(ctx, task.ID)
	if err != nil {
		return store.Task{}, false, fmt.Errorf("reload task: %w", err)
	}

	if saved.AssignedToID != "" {
		s.hub.ToUser(saved.AssignedToID, realtime.EventRequestNew, saved)
	} else {
		s.hub.ToDesigners(realtime.EventRequestNew, saved)
	}
	s.publish(events.Event{
		ID:         "created:" + saved.ID,
		Type:       events.TaskCreated,
		TaskID:     saved.ID,
		Task:       saved,
		Actor:      session.eventActor(),
		OccurredAt: saved.CreatedAt,
	})
	return saved, true, nil
}

func (s *Service) findDuplicate(ctx context.Context, session Session, draft store.Task) (store.Task, bool, error) {
	if s.cfg.TaskDedupeWindow <= 0 {
		return store.Task{}, false, nil
	}
	since := time.Now().UTC().Add(-s.cfg.TaskDedupeWindow)
	recent, err := s.store.ListTasks(ctx, store.TaskFilter{RequesterID: session.UserID, CreatedAfter: &since, Limit: store.MaxListLimit})
	if err != nil {
		return store.Task{}, false, fmt.Errorf("check duplicate: %w", err)
	}
	for _, task := range recent {
		if task.Title == draft.Title &&
			task.Description == draft.Description &&
			task.Category == draft.Category &&
			task.Urgency == draft.Urgency &&
			workflow.FormatDeadline(task.Deadline) == workflow.FormatDeadline(draft.Deadline) {
			return task, true, nil
		}
	}
	return store.Task{}, false, nil
}

func (s *Service) GetTask(ctx context.Context, session Session, id string) (store.Task, error) {
	task, err := s.loadTask(ctx, session, id)
	if err != nil {
		return store.Task{}, err
	}
	if s.files != nil {
		task = s.files.Hydrate(ctx, task)
	}
	return task, nil
}

func (s *Service) loadTask(ctx context.Context, session Session, id string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Task{}, workflow.NotFoundf("task %s not found", id)
	}
	if err != nil {
		return store.Task{}, err
	}
	if !workflow.CanAccess(task, session.Actor()) {
		return store.Task{}, domainError(http.StatusForbidden, "FORBIDDEN", "No access to this request", nil)
	}
	return task, nil
}

// ListTasks returns the tasks visible to the caller, newest first.
func (s *Service) ListTasks(ctx context.Context, session Session, input ListTasksInput) ([]store.Task, error) {
	filter := store.TaskFilter{
		Status:       workflow.NormalizeStatus(input.Status),
		Category:     strings.TrimSpace(input.Category),
		Urgency:      strings.TrimSpace(input.Urgency),
		RequesterID:  strings.TrimSpace(input.RequesterID),
		AssignedToID: strings.TrimSpace(input.AssignedToID),
		Limit:        input.Limit,
	}
	switch session.Role {
	case rbac.RoleStaff:
		filter.RequesterID = session.UserID
	case rbac.RoleDesigner:
		filter.AssignedOrOpen = session.UserID
	}

	query := strings.TrimSpace(input.Query)
	matchLocally := false
	if query != "" {
		ids, ok := s.searchIDs(ctx, query)
		if ok {
			if len(ids) == 0 {
				return []store.Task{}, nil
			}
			filter.IDs = ids
		} else {
			matchLocally = true
		}
	}

	tasks, err := s.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, err
	}
	if !matchLocally {
		return tasks, nil
	}
	matched := make([]store.Task, 0, len(tasks))
	for _, task := range tasks {
		if search.MatchText(task, query) {
			matched = append(matched, task)
		}
	}
	return matched, nil
}

func (s *Service) searchIDs(ctx context.Context, text string) ([]string, bool) {
	if s.search == nil {
		return nil, false
	}
	return s.search.Search(ctx, search.Query{Text: text, Limit: store.MaxListLimit})
}

func (s *Service) GetChanges(ctx context.Context, session Session, id string) ([]store.ChangeHistoryEntry, error) {
	task, err := s.loadTask(ctx, session, id)
	if err != nil {
		return nil, err
	}
	if task.ChangeHistory == nil {
		return []store.ChangeHistoryEntry{}, nil
	}
	return task.ChangeHistory, nil
}

// mutate runs fn against the latest stored task and persists the result.
// Callers hold the task lock until their broadcasts are queued so room
// members see snapshots in commit order. A version conflict from another process re-reads and
// retries. fn returning changed=false skips the write.
func (s *Service) mutate(ctx context.Context, session Session, id string, fn func(task store.Task) (store.Task, bool, error)) (store.Task, bool, error) {
	for attempt := 1; ; attempt++ {
		current, err := s.loadTask(ctx, session, id)
		if err != nil {
			return store.Task{}, false, err
		}
		next, changed, err := fn(current)
		if err != nil {
			return store.Task{}, false, err
		}
		if !changed {
			return current, false, nil
		}
		saved, err := s.store.UpdateTask(ctx, next)
		if err == nil {
			return saved, true, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= maxConflictRetries {
			return store.Task{}, false, err
		}
		s.log.WithFields(logrus.Fields{"task_id": id, "attempt": attempt}).Debug("task version conflict, retrying")
	}
}

// SubmitChanges applies a change batch atomically, then broadcasts the
// committed task and publishes the derived events.
func (s *Service) SubmitChanges(ctx context.Context, session Session, id string, changes []workflow.ChangeRequest) (store.Task, error) {
	unlock := s.locks.lock(id)
	defer unlock()
	var outcome workflow.Outcome
	saved, changed, err := s.mutate(ctx, session, id, func(task store.Task) (store.Task, bool, error) {
		result, err := s.engine.Apply(task, session.Actor(), changes)
		if err != nil {
			return store.Task{}, false, err
		}
		outcome = result
		return result.Task, result.Changed(), nil
	})
	if err != nil {
		return store.Task{}, err
	}
	if !changed {
		return saved, nil
	}

	s.hub.TaskUpdated(saved)
	for _, ev := range outcomeEvents(saved, outcome, session.eventActor()) {
		s.publish(ev)
	}
	return saved, nil
}

func outcomeEvents(task store.Task, outcome workflow.Outcome, actor events.Actor) []events.Event {
	stamp := outcome.Entries[len(outcome.Entries)-1].ID
	at := outcome.Entries[len(outcome.Entries)-1].CreatedAt
	base := func(t events.Type) events.Event {
		return events.Event{
			ID:         string(t) + ":" + task.ID + ":" + stamp,
			Type:       t,
			TaskID:     task.ID,
			Task:       task,
			Actor:      actor,
			OccurredAt: at,
		}
	}

	recorded := base(events.ChangesRecorded)
	recorded.Fields = outcome.StaffFieldEdits
	recorded.Entries = outcome.Entries
	out := []events.Event{recorded}

	if outcome.AssignedTo != "" {
		out = append(out, base(events.TaskAssigned))
	}
	if outcome.StatusChanged() {
		ev := base(events.TaskStatusChanged)
		ev.From = outcome.StatusFrom
		ev.To = outcome.StatusTo
		out = append(out, ev)
		if outcome.StatusTo == store.StatusCompleted {
			delivered := base(events.FinalFilesDelivered)
			for _, file := range task.Files {
				if file.Type == store.FileOutput {
					delivered.Files = append(delivered.Files, file)
				}
			}
			out = append(out, delivered)
		}
	}
	if outcome.ApprovalRequested {
		out = append(out, base(events.ApprovalRequested))
	}
	if outcome.ApprovalDecision != "" {
		ev := base(events.ApprovalDecided)
		ev.Decision = outcome.ApprovalDecision
		out = append(out, ev)
	}
	if outcome.EmergencyDecision != "" {
		ev := base(events.EmergencyDecided)
		ev.Decision = outcome.EmergencyDecision
		out = append(out, ev)
	}
	if outcome.DeadlineProposed {
		out = append(out, base(events.DeadlineProposed))
	}
	if outcome.DeadlineDecision != "" {
		ev := base(events.DeadlineDecided)
		ev.Decision = outcome.DeadlineDecision
		out = append(out, ev)
	}
	return out
}

func (s *Service) AddComment(ctx context.Context, session Session, id string, input workflow.CommentInput) (store.Task, store.Comment, error) {
	if !rbac.Can(session.Role, rbac.ActionComment) {
		return store.Task{}, store.Comment{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	unlock := s.locks.lock(id)
	defer unlock()
	var comment store.Comment
	saved, _, err := s.mutate(ctx, session, id, func(task store.Task) (store.Task, bool, error) {
		created, err := workflow.NewComment(task, session.Actor(), input, time.Now().UTC())
		if err != nil {
			return store.Task{}, false, err
		}
		comment = created
		next := task.Clone()
		next.Comments = append(next.Comments, created)
		next.UpdatedAt = created.CreatedAt
		return next, true, nil
	})
	if err != nil {
		return store.Task{}, store.Comment{}, err
	}

	s.hub.CommentAdded(saved.ID, comment)
	s.publish(events.Event{
		ID:         "comment:" + comment.ID,
		Type:       events.CommentAdded,
		TaskID:     saved.ID,
		Task:       saved,
		Actor:      session.eventActor(),
		Comment:    &comment,
		OccurredAt: comment.CreatedAt,
	})
	return saved, comment, nil
}

// MarkCommentsSeen stamps every comment addressed to the caller's role.
func (s *Service) MarkCommentsSeen(ctx context.Context, session Session, id string) (store.Task, int, error) {
	unlock := s.locks.lock(id)
	defer unlock()
	marked := 0
	saved, changed, err := s.mutate(ctx, session, id, func(task store.Task) (store.Task, bool, error) {
		next := task.Clone()
		marked = workflow.MarkSeen(&next, string(session.Role), time.Now().UTC())
		return next, marked > 0, nil
	})
	if err != nil {
		return store.Task{}, 0, err
	}
	if changed {
		s.hub.TaskUpdated(saved)
	}
	return saved, marked, nil
}

func (s *Service) Assign(ctx context.Context, session Session, id, assigneeID, assigneeName string) (store.Task, error) {
	assigneeID = strings.TrimSpace(assigneeID)
	if strings.TrimSpace(assigneeName) == "" && assigneeID != "" {
		if user, err := s.store.GetUser(ctx, assigneeID); err == nil {
			assigneeName = user.Name
		}
	}
	unlock := s.locks.lock(id)
	defer unlock()
	var entry store.ChangeHistoryEntry
	saved, changed, err := s.mutate(ctx, session, id, func(task store.Task) (store.Task, bool, error) {
		next, recorded, changed, err := workflow.Assign(task, session.Actor(), s.engine.Recorder, assigneeID, assigneeName)
		if err != nil {
			return store.Task{}, false, err
		}
		entry = recorded
		return next, changed, nil
	})
	if err != nil {
		return store.Task{}, err
	}
	if !changed {
		return saved, nil
	}

	s.hub.TaskUpdated(saved)
	s.hub.ToUser(saved.AssignedToID, realtime.EventRequestNew, saved)
	s.publish(events.Event{
		ID:         "assigned:" + saved.ID + ":" + entry.ID,
		Type:       events.TaskAssigned,
		TaskID:     saved.ID,
		Task:       saved,
		Actor:      session.eventActor(),
		Entries:    []store.ChangeHistoryEntry{entry},
		OccurredAt: entry.CreatedAt,
	})
	return saved, nil
}

func (s *Service) ListNotifications(ctx context.Context, session Session, limit int) ([]store.Notification, error) {
	if limit <= 0 || limit > store.MaxListLimit {
		limit = 50
	}
	return s.store.ListNotifications(ctx, session.UserID, limit)
}

func (s *Service) MarkNotificationRead(ctx context.Context, session Session, id string) error {
	err := s.store.MarkNotificationRead(ctx, session.UserID, id)
	if errors.Is(err, store.ErrNotFound) {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Notification not found", nil)
	}
	return err
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, session Session) (int, error) {
	return s.store.MarkAllNotificationsRead(ctx, session.UserID)
}

func (s *Service) UnreadNotifications(ctx context.Context, session Session) (int, error) {
	return s.store.CountUnreadNotifications(ctx, session.UserID)
}

// TaskActivity lists the feed of one task the session can see.
func (s *Service) TaskActivity(ctx context.Context, session Session, taskID string, limit int) ([]store.Activity, error) {
	if _, err := s.loadTask(ctx, session, taskID); err != nil {
		return nil, err
	}
	return s.store.ListActivity(ctx, store.ActivityFilter{TaskID: taskID, Limit: limit})
}

// RecentActivity lists the feed across all tasks.
func (s *Service) RecentActivity(ctx context.Context, session Session, limit int) ([]store.Activity, error) {
	if !rbac.Can(session.Role, rbac.ActionOversee) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Not allowed to view activity across tasks", nil)
	}
	return s.store.ListActivity(ctx, store.ActivityFilter{Limit: limit})
}

func (s *Service) AuditLog(ctx context.Context, session Session, limit int) ([]store.AuditEntry, error) {
	if !rbac.Can(session.Role, rbac.ActionAudit) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Not allowed to view the audit log", nil)
	}
	return s.store.ListAudit(ctx, limit)
}

// RecordAudit queues entry for the audit log.
func (s *Service) RecordAudit(entry store.AuditEntry) {
	if entry.ID == "" {
		entry.ID = util.NewID("aud")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.publish(events.Event{
		ID:         entry.ID,
		Type:       events.RequestAudited,
		Actor:      events.Actor{ID: entry.ActorUserID, Role: entry.ActorRole},
		Audit:      &entry,
		OccurredAt: entry.CreatedAt,
	})
}

func (s *Service) publish(ev events.Event) {
	if s.bus == nil {
		return
	}
	if !s.bus.Publish(ev) {
		s.log.WithFields(logrus.Fields{"event": ev.Type, "task_id": ev.TaskID}).Warn("event not queued")
	}
}

// taskLocks serializes mutations per task inside this process.
type taskLocks struct {
	mu    sync.Mutex
	locks map[string]*taskLock
}

type taskLock struct {
	sync.Mutex
	refs int
}

func newTaskLocks() *taskLocks {
	return &taskLocks{locks: make(map[string]*taskLock)}
}

func (l *taskLocks) lock(id string) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &taskLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.Lock()
	return func() {
		entry.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
