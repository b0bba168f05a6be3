// Package notify turns workflow events into in-app notifications, email and
// SMS/WhatsApp messages. It runs as an event bus subscriber, so delivery
// failures never reach the workflow that produced the event.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"designdesk/api/internal/email"
	"designdesk/api/internal/events"
	"designdesk/api/internal/rbac"
	"designdesk/api/internal/realtime"
	"designdesk/api/internal/store"
	"designdesk/api/internal/util"
)

type notificationStore interface {
	InsertNotification(ctx context.Context, n store.Notification) (bool, error)
	GetUser(ctx context.Context, id string) (store.User, error)
	ListUsersByRole(ctx context.Context, role string) ([]store.User, error)
}

// Pusher delivers a payload to every socket of one user.
type Pusher interface {
	ToUser(userID, event string, payload any)
}

type Mailer interface {
	IsConfigured() bool
	SendFinalFiles(to string, data email.FinalFilesData) error
	SendTaskUpdate(to string, data email.TaskUpdateData) error
}

type Messenger interface {
	IsConfigured() bool
	Send(ctx context.Context, to, body string) error
}

type Options struct {
	Store       notificationStore
	Pusher      Pusher
	Mailer      Mailer
	Messenger   Messenger
	Deduper     Deduper
	FrontendURL string
	Log         logrus.FieldLogger
}

type Notifier struct {
	store       notificationStore
	pusher      Pusher
	mailer      Mailer
	messenger   Messenger
	dedupe      Deduper
	frontendURL string
	log         logrus.FieldLogger
	now         func() time.Time
}

func New(opts Options) *Notifier {
	dedupe := opts.Deduper
	if dedupe == nil {
		dedupe = NewMemoryDeduper()
	}
	return &Notifier{
		store:       opts.Store,
		pusher:      opts.Pusher,
		mailer:      opts.Mailer,
		messenger:   opts.Messenger,
		dedupe:      dedupe,
		frontendURL: strings.TrimRight(opts.FrontendURL, "/"),
		log:         opts.Log.WithField("component", "notify"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type notice struct {
	userID  string
	kind    string
	title   string
	message string
}

type text struct {
	to   string
	body string
}

type mail struct {
	to     string
	final  *email.FinalFilesData
	update *email.TaskUpdateData
}

type plan struct {
	notices []notice
	texts   []text
	mails   []mail
}

// HandleEvent is the event bus subscriber.
func (n *Notifier) HandleEvent(ctx context.Context, ev events.Event) error {
	p, err := n.plan(ctx, ev)
	if err != nil {
		return fmt.Errorf("plan notifications for %s: %w", ev.Type, err)
	}
	return n.deliver(ctx, ev, p)
}

func (n *Notifier) plan(ctx context.Context, ev events.Event) (plan, error) {
	task := ev.Task
	title := task.Title
	var p plan

	switch ev.Type {
	case events.TaskCreated:
		n.noticeTo(&p, []string{task.RequesterID}, "task", "Request submitted: "+title, "Your request has been submitted.")
		treasurers, err := n.roleIDs(ctx, rbac.RoleTreasurer)
		if err != nil {
			return p, err
		}
		n.noticeTo(&p, treasurers, "task", "New request: "+title, "Submitted by "+orDefault(task.RequesterName, "Staff"))
		designers, err := n.designerIDs(ctx, task)
		if err != nil {
			return p, err
		}
		n.noticeTo(&p, designers, "task", "New request: "+title, "Submitted by "+orDefault(task.RequesterName, "Staff"))
		n.textRequester(&p, task, fmt.Sprintf("Hello %s, your request %q was submitted. Deadline: %s. - DesignDesk",
			orDefault(task.RequesterName, "there"), title, deadlineLabel(task.Deadline)))

	case events.TaskStatusChanged:
		label := StatusLabel(ev.To)
		n.noticeTo(&p, []string{task.RequesterID}, "status", "Status updated: "+title, "Status is now "+label+".")
		if ev.To != store.StatusCompleted {
			n.textRequester(&p, task, fmt.Sprintf("Hello %s, the status of %q is now %s. - DesignDesk",
				orDefault(task.RequesterName, "there"), title, label))
		}

	case events.ApprovalRequested:
		treasurers, err := n.roleIDs(ctx, rbac.RoleTreasurer)
		if err != nil {
			return p, err
		}
		detail := fmt.Sprintf("%s made %d changes and the request is waiting for your decision.", orDefault(task.RequesterName, "Staff"), task.ChangeCount)
		n.noticeTo(&p, treasurers, "approval", "Approval needed: "+title, detail)
		if err := n.mailUsers(ctx, &p, treasurers, "Approval requested", title, detail, task.ID); err != nil {
			return p, err
		}

	case events.ApprovalDecided:
		message := "The treasurer " + ev.Decision + " the latest changes."
		n.noticeTo(&p, []string{task.RequesterID, task.AssignedToID}, "approval", "Changes "+ev.Decision+": "+title, message)

	case events.EmergencyDecided:
		message := "Emergency request " + ev.Decision + "."
		n.noticeTo(&p, []string{task.RequesterID}, "emergency", "Emergency "+ev.Decision+": "+title, message)
		n.textRequester(&p, task, fmt.Sprintf("DesignDesk: your emergency request %q was %s.", title, ev.Decision))

	case events.DeadlineProposed:
		recipients, err := n.designerIDs(ctx, task)
		if err != nil {
			return p, err
		}
		admins, err := n.roleIDs(ctx, rbac.RoleAdmin)
		if err != nil {
			return p, err
		}
		message := "Proposed deadline " + deadlineLabel(task.ProposedDeadline) + "."
		n.noticeTo(&p, append(recipients, admins...), "deadline", "Deadline change requested: "+title, message)

	case events.DeadlineDecided:
		message := "Deadline request " + ev.Decision + ". Current deadline " + deadlineLabel(task.Deadline) + "."
		n.noticeTo(&p, []string{task.RequesterID}, "deadline", "Deadline "+ev.Decision+": "+title, message)
		n.textRequester(&p, task, fmt.Sprintf("DesignDesk: your deadline request for %q was %s. Deadline: %s.", title, ev.Decision, deadlineLabel(task.Deadline)))

	case events.FinalFilesDelivered:
		designer := orDefault(ev.Actor.Name, task.AssignedToName)
		n.noticeTo(&p, []string{task.RequesterID}, "files", "Final files ready: "+title, designer+" delivered the final files.")
		n.textRequester(&p, task, fmt.Sprintf("Hello %s, your task %q is completed and the final files are uploaded. - DesignDesk",
			orDefault(task.RequesterName, "there"), title))
		if task.RequesterEmail != "" {
			files := make([]email.DeliveredFile, 0, len(ev.Files))
			for _, file := range ev.Files {
				files = append(files, email.DeliveredFile{Name: file.Name, URL: file.URL})
			}
			p.mails = append(p.mails, mail{to: task.RequesterEmail, final: &email.FinalFilesData{
				RequesterName: task.RequesterName,
				TaskTitle:     title,
				DesignerName:  designer,
				TaskURL:       n.taskURL(task.ID),
				Files:         files,
			}})
		}

	case events.CommentAdded:
		if ev.Comment == nil {
			return p, nil
		}
		recipients, err := n.commentRecipients(ctx, task, *ev.Comment)
		if err != nil {
			return p, err
		}
		snippet := clamp(ev.Comment.Content, 140)
		n.noticeTo(&p, recipients, "comment", "New message on "+title, orDefault(ev.Comment.UserName, "Someone")+": "+snippet)
		if containsRole(ev.Comment.ReceiverRoles, rbac.RoleStaff) && ev.Comment.UserID != task.RequesterID {
			n.textRequester(&p, task, fmt.Sprintf("DesignDesk update on %q: %s commented: %q %s",
				clamp(title, 50), orDefault(ev.Comment.UserName, "Someone"), clamp(ev.Comment.Content, 100), n.taskURL(task.ID)))
		}

	case events.TaskAssigned:
		n.noticeTo(&p, []string{task.AssignedToID}, "task", "New task assigned: "+title, orDefault(ev.Actor.Name, "Staff")+" assigned a task to you.")

	case events.ChangesRecorded:
		if len(ev.Fields) == 0 {
			return p, nil
		}
		recipients, err := n.designerIDs(ctx, task)
		if err != nil {
			return p, err
		}
		n.noticeTo(&p, recipients, "task", "Request updated: "+title, orDefault(ev.Actor.Name, "Staff")+" changed "+strings.Join(ev.Fields, ", ")+".")

	case events.DeadlineReminder:
		hours := 0
		if task.Deadline != nil {
			hours = int(task.Deadline.Sub(ev.OccurredAt).Round(time.Hour).Hours())
		}
		message := fmt.Sprintf("Due in %d hours (%s).", hours, deadlineLabel(task.Deadline))
		n.noticeTo(&p, []string{task.RequesterID, task.AssignedToID}, "deadline", "Deadline approaching: "+title, message)
		n.textRequester(&p, task, fmt.Sprintf("Reminder: your DesignDesk task %q is due in %d hours (%s).", title, hours, deadlineLabel(task.Deadline)))
	}
	return p, nil
}

func (n *Notifier) deliver(ctx context.Context, ev events.Event, p plan) error {
	var errs []error
	key := ev.Key()
	seen := make(map[string]bool, len(p.notices))

	for _, item := range p.notices {
		if item.userID == "" || item.userID == ev.Actor.ID || seen[item.userID] {
			continue
		}
		seen[item.userID] = true
		record := store.Notification{
			ID:        util.NewID("ntf"),
			UserID:    item.userID,
			EventID:   key,
			Type:      item.kind,
			Title:     item.title,
			Message:   item.message,
			TaskID:    ev.TaskID,
			Link:      taskLink(ev.TaskID),
			CreatedAt: n.now(),
		}
		inserted, err := n.store.InsertNotification(ctx, record)
		if err != nil {
			errs = append(errs, fmt.Errorf("store notification for %s: %w", item.userID, err))
			continue
		}
		if inserted && n.pusher != nil {
			n.pusher.ToUser(item.userID, realtime.EventNotificationNew, record)
		}
	}

	if n.messenger != nil && n.messenger.IsConfigured() {
		for _, item := range p.texts {
			if !n.claim(ctx, "text:"+item.to+":"+key) {
				continue
			}
			if err := n.messenger.Send(ctx, item.to, item.body); err != nil && !errors.Is(err, ErrNotConfigured) {
				errs = append(errs, fmt.Errorf("send message: %w", err))
			}
		}
	}

	if n.mailer != nil && n.mailer.IsConfigured() {
		for _, item := range p.mails {
			if !n.claim(ctx, "mail:"+item.to+":"+key) {
				continue
			}
			var err error
			if item.final != nil {
				err = n.mailer.SendFinalFiles(item.to, *item.final)
			} else if item.update != nil {
				err = n.mailer.SendTaskUpdate(item.to, *item.update)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("send email: %w", err))
			}
		}
	}
	return errors.Join(errs...)
}

// claim reports whether this outbound message still needs sending. A dedupe
// backend failure errs on the side of sending.
func (n *Notifier) claim(ctx context.Context, key string) bool {
	ok, err := n.dedupe.Claim(ctx, key)
	if err != nil {
		n.log.WithError(err).WithField("key", key).Warn("notification dedupe unavailable")
		return true
	}
	return ok
}

func (n *Notifier) noticeTo(p *plan, userIDs []string, kind, title, message string) {
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		p.notices = append(p.notices, notice{userID: id, kind: kind, title: title, message: message})
	}
}

func (n *Notifier) textRequester(p *plan, task store.Task, body string) {
	seen := map[string]bool{}
	for _, phone := range append([]string{task.RequesterPhone}, task.SecondaryPhones...) {
		phone = strings.TrimSpace(phone)
		if phone == "" || seen[phone] {
			continue
		}
		seen[phone] = true
		p.texts = append(p.texts, text{to: phone, body: body})
	}
}

func (n *Notifier) mailUsers(ctx context.Context, p *plan, userIDs []string, headline, title, detail, taskID string) error {
	for _, id := range userIDs {
		user, err := n.store.GetUser(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if user.Email == "" {
			continue
		}
		p.mails = append(p.mails, mail{to: user.Email, update: &email.TaskUpdateData{
			RecipientName: user.Name,
			TaskTitle:     title,
			Headline:      headline,
			Detail:        detail,
			TaskURL:       n.taskURL(taskID),
		}})
	}
	return nil
}

func (n *Notifier) roleIDs(ctx context.Context, role rbac.Role) ([]string, error) {
	users, err := n.store.ListUsersByRole(ctx, string(role))
	if err != nil {
		return nil, fmt.Errorf("list %s users: %w", role, err)
	}
	ids := make([]string, 0, len(users))
	for _, user := range users {
		ids = append(ids, user.ID)
	}
	return ids, nil
}

// designerIDs is the assignee, or every designer while the task is unassigned.
func (n *Notifier) designerIDs(ctx context.Context, task store.Task) ([]string, error) {
	if task.AssignedToID != "" {
		return []string{task.AssignedToID}, nil
	}
	return n.roleIDs(ctx, rbac.RoleDesigner)
}

// commentRecipients maps the comment's stored receiver roles onto users
// related to the task.
func (n *Notifier) commentRecipients(ctx context.Context, task store.Task, comment store.Comment) ([]string, error) {
	var ids []string
	for _, role := range comment.ReceiverRoles {
		switch rbac.Role(role) {
		case rbac.RoleStaff:
			ids = append(ids, task.RequesterID)
		case rbac.RoleDesigner:
			designers, err := n.designerIDs(ctx, task)
			if err != nil {
				return nil, err
			}
			ids = append(ids, designers...)
		case rbac.RoleTreasurer, rbac.RoleAdmin:
			users, err := n.roleIDs(ctx, rbac.Role(role))
			if err != nil {
				return nil, err
			}
			ids = append(ids, users...)
		}
	}
	out := ids[:0]
	for _, id := range ids {
		if id != comment.UserID {
			out = append(out, id)
		}
	}
	return out, nil
}

func (n *Notifier) taskURL(taskID string) string {
	return n.frontendURL + taskLink(taskID)
}

func taskLink(taskID string) string {
	if taskID == "" {
		return ""
	}
	return "/task/" + taskID
}

// StatusLabel renders a status value for people.
func StatusLabel(status string) string {
	switch status {
	case store.StatusPending:
		return "Pending"
	case store.StatusInProgress:
		return "In Progress"
	case store.StatusUnderReview:
		return "Submitted for Review"
	case store.StatusClarificationRequired:
		return "Clarification Required"
	case store.StatusCompleted:
		return "Completed"
	}
	return status
}

func deadlineLabel(deadline *time.Time) string {
	if deadline == nil {
		return "TBD"
	}
	return deadline.Format("Jan 2, 2006 3:04 PM")
}

func containsRole(roles []string, role rbac.Role) bool {
	for _, candidate := range roles {
		if candidate == string(role) {
			return true
		}
	}
	return false
}

func clamp(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max-3]) + "..."
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
