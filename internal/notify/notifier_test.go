package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"designdesk/api/internal/email"
	"designdesk/api/internal/events"
	"designdesk/api/internal/logging"
	"designdesk/api/internal/realtime"
	"designdesk/api/internal/store"
)

type pushed struct {
	userID string
	event  string
}

type fakePusher struct {
	mu   sync.Mutex
	sent []pushed
}

func (f *fakePusher) ToUser(userID, event string, _ any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, pushed{userID: userID, event: event})
}

type fakeMessenger struct {
	sent []text
	err  error
}

func (f *fakeMessenger) IsConfigured() bool { return true }
func (f *fakeMessenger) Send(_ context.Context, to, body string) error {
	f.sent = append(f.sent, text{to: to, body: body})
	return f.err
}

type fakeMailer struct {
	final   []string
	updates []string
}

func (f *fakeMailer) IsConfigured() bool { return true }
func (f *fakeMailer) SendFinalFiles(to string, _ email.FinalFilesData) error {
	f.final = append(f.final, to)
	return nil
}
func (f *fakeMailer) SendTaskUpdate(to string, _ email.TaskUpdateData) error {
	f.updates = append(f.updates, to)
	return nil
}

type fixture struct {
	store     *store.MemoryStore
	pusher    *fakePusher
	messenger *fakeMessenger
	mailer    *fakeMailer
	notifier  *Notifier
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()
	for _, user := range []store.User{
		{ID: "staff1", Name: "Sam", Role: "staff", Email: "sam@example.com"},
		{ID: "des1", Name: "Dana", Role: "designer"},
		{ID: "des2", Name: "Dev", Role: "designer"},
		{ID: "tre1", Name: "Tess", Role: "treasurer", Email: "tess@example.com"},
		{ID: "adm1", Name: "Ada", Role: "admin"},
	} {
		require.NoError(t, st.UpsertUser(ctx, user))
	}
	f := fixture{store: st, pusher: &fakePusher{}, messenger: &fakeMessenger{}, mailer: &fakeMailer{}}
	f.notifier = New(Options{
		Store:       st,
		Pusher:      f.pusher,
		Mailer:      f.mailer,
		Messenger:   f.messenger,
		FrontendURL: "https://desk.example.com/",
		Log:         logging.Discard(),
	})
	return f
}

func sampleTask() store.Task {
	return store.Task{
		ID:              "t1",
		Title:           "Spring poster",
		Status:          store.StatusInProgress,
		RequesterID:     "staff1",
		RequesterName:   "Sam",
		RequesterEmail:  "sam@example.com",
		RequesterPhone:  "+15550001",
		SecondaryPhones: []string{"+15550002", "+15550001"},
		AssignedToID:    "des1",
		AssignedToName:  "Dana",
	}
}

func (f fixture) inbox(t *testing.T, userID string) []store.Notification {
	t.Helper()
	items, err := f.store.ListNotifications(context.Background(), userID, 0)
	require.NoError(t, err)
	return items
}

func TestStatusChangeNotifiesRequester(t *testing.T) {
	f := newFixture(t)
	ev := events.Event{
		ID:     "status:t1:1",
		Type:   events.TaskStatusChanged,
		TaskID: "t1",
		Task:   sampleTask(),
		Actor:  events.Actor{ID: "des1", Name: "Dana", Role: "designer"},
		From:   store.StatusPending,
		To:     store.StatusInProgress,
	}
	require.NoError(t, f.notifier.HandleEvent(context.Background(), ev))

	items := f.inbox(t, "staff1")
	require.Len(t, items, 1)
	assert.Equal(t, "status:t1:1", items[0].EventID)
	assert.Equal(t, "/task/t1", items[0].Link)
	assert.Contains(t, items[0].Message, "In Progress")
	assert.Equal(t, []pushed{{userID: "staff1", event: realtime.EventNotificationNew}}, f.pusher.sent)

	require.Len(t, f.messenger.sent, 2, "primary and distinct secondary phone")
	assert.Equal(t, "+15550001", f.messenger.sent[0].to)
	assert.Equal(t, "+15550002", f.messenger.sent[1].to)
}

func TestRedeliveredEventIsDeduped(t *testing.T) {
	f := newFixture(t)
	ev := events.Event{ID: "status:t1:2", Type: events.TaskStatusChanged, TaskID: "t1", Task: sampleTask(), To: store.StatusUnderReview}

	require.NoError(t, f.notifier.HandleEvent(context.Background(), ev))
	require.NoError(t, f.notifier.HandleEvent(context.Background(), ev))

	assert.Len(t, f.inbox(t, "staff1"), 1)
	assert.Len(t, f.pusher.sent, 1)
	assert.Len(t, f.messenger.sent, 2)
}

func TestActorIsNotNotified(t *testing.T) {
	f := newFixture(t)
	task := sampleTask()
	comment := store.Comment{ID: "c1", UserID: "staff1", UserName: "Sam", UserRole: "staff", Content: "Can we use blue?", ReceiverRoles: []string{"treasurer", "designer", "admin"}}
	ev := events.Event{ID: "comment:c1", Type: events.CommentAdded, TaskID: "t1", Task: task, Comment: &comment, Actor: events.Actor{ID: "staff1", Role: "staff"}}

	require.NoError(t, f.notifier.HandleEvent(context.Background(), ev))

	assert.Empty(t, f.inbox(t, "staff1"))
	assert.Len(t, f.inbox(t, "des1"), 1)
	assert.Empty(t, f.inbox(t, "des2"), "only the assignee hears about comments on assigned tasks")
	assert.Len(t, f.inbox(t, "tre1"), 1)
	assert.Len(t, f.inbox(t, "adm1"), 1)
	assert.Empty(t, f.messenger.sent, "requester wrote the comment")
}

func TestCommentToStaffTextsRequester(t *testing.T) {
	f := newFixture(t)
	task := sampleTask()
	task.SecondaryPhones = nil
	comment := store.Comment{ID: "c2", UserID: "des1", UserName: "Dana", UserRole: "designer", Content: "Draft attached", ReceiverRoles: []string{"staff"}}
	ev := events.Event{ID: "comment:c2", Type: events.CommentAdded, TaskID: "t1", Task: task, Comment: &comment, Actor: events.Actor{ID: "des1", Role: "designer"}}

	require.NoError(t, f.notifier.HandleEvent(context.Background(), ev))

	items := f.inbox(t, "staff1")
	require.Len(t, items, 1)
	assert.Equal(t, "Dana: Draft attached", items[0].Message)
	assert.Empty(t, f.inbox(t, "tre1"))
	require.Len(t, f.messenger.sent, 1)
	assert.Contains(t, f.messenger.sent[0].body, "https://desk.example.com/task/t1")
}

func TestTaskCreatedUnassignedReachesAllDesigners(t *testing.T) {
	f := newFixture(t)
	task := sampleTask()
	task.AssignedToID = ""
	ev := events.Event{ID: "created:t1", Type: events.TaskCreated, TaskID: "t1", Task: task, Actor: events.Actor{ID: "staff1", Role: "staff"}}

	require.NoError(t, f.notifier.HandleEvent(context.Background(), ev))

	assert.Empty(t, f.inbox(t, "staff1"), "creator is the actor")
	assert.Len(t, f.inbox(t, "des1"), 1)
	assert.Len(t, f.inbox(t, "des2"), 1)
	assert.Len(t, f.inbox(t, "tre1"), 1)
}

func TestApprovalRequestedEmailsTreasurers(t *testing.T) {
	f := newFixture(t)
	task := sampleTask()
	task.ChangeCount = 3
	ev := events.Event{ID: "approval:t1:req", Type: events.ApprovalRequested, TaskID: "t1", Task: task, Actor: events.Actor{ID: "staff1", Role: "staff"}}

	require.NoError(t, f.notifier.HandleEvent(context.Background(), ev))

	assert.Len(t, f.inbox(t, "tre1"), 1)
	assert.Equal(t, []string{"tess@example.com"}, f.mailer.updates)
}

func TestFinalFilesEmailAndText(t *testing.T) {
	f := newFixture(t)
	task := sampleTask()
	task.Status = store.StatusCompleted
	ev := events.Event{
		ID:     "final:t1",
		Type:   events.FinalFilesDelivered,
		TaskID: "t1",
		Task:   task,
		Actor:  events.Actor{ID: "des1", Name: "Dana", Role: "designer"},
		Files:  []store.TaskFile{{Name: "poster.pdf", URL: "https://files.example.com/poster.pdf", Type: store.FileOutput}},
	}

	require.NoError(t, f.notifier.HandleEvent(context.Background(), ev))

	assert.Equal(t, []string{"sam@example.com"}, f.mailer.final)
	assert.Len(t, f.messenger.sent, 2)
	assert.Len(t, f.inbox(t, "staff1"), 1)
}

func TestMessengerFailureIsReportedNotFatal(t *testing.T) {
	f := newFixture(t)
	f.messenger.err = errors.New("twilio down")
	ev := events.Event{ID: "emg:t1", Type: events.EmergencyDecided, TaskID: "t1", Task: sampleTask(), Decision: "approved"}

	err := f.notifier.HandleEvent(context.Background(), ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "twilio down")
	assert.Len(t, f.inbox(t, "staff1"), 1, "in-app notice still stored")
}

func TestDeadlineReminderHours(t *testing.T) {
	f := newFixture(t)
	task := sampleTask()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	deadline := now.Add(5 * time.Hour)
	task.Deadline = &deadline
	task.SecondaryPhones = nil
	ev := events.Event{ID: "reminder:t1", Type: events.DeadlineReminder, TaskID: "t1", Task: task, Actor: events.Actor{ID: "system"}, OccurredAt: now}

	require.NoError(t, f.notifier.HandleEvent(context.Background(), ev))

	require.Len(t, f.messenger.sent, 1)
	assert.Contains(t, f.messenger.sent[0].body, "due in 5 hours")
	assert.Len(t, f.inbox(t, "des1"), 1)
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "Submitted for Review", StatusLabel(store.StatusUnderReview))
	assert.Equal(t, "custom", StatusLabel("custom"))
}
