// Package reminders publishes a DeadlineReminder for open tasks whose
// deadline falls within the next day.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"designdesk/api/internal/events"
	"designdesk/api/internal/store"
	"designdesk/api/internal/workflow"
)

const lookahead = 24 * time.Hour

type taskStore interface {
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]store.Task, error)
	GetTask(ctx context.Context, id string) (store.Task, error)
	UpdateTask(ctx context.Context, task store.Task) (store.Task, error)
}

type publisher interface {
	Publish(event events.Event) bool
}

type Scheduler struct {
	store    taskStore
	bus      publisher
	interval time.Duration
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewScheduler(st taskStore, bus publisher, interval time.Duration, log logrus.FieldLogger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		store:    st,
		bus:      bus,
		interval: interval,
		log:      log.WithField("component", "reminders"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run checks once immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.WithField("interval", s.interval.String()).Info("deadline reminders started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Check(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.WithError(err).Warn("reminder check failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Check marks every due task as reminded and publishes one reminder per task.
// The flag is a derived-state write and is not recorded in change history.
func (s *Scheduler) Check(ctx context.Context) (int, error) {
	now := s.now()
	until := now.Add(lookahead)
	due, err := s.store.ListTasks(ctx, store.TaskFilter{
		Statuses:       []string{store.StatusPending, store.StatusInProgress},
		DeadlineAfter:  &now,
		DeadlineBefore: &until,
		Unreminded:     true,
		Limit:          store.MaxListLimit,
	})
	if err != nil {
		return 0, fmt.Errorf("list due tasks: %w", err)
	}

	sent := 0
	for _, task := range due {
		marked, ok, err := s.markReminded(ctx, task)
		if err != nil {
			s.log.WithError(err).WithField("task_id", task.ID).Warn("mark reminder sent")
			continue
		}
		if !ok {
			continue
		}
		s.bus.Publish(events.Event{
			ID:         "reminder:" + marked.ID + ":" + workflow.FormatDeadline(marked.Deadline),
			Type:       events.DeadlineReminder,
			TaskID:     marked.ID,
			Task:       marked,
			Actor:      events.Actor{ID: workflow.SystemUserID, Name: workflow.SystemUserName, Role: workflow.SystemRole},
			OccurredAt: now,
		})
		sent++
	}
	if sent > 0 {
		s.log.WithField("count", sent).Info("deadline reminders queued")
	}
	return sent, nil
}

// markReminded sets the flag, re-reading once on a version conflict. ok is
// false when another writer already reminded or closed the task.
func (s *Scheduler) markReminded(ctx context.Context, task store.Task) (store.Task, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if task.ReminderSent || (task.Status != store.StatusPending && task.Status != store.StatusInProgress) {
			return task, false, nil
		}
		task.ReminderSent = true
		saved, err := s.store.UpdateTask(ctx, task)
		if err == nil {
			return saved, true, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return store.Task{}, false, err
		}
		task, err = s.store.GetTask(ctx, task.ID)
		if err != nil {
			return store.Task{}, false, err
		}
	}
	return store.Task{}, false, store.ErrConflict
}
