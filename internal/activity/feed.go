// Package activity keeps the task activity feed and the write-request audit
// log. Both are filled from the event bus after the workflow has committed.
package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"designdesk/api/internal/events"
	"designdesk/api/internal/store"
	"designdesk/api/internal/util"
)

type activityStore interface {
	InsertActivity(ctx context.Context, a store.Activity) (bool, error)
}

// Feed turns task events into activity lines.
type Feed struct {
	store activityStore
	log   logrus.FieldLogger
}

func NewFeed(st activityStore, log logrus.FieldLogger) *Feed {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Feed{store: st, log: log.WithField("component", "activity")}
}

// ActionFor maps an event to its feed action. Events that are not feed
// material return "".
func ActionFor(t events.Type) string {
	switch t {
	case events.TaskCreated:
		return store.ActivityCreated
	case events.ChangesRecorded:
		return store.ActivityUpdated
	case events.CommentAdded:
		return store.ActivityCommented
	case events.TaskAssigned:
		return store.ActivityAssigned
	default:
		return ""
	}
}

// HandleEvent records one activity line per event. Redelivered events are
// ignored by the store's event id check.
func (f *Feed) HandleEvent(ctx context.Context, ev events.Event) error {
	action := ActionFor(ev.Type)
	if action == "" || ev.TaskID == "" {
		return nil
	}
	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	inserted, err := f.store.InsertActivity(ctx, store.Activity{
		ID:        util.NewID("act"),
		EventID:   ev.Key(),
		TaskID:    ev.TaskID,
		TaskTitle: ev.Task.Title,
		Action:    action,
		UserID:    ev.Actor.ID,
		UserName:  ev.Actor.Name,
		CreatedAt: at,
	})
	if err != nil {
		return fmt.Errorf("record %s activity: %w", action, err)
	}
	if !inserted {
		f.log.WithFields(logrus.Fields{"task_id": ev.TaskID, "event": ev.Key()}).Debug("activity already recorded")
	}
	return nil
}
