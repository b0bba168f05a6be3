// Package events carries domain events from the workflow to independent
// subscribers (notifications, search indexing, calendar placeholders, the
// activity feed and the audit log).
package events

import (
	"time"

	"designdesk/api/internal/store"
)

type Type string

const (
	TaskCreated         Type = "TaskCreated"
	ChangesRecorded     Type = "ChangesRecorded"
	TaskStatusChanged   Type = "TaskStatusChanged"
	ApprovalDecided     Type = "ApprovalDecided"
	ApprovalRequested   Type = "ApprovalRequested"
	EmergencyDecided    Type = "EmergencyDecided"
	DeadlineProposed    Type = "DeadlineProposed"
	DeadlineDecided     Type = "DeadlineDecided"
	FinalFilesDelivered Type = "FinalFilesDelivered"
	CommentAdded        Type = "CommentAdded"
	TaskAssigned        Type = "TaskAssigned"
	DeadlineReminder    Type = "DeadlineReminder"
	// RequestAudited carries an audit record for a successful write request.
	RequestAudited Type = "RequestAudited"
)

// Actor is the user who caused the event.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Event is a snapshot of one workflow outcome. Task is the committed document.
type Event struct {
	ID         string                     `json:"id"`
	Type       Type                       `json:"type"`
	TaskID     string                     `json:"taskId"`
	Task       store.Task                 `json:"task"`
	Actor      Actor                      `json:"actor"`
	From       string                     `json:"from,omitempty"`
	To         string                     `json:"to,omitempty"`
	Decision   string                     `json:"decision,omitempty"`
	Fields     []string                   `json:"fields,omitempty"`
	Comment    *store.Comment             `json:"comment,omitempty"`
	Files      []store.TaskFile           `json:"files,omitempty"`
	Entries    []store.ChangeHistoryEntry `json:"entries,omitempty"`
	Audit      *store.AuditEntry          `json:"audit,omitempty"`
	OccurredAt time.Time                  `json:"occurredAt"`
}

// Key identifies the event for per-recipient dedupe.
func (e Event) Key() string {
	if e.ID != "" {
		return e.ID
	}
	return string(e.Type) + ":" + e.TaskID + ":" + e.OccurredAt.UTC().Format(time.RFC3339Nano)
}
