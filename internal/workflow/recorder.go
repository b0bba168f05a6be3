package workflow

import (
	"time"

	"designdesk/api/internal/store"
	"designdesk/api/internal/util"
)

const (
	SystemUserID   = "system"
	SystemUserName = "System"
	SystemRole     = "system"
)

const (
	FieldCreated           = "created"
	FieldStatus            = "status"
	FieldApprovalStatus    = "approval_status"
	FieldEmergencyApproval = "emergency_approval"
	FieldDeadlineRequest   = "deadline_request"
	FieldDeadline          = "deadline"
	FieldAssignee          = "assignee"
	FieldFiles             = "files"
	FieldDesignVersion     = "design_version"
	FieldStaffNote         = "staff_note"
	FieldDescription       = "description"
	FieldTitle             = "title"
	FieldUrgency           = "urgency"
	FieldCategory          = "category"
)

// Change describes one logical mutation before it is stamped.
type Change struct {
	Type     string
	Field    string
	OldValue string
	NewValue string
	Note     string
}

// Recorder appends change history entries. It is the only writer of Task.ChangeHistory.
type Recorder struct {
	Now   func() time.Time
	NewID func() string
}

func NewRecorder() Recorder {
	return Recorder{
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: func() string { return util.NewID("chg") },
	}
}

// Record appends exactly one entry to task and bumps its change count.
// Entry timestamps never go backwards, so append order matches creation order.
func (r Recorder) Record(task *store.Task, actor Actor, change Change) store.ChangeHistoryEntry {
	now := r.now()
	if n := len(task.ChangeHistory); n > 0 && now.Before(task.ChangeHistory[n-1].CreatedAt) {
		now = task.ChangeHistory[n-1].CreatedAt
	}
	changeType := change.Type
	if changeType == "" {
		changeType = "update"
	}
	entry := store.ChangeHistoryEntry{
		ID:        r.newID(),
		Type:      changeType,
		Field:     change.Field,
		OldValue:  change.OldValue,
		NewValue:  change.NewValue,
		Note:      change.Note,
		UserID:    actor.ID,
		UserName:  actor.Name,
		UserRole:  string(actor.Role),
		CreatedAt: now,
	}
	task.ChangeHistory = append(task.ChangeHistory, entry)
	task.ChangeCount++
	task.UpdatedAt = now
	return entry
}

func (r Recorder) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now()
}

func (r Recorder) newID() string {
	if r.NewID == nil {
		return util.NewID("chg")
	}
	return r.NewID()
}

func systemActor() Actor {
	return Actor{ID: SystemUserID, Name: SystemUserName, Role: SystemRole}
}
