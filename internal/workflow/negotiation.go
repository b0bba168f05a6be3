package workflow

import (
	"fmt"
	"strings"
	"time"

	"designdesk/api/internal/rbac"
	"designdesk/api/internal/store"
)

// DecideEmergency resolves a pending emergency override. Designers decide.
func DecideEmergency(task *store.Task, actor Actor, rec Recorder, change Change, now time.Time) (store.ChangeHistoryEntry, bool, error) {
	if !rbac.Can(actor.Role, rbac.ActionEmergency) {
		return store.ChangeHistoryEntry{}, false, forbiddenf("only a designer can decide emergency requests")
	}
	if !task.IsEmergency {
		return store.ChangeHistoryEntry{}, false, validationf("task %s is not an emergency request", task.ID)
	}
	decision := normalizeDecision(change.NewValue)
	if !validDecision(decision) {
		return store.ChangeHistoryEntry{}, false, validationf("emergency decision must be approved or rejected")
	}
	if task.EmergencyApprovalStatus == decision {
		return store.ChangeHistoryEntry{}, false, nil
	}
	if task.EmergencyApprovalStatus != store.DecisionPending {
		return store.ChangeHistoryEntry{}, false, validationf("emergency request already %s", task.EmergencyApprovalStatus)
	}

	task.EmergencyApprovalStatus = decision
	task.EmergencyApprovedBy = actor.Name
	decidedAt := now
	task.EmergencyApprovedAt = &decidedAt
	entry := rec.Record(task, actor, Change{
		Type:     defaultType(change.Type, "emergency"),
		Field:    FieldEmergencyApproval,
		OldValue: firstNonEmpty(change.OldValue, store.DecisionPending),
		NewValue: decision,
		Note:     change.Note,
	})
	return entry, true, nil
}

// ProposeDeadline raises a deadline change for the designer to decide.
func ProposeDeadline(task *store.Task, actor Actor, rec Recorder, change Change) (store.ChangeHistoryEntry, error) {
	if !rbac.Can(actor.Role, rbac.ActionEdit) {
		return store.ChangeHistoryEntry{}, forbiddenf("role %s cannot request a deadline change", actor.Role)
	}
	if IsLocked(*task) {
		return store.ChangeHistoryEntry{}, &Error{Kind: KindLock, Message: fmt.Sprintf("task %s is awaiting treasurer approval", task.ID)}
	}
	proposed, err := ParseDeadline(change.NewValue)
	if err != nil {
		return store.ChangeHistoryEntry{}, err
	}

	oldValue := change.OldValue
	if oldValue == "" {
		oldValue = FormatDeadline(task.Deadline)
	}
	task.ProposedDeadline = &proposed
	task.DeadlineApprovalStatus = store.DecisionPending
	task.DeadlineRequestedBy = actor.Name
	task.DeadlineApprovedBy = ""
	task.DeadlineApprovedAt = nil
	entry := rec.Record(task, actor, Change{
		Type:     defaultType(change.Type, "deadline"),
		Field:    FieldDeadlineRequest,
		OldValue: oldValue,
		NewValue: change.NewValue,
		Note:     change.Note,
	})
	return entry, nil
}

// DecideDeadline approves or rejects the pending proposal. Approval promotes
// the proposal to the deadline; both outcomes clear the proposal.
func DecideDeadline(task *store.Task, actor Actor, rec Recorder, change Change, now time.Time) (store.ChangeHistoryEntry, bool, error) {
	if !rbac.Can(actor.Role, rbac.ActionDeadline) {
		return store.ChangeHistoryEntry{}, false, forbiddenf("only a designer can decide deadline requests")
	}
	decision := normalizeDecision(change.NewValue)
	if !validDecision(decision) {
		return store.ChangeHistoryEntry{}, false, validationf("deadline decision must be approved or rejected")
	}
	if task.DeadlineApprovalStatus != store.DecisionPending || task.ProposedDeadline == nil {
		if task.DeadlineApprovalStatus == decision {
			return store.ChangeHistoryEntry{}, false, nil
		}
		return store.ChangeHistoryEntry{}, false, validationf("task %s has no pending deadline request", task.ID)
	}

	proposed := *task.ProposedDeadline
	oldValue := change.OldValue
	if oldValue == "" {
		oldValue = FormatDeadline(task.Deadline)
	}
	if decision == store.DecisionApproved {
		task.Deadline = &proposed
		task.ReminderSent = false
	}
	task.ProposedDeadline = nil
	task.DeadlineApprovalStatus = decision
	task.DeadlineApprovedBy = actor.Name
	decidedAt := now
	task.DeadlineApprovedAt = &decidedAt

	note := change.Note
	if note == "" {
		note = fmt.Sprintf("Deadline %s %s by %s", FormatDeadline(&proposed), decision, actor.Name)
	}
	entry := rec.Record(task, actor, Change{
		Type:     defaultType(change.Type, "deadline"),
		Field:    FieldDeadlineRequest,
		OldValue: oldValue,
		NewValue: decision,
		Note:     note,
	})
	return entry, true, nil
}

// ParseDeadline accepts RFC 3339 timestamps or plain dates.
func ParseDeadline(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, validationf("deadline is required")
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04", "2006-01-02"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, validationf("invalid deadline %q", value)
}

func FormatDeadline(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
