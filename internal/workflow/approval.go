package workflow

import (
	"fmt"
	"strings"
	"time"

	"designdesk/api/internal/rbac"
	"designdesk/api/internal/store"
)

const DefaultApprovalThreshold = 3

// StaffChangesSinceDecision counts staff-authored entries newer than the most
// recent resolved approval decision. Approval, creation and assignment
// entries never count.
func StaffChangesSinceDecision(history []store.ChangeHistoryEntry) int {
	start := 0
	for i := len(history) - 1; i >= 0; i-- {
		entry := history[i]
		if entry.Field == FieldApprovalStatus && entry.NewValue != store.DecisionPending {
			start = i + 1
			break
		}
	}
	count := 0
	for _, entry := range history[start:] {
		if entry.UserRole != string(rbac.RoleStaff) {
			continue
		}
		if entry.Field == FieldApprovalStatus || entry.Field == FieldCreated || entry.Field == FieldAssignee {
			continue
		}
		count++
	}
	return count
}

// IsLocked reports whether the approval gate is engaged.
func IsLocked(task store.Task) bool {
	return task.ApprovalStatus == store.DecisionPending
}

// CanStaffMutate rejects staff mutations while a treasurer decision is pending.
func CanStaffMutate(task store.Task, actor Actor) GuardResult {
	if actor.IsStaff() && IsLocked(task) {
		return deny(KindLock, "task %s is awaiting treasurer approval", task.ID)
	}
	return allow()
}

// EngageGate forces approvalStatus to pending once the staff change count
// reaches threshold. The engagement is itself recorded as a system entry.
func EngageGate(task *store.Task, rec Recorder, threshold int) (store.ChangeHistoryEntry, bool) {
	if threshold <= 0 {
		threshold = DefaultApprovalThreshold
	}
	if IsLocked(*task) {
		return store.ChangeHistoryEntry{}, false
	}
	count := StaffChangesSinceDecision(task.ChangeHistory)
	if count < threshold {
		return store.ChangeHistoryEntry{}, false
	}
	previous := task.ApprovalStatus
	task.ApprovalStatus = store.DecisionPending
	entry := rec.Record(task, systemActor(), Change{
		Type:     "status",
		Field:    FieldApprovalStatus,
		OldValue: previous,
		NewValue: store.DecisionPending,
		Note:     fmt.Sprintf("Treasurer approval required after %d staff changes", count),
	})
	return entry, true
}

func normalizeDecision(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func validDecision(decision string) bool {
	return decision == store.DecisionApproved || decision == store.DecisionRejected
}

// DecideApproval records a treasurer decision. Re-sending the decision already
// in effect is a no-op and returns changed=false.
func DecideApproval(task *store.Task, actor Actor, rec Recorder, change Change, now time.Time) (store.ChangeHistoryEntry, bool, error) {
	if !rbac.Can(actor.Role, rbac.ActionApprove) {
		return store.ChangeHistoryEntry{}, false, forbiddenf("only a treasurer can decide approval")
	}
	decision := normalizeDecision(change.NewValue)
	if !validDecision(decision) {
		return store.ChangeHistoryEntry{}, false, validationf("approval decision must be approved or rejected")
	}
	if task.ApprovalStatus == decision {
		return store.ChangeHistoryEntry{}, false, nil
	}

	oldValue := change.OldValue
	if oldValue == "" {
		oldValue = task.ApprovalStatus
	}
	task.ApprovalStatus = decision
	task.ApprovedBy = actor.Name
	decidedAt := now
	task.ApprovalDate = &decidedAt
	entry := rec.Record(task, actor, Change{
		Type:     defaultType(change.Type, "approval"),
		Field:    FieldApprovalStatus,
		OldValue: oldValue,
		NewValue: decision,
		Note:     change.Note,
	})
	return entry, true, nil
}

func defaultType(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
