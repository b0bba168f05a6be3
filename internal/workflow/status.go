package workflow

import (
	"strings"

	"designdesk/api/internal/rbac"
	"designdesk/api/internal/store"
)

// Actor is the authenticated user performing a mutation.
type Actor struct {
	ID    string
	Name  string
	Email string
	Role  rbac.Role
}

func (a Actor) IsStaff() bool {
	return a.Role == rbac.RoleStaff
}

// statusTransitions lists every legal edge. Completed has none.
var statusTransitions = map[string][]string{
	store.StatusPending:               {store.StatusInProgress, store.StatusClarificationRequired},
	store.StatusInProgress:            {store.StatusUnderReview, store.StatusClarificationRequired},
	store.StatusUnderReview:           {store.StatusCompleted, store.StatusClarificationRequired},
	store.StatusClarificationRequired: {store.StatusInProgress},
	store.StatusCompleted:             {},
}

// NormalizeStatus maps aliases onto canonical status values.
func NormalizeStatus(value string) string {
	status := strings.ToLower(strings.TrimSpace(value))
	switch status {
	case "clarification":
		return store.StatusClarificationRequired
	case "in-progress", "inprogress":
		return store.StatusInProgress
	case "under-review", "review":
		return store.StatusUnderReview
	}
	return status
}

func ValidStatus(status string) bool {
	_, ok := statusTransitions[status]
	return ok
}

func IsTerminal(status string) bool {
	return status == store.StatusCompleted
}

// NextStatuses returns the legal targets from status.
func NextStatuses(status string) []string {
	return append([]string(nil), statusTransitions[NormalizeStatus(status)]...)
}

type StatusTransitionContext struct {
	TaskID        string
	From          string
	To            string
	Role          rbac.Role
	HasOutputFile bool
}

// CanTransitionStatus evaluates a status change.
// Rules:
// - Only designer or admin may move status
// - Target must be a known status
// - Completion needs at least one output file
// - The edge must exist in the transition table
func CanTransitionStatus(ctx StatusTransitionContext) GuardResult {
	if !rbac.Can(ctx.Role, rbac.ActionTransition) {
		return deny(KindPermission, "role %s cannot change task status", ctx.Role)
	}
	from := NormalizeStatus(ctx.From)
	to := NormalizeStatus(ctx.To)
	if to == "" {
		return deny(KindValidation, "status is required")
	}
	if !ValidStatus(to) {
		return deny(KindValidation, "unknown status %q", ctx.To)
	}
	if to == store.StatusCompleted && !ctx.HasOutputFile {
		return deny(KindValidation, "task %s needs at least one output file before completion", ctx.TaskID)
	}
	for _, next := range statusTransitions[from] {
		if next == to {
			return allow()
		}
	}
	if IsTerminal(from) {
		return deny(KindValidation, "task %s is completed", ctx.TaskID)
	}
	return deny(KindValidation, "cannot move task from %s to %s", from, to)
}

// CanAccess reports whether actor may read or mutate task.
func CanAccess(task store.Task, actor Actor) bool {
	switch actor.Role {
	case rbac.RoleTreasurer, rbac.RoleAdmin:
		return true
	case rbac.RoleStaff:
		return task.RequesterID == actor.ID
	case rbac.RoleDesigner:
		return task.AssignedToID == "" || task.AssignedToID == actor.ID
	default:
		return false
	}
}
