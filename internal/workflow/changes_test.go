package workflow

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"designdesk/api/internal/rbac"
	"designdesk/api/internal/store"
)

var (
	staff     = Actor{ID: "staff-1", Name: "Sam Staff", Role: rbac.RoleStaff}
	designer  = Actor{ID: "designer-1", Name: "Dana Designer", Role: rbac.RoleDesigner}
	treasurer = Actor{ID: "treasurer-1", Name: "Tess Treasurer", Role: rbac.RoleTreasurer}
)

func testEngine() Engine {
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	seq := 0
	return Engine{
		Threshold: DefaultApprovalThreshold,
		Recorder: Recorder{
			Now: func() time.Time {
				clock = clock.Add(time.Second)
				return clock
			},
			NewID: func() string {
				seq++
				return fmt.Sprintf("chg_%d", seq)
			},
		},
	}
}

func newTestTask(e Engine, emergency bool) store.Task {
	return NewTask(store.Task{Title: "Spring poster", Description: "A3 poster", IsEmergency: emergency}, staff, e.Recorder)
}

func mustApply(t *testing.T, e Engine, task store.Task, actor Actor, changes ...ChangeRequest) Outcome {
	t.Helper()
	out, err := e.Apply(task, actor, changes)
	require.NoError(t, err)
	return out
}

func TestNewTaskStartsPending(t *testing.T) {
	e := testEngine()
	task := newTestTask(e, true)

	assert.Equal(t, store.StatusPending, task.Status)
	assert.Equal(t, 0, task.ChangeCount)
	assert.Equal(t, store.DecisionPending, task.EmergencyApprovalStatus)
	assert.NotNil(t, task.EmergencyRequestedAt)
	require.Len(t, task.ChangeHistory, 1)
	assert.Equal(t, FieldCreated, task.ChangeHistory[0].Field)
	assert.Equal(t, staff.ID, task.RequesterID)
}

func TestApprovalGateLocksAfterThreeStaffChanges(t *testing.T) {
	e := testEngine()
	task := newTestTask(e, false)

	out := mustApply(t, e, task, staff, ChangeRequest{Field: "description", OldValue: "A3 poster", NewValue: "A2 poster", Note: "bigger"})
	task = out.Task
	out = mustApply(t, e, task, staff, ChangeRequest{Field: "description", OldValue: "A2 poster", NewValue: "A2 poster, matte", Note: "finish"})
	task = out.Task
	assert.Empty(t, task.ApprovalStatus)

	out = mustApply(t, e, task, staff, ChangeRequest{Field: "deadline_request", NewValue: "2026-04-01"})
	task = out.Task
	assert.True(t, out.ApprovalRequested)
	assert.Equal(t, store.DecisionPending, task.ApprovalStatus)
	assert.Equal(t, 3, StaffChangesSinceDecision(task.ChangeHistory))

	before := len(task.ChangeHistory)
	_, err := e.Apply(task, staff, []ChangeRequest{{Field: "description", NewValue: "sneaky"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Len(t, task.ChangeHistory, before)

	_, err = e.Apply(task, staff, []ChangeRequest{{Field: "files", Type: "file_added", File: &store.TaskFile{Name: "brief.pdf", URL: "https://files/brief.pdf"}}})
	assert.ErrorIs(t, err, ErrLocked)
}

func TestTreasurerDecisionResetsGate(t *testing.T) {
	e := testEngine()
	task := newTestTask(e, false)
	for i := 0; i < 3; i++ {
		task = mustApply(t, e, task, staff, ChangeRequest{Field: "staff_note", NewValue: fmt.Sprintf("note %d", i)}).Task
	}
	require.True(t, IsLocked(task))

	_, err := e.Apply(task, designer, []ChangeRequest{{Field: "approval_status", NewValue: "approved"}})
	assert.ErrorIs(t, err, ErrForbidden)

	out := mustApply(t, e, task, treasurer, ChangeRequest{Field: "approval_status", OldValue: "pending", NewValue: "approved"})
	task = out.Task
	assert.Equal(t, store.DecisionApproved, task.ApprovalStatus)
	assert.Equal(t, store.DecisionApproved, out.ApprovalDecision)
	assert.Equal(t, 0, StaffChangesSinceDecision(task.ChangeHistory))

	again := mustApply(t, e, task, treasurer, ChangeRequest{Field: "approval_status", NewValue: "approved"})
	assert.False(t, again.Changed())
	assert.Len(t, again.Task.ChangeHistory, len(task.ChangeHistory))

	for i := 0; i < 2; i++ {
		task = mustApply(t, e, task, staff, ChangeRequest{Field: "title", NewValue: fmt.Sprintf("Poster v%d", i)}).Task
	}
	assert.False(t, IsLocked(task))
	task = mustApply(t, e, task, staff, ChangeRequest{Field: "urgency", NewValue: "high"}).Task
	assert.True(t, IsLocked(task))
}

func TestChangeRoundTripMatchesSubmission(t *testing.T) {
	e := testEngine()
	task := newTestTask(e, false)
	submitted := ChangeRequest{Type: "update", Field: "description", OldValue: "A3 poster", NewValue: "A1 poster", Note: "client asked"}

	out := mustApply(t, e, task, staff, submitted)
	tail := out.Task.ChangeHistory[len(out.Task.ChangeHistory)-1]

	assert.Equal(t, submitted.Type, tail.Type)
	assert.Equal(t, submitted.Field, tail.Field)
	assert.Equal(t, submitted.OldValue, tail.OldValue)
	assert.Equal(t, submitted.NewValue, tail.NewValue)
	assert.Equal(t, staff.ID, tail.UserID)
	assert.Equal(t, "A1 poster", out.Task.Description)
	assert.Equal(t, 1, out.Task.ChangeCount)
}

func TestCompletionRequiresOutputFile(t *testing.T) {
	e := testEngine()
	task := newTestTask(e, false)
	task = mustApply(t, e, task, designer, ChangeRequest{Field: "status", NewValue: store.StatusInProgress}).Task
	task = mustApply(t, e, task, designer, ChangeRequest{Field: "status", NewValue: store.StatusUnderReview}).Task
	before := len(task.ChangeHistory)

	_, err := e.Apply(task, designer, []ChangeRequest{{Field: "status", NewValue: store.StatusCompleted}})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, store.StatusUnderReview, task.Status)
	assert.Len(t, task.ChangeHistory, before)

	out := mustApply(t, e, task, designer,
		ChangeRequest{Field: "files", Type: "file_added", File: &store.TaskFile{Name: "final.pdf", URL: "https://files/final.pdf", Type: store.FileOutput}},
		ChangeRequest{Field: "status", NewValue: store.StatusCompleted},
	)
	assert.Equal(t, store.StatusCompleted, out.Task.Status)
	assert.True(t, out.StatusChanged())
	require.Len(t, out.OutputFilesAdded, 1)
	tail := out.Task.ChangeHistory[len(out.Task.ChangeHistory)-1]
	assert.Equal(t, FieldStatus, tail.Field)
	assert.Contains(t, tail.Note, "final files delivered")
}

func TestBatchIsAtomic(t *testing.T) {
	e := testEngine()
	task := newTestTask(e, false)

	_, err := e.Apply(task, staff, []ChangeRequest{
		{Field: "description", NewValue: "changed"},
		{Field: "unknown_field", NewValue: "x"},
	})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "change 2")
	assert.Equal(t, "A3 poster", task.Description)
	assert.Len(t, task.ChangeHistory, 1)
}

func TestDesignerAutoAssignedOnFirstChange(t *testing.T) {
	e := testEngine()
	task := newTestTask(e, false)

	out := mustApply(t, e, task, designer, ChangeRequest{Field: "status", NewValue: store.StatusInProgress})
	assert.Equal(t, designer.ID, out.Task.AssignedToID)
	assert.Equal(t, designer.ID, out.AssignedTo)

	other := Actor{ID: "designer-2", Name: "Other", Role: rbac.RoleDesigner}
	_, err := e.Apply(out.Task, other, []ChangeRequest{{Field: "status", NewValue: store.StatusUnderReview}})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestEmergencyDecision(t *testing.T) {
	e := testEngine()
	task := newTestTask(e, true)

	_, err := e.Apply(task, staff, []ChangeRequest{{Field: "emergency_approval", NewValue: "approved"}})
	assert.ErrorIs(t, err, ErrForbidden)

	out := mustApply(t, e, task, designer, ChangeRequest{Field: "emergency_approval", NewValue: "approved"})
	assert.Equal(t, store.DecisionApproved, out.Task.EmergencyApprovalStatus)
	assert.Equal(t, store.DecisionApproved, out.EmergencyDecision)
	assert.Equal(t, designer.Name, out.Task.EmergencyApprovedBy)

	again := mustApply(t, e, out.Task, designer, ChangeRequest{Field: "emergency_approval", NewValue: "approved"})
	assert.Empty(t, again.EmergencyDecision)
	assert.False(t, again.Changed())

	_, err = e.Apply(out.Task, designer, []ChangeRequest{{Field: "emergency_approval", NewValue: "rejected"}})
	assert.ErrorIs(t, err, ErrValidation)

	plain := newTestTask(e, false)
	_, err = e.Apply(plain, designer, []ChangeRequest{{Field: "emergency_approval", NewValue: "approved"}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeadlineNegotiation(t *testing.T) {
	e := testEngine()
	task := newTestTask(e, false)

	out := mustApply(t, e, task, staff, ChangeRequest{Field: "deadline_request", NewValue: "2026-04-01T12:00:00Z"})
	task = out.Task
	assert.True(t, out.DeadlineProposed)
	assert.Equal(t, store.DecisionPending, task.DeadlineApprovalStatus)
	require.NotNil(t, task.ProposedDeadline)

	_, err := e.Apply(task, staff, []ChangeRequest{{Field: "deadline_request", NewValue: "approved"}})
	assert.ErrorIs(t, err, ErrForbidden)

	out = mustApply(t, e, task, designer, ChangeRequest{Field: "deadline_request", NewValue: "approved"})
	task = out.Task
	assert.Equal(t, store.DecisionApproved, out.DeadlineDecision)
	require.NotNil(t, task.Deadline)
	assert.Equal(t, "2026-04-01T12:00:00Z", FormatDeadline(task.Deadline))
	assert.Nil(t, task.ProposedDeadline)
	assert.Equal(t, designer.Name, task.DeadlineApprovedBy)

	task = mustApply(t, e, task, staff, ChangeRequest{Field: "deadline_request", NewValue: "2026-05-01"}).Task
	out = mustApply(t, e, task, designer, ChangeRequest{Field: "deadline_request", NewValue: "rejected"})
	assert.Equal(t, "2026-04-01T12:00:00Z", FormatDeadline(out.Task.Deadline))
	assert.Nil(t, out.Task.ProposedDeadline)
	assert.Equal(t, store.DecisionRejected, out.Task.DeadlineApprovalStatus)

	_, err = e.Apply(out.Task, designer, []ChangeRequest{{Field: "deadline_request", NewValue: "approved"}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeadlineProposalBlockedWhileLocked(t *testing.T) {
	e := testEngine()
	task := newTestTask(e, false)
	task.ApprovalStatus = store.DecisionPending

	_, err := e.Apply(task, treasurer, []ChangeRequest{{Field: "deadline_request", NewValue: "2026-04-01"}})
	assert.ErrorIs(t, err, ErrLocked)
}

func TestDesignVersionUploadAndRollback(t *testing.T) {
	e := testEngine()
	task := newTestTask(e, false)

	task = mustApply(t, e, task, designer, ChangeRequest{Field: "design_version", Type: "design_uploaded", DesignVersion: &store.DesignVersion{URL: "https://files/v1.png"}}).Task
	first := task.ActiveDesignVersionID
	task = mustApply(t, e, task, designer, ChangeRequest{Field: "design_version", Type: "design_uploaded", DesignVersion: &store.DesignVersion{Name: "Bold", URL: "https://files/v2.png"}}).Task
	require.Len(t, task.DesignVersions, 2)
	assert.Equal(t, 2, task.DesignVersions[1].Version)
	assert.Equal(t, "Version 1", task.DesignVersions[0].Name)
	assert.NotEqual(t, first, task.ActiveDesignVersionID)

	task = mustApply(t, e, task, designer, ChangeRequest{Field: "design_version", Type: "design_activated", NewValue: first}).Task
	assert.Equal(t, first, task.ActiveDesignVersionID)
	assert.Len(t, task.DesignVersions, 2)

	_, err := e.Apply(task, designer, []ChangeRequest{{Field: "design_version", Type: "design_activated", NewValue: "dv_missing"}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestFileRemovalByRole(t *testing.T) {
	e := testEngine()
	task := newTestTask(e, false)
	task = mustApply(t, e, task, designer, ChangeRequest{Field: "files", Type: "file_added", File: &store.TaskFile{ID: "f-out", Name: "final.pdf", URL: "https://files/final.pdf", Type: store.FileOutput}}).Task
	_, err := e.Apply(task, staff, []ChangeRequest{{Field: "files", Type: "file_added", File: &store.TaskFile{Name: "final.pdf", URL: "https://files/x.pdf", Type: store.FileOutput}}})
	assert.ErrorIs(t, err, ErrForbidden)

	task = mustApply(t, e, task, staff, ChangeRequest{Field: "files", Type: "file_added", File: &store.TaskFile{ID: "f-in", Name: "logo.svg", URL: "https://files/logo.svg"}}).Task
	require.Len(t, task.Files, 2)
	assert.Equal(t, store.FileInput, task.Files[1].Type)

	_, err = e.Apply(task, staff, []ChangeRequest{{Field: "files", Type: "file_removed", OldValue: "f-out"}})
	assert.ErrorIs(t, err, ErrForbidden)

	out := mustApply(t, e, task, staff, ChangeRequest{Field: "files", Type: "file_removed", File: &store.TaskFile{ID: "f-in"}})
	require.Len(t, out.Task.Files, 1)
	assert.Equal(t, "logo.svg", out.Task.ChangeHistory[len(out.Task.ChangeHistory)-1].OldValue)
}

func TestAssign(t *testing.T) {
	e := testEngine()
	task := newTestTask(e, false)

	next, entry, changed, err := Assign(task, staff, e.Recorder, "designer-9", "Nine")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, FieldAssignee, entry.Field)
	assert.Equal(t, "designer-9", next.AssignedToID)
	assert.Equal(t, 0, StaffChangesSinceDecision(next.ChangeHistory))

	_, _, changed, err = Assign(next, staff, e.Recorder, "designer-9", "Nine")
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, _, err = Assign(task, designer, e.Recorder, "designer-1", "Dana")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRecorderNeverGoesBackwards(t *testing.T) {
	late := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	early := late.Add(-time.Hour)
	calls := 0
	rec := Recorder{
		Now: func() time.Time {
			calls++
			if calls == 1 {
				return late
			}
			return early
		},
		NewID: func() string { return fmt.Sprintf("id-%d", calls) },
	}
	task := store.Task{}
	rec.Record(&task, staff, Change{Field: "title"})
	rec.Record(&task, staff, Change{Field: "title"})

	require.Len(t, task.ChangeHistory, 2)
	assert.False(t, task.ChangeHistory[1].CreatedAt.Before(task.ChangeHistory[0].CreatedAt))
	assert.Equal(t, 2, task.ChangeCount)
}
