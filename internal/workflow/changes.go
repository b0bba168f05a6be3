package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"designdesk/api/internal/rbac"
	"designdesk/api/internal/store"
	"designdesk/api/internal/util"
)

// ChangeRequest is one entry of a change submission.
type ChangeRequest struct {
	Type          string               `json:"type"`
	Field         string               `json:"field"`
	OldValue      string               `json:"oldValue"`
	NewValue      string               `json:"newValue"`
	Note          string               `json:"note"`
	File          *store.TaskFile      `json:"file,omitempty"`
	DesignVersion *store.DesignVersion `json:"designVersion,omitempty"`
}

// Outcome describes what a submission did, for broadcasting and events.
type Outcome struct {
	Task              store.Task
	Entries           []store.ChangeHistoryEntry
	StatusFrom        string
	StatusTo          string
	ApprovalDecision  string
	ApprovalRequested bool
	EmergencyDecision string
	DeadlineProposed  bool
	DeadlineDecision  string
	OutputFilesAdded  []store.TaskFile
	AssignedTo        string
	StaffFieldEdits   []string
}

func (o Outcome) Changed() bool {
	return len(o.Entries) > 0
}

func (o Outcome) StatusChanged() bool {
	return o.StatusTo != "" && o.StatusTo != o.StatusFrom
}

// Engine applies change submissions to a task copy.
type Engine struct {
	Threshold int
	Recorder  Recorder
}

func NewEngine(threshold int) Engine {
	if threshold <= 0 {
		threshold = DefaultApprovalThreshold
	}
	return Engine{Threshold: threshold, Recorder: NewRecorder()}
}

var briefFields = map[string]func(*store.Task) *string{
	FieldDescription: func(t *store.Task) *string { return &t.Description },
	FieldTitle:       func(t *store.Task) *string { return &t.Title },
	FieldUrgency:     func(t *store.Task) *string { return &t.Urgency },
	FieldCategory:    func(t *store.Task) *string { return &t.Category },
}

// Apply validates and applies every change in order on a copy of task. Any
// rejection discards the whole batch, so nothing is recorded unless all succeed.
func (e Engine) Apply(task store.Task, actor Actor, changes []ChangeRequest) (Outcome, error) {
	if len(changes) == 0 {
		return Outcome{}, validationf("change list is required")
	}
	if !CanAccess(task, actor) {
		return Outcome{}, forbiddenf("no access to task %s", task.ID)
	}
	if err := CanStaffMutate(task, actor).Err(); err != nil {
		return Outcome{}, err
	}

	next := task.Clone()
	out := Outcome{StatusFrom: task.Status}
	record := func(change Change) {
		out.Entries = append(out.Entries, e.Recorder.Record(&next, actor, change))
	}

	if actor.Role == rbac.RoleDesigner && next.AssignedToID == "" {
		next.AssignedToID = actor.ID
		next.AssignedToName = actor.Name
		out.AssignedTo = actor.ID
		record(Change{Type: "assignment", Field: FieldAssignee, NewValue: actor.Name, Note: "Picked up by designer"})
	}

	for i, change := range changes {
		if err := e.applyOne(&next, actor, change, &out, record); err != nil {
			var wfErr *Error
			if errors.As(err, &wfErr) && len(changes) > 1 {
				return Outcome{}, &Error{Kind: wfErr.Kind, Message: fmt.Sprintf("change %d: %s", i+1, wfErr.Message)}
			}
			return Outcome{}, err
		}
	}

	if len(out.Entries) == 0 {
		out.Task = task
		out.StatusTo = ""
		return out, nil
	}
	if _, engaged := EngageGate(&next, e.Recorder, e.Threshold); engaged {
		out.Entries = append(out.Entries, next.ChangeHistory[len(next.ChangeHistory)-1])
		out.ApprovalRequested = true
	}
	if out.StatusTo == "" {
		out.StatusTo = out.StatusFrom
	}
	out.Task = next
	return out, nil
}

func (e Engine) applyOne(task *store.Task, actor Actor, change ChangeRequest, out *Outcome, record func(Change)) error {
	field := strings.ToLower(strings.TrimSpace(change.Field))
	now := e.Recorder.now()
	base := Change{Type: change.Type, Field: field, OldValue: change.OldValue, NewValue: change.NewValue, Note: change.Note}

	switch field {
	case "":
		return validationf("change field is required")

	case FieldStatus:
		to := NormalizeStatus(change.NewValue)
		guard := CanTransitionStatus(StatusTransitionContext{
			TaskID:        task.ID,
			From:          task.Status,
			To:            to,
			Role:          actor.Role,
			HasOutputFile: task.HasOutputFile(),
		})
		if err := guard.Err(); err != nil {
			return err
		}
		base.Type = defaultType(change.Type, "status")
		base.OldValue = firstNonEmpty(change.OldValue, task.Status)
		base.NewValue = to
		if to == store.StatusCompleted && strings.TrimSpace(base.Note) == "" {
			base.Note = fmt.Sprintf("Task completed and final files delivered by %s", actor.Name)
		}
		task.Status = to
		out.StatusTo = to
		record(base)

	case FieldApprovalStatus:
		entry, changed, err := DecideApproval(task, actor, e.Recorder, base, now)
		if err != nil {
			return err
		}
		if changed {
			out.Entries = append(out.Entries, entry)
			out.ApprovalDecision = entry.NewValue
		}

	case FieldEmergencyApproval:
		entry, changed, err := DecideEmergency(task, actor, e.Recorder, base, now)
		if err != nil {
			return err
		}
		if changed {
			out.Entries = append(out.Entries, entry)
			out.EmergencyDecision = entry.NewValue
		}

	case FieldDeadlineRequest:
		if validDecision(normalizeDecision(change.NewValue)) {
			entry, changed, err := DecideDeadline(task, actor, e.Recorder, base, now)
			if err != nil {
				return err
			}
			if changed {
				out.Entries = append(out.Entries, entry)
				out.DeadlineDecision = entry.NewValue
			}
			return nil
		}
		entry, err := ProposeDeadline(task, actor, e.Recorder, base)
		if err != nil {
			return err
		}
		out.Entries = append(out.Entries, entry)
		out.DeadlineProposed = true
		if actor.IsStaff() {
			out.StaffFieldEdits = append(out.StaffFieldEdits, field)
		}

	case FieldDeadline:
		if !rbac.Can(actor.Role, rbac.ActionDeadline) {
			return forbiddenf("role %s cannot set the deadline", actor.Role)
		}
		deadline, err := ParseDeadline(change.NewValue)
		if err != nil {
			return err
		}
		base.Type = defaultType(change.Type, "deadline")
		base.OldValue = firstNonEmpty(change.OldValue, FormatDeadline(task.Deadline))
		task.Deadline = &deadline
		task.ReminderSent = false
		record(base)

	case FieldDescription, FieldTitle, FieldUrgency, FieldCategory:
		if !rbac.Can(actor.Role, rbac.ActionEdit) {
			return forbiddenf("role %s cannot edit %s", actor.Role, field)
		}
		if field == FieldTitle && strings.TrimSpace(change.NewValue) == "" {
			return validationf("title is required")
		}
		target := briefFields[field](task)
		base.OldValue = firstNonEmpty(change.OldValue, *target)
		*target = change.NewValue
		record(base)
		if actor.IsStaff() {
			out.StaffFieldEdits = append(out.StaffFieldEdits, field)
		}

	case FieldStaffNote:
		if !rbac.Can(actor.Role, rbac.ActionEdit) {
			return forbiddenf("role %s cannot add staff notes", actor.Role)
		}
		if strings.TrimSpace(change.NewValue) == "" && strings.TrimSpace(change.Note) == "" {
			return validationf("staff note is empty")
		}
		record(base)
		if actor.IsStaff() {
			out.StaffFieldEdits = append(out.StaffFieldEdits, field)
		}

	case FieldFiles:
		return e.applyFile(task, actor, change, base, out, record)

	case FieldDesignVersion:
		return e.applyDesignVersion(task, actor, change, base, record)

	default:
		return validationf("unsupported change field %q", change.Field)
	}
	return nil
}

func (e Engine) applyFile(task *store.Task, actor Actor, change ChangeRequest, base Change, out *Outcome, record func(Change)) error {
	if !rbac.Can(actor.Role, rbac.ActionUpload) {
		return forbiddenf("role %s cannot change files", actor.Role)
	}
	switch strings.ToLower(strings.TrimSpace(change.Type)) {
	case "file_added":
		if change.File == nil || strings.TrimSpace(change.File.Name) == "" || strings.TrimSpace(change.File.URL) == "" {
			return validationf("file name and url are required")
		}
		file := *change.File
		if file.Type != store.FileOutput {
			file.Type = store.FileInput
		}
		if file.Type == store.FileOutput && !rbac.Can(actor.Role, rbac.ActionTransition) {
			return forbiddenf("only a designer can deliver output files")
		}
		if file.ID == "" {
			file.ID = util.NewID("file")
		}
		file.UploadedAt = e.Recorder.now()
		file.UploadedBy = actor.Name
		task.Files = append(task.Files, file)
		base.NewValue = firstNonEmpty(change.NewValue, file.Name)
		record(base)
		if file.Type == store.FileOutput {
			out.OutputFilesAdded = append(out.OutputFilesAdded, file)
		}
	case "file_removed":
		id := ""
		if change.File != nil {
			id = change.File.ID
		}
		id = firstNonEmpty(id, change.OldValue)
		index := -1
		for i, file := range task.Files {
			if file.ID == id || (file.Name == id && id != "") {
				index = i
				break
			}
		}
		if index < 0 {
			return validationf("file %q not found", id)
		}
		removed := task.Files[index]
		if removed.Type == store.FileOutput && !rbac.Can(actor.Role, rbac.ActionTransition) {
			return forbiddenf("only a designer can remove output files")
		}
		task.Files = append(task.Files[:index:index], task.Files[index+1:]...)
		base.OldValue = firstNonEmpty(change.OldValue, removed.Name)
		record(base)
	default:
		return validationf("file change type must be file_added or file_removed")
	}
	if actor.IsStaff() {
		out.StaffFieldEdits = append(out.StaffFieldEdits, FieldFiles)
	}
	return nil
}

func (e Engine) applyDesignVersion(task *store.Task, actor Actor, change ChangeRequest, base Change, record func(Change)) error {
	switch strings.ToLower(strings.TrimSpace(change.Type)) {
	case "design_uploaded":
		if !rbac.Can(actor.Role, rbac.ActionTransition) {
			return forbiddenf("only a designer can upload design versions")
		}
		if change.DesignVersion == nil || strings.TrimSpace(change.DesignVersion.URL) == "" {
			return validationf("design version url is required")
		}
		version := *change.DesignVersion
		version.ID = util.NewID("dv")
		version.Version = nextDesignVersion(task.DesignVersions)
		if strings.TrimSpace(version.Name) == "" {
			version.Name = fmt.Sprintf("Version %d", version.Version)
		}
		version.UploadedAt = e.Recorder.now()
		version.UploadedBy = actor.Name
		task.DesignVersions = append(task.DesignVersions, version)
		base.OldValue = firstNonEmpty(change.OldValue, task.ActiveDesignVersionID)
		base.NewValue = firstNonEmpty(change.NewValue, version.ID)
		task.ActiveDesignVersionID = version.ID
		record(base)
	case "design_activated":
		if !rbac.Can(actor.Role, rbac.ActionUpload) {
			return forbiddenf("role %s cannot activate design versions", actor.Role)
		}
		id := strings.TrimSpace(change.NewValue)
		found := false
		for _, version := range task.DesignVersions {
			if version.ID == id {
				found = true
				break
			}
		}
		if !found {
			return validationf("design version %q not found", id)
		}
		if task.ActiveDesignVersionID == id {
			return nil
		}
		base.OldValue = firstNonEmpty(change.OldValue, task.ActiveDesignVersionID)
		task.ActiveDesignVersionID = id
		record(base)
	default:
		return validationf("design version change type must be design_uploaded or design_activated")
	}
	return nil
}

func nextDesignVersion(versions []store.DesignVersion) int {
	highest := 0
	for _, version := range versions {
		if version.Version > highest {
			highest = version.Version
		}
	}
	return highest + 1
}

// NewTask builds a freshly created task with its creation entry.
func NewTask(input store.Task, actor Actor, rec Recorder) store.Task {
	now := rec.now()
	task := input
	task.ID = util.NewID("task")
	task.Status = store.StatusPending
	task.ChangeCount = 0
	task.ApprovalStatus = ""
	task.ChangeHistory = []store.ChangeHistoryEntry{}
	task.Comments = []store.Comment{}
	task.DesignVersions = []store.DesignVersion{}
	if task.Files == nil {
		task.Files = []store.TaskFile{}
	}
	for i := range task.Files {
		if task.Files[i].ID == "" {
			task.Files[i].ID = util.NewID("file")
		}
		task.Files[i].Type = store.FileInput
		task.Files[i].UploadedAt = now
		task.Files[i].UploadedBy = actor.Name
	}
	task.RequesterID = actor.ID
	task.RequesterName = actor.Name
	if task.RequesterEmail == "" {
		task.RequesterEmail = actor.Email
	}
	if task.IsEmergency {
		task.EmergencyApprovalStatus = store.DecisionPending
		requested := now
		task.EmergencyRequestedAt = &requested
	} else {
		task.EmergencyApprovalStatus = ""
		task.EmergencyRequestedAt = nil
	}
	task.ProposedDeadline = nil
	task.DeadlineApprovalStatus = ""
	task.ReminderSent = false
	task.CreatedAt = now
	task.UpdatedAt = now

	rec.Record(&task, actor, Change{Type: "status", Field: FieldCreated, NewValue: "Created"})
	task.ChangeCount = 0
	return task
}

// Assign sets the assignee and records it.
func Assign(task store.Task, actor Actor, rec Recorder, assigneeID, assigneeName string) (store.Task, store.ChangeHistoryEntry, bool, error) {
	if !rbac.Can(actor.Role, rbac.ActionAssign) {
		return store.Task{}, store.ChangeHistoryEntry{}, false, forbiddenf("only staff or treasurer can assign tasks")
	}
	if !CanAccess(task, actor) {
		return store.Task{}, store.ChangeHistoryEntry{}, false, forbiddenf("no access to task %s", task.ID)
	}
	if err := CanStaffMutate(task, actor).Err(); err != nil {
		return store.Task{}, store.ChangeHistoryEntry{}, false, err
	}
	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == "" {
		return store.Task{}, store.ChangeHistoryEntry{}, false, validationf("assignedToId is required")
	}
	if task.AssignedToID == assigneeID {
		return task, store.ChangeHistoryEntry{}, false, nil
	}
	next := task.Clone()
	oldName := next.AssignedToName
	next.AssignedToID = assigneeID
	next.AssignedToName = strings.TrimSpace(assigneeName)
	entry := rec.Record(&next, actor, Change{Type: "assignment", Field: FieldAssignee, OldValue: oldName, NewValue: firstNonEmpty(next.AssignedToName, assigneeID)})
	return next, entry, true, nil
}

// Now exposes the recorder clock for callers stamping related values.
func (e Engine) Now() time.Time {
	return e.Recorder.now()
}
