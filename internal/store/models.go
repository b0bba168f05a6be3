package store

import "time"

const (
	StatusPending               = "pending"
	StatusInProgress            = "in_progress"
	StatusUnderReview           = "under_review"
	StatusClarificationRequired = "clarification_required"
	StatusCompleted             = "completed"
)

const (
	DecisionPending  = "pending"
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

const (
	FileInput  = "input"
	FileOutput = "output"
)

type Task struct {
	ID          string `json:"id" bson:"_id"`
	Title       string `json:"title" bson:"title"`
	Description string `json:"description" bson:"description"`
	Category    string `json:"category" bson:"category"`
	Urgency     string `json:"urgency" bson:"urgency"`
	Status      string `json:"status" bson:"status"`

	IsModification      bool     `json:"isModification" bson:"isModification"`
	RequesterID         string   `json:"requesterId" bson:"requesterId"`
	RequesterName       string   `json:"requesterName" bson:"requesterName"`
	RequesterEmail      string   `json:"requesterEmail,omitempty" bson:"requesterEmail,omitempty"`
	RequesterPhone      string   `json:"requesterPhone,omitempty" bson:"requesterPhone,omitempty"`
	SecondaryPhones     []string `json:"secondaryPhones,omitempty" bson:"secondaryPhones,omitempty"`
	RequesterDepartment string   `json:"requesterDepartment,omitempty" bson:"requesterDepartment,omitempty"`
	AssignedToID        string   `json:"assignedToId,omitempty" bson:"assignedToId,omitempty"`
	AssignedToName      string   `json:"assignedToName,omitempty" bson:"assignedToName,omitempty"`

	IsEmergency             bool       `json:"isEmergency" bson:"isEmergency"`
	EmergencyApprovalStatus string     `json:"emergencyApprovalStatus,omitempty" bson:"emergencyApprovalStatus,omitempty"`
	EmergencyApprovedBy     string     `json:"emergencyApprovedBy,omitempty" bson:"emergencyApprovedBy,omitempty"`
	EmergencyApprovedAt     *time.Time `json:"emergencyApprovedAt,omitempty" bson:"emergencyApprovedAt,omitempty"`
	EmergencyRequestedAt    *time.Time `json:"emergencyRequestedAt,omitempty" bson:"emergencyRequestedAt,omitempty"`
	ScheduleTaskID          string     `json:"scheduleTaskId,omitempty" bson:"scheduleTaskId,omitempty"`

	ApprovalStatus string     `json:"approvalStatus,omitempty" bson:"approvalStatus,omitempty"`
	ApprovedBy     string     `json:"approvedBy,omitempty" bson:"approvedBy,omitempty"`
	ApprovalDate   *time.Time `json:"approvalDate,omitempty" bson:"approvalDate,omitempty"`
	ChangeCount    int        `json:"changeCount" bson:"changeCount"`

	Deadline               *time.Time `json:"deadline,omitempty" bson:"deadline,omitempty"`
	ProposedDeadline       *time.Time `json:"proposedDeadline,omitempty" bson:"proposedDeadline,omitempty"`
	DeadlineApprovalStatus string     `json:"deadlineApprovalStatus,omitempty" bson:"deadlineApprovalStatus,omitempty"`
	DeadlineRequestedBy    string     `json:"deadlineRequestedBy,omitempty" bson:"deadlineRequestedBy,omitempty"`
	DeadlineApprovedBy     string     `json:"deadlineApprovedBy,omitempty" bson:"deadlineApprovedBy,omitempty"`
	DeadlineApprovedAt     *time.Time `json:"deadlineApprovedAt,omitempty" bson:"deadlineApprovedAt,omitempty"`

	ChangeHistory         []ChangeHistoryEntry `json:"changeHistory" bson:"changeHistory"`
	Comments              []Comment            `json:"comments" bson:"comments"`
	Files                 []TaskFile           `json:"files" bson:"files"`
	DesignVersions        []DesignVersion      `json:"designVersions" bson:"designVersions"`
	ActiveDesignVersionID string               `json:"activeDesignVersionId,omitempty" bson:"activeDesignVersionId,omitempty"`

	ReminderSent bool      `json:"reminderSent" bson:"reminderSent"`
	Version      int64     `json:"-" bson:"version"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" bson:"updatedAt"`
}

type ChangeHistoryEntry struct {
	ID        string    `json:"id" bson:"id"`
	Type      string    `json:"type" bson:"type"`
	Field     string    `json:"field" bson:"field"`
	OldValue  string    `json:"oldValue" bson:"oldValue"`
	NewValue  string    `json:"newValue" bson:"newValue"`
	Note      string    `json:"note,omitempty" bson:"note,omitempty"`
	UserID    string    `json:"userId" bson:"userId"`
	UserName  string    `json:"userName" bson:"userName"`
	UserRole  string    `json:"userRole" bson:"userRole"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

type Comment struct {
	ID            string     `json:"id" bson:"id"`
	UserID        string     `json:"userId" bson:"userId"`
	UserName      string     `json:"userName" bson:"userName"`
	UserRole      string     `json:"userRole" bson:"userRole"`
	Content       string     `json:"content" bson:"content"`
	ParentID      string     `json:"parentId,omitempty" bson:"parentId,omitempty"`
	Mentions      []string   `json:"mentions,omitempty" bson:"mentions,omitempty"`
	ReceiverRoles []string   `json:"receiverRoles" bson:"receiverRoles"`
	SeenBy        []SeenMark `json:"seenBy" bson:"seenBy"`
	CreatedAt     time.Time  `json:"createdAt" bson:"createdAt"`
}

type SeenMark struct {
	Role   string    `json:"role" bson:"role"`
	SeenAt time.Time `json:"seenAt" bson:"seenAt"`
}

type DesignVersion struct {
	ID         string    `json:"id" bson:"id"`
	Name       string    `json:"name" bson:"name"`
	URL        string    `json:"url" bson:"url"`
	Version    int       `json:"version" bson:"version"`
	UploadedAt time.Time `json:"uploadedAt" bson:"uploadedAt"`
	UploadedBy string    `json:"uploadedBy,omitempty" bson:"uploadedBy,omitempty"`
}

type TaskFile struct {
	ID           string    `json:"id" bson:"id"`
	Name         string    `json:"name" bson:"name"`
	URL          string    `json:"url" bson:"url"`
	Type         string    `json:"type" bson:"type"`
	ObjectKey    string    `json:"objectKey,omitempty" bson:"objectKey,omitempty"`
	Size         int64     `json:"size,omitempty" bson:"size,omitempty"`
	ContentType  string    `json:"contentType,omitempty" bson:"contentType,omitempty"`
	ThumbnailURL string    `json:"thumbnailUrl,omitempty" bson:"thumbnailUrl,omitempty"`
	UploadedAt   time.Time `json:"uploadedAt" bson:"uploadedAt"`
	UploadedBy   string    `json:"uploadedBy,omitempty" bson:"uploadedBy,omitempty"`
}

type Notification struct {
	ID        string    `json:"id" bson:"_id"`
	UserID    string    `json:"userId" bson:"userId"`
	EventID   string    `json:"eventId" bson:"eventId"`
	Type      string    `json:"type" bson:"type"`
	Title     string    `json:"title" bson:"title"`
	Message   string    `json:"message" bson:"message"`
	TaskID    string    `json:"taskId,omitempty" bson:"taskId,omitempty"`
	Link      string    `json:"link,omitempty" bson:"link,omitempty"`
	Read      bool      `json:"read" bson:"read"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

type User struct {
	ID        string    `json:"id" bson:"_id"`
	Name      string    `json:"name" bson:"name"`
	Email     string    `json:"email,omitempty" bson:"email,omitempty"`
	Phone     string    `json:"phone,omitempty" bson:"phone,omitempty"`
	Role      string    `json:"role" bson:"role"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// TaskFilter narrows ListTasks. Zero values are ignored.
type TaskFilter struct {
	Status         string
	Statuses       []string
	Category       string
	Urgency        string
	RequesterID    string
	AssignedToID   string
	// AssignedOrOpen matches tasks assigned to this user or not assigned at all.
	AssignedOrOpen string
	IDs            []string
	CreatedAfter   *time.Time
	DeadlineAfter  *time.Time
	DeadlineBefore *time.Time
	Unreminded     bool
	Limit          int
}

// HasOutputFile reports whether any output-tagged file is attached.
func (t Task) HasOutputFile() bool {
	for _, file := range t.Files {
		if file.Type == FileOutput {
			return true
		}
	}
	return false
}

func (t Task) FindComment(id string) (Comment, bool) {
	for _, comment := range t.Comments {
		if comment.ID == id {
			return comment, true
		}
	}
	return Comment{}, false
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (t Task) Clone() Task {
	out := t
	out.SecondaryPhones = append([]string(nil), t.SecondaryPhones...)
	out.ChangeHistory = append(make([]ChangeHistoryEntry, 0, len(t.ChangeHistory)), t.ChangeHistory...)
	out.Files = append(make([]TaskFile, 0, len(t.Files)), t.Files...)
	out.DesignVersions = append(make([]DesignVersion, 0, len(t.DesignVersions)), t.DesignVersions...)
	out.Comments = make([]Comment, len(t.Comments))
	for i, comment := range t.Comments {
		comment.Mentions = append([]string(nil), comment.Mentions...)
		comment.ReceiverRoles = append(make([]string, 0, len(comment.ReceiverRoles)), comment.ReceiverRoles...)
		comment.SeenBy = append(make([]SeenMark, 0, len(comment.SeenBy)), comment.SeenBy...)
		out.Comments[i] = comment
	}
	out.EmergencyApprovedAt = cloneTime(t.EmergencyApprovedAt)
	out.EmergencyRequestedAt = cloneTime(t.EmergencyRequestedAt)
	out.ApprovalDate = cloneTime(t.ApprovalDate)
	out.Deadline = cloneTime(t.Deadline)
	out.ProposedDeadline = cloneTime(t.ProposedDeadline)
	out.DeadlineApprovedAt = cloneTime(t.DeadlineApprovedAt)
	return out
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

const (
	ActivityCreated   = "created"
	ActivityUpdated   = "updated"
	ActivityCommented = "commented"
	ActivityAssigned  = "assigned"
)

// Activity is one line of the task activity feed. EventID makes writes
// idempotent per domain event.
type Activity struct {
	ID        string    `json:"id" bson:"_id"`
	EventID   string    `json:"-" bson:"eventId"`
	TaskID    string    `json:"taskId" bson:"taskId"`
	TaskTitle string    `json:"taskTitle" bson:"taskTitle"`
	Action    string    `json:"action" bson:"action"`
	UserID    string    `json:"userId" bson:"userId"`
	UserName  string    `json:"userName" bson:"userName"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

// ActivityFilter narrows ListActivity. An empty TaskID lists every task.
type ActivityFilter struct {
	TaskID string
	Limit  int
}

// AuditEntry records one successful write request.
type AuditEntry struct {
	ID          string    `json:"id" bson:"_id"`
	RequestID   string    `json:"requestId" bson:"requestId"`
	ActorUserID string    `json:"actorUserId" bson:"actorUserId"`
	ActorRole   string    `json:"actorRole" bson:"actorRole"`
	Action      string    `json:"action" bson:"action"`
	TargetID    string    `json:"targetId" bson:"targetId"`
	Method      string    `json:"method" bson:"method"`
	Path        string    `json:"path" bson:"path"`
	Status      int       `json:"status" bson:"status"`
	IPAddress   string    `json:"ipAddress" bson:"ipAddress"`
	UserAgent   string    `json:"userAgent" bson:"userAgent"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
}
