package workflow

import (
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"designdesk/api/internal/rbac"
	"designdesk/api/internal/store"
	"designdesk/api/internal/util"
)

type CommentInput struct {
	Content       string   `json:"content"`
	ParentID      string   `json:"parentId"`
	Mentions      []string `json:"mentions"`
	ReceiverRoles []string `json:"receiverRoles"`
}

// ResolveReceiverRoles picks who a comment is addressed to: mentions first,
// then explicit receivers, else every role but the sender. The sender role is
// always removed.
func ResolveReceiverRoles(senderRole string, mentions, explicit []string) []string {
	candidates := normalizeRoles(mentions)
	if candidates.Cardinality() == 0 {
		candidates = normalizeRoles(explicit)
	}
	if candidates.Cardinality() == 0 {
		for _, role := range rbac.Roles {
			candidates.Add(string(role))
		}
	}
	candidates.Remove(strings.ToLower(strings.TrimSpace(senderRole)))
	return orderedRoles(candidates)
}

func normalizeRoles(values []string) mapset.Set[string] {
	roles := mapset.NewThreadUnsafeSet[string]()
	for _, value := range values {
		role := strings.ToLower(strings.TrimSpace(value))
		if rbac.Valid(role) {
			roles.Add(role)
		}
	}
	return roles
}

func orderedRoles(roles mapset.Set[string]) []string {
	out := make([]string, 0, roles.Cardinality())
	for _, role := range rbac.Roles {
		if roles.Contains(string(role)) {
			out = append(out, string(role))
		}
	}
	return out
}

// NewComment builds a comment for task. Replies always hang off the thread root.
func NewComment(task store.Task, actor Actor, input CommentInput, now time.Time) (store.Comment, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return store.Comment{}, validationf("comment content is required")
	}
	parentID := strings.TrimSpace(input.ParentID)
	if parentID != "" {
		parent, ok := task.FindComment(parentID)
		if !ok {
			return store.Comment{}, validationf("parent comment %s not found", parentID)
		}
		if parent.ParentID != "" {
			parentID = parent.ParentID
		}
	}

	mentions := orderedRoles(normalizeRoles(input.Mentions))
	return store.Comment{
		ID:            util.NewID("cmt"),
		UserID:        actor.ID,
		UserName:      actor.Name,
		UserRole:      string(actor.Role),
		Content:       content,
		ParentID:      parentID,
		Mentions:      mentions,
		ReceiverRoles: ResolveReceiverRoles(string(actor.Role), mentions, input.ReceiverRoles),
		SeenBy:        []store.SeenMark{},
		CreatedAt:     now,
	}, nil
}

// ReceiversOf returns the stored receivers. Comments written before receivers
// were stored fall back to the default rule.
func ReceiversOf(comment store.Comment) []string {
	if len(comment.ReceiverRoles) > 0 {
		return comment.ReceiverRoles
	}
	return ResolveReceiverRoles(comment.UserRole, comment.Mentions, nil)
}

func isReceiver(comment store.Comment, role string) bool {
	for _, receiver := range ReceiversOf(comment) {
		if receiver == role {
			return true
		}
	}
	return false
}

func seenByRole(comment store.Comment, role string) bool {
	for _, mark := range comment.SeenBy {
		if mark.Role == role {
			return true
		}
	}
	return false
}

// MarkSeen stamps every comment addressed to role that role has not seen yet.
// It returns the number of comments marked.
func MarkSeen(task *store.Task, role string, now time.Time) int {
	marked := 0
	for i := range task.Comments {
		comment := &task.Comments[i]
		if !isReceiver(*comment, role) || seenByRole(*comment, role) {
			continue
		}
		comment.SeenBy = append(comment.SeenBy, store.SeenMark{Role: role, SeenAt: now})
		marked++
	}
	return marked
}

// UnseenCount is the number of comments addressed to role and not yet seen.
func UnseenCount(task store.Task, role string) int {
	count := 0
	for _, comment := range task.Comments {
		if isReceiver(comment, role) && !seenByRole(comment, role) {
			count++
		}
	}
	return count
}
