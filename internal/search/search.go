package search

import (
	"context"
	"strings"

	"designdesk/api/internal/store"
)

// Query describes a free-text task search.
type Query struct {
	Text  string
	Limit int
}

// Searcher returns the ids of tasks matching a query, best match first.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]string, error)
	Healthy() bool
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Category       string `json:"category"`
	Urgency        string `json:"urgency"`
	Status         string `json:"status"`
	RequesterID    string `json:"requesterId"`
	RequesterName  string `json:"requesterName"`
	AssignedToID   string `json:"assignedToId"`
	AssignedToName string `json:"assignedToName"`
	Comments       string `json:"comments"`
	CreatedAt      int64  `json:"createdAt"`
}

func RecordFromTask(task store.Task) TaskRecord {
	comments := make([]string, 0, len(task.Comments))
	for _, comment := range task.Comments {
		comments = append(comments, comment.Content)
	}
	return TaskRecord{
		ID:             task.ID,
		Title:          task.Title,
		Description:    task.Description,
		Category:       task.Category,
		Urgency:        task.Urgency,
		Status:         task.Status,
		RequesterID:    task.RequesterID,
		RequesterName:  task.RequesterName,
		AssignedToID:   task.AssignedToID,
		AssignedToName: task.AssignedToName,
		Comments:       strings.Join(comments, "\n"),
		CreatedAt:      task.CreatedAt.Unix(),
	}
}

// MatchText is the last-resort matcher used when no index is available.
// Every whitespace-separated term must appear in the title, description,
// category or requester name.
func MatchText(task store.Task, text string) bool {
	terms := strings.Fields(strings.ToLower(text))
	if len(terms) == 0 {
		return true
	}
	haystack := strings.ToLower(strings.Join([]string{
		task.Title, task.Description, task.Category, task.RequesterName, task.AssignedToName,
	}, " "))
	for _, term := range terms {
		if !strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}
