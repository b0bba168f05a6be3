// Package calendar keeps the designer schedule in step with emergency
// decisions. Emergency requests reserve a placeholder slot on the schedule;
// approval confirms it and rejection frees it.
package calendar

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"designdesk/api/internal/events"
	"designdesk/api/internal/store"
	"designdesk/api/internal/util"
)

type Config struct {
	BaseURL string
	Token   string
}

type Client struct {
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
	log     logrus.FieldLogger
	enabled bool
}

func NewClient(cfg Config, log logrus.FieldLogger) *Client {
	log = log.WithField("component", "calendar")
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(10 * time.Second).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	return &Client{
		http:    client,
		breaker: util.NewBreaker("calendar", 30*time.Second, log),
		log:     log,
		enabled: strings.TrimSpace(cfg.BaseURL) != "",
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.enabled
}

type approvePayload struct {
	Status     string    `json:"status"`
	Priority   string    `json:"priority"`
	TaskID     string    `json:"taskId"`
	ApprovedBy string    `json:"approvedBy,omitempty"`
	ApprovedAt time.Time `json:"approvedAt"`
}

// ApprovePlaceholder confirms the emergency slot on the schedule.
func (c *Client) ApprovePlaceholder(ctx context.Context, task store.Task) error {
	payload := approvePayload{
		Status:     "EMERGENCY_APPROVED",
		Priority:   "EMERGENCY",
		TaskID:     task.ID,
		ApprovedBy: task.EmergencyApprovedBy,
		ApprovedAt: time.Now().UTC(),
	}
	if task.EmergencyApprovedAt != nil {
		payload.ApprovedAt = *task.EmergencyApprovedAt
	}
	return c.do(ctx, http.MethodPatch, task.ScheduleTaskID, payload)
}

// RemovePlaceholder frees the emergency slot. A missing slot is not an error.
func (c *Client) RemovePlaceholder(ctx context.Context, task store.Task) error {
	return c.do(ctx, http.MethodDelete, task.ScheduleTaskID, nil)
}

func (c *Client) do(ctx context.Context, method, scheduleID string, body any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		req := c.http.R().SetContext(ctx).SetPathParam("id", scheduleID)
		if body != nil {
			req.SetBody(body)
		}
		resp, err := req.Execute(method, "/schedule/tasks/{id}")
		if err != nil {
			return nil, fmt.Errorf("calendar %s: %w", method, err)
		}
		if method == http.MethodDelete && resp.StatusCode() == http.StatusNotFound {
			return nil, nil
		}
		if resp.IsError() {
			return nil, fmt.Errorf("calendar %s %s: status %d", method, scheduleID, resp.StatusCode())
		}
		return nil, nil
	})
	return err
}

// HandleEvent is the event bus subscriber for emergency decisions.
func (c *Client) HandleEvent(ctx context.Context, ev events.Event) error {
	if !c.Enabled() || ev.Type != events.EmergencyDecided || ev.Task.ScheduleTaskID == "" {
		return nil
	}
	switch ev.Decision {
	case store.DecisionApproved:
		return c.ApprovePlaceholder(ctx, ev.Task)
	case store.DecisionRejected:
		return c.RemovePlaceholder(ctx, ev.Task)
	}
	return nil
}
