// Package realtime runs the socket side of the collaboration engine: rooms,
// presence, typing indicators and task broadcasts over websockets.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Client to server events.
const (
	EventTaskJoin            = "task:join"
	EventTaskLeave           = "task:leave"
	EventPresenceJoin        = "presence:join"
	EventPresenceLeave       = "presence:leave"
	EventPresenceGlobalJoin  = "presence:global:join"
	EventPresenceGlobalLeave = "presence:global:leave"
	EventCommentTyping       = "comment:typing"
	EventNotificationsJoin   = "notifications:join"
	EventNotificationsLeave  = "notifications:leave"
)

// Server to client events.
const (
	EventPresenceUpdate       = "presence:update"
	EventPresenceGlobalUpdate = "presence:global:update"
	EventTypingGlobalUpdate   = "typing:global:update"
	EventCommentNew           = "comment:new"
	EventTaskUpdated          = "task:updated"
	EventNotificationNew      = "notification:new"
	EventRequestNew           = "request:new"
)

var ErrMalformed = errors.New("malformed socket message")

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Message is one decoded client event. The concrete types below are the only
// implementations.
type Message interface {
	EventName() string
}

// RoomMessage covers task:join and task:leave.
type RoomMessage struct {
	Event  string `json:"-"`
	TaskID string `json:"taskId"`
	UserID string `json:"userId"`
}

func (m RoomMessage) EventName() string { return m.Event }

// PresenceMessage covers the task and global presence join/leave events.
// TaskID is empty for the global variants.
type PresenceMessage struct {
	Event     string `json:"-"`
	TaskID    string `json:"taskId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserRole  string `json:"userRole"`
	UserEmail string `json:"userEmail"`
}

func (m PresenceMessage) EventName() string { return m.Event }

func (m PresenceMessage) Global() bool {
	return m.Event == EventPresenceGlobalJoin || m.Event == EventPresenceGlobalLeave
}

func (m PresenceMessage) Joining() bool {
	return m.Event == EventPresenceJoin || m.Event == EventPresenceGlobalJoin
}

type TypingMessage struct {
	TaskID   string `json:"taskId"`
	ClientID string `json:"clientId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	UserRole string `json:"userRole"`
	IsTyping bool   `json:"isTyping"`
}

func (TypingMessage) EventName() string { return EventCommentTyping }

// NotificationsMessage covers notifications:join and notifications:leave.
type NotificationsMessage struct {
	Event  string `json:"-"`
	UserID string `json:"userId"`
}

func (m NotificationsMessage) EventName() string { return m.Event }

// Decode parses a raw client frame into one of the message variants.
// Unknown events and payloads missing required ids return ErrMalformed.
func Decode(raw []byte) (Message, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	data := frame.Data
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}

	switch frame.Event {
	case EventTaskJoin, EventTaskLeave:
		msg := RoomMessage{Event: frame.Event}
		if err := decodeData(data, &msg); err != nil {
			return nil, err
		}
		if msg.TaskID == "" {
			return nil, missing(frame.Event, "taskId")
		}
		return msg, nil

	case EventPresenceJoin, EventPresenceLeave, EventPresenceGlobalJoin, EventPresenceGlobalLeave:
		msg := PresenceMessage{Event: frame.Event}
		if err := decodeData(data, &msg); err != nil {
			return nil, err
		}
		if !msg.Global() && msg.TaskID == "" {
			return nil, missing(frame.Event, "taskId")
		}
		if msg.UserID == "" {
			return nil, missing(frame.Event, "userId")
		}
		return msg, nil

	case EventCommentTyping:
		var msg TypingMessage
		if err := decodeData(data, &msg); err != nil {
			return nil, err
		}
		switch {
		case msg.TaskID == "":
			return nil, missing(frame.Event, "taskId")
		case msg.ClientID == "":
			return nil, missing(frame.Event, "clientId")
		case msg.UserID == "":
			return nil, missing(frame.Event, "userId")
		}
		return msg, nil

	case EventNotificationsJoin, EventNotificationsLeave:
		msg := NotificationsMessage{Event: frame.Event}
		if err := decodeData(data, &msg); err != nil {
			return nil, err
		}
		if msg.UserID == "" {
			return nil, missing(frame.Event, "userId")
		}
		return msg, nil

	default:
		return nil, fmt.Errorf("%w: unknown event %q", ErrMalformed, frame.Event)
	}
}

func decodeData(data json.RawMessage, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	trimIDs(dst)
	return nil
}

func trimIDs(dst any) {
	switch msg := dst.(type) {
	case *RoomMessage:
		msg.TaskID = strings.TrimSpace(msg.TaskID)
		msg.UserID = strings.TrimSpace(msg.UserID)
	case *PresenceMessage:
		msg.TaskID = strings.TrimSpace(msg.TaskID)
		msg.UserID = strings.TrimSpace(msg.UserID)
	case *TypingMessage:
		msg.TaskID = strings.TrimSpace(msg.TaskID)
		msg.ClientID = strings.TrimSpace(msg.ClientID)
		msg.UserID = strings.TrimSpace(msg.UserID)
	case *NotificationsMessage:
		msg.UserID = strings.TrimSpace(msg.UserID)
	}
}

func missing(event, field string) error {
	return fmt.Errorf("%w: %s requires %s", ErrMalformed, event, field)
}

// encodeFrame marshals an outbound event.
func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: data})
}
