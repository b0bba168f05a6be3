package realtime

import (
	"context"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"designdesk/api/internal/rbac"
	"designdesk/api/internal/store"
	"designdesk/api/internal/util"
)

// DesignersRoom receives new unassigned requests.
const DesignersRoom = "designers:queue"

func TaskRoom(taskID string) string { return "task:" + taskID }

func UserRoom(userID string) string { return "user:" + userID }

// Hub owns the socket rooms and the presence and typing registries.
//
// Registry mutations and the broadcasts that follow them run under serial, so
// two snapshots for the same scope are never delivered out of order. Room
// membership is guarded by mu.
type Hub struct {
	serial sync.Mutex

	mu     sync.RWMutex
	rooms  map[string]mapset.Set[*Client]
	member map[*Client]mapset.Set[string]

	presence *PresenceRegistry
	typing   *TypingRegistry
	access   TaskAccess
	log      logrus.FieldLogger
}

// TaskAccess decides whether a socket identity may see a task. Joins to a task
// room, task presence and typing relays are dropped when it says no.
type TaskAccess interface {
	CanViewTask(ctx context.Context, identity Identity, taskID string) bool
}

const accessTimeout = 5 * time.Second

func NewHub(presence *PresenceRegistry, typingTTL time.Duration, log logrus.FieldLogger) *Hub {
	if presence == nil {
		presence = NewPresenceRegistry()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	h := &Hub{
		rooms:    make(map[string]mapset.Set[*Client]),
		member:   make(map[*Client]mapset.Set[string]),
		presence: presence,
		log:      log.WithField("component", "realtime"),
	}
	h.typing = NewTypingRegistry(typingTTL, h.typingExpired)
	return h
}

// AuthorizeTasks installs the task access check. It must be called before the
// hub serves sockets; a hub without one admits every task.
func (h *Hub) AuthorizeTasks(access TaskAccess) {
	h.access = access
}

func (h *Hub) Presence() *PresenceRegistry { return h.presence }

func (h *Hub) Typing() *TypingRegistry { return h.typing }

// Close stops the typing timers.
func (h *Hub) Close() {
	h.typing.Stop()
}

// Register attaches a new client and joins its personal room. Designers also
// join the request queue.
func (h *Hub) Register(identity Identity, conn *websocket.Conn) *Client {
	c := &Client{
		id:       util.NewID("sock"),
		identity: identity,
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
	}
	c.log = h.log.WithFields(logrus.Fields{"socket_id": c.id, "user_id": identity.UserID})

	h.mu.Lock()
	h.member[c] = mapset.NewThreadUnsafeSet[string]()
	h.mu.Unlock()

	if identity.UserID != "" {
		h.join(c, UserRoom(identity.UserID))
	}
	if rbac.Role(identity.Role) == rbac.RoleDesigner {
		h.join(c, DesignersRoom)
	}
	return c
}

// Unregister removes c from every room and registry and broadcasts the
// resulting presence and typing snapshots.
func (h *Hub) Unregister(c *Client) {
	h.serial.Lock()
	defer h.serial.Unlock()

	h.drop(c)

	for scope, viewers := range h.presence.Disconnect(c.id) {
		h.broadcastPresence(scope, viewers)
	}
	cleared := h.typing.Disconnect(c.id)
	for _, signal := range cleared {
		h.relayTyping(signal, nil)
	}
	if len(cleared) > 0 {
		h.broadcastTypers()
	}
}

// Handle applies one decoded client message.
func (h *Hub) Handle(c *Client, msg Message) {
	if !h.admit(c, msg) {
		return
	}
	h.serial.Lock()
	defer h.serial.Unlock()

	switch m := msg.(type) {
	case RoomMessage:
		if m.Event == EventTaskJoin {
			h.join(c, TaskRoom(m.TaskID))
			h.replayTyping(c, m.TaskID)
		} else {
			h.leave(c, TaskRoom(m.TaskID))
		}

	case PresenceMessage:
		if !h.owns(c, m.UserID, m.Event) {
			return
		}
		scope := m.TaskID
		if m.Global() {
			scope = GlobalScope
		}
		if !m.Joining() {
			if viewers, changed := h.presence.Leave(scope, c.id); changed {
				h.broadcastPresence(scope, viewers)
			}
			return
		}
		if m.Global() {
			h.join(c, GlobalScope)
		} else {
			h.join(c, TaskRoom(m.TaskID))
		}
		viewers := h.presence.Join(scope, c.id, Viewer{
			UserID:    m.UserID,
			UserName:  firstSet(m.UserName, c.identity.UserName),
			UserRole:  firstSet(m.UserRole, c.identity.Role),
			UserEmail: firstSet(m.UserEmail, c.identity.Email),
		})
		h.broadcastPresence(scope, viewers)
		if m.Global() {
			h.sendTo(c, EventTypingGlobalUpdate, typingPayload{Typers: h.typing.Snapshot()})
		}

	case TypingMessage:
		if !h.owns(c, m.UserID, EventCommentTyping) {
			return
		}
		signal := TypingSignal{
			TaskID:   m.TaskID,
			ClientID: m.ClientID,
			SocketID: c.id,
			UserID:   m.UserID,
			UserName: firstSet(m.UserName, c.identity.UserName),
			UserRole: firstSet(m.UserRole, c.identity.Role),
			IsTyping: m.IsTyping,
		}
		h.typing.Set(signal)
		h.relayTyping(signal, c)
		h.broadcastTypers()

	case NotificationsMessage:
		if !h.owns(c, m.UserID, m.Event) {
			return
		}
		if m.Event == EventNotificationsJoin {
			h.join(c, UserRoom(m.UserID))
		} else {
			h.leave(c, UserRoom(m.UserID))
		}
	}
}

// TaskUpdated pushes the full task document to its room.
func (h *Hub) TaskUpdated(task store.Task) {
	h.Broadcast(TaskRoom(task.ID), EventTaskUpdated, taskPayload{TaskID: task.ID, Task: task})
}

// CommentAdded pushes a single new comment to the task room.
func (h *Hub) CommentAdded(taskID string, comment store.Comment) {
	h.Broadcast(TaskRoom(taskID), EventCommentNew, commentPayload{TaskID: taskID, Comment: comment})
}

// ToUser sends an event to every socket of one user.
func (h *Hub) ToUser(userID, event string, payload any) {
	h.Broadcast(UserRoom(userID), event, payload)
}

// ToDesigners sends an event to every connected designer.
func (h *Hub) ToDesigners(event string, payload any) {
	h.Broadcast(DesignersRoom, event, payload)
}

// Broadcast sends event to every client in room. Clients whose buffer is full
// are disconnected; they resync on reconnect.
func (h *Hub) Broadcast(room, event string, payload any) {
	h.broadcastExcept(room, event, payload, nil)
}

// RoomSize is the number of sockets joined to room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if members, ok := h.rooms[room]; ok {
		return members.Cardinality()
	}
	return 0
}

type taskPayload struct {
	TaskID string     `json:"taskId"`
	Task   store.Task `json:"task"`
}

type commentPayload struct {
	TaskID  string        `json:"taskId"`
	Comment store.Comment `json:"comment"`
}

type presencePayload struct {
	TaskID  string   `json:"taskId,omitempty"`
	Viewers []Viewer `json:"viewers"`
}

type typingPayload struct {
	Typers []Typer `json:"typers"`
}

type typingRelay struct {
	TaskID   string `json:"taskId"`
	ClientID string `json:"clientId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	UserRole string `json:"userRole"`
	IsTyping bool   `json:"isTyping"`
}

func (h *Hub) broadcastPresence(scope string, viewers []Viewer) {
	if scope == GlobalScope {
		h.Broadcast(GlobalScope, EventPresenceGlobalUpdate, presencePayload{Viewers: viewers})
		return
	}
	h.Broadcast(TaskRoom(scope), EventPresenceUpdate, presencePayload{TaskID: scope, Viewers: viewers})
}

func (h *Hub) broadcastTypers() {
	h.Broadcast(GlobalScope, EventTypingGlobalUpdate, typingPayload{Typers: h.typing.Snapshot()})
}

func (h *Hub) relayTyping(signal TypingSignal, sender *Client) {
	h.broadcastExcept(TaskRoom(signal.TaskID), EventCommentTyping, typingRelay{
		TaskID:   signal.TaskID,
		ClientID: signal.ClientID,
		UserID:   signal.UserID,
		UserName: signal.UserName,
		UserRole: signal.UserRole,
		IsTyping: signal.IsTyping,
	}, sender)
}

// replayTyping tells a client that just joined a task room who is already
// typing there.
func (h *Hub) replayTyping(c *Client, taskID string) {
	for _, typer := range h.typing.TaskSnapshot(taskID) {
		for _, clientID := range typer.ClientIDs {
			h.sendTo(c, EventCommentTyping, typingRelay{
				TaskID:   typer.TaskID,
				ClientID: clientID,
				UserID:   typer.UserID,
				UserName: typer.UserName,
				UserRole: typer.UserRole,
				IsTyping: true,
			})
		}
	}
}

func (h *Hub) typingExpired(signal TypingSignal) {
	h.serial.Lock()
	defer h.serial.Unlock()
	h.relayTyping(signal, nil)
	h.broadcastTypers()
}

func (h *Hub) broadcastExcept(room, event string, payload any, except *Client) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		h.log.WithError(err).WithField("event", event).Error("broadcast encode failed")
		return
	}

	var slow []*Client
	h.mu.RLock()
	if members, ok := h.rooms[room]; ok {
		members.Each(func(c *Client) bool {
			if c == except {
				return false
			}
			select {
			case c.send <- frame:
			default:
				slow = append(slow, c)
			}
			return false
		})
	}
	h.mu.RUnlock()

	for _, c := range slow {
		c.log.WithField("event", event).Warn("socket send buffer full, disconnecting")
		h.drop(c)
	}
}

func (h *Hub) sendTo(c *Client, event string, payload any) {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		h.log.WithError(err).WithField("event", event).Error("encode failed")
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms, ok := h.member[c]
	if !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = mapset.NewThreadUnsafeSet[*Client]()
		h.rooms[room] = members
	}
	members.Add(c)
	rooms.Add(room)
}

func (h *Hub) leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, room)
}

func (h *Hub) leaveLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		members.Remove(c)
		if members.Cardinality() == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.member[c]; ok {
		rooms.Remove(room)
	}
}

// drop detaches c from all rooms and closes its send buffer once.
func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	if rooms, ok := h.member[c]; ok {
		for _, room := range rooms.ToSlice() {
			h.leaveLocked(c, room)
		}
		delete(h.member, c)
	}
	c.closed = true
	close(c.send)
}

// admit runs the task access check for task-scoped joins and typing. It runs
// outside serial since the check may hit the store. A join always re-checks;
// typing reuses the last successful check for the task.
func (h *Hub) admit(c *Client, msg Message) bool {
	if h.access == nil {
		return true
	}
	var taskID string
	cached := false
	switch m := msg.(type) {
	case RoomMessage:
		if m.Event == EventTaskJoin {
			taskID = m.TaskID
		}
	case PresenceMessage:
		if m.Joining() && !m.Global() {
			taskID = m.TaskID
		}
	case TypingMessage:
		taskID = m.TaskID
		cached = true
	}
	if taskID == "" {
		return true
	}
	if cached && c.viewable(taskID) {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), accessTimeout)
	defer cancel()
	allowed := h.access.CanViewTask(ctx, c.identity, taskID)
	c.remember(taskID, allowed)
	if !allowed {
		c.log.WithFields(logrus.Fields{"event": msg.EventName(), "task_id": taskID}).Debug("task access denied")
	}
	return allowed
}

// owns rejects events claiming another user's identity.
func (h *Hub) owns(c *Client, userID, event string) bool {
	if c.identity.UserID == "" || c.identity.UserID == userID {
		return true
	}
	c.log.WithFields(logrus.Fields{"event": event, "claimed_user": userID}).Debug("ignoring event for another user")
	return false
}

func firstSet(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
