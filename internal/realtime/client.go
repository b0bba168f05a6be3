package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 10
	sendBuffer     = 64
)

// Identity is the authenticated user behind a socket.
type Identity struct {
	UserID   string
	UserName string
	Role     string
	Email    string
}

// Client is one websocket connection.
type Client struct {
	id       string
	identity Identity
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	log      logrus.FieldLogger

	// closed is guarded by hub.mu
	closed bool

	mu      sync.Mutex
	canView map[string]bool
}

func (c *Client) viewable(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canView[taskID]
}

func (c *Client) remember(taskID string, allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canView == nil {
		c.canView = make(map[string]bool)
	}
	if allowed {
		c.canView[taskID] = true
	} else {
		delete(c.canView, taskID)
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Identity() Identity { return c.identity }

// readPump decodes inbound frames until the connection fails. Malformed frames
// are dropped without closing the socket.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.WithError(err).Debug("socket closed unexpectedly")
			}
			return
		}
		msg, err := Decode(raw)
		if err != nil {
			c.log.WithError(err).Debug("ignoring socket frame")
			continue
		}
		c.hub.Handle(c, msg)
	}
}

// writePump drains the send buffer and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
