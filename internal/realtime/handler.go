package realtime

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// Authenticator resolves a bearer token to the socket identity.
type Authenticator interface {
	Authenticate(token string) (Identity, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(token string) (Identity, error)

func (f AuthenticatorFunc) Authenticate(token string) (Identity, error) { return f(token) }

// Handler upgrades HTTP requests to hub clients. The token is read from the
// "token" query parameter or the Authorization header.
type Handler struct {
	hub      *Hub
	auth     Authenticator
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, auth Authenticator, allowedOrigin string) *Handler {
	allowed := strings.TrimSpace(allowedOrigin)
	return &Handler{
		hub:  hub,
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed == "" || allowed == "*" || strings.EqualFold(origin, allowed)
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token = bearerToken(r.Header.Get("Authorization"))
	}
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	identity, err := h.auth.Authenticate(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	client := h.hub.Register(identity, conn)
	client.log.Debug("socket connected")
	go client.writePump()
	go client.readPump()
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
