package realtime

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAuthenticator() Authenticator {
	return AuthenticatorFunc(func(token string) (Identity, error) {
		switch token {
		case "alice":
			return Identity{UserID: "u1", UserName: "Alice", Role: "staff"}, nil
		case "dana":
			return Identity{UserID: "u2", UserName: "Dana", Role: "designer"}, nil
		}
		return Identity{}, errors.New("bad token")
	})
}

func dial(t *testing.T, server *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, event string) Frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var frame Frame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Event == event {
			return frame
		}
	}
}

func TestHandlerRejectsMissingToken(t *testing.T) {
	hub := newTestHub(t, time.Minute)
	server := httptest.NewServer(NewHandler(hub, testAuthenticator(), ""))
	defer server.Close()

	resp, err := http.Get(server.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=nope"
	_, resp, err = websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerPresenceOverSockets(t *testing.T) {
	hub := newTestHub(t, time.Minute)
	server := httptest.NewServer(NewHandler(hub, testAuthenticator(), ""))
	defer server.Close()

	designer := dial(t, server, "dana")
	require.NoError(t, designer.WriteMessage(websocket.TextMessage, []byte(`{"event":"presence:join","data":{"taskId":"T1","userId":"u2"}}`)))
	readUntil(t, designer, EventPresenceUpdate)

	alice := dial(t, server, "alice")
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"event":"presence:join","data":{"taskId":"T1","userId":"u1","userName":"Alice"}}`)))

	frame := readUntil(t, designer, EventPresenceUpdate)
	viewers := viewersIn(t, frame)
	require.Len(t, viewers, 2)

	require.NoError(t, alice.Close())
	frame = readUntil(t, designer, EventPresenceUpdate)
	viewers = viewersIn(t, frame)
	require.Len(t, viewers, 1)
	assert.Equal(t, "u2", viewers[0].UserID)
}
