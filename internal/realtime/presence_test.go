package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceTwoTabsCountOnce(t *testing.T) {
	reg := NewPresenceRegistry()
	alice := Viewer{UserID: "u1", UserName: "Alice", UserRole: "staff"}

	require.Len(t, reg.Join("T1", "sock-a", alice), 1)
	viewers := reg.Join("T1", "sock-b", alice)
	require.Len(t, viewers, 1)
	assert.Equal(t, "Alice", viewers[0].UserName)

	viewers, changed := reg.Leave("T1", "sock-a")
	assert.True(t, changed)
	assert.Len(t, viewers, 1)

	viewers, changed = reg.Leave("T1", "sock-b")
	assert.True(t, changed)
	assert.Empty(t, viewers)
	assert.False(t, reg.HasScope("T1"))
}

func TestPresenceNSocketsSameUser(t *testing.T) {
	reg := NewPresenceRegistry()
	sockets := []string{"s1", "s2", "s3", "s4", "s5"}
	for _, id := range sockets {
		reg.Join("T1", id, Viewer{UserID: "u1"})
	}
	for i, id := range sockets {
		viewers, _ := reg.Leave("T1", id)
		if i < len(sockets)-1 {
			assert.Len(t, viewers, 1, "after %d leaves", i+1)
		} else {
			assert.Empty(t, viewers)
		}
	}
}

func TestPresenceDisconnectCleansEveryScope(t *testing.T) {
	reg := NewPresenceRegistry()
	reg.Join("T1", "sock-a", Viewer{UserID: "u1"})
	reg.Join(GlobalScope, "sock-a", Viewer{UserID: "u1"})
	reg.Join("T1", "sock-b", Viewer{UserID: "u2"})

	changed := reg.Disconnect("sock-a")
	require.Len(t, changed, 2)
	assert.Len(t, changed["T1"], 1)
	assert.Empty(t, changed[GlobalScope])
	assert.False(t, reg.HasScope(GlobalScope))
	assert.Empty(t, reg.Disconnect("sock-unknown"))
}

func TestPresenceLeaveUnknownSocket(t *testing.T) {
	reg := NewPresenceRegistry()
	reg.Join("T1", "sock-a", Viewer{UserID: "u1"})

	viewers, changed := reg.Leave("T1", "sock-z")
	assert.False(t, changed)
	assert.Len(t, viewers, 1)
}

func TestPresenceSocketMovesBetweenUsers(t *testing.T) {
	reg := NewPresenceRegistry()
	reg.Join("T1", "sock-a", Viewer{UserID: "u1"})
	viewers := reg.Join("T1", "sock-a", Viewer{UserID: "u2"})

	require.Len(t, viewers, 1)
	assert.Equal(t, "u2", viewers[0].UserID)
}
