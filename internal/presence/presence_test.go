package presence

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/models"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	events []models.Event
	fail   bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ev models.Event) error {
	if c.fail {
		return errors.New("closed")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestMemoryRegistry_Connections(t *testing.T) {
	r := NewMemoryRegistry()
	c1 := &fakeConn{id: "c1"}
	c2 := &fakeConn{id: "c2"}

	_, ok := r.LookupConnection("alice")
	assert.False(t, ok)

	r.RecordConnection("alice", c1)
	got, ok := r.LookupConnection("alice")
	require.True(t, ok)
	assert.Equal(t, "c1", got.ID())

	// 後勝ち
	r.RecordConnection("alice", c2)
	got, _ = r.LookupConnection("alice")
	assert.Equal(t, "c2", got.ID())

	// 古い接続では消せない
	assert.False(t, r.RemoveConnection("alice", c1))
	_, ok = r.LookupConnection("alice")
	assert.True(t, ok)

	assert.True(t, r.RemoveConnection("alice", c2))
	_, ok = r.LookupConnection("alice")
	assert.False(t, ok)

	// 2回目はno-op
	assert.False(t, r.RemoveConnection("alice", c2))
}

func TestMemoryRegistry_PeerAddress(t *testing.T) {
	r := NewMemoryRegistry()

	_, ok := r.LookupPeerAddress("alice")
	assert.False(t, ok)

	r.RecordPeerAddress("alice", "peerA")
	r.RecordPeerAddress("alice", "peerA2")
	got, ok := r.LookupPeerAddress("alice")
	require.True(t, ok)
	assert.Equal(t, "peerA2", got)

	r.RemovePeerAddress("alice")
	_, ok = r.LookupPeerAddress("alice")
	assert.False(t, ok)
}

func TestMemoryRegistry_Concurrent(t *testing.T) {
	r := NewMemoryRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("u%d", i)
			c := &fakeConn{id: user}
			r.RecordConnection(user, c)
			r.RecordPeerAddress(user, "p"+user)
			_, _ = r.LookupConnection(user)
			_, _ = r.LookupPeerAddress(user)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, r.ConnectionCount())
}

func TestGroups_AddRemoveBroadcast(t *testing.T) {
	g := NewGroups()
	a := &fakeConn{id: "a"}
	b := &fakeConn{id: "b"}
	broken := &fakeConn{id: "x", fail: true}

	g.Add("room1", a)
	g.Add("room1", a)
	g.Add("room1", b)
	g.Add("room1", broken)
	g.Add("room2", a)

	assert.Len(t, g.Members("room1"), 3)

	sent := g.Broadcast("room1", models.Event{Type: models.EventMessageSent})
	assert.Equal(t, 2, sent)
	assert.Equal(t, 1, a.count())
	assert.Equal(t, 1, b.count())

	g.Remove("room1", broken)
	g.RemoveConn(a)
	assert.Len(t, g.Members("room1"), 1)
	assert.Empty(t, g.Members("room2"))

	g.Drop("room1")
	assert.Empty(t, g.Members("room1"))
	assert.Equal(t, 0, g.Broadcast("room1", models.Event{Type: models.EventMemberLeft}))
}
