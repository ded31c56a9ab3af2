package relay

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classhub-backend/internal/call"
)

// fakeConn captures written envelopes.
type fakeConn struct {
	mu   sync.Mutex
	envs []call.Envelope
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	var env call.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	c.mu.Lock()
	c.envs = append(c.envs, env)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) received(kind string) []call.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []call.Envelope
	for _, env := range c.envs {
		if env.Kind == kind {
			out = append(out, env)
		}
	}
	return out
}

func TestJoinSendsRosterAndAnnounces(t *testing.T) {
	h := NewHub(nil)
	alice := &fakeConn{}
	bob := &fakeConn{}

	h.Join(1, "alice", alice)
	h.Join(1, "bob", bob)

	// bob's roster includes both peers
	rosters := bob.received(call.KindRoster)
	require.Len(t, rosters, 1)
	var p call.RosterPayload
	require.NoError(t, json.Unmarshal(rosters[0].Payload, &p))
	assert.Equal(t, []string{"alice", "bob"}, p.Peers)

	// alice is told about bob, bob is not told about himself
	joins := alice.received(call.KindPeerJoined)
	require.Len(t, joins, 1)
	assert.Equal(t, "bob", joins[0].From)
	assert.Empty(t, bob.received(call.KindPeerJoined))
}

func TestDirectedRouting(t *testing.T) {
	h := NewHub(nil)
	alice := &fakeConn{}
	bob := &fakeConn{}
	carol := &fakeConn{}
	h.Join(7, "alice", alice)
	h.Join(7, "bob", bob)
	h.Join(7, "carol", carol)

	h.Route(call.Envelope{Kind: call.KindOffer, SessionID: 7, From: "alice", To: "bob"})

	assert.Len(t, bob.received(call.KindOffer), 1)
	assert.Empty(t, carol.received(call.KindOffer))
	assert.Empty(t, alice.received(call.KindOffer))
}

func TestFanoutExcludesSender(t *testing.T) {
	h := NewHub(nil)
	alice := &fakeConn{}
	bob := &fakeConn{}
	h.Join(3, "alice", alice)
	h.Join(3, "bob", bob)

	h.Route(call.Envelope{Kind: call.KindPeerLeft, SessionID: 3, From: "alice"})

	assert.Len(t, bob.received(call.KindPeerLeft), 1)
	assert.Empty(t, alice.received(call.KindPeerLeft))
}

func TestLeaveIsIdempotentAndCleansUp(t *testing.T) {
	h := NewHub(nil)
	alice := &fakeConn{}
	bob := &fakeConn{}
	h.Join(5, "alice", alice)
	h.Join(5, "bob", bob)

	h.Leave(5, "bob")
	h.Leave(5, "bob") // 중복 퇴장은 무시

	assert.Equal(t, []string{"alice"}, h.Peers(5))
	assert.Len(t, alice.received(call.KindPeerLeft), 1, "double leave must announce once")

	h.Leave(5, "alice")
	assert.Nil(t, h.Peers(5), "empty session is removed")
}

func TestDropAnnouncesEvenWithoutRegistration(t *testing.T) {
	h := NewHub(nil)
	alice := &fakeConn{}
	h.Join(4, "alice", alice)

	// bob은 이 서버에 소켓이 없다 (다른 서버이거나 이미 끊김)
	h.Drop(4, "bob")
	assert.Len(t, alice.received(call.KindPeerLeft), 1)

	// 등록된 피어는 제거와 동시에 알린다
	bob := &fakeConn{}
	h.Join(4, "bob", bob)
	h.Drop(4, "bob")
	assert.Equal(t, []string{"alice"}, h.Peers(4))
	assert.Len(t, alice.received(call.KindPeerLeft), 2)
	assert.Empty(t, bob.received(call.KindPeerLeft), "the dropped peer is not echoed its own departure")
}

func TestRouteToUnknownSessionIsNoop(t *testing.T) {
	h := NewHub(nil)
	h.Route(call.Envelope{Kind: call.KindOffer, SessionID: 99, From: "alice", To: "bob"})
	assert.Nil(t, h.Peers(99))
}

func TestReconnectReplacesConnection(t *testing.T) {
	h := NewHub(nil)
	stale := &fakeConn{}
	fresh := &fakeConn{}
	h.Join(2, "alice", stale)
	h.Join(2, "alice", fresh)

	assert.Equal(t, []string{"alice"}, h.Peers(2))

	h.Route(call.Envelope{Kind: call.KindCandidate, SessionID: 2, From: "bob", To: "alice"})
	assert.Len(t, fresh.received(call.KindCandidate), 1)
	assert.Empty(t, stale.received(call.KindCandidate))
}
