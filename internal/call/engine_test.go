package call

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryHub fans every envelope out to all subscribers, like the relay does.
type memoryHub struct {
	mu   sync.Mutex
	subs []chan Envelope

	sent []Envelope
}

func newMemoryHub() *memoryHub { return &memoryHub{} }

func (h *memoryHub) send(env Envelope) error {
	h.mu.Lock()
	h.sent = append(h.sent, env)
	subs := make([]chan Envelope, len(h.subs))
	copy(subs, h.subs)
	h.mu.Unlock()

	for _, ch := range subs {
		ch <- env
	}
	return nil
}

func (h *memoryHub) subscribe() (<-chan Envelope, func()) {
	ch := make(chan Envelope, 64)
	h.mu.Lock()
	h.subs = append(h.subs, ch)
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, c := range h.subs {
			if c == ch {
				h.subs = append(h.subs[:i], h.subs[i+1:]...)
				return
			}
		}
	}
}

func (h *memoryHub) sentByKind(kind string) []Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Envelope
	for _, env := range h.sent {
		if env.Kind == kind {
			out = append(out, env)
		}
	}
	return out
}

func linkTo(e *Engine, remoteID string) (*PeerLink, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.links[remoteID]
	return l, ok
}

type memorySignaler struct{ hub *memoryHub }

func (s *memorySignaler) Send(env Envelope) error            { return s.hub.send(env) }
func (s *memorySignaler) Subscribe() (<-chan Envelope, func()) { return s.hub.subscribe() }

func newTestEngine(t *testing.T, hub *memoryHub, selfID string) *Engine {
	t.Helper()
	e, err := NewEngine(1, selfID, &memorySignaler{hub: hub}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestEnsureLinkIdempotent(t *testing.T) {
	hub := newMemoryHub()
	alice := newTestEngine(t, hub, "alice")

	first, err := alice.EnsureLink("bob")
	require.NoError(t, err)
	second, err := alice.EnsureLink("bob")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Len(t, hub.sentByKind(KindOffer), 1, "repeated EnsureLink must not re-offer")
}

func TestEnsureLinkRejectsSelf(t *testing.T) {
	hub := newMemoryHub()
	alice := newTestEngine(t, hub, "alice")

	_, err := alice.EnsureLink("alice")
	assert.Error(t, err)
}

func TestSmallerIDInitiates(t *testing.T) {
	hub := newMemoryHub()
	bob := newTestEngine(t, hub, "bob")

	link, err := bob.EnsureLink("alice")
	require.NoError(t, err)

	// bob > alice: bob must wait for alice's offer
	assert.Equal(t, LinkNew, link.State())
	assert.Empty(t, hub.sentByKind(KindOffer))
}

func TestAliceBobNegotiation(t *testing.T) {
	hub := newMemoryHub()
	alice := newTestEngine(t, hub, "alice")
	bob := newTestEngine(t, hub, "bob")

	roster := []string{"alice", "bob"}
	alice.Reconcile(roster)
	bob.Reconcile(roster)

	require.Eventually(t, func() bool {
		aliceLink, ok := linkTo(alice, "bob")
		return ok && aliceLink.State() == LinkStable
	}, 5*time.Second, 20*time.Millisecond, "offerer should reach stable after the answer")

	// exactly one offer and one answer for the pair, regardless of both
	// sides ensuring the link
	assert.Len(t, hub.sentByKind(KindOffer), 1)
	assert.Len(t, hub.sentByKind(KindAnswer), 1)

	offers := hub.sentByKind(KindOffer)
	assert.Equal(t, "alice", offers[0].From)
	assert.Equal(t, "bob", offers[0].To)
}

func TestUnexpectedOfferDropped(t *testing.T) {
	hub := newMemoryHub()
	alice := newTestEngine(t, hub, "alice")

	// alice < zed, so zed must never offer to alice; a crafted offer is
	// dropped without creating a link
	pc := newTestPC(t)
	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, pc.SetLocalDescription(offer))

	require.NoError(t, hub.send(Envelope{
		Kind:      KindOffer,
		SessionID: 1,
		From:      "zed",
		To:        "alice",
		Payload:   marshalSDP(*pc.LocalDescription()),
	}))

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, alice.Links())
	assert.Empty(t, hub.sentByKind(KindAnswer))
}

func TestReconcileRemovesStalePeers(t *testing.T) {
	hub := newMemoryHub()
	alice := newTestEngine(t, hub, "alice")

	alice.Reconcile([]string{"alice", "bob", "carol"})
	assert.ElementsMatch(t, []string{"bob", "carol"}, alice.Links())

	alice.Reconcile([]string{"alice", "carol"})
	assert.ElementsMatch(t, []string{"carol"}, alice.Links())
}

func TestPeerLeftTearsDownLink(t *testing.T) {
	hub := newMemoryHub()
	alice := newTestEngine(t, hub, "alice")

	link, err := alice.EnsureLink("bob")
	require.NoError(t, err)

	require.NoError(t, hub.send(Envelope{Kind: KindPeerLeft, SessionID: 1, From: "bob"}))

	require.Eventually(t, func() bool {
		return len(alice.Links()) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, LinkClosed, link.State())
}

func TestCandidateBeforeLinkIsQueued(t *testing.T) {
	hub := newMemoryHub()
	zed := newTestEngine(t, hub, "zed")

	// alice < zed: alice offers, but her first candidate overtakes the offer
	// through the relay. zed has no link yet and must hold the candidate.
	cand := webrtc.ICECandidateInit{
		Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50001 typ host",
	}
	require.NoError(t, hub.send(Envelope{
		Kind:      KindCandidate,
		SessionID: 1,
		From:      "alice",
		To:        "zed",
		Payload:   marshalCandidate(cand),
	}))

	require.Eventually(t, func() bool {
		zed.mu.Lock()
		defer zed.mu.Unlock()
		return len(zed.earlyCands["alice"]) == 1
	}, 2*time.Second, 10*time.Millisecond, "candidate without a link must be queued, not dropped")

	link, err := zed.EnsureLink("alice")
	require.NoError(t, err)
	assert.Equal(t, 1, link.pendingCount(), "queued candidate must move into the new link")

	zed.mu.Lock()
	_, still := zed.earlyCands["alice"]
	zed.mu.Unlock()
	assert.False(t, still, "engine queue must drain into the link")
}

func TestResetLinkReplacesAndReoffers(t *testing.T) {
	hub := newMemoryHub()
	alice := newTestEngine(t, hub, "alice")

	old, err := alice.EnsureLink("bob")
	require.NoError(t, err)

	fresh, err := alice.ResetLink("bob")
	require.NoError(t, err)

	assert.NotSame(t, old, fresh)
	assert.Equal(t, LinkClosed, old.State())
	assert.Len(t, hub.sentByKind(KindOffer), 2, "reset must renegotiate from scratch")
}

func TestRejoinAfterSilentCrashRenegotiates(t *testing.T) {
	hub := newMemoryHub()
	alice := newTestEngine(t, hub, "alice")
	bob := newTestEngine(t, hub, "bob")

	roster := []string{"alice", "bob"}
	alice.Reconcile(roster)
	bob.Reconcile(roster)
	require.Eventually(t, func() bool {
		l, ok := linkTo(alice, "bob")
		return ok && l.State() == LinkStable
	}, 5*time.Second, 20*time.Millisecond)

	staleLink, ok := linkTo(alice, "bob")
	require.True(t, ok)

	// bob이 peer-left 없이 죽는다; alice 쪽 링크는 그대로 남아 있다
	bob.Close()

	bob2 := newTestEngine(t, hub, "bob")
	require.NoError(t, hub.send(Envelope{Kind: KindPeerJoined, SessionID: 1, From: "bob"}))
	bob2.Reconcile(roster)

	// peer-joined는 살아남은 쪽의 묵은 링크를 갈아엎고 새로 제안해야 한다
	require.Eventually(t, func() bool {
		l, ok := linkTo(alice, "bob")
		return ok && l != staleLink && l.State() == LinkStable
	}, 5*time.Second, 20*time.Millisecond, "survivor must rebuild the link for the rejoiner")

	assert.Equal(t, LinkClosed, staleLink.State())
	assert.Len(t, hub.sentByKind(KindOffer), 2, "one offer per negotiation, none duplicated")

	require.Eventually(t, func() bool {
		l, ok := linkTo(bob2, "alice")
		return ok && l.State() == LinkStable
	}, 5*time.Second, 20*time.Millisecond, "rejoiner must leave the new state")
}

func TestICEStateEndsLink(t *testing.T) {
	assert.True(t, iceStateEndsLink(webrtc.ICEConnectionStateFailed))
	assert.True(t, iceStateEndsLink(webrtc.ICEConnectionStateDisconnected))
	assert.False(t, iceStateEndsLink(webrtc.ICEConnectionStateConnected))
	assert.False(t, iceStateEndsLink(webrtc.ICEConnectionStateChecking))
}

func TestEngineCloseIdempotent(t *testing.T) {
	hub := newMemoryHub()
	alice := newTestEngine(t, hub, "alice")

	_, err := alice.EnsureLink("bob")
	require.NoError(t, err)

	alice.Close()
	alice.Close() // 두 번 호출해도 안전해야 한다

	assert.Empty(t, alice.Links())
}

// ───────────────────────── PeerLink ─────────────────────────

func newTestPC(t *testing.T) *webrtc.PeerConnection {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	require.NoError(t, err)
	return pc
}

func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	link := newPeerLink("bob", newTestPC(t))

	cands := []webrtc.ICECandidateInit{
		{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50001 typ host"},
		{Candidate: "candidate:2 1 udp 2130706431 127.0.0.1 50002 typ host"},
		{Candidate: "candidate:3 1 udp 2130706431 127.0.0.1 50003 typ host"},
	}
	for _, c := range cands {
		require.NoError(t, link.addCandidate(c))
	}
	require.Equal(t, 3, link.pendingCount())

	// queue preserves arrival order
	link.mu.Lock()
	for i, c := range link.pending {
		assert.Equal(t, cands[i].Candidate, c.Candidate)
	}
	link.mu.Unlock()

	remote := newTestPC(t)
	offer, err := remote.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, remote.SetLocalDescription(offer))

	require.NoError(t, link.setRemoteDescription(*remote.LocalDescription()))
	assert.Equal(t, 0, link.pendingCount(), "queue must drain after remote description")

	// late candidates are applied directly, not queued
	require.NoError(t, link.addCandidate(webrtc.ICECandidateInit{
		Candidate: "candidate:4 1 udp 2130706431 127.0.0.1 50004 typ host",
	}))
	assert.Equal(t, 0, link.pendingCount())
}

func TestLinkCloseIdempotent(t *testing.T) {
	link := newPeerLink("bob", newTestPC(t))

	link.close()
	link.close()
	assert.Equal(t, LinkClosed, link.State())

	// closed link silently ignores candidates
	assert.NoError(t, link.addCandidate(webrtc.ICECandidateInit{
		Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 50001 typ host",
	}))
}
