// Package relay fans call signaling envelopes out to session participants.
// Directed messages (offer/answer/candidate) go to a single peer; lifecycle
// events (peer-joined/peer-left) go to everyone except the sender. A Redis
// bridge keeps multiple API servers in sync.
package relay

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"classhub-backend/internal/cache"
	"classhub-backend/internal/call"
)

// Conn is the write surface the hub needs from a websocket connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
}

// peer is one connected participant of a signaling session.
type peer struct {
	id      string
	conn    Conn
	writeMu sync.Mutex
}

func (p *peer) send(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// session groups the peers of one call session.
type session struct {
	id    int64
	peers map[string]*peer
}

// bridgeFrame wraps an envelope for the Redis bridge with the origin server
// so a server skips its own publications.
type bridgeFrame struct {
	ServerID string        `json:"server_id"`
	Envelope call.Envelope `json:"envelope"`
}

const bridgeChannel = "relay:signals"

// Hub manages all signaling sessions on this server.
type Hub struct {
	serverID string

	mu       sync.RWMutex
	sessions map[int64]*session

	redis  *cache.RedisClient // nil이면 단일 서버 모드
	cancel context.CancelFunc
}

// NewHub creates a Hub. redisClient may be nil; with Redis the hub bridges
// envelopes across servers.
func NewHub(redisClient *cache.RedisClient) *Hub {
	h := &Hub{
		serverID: uuid.NewString(),
		sessions: make(map[int64]*session),
		redis:    redisClient,
	}

	if redisClient != nil {
		ctx, cancel := context.WithCancel(context.Background())
		h.cancel = cancel
		go h.runBridge(ctx)
	}
	return h
}

// Join registers a peer connection and announces it: the newcomer gets the
// current roster, everyone else gets peer-joined.
func (h *Hub) Join(sessionID int64, peerID string, conn Conn) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		s = &session{id: sessionID, peers: make(map[string]*peer)}
		h.sessions[sessionID] = s
		log.Printf("[Relay] Created signaling session %d", sessionID)
	}
	// Reconnect replaces the stale entry.
	s.peers[peerID] = &peer{id: peerID, conn: conn}
	roster := s.rosterLocked()
	h.mu.Unlock()

	log.Printf("[Relay] Peer %s joined session %d (%d peers)", peerID, sessionID, len(roster))

	payload, _ := json.Marshal(call.RosterPayload{Peers: roster})
	h.sendTo(sessionID, peerID, call.Envelope{
		Kind:      call.KindRoster,
		SessionID: sessionID,
		Payload:   payload,
	})

	h.Route(call.Envelope{
		Kind:      call.KindPeerJoined,
		SessionID: sessionID,
		From:      peerID,
	})
}

// Leave removes a peer and announces peer-left. Safe to call twice; the
// second call finds nothing and does nothing.
func (h *Hub) Leave(sessionID int64, peerID string) {
	h.mu.Lock()
	s, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := s.peers[peerID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(s.peers, peerID)
	empty := len(s.peers) == 0
	if empty {
		delete(h.sessions, sessionID)
	}
	h.mu.Unlock()

	log.Printf("[Relay] Peer %s left session %d", peerID, sessionID)
	if empty {
		log.Printf("[Relay] Removed empty signaling session %d", sessionID)
	}

	h.Route(call.Envelope{
		Kind:      call.KindPeerLeft,
		SessionID: sessionID,
		From:      peerID,
	})
}

// Drop removes a peer's local registration if one exists and announces
// peer-left either way. The REST leave path uses this: the peer's socket may
// still be open here, or live on another server behind the Redis bridge, and
// the remaining participants must not wait out the ICE timeout to learn the
// peer is gone.
func (h *Hub) Drop(sessionID int64, peerID string) {
	h.mu.Lock()
	if s, ok := h.sessions[sessionID]; ok {
		if _, present := s.peers[peerID]; present {
			delete(s.peers, peerID)
			log.Printf("[Relay] Peer %s dropped from session %d", peerID, sessionID)
		}
		if len(s.peers) == 0 {
			delete(h.sessions, sessionID)
		}
	}
	h.mu.Unlock()

	h.Route(call.Envelope{
		Kind:      call.KindPeerLeft,
		SessionID: sessionID,
		From:      peerID,
	})
}

// Peers returns the sorted roster of a session.
func (h *Hub) Peers(sessionID int64) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[sessionID]
	if !ok {
		return nil
	}
	return s.rosterLocked()
}

// Route delivers an envelope: directed when To is set, fanout excluding the
// sender otherwise. The envelope is also published to the Redis bridge.
func (h *Hub) Route(env call.Envelope) {
	h.deliverLocal(env)
	h.publish(env)
}

// Close stops the Redis bridge.
func (h *Hub) Close() {
	if h.cancel != nil {
		h.cancel()
	}
}

func (h *Hub) deliverLocal(env call.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("[Relay] Failed to marshal envelope: %v", err)
		return
	}

	h.mu.RLock()
	s, ok := h.sessions[env.SessionID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*peer, 0, len(s.peers))
	for id, p := range s.peers {
		if id == env.From {
			continue // 자기 자신에게는 되돌리지 않는다
		}
		if env.To != "" && id != env.To {
			continue
		}
		targets = append(targets, p)
	}
	h.mu.RUnlock()

	for _, p := range targets {
		if err := p.send(data); err != nil {
			log.Printf("[Relay] Failed to send to peer %s: %v", p.id, err)
		}
	}
}

func (h *Hub) sendTo(sessionID int64, peerID string, env call.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}

	h.mu.RLock()
	var target *peer
	if s, ok := h.sessions[sessionID]; ok {
		target = s.peers[peerID]
	}
	h.mu.RUnlock()

	if target == nil {
		return
	}
	if err := target.send(data); err != nil {
		log.Printf("[Relay] Failed to send to peer %s: %v", peerID, err)
	}
}

func (h *Hub) publish(env call.Envelope) {
	if h.redis == nil {
		return
	}
	frame, err := json.Marshal(bridgeFrame{ServerID: h.serverID, Envelope: env})
	if err != nil {
		return
	}
	if err := h.redis.Publish(context.Background(), bridgeChannel, frame); err != nil {
		log.Printf("[Relay] Bridge publish failed: %v", err)
	}
}

// runBridge replays envelopes published by other servers to local peers.
func (h *Hub) runBridge(ctx context.Context) {
	sub := h.redis.Subscribe(ctx, bridgeChannel)
	defer sub.Close()

	log.Printf("[Relay] Bridge subscribed as server %s", h.serverID)
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var frame bridgeFrame
			if err := json.Unmarshal([]byte(msg.Payload), &frame); err != nil {
				continue
			}
			if frame.ServerID == h.serverID {
				continue
			}
			h.deliverLocal(frame.Envelope)
		}
	}
}

func (s *session) rosterLocked() []string {
	ids := make([]string, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
