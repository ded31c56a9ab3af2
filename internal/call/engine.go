package call

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// TrackHandler is fired for each inbound remote track.
type TrackHandler func(remoteID string, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

// Engine owns all peer links of one participant in one call session and
// drives negotiation over the Signaler.
//
// Initiator rule: for any pair, the peer with the lexicographically smaller
// ID creates the offer. The other side waits. This gives exactly one offer
// per pair regardless of join order or races.
type Engine struct {
	sessionID int64
	selfID    string
	sig       Signaler
	media     *LocalMedia
	api       *webrtc.API
	rtcConfig webrtc.Configuration

	mu    sync.Mutex
	links map[string]*PeerLink
	// Candidates from peers we have no link for yet. A candidate can beat
	// the offer (or the peer-joined announcement) through the relay; these
	// are replayed into the link the moment it exists.
	earlyCands map[string][]webrtc.ICECandidateInit

	onTrack TrackHandler

	done      chan struct{}
	closeOnce sync.Once
}

// NewEngine creates an Engine and starts consuming signaling messages.
// media may be nil for a receive-only participant.
func NewEngine(sessionID int64, selfID string, sig Signaler, media *LocalMedia, stunServers []string) (*Engine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	// Generous ICE timeouts; the default 5s disconnectedTimeout drops calls
	// during brief NAT rebinding.
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	iceServers := make([]webrtc.ICEServer, 0, len(stunServers))
	if len(stunServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: stunServers})
	}

	e := &Engine{
		sessionID:  sessionID,
		selfID:     selfID,
		sig:        sig,
		media:      media,
		api:        api,
		rtcConfig:  webrtc.Configuration{ICEServers: iceServers},
		links:      make(map[string]*PeerLink),
		earlyCands: make(map[string][]webrtc.ICECandidateInit),
		done:       make(chan struct{}),
	}

	if media != nil {
		media.onVideoSource(e.replaceOutboundVideo)
	}

	go e.dispatchLoop()
	return e, nil
}

// OnTrack registers the remote track handler. Must be called before peers
// connect.
func (e *Engine) OnTrack(fn TrackHandler) {
	e.onTrack = fn
}

// SelfID returns this participant's peer ID.
func (e *Engine) SelfID() string { return e.selfID }

// EnsureLink returns the link to remoteID, creating it when missing.
// Creating it sends an offer only when this side is the initiator.
// Idempotent: repeated calls return the existing link and never re-offer.
func (e *Engine) EnsureLink(remoteID string) (*PeerLink, error) {
	if remoteID == e.selfID {
		return nil, fmt.Errorf("refusing to link to self")
	}

	e.mu.Lock()
	if link, ok := e.links[remoteID]; ok {
		e.mu.Unlock()
		return link, nil
	}

	link, err := e.newLink(remoteID)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.links[remoteID] = link
	queued := e.earlyCands[remoteID]
	delete(e.earlyCands, remoteID)
	initiator := e.selfID < remoteID
	e.mu.Unlock()

	// Candidates that arrived before the link existed go straight into the
	// link's own queue and replay once the remote description lands.
	for _, cand := range queued {
		if err := link.addCandidate(cand); err != nil {
			log.Printf("[Call] Failed to replay early candidate from %s: %v", remoteID, err)
		}
	}

	if initiator {
		if err := e.sendOffer(link); err != nil {
			e.removeLink(remoteID)
			return nil, err
		}
	}
	return link, nil
}

// ResetLink closes and discards any existing link to remoteID, then builds a
// fresh one. Used when a peer announces itself again: the announcement can
// mean a rejoin after a silent crash, and the surviving side's old link would
// otherwise sit on a dead transport while the rejoiner waits in new forever.
func (e *Engine) ResetLink(remoteID string) (*PeerLink, error) {
	if link := e.removeLink(remoteID); link != nil {
		link.close()
		log.Printf("[Call] Resetting link to %s", remoteID)
	}
	return e.EnsureLink(remoteID)
}

// Reconcile brings the link set in line with the session roster: links are
// created for unknown peers and torn down for peers no longer present.
func (e *Engine) Reconcile(peers []string) {
	want := make(map[string]bool, len(peers))
	for _, p := range peers {
		if p != e.selfID {
			want[p] = true
		}
	}

	e.mu.Lock()
	var stale []string
	for id := range e.links {
		if !want[id] {
			stale = append(stale, id)
		}
	}
	e.mu.Unlock()

	for _, id := range stale {
		e.RemovePeer(id)
	}
	for id := range want {
		if _, err := e.EnsureLink(id); err != nil {
			log.Printf("[Call] Failed to link peer %s: %v", id, err)
		}
	}
}

// RemovePeer closes and forgets the link to remoteID. Safe when absent.
func (e *Engine) RemovePeer(remoteID string) {
	if link := e.removeLink(remoteID); link != nil {
		link.close()
		log.Printf("[Call] Peer %s removed", remoteID)
	}
}

// Links returns a snapshot of the current remote peer IDs.
func (e *Engine) Links() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.links))
	for id := range e.links {
		ids = append(ids, id)
	}
	return ids
}

// Close tears down all links and stops the dispatch loop. Idempotent.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.done)

		e.mu.Lock()
		links := e.links
		e.links = make(map[string]*PeerLink)
		e.mu.Unlock()

		for _, link := range links {
			link.close()
		}
		if e.media != nil {
			e.media.Close()
		}
	})
}

// ───────────────────────── internal ─────────────────────────

func (e *Engine) newLink(remoteID string) (*PeerLink, error) {
	pc, err := e.api.NewPeerConnection(e.rtcConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	link := newPeerLink(remoteID, pc)

	// Outbound media: attach local tracks, or recvonly transceivers when
	// this participant has no capture.
	videoTrack, audioTrack := e.localTracks()
	if videoTrack != nil {
		sender, err := pc.AddTrack(videoTrack)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to add video track: %w", err)
		}
		link.videoSender = sender
		go drainRTCP(sender)
	} else {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			log.Printf("[Call] AddTransceiver(video) error: %v", err)
		}
	}
	if audioTrack != nil {
		sender, err := pc.AddTrack(audioTrack)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("failed to add audio track: %w", err)
		}
		go drainRTCP(sender)
	} else {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			log.Printf("[Call] AddTransceiver(audio) error: %v", err)
		}
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		env := Envelope{
			Kind:      KindCandidate,
			SessionID: e.sessionID,
			From:      e.selfID,
			To:        remoteID,
			Payload:   marshalCandidate(candidate.ToJSON()),
		}
		if err := e.sig.Send(env); err != nil {
			log.Printf("[Call] Failed to send candidate to %s: %v", remoteID, err)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Printf("[Call] Track from %s: kind=%s codec=%s", remoteID, track.Kind(), track.Codec().MimeType)
		if e.onTrack != nil {
			e.onTrack(remoteID, track, receiver)
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Printf("[Call] ICE state for %s: %s", remoteID, state)
		if state == webrtc.ICEConnectionStateConnected && link.State() == LinkAnswerSent {
			link.setState(LinkStable)
		}
		if iceStateEndsLink(state) {
			e.removeIfCurrent(remoteID, link)
		}
	})

	return link, nil
}

func (e *Engine) localTracks() (video, audio webrtc.TrackLocal) {
	if e.media == nil {
		return nil, nil
	}
	return e.media.ActiveVideoTrack(), e.media.AudioTrack()
}

func (e *Engine) sendOffer(link *PeerLink) error {
	offer, err := link.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := link.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	link.setState(LinkOfferSent)
	return e.sig.Send(Envelope{
		Kind:      KindOffer,
		SessionID: e.sessionID,
		From:      e.selfID,
		To:        link.remoteID,
		Payload:   marshalSDP(*link.pc.LocalDescription()),
	})
}

func (e *Engine) removeLink(remoteID string) *PeerLink {
	e.mu.Lock()
	defer e.mu.Unlock()
	link, ok := e.links[remoteID]
	delete(e.earlyCands, remoteID)
	if !ok {
		return nil
	}
	delete(e.links, remoteID)
	return link
}

// replaceOutboundVideo swaps the outbound video track on every link without
// renegotiation (screen share on/off).
func (e *Engine) replaceOutboundVideo(track webrtc.TrackLocal) {
	e.mu.Lock()
	links := make([]*PeerLink, 0, len(e.links))
	for _, l := range e.links {
		links = append(links, l)
	}
	e.mu.Unlock()

	for _, l := range links {
		if l.videoSender == nil {
			continue
		}
		if err := l.videoSender.ReplaceTrack(track); err != nil {
			log.Printf("[Call] ReplaceTrack for %s failed: %v", l.remoteID, err)
		}
	}
}

func (e *Engine) dispatchLoop() {
	ch, cancel := e.sig.Subscribe()
	defer cancel()

	for {
		select {
		case <-e.done:
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			e.dispatch(env)
		}
	}
}

func (e *Engine) dispatch(env Envelope) {
	if env.From == e.selfID {
		return
	}
	// Directed messages for someone else are not ours to act on.
	if env.To != "" && env.To != e.selfID {
		return
	}

	switch env.Kind {
	case KindOffer:
		e.handleOffer(env)
	case KindAnswer:
		e.handleAnswer(env)
	case KindCandidate:
		e.handleCandidate(env)
	case KindPeerJoined:
		if _, err := e.ResetLink(env.From); err != nil {
			log.Printf("[Call] Failed to link joining peer %s: %v", env.From, err)
		}
	case KindPeerLeft:
		e.RemovePeer(env.From)
	case KindRoster:
		var p RosterPayload
		if err := json.Unmarshal(env.Payload, &p); err == nil {
			e.Reconcile(p.Peers)
		}
	}
}

func (e *Engine) handleOffer(env Envelope) {
	// Only the lexicographically smaller side offers. An offer from a peer
	// we should be offering to is a protocol violation; drop it.
	if e.selfID < env.From {
		log.Printf("[Call] Dropping unexpected offer from %s", env.From)
		return
	}

	var p SDPPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Printf("[Call] Bad offer payload from %s: %v", env.From, err)
		return
	}

	link, err := e.EnsureLink(env.From)
	if err != nil {
		log.Printf("[Call] Failed to create link for offer from %s: %v", env.From, err)
		return
	}

	if err := link.setRemoteDescription(p.SDP); err != nil {
		log.Printf("[Call] SetRemoteDescription(offer) from %s failed: %v", env.From, err)
		return
	}

	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		log.Printf("[Call] CreateAnswer for %s failed: %v", env.From, err)
		return
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		log.Printf("[Call] SetLocalDescription(answer) for %s failed: %v", env.From, err)
		return
	}

	link.setState(LinkAnswerSent)
	err = e.sig.Send(Envelope{
		Kind:      KindAnswer,
		SessionID: e.sessionID,
		From:      e.selfID,
		To:        env.From,
		Payload:   marshalSDP(*link.pc.LocalDescription()),
	})
	if err != nil {
		log.Printf("[Call] Failed to send answer to %s: %v", env.From, err)
	}
}

func (e *Engine) handleAnswer(env Envelope) {
	e.mu.Lock()
	link, ok := e.links[env.From]
	e.mu.Unlock()
	if !ok {
		log.Printf("[Call] Answer from unknown peer %s", env.From)
		return
	}
	if link.State() != LinkOfferSent {
		log.Printf("[Call] Dropping answer from %s in state %s", env.From, link.State())
		return
	}

	var p SDPPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Printf("[Call] Bad answer payload from %s: %v", env.From, err)
		return
	}

	if err := link.setRemoteDescription(p.SDP); err != nil {
		log.Printf("[Call] SetRemoteDescription(answer) from %s failed: %v", env.From, err)
		return
	}
	link.setState(LinkStable)
}

// A sender gathers at most a handful of candidates per link; anything past
// this from a link-less peer is noise.
const maxEarlyCandidates = 32

func (e *Engine) handleCandidate(env Envelope) {
	var p CandidatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		log.Printf("[Call] Bad candidate payload from %s: %v", env.From, err)
		return
	}

	e.mu.Lock()
	link, ok := e.links[env.From]
	if !ok {
		if len(e.earlyCands[env.From]) < maxEarlyCandidates {
			e.earlyCands[env.From] = append(e.earlyCands[env.From], p.Candidate)
		}
		e.mu.Unlock()
		log.Printf("[Call] Queued candidate from %s before link", env.From)
		return
	}
	e.mu.Unlock()

	if err := link.addCandidate(p.Candidate); err != nil {
		log.Printf("[Call] AddICECandidate from %s failed: %v", env.From, err)
	}
}

// removeIfCurrent tears link down only while it is still the registered
// link for remoteID. A reset may have replaced it; the replacement must
// survive the old link's late ICE callbacks.
func (e *Engine) removeIfCurrent(remoteID string, link *PeerLink) {
	e.mu.Lock()
	if e.links[remoteID] == link {
		delete(e.links, remoteID)
		delete(e.earlyCands, remoteID)
		log.Printf("[Call] Peer %s removed", remoteID)
	}
	e.mu.Unlock()
	link.close()
}

// iceStateEndsLink reports whether an ICE transition means the remote's
// streams are gone on this link. Disconnected only fires after the 30s
// silence window set in NewEngine; a recovered peer rejoins and gets a fresh
// link instead of waiting out the 120s failed timeout.
func iceStateEndsLink(state webrtc.ICEConnectionState) bool {
	switch state {
	case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed:
		return true
	}
	return false
}

// drainRTCP keeps the interceptor pipeline fed. Sender reports are discarded.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
