package call

import (
	"log"
	"sync"

	"github.com/pion/webrtc/v4"
)

// LinkState is the negotiation state of one peer link.
type LinkState int

const (
	LinkNew LinkState = iota
	LinkOfferSent
	LinkAnswerSent
	LinkStable
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkOfferSent:
		return "offer-sent"
	case LinkAnswerSent:
		return "answer-sent"
	case LinkStable:
		return "stable"
	case LinkClosed:
		return "closed"
	}
	return "unknown"
}

// PeerLink is one PeerConnection toward a single remote peer.
// Candidates that arrive before the remote description is set are queued and
// replayed in arrival order once it lands.
type PeerLink struct {
	remoteID string
	pc       *webrtc.PeerConnection

	mu          sync.Mutex
	state       LinkState
	remoteSet   bool
	pending     []webrtc.ICECandidateInit
	videoSender *webrtc.RTPSender
}

func newPeerLink(remoteID string, pc *webrtc.PeerConnection) *PeerLink {
	return &PeerLink{
		remoteID: remoteID,
		pc:       pc,
		state:    LinkNew,
	}
}

// RemoteID returns the peer this link points at.
func (l *PeerLink) RemoteID() string { return l.remoteID }

// State returns the current negotiation state.
func (l *PeerLink) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// setRemoteDescription applies the remote SDP and replays queued candidates
// in the order they arrived.
func (l *PeerLink) setRemoteDescription(sdp webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(sdp); err != nil {
		return err
	}

	l.mu.Lock()
	l.remoteSet = true
	queued := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, cand := range queued {
		if err := l.pc.AddICECandidate(cand); err != nil {
			log.Printf("[Call] Failed to replay candidate for %s: %v", l.remoteID, err)
		}
	}
	return nil
}

// addCandidate applies a remote candidate, queueing it when the remote
// description has not been set yet.
func (l *PeerLink) addCandidate(cand webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return nil
	}
	if !l.remoteSet {
		l.pending = append(l.pending, cand)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	return l.pc.AddICECandidate(cand)
}

// pendingCount reports how many candidates are queued.
func (l *PeerLink) pendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *PeerLink) setState(s LinkState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// close tears down the PeerConnection. Safe to call more than once.
func (l *PeerLink) close() {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return
	}
	l.state = LinkClosed
	l.pending = nil
	l.mu.Unlock()

	if err := l.pc.Close(); err != nil {
		log.Printf("[Call] Failed to close link to %s: %v", l.remoteID, err)
	}
}
