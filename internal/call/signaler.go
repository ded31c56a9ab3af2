// Package call manages native WebRTC peer links using Pion.
// It is deliberately standalone; it imports only Pion libraries and stdlib.
// Coupling to the rest of the backend is via the Signaler interface only.
package call

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

// 시그널링 메시지 종류. chat은 통화 중 텍스트 채팅으로, 시그널링 채널에
// 실려 그대로 중계된다; 엔진은 해석하지 않는다.
const (
	KindOffer      = "offer"
	KindAnswer     = "answer"
	KindCandidate  = "candidate"
	KindChat       = "chat"
	KindPeerJoined = "peer-joined"
	KindPeerLeft   = "peer-left"
	KindRoster     = "roster"
)

// Envelope is one signaling message exchanged through the relay.
// To is a peer ID for directed messages, empty for session-wide fanout.
type Envelope struct {
	Kind      string          `json:"kind"`
	SessionID int64           `json:"session_id"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Signaler is the only surface the call package needs from the transport
// layer. The websocket client in internal/relay satisfies this; tests use an
// in-memory hub.
type Signaler interface {
	Send(env Envelope) error
	Subscribe() (ch <-chan Envelope, cancel func())
}

// SDPPayload carries an offer or answer.
type SDPPayload struct {
	SDP webrtc.SessionDescription `json:"sdp"`
}

// CandidatePayload carries one trickled ICE candidate.
type CandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// RosterPayload lists the peer IDs currently in the session.
type RosterPayload struct {
	Peers []string `json:"peers"`
}

func marshalSDP(sdp webrtc.SessionDescription) json.RawMessage {
	data, _ := json.Marshal(SDPPayload{SDP: sdp})
	return data
}

func marshalCandidate(c webrtc.ICECandidateInit) json.RawMessage {
	data, _ := json.Marshal(CandidatePayload{Candidate: c})
	return data
}
