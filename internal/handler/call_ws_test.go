package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"classhub-backend/internal/call"
)

func TestPeerSendableKinds(t *testing.T) {
	// 협상 메시지와 통화 중 채팅은 그대로 중계한다
	assert.True(t, peerSendableKind(call.KindOffer))
	assert.True(t, peerSendableKind(call.KindAnswer))
	assert.True(t, peerSendableKind(call.KindCandidate))
	assert.True(t, peerSendableKind(call.KindChat))

	// 라이프사이클 이벤트는 서버만 만든다
	assert.False(t, peerSendableKind(call.KindRoster))
	assert.False(t, peerSendableKind(call.KindPeerJoined))
	assert.False(t, peerSendableKind(call.KindPeerLeft))
	assert.False(t, peerSendableKind("garbage"))
}
