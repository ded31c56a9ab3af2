package handler

import (
	"encoding/json"
	"log"
	"strconv"

	"github.com/gofiber/contrib/websocket"

	"classhub-backend/internal/call"
	"classhub-backend/internal/relay"
	"classhub-backend/internal/service"
)

// CallWSHandler 시그널링 WebSocket 핸들러. 연결된 피어를 relay.Hub에
// 등록하고 수신한 envelope을 중계한다. SDP/ICE 내용은 해석하지 않는다.
type CallWSHandler struct {
	hub   *relay.Hub
	calls *service.CallService
}

func NewCallWSHandler(hub *relay.Hub, calls *service.CallService) *CallWSHandler {
	return &CallWSHandler{hub: hub, calls: calls}
}

// HandleWebSocket 시그널링 연결 처리
func (h *CallWSHandler) HandleWebSocket(c *websocket.Conn) {
	sessionIDInterface := c.Locals("sessionId")
	userIDInterface := c.Locals("userId")

	sessionID, ok1 := sessionIDInterface.(int64)
	userID, ok2 := userIDInterface.(int64)

	if !ok1 || !ok2 {
		c.WriteMessage(websocket.TextMessage, []byte(`{"kind":"error","message":"invalid session"}`))
		c.Close()
		return
	}

	// 활성 세션의 참가자인지 확인
	session, err := h.calls.GetSession(sessionID)
	if err != nil || session == nil || !session.Active {
		c.WriteMessage(websocket.TextMessage, []byte(`{"kind":"error","message":"session not active"}`))
		c.Close()
		return
	}

	peerID := strconv.FormatInt(userID, 10)
	h.hub.Join(sessionID, peerID, c)

	defer func() {
		h.hub.Leave(sessionID, peerID)
		c.Close()
	}()

	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			break
		}

		var env call.Envelope
		if err := json.Unmarshal(msgBytes, &env); err != nil {
			log.Printf("[Signal] Malformed envelope from peer %s: %v", peerID, err)
			continue
		}

		// 발신자와 세션은 연결 정보로 강제한다 (스푸핑 방지)
		env.From = peerID
		env.SessionID = sessionID

		if peerSendableKind(env.Kind) {
			h.hub.Route(env)
		} else {
			// 피어가 roster/peer-joined 등을 직접 보낼 이유가 없다
			log.Printf("[Signal] Dropping envelope kind %q from peer %s", env.Kind, peerID)
		}
	}
}

// peerSendableKind 피어가 직접 보낼 수 있는 envelope 종류인지.
// 협상 메시지와 통화 중 채팅만 중계한다.
func peerSendableKind(kind string) bool {
	switch kind {
	case call.KindOffer, call.KindAnswer, call.KindCandidate, call.KindChat:
		return true
	}
	return false
}
