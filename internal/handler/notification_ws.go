package handler

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gofiber/contrib/websocket"
)

// NotificationWSHandler 사용자별 실시간 알림 푸시 허브
type NotificationWSHandler struct {
	clients map[int64]map[*websocket.Conn]*sync.Mutex // userID -> conn -> write lock
	mu      sync.RWMutex
}

// NotificationWSMessage 알림 WebSocket 메시지
type NotificationWSMessage struct {
	Type    string      `json:"type"` // notification, ping, pong
	Payload interface{} `json:"payload,omitempty"`
}

// 글로벌 인스턴스 (싱글톤) - CreateNotification 헬퍼가 핸들러 인스턴스 없이 푸시할 수 있도록
var notificationHub *NotificationWSHandler
var notificationHubOnce sync.Once

// GetNotificationHub 싱글톤 인스턴스 반환
func GetNotificationHub() *NotificationWSHandler {
	notificationHubOnce.Do(func() {
		notificationHub = &NotificationWSHandler{
			clients: make(map[int64]map[*websocket.Conn]*sync.Mutex),
		}
	})
	return notificationHub
}

// HandleWebSocket WebSocket 연결 처리
func (h *NotificationWSHandler) HandleWebSocket(c *websocket.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("알림 WebSocket 패닉 복구: %v", r)
		}
	}()

	userID, ok := c.Locals("userId").(int64)
	if !ok {
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","message":"invalid session"}`))
		c.Close()
		return
	}

	writeMu := &sync.Mutex{}

	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*websocket.Conn]*sync.Mutex)
	}
	h.clients[userID][c] = writeMu
	h.mu.Unlock()

	log.Printf("알림 WebSocket 연결: user=%d", userID)

	defer func() {
		h.mu.Lock()
		delete(h.clients[userID], c)
		if len(h.clients[userID]) == 0 {
			delete(h.clients, userID)
		}
		h.mu.Unlock()
		c.Close()
		log.Printf("알림 WebSocket 연결 해제: user=%d", userID)
	}()

	// 읽기 루프는 keepalive 전용
	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			break
		}

		var msg NotificationWSMessage
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			continue
		}

		if msg.Type == "ping" {
			pongBytes, _ := json.Marshal(NotificationWSMessage{Type: "pong"})
			writeMu.Lock()
			c.WriteMessage(websocket.TextMessage, pongBytes)
			writeMu.Unlock()
		}
	}
}

// SendToUser 특정 사용자의 모든 연결에 알림 전송
func (h *NotificationWSHandler) SendToUser(userID int64, notification NotificationResponse) {
	msgBytes, err := json.Marshal(NotificationWSMessage{
		Type:    "notification",
		Payload: notification,
	})
	if err != nil {
		log.Printf("알림 직렬화 실패: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn, writeMu := range h.clients[userID] {
		writeMu.Lock()
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			log.Printf("알림 전송 실패: user=%d, err=%v", userID, err)
		}
		writeMu.Unlock()
	}
}
