package handler

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"gorm.io/gorm"
)

// ChatWSHandler WebSocket 학급 채팅 핸들러
type ChatWSHandler struct {
	db    *gorm.DB
	chat  *ChatHandler
	rooms map[int64]*ChatRoom // classroomID -> ChatRoom
	mu    sync.RWMutex
}

// ChatRoom 채팅방
type ChatRoom struct {
	clients map[*websocket.Conn]*ChatClient
	mu      sync.RWMutex
}

// ChatClient 채팅 클라이언트
type ChatClient struct {
	UserID   int64
	Nickname string
	Conn     *websocket.Conn
	writeMu  sync.Mutex
}

func (c *ChatClient) send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

// WSMessage WebSocket 메시지
type WSMessage struct {
	Type    string      `json:"type"` // message, typing, stop_typing
	Payload interface{} `json:"payload,omitempty"`
}

// ChatPayload 채팅 메시지 페이로드
type ChatPayload struct {
	ID        int64  `json:"id,omitempty"`
	Content   string `json:"content"`
	SenderID  int64  `json:"sender_id"`
	Nickname  string `json:"nickname"`
	CreatedAt string `json:"created_at,omitempty"`
}

// TypingPayload 타이핑 페이로드
type TypingPayload struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
}

// NewChatWSHandler ChatWSHandler 생성
func NewChatWSHandler(db *gorm.DB, chat *ChatHandler) *ChatWSHandler {
	return &ChatWSHandler{
		db:    db,
		chat:  chat,
		rooms: make(map[int64]*ChatRoom),
	}
}

// getOrCreateRoom 채팅방 조회 또는 생성
func (h *ChatWSHandler) getOrCreateRoom(classroomID int64) *ChatRoom {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, ok := h.rooms[classroomID]; ok {
		return room
	}

	room := &ChatRoom{
		clients: make(map[*websocket.Conn]*ChatClient),
	}
	h.rooms[classroomID] = room
	return room
}

// HandleWebSocket WebSocket 연결 처리
func (h *ChatWSHandler) HandleWebSocket(c *websocket.Conn) {
	classroomIDInterface := c.Locals("classroomId")
	userIDInterface := c.Locals("userId")
	nicknameInterface := c.Locals("nickname")

	classroomID, ok1 := classroomIDInterface.(int64)
	userID, ok2 := userIDInterface.(int64)
	nickname, ok3 := nicknameInterface.(string)

	if !ok1 || !ok2 || !ok3 {
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","message":"invalid session"}`))
		c.Close()
		return
	}

	room := h.getOrCreateRoom(classroomID)

	client := &ChatClient{
		UserID:   userID,
		Nickname: nickname,
		Conn:     c,
	}

	room.mu.Lock()
	room.clients[c] = client
	room.mu.Unlock()

	log.Printf("채팅 클라이언트 연결: classroom=%d, user=%d", classroomID, userID)

	// 연결 해제 시 정리
	defer func() {
		room.mu.Lock()
		delete(room.clients, c)
		room.mu.Unlock()
		c.Close()
		log.Printf("채팅 클라이언트 연결 해제: classroom=%d, user=%d", classroomID, userID)
	}()

	// 메시지 수신 루프
	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "message":
			h.handleMessage(room, client, classroomID, msg.Payload)
		case "typing":
			h.broadcastTyping(room, client, true)
		case "stop_typing":
			h.broadcastTyping(room, client, false)
		}
	}
}

// handleMessage 메시지 처리
func (h *ChatWSHandler) handleMessage(room *ChatRoom, client *ChatClient, classroomID int64, payload interface{}) {
	payloadBytes, _ := json.Marshal(payload)
	var chatPayload ChatPayload
	if err := json.Unmarshal(payloadBytes, &chatPayload); err != nil {
		return
	}

	if chatPayload.Content == "" {
		return
	}

	// 메시지 길이 제한
	if len(chatPayload.Content) > 2000 {
		chatPayload.Content = chatPayload.Content[:2000]
	}

	// DB 저장 + 캐시 갱신
	message, err := h.chat.persistMessage(classroomID, client.UserID, client.Nickname, chatPayload.Content)
	if err != nil {
		return
	}

	broadcastMsg := WSMessage{
		Type: "message",
		Payload: ChatPayload{
			ID:        message.ID,
			Content:   chatPayload.Content,
			SenderID:  client.UserID,
			Nickname:  client.Nickname,
			CreatedAt: message.CreatedAt.Format(time.RFC3339),
		},
	}

	h.broadcast(room, broadcastMsg)
}

// broadcastTyping 타이핑 상태 브로드캐스트
func (h *ChatWSHandler) broadcastTyping(room *ChatRoom, client *ChatClient, isTyping bool) {
	msgType := "typing"
	if !isTyping {
		msgType = "stop_typing"
	}

	msg := WSMessage{
		Type: msgType,
		Payload: TypingPayload{
			UserID:   client.UserID,
			Nickname: client.Nickname,
		},
	}

	// 자신을 제외한 모든 클라이언트에게 브로드캐스트
	room.mu.RLock()
	defer room.mu.RUnlock()

	msgBytes, _ := json.Marshal(msg)
	for _, c := range room.clients {
		if c.UserID != client.UserID {
			c.send(msgBytes)
		}
	}
}

// BroadcastToClassroom 학급 전체에 이벤트 전송 (다른 핸들러에서 사용)
func (h *ChatWSHandler) BroadcastToClassroom(classroomID int64, msg WSMessage) {
	h.mu.RLock()
	room, ok := h.rooms[classroomID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	h.broadcast(room, msg)
}

// broadcast 모든 클라이언트에게 메시지 전송
func (h *ChatWSHandler) broadcast(room *ChatRoom, msg WSMessage) {
	room.mu.RLock()
	defer room.mu.RUnlock()

	msgBytes, _ := json.Marshal(msg)
	for _, c := range room.clients {
		if err := c.send(msgBytes); err != nil {
			log.Printf("메시지 전송 실패: %v", err)
		}
	}
}
