package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"classhub-backend/internal/auth"
	"classhub-backend/internal/cache"
	"classhub-backend/internal/model"
)

// ChatHandler 학급 채팅 핸들러
type ChatHandler struct {
	db    *gorm.DB
	redis *cache.RedisClient
}

// NewChatHandler ChatHandler 생성
func NewChatHandler(db *gorm.DB, redisClient *cache.RedisClient) *ChatHandler {
	return &ChatHandler{db: db, redis: redisClient}
}

// ChatMessageResponse 채팅 메시지 응답
type ChatMessageResponse struct {
	ID          int64         `json:"id"`
	ClassroomID int64         `json:"classroom_id"`
	SenderID    *int64        `json:"sender_id,omitempty"`
	Content     string        `json:"content"`
	Type        string        `json:"type"`
	CreatedAt   string        `json:"created_at"`
	Sender      *UserResponse `json:"sender,omitempty"`
}

// SendMessageRequest 메시지 전송 요청
type SendMessageRequest struct {
	Content string `json:"content"`
}

// GetMessages 학급 채팅 기록 조회
func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	classroomID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid classroom id",
		})
	}

	ok, err := auth.IsMember(h.db, int64(classroomID), claims.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to check membership",
		})
	}
	if !ok {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "you are not a member of this classroom",
		})
	}

	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	// 최근 페이지는 Redis 캐시 우선
	if h.redis != nil && offset == 0 {
		cached, err := h.redis.GetRecentMessages(c.Context(), int64(classroomID), int64(limit))
		if err == nil && len(cached) > 0 {
			responses := make([]ChatMessageResponse, len(cached))
			for i, m := range cached {
				senderID := m.SenderID
				responses[i] = ChatMessageResponse{
					ID:          m.MessageID,
					ClassroomID: m.ClassroomID,
					SenderID:    &senderID,
					Content:     m.Content,
					Type:        m.Type,
					CreatedAt:   m.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
					Sender: &UserResponse{
						ID:       m.SenderID,
						Nickname: m.SenderName,
					},
				}
			}
			return c.JSON(fiber.Map{
				"messages": responses,
				"total":    len(responses),
				"cached":   true,
			})
		}
	}

	var messages []model.ChatMessage
	err = h.db.
		Where("classroom_id = ?", classroomID).
		Preload("Sender").
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get messages",
		})
	}

	// 시간순으로 뒤집어 반환
	responses := make([]ChatMessageResponse, len(messages))
	for i, m := range messages {
		responses[len(messages)-1-i] = h.toChatMessageResponse(&m)
	}

	return c.JSON(fiber.Map{
		"messages": responses,
		"total":    len(responses),
	})
}

// SendMessage 메시지 전송 (REST 폴백; 실시간은 WebSocket 사용)
func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	classroomID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid classroom id",
		})
	}

	ok, err := auth.IsMember(h.db, int64(classroomID), claims.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to check membership",
		})
	}
	if !ok {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "you are not a member of this classroom",
		})
	}

	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "content is required",
		})
	}

	req.Content = sanitizeString(req.Content)
	if len(req.Content) > 2000 {
		req.Content = req.Content[:2000]
	}

	message, err := h.persistMessage(int64(classroomID), claims.UserID, claims.Nickname, req.Content)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to send message",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(h.toChatMessageResponse(message))
}

// persistMessage DB 저장 + 캐시 갱신 (WS 핸들러에서도 사용)
func (h *ChatHandler) persistMessage(classroomID, senderID int64, senderName, content string) (*model.ChatMessage, error) {
	message := model.ChatMessage{
		ClassroomID: classroomID,
		SenderID:    &senderID,
		Content:     &content,
		Type:        model.MessageText,
	}
	if err := h.db.Create(&message).Error; err != nil {
		return nil, err
	}

	// 캐시 갱신 실패는 무시
	if h.redis != nil {
		h.redis.AddRecentMessage(context.Background(), classroomID, &cache.RecentMessage{
			MessageID:   message.ID,
			ClassroomID: classroomID,
			SenderID:    senderID,
			SenderName:  senderName,
			Content:     content,
			Type:        model.MessageText,
			Timestamp:   message.CreatedAt,
		})
	}

	h.db.Preload("Sender").First(&message, message.ID)
	return &message, nil
}

func (h *ChatHandler) toChatMessageResponse(m *model.ChatMessage) ChatMessageResponse {
	resp := ChatMessageResponse{
		ID:          m.ID,
		ClassroomID: m.ClassroomID,
		SenderID:    m.SenderID,
		Type:        m.Type,
		CreatedAt:   m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if m.Content != nil {
		resp.Content = *m.Content
	}
	if m.Sender != nil && m.Sender.ID != 0 {
		sender := toUserResponse(m.Sender)
		resp.Sender = &sender
	}
	return resp
}
