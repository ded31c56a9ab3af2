package handler

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"classhub-backend/internal/auth"
	"classhub-backend/internal/model"
)

// NotificationHandler 알림 핸들러
type NotificationHandler struct {
	db *gorm.DB
}

// NewNotificationHandler NotificationHandler 생성
func NewNotificationHandler(db *gorm.DB) *NotificationHandler {
	return &NotificationHandler{db: db}
}

// NotificationResponse 알림 응답
type NotificationResponse struct {
	ID          int64         `json:"id"`
	Type        string        `json:"type"`
	Content     string        `json:"content"`
	IsRead      bool          `json:"is_read"`
	RelatedType *string       `json:"related_type,omitempty"`
	RelatedID   *int64        `json:"related_id,omitempty"`
	CreatedAt   string        `json:"created_at"`
	Sender      *UserResponse `json:"sender,omitempty"`
}

// GetMyNotifications 내 알림 목록 조회 (읽지 않은 것만)
func (h *NotificationHandler) GetMyNotifications(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	var notifications []model.Notification
	err := h.db.
		Where("user_id = ? AND is_read = ?", claims.UserID, false).
		Preload("Sender").
		Order("created_at DESC").
		Limit(50).
		Find(&notifications).Error

	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get notifications",
		})
	}

	responses := make([]NotificationResponse, len(notifications))
	for i, n := range notifications {
		responses[i] = toNotificationResponse(&n)
	}

	return c.JSON(fiber.Map{
		"notifications": responses,
		"total":         len(responses),
	})
}

// MarkAsRead 알림 읽음 처리
func (h *NotificationHandler) MarkAsRead(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	notificationID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid notification id",
		})
	}

	result := h.db.Model(&model.Notification{}).
		Where("id = ? AND user_id = ?", notificationID, claims.UserID).
		Update("is_read", true)

	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to mark notification as read",
		})
	}

	return c.JSON(fiber.Map{
		"message": "notification marked as read",
	})
}

// MarkAllAsRead 전체 읽음 처리
func (h *NotificationHandler) MarkAllAsRead(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	result := h.db.Model(&model.Notification{}).
		Where("user_id = ? AND is_read = ?", claims.UserID, false).
		Update("is_read", true)

	if result.Error != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to mark notifications as read",
		})
	}

	return c.JSON(fiber.Map{
		"message": "all notifications marked as read",
		"count":   result.RowsAffected,
	})
}

// 헬퍼: 알림 생성 (다른 핸들러에서 사용)
func CreateNotification(db *gorm.DB, userID int64, senderID *int64, notificationType, content string, relatedType *string, relatedID *int64) error {
	notification := model.Notification{
		UserID:      userID,
		SenderID:    senderID,
		Type:        notificationType,
		Content:     content,
		RelatedType: relatedType,
		RelatedID:   relatedID,
	}
	if err := db.Create(&notification).Error; err != nil {
		return err
	}

	// 저장 직후 WebSocket으로 실시간 푸시 (연결이 없으면 무시됨)
	if senderID != nil {
		db.Preload("Sender").First(&notification, notification.ID)
	}
	GetNotificationHub().SendToUser(userID, toNotificationResponse(&notification))
	return nil
}

// 헬퍼: 학급 가입 알림 생성 (교사에게 전달)
func CreateMemberJoinedNotification(db *gorm.DB, joinerID, teacherID, classroomID int64, classroomName, joinerName string) error {
	content := fmt.Sprintf("%s님이 %s 학급에 가입했습니다.", joinerName, classroomName)
	relatedType := "CLASSROOM"
	return CreateNotification(db, teacherID, &joinerID, model.NotifyMemberJoined, content, &relatedType, &classroomID)
}

// 헬퍼: 공지 알림 생성
func CreateNoticeNotification(db *gorm.DB, authorID, userID, noticeID int64, classroomName, title string) error {
	content := fmt.Sprintf("%s 학급에 새 공지가 등록되었습니다: %s", classroomName, title)
	relatedType := "NOTICE"
	return CreateNotification(db, userID, &authorID, model.NotifyNotice, content, &relatedType, &noticeID)
}

// 헬퍼: 일정 알림 생성
func CreateCalendarNotification(db *gorm.DB, authorID, userID, eventID int64, classroomName, title string) error {
	content := fmt.Sprintf("%s 학급에 새 일정이 등록되었습니다: %s", classroomName, title)
	relatedType := "CALENDAR_EVENT"
	return CreateNotification(db, userID, &authorID, model.NotifyCalendar, content, &relatedType, &eventID)
}

// 헬퍼: 통화 시작 알림 생성
func CreateCallStartedNotification(db *gorm.DB, starterID, userID, sessionID int64, classroomName, starterName string) error {
	content := fmt.Sprintf("%s님이 %s 학급에서 통화를 시작했습니다.", starterName, classroomName)
	relatedType := "CALL_SESSION"
	return CreateNotification(db, userID, &starterID, model.NotifyCallStarted, content, &relatedType, &sessionID)
}

// 헬퍼: 파일 업로드 알림 생성
func CreateFileUploadedNotification(db *gorm.DB, uploaderID, userID, fileID int64, classroomName, fileName string) error {
	content := fmt.Sprintf("%s 학급에 새 파일이 공유되었습니다: %s", classroomName, fileName)
	relatedType := "FILE"
	return CreateNotification(db, userID, &uploaderID, model.NotifyFileUploaded, content, &relatedType, &fileID)
}

// 응답 변환
func toNotificationResponse(n *model.Notification) NotificationResponse {
	resp := NotificationResponse{
		ID:          n.ID,
		Type:        n.Type,
		Content:     n.Content,
		IsRead:      n.IsRead,
		RelatedType: n.RelatedType,
		RelatedID:   n.RelatedID,
		CreatedAt:   n.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}

	if n.Sender != nil && n.Sender.ID != 0 {
		sender := toUserResponse(n.Sender)
		resp.Sender = &sender
	}

	return resp
}
