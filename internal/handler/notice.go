package handler

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"classhub-backend/internal/auth"
	"classhub-backend/internal/model"
	"classhub-backend/internal/service"
)

// NoticeHandler 공지사항 핸들러
type NoticeHandler struct {
	db      *gorm.DB
	members *service.MemberService
	chatWS  *ChatWSHandler
}

// NewNoticeHandler NoticeHandler 생성
func NewNoticeHandler(db *gorm.DB, members *service.MemberService, chatWS *ChatWSHandler) *NoticeHandler {
	return &NoticeHandler{db: db, members: members, chatWS: chatWS}
}

// broadcastNotice 학급 채널에 공지 변경 이벤트 전송
func (h *NoticeHandler) broadcastNotice(eventType string, classroomID int64, payload interface{}) {
	if h.chatWS == nil {
		return
	}
	h.chatWS.BroadcastToClassroom(classroomID, WSMessage{Type: eventType, Payload: payload})
}

// NoticeRequest 공지 작성/수정 요청
type NoticeRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Pinned  bool   `json:"pinned"`
}

// NoticeResponse 공지 응답
type NoticeResponse struct {
	ID          int64         `json:"id"`
	ClassroomID int64         `json:"classroom_id"`
	Title       string        `json:"title"`
	Content     string        `json:"content"`
	Pinned      bool          `json:"pinned"`
	CreatedAt   string        `json:"created_at"`
	UpdatedAt   string        `json:"updated_at"`
	Author      *UserResponse `json:"author,omitempty"`
}

// CreateNotice 공지 작성 (교사 전용)
func (h *NoticeHandler) CreateNotice(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	classroomID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid classroom id",
		})
	}

	isTeacher, err := auth.IsTeacher(h.db, int64(classroomID), claims.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to check permission",
		})
	}
	if !isTeacher {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "only teachers can create notices",
		})
	}

	var req NoticeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if req.Title == "" || req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "title and content are required",
		})
	}

	req.Title = sanitizeString(req.Title)
	authorID := claims.UserID

	notice := model.Notice{
		ClassroomID: int64(classroomID),
		AuthorID:    &authorID,
		Title:       req.Title,
		Content:     req.Content,
		Pinned:      req.Pinned,
	}
	if err := h.db.Create(&notice).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create notice",
		})
	}

	// 학급 멤버 전원에게 알림 (실패해도 작성은 성공)
	var classroom model.Classroom
	if err := h.db.First(&classroom, classroomID).Error; err == nil {
		memberIDs, _ := h.members.ActiveMemberIDs(int64(classroomID))
		for _, memberID := range memberIDs {
			if memberID == claims.UserID {
				continue
			}
			CreateNoticeNotification(h.db, claims.UserID, memberID, notice.ID, classroom.Name, notice.Title)
		}
	}

	h.db.Preload("Author").First(&notice, notice.ID)

	resp := h.toNoticeResponse(&notice)
	h.broadcastNotice("notice_created", int64(classroomID), resp)

	return c.Status(fiber.StatusCreated).JSON(resp)
}

// GetNotices 공지 목록 (고정 공지 우선, 최신순)
func (h *NoticeHandler) GetNotices(c *fiber.Ctx) error {
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

	var notices []model.Notice
	err = h.db.
		Where("classroom_id = ?", classroomID).
		Preload("Author").
		Order("pinned DESC, created_at DESC").
		Find(&notices).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get notices",
		})
	}

	responses := make([]NoticeResponse, len(notices))
	for i, n := range notices {
		responses[i] = h.toNoticeResponse(&n)
	}

	return c.JSON(fiber.Map{
		"notices": responses,
		"total":   len(responses),
	})
}

// UpdateNotice 공지 수정 (교사 전용)
func (h *NoticeHandler) UpdateNotice(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	noticeID, err := c.ParamsInt("noticeId")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid notice id",
		})
	}

	var notice model.Notice
	if err := h.db.First(&notice, noticeID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "notice not found",
		})
	}

	isTeacher, err := auth.IsTeacher(h.db, notice.ClassroomID, claims.UserID)
	if err != nil || !isTeacher {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "only teachers can update notices",
		})
	}

	var req NoticeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if req.Title != "" {
		notice.Title = sanitizeString(req.Title)
	}
	if req.Content != "" {
		notice.Content = req.Content
	}
	notice.Pinned = req.Pinned

	if err := h.db.Save(&notice).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to update notice",
		})
	}

	h.db.Preload("Author").First(&notice, notice.ID)

	resp := h.toNoticeResponse(&notice)
	h.broadcastNotice("notice_updated", notice.ClassroomID, resp)

	return c.JSON(resp)
}

// DeleteNotice 공지 삭제 (교사 전용)
func (h *NoticeHandler) DeleteNotice(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	noticeID, err := c.ParamsInt("noticeId")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid notice id",
		})
	}

	var notice model.Notice
	if err := h.db.First(&notice, noticeID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "notice not found",
		})
	}

	isTeacher, err := auth.IsTeacher(h.db, notice.ClassroomID, claims.UserID)
	if err != nil || !isTeacher {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "only teachers can delete notices",
		})
	}

	if err := h.db.Delete(&notice).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to delete notice",
		})
	}

	h.broadcastNotice("notice_deleted", notice.ClassroomID, fiber.Map{"id": notice.ID})

	return c.JSON(fiber.Map{
		"message": "notice deleted successfully",
	})
}

func (h *NoticeHandler) toNoticeResponse(n *model.Notice) NoticeResponse {
	resp := NoticeResponse{
		ID:          n.ID,
		ClassroomID: n.ClassroomID,
		Title:       n.Title,
		Content:     n.Content,
		Pinned:      n.Pinned,
		CreatedAt:   n.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:   n.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if n.Author != nil && n.Author.ID != 0 {
		author := toUserResponse(n.Author)
		resp.Author = &author
	}
	return resp
}
