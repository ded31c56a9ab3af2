package handler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"classhub-backend/internal/auth"
	"classhub-backend/internal/cache"
	"classhub-backend/internal/model"
	"classhub-backend/internal/service"
)

// PresentationHandler 프레젠테이션 핸들러. 발표 상태는 Redis에 저장하고
// 페이지 전환은 학급 WebSocket으로 브로드캐스트한다.
type PresentationHandler struct {
	db      *gorm.DB
	redis   *cache.RedisClient
	members *service.MemberService
	chatWS  *ChatWSHandler
}

func NewPresentationHandler(db *gorm.DB, redis *cache.RedisClient, members *service.MemberService, chatWS *ChatWSHandler) *PresentationHandler {
	return &PresentationHandler{db: db, redis: redis, members: members, chatWS: chatWS}
}

// PresentationState 진행 중인 발표 상태
type PresentationState struct {
	ClassroomID int64  `json:"classroomId"`
	FileID      int64  `json:"fileId"`
	FileName    string `json:"fileName"`
	FileURL     string `json:"fileUrl,omitempty"`
	PresenterID int64  `json:"presenterId"`
	CurrentPage int    `json:"currentPage"`
	PageCount   int    `json:"pageCount"`
	StartedAt   int64  `json:"startedAt"`
}

type StartPresentationRequest struct {
	FileID int64 `json:"file_id"`
}

type SetPageRequest struct {
	Page int `json:"page"`
}

func presentationKey(classroomID int64) string {
	return fmt.Sprintf("classroom:%d:presentation", classroomID)
}

// StartPresentation 발표 시작
func (h *PresentationHandler) StartPresentation(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if h.redis == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Redis not available"})
	}

	claims := c.Locals("claims").(*auth.Claims)
	classroomID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid classroom id"})
	}

	if !h.members.IsClassroomMember(int64(classroomID), claims.UserID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "you are not a member of this classroom"})
	}

	var req StartPresentationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	var file model.ClassFile
	if err := h.db.Where("id = ? AND classroom_id = ? AND type = ?", req.FileID, classroomID, model.FileTypeFile).First(&file).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "file not found"})
	}
	if file.PageCount == nil || *file.PageCount < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "file is not a presentable document"})
	}

	// 이미 다른 발표가 진행 중이면 거부
	if val, err := h.redis.Get(ctx, presentationKey(int64(classroomID))); err == nil && val != "" {
		var current PresentationState
		if json.Unmarshal([]byte(val), &current) == nil && current.PresenterID != claims.UserID {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "another presentation is in progress"})
		}
	}

	state := PresentationState{
		ClassroomID: int64(classroomID),
		FileID:      file.ID,
		FileName:    file.Name,
		PresenterID: claims.UserID,
		CurrentPage: 1,
		PageCount:   *file.PageCount,
		StartedAt:   time.Now().UnixMilli(),
	}
	if file.FileURL != nil {
		state.FileURL = *file.FileURL
	}

	data, _ := json.Marshal(state)
	if err := h.redis.Set(ctx, presentationKey(int64(classroomID)), string(data), 12*time.Hour); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to start presentation"})
	}

	h.broadcastState("presentation_started", &state)

	return c.Status(fiber.StatusCreated).JSON(state)
}

// GetPresentation 현재 발표 상태 조회
func (h *PresentationHandler) GetPresentation(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if h.redis == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Redis not available"})
	}

	claims := c.Locals("claims").(*auth.Claims)
	classroomID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid classroom id"})
	}

	if !h.members.IsClassroomMember(int64(classroomID), claims.UserID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "you are not a member of this classroom"})
	}

	val, err := h.redis.Get(ctx, presentationKey(int64(classroomID)))
	if err != nil || val == "" {
		return c.JSON(fiber.Map{"active": false})
	}

	var state PresentationState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return c.JSON(fiber.Map{"active": false})
	}

	return c.JSON(fiber.Map{
		"active":       true,
		"presentation": state,
	})
}

// SetPage 페이지 전환 (발표자 전용)
func (h *PresentationHandler) SetPage(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if h.redis == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Redis not available"})
	}

	claims := c.Locals("claims").(*auth.Claims)
	classroomID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid classroom id"})
	}

	var req SetPageRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	val, err := h.redis.Get(ctx, presentationKey(int64(classroomID)))
	if err != nil || val == "" {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no presentation in progress"})
	}

	var state PresentationState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "invalid presentation state"})
	}

	if state.PresenterID != claims.UserID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "only presenter can change page"})
	}

	if req.Page < 1 || req.Page > state.PageCount {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "page out of range"})
	}

	state.CurrentPage = req.Page
	data, _ := json.Marshal(state)
	if err := h.redis.Set(ctx, presentationKey(int64(classroomID)), string(data), 12*time.Hour); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to update page"})
	}

	h.broadcastState("presentation_page", &state)

	return c.JSON(state)
}

// EndPresentation 발표 종료 (발표자 또는 교사)
func (h *PresentationHandler) EndPresentation(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if h.redis == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Redis not available"})
	}

	claims := c.Locals("claims").(*auth.Claims)
	classroomID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid classroom id"})
	}

	val, err := h.redis.Get(ctx, presentationKey(int64(classroomID)))
	if err != nil || val == "" {
		// 이미 종료된 발표는 멱등 처리
		return c.JSON(fiber.Map{"message": "no presentation in progress"})
	}

	var state PresentationState
	if err := json.Unmarshal([]byte(val), &state); err == nil {
		if state.PresenterID != claims.UserID && !h.members.IsClassroomTeacher(int64(classroomID), claims.UserID) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "only presenter or teacher can end the presentation"})
		}
	}

	if err := h.redis.Del(ctx, presentationKey(int64(classroomID))); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to end presentation"})
	}

	h.broadcastState("presentation_ended", &state)

	return c.JSON(fiber.Map{"message": "presentation ended"})
}

func (h *PresentationHandler) broadcastState(eventType string, state *PresentationState) {
	if h.chatWS == nil || state == nil {
		return
	}
	h.chatWS.BroadcastToClassroom(state.ClassroomID, WSMessage{
		Type:    eventType,
		Payload: state,
	})
}
