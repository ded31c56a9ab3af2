package handler

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"classhub-backend/internal/auth"
	"classhub-backend/internal/model"
	"classhub-backend/internal/presence"
)

// ClassroomHandler 학급 핸들러
type ClassroomHandler struct {
	db       *gorm.DB
	presence *presence.Manager
}

// NewClassroomHandler ClassroomHandler 생성
func NewClassroomHandler(db *gorm.DB, presenceManager *presence.Manager) *ClassroomHandler {
	return &ClassroomHandler{db: db, presence: presenceManager}
}

// CreateClassroomRequest 학급 생성 요청
type CreateClassroomRequest struct {
	Name    string  `json:"name"`
	Subject *string `json:"subject,omitempty"`
}

// JoinClassroomRequest 초대 코드로 가입 요청
type JoinClassroomRequest struct {
	InviteCode string `json:"invite_code"`
}

// ClassroomResponse 학급 응답
type ClassroomResponse struct {
	ID         int64                     `json:"id"`
	Name       string                    `json:"name"`
	Subject    *string                   `json:"subject,omitempty"`
	OwnerID    int64                     `json:"owner_id"`
	InviteCode string                    `json:"invite_code,omitempty"`
	CreatedAt  string                    `json:"created_at"`
	Owner      *UserResponse             `json:"owner,omitempty"`
	Members    []ClassroomMemberResponse `json:"members,omitempty"`
}

// ClassroomMemberResponse 학급 멤버 응답
type ClassroomMemberResponse struct {
	ID       int64         `json:"id"`
	UserID   int64         `json:"user_id"`
	Role     string        `json:"role"`
	Status   string        `json:"status"`
	JoinedAt string        `json:"joined_at"`
	User     *UserResponse `json:"user,omitempty"`
	Presence *string       `json:"presence,omitempty"`
}

// generateInviteCode 8자리 초대 코드 생성
func generateInviteCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// CreateClassroom 학급 생성 (생성자가 TEACHER)
func (h *ClassroomHandler) CreateClassroom(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	var req CreateClassroomRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	// 이름 검증
	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "classroom name is required",
		})
	}
	if len(req.Name) < 2 || len(req.Name) > 100 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "classroom name must be between 2 and 100 characters",
		})
	}

	req.Name = sanitizeString(req.Name)

	inviteCode, err := generateInviteCode()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate invite code",
		})
	}

	// 트랜잭션으로 학급 + 교사 멤버 생성
	var classroom model.Classroom
	err = h.db.Transaction(func(tx *gorm.DB) error {
		classroom = model.Classroom{
			Name:       req.Name,
			Subject:    req.Subject,
			OwnerID:    claims.UserID,
			InviteCode: inviteCode,
		}
		if err := tx.Create(&classroom).Error; err != nil {
			return err
		}

		// 생성자를 교사 멤버로 추가
		ownerMember := model.ClassroomMember{
			ClassroomID: classroom.ID,
			UserID:      claims.UserID,
			Role:        model.RoleTeacher,
			Status:      model.MemberActive,
		}
		return tx.Create(&ownerMember).Error
	})

	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to create classroom",
		})
	}

	h.db.
		Preload("Owner").
		Preload("Members", "status = ?", model.MemberActive).
		Preload("Members.User").
		First(&classroom, classroom.ID)

	return c.Status(fiber.StatusCreated).JSON(h.toClassroomResponse(&classroom, true))
}

// GetMyClassrooms 내 학급 목록
func (h *ClassroomHandler) GetMyClassrooms(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	var classrooms []model.Classroom
	err := h.db.
		Joins("JOIN classroom_members ON classroom_members.classroom_id = classrooms.id").
		Where("classroom_members.user_id = ? AND classroom_members.status = ?", claims.UserID, model.MemberActive).
		Preload("Owner").
		Preload("Members", "status = ?", model.MemberActive).
		Preload("Members.User").
		Order("classrooms.created_at DESC").
		Find(&classrooms).Error

	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get classrooms",
		})
	}

	responses := make([]ClassroomResponse, len(classrooms))
	for i, cr := range classrooms {
		// 초대 코드는 교사에게만 노출
		responses[i] = h.toClassroomResponse(&cr, cr.OwnerID == claims.UserID)
	}

	return c.JSON(fiber.Map{
		"classrooms": responses,
		"total":      len(responses),
	})
}

// GetClassroom 학급 상세 조회
func (h *ClassroomHandler) GetClassroom(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	classroomID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid classroom id",
		})
	}

	var classroom model.Classroom
	err = h.db.
		Preload("Owner").
		Preload("Members", "status = ?", model.MemberActive).
		Preload("Members.User").
		First(&classroom, classroomID).Error

	if err == gorm.ErrRecordNotFound {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "classroom not found",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get classroom",
		})
	}

	isMember := false
	isTeacher := classroom.OwnerID == claims.UserID
	for _, member := range classroom.Members {
		if member.UserID == claims.UserID {
			isMember = true
			if member.Role == model.RoleTeacher {
				isTeacher = true
			}
			break
		}
	}
	if !isMember {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "you are not a member of this classroom",
		})
	}

	return c.JSON(h.toClassroomResponse(&classroom, isTeacher))
}

// JoinClassroom 초대 코드로 학급 가입
func (h *ClassroomHandler) JoinClassroom(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)

	var req JoinClassroomRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	code := strings.ToUpper(strings.TrimSpace(req.InviteCode))
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invite code is required",
		})
	}

	var classroom model.Classroom
	if err := h.db.Where("invite_code = ?", code).First(&classroom).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "invalid invite code",
		})
	}

	// 기존 멤버십 확인 (나갔던 학생은 재가입 처리)
	var member model.ClassroomMember
	err := h.db.Where("classroom_id = ? AND user_id = ?", classroom.ID, claims.UserID).First(&member).Error
	if err == nil {
		if member.Status == model.MemberActive {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "already a member of this classroom",
			})
		}
		member.Status = model.MemberActive
		if err := h.db.Save(&member).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to join classroom",
			})
		}
	} else {
		member = model.ClassroomMember{
			ClassroomID: classroom.ID,
			UserID:      claims.UserID,
			Role:        model.RoleStudent,
			Status:      model.MemberActive,
		}
		if err := h.db.Create(&member).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to join classroom",
			})
		}
	}

	// 교사에게 가입 알림 (실패해도 가입은 성공)
	CreateMemberJoinedNotification(h.db, claims.UserID, classroom.OwnerID, classroom.ID, classroom.Name, claims.Nickname)

	h.db.
		Preload("Owner").
		Preload("Members", "status = ?", model.MemberActive).
		Preload("Members.User").
		First(&classroom, classroom.ID)

	return c.JSON(h.toClassroomResponse(&classroom, false))
}

// LeaveClassroom 학급 나가기
func (h *ClassroomHandler) LeaveClassroom(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	classroomID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid classroom id",
		})
	}

	var classroom model.Classroom
	if err := h.db.First(&classroom, classroomID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "classroom not found",
		})
	}

	// 소유자는 나갈 수 없음
	if classroom.OwnerID == claims.UserID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "owner cannot leave classroom. Delete the classroom instead.",
		})
	}

	var member model.ClassroomMember
	if err := h.db.Where("classroom_id = ? AND user_id = ?", classroomID, claims.UserID).First(&member).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "you are not a member of this classroom",
		})
	}

	member.Status = model.MemberLeft
	if err := h.db.Save(&member).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to leave classroom",
		})
	}

	return c.JSON(fiber.Map{
		"message": "successfully left classroom",
	})
}

// GetMembers 학급 멤버 목록 (접속 상태 포함)
func (h *ClassroomHandler) GetMembers(c *fiber.Ctx) error {
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

	var members []model.ClassroomMember
	err = h.db.
		Where("classroom_id = ? AND status = ?", classroomID, model.MemberActive).
		Preload("User").
		Order("joined_at ASC").
		Find(&members).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get members",
		})
	}

	userIDs := make([]int64, len(members))
	for i, m := range members {
		userIDs[i] = m.UserID
	}

	// Redis 접속 상태 조회 (실패 시 상태 없이 응답)
	var statuses map[int64]*presence.PresenceData
	if h.presence != nil {
		statuses, _ = h.presence.GetMultiPresence(userIDs)
	}

	responses := make([]ClassroomMemberResponse, len(members))
	for i, m := range members {
		responses[i] = toMemberResponse(&m)
		if statuses != nil {
			if data, found := statuses[m.UserID]; found && data != nil {
				status := string(data.Status)
				responses[i].Presence = &status
			}
		}
	}

	return c.JSON(fiber.Map{
		"members": responses,
		"total":   len(responses),
	})
}

func toMemberResponse(m *model.ClassroomMember) ClassroomMemberResponse {
	resp := ClassroomMemberResponse{
		ID:       m.ID,
		UserID:   m.UserID,
		Role:     m.Role,
		Status:   m.Status,
		JoinedAt: m.JoinedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if m.User.ID != 0 {
		user := toUserResponse(&m.User)
		resp.User = &user
	}
	return resp
}

// 헬퍼 함수: 학급 응답 변환
func (h *ClassroomHandler) toClassroomResponse(cr *model.Classroom, includeInviteCode bool) ClassroomResponse {
	resp := ClassroomResponse{
		ID:        cr.ID,
		Name:      cr.Name,
		Subject:   cr.Subject,
		OwnerID:   cr.OwnerID,
		CreatedAt: cr.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if includeInviteCode {
		resp.InviteCode = cr.InviteCode
	}

	if cr.Owner.ID != 0 {
		owner := toUserResponse(&cr.Owner)
		resp.Owner = &owner
	}

	if len(cr.Members) > 0 {
		resp.Members = make([]ClassroomMemberResponse, len(cr.Members))
		for i, m := range cr.Members {
			resp.Members[i] = toMemberResponse(&m)
		}
	}

	return resp
}
