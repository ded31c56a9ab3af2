package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"classhub-backend/internal/auth"
	"classhub-backend/internal/model"
	"classhub-backend/internal/presence"
	"classhub-backend/internal/relay"
	"classhub-backend/internal/service"
)

// CallHandler 통화 세션 REST 핸들러. 세션 입장/퇴장은 CallService가
// 멱등하게 처리하고, 여기서는 권한 확인과 알림/접속 상태 갱신, 시그널링
// 허브로의 참가자 변동 전파를 맡는다.
type CallHandler struct {
	db          *gorm.DB
	calls       *service.CallService
	members     *service.MemberService
	presence    *presence.Manager
	hub         *relay.Hub
	serverID    string
	stunServers []string
}

func NewCallHandler(db *gorm.DB, calls *service.CallService, members *service.MemberService, presenceManager *presence.Manager, hub *relay.Hub, serverID string, stunServers []string) *CallHandler {
	return &CallHandler{
		db:          db,
		calls:       calls,
		members:     members,
		presence:    presenceManager,
		hub:         hub,
		serverID:    serverID,
		stunServers: stunServers,
	}
}

// CallSessionResponse 통화 세션 응답
type CallSessionResponse struct {
	ID           int64                     `json:"id"`
	ClassroomID  int64                     `json:"classroom_id"`
	InitiatorID  int64                     `json:"initiator_id"`
	Active       bool                      `json:"active"`
	CreatedAt    string                    `json:"created_at"`
	EndedAt      *string                   `json:"ended_at,omitempty"`
	Participants []CallParticipantResponse `json:"participants,omitempty"`
}

// CallParticipantResponse 통화 참가자 응답
type CallParticipantResponse struct {
	UserID   int64         `json:"user_id"`
	Active   bool          `json:"active"`
	JoinedAt string        `json:"joined_at"`
	User     *UserResponse `json:"user,omitempty"`
}

// JoinCall 통화 시작 또는 참여. 활성 세션이 없으면 새로 만든다.
func (h *CallHandler) JoinCall(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	classroomID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid classroom id",
		})
	}

	if !h.members.IsClassroomMember(int64(classroomID), claims.UserID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "you are not a member of this classroom",
		})
	}

	result, err := h.calls.StartOrJoin(int64(classroomID), claims.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to join call",
		})
	}

	// 접속 상태를 IN_CALL로 전환 (실패해도 참여는 성공)
	if h.presence != nil {
		sessionID := result.Session.ID
		h.presence.SetPresence(claims.UserID, presence.StatusInCall, h.serverID, &sessionID)
	}

	// 새 세션이면 학급 멤버에게 알림
	if result.CreatedSession {
		var classroom model.Classroom
		if err := h.db.First(&classroom, classroomID).Error; err == nil {
			memberIDs, _ := h.members.ActiveMemberIDs(int64(classroomID))
			for _, memberID := range memberIDs {
				if memberID == claims.UserID {
					continue
				}
				CreateCallStartedNotification(h.db, claims.UserID, memberID, result.Session.ID, classroom.Name, claims.Nickname)
			}
		}
	}

	status := fiber.StatusOK
	if result.CreatedSession {
		status = fiber.StatusCreated
	}

	return c.Status(status).JSON(fiber.Map{
		"session":      h.toSessionResponse(&result.Session),
		"created":      result.CreatedSession,
		"stun_servers": h.stunServers,
	})
}

// LeaveCall 통화 퇴장. 마지막 참가자가 나가면 세션이 종료된다.
func (h *CallHandler) LeaveCall(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	sessionID, err := c.ParamsInt("sessionId")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid session id",
		})
	}

	result, err := h.calls.Leave(int64(sessionID), claims.UserID)
	if errors.Is(err, service.ErrNotInSession) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "you are not a participant of this session",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to leave call",
		})
	}

	if h.presence != nil {
		h.presence.SetPresence(claims.UserID, presence.StatusOnline, h.serverID, nil)
	}

	// 소켓이 아직 열려 있어도 남은 참가자들이 바로 링크를 정리하도록
	// peer-left를 전파한다
	if h.hub != nil {
		h.hub.Drop(int64(sessionID), strconv.FormatInt(claims.UserID, 10))
	}

	return c.JSON(fiber.Map{
		"message":       "left call",
		"session_ended": result.SessionEnded,
	})
}

// GetActiveCall 학급의 활성 통화 세션 조회
func (h *CallHandler) GetActiveCall(c *fiber.Ctx) error {
	claims := c.Locals("claims").(*auth.Claims)
	classroomID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid classroom id",
		})
	}

	if !h.members.IsClassroomMember(int64(classroomID), claims.UserID) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "you are not a member of this classroom",
		})
	}

	session, err := h.calls.GetActiveSession(int64(classroomID))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get active session",
		})
	}
	if session == nil {
		return c.JSON(fiber.Map{"active": false})
	}

	participants, _ := h.calls.ActiveParticipants(session.ID)
	resp := h.toSessionResponse(session)
	resp.Participants = toParticipantResponses(participants)

	return c.JSON(fiber.Map{
		"active":  true,
		"session": resp,
	})
}

func (h *CallHandler) toSessionResponse(s *model.CallSession) CallSessionResponse {
	resp := CallSessionResponse{
		ID:          s.ID,
		ClassroomID: s.ClassroomID,
		InitiatorID: s.InitiatorID,
		Active:      s.Active,
		CreatedAt:   s.CreatedAt.Format(time.RFC3339),
	}
	if s.EndedAt != nil {
		endedAt := s.EndedAt.Format(time.RFC3339)
		resp.EndedAt = &endedAt
	}
	return resp
}

func toParticipantResponses(participants []model.CallParticipant) []CallParticipantResponse {
	responses := make([]CallParticipantResponse, len(participants))
	for i, p := range participants {
		responses[i] = CallParticipantResponse{
			UserID:   p.UserID,
			Active:   p.Active,
			JoinedAt: p.JoinedAt.Format(time.RFC3339),
		}
		if p.User.ID != 0 {
			user := toUserResponse(&p.User)
			responses[i].User = &user
		}
	}
	return responses
}
