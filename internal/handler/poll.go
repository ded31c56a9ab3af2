package handler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"classhub-backend/internal/auth"
	"classhub-backend/internal/cache"
)

// PollHandler 학급 투표 핸들러 (Redis 기반, DB 미사용)
type PollHandler struct {
	db    *gorm.DB
	redis *cache.RedisClient
}

func NewPollHandler(db *gorm.DB, redis *cache.RedisClient) *PollHandler {
	return &PollHandler{db: db, redis: redis}
}

type CreatePollRequest struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Duration    int64    `json:"duration"` // ms
	IsAnonymous bool     `json:"isAnonymous"`
}

type PollData struct {
	ID          string   `json:"id"`
	ClassroomID int64    `json:"classroomId"`
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	IsAnonymous bool     `json:"isAnonymous"`
	CreatedAt   int64    `json:"createdAt"`
	ExpiresAt   int64    `json:"expiresAt"`
	CreatedBy   int64    `json:"createdBy"`
	IsClosed    bool     `json:"isClosed"`
}

type VoteRequest struct {
	OptionIndex int `json:"optionIndex"`
}

func pollMetaKey(pollID string) string {
	return fmt.Sprintf("poll:%s:meta", pollID)
}

func pollVotesKey(pollID string) string {
	return fmt.Sprintf("poll:%s:votes", pollID)
}

func pollVotedKey(pollID string) string {
	return fmt.Sprintf("poll:%s:voted_users", pollID)
}

func classroomPollsKey(classroomID int64) string {
	return fmt.Sprintf("classroom:%d:polls", classroomID)
}

// checkMember 멤버십 확인 공통 처리. 거부 시 응답을 쓰고 false를 반환한다.
func (h *PollHandler) checkMember(c *fiber.Ctx, classroomID int64) bool {
	claims := c.Locals("claims").(*auth.Claims)
	ok, err := auth.IsMember(h.db, classroomID, claims.UserID)
	if err != nil {
		c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to check membership"})
		return false
	}
	if !ok {
		c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "you are not a member of this classroom"})
		return false
	}
	return true
}

// CreatePoll 투표 생성
func (h *PollHandler) CreatePoll(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if h.redis == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Redis not available"})
	}

	claims := c.Locals("claims").(*auth.Claims)
	classroomID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid classroom id"})
	}
	if !h.checkMember(c, int64(classroomID)) {
		return nil
	}

	var req CreatePollRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if req.Question == "" || len(req.Options) < 2 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "question and at least 2 options required"})
	}

	pollID := fmt.Sprintf("poll-%d", time.Now().UnixNano())
	now := time.Now().UnixMilli()
	expiresAt := now + req.Duration
	if req.Duration <= 0 {
		expiresAt = 0 // 무기한
	}

	poll := PollData{
		ID:          pollID,
		ClassroomID: int64(classroomID),
		Question:    req.Question,
		Options:     req.Options,
		IsAnonymous: req.IsAnonymous,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
		CreatedBy:   claims.UserID,
		IsClosed:    false,
	}

	data, _ := json.Marshal(poll)

	// 만료 후에도 결과 조회가 가능하도록 24시간 버퍼
	ttl := time.Duration(req.Duration)*time.Millisecond + 24*time.Hour
	if req.Duration <= 0 {
		ttl = 24 * time.Hour
	}

	if err := h.redis.Set(ctx, pollMetaKey(pollID), string(data), ttl); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to save poll"})
	}

	// 학급별 투표 목록에 등록
	h.redis.SAdd(ctx, classroomPollsKey(int64(classroomID)), pollID)
	h.redis.Expire(ctx, classroomPollsKey(int64(classroomID)), 24*time.Hour)

	return c.Status(fiber.StatusCreated).JSON(poll)
}

// GetPolls 학급 투표 목록 조회
func (h *PollHandler) GetPolls(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if h.redis == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Redis not available"})
	}

	classroomID, err := c.ParamsInt("id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid classroom id"})
	}
	if !h.checkMember(c, int64(classroomID)) {
		return nil
	}

	pollIDs, err := h.redis.SMembers(ctx, classroomPollsKey(int64(classroomID)))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list polls"})
	}

	polls := make([]PollData, 0, len(pollIDs))
	for _, pollID := range pollIDs {
		val, err := h.redis.Get(ctx, pollMetaKey(pollID))
		if err != nil {
			continue // 만료된 투표
		}
		var poll PollData
		if err := json.Unmarshal([]byte(val), &poll); err == nil {
			polls = append(polls, poll)
		}
	}

	return c.JSON(fiber.Map{
		"polls": polls,
		"total": len(polls),
	})
}

// GetPoll 투표 상태와 집계 조회
func (h *PollHandler) GetPoll(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if h.redis == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Redis not available"})
	}

	pollID := c.Params("pollId")
	if pollID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Poll ID required"})
	}

	val, err := h.redis.Get(ctx, pollMetaKey(pollID))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Poll not found"})
	}

	var poll PollData
	json.Unmarshal([]byte(val), &poll)

	if !h.checkMember(c, poll.ClassroomID) {
		return nil
	}

	// 선택지별 집계 (Hash: optionIdx -> count)
	counts, err := h.redis.HGetAll(ctx, pollVotesKey(pollID))
	if err != nil {
		counts = make(map[string]string)
	}

	voteCounts := make(map[int]int)
	for k, v := range counts {
		var idx int
		var count int
		fmt.Sscanf(k, "%d", &idx)
		fmt.Sscanf(v, "%d", &count)
		voteCounts[idx] = count
	}

	return c.JSON(fiber.Map{
		"poll":  poll,
		"votes": voteCounts,
	})
}

// Vote 투표 참여
func (h *PollHandler) Vote(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if h.redis == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Redis not available"})
	}

	claims := c.Locals("claims").(*auth.Claims)
	pollID := c.Params("pollId")
	if pollID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Poll ID required"})
	}

	var req VoteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid body"})
	}

	val, err := h.redis.Get(ctx, pollMetaKey(pollID))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Poll not found"})
	}
	var poll PollData
	json.Unmarshal([]byte(val), &poll)

	if !h.checkMember(c, poll.ClassroomID) {
		return nil
	}

	if poll.IsClosed {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Poll is closed"})
	}
	if poll.ExpiresAt > 0 && time.Now().UnixMilli() > poll.ExpiresAt {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Poll expired"})
	}
	if req.OptionIndex < 0 || req.OptionIndex >= len(poll.Options) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid option index"})
	}

	// 중복 투표 방지 (Set)
	userIDStr := fmt.Sprintf("%d", claims.UserID)
	isMember, err := h.redis.SIsMember(ctx, pollVotedKey(pollID), userIDStr)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Redis error"})
	}
	if isMember {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Already voted"})
	}

	h.redis.SAdd(ctx, pollVotedKey(pollID), userIDStr)

	newCount, err := h.redis.HIncrBy(ctx, pollVotesKey(pollID), fmt.Sprintf("%d", req.OptionIndex), 1)
	if err != nil {
		// 집계 실패 시 참여 기록 롤백
		h.redis.SRem(ctx, pollVotedKey(pollID), userIDStr)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to count vote"})
	}

	return c.JSON(fiber.Map{
		"success":     true,
		"pollId":      pollID,
		"optionIndex": req.OptionIndex,
		"newCount":    newCount,
	})
}

// ClosePoll 투표 종료 (작성자 또는 교사)
func (h *PollHandler) ClosePoll(c *fiber.Ctx) error {
	ctx := c.UserContext()
	if h.redis == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Redis not available"})
	}

	claims := c.Locals("claims").(*auth.Claims)
	pollID := c.Params("pollId")

	val, err := h.redis.Get(ctx, pollMetaKey(pollID))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Poll not found"})
	}
	var poll PollData
	json.Unmarshal([]byte(val), &poll)

	if poll.CreatedBy != claims.UserID {
		isTeacher, err := auth.IsTeacher(h.db, poll.ClassroomID, claims.UserID)
		if err != nil || !isTeacher {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Only creator or teacher can close"})
		}
	}

	poll.IsClosed = true
	updatedData, _ := json.Marshal(poll)

	if err := h.redis.Set(ctx, pollMetaKey(pollID), string(updatedData), 24*time.Hour); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to close poll"})
	}

	return c.JSON(fiber.Map{"success": true})
}
