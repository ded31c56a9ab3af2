package handler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"classhub-backend/internal/auth"
	"classhub-backend/internal/call"
	"classhub-backend/internal/model"
	"classhub-backend/internal/relay"
	"classhub-backend/internal/service"
)

func newCallApp(t *testing.T) (*fiber.App, *gorm.DB, *auth.JWTManager, *relay.Hub) {
	t.Helper()
	db := newTestDB(t)
	jwtManager := newTestJWT()
	hub := relay.NewHub(nil)
	t.Cleanup(hub.Close)

	h := NewCallHandler(db, service.NewCallService(db), service.NewMemberService(db),
		nil, hub, "test-server", []string{"stun:stun.test.io:3478"})

	app := fiber.New()
	api := app.Group("/api", auth.AuthMiddleware(jwtManager))
	api.Post("/classrooms/:id/call", h.JoinCall)
	api.Get("/classrooms/:id/call", h.GetActiveCall)
	api.Delete("/calls/:sessionId/leave", h.LeaveCall)
	return app, db, jwtManager, hub
}

func addClassroomWithMembers(t *testing.T, db *gorm.DB, owner *model.User, students ...*model.User) *model.Classroom {
	t.Helper()
	classroom := model.Classroom{Name: "3학년 2반", OwnerID: owner.ID, InviteCode: "CALLTEST"}
	require.NoError(t, db.Create(&classroom).Error)
	require.NoError(t, db.Create(&model.ClassroomMember{
		ClassroomID: classroom.ID, UserID: owner.ID, Role: model.RoleTeacher, Status: model.MemberActive,
	}).Error)
	for _, s := range students {
		require.NoError(t, db.Create(&model.ClassroomMember{
			ClassroomID: classroom.ID, UserID: s.ID, Role: model.RoleStudent, Status: model.MemberActive,
		}).Error)
	}
	return &classroom
}

// recordingConn 허브가 피어에게 보낸 envelope을 기록한다.
type recordingConn struct {
	mu   sync.Mutex
	envs []call.Envelope
}

func (c *recordingConn) WriteMessage(_ int, data []byte) error {
	var env call.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	c.mu.Lock()
	c.envs = append(c.envs, env)
	c.mu.Unlock()
	return nil
}

func (c *recordingConn) byKind(kind string) []call.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []call.Envelope
	for _, env := range c.envs {
		if env.Kind == kind {
			out = append(out, env)
		}
	}
	return out
}

type joinCallResponse struct {
	Session     CallSessionResponse `json:"session"`
	Created     bool                `json:"created"`
	StunServers []string            `json:"stun_servers"`
}

func joinCall(t *testing.T, app *fiber.App, classroomID int64, token string, wantStatus int) joinCallResponse {
	t.Helper()
	req := jsonRequest("POST", fmt.Sprintf("/api/classrooms/%d/call", classroomID), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode)

	var body joinCallResponse
	decodeBody(t, resp, &body)
	return body
}

func TestJoinCallCreatesAndJoinsSession(t *testing.T) {
	app, db, jwtManager, _ := newCallApp(t)

	teacher := createTestUser(t, db, "teacher@test.io", "선생님")
	student := createTestUser(t, db, "student@test.io", "학생")
	classroom := addClassroomWithMembers(t, db, teacher, student)

	// 첫 입장은 세션을 만든다
	created := joinCall(t, app, classroom.ID, accessTokenFor(t, jwtManager, teacher), fiber.StatusCreated)
	assert.True(t, created.Created)
	assert.Equal(t, classroom.ID, created.Session.ClassroomID)
	assert.Equal(t, teacher.ID, created.Session.InitiatorID)
	assert.True(t, created.Session.Active)
	assert.Equal(t, []string{"stun:stun.test.io:3478"}, created.StunServers)

	// 두 번째 참가자는 같은 세션에 합류한다
	joined := joinCall(t, app, classroom.ID, accessTokenFor(t, jwtManager, student), fiber.StatusOK)
	assert.False(t, joined.Created)
	assert.Equal(t, created.Session.ID, joined.Session.ID)
}

func TestJoinCallRequiresMembership(t *testing.T) {
	app, db, jwtManager, _ := newCallApp(t)

	teacher := createTestUser(t, db, "teacher@test.io", "선생님")
	outsider := createTestUser(t, db, "outsider@test.io", "외부인")
	classroom := addClassroomWithMembers(t, db, teacher)

	req := jsonRequest("POST", fmt.Sprintf("/api/classrooms/%d/call", classroom.ID), nil)
	req.Header.Set("Authorization", "Bearer "+accessTokenFor(t, jwtManager, outsider))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestRestLeaveAnnouncesPeerLeft(t *testing.T) {
	app, db, jwtManager, hub := newCallApp(t)

	teacher := createTestUser(t, db, "teacher@test.io", "선생님")
	student := createTestUser(t, db, "student@test.io", "학생")
	classroom := addClassroomWithMembers(t, db, teacher, student)

	created := joinCall(t, app, classroom.ID, accessTokenFor(t, jwtManager, teacher), fiber.StatusCreated)
	joinCall(t, app, classroom.ID, accessTokenFor(t, jwtManager, student), fiber.StatusOK)
	sessionID := created.Session.ID

	teacherPeer := strconv.FormatInt(teacher.ID, 10)
	studentPeer := strconv.FormatInt(student.ID, 10)
	teacherConn := &recordingConn{}
	studentConn := &recordingConn{}
	hub.Join(sessionID, teacherPeer, teacherConn)
	hub.Join(sessionID, studentPeer, studentConn)

	// 교사가 소켓을 닫지 않은 채 REST로 퇴장한다
	req := jsonRequest("DELETE", fmt.Sprintf("/api/calls/%d/leave", sessionID), nil)
	req.Header.Set("Authorization", "Bearer "+accessTokenFor(t, jwtManager, teacher))
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		SessionEnded bool `json:"session_ended"`
	}
	decodeBody(t, resp, &body)
	assert.False(t, body.SessionEnded, "student is still in the call")

	// 남은 참가자는 ICE 타임아웃을 기다리지 않고 바로 peer-left를 받는다
	lefts := studentConn.byKind(call.KindPeerLeft)
	require.Len(t, lefts, 1)
	assert.Equal(t, teacherPeer, lefts[0].From)
	assert.NotContains(t, hub.Peers(sessionID), teacherPeer)
}

func TestLeaveCallUnknownParticipant(t *testing.T) {
	app, db, jwtManager, _ := newCallApp(t)

	teacher := createTestUser(t, db, "teacher@test.io", "선생님")
	student := createTestUser(t, db, "student@test.io", "학생")
	classroom := addClassroomWithMembers(t, db, teacher, student)

	created := joinCall(t, app, classroom.ID, accessTokenFor(t, jwtManager, teacher), fiber.StatusCreated)

	// 참여한 적 없는 사용자의 퇴장 요청
	req := jsonRequest("DELETE", fmt.Sprintf("/api/calls/%d/leave", created.Session.ID), nil)
	req.Header.Set("Authorization", "Bearer "+accessTokenFor(t, jwtManager, student))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}
