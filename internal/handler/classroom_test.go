package handler

import (
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"classhub-backend/internal/auth"
	"classhub-backend/internal/model"
)

func newClassroomApp(t *testing.T) (*fiber.App, *gorm.DB, *auth.JWTManager) {
	t.Helper()
	db := newTestDB(t)
	jwtManager := newTestJWT()
	h := NewClassroomHandler(db, nil)

	app := fiber.New()
	group := app.Group("/api/classrooms", auth.AuthMiddleware(jwtManager))
	group.Post("/", h.CreateClassroom)
	group.Get("/", h.GetMyClassrooms)
	group.Post("/join", h.JoinClassroom)
	group.Get("/:id", h.GetClassroom)
	group.Delete("/:id/leave", h.LeaveClassroom)
	group.Get("/:id/members", h.GetMembers)
	return app, db, jwtManager
}

func TestCreateAndJoinClassroom(t *testing.T) {
	app, db, jwtManager := newClassroomApp(t)

	teacher := createTestUser(t, db, "teacher@test.io", "선생님")
	student := createTestUser(t, db, "student@test.io", "학생")
	teacherToken := accessTokenFor(t, jwtManager, teacher)
	studentToken := accessTokenFor(t, jwtManager, student)

	req := jsonRequest("POST", "/api/classrooms/", map[string]string{"name": "3학년 2반"})
	req.Header.Set("Authorization", "Bearer "+teacherToken)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var created ClassroomResponse
	decodeBody(t, resp, &created)
	assert.Equal(t, teacher.ID, created.OwnerID)
	// 생성자에게는 초대 코드가 보인다
	require.NotEmpty(t, created.InviteCode)
	assert.Len(t, created.InviteCode, 8)

	// 학생이 초대 코드로 가입
	req = jsonRequest("POST", "/api/classrooms/join", map[string]string{"invite_code": created.InviteCode})
	req.Header.Set("Authorization", "Bearer "+studentToken)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var joined ClassroomResponse
	decodeBody(t, resp, &joined)
	assert.Equal(t, created.ID, joined.ID)
	// 학생에게는 초대 코드가 숨겨진다
	assert.Empty(t, joined.InviteCode)

	// 이미 가입한 학급에 다시 가입은 409
	req = jsonRequest("POST", "/api/classrooms/join", map[string]string{"invite_code": created.InviteCode})
	req.Header.Set("Authorization", "Bearer "+studentToken)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	// 잘못된 코드는 404
	req = jsonRequest("POST", "/api/classrooms/join", map[string]string{"invite_code": "NOPE0000"})
	req.Header.Set("Authorization", "Bearer "+studentToken)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	// 멤버 목록에 둘 다 보인다
	req = jsonRequest("GET", fmt.Sprintf("/api/classrooms/%d/members", created.ID), nil)
	req.Header.Set("Authorization", "Bearer "+studentToken)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var members struct {
		Members []ClassroomMemberResponse `json:"members"`
	}
	decodeBody(t, resp, &members)
	assert.Len(t, members.Members, 2)
}

func TestLeaveAndRejoinClassroom(t *testing.T) {
	app, db, jwtManager := newClassroomApp(t)

	teacher := createTestUser(t, db, "teacher@test.io", "선생님")
	student := createTestUser(t, db, "student@test.io", "학생")
	teacherToken := accessTokenFor(t, jwtManager, teacher)
	studentToken := accessTokenFor(t, jwtManager, student)

	req := jsonRequest("POST", "/api/classrooms/", map[string]string{"name": "과학반"})
	req.Header.Set("Authorization", "Bearer "+teacherToken)
	resp, err := app.Test(req)
	require.NoError(t, err)
	var created ClassroomResponse
	decodeBody(t, resp, &created)

	req = jsonRequest("POST", "/api/classrooms/join", map[string]string{"invite_code": created.InviteCode})
	req.Header.Set("Authorization", "Bearer "+studentToken)
	_, err = app.Test(req)
	require.NoError(t, err)

	// 학생 탈퇴
	req = jsonRequest("DELETE", fmt.Sprintf("/api/classrooms/%d/leave", created.ID), nil)
	req.Header.Set("Authorization", "Bearer "+studentToken)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var member model.ClassroomMember
	require.NoError(t, db.Where("classroom_id = ? AND user_id = ?", created.ID, student.ID).First(&member).Error)
	assert.Equal(t, model.MemberLeft, member.Status)

	// 소유자는 탈퇴할 수 없다
	req = jsonRequest("DELETE", fmt.Sprintf("/api/classrooms/%d/leave", created.ID), nil)
	req.Header.Set("Authorization", "Bearer "+teacherToken)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	// 재가입하면 기존 멤버십이 ACTIVE로 복구된다
	req = jsonRequest("POST", "/api/classrooms/join", map[string]string{"invite_code": created.InviteCode})
	req.Header.Set("Authorization", "Bearer "+studentToken)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	require.NoError(t, db.Where("classroom_id = ? AND user_id = ?", created.ID, student.ID).First(&member).Error)
	assert.Equal(t, model.MemberActive, member.Status)

	var count int64
	db.Model(&model.ClassroomMember{}).Where("classroom_id = ? AND user_id = ?", created.ID, student.ID).Count(&count)
	assert.Equal(t, int64(1), count, "rejoin must not duplicate the membership row")
}

func TestClassroomAccessControl(t *testing.T) {
	app, db, jwtManager := newClassroomApp(t)

	teacher := createTestUser(t, db, "teacher@test.io", "선생님")
	outsider := createTestUser(t, db, "outsider@test.io", "외부인")
	teacherToken := accessTokenFor(t, jwtManager, teacher)
	outsiderToken := accessTokenFor(t, jwtManager, outsider)

	req := jsonRequest("POST", "/api/classrooms/", map[string]string{"name": "비공개반"})
	req.Header.Set("Authorization", "Bearer "+teacherToken)
	resp, err := app.Test(req)
	require.NoError(t, err)
	var created ClassroomResponse
	decodeBody(t, resp, &created)

	// 비멤버는 상세 조회도 멤버 목록도 403
	req = jsonRequest("GET", fmt.Sprintf("/api/classrooms/%d", created.ID), nil)
	req.Header.Set("Authorization", "Bearer "+outsiderToken)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = jsonRequest("GET", fmt.Sprintf("/api/classrooms/%d/members", created.ID), nil)
	req.Header.Set("Authorization", "Bearer "+outsiderToken)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}
