package service

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"classhub-backend/internal/database"
	"classhub-backend/internal/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func seedClassroom(t *testing.T, db *gorm.DB) (classroomID int64, userIDs []int64) {
	t.Helper()
	users := []model.User{
		{Email: "alice@test.io", PasswordHash: "x", Nickname: "alice"},
		{Email: "bob@test.io", PasswordHash: "x", Nickname: "bob"},
		{Email: "carol@test.io", PasswordHash: "x", Nickname: "carol"},
	}
	for i := range users {
		require.NoError(t, db.Create(&users[i]).Error)
		userIDs = append(userIDs, users[i].ID)
	}

	classroom := model.Classroom{Name: "3학년 2반", OwnerID: userIDs[0], InviteCode: "testcode"}
	require.NoError(t, db.Create(&classroom).Error)
	for _, id := range userIDs {
		require.NoError(t, db.Create(&model.ClassroomMember{
			ClassroomID: classroom.ID, UserID: id, Role: model.RoleStudent, Status: model.MemberActive,
		}).Error)
	}
	return classroom.ID, userIDs
}

func TestStartOrJoinCreatesThenReuses(t *testing.T) {
	db := newTestDB(t)
	classroomID, users := seedClassroom(t, db)
	svc := NewCallService(db)

	first, err := svc.StartOrJoin(classroomID, users[0])
	require.NoError(t, err)
	assert.True(t, first.CreatedSession)
	assert.Equal(t, users[0], first.Session.InitiatorID)

	second, err := svc.StartOrJoin(classroomID, users[1])
	require.NoError(t, err)
	assert.False(t, second.CreatedSession, "second joiner must reuse the active session")
	assert.Equal(t, first.Session.ID, second.Session.ID)

	participants, err := svc.ActiveParticipants(first.Session.ID)
	require.NoError(t, err)
	assert.Len(t, participants, 2)
}

func TestStartOrJoinIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	classroomID, users := seedClassroom(t, db)
	svc := NewCallService(db)

	first, err := svc.StartOrJoin(classroomID, users[0])
	require.NoError(t, err)
	again, err := svc.StartOrJoin(classroomID, users[0])
	require.NoError(t, err)

	assert.Equal(t, first.Session.ID, again.Session.ID)
	assert.Equal(t, first.Participant.ID, again.Participant.ID, "rejoin must not duplicate the participant row")

	participants, err := svc.ActiveParticipants(first.Session.ID)
	require.NoError(t, err)
	assert.Len(t, participants, 1)
}

func TestLeaveIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	classroomID, users := seedClassroom(t, db)
	svc := NewCallService(db)

	joined, err := svc.StartOrJoin(classroomID, users[0])
	require.NoError(t, err)
	_, err = svc.StartOrJoin(classroomID, users[1])
	require.NoError(t, err)

	res, err := svc.Leave(joined.Session.ID, users[0])
	require.NoError(t, err)
	assert.False(t, res.SessionEnded, "session stays open while a peer remains")

	// 중복 퇴장은 상태를 바꾸지 않는다
	res, err = svc.Leave(joined.Session.ID, users[0])
	require.NoError(t, err)
	assert.False(t, res.SessionEnded)

	participants, err := svc.ActiveParticipants(joined.Session.ID)
	require.NoError(t, err)
	assert.Len(t, participants, 1)
}

func TestLastLeaveEndsSession(t *testing.T) {
	db := newTestDB(t)
	classroomID, users := seedClassroom(t, db)
	svc := NewCallService(db)

	joined, err := svc.StartOrJoin(classroomID, users[0])
	require.NoError(t, err)
	_, err = svc.StartOrJoin(classroomID, users[1])
	require.NoError(t, err)

	_, err = svc.Leave(joined.Session.ID, users[0])
	require.NoError(t, err)
	res, err := svc.Leave(joined.Session.ID, users[1])
	require.NoError(t, err)
	assert.True(t, res.SessionEnded, "last active participant ends the session")

	active, err := svc.GetActiveSession(classroomID)
	require.NoError(t, err)
	assert.Nil(t, active)

	var ended model.CallSession
	require.NoError(t, db.First(&ended, joined.Session.ID).Error)
	assert.False(t, ended.Active)
	assert.NotNil(t, ended.EndedAt)
}

func TestRejoinAfterLeaveReactivates(t *testing.T) {
	db := newTestDB(t)
	classroomID, users := seedClassroom(t, db)
	svc := NewCallService(db)

	joined, err := svc.StartOrJoin(classroomID, users[0])
	require.NoError(t, err)
	_, err = svc.StartOrJoin(classroomID, users[1])
	require.NoError(t, err)

	_, err = svc.Leave(joined.Session.ID, users[0])
	require.NoError(t, err)

	back, err := svc.StartOrJoin(classroomID, users[0])
	require.NoError(t, err)
	assert.Equal(t, joined.Session.ID, back.Session.ID)
	assert.Equal(t, joined.Participant.ID, back.Participant.ID)
	assert.True(t, back.Participant.Active)
	assert.Nil(t, back.Participant.LeftAt)
}

func TestLeaveWithoutJoining(t *testing.T) {
	db := newTestDB(t)
	classroomID, users := seedClassroom(t, db)
	svc := NewCallService(db)

	joined, err := svc.StartOrJoin(classroomID, users[0])
	require.NoError(t, err)

	_, err = svc.Leave(joined.Session.ID, users[2])
	assert.ErrorIs(t, err, ErrNotInSession)
}

func TestNewSessionAfterPreviousEnded(t *testing.T) {
	db := newTestDB(t)
	classroomID, users := seedClassroom(t, db)
	svc := NewCallService(db)

	first, err := svc.StartOrJoin(classroomID, users[0])
	require.NoError(t, err)
	_, err = svc.Leave(first.Session.ID, users[0])
	require.NoError(t, err)

	second, err := svc.StartOrJoin(classroomID, users[1])
	require.NoError(t, err)
	assert.True(t, second.CreatedSession)
	assert.NotEqual(t, first.Session.ID, second.Session.ID)
}
