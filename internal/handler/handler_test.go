package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"classhub-backend/internal/auth"
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

func newTestJWT() *auth.JWTManager {
	return auth.NewJWTManager("test-secret", time.Hour, 24*time.Hour)
}

func createTestUser(t *testing.T, db *gorm.DB, email, nickname string) *model.User {
	t.Helper()
	user := model.User{Email: email, PasswordHash: "x", Nickname: nickname}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func accessTokenFor(t *testing.T, jwt *auth.JWTManager, user *model.User) string {
	t.Helper()
	token, err := jwt.GenerateAccessToken(user.ID, user.Email, user.Nickname)
	require.NoError(t, err)
	return token
}

func jsonRequest(method, target string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}
