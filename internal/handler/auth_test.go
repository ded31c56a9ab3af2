package handler

import (
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classhub-backend/internal/auth"
)

func newAuthApp(t *testing.T) (*fiber.App, *AuthHandler, *auth.JWTManager) {
	t.Helper()
	db := newTestDB(t)
	jwtManager := newTestJWT()
	h := NewAuthHandler(db, jwtManager, false)

	app := fiber.New()
	app.Post("/auth/register", h.Register)
	app.Post("/auth/login", h.Login)
	app.Post("/auth/refresh", h.RefreshToken)
	app.Post("/auth/logout", auth.AuthMiddleware(jwtManager), h.Logout)
	app.Get("/auth/me", auth.AuthMiddleware(jwtManager), h.GetMe)
	return app, h, jwtManager
}

func refreshCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == "refresh_token" {
			return c
		}
	}
	return nil
}

func TestRegisterAndLogin(t *testing.T) {
	app, _, _ := newAuthApp(t)

	resp, err := app.Test(jsonRequest("POST", "/auth/register", map[string]string{
		"email":    "Alice@Test.IO",
		"password": "password123",
		"nickname": "alice",
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var reg AuthResponse
	decodeBody(t, resp, &reg)
	assert.NotEmpty(t, reg.AccessToken)
	// 이메일은 소문자로 정규화된다
	assert.Equal(t, "alice@test.io", reg.User.Email)

	cookie := refreshCookie(resp)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	// 같은 이메일 중복 가입은 409
	resp, err = app.Test(jsonRequest("POST", "/auth/register", map[string]string{
		"email":    "alice@test.io",
		"password": "password123",
		"nickname": "alice2",
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)

	// 로그인 성공
	resp, err = app.Test(jsonRequest("POST", "/auth/login", map[string]string{
		"email":    "alice@test.io",
		"password": "password123",
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var login AuthResponse
	decodeBody(t, resp, &login)
	assert.NotEmpty(t, login.AccessToken)
	assert.Equal(t, reg.User.ID, login.User.ID)

	// 잘못된 비밀번호는 401 (존재 여부를 노출하지 않음)
	resp, err = app.Test(jsonRequest("POST", "/auth/login", map[string]string{
		"email":    "alice@test.io",
		"password": "wrong-password",
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp, err = app.Test(jsonRequest("POST", "/auth/login", map[string]string{
		"email":    "nobody@test.io",
		"password": "password123",
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterValidation(t *testing.T) {
	app, _, _ := newAuthApp(t)

	// 짧은 비밀번호
	resp, err := app.Test(jsonRequest("POST", "/auth/register", map[string]string{
		"email":    "bob@test.io",
		"password": "short",
		"nickname": "bob",
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// 필수 필드 누락
	resp, err = app.Test(jsonRequest("POST", "/auth/register", map[string]string{
		"email": "bob@test.io",
	}))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestRefreshToken(t *testing.T) {
	app, _, _ := newAuthApp(t)

	resp, err := app.Test(jsonRequest("POST", "/auth/register", map[string]string{
		"email":    "carol@test.io",
		"password": "password123",
		"nickname": "carol",
	}))
	require.NoError(t, err)
	cookie := refreshCookie(resp)
	require.NotNil(t, cookie)

	req := jsonRequest("POST", "/auth/refresh", nil)
	req.AddCookie(cookie)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decodeBody(t, resp, &body)
	assert.NotEmpty(t, body["access_token"])

	// 쿠키 없이 갱신 요청은 401
	resp, err = app.Test(jsonRequest("POST", "/auth/refresh", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	// 위조된 토큰은 401
	req = jsonRequest("POST", "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: "refresh_token", Value: "garbage"})
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestGetMe(t *testing.T) {
	app, _, _ := newAuthApp(t)

	resp, err := app.Test(jsonRequest("POST", "/auth/register", map[string]string{
		"email":    "dave@test.io",
		"password": "password123",
		"nickname": "dave",
	}))
	require.NoError(t, err)
	var reg AuthResponse
	decodeBody(t, resp, &reg)

	req := jsonRequest("GET", "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+reg.AccessToken)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var me UserResponse
	decodeBody(t, resp, &me)
	assert.Equal(t, "dave", me.Nickname)

	// 토큰 없이 접근은 401
	resp, err = app.Test(jsonRequest("GET", "/auth/me", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
