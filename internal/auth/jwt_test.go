package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() *JWTManager {
	return NewJWTManager("test-secret", time.Hour, 24*time.Hour)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	m := newTestManager()

	token, err := m.GenerateAccessToken(42, "kim@classhub.local", "김선생")
	require.NoError(t, err)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "kim@classhub.local", claims.Email)
	assert.Equal(t, "김선생", claims.Nickname)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	m := newTestManager()

	token, err := m.GenerateRefreshToken(7)
	require.NoError(t, err)

	userID, err := m.ValidateRefreshToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), userID)
}

func TestTokenTypeConfusionRejected(t *testing.T) {
	m := newTestManager()

	refresh, err := m.GenerateRefreshToken(1)
	require.NoError(t, err)
	access, err := m.GenerateAccessToken(1, "a@b.c", "a")
	require.NoError(t, err)

	// 리프레시 토큰으로 API 인증 불가
	_, err = m.ValidateAccessToken(refresh)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// 액세스 토큰으로 재발급 불가
	_, err = m.ValidateRefreshToken(access)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredTokenRejected(t *testing.T) {
	m := NewJWTManager("test-secret", -time.Minute, -time.Minute)

	token, err := m.GenerateAccessToken(1, "a@b.c", "a")
	require.NoError(t, err)

	_, err = m.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestWrongSecretRejected(t *testing.T) {
	token, err := newTestManager().GenerateAccessToken(1, "a@b.c", "a")
	require.NoError(t, err)

	other := NewJWTManager("different-secret", time.Hour, 24*time.Hour)
	_, err = other.ValidateAccessToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
