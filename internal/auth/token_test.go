package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/models"
)

func TestTokenManager_IssueAndVerify(t *testing.T) {
	m := NewTokenManager("secret", "test", time.Hour)

	token, err := m.Issue(models.User{UserId: "alice", DisplayName: "Alice"})
	require.NoError(t, err)

	user, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", user.UserId)
	assert.Equal(t, "Alice", user.DisplayName)
}

func TestTokenManager_NameFallsBackToSubject(t *testing.T) {
	m := NewTokenManager("secret", "test", time.Hour)
	token, err := m.Issue(models.User{UserId: "bob"})
	require.NoError(t, err)

	user, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "bob", user.DisplayName)
}

func TestTokenManager_Rejects(t *testing.T) {
	m := NewTokenManager("secret", "test", time.Hour)

	other, err := NewTokenManager("other", "test", time.Hour).Issue(models.User{UserId: "alice"})
	require.NoError(t, err)
	wrongIssuer, err := NewTokenManager("secret", "elsewhere", time.Hour).Issue(models.User{UserId: "alice"})
	require.NoError(t, err)
	expired, err := NewTokenManager("secret", "test", -time.Minute).Issue(models.User{UserId: "alice"})
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice", Issuer: "test"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrMissingToken},
		{"garbage", "not-a-token", ErrInvalidToken},
		{"wrong secret", other, ErrInvalidToken},
		{"wrong issuer", wrongIssuer, ErrInvalidToken},
		{"expired", expired, ErrExpiredToken},
		{"alg none", none, ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Verify(tt.token)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken("Bearer "))
}
