// Package auth は接続時の本人確認を行います
// クライアントはJWTを提示し、サーバーは署名と有効期限を検証してユーザーを特定します
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrMissingToken = errors.New("token required")
)

// Claims はトークンに含めるクレームです
// Subject にユーザーID、Name に表示名を入れます
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// TokenManager はトークンの発行と検証を行います
type TokenManager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenManager は新しいTokenManagerを作成します
func NewTokenManager(secret, issuer string, ttl time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// Issue はユーザーのトークンを発行します
func (m *TokenManager) Issue(user models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: user.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   user.UserId,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify はトークンを検証し、ユーザーを返します
func (m *TokenManager) Verify(token string) (models.User, error) {
	if strings.TrimSpace(token) == "" {
		return models.User{}, ErrMissingToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.User{}, ErrExpiredToken
		}
		return models.User{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return models.User{}, ErrInvalidToken
	}
	name := claims.Name
	if name == "" {
		name = claims.Subject
	}
	return models.User{UserId: claims.Subject, DisplayName: name}, nil
}

// BearerToken は "Authorization: Bearer xxx" からトークンを取り出します
func BearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
