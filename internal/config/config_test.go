package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"API_ADDR", "REDIS_ADDR", "ROOM_TTL_SEC", "CORS_ALLOWED_ORIGINS", "DIRECTORY_DRIVER", "JOIN_REQUEST_TIMEOUT_SEC", "ALLOW_DEV_TOKENS"} {
		t.Setenv(k, "")
	}

	cfg := Load()

	assert.Equal(t, defaultAPIAddr, cfg.APIAddr)
	assert.Equal(t, defaultRedisAddr, cfg.RedisAddr)
	assert.Equal(t, defaultRoomTTLSec, cfg.RoomTTL)
	assert.Equal(t, defaultAllowedOrigins, cfg.AllowedOrigin)
	assert.Equal(t, DriverRedis, cfg.DirectoryDriver)
	assert.Zero(t, cfg.JoinTimeout)
	assert.False(t, cfg.AllowDevTokens)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9090")
	t.Setenv("ROOM_TTL_SEC", "120")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("DIRECTORY_DRIVER", "SQLite")
	t.Setenv("JOIN_REQUEST_TIMEOUT_SEC", "30")
	t.Setenv("ALLOW_DEV_TOKENS", "true")

	cfg := Load()

	assert.Equal(t, ":9090", cfg.APIAddr)
	assert.Equal(t, 120, cfg.RoomTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigin)
	assert.Equal(t, DriverSQLite, cfg.DirectoryDriver)
	assert.Equal(t, 30*time.Second, cfg.JoinTimeout)
	assert.True(t, cfg.AllowDevTokens)
}

func TestEnvInt_InvalidFallsBack(t *testing.T) {
	t.Setenv("ROOM_TTL_SEC", "soon")
	assert.Equal(t, 42, envInt("ROOM_TTL_SEC", 42))
}

func TestEnvBool_InvalidFallsBack(t *testing.T) {
	t.Setenv("ALLOW_DEV_TOKENS", "maybe")
	assert.True(t, envBool("ALLOW_DEV_TOKENS", true))
}
