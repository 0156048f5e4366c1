// Package config はアプリケーションの設定を管理します
// 環境変数から設定を読み込み、デフォルト値を提供します
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultAPIAddr         = ":8080"          // APIサーバーのデフォルトリッスンアドレス
	defaultRedisAddr       = "localhost:6379" // Redisのデフォルト接続先
	defaultRoomTTLSec      = 60 * 60          // ルームのデフォルトTTL（1時間）
	defaultDirectoryDriver = "redis"          // ルームディレクトリの保存先
	defaultSQLitePath      = "rooms.db"       // SQLiteファイルのパス
	defaultJWTIssuer       = "call-server"    // トークン発行者
	defaultJWTTTLSec       = 60 * 60 * 12     // トークンの有効期限（12時間）
	defaultLogLevel        = "info"
	defaultLogFormat       = "json"
)

// DirectoryDriver の取りうる値
const (
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// defaultAllowedOrigins はCORSで許可するデフォルトのオリジン一覧
var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:3001",
	"http://localhost:3002",
}

// Config はアプリケーションの設定を保持します
type Config struct {
	APIAddr         string        // APIサーバーのリッスンアドレス
	RedisAddr       string        // Redisの接続先
	RoomTTL         int           // ルームのTTL（秒）
	AllowedOrigin   []string      // CORSで許可するオリジン一覧
	DirectoryDriver string        // ルームディレクトリの実装 (redis / sqlite / memory)
	SQLitePath      string        // DirectoryDriver=sqlite のときのDBファイル
	JWTSecret       string        // トークン署名鍵
	JWTIssuer       string        // トークン発行者
	JWTTTL          time.Duration // 開発用トークンの有効期限
	JoinTimeout     time.Duration // 参加リクエストのタイムアウト（0で無効）
	AllowDevTokens  bool          // 開発用トークン発行エンドポイントを公開するか
	LogLevel        string        // ログレベル
	LogFormat       string        // ログ形式 (json / console)
}

// Load は環境変数から設定を読み込みます
// 環境変数が設定されていない場合はデフォルト値を使用します
func Load() Config {
	return Config{
		APIAddr:         envOr("API_ADDR", defaultAPIAddr),
		RedisAddr:       envOr("REDIS_ADDR", defaultRedisAddr),
		RoomTTL:         envInt("ROOM_TTL_SEC", defaultRoomTTLSec),
		AllowedOrigin:   envCSV("CORS_ALLOWED_ORIGINS", defaultAllowedOrigins),
		DirectoryDriver: strings.ToLower(envOr("DIRECTORY_DRIVER", defaultDirectoryDriver)),
		SQLitePath:      envOr("SQLITE_PATH", defaultSQLitePath),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		JWTIssuer:       envOr("JWT_ISSUER", defaultJWTIssuer),
		JWTTTL:          time.Duration(envInt("JWT_TTL_SEC", defaultJWTTTLSec)) * time.Second,
		JoinTimeout:     time.Duration(envInt("JOIN_REQUEST_TIMEOUT_SEC", 0)) * time.Second,
		AllowDevTokens:  envBool("ALLOW_DEV_TOKENS", false),
		LogLevel:        envOr("LOG_LEVEL", defaultLogLevel),
		LogFormat:       envOr("LOG_FORMAT", defaultLogFormat),
	}
}

// envOr は環境変数から文字列を取得します
// 環境変数が設定されていない場合はデフォルト値を返します
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt は環境変数から整数を取得します
// 環境変数が設定されていない、または無効な値の場合はデフォルト値を返します
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			log.Warn().Str("key", key).Str("value", v).Int("default", def).Msg("invalid integer, fallback to default")
			return def
		}
		return i
	}
	return def
}

// envBool は環境変数から真偽値を取得します
func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Warn().Str("key", key).Str("value", v).Bool("default", def).Msg("invalid bool, fallback to default")
			return def
		}
		return b
	}
	return def
}

// envCSV は環境変数からカンマ区切りの文字列リストを取得します
// 環境変数が設定されていない、または空の場合はデフォルト値を返します
func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
