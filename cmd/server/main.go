package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/auth"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/config"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/handlers"
	httpx "github.com/SteamVC/SteamVC_Room/backend/call-server/internal/http"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/logging"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/presence"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/repo"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/service"
)

// openStore は設定に応じてルームディレクトリを開きます
// 戻り値のcloseは終了時に呼びます
func openStore(cfg config.Config) (repo.Store, func(), error) {
	switch cfg.DirectoryDriver {
	case config.DriverMemory:
		log.Warn().Msg("using in-memory room directory; state is lost on restart")
		return repo.NewMemoryRoomRepo(), func() {}, nil

	case config.DriverSQLite:
		db, err := repo.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("opened sqlite room directory")
		return repo.NewGormRoomRepo(db), func() {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}, nil

	default:
		rdb := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			PoolSize:     10,              // 接続プールサイズ
			MinIdleConns: 5,               // 最小アイドル接続数
			MaxRetries:   3,               // リトライ回数
			DialTimeout:  5 * time.Second, // 接続タイムアウト
			ReadTimeout:  3 * time.Second, // 読み込みタイムアウト
			WriteTimeout: 3 * time.Second, // 書き込みタイムアウト
			PoolTimeout:  4 * time.Second, // プールからの取得タイムアウト
		})

		// Redis接続確認
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			rdb.Close()
			return nil, nil, err
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
		return repo.NewRedisRoomRepo(rdb, cfg.RoomTTL), func() { rdb.Close() }, nil
	}
}

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	secret := cfg.JWTSecret
	if secret == "" {
		if !cfg.AllowDevTokens {
			log.Fatal().Msg("JWT_SECRET is required")
		}
		// 開発用: 起動ごとに使い捨ての鍵を作る
		secret = uuid.NewString()
		log.Warn().Msg("JWT_SECRET not set; using an ephemeral secret for dev tokens")
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DirectoryDriver).Msg("failed to open room directory")
	}
	defer closeStore()

	reg := presence.NewMemoryRegistry()
	groups := presence.NewGroups()
	coord := service.NewCoordinator(store, store, reg, groups, cfg.JoinTimeout)
	defer coord.Close()
	life := service.NewLifecycle(coord)
	tokens := auth.NewTokenManager(secret, cfg.JWTIssuer, cfg.JWTTTL)

	h := handlers.NewRoomHandler(coord, tokens)
	wsHandler := handlers.NewWebSocketHandler(coord, life, tokens, cfg.AllowedOrigin)
	router := httpx.NewRouter(h, wsHandler, httpx.Options{
		AllowedOrigins: cfg.AllowedOrigin,
		AllowDevTokens: cfg.AllowDevTokens,
	})

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown用のシグナルチャネル
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// サーバーを別goroutineで起動
	go func() {
		log.Info().Str("addr", cfg.APIAddr).Str("driver", cfg.DirectoryDriver).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// シャットダウンシグナルを待つ
	<-sigChan
	log.Info().Msg("shutdown signal received, shutting down gracefully...")

	// 30秒のタイムアウトでGraceful Shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Int("connections", reg.ConnectionCount()).Msg("server stopped")
}
