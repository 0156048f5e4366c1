package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/models"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/presence"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/repo"
)

// Lifecycle は接続の開始と終了を扱います
type Lifecycle struct {
	coord *Coordinator
}

// NewLifecycle は新しいLifecycleを作成します
func NewLifecycle(coord *Coordinator) *Lifecycle {
	return &Lifecycle{coord: coord}
}

// Connect は認証済みの接続を登録します
// 同じユーザーの古い接続があれば置き換えます（後勝ち）
// 表示名の保存に失敗しても接続は受け付けます
func (l *Lifecycle) Connect(ctx context.Context, user models.User, conn presence.Conn) {
	if user.UserId == "" {
		log.Warn().Str("connId", conn.ID()).Msg("connect without identity ignored")
		return
	}
	l.coord.presence.RecordConnection(user.UserId, conn)
	if err := l.coord.users.SaveUser(ctx, user); err != nil {
		log.Warn().Err(err).Str("userId", user.UserId).Msg("failed to save user")
	}
	log.Info().Str("userId", user.UserId).Str("connId", conn.ID()).Msg("connected")
}

// Disconnect は切断された接続の後片付けをします
// 何度呼んでも安全です。失敗はログに残すだけで呼び出し元には返しません
// 処理の流れ:
// 1. 接続をすべてのグループから外す
// 2. その接続がユーザーの現在の接続でなければ終了（再接続済み）
// 3. 接続とピアアドレスの登録を削除
// 4. 所属があればメンバーを削除し、残りのメンバーにMemberLeftを送信
// 5. ルームが空になったら削除
func (l *Lifecycle) Disconnect(ctx context.Context, userId string, conn presence.Conn) {
	c := l.coord
	c.groups.RemoveConn(conn)

	if userId == "" {
		return
	}
	if !c.presence.RemoveConnection(userId, conn) {
		log.Debug().Str("userId", userId).Str("connId", conn.ID()).Msg("stale connection closed")
		return
	}
	c.presence.RemovePeerAddress(userId)
	c.joins.cancelRequester(userId)

	logger := log.With().Str("userId", userId).Str("connId", conn.ID()).Logger()

	m, err := c.dir.GetMemberByUser(ctx, userId)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			logger.Error().Err(err).Msg("disconnect: failed to look up membership")
		} else {
			logger.Info().Msg("disconnected")
		}
		return
	}

	if _, err := c.dir.RemoveMember(ctx, m.RoomId, userId); err != nil {
		logger.Error().Err(err).Str("roomId", m.RoomId).Msg("disconnect: failed to remove member")
		return
	}
	c.groups.Broadcast(m.RoomId, models.Event{
		Type:    models.EventMemberLeft,
		Payload: models.MemberLeftPayload{RoomId: m.RoomId, UserId: userId},
	})
	if _, err := c.deleteRoomIfEmpty(ctx, m.RoomId); err != nil {
		logger.Error().Err(err).Str("roomId", m.RoomId).Msg("disconnect: failed to delete empty room")
		return
	}
	logger.Info().Str("roomId", m.RoomId).Msg("disconnected and left room")
}
