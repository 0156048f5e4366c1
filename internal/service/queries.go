package service

import (
	"context"
	"errors"

	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/models"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/repo"
)

// RoomInfo はピアアドレス付きのルーム情報を返します（REST用）
func (c *Coordinator) RoomInfo(ctx context.Context, roomId string) (models.RoomSnapshotPayload, error) {
	room, err := c.getRoom(ctx, roomId)
	if err != nil {
		return models.RoomSnapshotPayload{}, err
	}
	return c.snapshot(room, room.Members), nil
}

// RoomMessages はルームのメッセージ履歴を返します
// 履歴を読めるのはそのルームのメンバーだけです
func (c *Coordinator) RoomMessages(ctx context.Context, userId, roomId string) ([]models.Message, error) {
	if _, err := c.getRoom(ctx, roomId); err != nil {
		return nil, err
	}
	m, err := c.dir.GetMemberByUser(ctx, userId)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, precondition(ErrNotRoomMember)
		}
		return nil, directory("get member", err)
	}
	if m.RoomId != roomId {
		return nil, precondition(ErrNotRoomMember)
	}
	msgs, err := c.dir.GetMessagesByRoom(ctx, roomId)
	if err != nil {
		return nil, directory("get messages", err)
	}
	return msgs, nil
}
