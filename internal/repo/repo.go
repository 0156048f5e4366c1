package repo

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/idgen"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/models"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrAlreadyMember          = errors.New("user already has a membership")
	ErrRoomIDGenerationFailed = errors.New("failed to generate unique room ID after multiple attempts")
)

// RoomDirectory はルーム・メンバー・メッセージの永続ストアです
// トランザクションの扱いは実装側の責務です
type RoomDirectory interface {
	GetRoomById(ctx context.Context, roomId string) (models.Room, error)
	GetMembersByRoom(ctx context.Context, roomId string) ([]models.Member, error)
	GetMemberByUser(ctx context.Context, userId string) (models.Member, error)
	GetMessagesByRoom(ctx context.Context, roomId string) ([]models.Message, error)

	// CreateRoom はルームと管理者メンバーを作成します
	CreateRoom(ctx context.Context, name, adminUserId string) (models.Room, error)
	AddMember(ctx context.Context, roomId, userId string, role models.Role) (models.Member, error)
	AddMessage(ctx context.Context, roomId, memberId, content string, sentAt time.Time) (models.Message, error)

	RemoveMember(ctx context.Context, roomId, userId string) (bool, error)
	DeleteRoom(ctx context.Context, roomId string) (bool, error)
}

// UserRepo はユーザーの表示名を解決するためのストアです
type UserRepo interface {
	GetUser(ctx context.Context, userId string) (models.User, error)
	SaveUser(ctx context.Context, user models.User) error
}

// Store はRoomDirectoryとUserRepoの両方を提供する実装です
type Store interface {
	RoomDirectory
	UserRepo
}

const maxRoomIDRetries = 10

// newUniqueRoomID は重複しないルームIDを生成します（最大10回リトライ）
func newUniqueRoomID(ctx context.Context, exists func(ctx context.Context, id string) (bool, error)) (string, error) {
	for i := 0; i < maxRoomIDRetries; i++ {
		id, err := idgen.NewRoomID()
		if err != nil {
			return "", err
		}
		taken, err := exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", ErrRoomIDGenerationFailed
}

// sortMembers は管理者を先頭に、以降は作成順（ULID順）に並べます
func sortMembers(ms []models.Member) {
	sort.SliceStable(ms, func(i, j int) bool {
		ai, aj := ms[i].Role == models.RoleAdmin, ms[j].Role == models.RoleAdmin
		if ai != aj {
			return ai
		}
		return ms[i].MemberId < ms[j].MemberId
	})
}

func sortMessages(ms []models.Message) {
	sort.SliceStable(ms, func(i, j int) bool {
		if !ms[i].SentAt.Equal(ms[j].SentAt) {
			return ms[i].SentAt.Before(ms[j].SentAt)
		}
		return ms[i].MessageId < ms[j].MessageId
	})
}
