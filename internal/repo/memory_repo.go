package repo

import (
	"context"
	"sync"
	"time"

	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/idgen"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/models"
)

// MemoryRoomRepo はプロセス内のマップによるStore実装です
// 開発用およびテスト用で、再起動すると内容は消えます
type MemoryRoomRepo struct {
	mu       sync.RWMutex
	rooms    map[string]models.Room              // roomId -> room（Membersは空）
	members  map[string]map[string]models.Member // roomId -> userId -> member
	byUser   map[string]string                   // userId -> roomId
	messages map[string][]models.Message         // roomId -> messages
	users    map[string]models.User              // userId -> user
}

var _ Store = (*MemoryRoomRepo)(nil)

func NewMemoryRoomRepo() *MemoryRoomRepo {
	return &MemoryRoomRepo{
		rooms:    make(map[string]models.Room),
		members:  make(map[string]map[string]models.Member),
		byUser:   make(map[string]string),
		messages: make(map[string][]models.Message),
		users:    make(map[string]models.User),
	}
}

func (r *MemoryRoomRepo) existsRoom(_ context.Context, roomId string) (bool, error) {
	_, ok := r.rooms[roomId]
	return ok, nil
}

func (r *MemoryRoomRepo) CreateRoom(ctx context.Context, name, adminUserId string) (models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byUser[adminUserId]; ok {
		return models.Room{}, ErrAlreadyMember
	}
	roomId, err := newUniqueRoomID(ctx, r.existsRoom)
	if err != nil {
		return models.Room{}, err
	}
	room := models.Room{RoomId: roomId, Name: name, CreatedAt: time.Now().UTC()}
	r.rooms[roomId] = room
	r.members[roomId] = make(map[string]models.Member)

	admin := r.addMemberLocked(roomId, adminUserId, models.RoleAdmin)
	room.Members = []models.Member{admin}
	return room, nil
}

func (r *MemoryRoomRepo) GetRoomById(_ context.Context, roomId string) (models.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomId]
	if !ok {
		return models.Room{}, ErrNotFound
	}
	room.Members = r.membersLocked(roomId)
	return room, nil
}

func (r *MemoryRoomRepo) GetMembersByRoom(_ context.Context, roomId string) ([]models.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.membersLocked(roomId), nil
}

func (r *MemoryRoomRepo) membersLocked(roomId string) []models.Member {
	res := make([]models.Member, 0, len(r.members[roomId]))
	for _, m := range r.members[roomId] {
		res = append(res, m)
	}
	sortMembers(res)
	return res
}

func (r *MemoryRoomRepo) GetMemberByUser(_ context.Context, userId string) (models.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	roomId, ok := r.byUser[userId]
	if !ok {
		return models.Member{}, ErrNotFound
	}
	m, ok := r.members[roomId][userId]
	if !ok {
		return models.Member{}, ErrNotFound
	}
	return m, nil
}

func (r *MemoryRoomRepo) AddMember(_ context.Context, roomId, userId string, role models.Role) (models.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[roomId]; !ok {
		return models.Member{}, ErrNotFound
	}
	if _, ok := r.byUser[userId]; ok {
		return models.Member{}, ErrAlreadyMember
	}
	return r.addMemberLocked(roomId, userId, role), nil
}

func (r *MemoryRoomRepo) addMemberLocked(roomId, userId string, role models.Role) models.Member {
	m := models.Member{MemberId: idgen.NewULID(), RoomId: roomId, UserId: userId, Role: role}
	r.members[roomId][userId] = m
	r.byUser[userId] = roomId
	return m
}

func (r *MemoryRoomRepo) RemoveMember(_ context.Context, roomId, userId string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[roomId][userId]; !ok {
		return false, nil
	}
	delete(r.members[roomId], userId)
	if r.byUser[userId] == roomId {
		delete(r.byUser, userId)
	}
	return true, nil
}

func (r *MemoryRoomRepo) DeleteRoom(_ context.Context, roomId string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[roomId]; !ok {
		return false, nil
	}
	for userId := range r.members[roomId] {
		if r.byUser[userId] == roomId {
			delete(r.byUser, userId)
		}
	}
	delete(r.rooms, roomId)
	delete(r.members, roomId)
	delete(r.messages, roomId)
	return true, nil
}

func (r *MemoryRoomRepo) AddMessage(_ context.Context, roomId, memberId, content string, sentAt time.Time) (models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[roomId]; !ok {
		return models.Message{}, ErrNotFound
	}
	msg := models.Message{
		MessageId: idgen.NewULID(),
		RoomId:    roomId,
		MemberId:  memberId,
		Content:   content,
		SentAt:    sentAt.UTC(),
	}
	r.messages[roomId] = append(r.messages[roomId], msg)
	return msg, nil
}

func (r *MemoryRoomRepo) GetMessagesByRoom(_ context.Context, roomId string) ([]models.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]models.Message, len(r.messages[roomId]))
	copy(res, r.messages[roomId])
	sortMessages(res)
	return res, nil
}

func (r *MemoryRoomRepo) SaveUser(_ context.Context, user models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.UserId] = user
	return nil
}

func (r *MemoryRoomRepo) GetUser(_ context.Context, userId string) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[userId]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}
