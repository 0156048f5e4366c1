package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/idgen"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/models"
)

const defaultTTLSec = 60 * 60

type RedisRoomRepo struct {
	rdb    *redis.Client
	ttlSec int
}

var _ Store = (*RedisRoomRepo)(nil)

func NewRedisRoomRepo(rdb *redis.Client, ttlSec int) *RedisRoomRepo {
	if ttlSec <= 0 {
		ttlSec = defaultTTLSec
	}
	return &RedisRoomRepo{rdb: rdb, ttlSec: ttlSec}
}

func roomKey(id string) string {
	return fmt.Sprintf("rooms:%s", id)
}
func membersKey(id string) string {
	return fmt.Sprintf("rooms:%s:members", id)
}
func messagesKey(id string) string {
	return fmt.Sprintf("rooms:%s:messages", id)
}
func memberIndexKey(uid string) string {
	return fmt.Sprintf("members:%s", uid)
}
func userKey(uid string) string {
	return fmt.Sprintf("users:%s", uid)
}

func (rr *RedisRoomRepo) ttl() time.Duration {
	return time.Duration(rr.ttlSec) * time.Second
}

// touchIndexesLua はルームに所属する全員の members:<uid> のTTLを延長します
// メンバー追加とメッセージ送信のたびに呼び、ルームのキーと同じTTLにそろえる
const touchIndexesLua = `
local function touch_indexes(members_key, room_id, ttl)
	for _, uid in ipairs(redis.call('HKEYS', members_key)) do
		local index_key = 'members:' .. uid
		if redis.call('GET', index_key) == room_id then
			redis.call('EXPIRE', index_key, ttl)
		end
	end
end
`

// KEYS: members / ARGV: roomId, ttl
var touchIndexesScript = redis.NewScript(touchIndexesLua + `
	touch_indexes(KEYS[1], ARGV[1], tonumber(ARGV[2]))
	return 1
`)

// KEYS: room, members, index / ARGV: userId, memberJSON, roomId, ttl
// 戻り値: 1=追加, 0=既に所属あり, -1=ルームなし
var addMemberScript = redis.NewScript(touchIndexesLua + `
	local room_key = KEYS[1]
	local members_key = KEYS[2]
	local index_key = KEYS[3]
	local ttl = tonumber(ARGV[4])

	if redis.call('EXISTS', room_key) == 0 then
		return -1
	end
	if redis.call('EXISTS', index_key) == 1 then
		return 0
	end

	redis.call('HSET', members_key, ARGV[1], ARGV[2])
	redis.call('SET', index_key, ARGV[3], 'EX', ttl)
	redis.call('EXPIRE', members_key, ttl)
	redis.call('EXPIRE', room_key, ttl)
	touch_indexes(members_key, ARGV[3], ttl)
	return 1
`)

// KEYS: members, index / ARGV: userId, roomId
var removeMemberScript = redis.NewScript(`
	local removed = redis.call('HDEL', KEYS[1], ARGV[1])
	if redis.call('GET', KEYS[2]) == ARGV[2] then
		redis.call('DEL', KEYS[2])
	end
	return removed
`)

// KEYS: room, members, messages / ARGV: roomId
var deleteRoomScript = redis.NewScript(`
	local room_key = KEYS[1]
	local members_key = KEYS[2]
	local messages_key = KEYS[3]
	local room_id = ARGV[1]

	local existed = redis.call('EXISTS', room_key)

	-- 参加者のインデックスを削除
	local user_ids = redis.call('HKEYS', members_key)
	for _, uid in ipairs(user_ids) do
		local index_key = 'members:' .. uid
		if redis.call('GET', index_key) == room_id then
			redis.call('DEL', index_key)
		end
	end

	redis.call('DEL', room_key, members_key, messages_key)
	return existed
`)

func (rr *RedisRoomRepo) existsRoom(ctx context.Context, roomId string) (bool, error) {
	n, err := rr.rdb.Exists(ctx, roomKey(roomId)).Result()
	return n == 1, err
}

func (rr *RedisRoomRepo) CreateRoom(ctx context.Context, name, adminUserId string) (models.Room, error) {
	n, err := rr.rdb.Exists(ctx, memberIndexKey(adminUserId)).Result()
	if err != nil {
		return models.Room{}, err
	}
	if n == 1 {
		return models.Room{}, ErrAlreadyMember
	}

	roomId, err := newUniqueRoomID(ctx, rr.existsRoom)
	if err != nil {
		return models.Room{}, err
	}
	room := models.Room{RoomId: roomId, Name: name, CreatedAt: time.Now().UTC()}
	b, err := json.Marshal(room)
	if err != nil {
		return models.Room{}, err
	}
	ok, err := rr.rdb.SetNX(ctx, roomKey(roomId), b, rr.ttl()).Result()
	if err != nil {
		return models.Room{}, err
	}
	if !ok {
		return models.Room{}, errors.New("room already exists")
	}

	admin, err := rr.AddMember(ctx, roomId, adminUserId, models.RoleAdmin)
	if err != nil {
		// 管理者の追加に失敗した場合は部屋を削除してロールバック
		_, _ = rr.DeleteRoom(ctx, roomId)
		return models.Room{}, err
	}
	room.Members = []models.Member{admin}
	return room, nil
}

func (rr *RedisRoomRepo) GetRoomById(ctx context.Context, roomId string) (models.Room, error) {
	val, err := rr.rdb.Get(ctx, roomKey(roomId)).Bytes()
	if err == redis.Nil {
		return models.Room{}, ErrNotFound
	}
	if err != nil {
		return models.Room{}, err
	}
	var r models.Room
	if err := json.Unmarshal(val, &r); err != nil {
		return models.Room{}, err
	}
	members, err := rr.GetMembersByRoom(ctx, roomId)
	if err != nil {
		return models.Room{}, err
	}
	r.Members = members
	return r, nil
}

func (rr *RedisRoomRepo) GetMembersByRoom(ctx context.Context, roomId string) ([]models.Member, error) {
	vals, err := rr.rdb.HGetAll(ctx, membersKey(roomId)).Result()
	if err != nil {
		return nil, err
	}
	res := make([]models.Member, 0, len(vals))
	for uid, v := range vals {
		var m models.Member
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("corrupt member %s in room %s: %w", uid, roomId, err)
		}
		res = append(res, m)
	}
	sortMembers(res)
	return res, nil
}

func (rr *RedisRoomRepo) GetMemberByUser(ctx context.Context, userId string) (models.Member, error) {
	roomId, err := rr.rdb.Get(ctx, memberIndexKey(userId)).Result()
	if err == redis.Nil {
		return models.Member{}, ErrNotFound
	}
	if err != nil {
		return models.Member{}, err
	}
	val, err := rr.rdb.HGet(ctx, membersKey(roomId), userId).Bytes()
	if err == redis.Nil { // インデックスだけが残っている
		return models.Member{}, ErrNotFound
	}
	if err != nil {
		return models.Member{}, err
	}
	var m models.Member
	if err := json.Unmarshal(val, &m); err != nil {
		return models.Member{}, err
	}
	return m, nil
}

func (rr *RedisRoomRepo) AddMember(ctx context.Context, roomId, userId string, role models.Role) (models.Member, error) {
	m := models.Member{MemberId: idgen.NewULID(), RoomId: roomId, UserId: userId, Role: role}
	b, err := json.Marshal(m)
	if err != nil {
		return models.Member{}, err
	}
	keys := []string{roomKey(roomId), membersKey(roomId), memberIndexKey(userId)}
	res, err := addMemberScript.Run(ctx, rr.rdb, keys, userId, b, roomId, rr.ttlSec).Int()
	if err != nil {
		return models.Member{}, err
	}
	switch res {
	case -1:
		return models.Member{}, ErrNotFound
	case 0:
		return models.Member{}, ErrAlreadyMember
	}
	return m, nil
}

func (rr *RedisRoomRepo) RemoveMember(ctx context.Context, roomId, userId string) (bool, error) {
	n, err := removeMemberScript.Run(ctx, rr.rdb, []string{membersKey(roomId), memberIndexKey(userId)}, userId, roomId).Int()
	return n == 1, err
}

func (rr *RedisRoomRepo) DeleteRoom(ctx context.Context, roomId string) (bool, error) {
	keys := []string{roomKey(roomId), membersKey(roomId), messagesKey(roomId)}
	n, err := deleteRoomScript.Run(ctx, rr.rdb, keys, roomId).Int()
	return n == 1, err
}

func (rr *RedisRoomRepo) AddMessage(ctx context.Context, roomId, memberId, content string, sentAt time.Time) (models.Message, error) {
	exists, err := rr.existsRoom(ctx, roomId)
	if err != nil {
		return models.Message{}, err
	}
	if !exists {
		return models.Message{}, ErrNotFound
	}
	msg := models.Message{
		MessageId: idgen.NewULID(),
		RoomId:    roomId,
		MemberId:  memberId,
		Content:   content,
		SentAt:    sentAt.UTC(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return models.Message{}, err
	}
	d := rr.ttl()
	pipe := rr.rdb.TxPipeline()
	pipe.RPush(ctx, messagesKey(roomId), b)
	pipe.Expire(ctx, messagesKey(roomId), d)
	pipe.Expire(ctx, roomKey(roomId), d)
	pipe.Expire(ctx, membersKey(roomId), d)
	// パイプライン内ではEVALSHAのフォールバックが効かないのでEvalで送る
	touchIndexesScript.Eval(ctx, pipe, []string{membersKey(roomId)}, roomId, rr.ttlSec)
	if _, err := pipe.Exec(ctx); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

func (rr *RedisRoomRepo) GetMessagesByRoom(ctx context.Context, roomId string) ([]models.Message, error) {
	vals, err := rr.rdb.LRange(ctx, messagesKey(roomId), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	res := make([]models.Message, 0, len(vals))
	for i, v := range vals {
		var m models.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("corrupt message #%d in room %s: %w", i, roomId, err)
		}
		res = append(res, m)
	}
	sortMessages(res)
	return res, nil
}

func (rr *RedisRoomRepo) SaveUser(ctx context.Context, user models.User) error {
	b, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return rr.rdb.Set(ctx, userKey(user.UserId), b, rr.ttl()).Err()
}

func (rr *RedisRoomRepo) GetUser(ctx context.Context, userId string) (models.User, error) {
	val, err := rr.rdb.Get(ctx, userKey(userId)).Bytes()
	if err == redis.Nil {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	var u models.User
	if err := json.Unmarshal(val, &u); err != nil {
		return models.User{}, err
	}
	return u, nil
}
