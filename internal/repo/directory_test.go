package repo

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/models"
)

// Redisのテストは localhost:6379 が必要です
const testRedisAddr = "localhost:6379"

func newMemoryStore(t *testing.T) Store {
	t.Helper()
	return NewMemoryRoomRepo()
}

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return NewGormRoomRepo(db)
}

func newRedisStore(t *testing.T) Store {
	t.Helper()
	return NewRedisRoomRepo(newRedisClient(t), 60)
}

func newRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: testRedisAddr, DB: 9})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available at %s: %v", testRedisAddr, err)
	}
	require.NoError(t, client.FlushDB(ctx).Err())
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestDirectory(t *testing.T) {
	impls := map[string]func(t *testing.T) Store{
		"memory": newMemoryStore,
		"sqlite": newSQLiteStore,
		"redis":  newRedisStore,
	}
	for name, newStore := range impls {
		t.Run(name, func(t *testing.T) {
			t.Run("CreateRoom", func(t *testing.T) { testCreateRoom(t, newStore(t)) })
			t.Run("Membership", func(t *testing.T) { testMembership(t, newStore(t)) })
			t.Run("Messages", func(t *testing.T) { testMessages(t, newStore(t)) })
			t.Run("DeleteRoom", func(t *testing.T) { testDeleteRoom(t, newStore(t)) })
			t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
		})
	}
}

func testCreateRoom(t *testing.T, s Store) {
	ctx := context.Background()

	room, err := s.CreateRoom(ctx, "Standup", "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, room.RoomId)
	assert.Equal(t, "Standup", room.Name)
	assert.False(t, room.CreatedAt.IsZero())
	require.Len(t, room.Members, 1)
	assert.Equal(t, models.RoleAdmin, room.Members[0].Role)
	assert.Equal(t, "alice", room.Members[0].UserId)

	got, err := s.GetRoomById(ctx, room.RoomId)
	require.NoError(t, err)
	assert.Equal(t, room.RoomId, got.RoomId)
	assert.Len(t, got.Members, 1)

	// 1ユーザー1メンバー
	_, err = s.CreateRoom(ctx, "Other", "alice")
	assert.ErrorIs(t, err, ErrAlreadyMember)

	_, err = s.GetRoomById(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func testMembership(t *testing.T, s Store) {
	ctx := context.Background()
	room, err := s.CreateRoom(ctx, "Standup", "alice")
	require.NoError(t, err)

	bob, err := s.AddMember(ctx, room.RoomId, "bob", models.RoleMember)
	require.NoError(t, err)
	assert.NotEmpty(t, bob.MemberId)
	assert.Equal(t, room.RoomId, bob.RoomId)

	_, err = s.AddMember(ctx, room.RoomId, "bob", models.RoleMember)
	assert.ErrorIs(t, err, ErrAlreadyMember)

	_, err = s.AddMember(ctx, "missing", "carol", models.RoleMember)
	assert.ErrorIs(t, err, ErrNotFound)

	members, err := s.GetMembersByRoom(ctx, room.RoomId)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, models.RoleAdmin, members[0].Role)
	assert.Equal(t, "bob", members[1].UserId)

	got, err := s.GetMemberByUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, bob.MemberId, got.MemberId)

	removed, err := s.RemoveMember(ctx, room.RoomId, "bob")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.RemoveMember(ctx, room.RoomId, "bob")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = s.GetMemberByUser(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)

	members, err = s.GetMembersByRoom(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func testMessages(t *testing.T, s Store) {
	ctx := context.Background()
	room, err := s.CreateRoom(ctx, "Standup", "alice")
	require.NoError(t, err)
	admin := room.Members[0]

	base := time.Now().Add(-time.Minute).UTC().Truncate(time.Millisecond)
	first, err := s.AddMessage(ctx, room.RoomId, admin.MemberId, "hello", base)
	require.NoError(t, err)
	second, err := s.AddMessage(ctx, room.RoomId, admin.MemberId, "world", base.Add(time.Second))
	require.NoError(t, err)
	assert.NotEqual(t, first.MessageId, second.MessageId)

	msgs, err := s.GetMessagesByRoom(ctx, room.RoomId)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "world", msgs[1].Content)
	assert.True(t, msgs[0].SentAt.Equal(base))

	_, err = s.AddMessage(ctx, "missing", admin.MemberId, "x", base)
	assert.ErrorIs(t, err, ErrNotFound)
}

func testDeleteRoom(t *testing.T, s Store) {
	ctx := context.Background()
	room, err := s.CreateRoom(ctx, "Standup", "alice")
	require.NoError(t, err)
	_, err = s.AddMember(ctx, room.RoomId, "bob", models.RoleMember)
	require.NoError(t, err)
	_, err = s.AddMessage(ctx, room.RoomId, room.Members[0].MemberId, "bye", time.Now().UTC())
	require.NoError(t, err)

	deleted, err := s.DeleteRoom(ctx, room.RoomId)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteRoom(ctx, room.RoomId)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = s.GetRoomById(ctx, room.RoomId)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetMemberByUser(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetMemberByUser(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)
	msgs, err := s.GetMessagesByRoom(ctx, room.RoomId)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// 所属が消えたので新しいルームを作れる
	_, err = s.CreateRoom(ctx, "Again", "alice")
	assert.NoError(t, err)
}

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.GetUser(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveUser(ctx, models.User{UserId: "alice", DisplayName: "Alice"}))
	require.NoError(t, s.SaveUser(ctx, models.User{UserId: "alice", DisplayName: "Alice B."}))

	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice B.", u.DisplayName)
}

func TestRedisRoomRepo_MessageRefreshesMemberIndexes(t *testing.T) {
	client := newRedisClient(t)
	r := NewRedisRoomRepo(client, 60)
	ctx := context.Background()

	room, err := r.CreateRoom(ctx, "Standup", "alice")
	require.NoError(t, err)
	_, err = r.AddMember(ctx, room.RoomId, "bob", models.RoleMember)
	require.NoError(t, err)

	// 時間が経ってインデックスの期限が近づいた状態
	for _, uid := range []string{"alice", "bob"} {
		require.NoError(t, client.Expire(ctx, memberIndexKey(uid), 2*time.Second).Err())
	}

	_, err = r.AddMessage(ctx, room.RoomId, room.Members[0].MemberId, "hi", time.Now())
	require.NoError(t, err)

	roomTTL, err := client.TTL(ctx, roomKey(room.RoomId)).Result()
	require.NoError(t, err)
	for _, uid := range []string{"alice", "bob"} {
		ttl, err := client.TTL(ctx, memberIndexKey(uid)).Result()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, ttl, roomTTL-time.Second, uid)
	}
}

func TestRedisRoomRepo_CorruptRowsAreErrors(t *testing.T) {
	client := newRedisClient(t)
	r := NewRedisRoomRepo(client, 60)
	ctx := context.Background()

	room, err := r.CreateRoom(ctx, "Standup", "alice")
	require.NoError(t, err)

	require.NoError(t, client.HSet(ctx, membersKey(room.RoomId), "mallory", "{not json").Err())
	_, err = r.GetMembersByRoom(ctx, room.RoomId)
	assert.Error(t, err)
	_, err = r.GetRoomById(ctx, room.RoomId)
	assert.Error(t, err)

	require.NoError(t, client.RPush(ctx, messagesKey(room.RoomId), "garbage").Err())
	_, err = r.GetMessagesByRoom(ctx, room.RoomId)
	assert.Error(t, err)
}
