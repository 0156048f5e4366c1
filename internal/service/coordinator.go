// Package service はビジネスロジックを担当します
// ルームの作成・参加承認・チャット・退出と、切断時の後片付けを提供します
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/models"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/presence"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/repo"
)

const (
	MaxRoomNameLength = 100
	MaxMessageLength  = 500

	// 端末との時計のずれとして許容する範囲
	maxClockSkew = 5 * time.Second
)

// 操作名（ログとHandleErrorのopに使う）
const (
	OpCreateRoom           = "CreateRoom"
	OpJoinRoom             = "JoinRoom"
	OpRespondToJoinRequest = "RespondToJoinRequest"
	OpSendMessageToRoom    = "SendMessageToRoom"
	OpLeaveRoom            = "LeaveRoom"
	OpSetPeerId            = "SetPeerId"
)

// Caller は操作を呼び出した接続と、その接続に紐づくユーザーです
type Caller struct {
	UserId string
	Conn   presence.Conn
}

// SendMessageInput は SendMessageToRoom の入力です
type SendMessageInput struct {
	RoomId   string
	MemberId string
	Content  string
	SentAt   time.Time
}

// Coordinator はルームの状態遷移を調整します
// 永続化はRoomDirectoryに、接続の所在はRegistryに、配信はGroupsに任せます
type Coordinator struct {
	dir      repo.RoomDirectory
	users    repo.UserRepo
	presence presence.Registry
	groups   *presence.Groups
	joins    *pendingJoins
	now      func() time.Time
}

// NewCoordinator は新しいCoordinatorを作成します
// joinTimeout が0の場合、参加リクエストは期限切れになりません
func NewCoordinator(dir repo.RoomDirectory, users repo.UserRepo, reg presence.Registry, groups *presence.Groups, joinTimeout time.Duration) *Coordinator {
	return &Coordinator{
		dir:      dir,
		users:    users,
		presence: reg,
		groups:   groups,
		joins:    newPendingJoins(joinTimeout),
		now:      time.Now,
	}
}

// Close は保留中の参加リクエストのタイマーをすべて止めます
func (c *Coordinator) Close() {
	c.joins.stopAll()
}

// run は操作を実行し、失敗をHandleErrorとして呼び出し元に返します
// パニックもここで捕まえ、接続が落ちないようにします
func (c *Coordinator) run(ctx context.Context, caller Caller, op, roomId string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			err = c.fail(caller, op, roomId, err)
		}
	}()

	if caller.UserId == "" {
		return precondition(ErrIdentityUnresolved)
	}
	return fn(ctx)
}

func (c *Coordinator) fail(caller Caller, op, roomId string, err error) error {
	kind := KindOf(err)
	opErr := &OpError{Op: op, Kind: kind, Err: err}

	var ev *zerolog.Event
	if kind == KindDirectory || kind == KindUnexpected {
		ev = log.Error()
	} else {
		ev = log.Warn()
	}
	ev.Err(err).Str("op", op).Str("userId", caller.UserId).Str("roomId", roomId).Str("kind", kind.String()).Msg("operation failed")

	// 永続層や想定外のエラーは内部情報を出さない
	msg := err.Error()
	if kind == KindDirectory || kind == KindUnexpected {
		msg = "internal error"
	}
	c.sendTo(caller.Conn, models.Event{
		Type:    models.EventHandleError,
		Payload: models.ErrorPayload{Op: op, Kind: kind.String(), Message: msg},
	})
	return opErr
}

// sendTo は1つの接続にイベントを送ります
// 送信失敗はログに残すだけで、操作の失敗にはしません
func (c *Coordinator) sendTo(conn presence.Conn, ev models.Event) {
	if conn == nil {
		return
	}
	if err := conn.Send(ev); err != nil {
		log.Warn().Err(err).Str("connId", conn.ID()).Str("event", ev.Type).Msg("send failed")
	}
}

// CreateRoom は呼び出し元を管理者として新しいルームを作成します
// 処理の流れ:
// 1. ルーム名とピアアドレスを確認（何も変更する前に）
// 2. 既存の所属があれば解除（管理者だった場合は旧ルームごと削除）
// 3. ルームと管理者メンバーを作成
// 4. 呼び出し元の接続をルームのグループに登録し、RoomCreatedを送信
func (c *Coordinator) CreateRoom(ctx context.Context, caller Caller, name string) error {
	return c.run(ctx, caller, OpCreateRoom, "", func(ctx context.Context) error {
		name = strings.TrimSpace(name)
		if n := utf8.RuneCountInString(name); n == 0 || n > MaxRoomNameLength {
			return invalid(ErrRoomNameInvalid)
		}
		if _, ok := c.presence.LookupPeerAddress(caller.UserId); !ok {
			return precondition(ErrPeerAddressUnset)
		}

		if err := c.evictMembership(ctx, caller.UserId, caller.Conn); err != nil {
			return err
		}

		room, err := c.dir.CreateRoom(ctx, name, caller.UserId)
		if err != nil {
			return directory("create room", err)
		}

		c.groups.Add(room.RoomId, caller.Conn)
		c.sendTo(caller.Conn, models.Event{
			Type:    models.EventRoomCreated,
			Payload: c.snapshot(room, room.Members),
		})

		log.Info().Str("roomId", room.RoomId).Str("userId", caller.UserId).Str("name", room.Name).Msg("room created")
		return nil
	})
}

// JoinRoom はルームの管理者に参加リクエストを送ります
// この時点ではメンバーは追加されず、管理者の応答を待ちます
func (c *Coordinator) JoinRoom(ctx context.Context, caller Caller, roomId string) error {
	return c.run(ctx, caller, OpJoinRoom, roomId, func(ctx context.Context) error {
		room, err := c.getRoom(ctx, roomId)
		if err != nil {
			return err
		}
		admin, ok := findAdmin(room.Members)
		if !ok {
			return notFound(ErrAdminNotFound)
		}
		adminConn, ok := c.presence.LookupConnection(admin.UserId)
		if !ok {
			return precondition(ErrAdminOffline)
		}

		requester, err := c.users.GetUser(ctx, caller.UserId)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return notFound(ErrIdentityUnresolved)
			}
			return directory("get requester", err)
		}
		name := requester.DisplayName
		if name == "" {
			name = requester.UserId
		}

		err = adminConn.Send(models.Event{
			Type: models.EventRequestJoinRoom,
			Payload: models.JoinRequestPayload{
				RoomId:        room.RoomId,
				RequesterId:   caller.UserId,
				RequesterName: name,
			},
		})
		if err != nil {
			return precondition(fmt.Errorf("%w: %v", ErrAdminOffline, err))
		}

		requesterConn := caller.Conn
		c.joins.track(room.RoomId, caller.UserId, func() {
			log.Info().Str("roomId", roomId).Str("userId", caller.UserId).Msg("join request expired")
			c.sendTo(requesterConn, models.Event{
				Type:    models.EventJoinRequestExpired,
				Payload: models.JoinDecisionPayload{RoomId: roomId, Reason: "timeout"},
			})
		})

		log.Info().Str("roomId", room.RoomId).Str("userId", caller.UserId).Str("adminId", admin.UserId).Msg("join requested")
		return nil
	})
}

// RespondToJoinRequest は管理者による参加リクエストへの応答を処理します
// 拒否の場合は申請者にJoinDeniedを送るだけで、状態は変わりません
// 承認の場合の流れ:
// 1. 申請者の接続とピアアドレスを確認
// 2. 申請者の既存の所属を解除してからメンバーとして追加（同じルームに所属済みならエラー）
// 3. 管理者と申請者の接続をグループに登録
// 4. グループ全体にMemberJoined、続いて申請者にJoinAcceptedを送信
func (c *Coordinator) RespondToJoinRequest(ctx context.Context, caller Caller, roomId, requesterId string, accept bool) error {
	return c.run(ctx, caller, OpRespondToJoinRequest, roomId, func(ctx context.Context) error {
		room, err := c.getRoom(ctx, roomId)
		if err != nil {
			return err
		}
		admin, ok := findAdmin(room.Members)
		if !ok {
			return notFound(ErrAdminNotFound)
		}
		if admin.UserId != caller.UserId {
			return precondition(ErrNotRoomAdmin)
		}
		if requesterId == caller.UserId {
			return precondition(ErrSelfJoinRequest)
		}
		c.joins.resolve(roomId, requesterId)

		requesterConn, online := c.presence.LookupConnection(requesterId)

		if !accept {
			if online {
				c.sendTo(requesterConn, models.Event{
					Type:    models.EventJoinDenied,
					Payload: models.JoinDecisionPayload{RoomId: roomId},
				})
			}
			log.Info().Str("roomId", roomId).Str("requesterId", requesterId).Msg("join denied")
			return nil
		}

		if !online {
			return precondition(ErrRequesterOffline)
		}
		peerId, ok := c.presence.LookupPeerAddress(requesterId)
		if !ok {
			return precondition(ErrPeerAddressUnset)
		}

		// 既にこのルームのメンバーなら何も変えない
		current, err := c.dir.GetMemberByUser(ctx, requesterId)
		switch {
		case err == nil && current.RoomId == roomId:
			return precondition(ErrAlreadyInRoom)
		case err != nil && !errors.Is(err, repo.ErrNotFound):
			return directory("get requester membership", err)
		}

		if err := c.evictMembership(ctx, requesterId, requesterConn); err != nil {
			return err
		}
		if _, err := c.dir.AddMember(ctx, roomId, requesterId, models.RoleMember); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return notFound(ErrRoomNotFound)
			}
			return directory("add member", err)
		}

		// 追加した行を読み直して、永続層が確定させた内容を通知する
		member, err := c.dir.GetMemberByUser(ctx, requesterId)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return notFound(ErrMemberNotFound)
			}
			return directory("get member", err)
		}
		members, err := c.dir.GetMembersByRoom(ctx, roomId)
		if err != nil {
			return directory("get members", err)
		}

		c.groups.Add(roomId, caller.Conn)
		c.groups.Add(roomId, requesterConn)

		c.groups.Broadcast(roomId, models.Event{
			Type:    models.EventMemberJoined,
			Payload: toPeerMember(member, peerId),
		})
		c.sendTo(requesterConn, models.Event{
			Type:    models.EventJoinAccepted,
			Payload: c.snapshot(room, members),
		})

		log.Info().Str("roomId", roomId).Str("requesterId", requesterId).Str("memberId", member.MemberId).Msg("join accepted")
		return nil
	})
}

// SendMessageToRoom はチャットメッセージを保存し、ルーム全体に配信します
func (c *Coordinator) SendMessageToRoom(ctx context.Context, caller Caller, in SendMessageInput) error {
	return c.run(ctx, caller, OpSendMessageToRoom, in.RoomId, func(ctx context.Context) error {
		sentAt, err := c.validateMessage(in)
		if err != nil {
			return err
		}

		member, err := c.dir.GetMemberByUser(ctx, caller.UserId)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return notFound(ErrMemberNotFound)
			}
			return directory("get member", err)
		}
		if member.RoomId != in.RoomId || member.MemberId != in.MemberId {
			return precondition(ErrNotRoomMember)
		}

		added, err := c.dir.AddMessage(ctx, in.RoomId, in.MemberId, in.Content, sentAt)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return notFound(ErrRoomNotFound)
			}
			return directory("add message", err)
		}

		msgs, err := c.dir.GetMessagesByRoom(ctx, in.RoomId)
		if err != nil {
			return directory("get messages", err)
		}
		stored, ok := persistedMessage(msgs, added.MessageId)
		if !ok {
			return fmt.Errorf("room %q has no messages after insert", in.RoomId)
		}

		c.groups.Broadcast(in.RoomId, models.Event{Type: models.EventMessageSent, Payload: stored})
		log.Debug().Str("roomId", in.RoomId).Str("memberId", in.MemberId).Str("messageId", stored.MessageId).Msg("message sent")
		return nil
	})
}

func (c *Coordinator) validateMessage(in SendMessageInput) (time.Time, error) {
	if strings.TrimSpace(in.Content) == "" {
		return time.Time{}, invalid(ErrMessageEmpty)
	}
	if utf8.RuneCountInString(in.Content) > MaxMessageLength {
		return time.Time{}, invalid(ErrMessageTooLong)
	}
	now := c.now().UTC()
	switch {
	case in.SentAt.IsZero():
		return now, nil
	case in.SentAt.After(now.Add(maxClockSkew)):
		return time.Time{}, invalid(ErrMessageFromFuture)
	case in.SentAt.After(now):
		// 許容範囲内の未来時刻はサーバー時刻に丸める
		return now, nil
	}
	return in.SentAt.UTC(), nil
}

// LeaveRoom は呼び出し元をルームから退出させます
// 退出の通知は削除より先に送ります（通知後に削除が失敗しても取り消しません）
func (c *Coordinator) LeaveRoom(ctx context.Context, caller Caller, roomId, userId string) error {
	return c.run(ctx, caller, OpLeaveRoom, roomId, func(ctx context.Context) error {
		if userId == "" {
			userId = caller.UserId
		}
		if userId != caller.UserId {
			return invalid(ErrUserMismatch)
		}
		m, err := c.dir.GetMemberByUser(ctx, userId)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return precondition(ErrNotRoomMember)
			}
			return directory("get member", err)
		}
		if m.RoomId != roomId {
			return precondition(ErrNotRoomMember)
		}

		c.groups.Broadcast(roomId, models.Event{
			Type:    models.EventMemberLeft,
			Payload: models.MemberLeftPayload{RoomId: roomId, UserId: userId},
		})

		if _, err := c.dir.RemoveMember(ctx, roomId, userId); err != nil {
			return directory("remove member", err)
		}
		if _, err := c.deleteRoomIfEmpty(ctx, roomId); err != nil {
			return err
		}
		c.groups.Remove(roomId, caller.Conn)

		log.Info().Str("roomId", roomId).Str("userId", userId).Msg("member left")
		return nil
	})
}

// SetPeerId は呼び出し元のピアアドレスを登録します（上書き）
func (c *Coordinator) SetPeerId(ctx context.Context, caller Caller, peerId string) error {
	return c.run(ctx, caller, OpSetPeerId, "", func(ctx context.Context) error {
		peerId = strings.TrimSpace(peerId)
		if peerId == "" {
			return invalid(errors.New("peerId required"))
		}
		c.presence.RecordPeerAddress(caller.UserId, peerId)
		log.Debug().Str("userId", caller.UserId).Str("peerId", peerId).Msg("peer id recorded")
		return nil
	})
}

// evictMembership はユーザーの既存の所属を解除します
// 1ユーザーが同時に所属できるルームは1つだけです
// 管理者だった場合は旧ルームごと削除し、それ以外はメンバーだけを外します
func (c *Coordinator) evictMembership(ctx context.Context, userId string, conn presence.Conn) error {
	m, err := c.dir.GetMemberByUser(ctx, userId)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return directory("get previous membership", err)
	}

	if conn != nil {
		c.groups.Remove(m.RoomId, conn)
	}

	if m.Role == models.RoleAdmin {
		if _, err := c.dir.DeleteRoom(ctx, m.RoomId); err != nil {
			return directory("delete previous room", err)
		}
		c.groups.Broadcast(m.RoomId, models.Event{
			Type:    models.EventMemberLeft,
			Payload: models.MemberLeftPayload{RoomId: m.RoomId, UserId: userId},
		})
		c.groups.Drop(m.RoomId)
		c.joins.cancelRoom(m.RoomId)
		log.Info().Str("roomId", m.RoomId).Str("userId", userId).Msg("previous room deleted")
		return nil
	}

	if _, err := c.dir.RemoveMember(ctx, m.RoomId, userId); err != nil {
		return directory("remove previous membership", err)
	}
	c.groups.Broadcast(m.RoomId, models.Event{
		Type:    models.EventMemberLeft,
		Payload: models.MemberLeftPayload{RoomId: m.RoomId, UserId: userId},
	})
	if _, err := c.deleteRoomIfEmpty(ctx, m.RoomId); err != nil {
		return err
	}
	log.Info().Str("roomId", m.RoomId).Str("userId", userId).Msg("previous membership removed")
	return nil
}

// deleteRoomIfEmpty はメンバーがいなくなったルームを削除します
func (c *Coordinator) deleteRoomIfEmpty(ctx context.Context, roomId string) (bool, error) {
	members, err := c.dir.GetMembersByRoom(ctx, roomId)
	if err != nil {
		return false, directory("get members", err)
	}
	if len(members) > 0 {
		return false, nil
	}
	if _, err := c.dir.DeleteRoom(ctx, roomId); err != nil {
		return false, directory("delete room", err)
	}
	c.groups.Drop(roomId)
	c.joins.cancelRoom(roomId)
	log.Info().Str("roomId", roomId).Msg("empty room deleted")
	return true, nil
}

func (c *Coordinator) getRoom(ctx context.Context, roomId string) (models.Room, error) {
	room, err := c.dir.GetRoomById(ctx, roomId)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return models.Room{}, notFound(ErrRoomNotFound)
		}
		return models.Room{}, directory("get room", err)
	}
	return room, nil
}

// snapshot はメンバーそれぞれのピアアドレスを付けたルーム情報を作ります
func (c *Coordinator) snapshot(room models.Room, members []models.Member) models.RoomSnapshotPayload {
	out := models.RoomSnapshotPayload{
		RoomId:  room.RoomId,
		Name:    room.Name,
		Members: make([]models.PeerMember, 0, len(members)),
	}
	for _, m := range members {
		peerId, _ := c.presence.LookupPeerAddress(m.UserId)
		out.Members = append(out.Members, toPeerMember(m, peerId))
	}
	return out
}

func toPeerMember(m models.Member, peerId string) models.PeerMember {
	return models.PeerMember{
		MemberId: m.MemberId,
		RoomId:   m.RoomId,
		UserId:   m.UserId,
		Role:     m.Role,
		PeerId:   peerId,
	}
}

func findAdmin(members []models.Member) (models.Member, bool) {
	for _, m := range members {
		if m.Role == models.RoleAdmin {
			return m, true
		}
	}
	return models.Member{}, false
}

// persistedMessage は読み直した履歴から、追加したメッセージを探します
// 見つからない場合はIDが最大（ULIDなので最新）のものを返します
func persistedMessage(msgs []models.Message, messageId string) (models.Message, bool) {
	for _, m := range msgs {
		if m.MessageId == messageId {
			return m, true
		}
	}
	if len(msgs) == 0 {
		return models.Message{}, false
	}
	latest := msgs[0]
	for _, m := range msgs[1:] {
		if m.MessageId > latest.MessageId {
			latest = m
		}
	}
	return latest, true
}
