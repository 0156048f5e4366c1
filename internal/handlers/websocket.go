package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/auth"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/models"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/service"
)

// クライアントから受け付けるメッセージタイプ
const (
	msgCreateRoom           = "CreateRoom"
	msgJoinRoom             = "JoinRoom"
	msgRespondToJoinRequest = "RespondToJoinRequest"
	msgSendMessageToRoom    = "SendMessageToRoom"
	msgLeaveRoom            = "LeaveRoom"
	msgSetPeerId            = "SetPeerId"
	msgPing                 = "ping"
)

// inboundFrame はクライアントから受信するフレーム
// ペイロードはタイプごとに後からデコードします
type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// CreateRoomPayload はルーム作成時のペイロード
type CreateRoomPayload struct {
	Name string `json:"name"` // ルーム名（1〜100文字）
}

// JoinRoomPayload は参加リクエスト時のペイロード
type JoinRoomPayload struct {
	RoomId string `json:"roomId"` // 参加したいルームのID
}

// RespondPayload は参加リクエストへの応答のペイロード
type RespondPayload struct {
	RoomId      string `json:"roomId"`      // ルームID
	RequesterId string `json:"requesterId"` // 申請者のユーザーID
	Accept      bool   `json:"accept"`      // true: 承認、false: 拒否
}

// SendMessagePayload はチャット送信時のペイロード
type SendMessagePayload struct {
	RoomId   string    `json:"roomId"`
	MemberId string    `json:"memberId"`
	Content  string    `json:"content"`
	SentAt   time.Time `json:"sentAt"` // 省略時はサーバーの受信時刻
}

// LeavePayload は退出時のペイロード
type LeavePayload struct {
	RoomId string `json:"roomId"`
	UserId string `json:"userId"`
}

// SetPeerIdPayload はピアアドレス登録時のペイロード
type SetPeerIdPayload struct {
	PeerId string `json:"peerId"`
}

// WebSocketHandler はWebSocket接続を処理するハンドラー
type WebSocketHandler struct {
	coord    *service.Coordinator // ルーム操作
	life     *service.Lifecycle   // 接続・切断処理
	tokens   *auth.TokenManager   // トークン検証
	upgrader websocket.Upgrader   // HTTPからWebSocketへのアップグレーダー
}

// NewWebSocketHandler は新しいWebSocketHandlerを作成します
// allowedOrigins が空の場合はすべてのOriginを受け付けます
func NewWebSocketHandler(coord *service.Coordinator, life *service.Lifecycle, tokens *auth.TokenManager, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		coord:  coord,
		life:   life,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if len(allowedOrigins) == 0 || origin == "" {
					return true
				}
				return slices.Contains(allowedOrigins, origin) || slices.Contains(allowedOrigins, "*")
			},
		},
	}
}

// HandleWebSocket はWebSocket接続を処理します
// 接続後、以下の処理を行います:
// 1. トークンを検証してユーザーを特定（失敗時は401でアップグレードしない）
// 2. HTTPからWebSocketへのアップグレード
// 3. 接続の登録と送信ループの開始
// 4. 受信ループ（切断まで）
// 5. 切断時の後片付け
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.BearerToken(r.Header.Get("Authorization"))
	}
	user, err := h.tokens.Verify(token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("userId", user.UserId).Msg("websocket upgrade failed")
		return
	}

	client := newClient(conn, user.UserId)
	h.life.Connect(r.Context(), user, client)
	go client.writePump()

	defer func() {
		// リクエストのコンテキストは切断時に終わっているため使わない
		h.life.Disconnect(context.Background(), user.UserId, client)
		client.close()
	}()

	caller := service.Caller{UserId: user.UserId, Conn: client}
	client.readPump(func(frame inboundFrame) {
		h.dispatch(context.Background(), caller, frame)
	})
}

// dispatch はメッセージタイプに応じて処理を振り分けます
// 操作のエラーは Coordinator がHandleErrorとして送信済みなので、ここでは扱いません
func (h *WebSocketHandler) dispatch(ctx context.Context, caller service.Caller, frame inboundFrame) {
	switch frame.Type {
	case msgCreateRoom:
		var p CreateRoomPayload
		if decodePayload(caller, frame, &p) {
			_ = h.coord.CreateRoom(ctx, caller, p.Name)
		}
	case msgJoinRoom:
		var p JoinRoomPayload
		if decodePayload(caller, frame, &p) {
			_ = h.coord.JoinRoom(ctx, caller, normalizeID(p.RoomId))
		}
	case msgRespondToJoinRequest:
		var p RespondPayload
		if decodePayload(caller, frame, &p) {
			_ = h.coord.RespondToJoinRequest(ctx, caller, normalizeID(p.RoomId), normalizeID(p.RequesterId), p.Accept)
		}
	case msgSendMessageToRoom:
		var p SendMessagePayload
		if decodePayload(caller, frame, &p) {
			_ = h.coord.SendMessageToRoom(ctx, caller, service.SendMessageInput{
				RoomId:   normalizeID(p.RoomId),
				MemberId: normalizeID(p.MemberId),
				Content:  p.Content,
				SentAt:   p.SentAt,
			})
		}
	case msgLeaveRoom:
		var p LeavePayload
		if decodePayload(caller, frame, &p) {
			_ = h.coord.LeaveRoom(ctx, caller, normalizeID(p.RoomId), normalizeID(p.UserId))
		}
	case msgSetPeerId:
		var p SetPeerIdPayload
		if decodePayload(caller, frame, &p) {
			_ = h.coord.SetPeerId(ctx, caller, p.PeerId)
		}
	case msgPing:
		// ping/pongで接続を維持
		_ = caller.Conn.Send(models.Event{Type: models.EventPong})
	default:
		log.Debug().Str("userId", caller.UserId).Str("type", frame.Type).Msg("unknown message type")
		sendProtocolError(caller, frame.Type, errors.New("unknown message type"))
	}
}

// decodePayload はペイロードをデコードします
// 失敗した場合はHandleErrorを返してfalseを返します
func decodePayload(caller service.Caller, frame inboundFrame, dst any) bool {
	if len(frame.Payload) == 0 {
		sendProtocolError(caller, frame.Type, errors.New("payload required"))
		return false
	}
	if err := json.Unmarshal(frame.Payload, dst); err != nil {
		log.Debug().Err(err).Str("userId", caller.UserId).Str("type", frame.Type).Msg("invalid payload")
		sendProtocolError(caller, frame.Type, errors.New("invalid payload"))
		return false
	}
	return true
}

func sendProtocolError(caller service.Caller, op string, err error) {
	_ = caller.Conn.Send(models.Event{
		Type: models.EventHandleError,
		Payload: models.ErrorPayload{
			Op:      op,
			Kind:    service.KindInvalid.String(),
			Message: err.Error(),
		},
	})
}
