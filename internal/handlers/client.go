package handlers

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/idgen"
	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/models"
)

const (
	// 書き込みのタイムアウト
	writeWait = 10 * time.Second

	// pongを待つ時間
	pongWait = 60 * time.Second

	// pingの送信間隔（pongWaitより短くすること）
	pingPeriod = (pongWait * 9) / 10

	// 受信メッセージの最大サイズ
	maxMessageSize = 64 * 1024

	// 送信キューの長さ
	sendBufferSize = 64
)

var (
	errClientClosed   = errors.New("client closed")
	errSendBufferFull = errors.New("send buffer full")
)

// Client は1つのWebSocket接続を表します
// presence.Conn を実装し、送信はキュー経由で writePump が行います
type Client struct {
	id     string          // 接続ID
	userId string          // 認証済みユーザーID
	conn   *websocket.Conn // WebSocket接続
	send   chan models.Event

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, userId string) *Client {
	return &Client{
		id:     idgen.NewConnID(),
		userId: userId,
		conn:   conn,
		send:   make(chan models.Event, sendBufferSize),
		done:   make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Send はイベントを送信キューに積みます
// キューが満杯の場合は待たずに捨てます（遅いクライアントで全体を止めないため）
func (c *Client) Send(ev models.Event) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- ev:
		return nil
	case <-c.done:
		return errClientClosed
	default:
		log.Warn().Str("connId", c.id).Str("userId", c.userId).Str("event", ev.Type).Msg("send buffer full, dropping event")
		return errSendBufferFull
	}
}

// close は writePump を止めます（冪等）
func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump は受信ループです
// 1接続につき1つのgoroutineで動き、handleは受信順に1つずつ呼ばれます
func (c *Client) readPump(handle func(frame inboundFrame)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame inboundFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("connId", c.id).Str("userId", c.userId).Msg("websocket read error")
			}
			return
		}
		handle(frame)
	}
}

// writePump は送信ループです
// 接続への書き込みはこのgoroutineだけが行います
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				log.Warn().Err(err).Str("connId", c.id).Str("event", ev.Type).Msg("websocket write error")
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
