package presence

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/models"
)

// Groups はルームごとのブロードキャストグループを管理します
// スレッドセーフな実装により、複数のgoroutineから同時にアクセス可能です
type Groups struct {
	rooms map[string]map[string]Conn // ルームID -> 接続ID -> 接続
	mu    sync.RWMutex               // 読み書きのロック
}

// NewGroups は新しいGroupsを作成します
func NewGroups() *Groups {
	return &Groups{rooms: make(map[string]map[string]Conn)}
}

// Add は接続をルームのグループに追加します（冪等）
func (g *Groups) Add(roomId string, c Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	members, ok := g.rooms[roomId]
	if !ok {
		members = make(map[string]Conn)
		g.rooms[roomId] = members
	}
	members[c.ID()] = c
}

// Remove は接続をルームのグループから外します
// グループが空になった場合はグループ自体を削除します
func (g *Groups) Remove(roomId string, c Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	members, ok := g.rooms[roomId]
	if !ok {
		return
	}
	delete(members, c.ID())
	if len(members) == 0 {
		delete(g.rooms, roomId)
	}
}

// RemoveConn は接続をすべてのグループから外します
// 切断時に呼ばれます
func (g *Groups) RemoveConn(c Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for roomId, members := range g.rooms {
		delete(members, c.ID())
		if len(members) == 0 {
			delete(g.rooms, roomId)
		}
	}
}

// Drop はルームのグループを削除します
// ルーム削除時に呼ばれます
func (g *Groups) Drop(roomId string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.rooms, roomId)
}

// Members はグループに属する接続のスナップショットを返します
func (g *Groups) Members(roomId string) []Conn {
	g.mu.RLock()
	defer g.mu.RUnlock()

	members := g.rooms[roomId]
	out := make([]Conn, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// Broadcast はグループ内の全接続にイベントを送信します
// 送信に失敗した接続はログに残してスキップします
func (g *Groups) Broadcast(roomId string, ev models.Event) int {
	sent := 0
	for _, c := range g.Members(roomId) {
		if err := c.Send(ev); err != nil {
			log.Warn().Err(err).Str("roomId", roomId).Str("connId", c.ID()).Str("event", ev.Type).Msg("broadcast send failed")
			continue
		}
		sent++
	}
	return sent
}
