// Package presence は接続中ユーザーの所在を管理します
// ユーザーIDから現在のWebSocket接続とピアアドレスを引けるようにし、
// ルームごとのブロードキャストグループを保持します
package presence

import (
	"sync"

	"github.com/SteamVC/SteamVC_Room/backend/call-server/internal/models"
)

// Conn はイベントを送信できる1本の接続を表します
// トランスポート層（WebSocket）が実装します
type Conn interface {
	ID() string                 // 接続ごとに一意なID
	Send(ev models.Event) error // イベントを送信キューに積む
}

// Registry はユーザーIDと接続・ピアアドレスの対応を保持します
// 複数のgoroutineから同時に呼ばれても安全である必要があります
type Registry interface {
	RecordConnection(userId string, c Conn)
	LookupConnection(userId string) (Conn, bool)
	// RemoveConnection はcが現在の接続である場合のみ削除します
	// 後から接続した別の接続を誤って消さないためです
	RemoveConnection(userId string, c Conn) bool

	RecordPeerAddress(userId, address string)
	LookupPeerAddress(userId string) (string, bool)
	RemovePeerAddress(userId string)
}

// MemoryRegistry はプロセス内のsync.MapによるRegistry実装です
// キーごとにアトミックに更新され、全体ロックは取りません
type MemoryRegistry struct {
	conns sync.Map // userId -> Conn
	peers sync.Map // userId -> string
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry は新しいMemoryRegistryを作成します
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{}
}

// RecordConnection は接続を登録します（後勝ち）
func (r *MemoryRegistry) RecordConnection(userId string, c Conn) {
	r.conns.Store(userId, c)
}

// LookupConnection は現在の接続を返します
func (r *MemoryRegistry) LookupConnection(userId string) (Conn, bool) {
	v, ok := r.conns.Load(userId)
	if !ok {
		return nil, false
	}
	return v.(Conn), true
}

func (r *MemoryRegistry) RemoveConnection(userId string, c Conn) bool {
	return r.conns.CompareAndDelete(userId, c)
}

// RecordPeerAddress はピアアドレスを登録します（上書き）
func (r *MemoryRegistry) RecordPeerAddress(userId, address string) {
	r.peers.Store(userId, address)
}

// LookupPeerAddress はピアアドレスを返します
func (r *MemoryRegistry) LookupPeerAddress(userId string) (string, bool) {
	v, ok := r.peers.Load(userId)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func (r *MemoryRegistry) RemovePeerAddress(userId string) {
	r.peers.Delete(userId)
}

// ConnectionCount は登録済みの接続数を返します（ヘルスチェック用）
func (r *MemoryRegistry) ConnectionCount() int {
	n := 0
	r.conns.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
