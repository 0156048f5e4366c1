// Package idgen はルーム・メンバー・メッセージ・接続のIDを発行します
package idgen

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ルームIDは招待URLに載るので短く英数字だけにする
const (
	roomIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	RoomIDLength   = 7
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID は作成順に並ぶIDを返します（メンバー・メッセージ用）
// 同じミリ秒内でも単調増加します
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// NewRoomID はルームIDを返します
// 衝突はディレクトリ側で検出して作り直します
func NewRoomID() (string, error) {
	buf := make([]byte, RoomIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes for room id: %w", err)
	}
	for i, b := range buf {
		buf[i] = roomIDAlphabet[int(b)%len(roomIDAlphabet)]
	}
	return string(buf), nil
}

// NewConnID はWebSocket接続ごとのIDを返します
func NewConnID() string {
	return uuid.NewString()
}
