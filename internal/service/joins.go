package service

import (
	"sync"
	"time"
)

type joinKey struct {
	roomId      string
	requesterId string
}

// pendingJoins は管理者の応答待ちの参加リクエストを保持します
// timeout が0以下の場合は何も追跡せず、リクエストは応答があるまで待ち続けます
type pendingJoins struct {
	timeout time.Duration
	mu      sync.Mutex
	timers  map[joinKey]*time.Timer
}

func newPendingJoins(timeout time.Duration) *pendingJoins {
	return &pendingJoins{timeout: timeout, timers: make(map[joinKey]*time.Timer)}
}

// track はリクエストを登録し、期限切れ時にexpireを呼びます
// 同じルーム・同じ申請者のリクエストは置き換えられます
func (p *pendingJoins) track(roomId, requesterId string, expire func()) {
	if p.timeout <= 0 {
		return
	}
	key := joinKey{roomId: roomId, requesterId: requesterId}

	p.mu.Lock()
	defer p.mu.Unlock()

	if old, ok := p.timers[key]; ok {
		old.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(p.timeout, func() {
		p.mu.Lock()
		cur, ok := p.timers[key]
		if !ok || cur != t {
			p.mu.Unlock()
			return
		}
		delete(p.timers, key)
		p.mu.Unlock()
		expire()
	})
	p.timers[key] = t
}

// resolve は応答があったリクエストのタイマーを止めます
func (p *pendingJoins) resolve(roomId, requesterId string) bool {
	key := joinKey{roomId: roomId, requesterId: requesterId}
	p.mu.Lock()
	defer p.mu.Unlock()

	t, ok := p.timers[key]
	if !ok {
		return false
	}
	t.Stop()
	delete(p.timers, key)
	return true
}

// cancelRoom はルーム削除時に、そのルーム宛てのリクエストをすべて破棄します
func (p *pendingJoins) cancelRoom(roomId string) {
	p.cancel(func(k joinKey) bool { return k.roomId == roomId })
}

// cancelRequester は申請者の切断時に、その申請者のリクエストをすべて破棄します
func (p *pendingJoins) cancelRequester(requesterId string) {
	p.cancel(func(k joinKey) bool { return k.requesterId == requesterId })
}

func (p *pendingJoins) stopAll() {
	p.cancel(func(joinKey) bool { return true })
}

func (p *pendingJoins) cancel(match func(joinKey) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, t := range p.timers {
		if match(k) {
			t.Stop()
			delete(p.timers, k)
		}
	}
}

func (p *pendingJoins) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.timers)
}
