package models

// Event はクライアントとWebSocketでやり取りするフレームです
// すべてのメッセージはこの形式で送受信されます
type Event struct {
	Type    string `json:"type"`              // イベントタイプ (例: "RoomCreated", "MemberJoined")
	Payload any    `json:"payload,omitempty"` // ペイロード（型はイベントごとに異なる）
}

// サーバーからクライアントへ送るイベントタイプ
const (
	EventRoomCreated        = "RoomCreated"
	EventRequestJoinRoom    = "RequestJoinRoom"
	EventJoinDenied         = "JoinDenied"
	EventJoinAccepted       = "JoinAccepted"
	EventJoinRequestExpired = "JoinRequestExpired"
	EventMemberJoined       = "MemberJoined"
	EventMemberLeft         = "MemberLeft"
	EventMessageSent        = "MessageSent"
	EventHandleError        = "HandleError"
	EventPong               = "pong"
)

// PeerMember はピアアドレス付きのメンバー情報です
// クライアントはPeerIdを使って相手に直接メディア接続を張ります
type PeerMember struct {
	MemberId string `json:"memberId"`
	RoomId   string `json:"roomId"`
	UserId   string `json:"userId"`
	Role     Role   `json:"role"`
	PeerId   string `json:"peerId"`
}

// RoomSnapshotPayload は RoomCreated / JoinAccepted のペイロード
type RoomSnapshotPayload struct {
	RoomId  string       `json:"roomId"`
	Name    string       `json:"name"`
	Members []PeerMember `json:"members"`
}

// JoinRequestPayload は管理者へ送る参加リクエスト
type JoinRequestPayload struct {
	RoomId        string `json:"roomId"`
	RequesterId   string `json:"requesterId"`
	RequesterName string `json:"requesterName"`
}

// JoinDecisionPayload は JoinDenied / JoinRequestExpired のペイロード
type JoinDecisionPayload struct {
	RoomId string `json:"roomId"`
	Reason string `json:"reason,omitempty"`
}

// MemberLeftPayload はメンバー退出時のペイロード
type MemberLeftPayload struct {
	RoomId string `json:"roomId"`
	UserId string `json:"userId"`
}

// ErrorPayload は HandleError のペイロード
type ErrorPayload struct {
	Op      string `json:"op"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
