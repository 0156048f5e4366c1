// Package models はアプリケーションで使用するデータ構造を定義します
package models

import "time"

// Role はルーム内でのメンバーの役割を表します
type Role string

const (
	RoleAdmin     Role = "admin"     // ルームの管理者（参加リクエストを承認する）
	RoleMember    Role = "member"    // 承認されて参加したメンバー
	RoleModerator Role = "moderator" // 予約: モデレーター
)

// Valid は定義済みのロールかどうかを返します
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleMember, RoleModerator:
		return true
	}
	return false
}

// User は接続しているユーザーの識別情報を表します
type User struct {
	UserId      string `json:"userId"`      // ユーザーの一意な識別子
	DisplayName string `json:"displayName"` // 表示名
}

// Room はビデオ通話ルームの情報を表します
type Room struct {
	RoomId    string    `json:"roomId"`            // ルームの一意な識別子
	Name      string    `json:"name"`              // ルームの表示名
	CreatedAt time.Time `json:"createdAt"`         // ルーム作成日時
	Members   []Member  `json:"members,omitempty"` // 参加メンバー（取得時のみ）
}

// Member はユーザーのルームへの所属を表します
// 1ユーザーが同時に持てるメンバーレコードは1つだけです
type Member struct {
	MemberId string `json:"memberId"` // メンバーの一意な識別子
	RoomId   string `json:"roomId"`   // 所属するルームのID
	UserId   string `json:"userId"`   // メンバーのユーザーID
	Role     Role   `json:"role"`     // ルーム内での役割
}

// Message はルーム内のチャットメッセージを表します
// 作成後は変更されません
type Message struct {
	MessageId string    `json:"messageId"` // メッセージの一意な識別子
	RoomId    string    `json:"roomId"`    // 送信先ルームのID
	MemberId  string    `json:"memberId"`  // 送信者のメンバーID
	Content   string    `json:"content"`   // 本文（1〜500文字）
	SentAt    time.Time `json:"sentAt"`    // 送信日時
}
