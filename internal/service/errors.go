package service

import (
	"errors"
	"fmt"
)

// カスタムエラー定義
var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrAdminNotFound      = errors.New("room has no admin")
	ErrAdminOffline       = errors.New("room admin is not connected")
	ErrNotRoomAdmin       = errors.New("forbidden: not room admin")
	ErrPeerAddressUnset   = errors.New("peer address not set")
	ErrRequesterOffline   = errors.New("requester is not connected")
	ErrSelfJoinRequest    = errors.New("admin cannot respond to own join request")
	ErrAlreadyInRoom      = errors.New("requester is already a member of this room")
	ErrMemberNotFound     = errors.New("member not found")
	ErrNotRoomMember      = errors.New("member does not belong to caller in this room")
	ErrIdentityUnresolved = errors.New("caller identity could not be resolved")
	ErrUserMismatch       = errors.New("userId does not match caller")
	ErrRoomNameInvalid    = errors.New("room name must be 1-100 characters")
	ErrMessageEmpty       = errors.New("message content cannot be empty")
	ErrMessageTooLong     = errors.New("message exceeds maximum length")
	ErrMessageFromFuture  = errors.New("message sentAt is in the future")
)

// ErrorKind はエラーの分類です
type ErrorKind int

const (
	KindUnexpected   ErrorKind = iota // 想定外（パニック含む）
	KindNotFound                      // ルーム・メンバー・管理者などが存在しない
	KindPrecondition                  // ピアアドレス未設定、管理者オフラインなど
	KindInvalid                       // 入力値が不正
	KindDirectory                     // ルームディレクトリ（永続層）の失敗
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindPrecondition:
		return "precondition"
	case KindInvalid:
		return "invalid"
	case KindDirectory:
		return "directory"
	default:
		return "unexpected"
	}
}

// OpError は操作の失敗を表します
// 操作名と分類を持ち、元のエラーはUnwrapで取り出せます
type OpError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// KindOf はエラーの分類を返します
func KindOf(err error) ErrorKind {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnexpected
}

// kindError は操作内部で分類を付けるためのラッパーです
type kindError struct {
	kind ErrorKind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

func notFound(err error) error     { return &kindError{kind: KindNotFound, err: err} }
func precondition(err error) error { return &kindError{kind: KindPrecondition, err: err} }
func invalid(err error) error      { return &kindError{kind: KindInvalid, err: err} }

// directory はルームディレクトリのエラーに文脈を付けます
func directory(action string, err error) error {
	return &kindError{kind: KindDirectory, err: fmt.Errorf("%s: %w", action, err)}
}
