package handlers

import (
	"fmt"
	"unicode/utf8"
)

// IDの最大長（ディレクトリの列幅に合わせる）
const (
	maxUserIdLength = 64
	maxRoomIdLength = 16
)

// validateUserId はユーザーIDのバリデーションを行います
func validateUserId(userId string) error {
	return validateID("userId", userId, maxUserIdLength)
}

// validateRoomId はルームIDのバリデーションを行います
func validateRoomId(roomId string) error {
	return validateID("roomId", roomId, maxRoomIdLength)
}

func validateID(field, id string, max int) error {
	id = normalizeID(id)
	if id == "" {
		return fmt.Errorf("%s required", field)
	}
	if utf8.RuneCountInString(id) > max {
		return fmt.Errorf("%s must be at most %d characters", field, max)
	}
	return nil
}
