package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoomID(t *testing.T) {
	id, err := NewRoomID()
	require.NoError(t, err)
	assert.Len(t, id, RoomIDLength)
	for _, c := range id {
		assert.True(t, strings.ContainsRune(roomIDAlphabet, c), "unexpected rune %q", c)
	}
}

func TestNewULID_Monotonic(t *testing.T) {
	prev := NewULID()
	for i := 0; i < 1000; i++ {
		next := NewULID()
		require.Less(t, prev, next)
		prev = next
	}
}
