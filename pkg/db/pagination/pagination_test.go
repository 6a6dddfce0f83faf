package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTripsThroughToken(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 5, time.FixedZone("x", 3600))
	token, err := EncodeCursor(NewCursor("42", at))
	require.NoError(t, err)

	decoded, err := DecodeCursor(token)
	require.NoError(t, err)
	got, err := decoded.Time()
	require.NoError(t, err)
	assert.Equal(t, "42", decoded.ID)
	assert.True(t, got.Equal(at))
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{"%%%", "bm90LWpzb24", "e30"} {
		_, err := DecodeCursor(token)
		assert.ErrorIs(t, err, ErrInvalidCursor, token)
	}
}

func TestTrim(t *testing.T) {
	cursorOf := func(n int) Cursor { return Cursor{ID: string(rune('a' + n))} }

	rows, info := Trim([]int{0, 1, 2}, 2, cursorOf)
	assert.Equal(t, []int{0, 1}, rows)
	assert.True(t, info.HasMore)
	next, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, "b", next.ID)

	rows, info = Trim([]int{0, 1}, 2, cursorOf)
	assert.Len(t, rows, 2)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}

func TestClampPageSize(t *testing.T) {
	assert.Equal(t, 50, ClampPageSize(0, 50, 250))
	assert.Equal(t, 250, ClampPageSize(1000, 50, 250))
	assert.Equal(t, 7, ClampPageSize(7, 50, 250))
}
