package pagination

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	token := EncodeCursor(snowflake.ID(1234567890123))
	id, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(1234567890123), id)

	id, err = DecodeCursor("")
	require.NoError(t, err)
	assert.Zero(t, id)

	_, err = DecodeCursor("%%%")
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestSize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Size(0))
	assert.Equal(t, 7, Size(7))
	assert.Equal(t, MaxPageSize, Size(10_000))
}

func TestTrim(t *testing.T) {
	rows := []snowflake.ID{9, 8, 7}
	page, info := Trim(rows, 2, func(id snowflake.ID) snowflake.ID { return id })
	assert.Equal(t, []snowflake.ID{9, 8}, page)
	assert.True(t, info.HasMore)

	next, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(8), next)

	page, info = Trim(rows, 3, func(id snowflake.ID) snowflake.ID { return id })
	assert.Len(t, page, 3)
	assert.False(t, info.HasMore)
}
