package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

var ErrInvalidCursor = errors.New("invalid_cursor")

// Cursor marks the last row of the previous page. Rows are ordered by id
// descending, so the next page holds ids strictly below it.
type Cursor struct {
	ID string `json:"id"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}

// Size clamps a requested page size into [1, MaxPageSize].
func Size(requested int) int {
	switch {
	case requested <= 0:
		return DefaultPageSize
	case requested > MaxPageSize:
		return MaxPageSize
	default:
		return requested
	}
}

func EncodeCursor(id snowflake.ID) string {
	b, _ := json.Marshal(Cursor{ID: id.String()})
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor returns 0 for an empty token.
func DecodeCursor(token string) (snowflake.ID, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, ErrInvalidCursor
	}
	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return 0, ErrInvalidCursor
	}
	id, err := snowflake.ParseString(cursor.ID)
	if err != nil || id <= 0 {
		return 0, ErrInvalidCursor
	}
	return id, nil
}

// Trim cuts a limit+1 result set down to limit rows and reports the next
// cursor when the extra row was present.
func Trim[T any](rows []T, limit int, idOf func(T) snowflake.ID) ([]T, PageInfo) {
	if len(rows) <= limit {
		return rows, PageInfo{}
	}
	rows = rows[:limit]
	return rows, PageInfo{
		NextPageToken: EncodeCursor(idOf(rows[len(rows)-1])),
		HasMore:       true,
	}
}
