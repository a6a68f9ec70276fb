package server

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/tokenmeter/internal/ledger/domain"
)

func parsePageSize(value string) (int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil || parsed < 0 {
		return 0, ErrInvalidRequest
	}
	return parsed, nil
}

func parseSnowflakeID(value string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return 0, ledgerdomain.ErrInvalidAccount
	}
	return parsed, nil
}
