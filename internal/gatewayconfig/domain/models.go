package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

// GatewayConfig is the per-account upstream endpoint and credentials.
// It is owned by the provisioning side and read-only here.
type GatewayConfig struct {
	AccountID        snowflake.ID `gorm:"primaryKey;column:account_id"`
	BaseURL          string       `gorm:"column:base_url;type:text;not null"`
	BearerToken      string       `gorm:"column:bearer_token;type:text;not null"`
	HooksBearerToken *string      `gorm:"column:hooks_bearer_token;type:text"`
	UpdatedAt        time.Time    `gorm:"not null"`
}

func (GatewayConfig) TableName() string { return "gateway_configs" }

// HooksToken returns the credential for /hooks/* paths, falling back to
// the general bearer token.
func (c GatewayConfig) HooksToken() string {
	if c.HooksBearerToken != nil && strings.TrimSpace(*c.HooksBearerToken) != "" {
		return strings.TrimSpace(*c.HooksBearerToken)
	}
	return c.BearerToken
}

type Repository interface {
	Get(ctx context.Context, accountID snowflake.ID) (*GatewayConfig, error)
}

// ErrNotConfigured means the account has no gateway. Callers must not retry.
var ErrNotConfigured = errors.New("gateway_not_configured")
