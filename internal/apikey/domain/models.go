package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/lib/pq"
)

// Role is the casbin subject an API key authenticates as.
type Role string

const (
	RoleAccount Role = "account"
	RoleAdmin   Role = "admin"
)

// APIKey stores hashed credentials bound to one ledger account. Keys are
// issued elsewhere; this service only reads them.
type APIKey struct {
	ID        snowflake.ID   `gorm:"primaryKey"`
	AccountID snowflake.ID   `gorm:"column:account_id;not null"`
	KeyHash   string         `gorm:"column:key_hash;type:text;not null;uniqueIndex"`
	Role      Role           `gorm:"type:text;not null;default:account"`
	Scopes    pq.StringArray `gorm:"type:text[];not null"`
	IsActive  bool           `gorm:"column:is_active;not null;default:true"`
	ExpiresAt *time.Time     `gorm:"column:expires_at"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (APIKey) TableName() string { return "api_keys" }

// Principal is the authenticated caller derived from an API key.
type Principal struct {
	KeyID     snowflake.ID
	AccountID snowflake.ID
	Role      Role
	Scopes    []string
}
