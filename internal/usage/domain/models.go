// Package domain contains the persistence model for per-call token usage.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// RequestType classifies the origin of a usage record.
type RequestType string

const (
	RequestTypeChat    RequestType = "chat"
	RequestTypeCronjob RequestType = "cronjob"
	RequestTypeAPI     RequestType = "api"
)

func (t RequestType) Valid() bool {
	switch t {
	case RequestTypeChat, RequestTypeCronjob, RequestTypeAPI:
		return true
	}
	return false
}

// UsageRecord is an append-only account of tokens consumed by one call.
// The ledger debit that paid for it carries this record's id as its
// reference.
type UsageRecord struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	AccountID    snowflake.ID      `gorm:"not null;index" json:"account_id"`
	RequestType  RequestType       `gorm:"type:text;not null" json:"request_type"`
	RequestID    *string           `gorm:"type:text" json:"request_id,omitempty"`
	Model        *string           `gorm:"type:text" json:"model,omitempty"`
	InputTokens  int64             `gorm:"not null" json:"input_tokens"`
	OutputTokens int64             `gorm:"not null" json:"output_tokens"`
	TotalTokens  int64             `gorm:"not null" json:"total_tokens"`
	CostTokens   int64             `gorm:"not null" json:"cost_tokens"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt    time.Time         `gorm:"not null" json:"created_at"`
}

func (UsageRecord) TableName() string { return "usage_records" }
