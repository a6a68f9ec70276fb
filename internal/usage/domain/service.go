package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type RecordRequest struct {
	// ID is optional. Callers that reserve funds before the call
	// pre-allocate it so the debit can reference the record.
	ID           snowflake.ID   `json:"-"`
	AccountID    snowflake.ID   `json:"-"`
	RequestType  RequestType    `json:"request_type"`
	RequestID    *string        `json:"request_id"`
	Model        *string        `json:"model"`
	InputTokens  int64          `json:"input_tokens"`
	OutputTokens int64          `json:"output_tokens"`
	TotalTokens  *int64         `json:"total_tokens"`
	CostTokens   *int64         `json:"cost_tokens"`
	Metadata     map[string]any `json:"metadata"`
}

type ListRequest struct {
	AccountID   snowflake.ID
	RequestType RequestType
	PageSize    int
	PageToken   string
}

type ListResponse struct {
	UsageRecords  []UsageRecord `json:"usage_records"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

type Service interface {
	Record(context.Context, RecordRequest) (*UsageRecord, error)
	List(context.Context, ListRequest) (ListResponse, error)
}

var (
	ErrInvalidAccount     = errors.New("invalid_account")
	ErrInvalidRequestType = errors.New("invalid_request_type")
	ErrInvalidTokens      = errors.New("invalid_tokens")
	ErrInvalidPageToken   = errors.New("invalid_page_token")
	ErrDuplicateRecord    = errors.New("duplicate_usage_record")
)

// Totals applies the defaults: total is input+output unless given, and cost
// is total unless given.
func (r RecordRequest) Totals() (total int64, cost int64, err error) {
	if r.InputTokens < 0 || r.OutputTokens < 0 {
		return 0, 0, ErrInvalidTokens
	}
	total = r.InputTokens + r.OutputTokens
	if r.TotalTokens != nil {
		total = *r.TotalTokens
	}
	cost = total
	if r.CostTokens != nil {
		cost = *r.CostTokens
	}
	if total < 0 || cost < 0 {
		return 0, 0, ErrInvalidTokens
	}
	return total, cost, nil
}
