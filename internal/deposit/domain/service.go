package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/tokenmeter/internal/ledger/domain"
)

const ReferencePrefix = "deposit:"

var (
	ErrInvalidOrderCode  = errors.New("invalid_order_code")
	ErrInvalidTokens     = errors.New("invalid_tokens")
	ErrDepositInProgress = errors.New("deposit_in_progress")
)

// ConfirmRequest is a settled payment, already verified by the caller.
type ConfirmRequest struct {
	AccountID snowflake.ID
	OrderCode string
	Tokens    uint64
}

// ConfirmResult reports the credit for the order. Applied is false when the
// order had been credited before.
type ConfirmResult struct {
	Balance     int64                    `json:"balance"`
	Transaction ledgerdomain.Transaction `json:"transaction"`
	Applied     bool                     `json:"applied"`
}

type Service interface {
	Confirm(ctx context.Context, req ConfirmRequest) (ConfirmResult, error)
}
