package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type CreditRequest struct {
	AccountID   snowflake.ID
	Amount      uint64
	Description string
	ReferenceID *string
}

type DebitRequest struct {
	AccountID   snowflake.ID
	Amount      uint64
	Description string
	ReferenceID *string
}

type AdjustRequest struct {
	AccountID    snowflake.ID
	SignedAmount int64
	Description  string
	ReferenceID  *string
}

// Result is the post-commit balance and the entry that produced it.
type Result struct {
	Balance     int64       `json:"balance"`
	Transaction Transaction `json:"transaction"`
}

type ListTransactionsRequest struct {
	AccountID snowflake.ID
	Kind      TransactionKind
	PageSize  int
	PageToken string
}

type ListTransactionsResponse struct {
	Transactions  []Transaction `json:"transactions"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

type Service interface {
	OpenAccount(ctx context.Context, accountID snowflake.ID) (Account, error)
	Credit(ctx context.Context, req CreditRequest) (Result, error)
	CreditIfNotExists(ctx context.Context, req CreditRequest) (Result, bool, error)
	Debit(ctx context.Context, req DebitRequest) (Result, error)
	Adjust(ctx context.Context, req AdjustRequest) (Result, error)
	Balance(ctx context.Context, accountID snowflake.ID) (int64, error)
	ListTransactions(ctx context.Context, req ListTransactionsRequest) (ListTransactionsResponse, error)
}
