package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// TransactionKind is the ledger mutation type.
type TransactionKind string

const (
	TransactionKindCredit     TransactionKind = "credit"
	TransactionKindDebit      TransactionKind = "debit"
	TransactionKindAdjustment TransactionKind = "adjustment"
)

// Account holds the authoritative token balance for one user.
type Account struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Balance   int64        `gorm:"not null;default:0" json:"balance"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

// Transaction is an immutable ledger entry. Amount is the magnitude;
// SignedAmount is the effect the entry had on the balance.
type Transaction struct {
	ID           snowflake.ID    `gorm:"primaryKey" json:"id"`
	AccountID    snowflake.ID    `gorm:"not null;index" json:"account_id"`
	Kind         TransactionKind `gorm:"type:text;not null" json:"kind"`
	Amount       uint64          `gorm:"not null" json:"amount"`
	SignedAmount int64           `gorm:"not null" json:"signed_amount"`
	BalanceAfter int64           `gorm:"not null" json:"balance_after"`
	Description  string          `gorm:"type:text;not null" json:"description"`
	ReferenceID  *string         `gorm:"type:text" json:"reference_id,omitempty"`
	CreatedAt    time.Time       `gorm:"not null" json:"created_at"`
}

func (Transaction) TableName() string { return "transactions" }
