package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAccount   = errors.New("invalid_account")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidReference = errors.New("invalid_reference")
	ErrInvalidKind      = errors.New("invalid_kind")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrAccountNotFound  = errors.New("account_not_found")
	ErrBalanceOverflow  = errors.New("balance_overflow")
)

// InsufficientBalanceError is returned by Debit when the locked balance
// cannot cover the requested amount.
type InsufficientBalanceError struct {
	Current  int64
	Required uint64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: current %d, required %d", e.Current, e.Required)
}

// AsInsufficientBalance unwraps err into an InsufficientBalanceError.
func AsInsufficientBalance(err error) (*InsufficientBalanceError, bool) {
	var target *InsufficientBalanceError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func IsInsufficientBalance(err error) bool {
	_, ok := AsInsufficientBalance(err)
	return ok
}
