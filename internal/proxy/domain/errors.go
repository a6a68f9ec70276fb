package domain

import "errors"

var (
	ErrInvalidOperation = errors.New("invalid_operation")
	ErrInvalidAccount   = errors.New("invalid_account")
	ErrInvalidBody      = errors.New("invalid_body")
	ErrInvalidText      = errors.New("invalid_text")
	ErrInvalidMessage   = errors.New("invalid_message")
	ErrInvalidHookName  = errors.New("invalid_hook_name")
	ErrInvalidInput     = errors.New("invalid_input")
	ErrInvalidTool      = errors.New("invalid_tool")
	ErrInvalidMessages  = errors.New("invalid_messages")
	ErrInvalidTimeout   = errors.New("invalid_timeout")
	ErrRequestTooLarge  = errors.New("request_too_large")
)

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidOperation,
		ErrInvalidAccount,
		ErrInvalidBody,
		ErrInvalidText,
		ErrInvalidMessage,
		ErrInvalidHookName,
		ErrInvalidInput,
		ErrInvalidTool,
		ErrInvalidMessages,
		ErrInvalidTimeout,
		ErrRequestTooLarge,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
