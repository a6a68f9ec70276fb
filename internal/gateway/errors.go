package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrUpstreamUnavailable = errors.New("upstream_unavailable")
	ErrUpstreamTimeout     = errors.New("upstream_timeout")
)

// UpstreamError carries the upstream status and error text. StatusCode is
// zero when the gateway could not be reached at all.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("upstream unavailable: %s", e.Message)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Message)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstreamUnavailable }
