package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/tokenmeter/internal/apikey/domain"
	"github.com/smallbiznis/tokenmeter/internal/authorization"
	depositdomain "github.com/smallbiznis/tokenmeter/internal/deposit/domain"
	"github.com/smallbiznis/tokenmeter/internal/gateway"
	gatewayconfigdomain "github.com/smallbiznis/tokenmeter/internal/gatewayconfig/domain"
	ledgerdomain "github.com/smallbiznis/tokenmeter/internal/ledger/domain"
	obslogger "github.com/smallbiznis/tokenmeter/internal/observability/logger"
	proxydomain "github.com/smallbiznis/tokenmeter/internal/proxy/domain"
	usagedomain "github.com/smallbiznis/tokenmeter/internal/usage/domain"
	"go.uber.org/zap"
)

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

// errorResponse is the body of every failed request. Details carries
// fault-specific keys (current/required, field) flattened into the object.
type errorResponse struct {
	Status  int
	Message string
	Code    string
	Details gin.H
}

func (e errorResponse) body() gin.H {
	out := gin.H{
		"ok":    false,
		"error": e.Message,
		"code":  e.Code,
	}
	for k, v := range e.Details {
		out[k] = v
	}
	return out
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		res := mapError(lastErr.Err)
		if res.Status == http.StatusInternalServerError {
			obslogger.FromContext(c.Request.Context()).Error("request failed",
				zap.String("code", res.Code),
				zap.Error(lastErr.Err),
			)
		}
		c.AbortWithStatusJSON(res.Status, res.body())
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) errorResponse {
	if err == nil {
		return errorResponse{Status: http.StatusInternalServerError, Message: "internal server error", Code: "internal_error"}
	}

	if insufficient, ok := ledgerdomain.AsInsufficientBalance(err); ok {
		return errorResponse{
			Status:  http.StatusPaymentRequired,
			Message: "insufficient balance",
			Code:    "insufficient_balance",
			Details: gin.H{"current": insufficient.Current, "required": insufficient.Required},
		}
	}

	var upstreamErr *gateway.UpstreamError
	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, apikeydomain.ErrUnauthenticated):
		return errorResponse{Status: http.StatusUnauthorized, Message: "unauthorized", Code: "unauthorized"}
	case errors.Is(err, ErrForbidden), errors.Is(err, authorization.ErrForbidden):
		return errorResponse{Status: http.StatusForbidden, Message: "forbidden", Code: "forbidden"}
	case errors.Is(err, proxydomain.ErrRequestTooLarge):
		return errorResponse{Status: http.StatusRequestEntityTooLarge, Message: "request body too large", Code: "request_too_large"}
	case isValidationError(err):
		code := validationErrorCode(err)
		return errorResponse{
			Status:  http.StatusBadRequest,
			Message: "validation error",
			Code:    code,
			Details: gin.H{"field": validationErrorField(code)},
		}
	case errors.Is(err, depositdomain.ErrDepositInProgress):
		return errorResponse{Status: http.StatusConflict, Message: "deposit is being processed", Code: "deposit_in_progress"}
	case errors.Is(err, ErrNotFound):
		return errorResponse{Status: http.StatusNotFound, Message: "not found", Code: "not_found"}
	case errors.Is(err, gatewayconfigdomain.ErrNotConfigured):
		return errorResponse{Status: http.StatusServiceUnavailable, Message: "gateway not configured", Code: "gateway_not_configured"}
	case errors.Is(err, gateway.ErrUpstreamTimeout):
		return errorResponse{Status: http.StatusGatewayTimeout, Message: "upstream timeout", Code: "upstream_timeout"}
	case errors.As(err, &upstreamErr):
		res := errorResponse{Status: http.StatusServiceUnavailable, Message: upstreamErr.Message, Code: "upstream_unavailable"}
		if upstreamErr.StatusCode != 0 {
			res.Details = gin.H{"upstream_status": upstreamErr.StatusCode}
		}
		if strings.TrimSpace(res.Message) == "" {
			res.Message = "upstream unavailable"
		}
		return res
	case errors.Is(err, gateway.ErrUpstreamUnavailable):
		return errorResponse{Status: http.StatusServiceUnavailable, Message: "upstream unavailable", Code: "upstream_unavailable"}
	case errors.Is(err, ledgerdomain.ErrAccountNotFound):
		return errorResponse{Status: http.StatusInternalServerError, Message: "account not found", Code: "account_not_found"}
	}
	return errorResponse{Status: http.StatusInternalServerError, Message: "internal server error", Code: "internal_error"}
}

func isValidationError(err error) bool {
	if proxydomain.IsValidation(err) {
		return true
	}
	for _, target := range []error{
		ErrInvalidRequest,
		ledgerdomain.ErrInvalidAccount,
		ledgerdomain.ErrInvalidAmount,
		ledgerdomain.ErrInvalidReference,
		ledgerdomain.ErrInvalidKind,
		ledgerdomain.ErrInvalidPageToken,
		ledgerdomain.ErrBalanceOverflow,
		usagedomain.ErrInvalidAccount,
		usagedomain.ErrInvalidRequestType,
		usagedomain.ErrInvalidTokens,
		usagedomain.ErrInvalidPageToken,
		usagedomain.ErrDuplicateRecord,
		depositdomain.ErrInvalidOrderCode,
		depositdomain.ErrInvalidTokens,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// validationErrorCode finds the sentinel code inside a wrapped error.
func validationErrorCode(err error) string {
	for e := err; e != nil; e = errors.Unwrap(e) {
		msg := e.Error()
		if strings.HasPrefix(msg, "invalid_") || msg == "duplicate_usage_record" || msg == "balance_overflow" {
			return msg
		}
	}
	return "invalid_request"
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	return strings.TrimPrefix(code, "invalid_")
}

// classifyErrorForLog feeds the request logger's error_type/error_code.
func classifyErrorForLog(err error) (string, string) {
	res := mapError(err)
	switch {
	case res.Status == http.StatusBadRequest || res.Status == http.StatusRequestEntityTooLarge:
		return "validation_error", res.Code
	case res.Status == http.StatusUnauthorized || res.Status == http.StatusForbidden:
		return "auth_error", res.Code
	case res.Status == http.StatusPaymentRequired:
		return "billing_error", res.Code
	case res.Status == http.StatusServiceUnavailable || res.Status == http.StatusGatewayTimeout:
		return "upstream_error", res.Code
	case res.Status >= http.StatusInternalServerError:
		return "internal_error", res.Code
	}
	return "client_error", res.Code
}
