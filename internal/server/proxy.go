package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/tokenmeter/internal/observability/context"
	proxydomain "github.com/smallbiznis/tokenmeter/internal/proxy/domain"
	"github.com/smallbiznis/tokenmeter/internal/sse"
)

const (
	headerUsageID      = "X-Usage-Id"
	headerTokensCharge = "X-Tokens-Charged"
)

// Forward meters one gateway operation for the authenticated account.
func (s *Server) Forward(op proxydomain.Operation) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("proxy_operation", string(op))

		principal, ok := principalFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		body, err := readBody(c, s.metering.Get().MaxRequestBytes)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		call := proxydomain.Call{
			AccountID: principal.AccountID,
			Operation: op,
			HookName:  c.Param("name"),
			Body:      body,
			RequestID: obscontext.RequestIDFromContext(c.Request.Context()),
		}

		open := func() *sse.Writer {
			sse.SetHeaders(c.Writer.Header())
			c.Status(http.StatusOK)
			c.Writer.WriteHeaderNow()
			return sse.NewWriter(c.Writer)
		}

		result, err := s.proxySvc.Forward(c.Request.Context(), call, open)
		if err != nil {
			if result != nil && result.Streamed {
				// already reported in-band; keep it for the request log
				_ = c.Error(err)
				return
			}
			AbortWithError(c, err)
			return
		}
		if result.Streamed {
			return
		}

		contentType := result.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/json"
		}
		c.Header(headerUsageID, result.UsageID.String())
		c.Header(headerTokensCharge, strconv.FormatInt(result.Charged, 10))
		c.Data(result.StatusCode, contentType, result.Body)
	}
}

func readBody(c *gin.Context, limit int64) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, proxydomain.ErrInvalidBody
	}
	reader := http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	body, err := io.ReadAll(reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, proxydomain.ErrRequestTooLarge
		}
		return nil, proxydomain.ErrInvalidBody
	}
	return body, nil
}
