package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/tokenmeter/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const HeaderRequestID = "X-Request-Id"

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (string, string)
}

type requestLog struct {
	route     string
	status    int
	errorType string
	fields    []zap.Field
}

// GinMiddleware assigns a request id and writes one http_request line per request.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header(HeaderRequestID, requestID)
		c.Request = c.Request.WithContext(obscontext.WithRequestID(c.Request.Context(), requestID))

		c.Next()

		entry := collect(c, cfg, time.Since(start))
		if log := FromContext(c.Request.Context()); log != nil {
			if ce := log.Check(entry.level(), "http_request"); ce != nil {
				ce.Write(entry.fields...)
			}
		}
	}
}

func collect(c *gin.Context, cfg MiddlewareConfig, elapsed time.Duration) requestLog {
	entry := requestLog{route: c.FullPath(), status: c.Writer.Status()}
	if entry.route == "" {
		entry.route = "unknown"
	}
	entry.fields = []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("route", entry.route),
		zap.Int("status", entry.status),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
		zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
		zap.Int64("bytes_out", max(int64(c.Writer.Size()), 0)),
	}
	if op := c.GetString("proxy_operation"); op != "" {
		entry.fields = append(entry.fields, zap.String("operation", op))
	}
	if role := c.GetString("role"); role != "" {
		entry.fields = append(entry.fields, zap.String("role", role))
	}

	lastErr := c.Errors.Last()
	if lastErr == nil {
		return entry
	}
	var code string
	if cfg.ErrorClassifier != nil {
		entry.errorType, code = cfg.ErrorClassifier(lastErr.Err)
	}
	entry.fields = append(entry.fields, zap.String("error_type", entry.errorType), zap.String("error_code", code))
	if cfg.Debug {
		entry.fields = append(entry.fields, zap.String("error", lastErr.Err.Error()))
	}
	return entry
}

// level keeps health checks and rejected input out of the info stream.
func (r requestLog) level() zapcore.Level {
	switch {
	case r.route == "/metrics" || r.route == "/health":
		return zapcore.DebugLevel
	case r.status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case r.errorType == "validation_error":
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}
