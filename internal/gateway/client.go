package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	gatewayconfigdomain "github.com/smallbiznis/tokenmeter/internal/gatewayconfig/domain"
	"github.com/smallbiznis/tokenmeter/internal/observability/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	HeaderRequestID = "X-Request-ID"

	maxErrorBody = 64 << 10
	hooksPrefix  = "/hooks/"
)

// Request is one upstream POST. Timeout bounds the whole exchange,
// including reading a streamed body.
type Request struct {
	Path      string
	Body      []byte
	Stream    bool
	Timeout   time.Duration
	RequestID string
}

// Response is a fully buffered upstream reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StreamResponse hands the caller the live upstream body. Closing Body
// cancels the upstream request.
type StreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

type Client interface {
	Do(ctx context.Context, cfg gatewayconfigdomain.GatewayConfig, req Request) (*Response, error)
	Stream(ctx context.Context, cfg gatewayconfigdomain.GatewayConfig, req Request) (*StreamResponse, error)
}

type Params struct {
	fx.In

	Log        *zap.Logger
	HTTPClient *http.Client `optional:"true"`
}

type client struct {
	http   *http.Client
	log    *zap.Logger
	tracer trace.Tracer
}

func New(p Params) Client {
	httpClient := p.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: newTransport()}
	}
	return &client{
		http:   httpClient,
		log:    p.Log.Named("gateway.client"),
		tracer: otel.Tracer("tokenmeter/gateway"),
	}
}

// newTransport has no overall client timeout; each call sets its own
// deadline through the request context.
func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

func (c *client) Do(ctx context.Context, cfg gatewayconfigdomain.GatewayConfig, req Request) (*Response, error) {
	callCtx, cancel := withTimeout(ctx, req.Timeout)
	defer cancel()

	callCtx, span := c.startSpan(callCtx, req)
	defer span.End()

	resp, err := c.send(callCtx, cfg, req)
	if err != nil {
		err = classify(ctx, callCtx, err)
		recordSpanError(span, err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = classify(ctx, callCtx, err)
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

func (c *client) Stream(ctx context.Context, cfg gatewayconfigdomain.GatewayConfig, req Request) (*StreamResponse, error) {
	callCtx, cancel := withTimeout(ctx, req.Timeout)
	callCtx, span := c.startSpan(callCtx, req)

	resp, err := c.send(callCtx, cfg, req)
	if err != nil {
		err = classify(ctx, callCtx, err)
		recordSpanError(span, err)
		span.End()
		cancel()
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	return &StreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body: &streamBody{
			body:    resp.Body,
			parent:  ctx,
			callCtx: callCtx,
			cancel:  cancel,
			span:    span,
		},
	}, nil
}

// send performs the request and converts non-2xx replies into
// *UpstreamError. On success the caller owns resp.Body.
func (c *client) send(ctx context.Context, cfg gatewayconfigdomain.GatewayConfig, req Request) (*http.Response, error) {
	url := strings.TrimRight(cfg.BaseURL, "/") + req.Path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, &UpstreamError{Message: "invalid gateway url"}
	}

	token := cfg.BearerToken
	if strings.HasPrefix(req.Path, hooksPrefix) {
		token = cfg.HooksToken()
	}
	requestID := strings.TrimSpace(req.RequestID)
	if requestID == "" {
		requestID = ulid.Make().String()
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set(HeaderRequestID, requestID)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", "application/json")
	}
	tracing.InjectContext(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		message := strings.TrimSpace(string(text))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		c.log.Warn("upstream returned error status",
			zap.String("path", req.Path),
			zap.Int("status_code", resp.StatusCode),
			zap.String("request_id", requestID),
		)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: message}
	}
	return resp, nil
}

func (c *client) startSpan(ctx context.Context, req Request) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "gateway "+req.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(tracing.SafeAttributes(
			attribute.String("http.method", http.MethodPost),
			attribute.String("gateway.path", req.Path),
			attribute.Bool("gateway.stream", req.Stream),
		)...),
	)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// classify maps transport failures onto the gateway error taxonomy.
// parent is the caller's context; callCtx additionally carries the
// per-call deadline.
func classify(parent, callCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return err
	}
	switch {
	case errors.Is(parent.Err(), context.DeadlineExceeded):
		return ErrUpstreamTimeout
	case parent.Err() != nil:
		return &UpstreamError{Message: "request cancelled"}
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return ErrUpstreamTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrUpstreamTimeout
	}
	return &UpstreamError{Message: tracing.SafeError(err).Error()}
}

func recordSpanError(span trace.Span, err error) {
	safe := tracing.SafeError(err)
	span.RecordError(safe)
	span.SetStatus(codes.Error, safe.Error())
}

type streamBody struct {
	body    io.ReadCloser
	parent  context.Context
	callCtx context.Context
	cancel  context.CancelFunc
	span    trace.Span
	closed  bool
}

func (b *streamBody) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = classify(b.parent, b.callCtx, err)
		recordSpanError(b.span, err)
	}
	return n, err
}

func (b *streamBody) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	err := b.body.Close()
	b.cancel()
	b.span.End()
	return err
}
