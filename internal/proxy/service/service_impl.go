package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenmeter/internal/config"
	"github.com/smallbiznis/tokenmeter/internal/gateway"
	gatewayconfigdomain "github.com/smallbiznis/tokenmeter/internal/gatewayconfig/domain"
	ledgerdomain "github.com/smallbiznis/tokenmeter/internal/ledger/domain"
	"github.com/smallbiznis/tokenmeter/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tokenmeter/internal/observability/metrics"
	proxydomain "github.com/smallbiznis/tokenmeter/internal/proxy/domain"
	"github.com/smallbiznis/tokenmeter/internal/sse"
	usagedomain "github.com/smallbiznis/tokenmeter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
)

type Params struct {
	fx.In

	Log            *zap.Logger
	GenID          *snowflake.Node
	Ledger         ledgerdomain.Service
	Usage          usagedomain.Service
	GatewayConfigs gatewayconfigdomain.Repository
	Gateway        gateway.Client
	Metering       *config.MeteringConfigHolder
	ObsMetrics     *obsmetrics.Metrics     `optional:"true"`
	HTTPMetrics    *obsmetrics.HTTPMetrics `optional:"true"`
}

type Service struct {
	log *zap.Logger

	genID          *snowflake.Node
	ledger         ledgerdomain.Service
	usage          usagedomain.Service
	gatewayConfigs gatewayconfigdomain.Repository
	gateway        gateway.Client
	metering       *config.MeteringConfigHolder
	estimator      *Estimator
	obsMetrics     *obsmetrics.Metrics
	httpMetrics    *obsmetrics.HTTPMetrics
}

func NewService(p Params) proxydomain.Service {
	return &Service{
		log: p.Log.Named("proxy.service"),

		genID:          p.GenID,
		ledger:         p.Ledger,
		usage:          p.Usage,
		gatewayConfigs: p.GatewayConfigs,
		gateway:        p.Gateway,
		metering:       p.Metering,
		estimator:      NewEstimator(p.Metering),
		obsMetrics:     p.ObsMetrics,
		httpMetrics:    p.HTTPMetrics,
	}
}

// flight is the per-call state threaded through Forward.
type flight struct {
	call     proxydomain.Call
	payload  map[string]any
	tracker  *proxydomain.Tracker
	usageID  snowflake.ID
	estimate int64
	started  time.Time
	log      *zap.Logger
}

// Forward validates, reserves the estimate, then calls the gateway. The
// debit always lands before any upstream byte is sent; insufficient funds
// mean the gateway is never contacted.
func (s *Service) Forward(ctx context.Context, call proxydomain.Call, open proxydomain.StreamOpener) (*proxydomain.Result, error) {
	if call.AccountID == 0 {
		return nil, proxydomain.ErrInvalidAccount
	}
	if call.Operation.Path(call.HookName) == "" {
		return nil, proxydomain.ErrInvalidOperation
	}

	payload, err := decodePayload(call.Body, s.metering.Get().MaxRequestBytes)
	if err != nil {
		return nil, err
	}
	if err := validateCall(call.Operation, call.HookName, payload); err != nil {
		return nil, err
	}
	timeout, err := s.estimator.Timeout(payload)
	if err != nil {
		return nil, err
	}

	f := &flight{
		call:    call,
		payload: payload,
		tracker: proxydomain.NewTracker(),
		started: time.Now(),
		log: logger.WithContext(ctx, s.log).With(
			zap.String("operation", string(call.Operation)),
			zap.String("account_id", call.AccountID.String()),
		),
	}

	cfg, err := s.gatewayConfigs.Get(ctx, call.AccountID)
	if err != nil {
		return nil, s.abort(ctx, f, err)
	}
	s.advance(f, proxydomain.StateConfigResolved)

	f.estimate = s.estimator.Estimate(call.Operation, payload)
	f.usageID = s.genID.Generate()
	ref := f.usageID.String()
	if _, err := s.ledger.Debit(ctx, ledgerdomain.DebitRequest{
		AccountID:   call.AccountID,
		Amount:      uint64(f.estimate),
		Description: "proxy " + string(call.Operation),
		ReferenceID: &ref,
	}); err != nil {
		return nil, s.abort(ctx, f, err)
	}
	s.advance(f, proxydomain.StateFundsReserved)
	s.httpMetrics.AddReserved(string(call.Operation), f.estimate)

	req := gateway.Request{
		Path:      call.Operation.Path(call.HookName),
		Body:      call.Body,
		Stream:    wantsStream(call.Operation, payload) && open != nil,
		Timeout:   timeout,
		RequestID: call.RequestID,
	}
	s.advance(f, proxydomain.StateUpstreamInFlight)

	if req.Stream {
		return s.relay(ctx, f, *cfg, req, open)
	}

	resp, err := s.gateway.Do(ctx, *cfg, req)
	if err != nil {
		return nil, s.abort(ctx, f, err)
	}
	s.advance(f, proxydomain.StateCompleted)

	used, reported := extractUsage(resp.Body)
	charged := s.settle(ctx, f, used, reported, resp.StatusCode)
	return &proxydomain.Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		UsageID:    f.usageID,
		Estimate:   f.estimate,
		Charged:    charged,
	}, nil
}

// relay re-encodes upstream events in arrival order. Once open has been
// called every failure is reported in-band as one error frame.
func (s *Service) relay(
	ctx context.Context,
	f *flight,
	cfg gatewayconfigdomain.GatewayConfig,
	req gateway.Request,
	open proxydomain.StreamOpener,
) (*proxydomain.Result, error) {
	stream, err := s.gateway.Stream(ctx, cfg, req)
	if err != nil {
		return nil, s.abort(ctx, f, err)
	}
	defer stream.Body.Close()

	if !isEventStream(stream.Header.Get("Content-Type")) {
		return s.relayBuffered(ctx, f, stream)
	}

	w := open()
	result := &proxydomain.Result{
		StatusCode: stream.StatusCode,
		Streamed:   true,
		UsageID:    f.usageID,
		Estimate:   f.estimate,
	}

	var (
		used     tokenUsage
		reported bool
		op       = string(f.call.Operation)
	)
	dec := sse.NewDecoder(stream.Body)
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = w.WriteError(clientMessage(err))
			return result, s.abort(ctx, f, err)
		}
		if ev.Done {
			break
		}
		if u, ok := extractUsage([]byte(ev.Data)); ok {
			used, reported = u, true
		}
		if err := w.WriteEvent(ev.Type, ev.Data); err != nil {
			return result, s.abort(ctx, f, &gateway.UpstreamError{Message: fmt.Sprintf("client disconnected: %v", err)})
		}
		s.httpMetrics.IncStreamEvent(op)
	}

	if err := w.WriteDone(); err != nil {
		f.log.Debug("done frame not delivered", zap.Error(err))
	}
	s.advance(f, proxydomain.StateCompleted)
	result.Charged = s.settle(ctx, f, used, reported, stream.StatusCode)
	return result, nil
}

// relayBuffered handles an upstream that answered a stream request with a
// single document. Nothing has been written to the client yet, so the body
// goes back as a plain reply.
func (s *Service) relayBuffered(ctx context.Context, f *flight, stream *gateway.StreamResponse) (*proxydomain.Result, error) {
	body, err := io.ReadAll(stream.Body)
	if err != nil {
		return nil, s.abort(ctx, f, err)
	}
	f.log.Debug("upstream ignored stream request", zap.String("content_type", stream.Header.Get("Content-Type")))
	s.advance(f, proxydomain.StateCompleted)

	used, reported := extractUsage(body)
	charged := s.settle(ctx, f, used, reported, stream.StatusCode)
	return &proxydomain.Result{
		StatusCode: stream.StatusCode,
		Header:     stream.Header,
		Body:       body,
		UsageID:    f.usageID,
		Estimate:   f.estimate,
		Charged:    charged,
	}, nil
}

// isEventStream treats a missing Content-Type as SSE since it was requested.
func isEventStream(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/event-stream"
}

// settle records usage for a completed call and reconciles the estimate
// with what the upstream reported. It returns the tokens finally charged.
func (s *Service) settle(ctx context.Context, f *flight, used tokenUsage, reported bool, status int) int64 {
	ctx = context.WithoutCancel(ctx)
	metadata := s.baseMetadata(f, outcomeCompleted)
	metadata["upstream_status"] = status

	charged := f.estimate
	req := s.usageRequest(f, metadata)
	if !reported {
		metadata["estimated"] = true
	} else {
		req.InputTokens = used.Input
		req.OutputTokens = used.Output
		total := used.Total
		req.TotalTokens = &total
		if used.Model != "" {
			model := used.Model
			req.Model = &model
		}
		charged = s.reconcile(ctx, f, used.Total, metadata)
	}
	req.CostTokens = &charged

	if _, err := s.usage.Record(ctx, req); err != nil {
		f.log.Error("usage record failed", zap.String("usage_id", f.usageID.String()), zap.Error(err))
	}

	elapsed := time.Since(f.started)
	s.obsMetrics.RecordProxyCall(ctx, string(f.call.Operation), outcomeCompleted)
	s.httpMetrics.ObserveUpstream(string(f.call.Operation), outcomeCompleted, elapsed)
	f.log.Info("proxy call completed",
		zap.String("usage_id", f.usageID.String()),
		zap.Int64("estimate_tokens", f.estimate),
		zap.Int64("charged_tokens", charged),
		zap.Bool("usage_reported", reported),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	)
	return charged
}

// reconcile refunds an over-estimate and collects an under-estimate when
// the balance allows. Both entries reference reconcile:<usage id>.
func (s *Service) reconcile(ctx context.Context, f *flight, actual int64, metadata map[string]any) int64 {
	ref := "reconcile:" + f.usageID.String()
	switch {
	case actual < f.estimate:
		refund := f.estimate - actual
		if _, err := s.ledger.Adjust(ctx, ledgerdomain.AdjustRequest{
			AccountID:    f.call.AccountID,
			SignedAmount: refund,
			Description:  "refund unused estimate",
			ReferenceID:  &ref,
		}); err != nil {
			f.log.Error("estimate refund failed", zap.Int64("refund_tokens", refund), zap.Error(err))
			return f.estimate
		}
		metadata["refunded_tokens"] = refund
		return actual
	case actual > f.estimate:
		extra := actual - f.estimate
		_, err := s.ledger.Debit(ctx, ledgerdomain.DebitRequest{
			AccountID:   f.call.AccountID,
			Amount:      uint64(extra),
			Description: "usage above estimate",
			ReferenceID: &ref,
		})
		if err != nil {
			if !ledgerdomain.IsInsufficientBalance(err) {
				f.log.Error("usage surcharge failed", zap.Int64("extra_tokens", extra), zap.Error(err))
			}
			metadata["unbilled_tokens"] = extra
			return f.estimate
		}
		return actual
	}
	return actual
}

// abort moves the call to Failed. A call that already reserved funds keeps
// the charge and gets a zero-token usage row so the failure stays visible.
func (s *Service) abort(ctx context.Context, f *flight, cause error) error {
	inFlight := f.tracker.State() == proxydomain.StateUpstreamInFlight
	s.advance(f, proxydomain.StateFailed)
	op := string(f.call.Operation)

	s.obsMetrics.RecordProxyCall(ctx, op, outcomeFailed)
	if inFlight {
		s.httpMetrics.ObserveUpstream(op, outcomeFailed, time.Since(f.started))
	}

	if f.tracker.Reserved() {
		bg := context.WithoutCancel(ctx)
		metadata := s.baseMetadata(f, outcomeFailed)
		metadata["error"] = failureCode(cause)
		req := s.usageRequest(f, metadata)
		zero := int64(0)
		cost := f.estimate
		req.TotalTokens = &zero
		req.CostTokens = &cost
		if _, err := s.usage.Record(bg, req); err != nil {
			f.log.Error("failed-call usage record failed", zap.String("usage_id", f.usageID.String()), zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.String("error_code", failureCode(cause)),
		zap.Bool("charged", f.tracker.Reserved()),
		zap.Error(cause),
	}
	switch {
	case ledgerdomain.IsInsufficientBalance(cause), errors.Is(cause, gatewayconfigdomain.ErrNotConfigured):
		f.log.Info("proxy call rejected", fields...)
	case errors.Is(cause, gateway.ErrUpstreamUnavailable), errors.Is(cause, gateway.ErrUpstreamTimeout):
		f.log.Warn("proxy call failed", fields...)
	default:
		f.log.Error("proxy call failed", fields...)
	}
	return cause
}

func (s *Service) advance(f *flight, next proxydomain.State) {
	if err := f.tracker.Advance(next); err != nil {
		f.log.DPanic("proxy state machine violated", zap.Error(err))
	}
}

func (s *Service) baseMetadata(f *flight, outcome string) map[string]any {
	metadata := map[string]any{
		"operation":       string(f.call.Operation),
		"estimate_tokens": f.estimate,
		"outcome":         outcome,
	}
	if f.call.Operation == proxydomain.OperationHook {
		metadata["hook"] = f.call.HookName
	}
	return metadata
}

func (s *Service) usageRequest(f *flight, metadata map[string]any) usagedomain.RecordRequest {
	req := usagedomain.RecordRequest{
		ID:          f.usageID,
		AccountID:   f.call.AccountID,
		RequestType: usagedomain.RequestTypeAPI,
		Metadata:    metadata,
	}
	if f.call.Operation == proxydomain.OperationChatCompletions {
		req.RequestType = usagedomain.RequestTypeChat
	}
	if f.call.RequestID != "" {
		requestID := f.call.RequestID
		req.RequestID = &requestID
	}
	if model := stringField(f.payload, "model"); model != "" {
		req.Model = &model
	}
	return req
}

func failureCode(err error) string {
	switch {
	case errors.Is(err, gateway.ErrUpstreamTimeout):
		return "upstream_timeout"
	case errors.Is(err, gateway.ErrUpstreamUnavailable):
		return "upstream_unavailable"
	case ledgerdomain.IsInsufficientBalance(err):
		return "insufficient_balance"
	case errors.Is(err, gatewayconfigdomain.ErrNotConfigured):
		return "gateway_not_configured"
	case errors.Is(err, ledgerdomain.ErrAccountNotFound):
		return "account_not_found"
	}
	return "internal_error"
}

func clientMessage(err error) string {
	var upstreamErr *gateway.UpstreamError
	switch {
	case errors.Is(err, gateway.ErrUpstreamTimeout):
		return "upstream timeout"
	case errors.As(err, &upstreamErr):
		return upstreamErr.Message
	}
	return "upstream stream failed"
}
