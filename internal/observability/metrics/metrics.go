package metrics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes the OTel instruments for ledger and proxy activity.
type Metrics struct {
	ledgerMutations metric.Int64Counter
	ledgerTokens    metric.Int64Counter
	proxyCalls      metric.Int64Counter
	usageRecords    metric.Int64Counter
	deposits        metric.Int64Counter
}

func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

type counterDef struct {
	target      *metric.Int64Counter
	name        string
	description string
	unit        string
}

func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "tokenmeter"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	defs := []counterDef{
		{&m.ledgerMutations, "tokenmeter_ledger_mutations_total", "Committed ledger transactions.", "{transaction}"},
		{&m.ledgerTokens, "tokenmeter_ledger_tokens_total", "Tokens moved by committed ledger transactions.", "{token}"},
		{&m.proxyCalls, "tokenmeter_proxy_calls_total", "Metered gateway calls by outcome.", "{call}"},
		{&m.usageRecords, "tokenmeter_usage_records_total", "Usage records written.", "{record}"},
		{&m.deposits, "tokenmeter_deposits_total", "Deposit confirmations received.", "{deposit}"},
	}
	for _, def := range defs {
		counter, err := meter.Int64Counter(def.name,
			metric.WithDescription(def.description),
			metric.WithUnit(def.unit),
		)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", def.name, err)
		}
		*def.target = counter
	}
	return m, nil
}

// RecordLedgerMutation counts a committed ledger transaction and its magnitude.
func (m *Metrics) RecordLedgerMutation(ctx context.Context, kind string, amount uint64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))...)
	m.ledgerMutations.Add(ctx, 1, attrs)
	m.ledgerTokens.Add(ctx, int64(amount), attrs)
}

// RecordProxyCall counts a proxied call by its terminal outcome.
func (m *Metrics) RecordProxyCall(ctx context.Context, operation, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.proxyCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordUsage(ctx context.Context, requestType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("request_type", strings.TrimSpace(requestType)))
	m.usageRecords.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordDeposit(ctx context.Context, applied bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("applied", strconv.FormatBool(applied)))
	m.deposits.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// account_id must never be a label.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"kind":         {},
	"operation":    {},
	"outcome":      {},
	"request_type": {},
	"applied":      {},
	"status_code":  {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
