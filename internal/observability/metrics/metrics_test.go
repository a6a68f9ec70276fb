package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsAccountLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("account_id", "123"),
		attribute.String("operation", "responses"),
		attribute.String("outcome", "completed"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "account_id" {
			t.Fatalf("account_id must be filtered")
		}
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.RecordLedgerMutation(context.Background(), "debit", 10)
	m.RecordProxyCall(context.Background(), "wake", "failed")
	m.RecordUsage(context.Background(), "api")
	m.RecordDeposit(context.Background(), true)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "tokenmeter"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordLedgerMutation(context.Background(), "credit", 500)
}

func TestLedgerMutationCountsTokens(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := New(Config{}, provider)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	ctx := context.Background()
	m.RecordLedgerMutation(ctx, "debit", 120)
	m.RecordLedgerMutation(ctx, "debit", 30)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, md := range scope.Metrics {
			if md.Name != "tokenmeter_ledger_tokens_total" {
				continue
			}
			for _, dp := range md.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
		}
	}
	if total != 150 {
		t.Fatalf("expected 150 tokens, got %d", total)
	}
}
