package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenmeter/internal/config"
	"github.com/smallbiznis/tokenmeter/internal/dbtest"
	"github.com/smallbiznis/tokenmeter/internal/gateway"
	gatewayconfigdomain "github.com/smallbiznis/tokenmeter/internal/gatewayconfig/domain"
	gatewayconfigrepo "github.com/smallbiznis/tokenmeter/internal/gatewayconfig/repository"
	ledgerdomain "github.com/smallbiznis/tokenmeter/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/tokenmeter/internal/ledger/service"
	proxydomain "github.com/smallbiznis/tokenmeter/internal/proxy/domain"
	"github.com/smallbiznis/tokenmeter/internal/sse"
	usagedomain "github.com/smallbiznis/tokenmeter/internal/usage/domain"
	usageservice "github.com/smallbiznis/tokenmeter/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type harness struct {
	db        *gorm.DB
	ledger    ledgerdomain.Service
	proxy     proxydomain.Service
	accountID snowflake.ID
	upstream  *httptest.Server
	hits      *atomic.Int64
}

func TestForwardHappyPathDebitsEstimateOnce(t *testing.T) {
	h := newHarness(t, 1_000_000, true, jsonUpstream(`{"ok":true,"runId":"run_1"}`))

	result, err := h.proxy.Forward(context.Background(), proxydomain.Call{
		AccountID: h.accountID,
		Operation: proxydomain.OperationAgent,
		Body:      []byte(`{"message":"summarise my inbox"}`),
		RequestID: "req-happy",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.JSONEq(t, `{"ok":true,"runId":"run_1"}`, string(result.Body))
	assert.Equal(t, int64(500), result.Estimate)
	assert.Equal(t, int64(500), result.Charged)
	assert.Equal(t, int64(1), h.hits.Load())

	assert.Equal(t, int64(999_500), h.balance(t))
	debits := h.transactions(t, ledgerdomain.TransactionKindDebit)
	require.Len(t, debits, 1)
	assert.Equal(t, uint64(500), debits[0].Amount)
	require.NotNil(t, debits[0].ReferenceID)
	assert.Equal(t, result.UsageID.String(), *debits[0].ReferenceID)

	record := h.usage(t, result.UsageID)
	assert.Equal(t, usagedomain.RequestTypeAPI, record.RequestType)
	assert.Equal(t, int64(500), record.CostTokens)
	assert.Equal(t, true, record.Metadata["estimated"])
	require.NotNil(t, record.RequestID)
	assert.Equal(t, "req-happy", *record.RequestID)
}

func TestForwardInsufficientBalanceNeverCallsUpstream(t *testing.T) {
	h := newHarness(t, 100, true, jsonUpstream(`{"ok":true}`))

	_, err := h.proxy.Forward(context.Background(), proxydomain.Call{
		AccountID: h.accountID,
		Operation: proxydomain.OperationAgent,
		Body:      []byte(`{"message":"hello"}`),
	}, nil)
	require.Error(t, err)

	var insufficient *ledgerdomain.InsufficientBalanceError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, int64(100), insufficient.Current)
	assert.Equal(t, uint64(500), insufficient.Required)

	assert.Zero(t, h.hits.Load())
	assert.Equal(t, int64(100), h.balance(t))
	assert.Empty(t, h.transactions(t, ledgerdomain.TransactionKindDebit))
	assert.Zero(t, h.usageCount(t))
}

func TestForwardWithoutGatewayConfig(t *testing.T) {
	h := newHarness(t, 1000, false, jsonUpstream(`{}`))

	_, err := h.proxy.Forward(context.Background(), proxydomain.Call{
		AccountID: h.accountID,
		Operation: proxydomain.OperationWake,
		Body:      []byte(`{"text":"ping"}`),
	}, nil)
	assert.ErrorIs(t, err, gatewayconfigdomain.ErrNotConfigured)
	assert.Zero(t, h.hits.Load())
	assert.Equal(t, int64(1000), h.balance(t))
}

func TestForwardValidationRunsBeforeLedger(t *testing.T) {
	h := newHarness(t, 1000, true, jsonUpstream(`{}`))

	cases := []struct {
		name string
		call proxydomain.Call
		want error
	}{
		{"wake without text", proxydomain.Call{Operation: proxydomain.OperationWake, Body: []byte(`{"text":"  "}`)}, proxydomain.ErrInvalidText},
		{"agent without message", proxydomain.Call{Operation: proxydomain.OperationAgent, Body: []byte(`{}`)}, proxydomain.ErrInvalidMessage},
		{"hook with bad name", proxydomain.Call{Operation: proxydomain.OperationHook, HookName: "Not A Slug", Body: []byte(`{}`)}, proxydomain.ErrInvalidHookName},
		{"responses without input", proxydomain.Call{Operation: proxydomain.OperationResponses, Body: []byte(`{"input":[]}`)}, proxydomain.ErrInvalidInput},
		{"tools without tool", proxydomain.Call{Operation: proxydomain.OperationToolsInvoke, Body: []byte(`{"args":{}}`)}, proxydomain.ErrInvalidTool},
		{"chat without messages", proxydomain.Call{Operation: proxydomain.OperationChatCompletions, Body: []byte(`{"messages":[]}`)}, proxydomain.ErrInvalidMessages},
		{"malformed body", proxydomain.Call{Operation: proxydomain.OperationWake, Body: []byte(`{"text":`)}, proxydomain.ErrInvalidBody},
		{"negative timeout", proxydomain.Call{Operation: proxydomain.OperationWake, Body: []byte(`{"text":"x","timeoutSeconds":-1}`)}, proxydomain.ErrInvalidTimeout},
		{"unknown operation", proxydomain.Call{Operation: "reboot", Body: []byte(`{}`)}, proxydomain.ErrInvalidOperation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.call.AccountID = h.accountID
			_, err := h.proxy.Forward(context.Background(), tc.call, nil)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, proxydomain.IsValidation(err))
		})
	}
	assert.Zero(t, h.hits.Load())
	assert.Equal(t, int64(1000), h.balance(t))
}

func TestForwardUpstreamErrorKeepsCharge(t *testing.T) {
	h := newHarness(t, 1000, true, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("tool crashed"))
	})

	_, err := h.proxy.Forward(context.Background(), proxydomain.Call{
		AccountID: h.accountID,
		Operation: proxydomain.OperationToolsInvoke,
		Body:      []byte(`{"tool":"browser"}`),
	}, nil)
	require.ErrorIs(t, err, gateway.ErrUpstreamUnavailable)

	var upstreamErr *gateway.UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, "tool crashed", upstreamErr.Message)

	assert.Equal(t, int64(800), h.balance(t))
	records := h.usageRecords(t)
	require.Len(t, records, 1)
	assert.Equal(t, int64(0), records[0].TotalTokens)
	assert.Equal(t, int64(200), records[0].CostTokens)
	assert.Equal(t, "failed", records[0].Metadata["outcome"])
	assert.Equal(t, "upstream_unavailable", records[0].Metadata["error"])
}

func TestForwardTimeoutFromBody(t *testing.T) {
	h := newHarness(t, 1000, true, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	start := time.Now()
	_, err := h.proxy.Forward(context.Background(), proxydomain.Call{
		AccountID: h.accountID,
		Operation: proxydomain.OperationWake,
		Body:      []byte(`{"text":"ping","timeoutSeconds":0.1}`),
	}, nil)
	assert.ErrorIs(t, err, gateway.ErrUpstreamTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int64(900), h.balance(t))
}

func TestForwardHookUsesNamedPath(t *testing.T) {
	var path atomic.Value
	h := newHarness(t, 1000, true, func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	})

	result, err := h.proxy.Forward(context.Background(), proxydomain.Call{
		AccountID: h.accountID,
		Operation: proxydomain.OperationHook,
		HookName:  "github-push",
		Body:      []byte(`{"ref":"main"}`),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, result.StatusCode)
	assert.Equal(t, "/hooks/github-push", path.Load())
	assert.Equal(t, int64(900), h.balance(t))
}

func TestReconcileRefundsOverEstimate(t *testing.T) {
	h := newHarness(t, 1000, true, jsonUpstream(`{"id":"resp_1","model":"m-1","usage":{"input_tokens":20,"output_tokens":40,"total_tokens":60}}`))

	result, err := h.proxy.Forward(context.Background(), proxydomain.Call{
		AccountID: h.accountID,
		Operation: proxydomain.OperationResponses,
		Body:      []byte(`{"input":"short question"}`),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.Estimate)
	assert.Equal(t, int64(60), result.Charged)
	assert.Equal(t, int64(940), h.balance(t))

	adjustments := h.transactions(t, ledgerdomain.TransactionKindAdjustment)
	require.Len(t, adjustments, 1)
	assert.Equal(t, int64(40), adjustments[0].SignedAmount)
	assert.Equal(t, "reconcile:"+result.UsageID.String(), *adjustments[0].ReferenceID)

	record := h.usage(t, result.UsageID)
	assert.Equal(t, int64(60), record.TotalTokens)
	assert.Equal(t, int64(60), record.CostTokens)
	require.NotNil(t, record.Model)
	assert.Equal(t, "m-1", *record.Model)
}

func TestReconcileCollectsUnderEstimate(t *testing.T) {
	h := newHarness(t, 1000, true, jsonUpstream(`{"usage":{"prompt_tokens":100,"completion_tokens":50}}`))

	result, err := h.proxy.Forward(context.Background(), proxydomain.Call{
		AccountID: h.accountID,
		Operation: proxydomain.OperationChatCompletions,
		Body:      []byte(`{"model":"m-2","messages":[{"role":"user","content":"hi"}]}`),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(150), result.Charged)
	assert.Equal(t, int64(850), h.balance(t))

	record := h.usage(t, result.UsageID)
	assert.Equal(t, usagedomain.RequestTypeChat, record.RequestType)
	assert.Equal(t, int64(100), record.InputTokens)
	assert.Equal(t, int64(50), record.OutputTokens)
	assert.Equal(t, int64(150), record.TotalTokens)
}

func TestReconcileFlagsUnbilledWhenBalanceShort(t *testing.T) {
	h := newHarness(t, 120, true, jsonUpstream(`{"usage":{"total_tokens":400}}`))

	result, err := h.proxy.Forward(context.Background(), proxydomain.Call{
		AccountID: h.accountID,
		Operation: proxydomain.OperationResponses,
		Body:      []byte(`{"input":"x"}`),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.Charged)
	assert.Equal(t, int64(20), h.balance(t))

	record := h.usage(t, result.UsageID)
	assert.Equal(t, float64(300), record.Metadata["unbilled_tokens"])
}

func TestStreamRelaysEventsInOrder(t *testing.T) {
	frames := []string{
		"event: response.created\ndata: {\"id\":\"resp_1\"}\n\n",
		"event: response.output_text.delta\ndata: {\"delta\":\"Hel\"}\n\n",
		"event: response.output_text.delta\ndata: {\"delta\":\"lo\"}\n\n",
		"event: response.completed\ndata: {\"response\":{\"usage\":{\"input_tokens\":30,\"output_tokens\":50}}}\n\n",
		"data: [DONE]\n\n",
	}
	h := newHarness(t, 1000, true, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, frame := range frames {
			for i := 0; i < len(frame); i += 7 {
				end := i + 7
				if end > len(frame) {
					end = len(frame)
				}
				_, _ = io.WriteString(w, frame[i:end])
				w.(http.Flusher).Flush()
			}
		}
	})

	rec := httptest.NewRecorder()
	opened := 0
	result, err := h.proxy.Forward(context.Background(), proxydomain.Call{
		AccountID: h.accountID,
		Operation: proxydomain.OperationResponses,
		Body:      []byte(`{"input":"say hello","stream":true}`),
	}, func() *sse.Writer {
		opened++
		sse.SetHeaders(rec.Header())
		return sse.NewWriter(rec)
	})
	require.NoError(t, err)
	assert.True(t, result.Streamed)
	assert.Equal(t, 1, opened)

	assert.Equal(t,
		"event: response.created\ndata: {\"id\":\"resp_1\"}\n\n"+
			"event: response.output_text.delta\ndata: {\"delta\":\"Hel\"}\n\n"+
			"event: response.output_text.delta\ndata: {\"delta\":\"lo\"}\n\n"+
			"event: response.completed\ndata: {\"response\":{\"usage\":{\"input_tokens\":30,\"output_tokens\":50}}}\n\n"+
			"event: done\ndata: [DONE]\n\n",
		rec.Body.String(),
	)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, int64(80), result.Charged)
	assert.Equal(t, int64(920), h.balance(t))
}

func TestStreamFailureEmitsErrorFrame(t *testing.T) {
	h := newHarness(t, 1000, true, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"delta\":\"partial\"}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	rec := httptest.NewRecorder()
	result, err := h.proxy.Forward(context.Background(), proxydomain.Call{
		AccountID: h.accountID,
		Operation: proxydomain.OperationChatCompletions,
		Body:      []byte(`{"messages":[{"role":"user","content":"hi"}],"stream":true,"timeoutSeconds":0.2}`),
	}, func() *sse.Writer { return sse.NewWriter(rec) })
	require.ErrorIs(t, err, gateway.ErrUpstreamTimeout)
	require.NotNil(t, result)
	assert.True(t, result.Streamed)

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: message\ndata: {\"delta\":\"partial\"}\n\n"), body)
	assert.Contains(t, body, "event: error\n")
	assert.NotContains(t, body, "[DONE]")
	assert.Equal(t, int64(900), h.balance(t))
}

func TestStreamCallerCancelStopsUpstream(t *testing.T) {
	stopped := make(chan struct{})
	h := newHarness(t, 1000, true, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"delta\":\"partial\"}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
			close(stopped)
		case <-time.After(10 * time.Second):
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	opened := make(chan struct{})
	go func() {
		<-opened
		cancel()
	}()

	rec := httptest.NewRecorder()
	result, err := h.proxy.Forward(ctx, proxydomain.Call{
		AccountID: h.accountID,
		Operation: proxydomain.OperationChatCompletions,
		Body:      []byte(`{"messages":[{"role":"user","content":"hi"}],"stream":true}`),
	}, func() *sse.Writer {
		close(opened)
		return sse.NewWriter(rec)
	})
	require.ErrorIs(t, err, gateway.ErrUpstreamUnavailable)
	var upstreamErr *gateway.UpstreamError
	require.True(t, errors.As(err, &upstreamErr))
	assert.Equal(t, "request cancelled", upstreamErr.Message)
	require.NotNil(t, result)
	assert.True(t, result.Streamed)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream request still running after caller cancelled")
	}

	body := rec.Body.String()
	assert.Equal(t, 1, strings.Count(body, "event: error\n"), body)
	assert.Contains(t, body, `"error":"request cancelled"`)
	assert.NotContains(t, body, "[DONE]")

	assert.Equal(t, int64(900), h.balance(t))
	records := h.usageRecords(t)
	require.Len(t, records, 1)
	assert.Equal(t, "failed", records[0].Metadata["outcome"])
	assert.Equal(t, int64(100), records[0].CostTokens)
}

// brokenClient is a response writer whose peer has gone away.
type brokenClient struct {
	*httptest.ResponseRecorder
	writes atomic.Int64
}

func (b *brokenClient) Write([]byte) (int, error) {
	b.writes.Add(1)
	return 0, errors.New("broken pipe")
}

func (b *brokenClient) WriteString(string) (int, error) {
	b.writes.Add(1)
	return 0, errors.New("broken pipe")
}

func TestStreamClientWriteFailureStopsUpstream(t *testing.T) {
	stopped := make(chan struct{})
	h := newHarness(t, 1000, true, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"delta\":\"first\"}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
			close(stopped)
		case <-time.After(10 * time.Second):
		}
	})

	client := &brokenClient{ResponseRecorder: httptest.NewRecorder()}
	result, err := h.proxy.Forward(context.Background(), proxydomain.Call{
		AccountID: h.accountID,
		Operation: proxydomain.OperationChatCompletions,
		Body:      []byte(`{"messages":[{"role":"user","content":"hi"}],"stream":true}`),
	}, func() *sse.Writer { return sse.NewWriter(client) })
	require.ErrorIs(t, err, gateway.ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), "client disconnected: broken pipe")
	require.NotNil(t, result)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream request still running after client write failed")
	}
	assert.GreaterOrEqual(t, client.writes.Load(), int64(1))
	assert.Empty(t, client.Body.String())

	assert.Equal(t, int64(900), h.balance(t))
	records := h.usageRecords(t)
	require.Len(t, records, 1)
	assert.Equal(t, "failed", records[0].Metadata["outcome"])
	assert.Equal(t, "upstream_unavailable", records[0].Metadata["error"])
}

func TestStreamRequestAnsweredWithJSON(t *testing.T) {
	h := newHarness(t, 1000, true, jsonUpstream(`{"id":"resp_2","usage":{"input_tokens":10,"output_tokens":50}}`))

	opened := false
	result, err := h.proxy.Forward(context.Background(), proxydomain.Call{
		AccountID: h.accountID,
		Operation: proxydomain.OperationResponses,
		Body:      []byte(`{"input":"x","stream":true}`),
	}, func() *sse.Writer {
		opened = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, opened)
	assert.False(t, result.Streamed)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.JSONEq(t, `{"id":"resp_2","usage":{"input_tokens":10,"output_tokens":50}}`, string(result.Body))
	assert.Equal(t, "application/json", result.Header.Get("Content-Type"))
	assert.Equal(t, int64(60), result.Charged)
	assert.Equal(t, int64(940), h.balance(t))
}

func TestStreamRejectedBeforeOpenIsPlainError(t *testing.T) {
	h := newHarness(t, 1000, true, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	opened := false
	_, err := h.proxy.Forward(context.Background(), proxydomain.Call{
		AccountID: h.accountID,
		Operation: proxydomain.OperationResponses,
		Body:      []byte(`{"input":"x","stream":true}`),
	}, func() *sse.Writer {
		opened = true
		return nil
	})
	assert.ErrorIs(t, err, gateway.ErrUpstreamUnavailable)
	assert.False(t, opened)
}

func newHarness(t *testing.T, initial uint64, configured bool, handler http.HandlerFunc) *harness {
	t.Helper()

	db := dbtest.Open(t)
	node := mustNode(t)
	log := zap.NewNop()

	hits := &atomic.Int64{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(upstream.Close)

	ledger := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node})
	usage := usageservice.NewService(usageservice.ServiceParam{DB: db, Log: log, GenID: node})
	metering, err := config.NewStaticMeteringConfig(config.DefaultMeteringConfig())
	require.NoError(t, err)

	accountID := node.Generate()
	ctx := context.Background()
	_, err = ledger.OpenAccount(ctx, accountID)
	require.NoError(t, err)
	if initial > 0 {
		_, err = ledger.Credit(ctx, ledgerdomain.CreditRequest{AccountID: accountID, Amount: initial})
		require.NoError(t, err)
	}
	if configured {
		require.NoError(t, db.Create(&gatewayconfigdomain.GatewayConfig{
			AccountID:   accountID,
			BaseURL:     upstream.URL,
			BearerToken: "gw-token",
			UpdatedAt:   time.Now().UTC(),
		}).Error)
	}

	proxy := NewService(Params{
		Log:            log,
		GenID:          node,
		Ledger:         ledger,
		Usage:          usage,
		GatewayConfigs: gatewayconfigrepo.Provide(gatewayconfigrepo.Params{DB: db, Log: log}),
		Gateway:        gateway.New(gateway.Params{Log: log}),
		Metering:       metering,
	})

	return &harness{
		db:        db,
		ledger:    ledger,
		proxy:     proxy,
		accountID: accountID,
		upstream:  upstream,
		hits:      hits,
	}
}

func jsonUpstream(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func (h *harness) balance(t *testing.T) int64 {
	t.Helper()
	balance, err := h.ledger.Balance(context.Background(), h.accountID)
	require.NoError(t, err)
	return balance
}

func (h *harness) transactions(t *testing.T, kind ledgerdomain.TransactionKind) []ledgerdomain.Transaction {
	t.Helper()
	var rows []ledgerdomain.Transaction
	require.NoError(t, h.db.Where("account_id = ? AND kind = ?", h.accountID, kind).Order("id").Find(&rows).Error)
	return rows
}

func (h *harness) usage(t *testing.T, id snowflake.ID) usagedomain.UsageRecord {
	t.Helper()
	var record usagedomain.UsageRecord
	require.NoError(t, h.db.Where("id = ?", id).Take(&record).Error, fmt.Sprintf("usage %s", id))
	return record
}

func (h *harness) usageRecords(t *testing.T) []usagedomain.UsageRecord {
	t.Helper()
	var rows []usagedomain.UsageRecord
	require.NoError(t, h.db.Where("account_id = ?", h.accountID).Find(&rows).Error)
	return rows
}

func (h *harness) usageCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.db.Model(&usagedomain.UsageRecord{}).Count(&count).Error)
	return count
}

func mustNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}
