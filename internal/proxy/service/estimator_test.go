package service

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/tokenmeter/internal/config"
	proxydomain "github.com/smallbiznis/tokenmeter/internal/proxy/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateFixedCosts(t *testing.T) {
	e := newTestEstimator(t, config.DefaultMeteringConfig())
	assert.Equal(t, int64(100), e.Estimate(proxydomain.OperationWake, nil))
	assert.Equal(t, int64(500), e.Estimate(proxydomain.OperationAgent, nil))
	assert.Equal(t, int64(100), e.Estimate(proxydomain.OperationHook, nil))
	assert.Equal(t, int64(200), e.Estimate(proxydomain.OperationToolsInvoke, nil))
}

func TestEstimateContentCost(t *testing.T) {
	e := newTestEstimator(t, config.DefaultMeteringConfig())

	long := strings.Repeat("a", 1001)
	payload := mustPayload(t, `{"input":"`+long+`","instructions":"abc","model":"ignored-model-name"}`)
	assert.Equal(t, int64(251), e.Estimate(proxydomain.OperationResponses, payload))

	assert.Equal(t, int64(100), e.Estimate(proxydomain.OperationResponses, mustPayload(t, `{"input":"tiny"}`)))

	runes := strings.Repeat("é", 800)
	chat := mustPayload(t, `{"messages":[{"role":"user","content":"`+runes+`"},{"role":"assistant","content":[{"type":"text","text":"`+runes+`"}]}]}`)
	// 1600 content runes plus "user", "assistant" and "text": 1617 runes.
	assert.Equal(t, int64(405), e.Estimate(proxydomain.OperationChatCompletions, chat))
}

func TestEstimatorUsesReloadedConfig(t *testing.T) {
	cfg := config.DefaultMeteringConfig()
	cfg.FixedCosts.Agent = 42
	e := newTestEstimator(t, cfg)
	assert.Equal(t, int64(42), e.Estimate(proxydomain.OperationAgent, nil))
}

func TestTimeout(t *testing.T) {
	e := newTestEstimator(t, config.DefaultMeteringConfig())

	d, err := e.Timeout(mustPayload(t, `{}`))
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, d)

	d, err = e.Timeout(mustPayload(t, `{"timeoutSeconds":30}`))
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	d, err = e.Timeout(mustPayload(t, `{"timeoutSeconds":900}`))
	require.NoError(t, err)
	assert.Equal(t, 600*time.Second, d)

	_, err = e.Timeout(mustPayload(t, `{"timeoutSeconds":"soon"}`))
	assert.ErrorIs(t, err, proxydomain.ErrInvalidTimeout)
}

func TestExtractUsage(t *testing.T) {
	cases := []struct {
		name string
		body string
		want tokenUsage
		ok   bool
	}{
		{"responses shape", `{"model":"m","usage":{"input_tokens":3,"output_tokens":4,"total_tokens":7}}`, tokenUsage{Input: 3, Output: 4, Total: 7, Model: "m"}, true},
		{"chat shape without total", `{"usage":{"prompt_tokens":10,"completion_tokens":5}}`, tokenUsage{Input: 10, Output: 5, Total: 15}, true},
		{"nested completed event", `{"type":"response.completed","response":{"model":"r","usage":{"input_tokens":1,"output_tokens":2}}}`, tokenUsage{Input: 1, Output: 2, Total: 3, Model: "r"}, true},
		{"no usage", `{"ok":true}`, tokenUsage{}, false},
		{"empty usage", `{"usage":{}}`, tokenUsage{}, false},
		{"not json", `data`, tokenUsage{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := extractUsage([]byte(tc.body))
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func newTestEstimator(t *testing.T, cfg config.MeteringConfig) *Estimator {
	t.Helper()
	holder, err := config.NewStaticMeteringConfig(cfg)
	require.NoError(t, err)
	return NewEstimator(holder)
}

func mustPayload(t *testing.T, body string) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	return payload
}
