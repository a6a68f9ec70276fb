package service

import (
	"math"
	"time"
	"unicode/utf8"

	"github.com/smallbiznis/tokenmeter/internal/config"
	proxydomain "github.com/smallbiznis/tokenmeter/internal/proxy/domain"
)

// Estimator prices a call before it is made. Settings are read from the
// hot-reloaded metering config on every call.
type Estimator struct {
	metering *config.MeteringConfigHolder
}

func NewEstimator(metering *config.MeteringConfigHolder) *Estimator {
	return &Estimator{metering: metering}
}

func (e *Estimator) Estimate(op proxydomain.Operation, payload map[string]any) int64 {
	cfg := e.metering.Get()
	switch op {
	case proxydomain.OperationWake:
		return cfg.FixedCosts.Wake
	case proxydomain.OperationAgent:
		return cfg.FixedCosts.Agent
	case proxydomain.OperationHook:
		return cfg.FixedCosts.Hook
	case proxydomain.OperationToolsInvoke:
		return cfg.FixedCosts.Tools
	case proxydomain.OperationResponses:
		return contentCost(cfg, countRunes(payload["input"])+countRunes(payload["instructions"]))
	case proxydomain.OperationChatCompletions:
		return contentCost(cfg, countRunes(payload["messages"]))
	}
	return cfg.ContentFloor
}

// Timeout is the upstream deadline: timeoutSeconds from the body when
// present, capped at the configured maximum.
func (e *Estimator) Timeout(payload map[string]any) (time.Duration, error) {
	cfg := e.metering.Get()
	raw, ok := payload["timeoutSeconds"]
	if !ok || raw == nil {
		return cfg.DefaultTimeout, nil
	}
	seconds, ok := raw.(float64)
	if !ok || seconds <= 0 || math.IsInf(seconds, 0) || math.IsNaN(seconds) {
		return 0, proxydomain.ErrInvalidTimeout
	}
	if seconds >= cfg.MaxTimeout.Seconds() {
		return cfg.MaxTimeout, nil
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func contentCost(cfg config.MeteringConfig, chars int64) int64 {
	tokens := (chars + cfg.CharsPerToken - 1) / cfg.CharsPerToken
	if tokens < cfg.ContentFloor {
		return cfg.ContentFloor
	}
	return tokens
}

// countRunes sums the rune length of every string leaf under v.
func countRunes(v any) int64 {
	switch val := v.(type) {
	case string:
		return int64(utf8.RuneCountInString(val))
	case []any:
		var total int64
		for _, item := range val {
			total += countRunes(item)
		}
		return total
	case map[string]any:
		var total int64
		for _, item := range val {
			total += countRunes(item)
		}
		return total
	}
	return 0
}
