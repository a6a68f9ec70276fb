package service

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/gosimple/slug"
	proxydomain "github.com/smallbiznis/tokenmeter/internal/proxy/domain"
)

func decodePayload(body []byte, maxBytes int64) (map[string]any, error) {
	if maxBytes > 0 && int64(len(body)) > maxBytes {
		return nil, proxydomain.ErrRequestTooLarge
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, proxydomain.ErrInvalidBody
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		return nil, proxydomain.ErrInvalidBody
	}
	return payload, nil
}

// validateCall checks the fields each operation cannot run without.
func validateCall(op proxydomain.Operation, hookName string, payload map[string]any) error {
	switch op {
	case proxydomain.OperationWake:
		if !nonEmptyString(payload["text"]) {
			return proxydomain.ErrInvalidText
		}
	case proxydomain.OperationAgent:
		if !nonEmptyString(payload["message"]) {
			return proxydomain.ErrInvalidMessage
		}
	case proxydomain.OperationHook:
		if !slug.IsSlug(hookName) {
			return proxydomain.ErrInvalidHookName
		}
	case proxydomain.OperationResponses:
		if !nonEmptyValue(payload["input"]) {
			return proxydomain.ErrInvalidInput
		}
	case proxydomain.OperationToolsInvoke:
		if !nonEmptyString(payload["tool"]) {
			return proxydomain.ErrInvalidTool
		}
	case proxydomain.OperationChatCompletions:
		messages, ok := payload["messages"].([]any)
		if !ok || len(messages) == 0 {
			return proxydomain.ErrInvalidMessages
		}
	default:
		return proxydomain.ErrInvalidOperation
	}
	return nil
}

func nonEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) != ""
}

func nonEmptyValue(v any) bool {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val) != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	}
	return false
}

func wantsStream(op proxydomain.Operation, payload map[string]any) bool {
	if !op.Streamable() {
		return false
	}
	stream, _ := payload["stream"].(bool)
	return stream
}

func stringField(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return strings.TrimSpace(s)
}
