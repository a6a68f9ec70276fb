package service

import "encoding/json"

// tokenUsage is what the upstream reports it consumed.
type tokenUsage struct {
	Input  int64
	Output int64
	Total  int64
	Model  string
}

// extractUsage reads a usage block from a response body or stream event.
// Both the responses shape (input/output_tokens), optionally nested under
// "response", and the chat shape (prompt/completion_tokens) are accepted.
func extractUsage(data []byte) (tokenUsage, bool) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return tokenUsage{}, false
	}

	model, _ := doc["model"].(string)
	block, ok := doc["usage"].(map[string]any)
	if !ok {
		nested, isMap := doc["response"].(map[string]any)
		if !isMap {
			return tokenUsage{}, false
		}
		if block, ok = nested["usage"].(map[string]any); !ok {
			return tokenUsage{}, false
		}
		if m, _ := nested["model"].(string); m != "" {
			model = m
		}
	}

	input, hasInput := firstCount(block, "input_tokens", "prompt_tokens")
	output, hasOutput := firstCount(block, "output_tokens", "completion_tokens")
	total, hasTotal := firstCount(block, "total_tokens")
	if !hasInput && !hasOutput && !hasTotal {
		return tokenUsage{}, false
	}
	if !hasTotal {
		total = input + output
	}
	return tokenUsage{Input: input, Output: output, Total: total, Model: model}, true
}

func firstCount(block map[string]any, keys ...string) (int64, bool) {
	for _, key := range keys {
		if n, ok := block[key].(float64); ok && n >= 0 {
			return int64(n), true
		}
	}
	return 0, false
}
