package domain

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenmeter/internal/sse"
)

// Operation is one of the metered gateway calls.
type Operation string

const (
	OperationWake            Operation = "wake"
	OperationAgent           Operation = "agent"
	OperationHook            Operation = "hook"
	OperationResponses       Operation = "responses"
	OperationToolsInvoke     Operation = "tools_invoke"
	OperationChatCompletions Operation = "chat_completions"
)

// Path is the upstream path for op. hookName is only used by OperationHook.
func (op Operation) Path(hookName string) string {
	switch op {
	case OperationWake:
		return "/hooks/wake"
	case OperationAgent:
		return "/hooks/agent"
	case OperationHook:
		return "/hooks/" + hookName
	case OperationResponses:
		return "/v1/responses"
	case OperationToolsInvoke:
		return "/tools/invoke"
	case OperationChatCompletions:
		return "/v1/chat/completions"
	}
	return ""
}

// Streamable reports whether op may answer with an event stream.
func (op Operation) Streamable() bool {
	return op == OperationResponses || op == OperationChatCompletions
}

// Call is one inbound request to forward. Body is passed upstream verbatim.
type Call struct {
	AccountID snowflake.ID
	Operation Operation
	HookName  string
	Body      []byte
	RequestID string
}

// Result describes a finished call. Streamed results have already been
// written to the client and carry no body.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Streamed   bool
	UsageID    snowflake.ID
	Estimate   int64
	Charged    int64
}

// StreamOpener commits the response to an event stream. It is invoked at
// most once, after the upstream has accepted the stream.
type StreamOpener func() *sse.Writer

type Service interface {
	Forward(ctx context.Context, call Call, open StreamOpener) (*Result, error)
}
