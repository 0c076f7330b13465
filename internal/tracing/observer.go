package tracing

import (
	"context"
	"time"
)

// Observer is the tracing backend interface the Graph Engine drives.
// Every method is fire-and-forget from the caller's point of view: an
// Observer implementation must not block the graph run waiting on a remote
// service, matching observer.rs's doc comment ("All methods are async and
// use fire-and-forget pattern to avoid blocking").
//
// Grounded on praxis-observability/src/observer.rs's Observer trait.
type Observer interface {
	// TraceStart initializes a trace for one graph run.
	TraceStart(ctx context.Context, runID, conversationID string)

	// TraceLLMNode records one LLM-node execution.
	TraceLLMNode(ctx context.Context, obs LLMObservation)

	// TraceToolNode records one tool-node execution (one batch of tool
	// calls and their results).
	TraceToolNode(ctx context.Context, obs ToolObservation)

	// TraceEnd finalizes the trace for a run.
	TraceEnd(ctx context.Context, runID, status string, totalDurationMs int64)
}

// LLMObservation captures one LLM-node step for tracing. Grounded on
// types.rs's NodeObservation + NodeObservationData::Llm variant.
type LLMObservation struct {
	RunID          string
	ConversationID string
	SpanID         string
	StartedAt      time.Time
	DurationMs     int64

	Model         string
	InputMessages any // provider.ChatMessage slice, passed through opaque
	ReasoningText string
	MessageText   string
	ToolCalls     []TraceToolCall

	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ToolObservation captures one tool-node step for tracing. Grounded on
// types.rs's NodeObservation + NodeObservationData::Tool variant.
type ToolObservation struct {
	RunID          string
	ConversationID string
	SpanID         string
	StartedAt      time.Time
	DurationMs     int64

	ToolCalls   []TraceToolCall
	ToolResults []TraceToolResult
}

// TraceToolCall mirrors types.rs's ToolCallInfo.
type TraceToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// TraceToolResult mirrors types.rs's ToolResultInfo.
type TraceToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Result     string `json:"result"`
	IsError    bool   `json:"is_error"`
	DurationMs int64  `json:"duration_ms"`
}

// NoopObserver discards every observation. It is the default Observer when
// no Langfuse credentials are configured (config.TracingConfig.Enabled is
// false), so the Graph Engine can depend on Observer unconditionally.
type NoopObserver struct{}

func (NoopObserver) TraceStart(context.Context, string, string)                  {}
func (NoopObserver) TraceLLMNode(context.Context, LLMObservation)                {}
func (NoopObserver) TraceToolNode(context.Context, ToolObservation)              {}
func (NoopObserver) TraceEnd(context.Context, string, string, int64)             {}
