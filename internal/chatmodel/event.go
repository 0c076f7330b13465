package chatmodel

// EventKind tags the StreamEvent union (spec.md §3).
type EventKind string

const (
	EventInitStream EventKind = "init_stream"
	EventReasoning  EventKind = "reasoning"
	EventMessage    EventKind = "message"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventDone       EventKind = "done"
	EventError      EventKind = "error"
	EventEndStream  EventKind = "end_stream"
)

// RunStatus is carried on EndStream.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusError   RunStatus = "error"
)

// StreamEvent is the single typed bus event produced by the Graph Engine and
// consumed (in parallel) by the client forwarding path and the Event
// Accumulator. Exactly one group of fields is populated, selected by Kind.
type StreamEvent struct {
	Kind EventKind `json:"kind"`

	// InitStream fields.
	RunID          string `json:"run_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	TimestampMs    int64  `json:"ts,omitempty"`

	// Reasoning / Message fields.
	Content string `json:"content,omitempty"`

	// ToolCall fields — may carry a partial fragment; Index groups
	// fragments belonging to the same in-flight call.
	ToolCallIndex int    `json:"index,omitempty"`
	ToolCallID    string `json:"id,omitempty"`
	ToolCallName  string `json:"name,omitempty"`
	ArgsFragment  string `json:"args_fragment,omitempty"`

	// ToolResult fields.
	InvocationID string `json:"invocation_id,omitempty"`
	ResultText   string `json:"text,omitempty"`
	IsError      bool   `json:"is_error,omitempty"`
	DurationMs   int64  `json:"duration_ms,omitempty"`

	// Done fields.
	FinishReason string `json:"finish_reason,omitempty"`

	// Error fields.
	ErrorText string `json:"text_error,omitempty"`
	NodeID    string `json:"node_id,omitempty"`

	// EndStream fields.
	Status           RunStatus `json:"status,omitempty"`
	TotalDurationMs  int64     `json:"total_duration_ms,omitempty"`
}

// NewInitStreamEvent builds the mandatory first event of every run.
func NewInitStreamEvent(runID, conversationID string, tsMs int64) StreamEvent {
	return StreamEvent{Kind: EventInitStream, RunID: runID, ConversationID: conversationID, TimestampMs: tsMs}
}

// NewReasoningEvent builds a Reasoning content delta.
func NewReasoningEvent(content string) StreamEvent {
	return StreamEvent{Kind: EventReasoning, Content: content}
}

// NewMessageEvent builds a Message content delta.
func NewMessageEvent(content string) StreamEvent {
	return StreamEvent{Kind: EventMessage, Content: content}
}

// NewToolCallEvent builds a (possibly partial) ToolCall fragment.
func NewToolCallEvent(index int, id, name, argsFragment string) StreamEvent {
	return StreamEvent{Kind: EventToolCall, ToolCallIndex: index, ToolCallID: id, ToolCallName: name, ArgsFragment: argsFragment}
}

// NewToolResultEvent builds a paired ToolResult event.
func NewToolResultEvent(invocationID, text string, isError bool, durationMs int64) StreamEvent {
	return StreamEvent{Kind: EventToolResult, InvocationID: invocationID, ResultText: text, IsError: isError, DurationMs: durationMs}
}

// NewDoneEvent builds the provider-stream completion marker.
func NewDoneEvent(finishReason string) StreamEvent {
	return StreamEvent{Kind: EventDone, FinishReason: finishReason}
}

// NewErrorEvent builds a terminal Error event.
func NewErrorEvent(text, nodeID string) StreamEvent {
	return StreamEvent{Kind: EventError, ErrorText: text, NodeID: nodeID}
}

// NewEndStreamEvent builds the final event of a run.
func NewEndStreamEvent(status RunStatus, totalDurationMs int64) StreamEvent {
	return StreamEvent{Kind: EventEndStream, Status: status, TotalDurationMs: totalDurationMs}
}
