// Package provider defines the out-of-scope-by-spec transport boundary to
// the remote LLM provider (spec.md §1 "HTTP transport layer... specified
// only at their interface") plus a concrete HTTP implementation the Graph
// Engine uses by default.
//
// Grounded on sacenox-symb/internal/provider/openai_common.go for the
// request/retry shape, and provider.go for the Provider/Registry interface
// idiom (generalized here to Transport, which deliberately stops at
// returning raw bytes — parsing them is streamadapter's job, not this
// package's, per spec.md §4.1).
package provider

import (
	"context"
	"io"
)

// ChatMessage is the wire-level message shape sent to the provider. It is
// intentionally distinct from chatmodel.Message (spec.md §9 Open Question
// #2 resolves to one canonical Message type used everywhere except at this
// translation boundary).
type ChatMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolCalls  []ChatMessageToolCall `json:"tool_calls,omitempty"`
}

// ChatMessageToolCall is an assistant-issued tool call carried in a prior
// turn's history.
type ChatMessageToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// ToolSchema is one tool definition advertised to the provider.
type ToolSchema struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

// ChatRequest is the provider-agnostic request the Graph Engine builds each
// LLM-node step (spec.md §6 "Provider interface").
type ChatRequest struct {
	Model            string
	Messages         []ChatMessage
	Tools            []ToolSchema
	Temperature      *float32
	MaxTokens        *uint32
	ReasoningEffort  string
}

// Transport opens a raw byte stream against one of the two provider
// endpoints described in spec.md §6. It never parses the stream — that is
// streamadapter's responsibility — so implementations stay swappable
// without touching parsing logic, and a mock implementation can replay a
// canned byte sequence for tests.
type Transport interface {
	// OpenChatStream opens the chat-completion endpoint stream.
	OpenChatStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error)
	// OpenReasonStream opens the reasoning endpoint stream.
	OpenReasonStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error)
	// IsTransientError classifies err as transient (network blip, 5xx,
	// timeout) versus fatal. Grounded on genesis's llm.FallbackClient and
	// sacenox-symb's isTransientStatus. HTTPTransport uses it to retry a
	// failed initial connection; the Graph Engine treats every provider
	// error it receives as terminal and does not consult it.
	IsTransientError(err error) bool
}
