// Package chatmodel defines the data model shared by every collaborator in
// the graph engine: conversations, turns, segments, canonical chat messages,
// and the typed stream-event bus that connects them.
package chatmodel

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Role identifies who produced a canonical chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a single tool invocation requested by the model, possibly
// still being assembled from streamed argument fragments.
type ToolCall struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ArgumentsJSON string `json:"arguments_json"`
}

// Message is the single canonical chat message representation used both for
// what is sent to the provider and what is replayed from storage (Open
// Question #2 in SPEC_FULL.md — one representation, not two).
type Message struct {
	Role Role `json:"role"`

	// Text is the user-visible or instruction text. Empty for a pure
	// tool-call assistant message.
	Text string `json:"text,omitempty"`

	// ToolCalls is set only on Role == RoleAssistant messages that
	// requested tool invocations.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Text carry a tool result when Role == RoleTool.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// NewSystemMessage builds a system-role canonical message.
func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Text: text}
}

// NewUserMessage builds a user-role canonical message.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Text: text}
}

// NewToolResultMessage builds a tool-role canonical message carrying the
// textual result (or error text) of one invocation.
func NewToolResultMessage(invocationID, text string) Message {
	return Message{Role: RoleTool, ToolCallID: invocationID, Text: text}
}

// HasToolCalls reports whether this assistant message requested any tools.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}
