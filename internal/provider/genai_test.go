package provider

import (
	"errors"
	"testing"
)

func TestConvertMessagesSplitsSystemAndToolRoles(t *testing.T) {
	messages := []ChatMessage{
		{Role: "system", Content: "be nice"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", ToolCalls: []ChatMessageToolCall{{ID: "call1", Function: struct {
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		}{Name: "search", Arguments: `{"q":"x"}`}}}},
		{Role: "tool", Content: "result text"},
	}

	contents, systemInstruction := convertMessages(messages)

	if systemInstruction == nil || len(systemInstruction.Parts) != 1 || systemInstruction.Parts[0].Text != "be nice" {
		t.Fatalf("expected system instruction %q, got %+v", "be nice", systemInstruction)
	}
	if len(contents) != 3 {
		t.Fatalf("expected 3 non-system contents, got %d: %+v", len(contents), contents)
	}
	if contents[0].Role != "user" || contents[0].Parts[0].Text != "hello" {
		t.Fatalf("expected first content to be the user message, got %+v", contents[0])
	}
	if contents[1].Role != "model" || contents[1].Parts[0].FunctionCall == nil || contents[1].Parts[0].FunctionCall.Name != "search" {
		t.Fatalf("expected second content to carry the reconstructed function call, got %+v", contents[1])
	}
	if contents[2].Role != "user" || contents[2].Parts[0].FunctionResponse == nil {
		t.Fatalf("expected tool result to become a user-role function response, got %+v", contents[2])
	}
}

func TestConvertToolsBuildsFunctionDeclarations(t *testing.T) {
	tools := convertTools([]ToolSchema{{Name: "search", Description: "search the web", Parameters: map[string]any{"q": "string"}}})
	if len(tools) != 1 || len(tools[0].FunctionDeclarations) != 1 {
		t.Fatalf("expected one tool with one function declaration, got %+v", tools)
	}
	fd := tools[0].FunctionDeclarations[0]
	if fd.Name != "search" || fd.Description != "search the web" {
		t.Fatalf("unexpected function declaration: %+v", fd)
	}
}

func TestConvertToolsEmptyReturnsNil(t *testing.T) {
	if tools := convertTools(nil); tools != nil {
		t.Fatalf("expected nil for no tools, got %+v", tools)
	}
}

func TestNormalizeStopReason(t *testing.T) {
	cases := map[string]string{
		"STOP":                  "stop",
		"FINISH_REASON_STOP":    "stop",
		"MAX_TOKENS":            "length",
		"SAFETY":                "safety",
	}
	for in, want := range cases {
		if got := normalizeStopReason(in); got != want {
			t.Errorf("normalizeStopReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGeminiIsTransientError(t *testing.T) {
	transport := &GeminiTransport{}
	if transport.IsTransientError(nil) {
		t.Fatal("nil error must not be transient")
	}
	if !transport.IsTransientError(errors.New("503 Service Unavailable")) {
		t.Fatal("503 must be transient")
	}
	if !transport.IsTransientError(errors.New("rate limit: RESOURCE_EXHAUSTED")) {
		t.Fatal("resource exhausted must be transient")
	}
	if transport.IsTransientError(errors.New("401 unauthorized")) {
		t.Fatal("401 must not be transient")
	}
}
