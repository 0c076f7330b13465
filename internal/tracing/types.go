// Package tracing sends graph-run observability data to Langfuse, mirroring
// the original system's dedicated praxis-observability crate (observer.rs /
// langfuse/observer.rs / langfuse/client.rs). spec.md's Non-goals exclude
// only "logging setup" — the Langfuse trace/span/generation export this
// package performs is a distinct concern from internal/obslog's line
// logging, and is not named by any Non-goal, so it is carried forward here
// rather than dropped.
package tracing

import "time"

// TraceBody is the Langfuse "create or update trace" request body.
// Grounded on langfuse/types.rs's TraceBody.
type TraceBody struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Tags      []string       `json:"tags,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// SpanBody is the Langfuse "create span" request body, used for tool-node
// observations. Grounded on langfuse/types.rs's SpanBody.
type SpanBody struct {
	ID            string         `json:"id"`
	TraceID       string         `json:"traceId"`
	Name          string         `json:"name"`
	StartTime     string         `json:"startTime"`
	EndTime       string         `json:"endTime,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Level         string         `json:"level,omitempty"`
	StatusMessage string         `json:"statusMessage,omitempty"`
	Input         any            `json:"input,omitempty"`
	Output        any            `json:"output,omitempty"`
}

// GenerationBody is the Langfuse "create generation" request body, used for
// LLM-node observations. Grounded on langfuse/types.rs's GenerationBody.
type GenerationBody struct {
	ID              string         `json:"id"`
	TraceID         string         `json:"traceId"`
	Name            string         `json:"name"`
	StartTime       string         `json:"startTime"`
	EndTime         string         `json:"endTime,omitempty"`
	Model           string         `json:"model"`
	ModelParameters map[string]any `json:"modelParameters,omitempty"`
	Input           any            `json:"input,omitempty"`
	Output          any            `json:"output,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Level           string         `json:"level,omitempty"`
	StatusMessage   string         `json:"statusMessage,omitempty"`
	Usage           *UsageInfo     `json:"usage,omitempty"`
}

// UsageInfo carries token counts onto a generation. Grounded on
// langfuse/types.rs's UsageInfo.
type UsageInfo struct {
	PromptTokens     *int `json:"promptTokens,omitempty"`
	CompletionTokens *int `json:"completionTokens,omitempty"`
	TotalTokens      *int `json:"totalTokens,omitempty"`
}

// IngestionEvent wraps one body in the envelope Langfuse's batch ingestion
// endpoint expects. Grounded on langfuse/types.rs's IngestionEvent.
type IngestionEvent struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Body      any    `json:"body"`
}

// IngestionBatch is the request body for POST /api/public/ingestion.
// Grounded on langfuse/types.rs's IngestionBatch.
type IngestionBatch struct {
	Batch []IngestionEvent `json:"batch"`
}

func rfc3339(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }
