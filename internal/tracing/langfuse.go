package tracing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ingestConcurrency bounds how many Langfuse ingestion requests can be in
// flight at once, the same SetLimit idiom run.Coordinator uses for
// persistence writes (golang.org/x/sync/errgroup).
const ingestConcurrency = 4

// langfuseClient is a minimal HTTP client for Langfuse's public ingestion
// API. Grounded on praxis-observability/src/langfuse/client.rs's
// LangfuseClient, adapted from reqwest's basic_auth + one-method-per-body
// shape onto net/http in the style of provider.HTTPTransport.
type langfuseClient struct {
	httpClient *http.Client
	host       string
	publicKey  string
	secretKey  string
}

func newLangfuseClient(httpClient *http.Client, host, publicKey, secretKey string) *langfuseClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &langfuseClient{httpClient: httpClient, host: strings.TrimRight(host, "/"), publicKey: publicKey, secretKey: secretKey}
}

// ingestBatch posts one batch to Langfuse's ingestion endpoint. Grounded on
// client.rs's ingest_batch / handle_response.
func (c *langfuseClient) ingestBatch(ctx context.Context, batch IngestionBatch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("tracing: failed to marshal ingestion batch: %w", err)
	}

	url := c.host + "/api/public/ingestion"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("tracing: failed to build ingestion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.publicKey, c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tracing: ingestion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusAccepted {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("tracing: langfuse ingestion returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// LangfuseObserver sends trace/span/generation events to Langfuse. Grounded
// on praxis-observability/src/langfuse/observer.rs's LangfuseObserver: one
// trace per run_id, tool-node observations become spans, LLM-node
// observations become generations (one per distinct output, matching
// trace_llm_generation's "Chain of Responsibility" per-output loop).
type LangfuseObserver struct {
	client *langfuseClient

	mu     sync.Mutex
	traces map[string]string // run_id -> trace_id

	group *errgroup.Group
}

// NewLangfuseObserver constructs a LangfuseObserver targeting host (e.g.
// "https://cloud.langfuse.com") with the given public/secret API key pair.
func NewLangfuseObserver(httpClient *http.Client, host, publicKey, secretKey string) *LangfuseObserver {
	group := &errgroup.Group{}
	group.SetLimit(ingestConcurrency)
	return &LangfuseObserver{
		client: newLangfuseClient(httpClient, host, publicKey, secretKey),
		traces: make(map[string]string),
		group:  group,
	}
}

func (o *LangfuseObserver) traceIDFor(runID string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if id, ok := o.traces[runID]; ok {
		return id
	}
	id := uuid.NewString()
	o.traces[runID] = id
	return id
}

func (o *LangfuseObserver) forgetTrace(runID string) {
	o.mu.Lock()
	delete(o.traces, runID)
	o.mu.Unlock()
}

// send dispatches one ingestion batch on the bounded goroutine group so
// callers never block on the Langfuse round trip (observer.rs's
// fire-and-forget contract). While ingestConcurrency requests are already in
// flight the event is dropped instead of waiting for a free slot. A dropped
// or failed event is logged, not surfaced, since Observer's methods return
// nothing for the Graph Engine to check.
func (o *LangfuseObserver) send(ctx context.Context, event IngestionEvent) {
	started := o.group.TryGo(func() error {
		ingestCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := o.client.ingestBatch(ingestCtx, IngestionBatch{Batch: []IngestionEvent{event}}); err != nil {
			slog.WarnContext(ingestCtx, "tracing: failed to send langfuse event", "event_type", event.Type, "error", err)
		}
		return nil
	})
	if !started {
		slog.WarnContext(ctx, "tracing: ingestion limit reached, dropping langfuse event", "event_type", event.Type)
	}
}

// TraceStart implements Observer. Grounded on langfuse/observer.rs's
// trace_start.
func (o *LangfuseObserver) TraceStart(ctx context.Context, runID, conversationID string) {
	traceID := o.traceIDFor(runID)
	now := time.Now()

	name := "agent_run_" + runID
	if len(runID) > 8 {
		name = "agent_run_" + runID[:8]
	}

	body := TraceBody{
		ID:     traceID,
		Name:   name,
		UserID: conversationID,
		Metadata: map[string]any{
			"run_id":          runID,
			"conversation_id": conversationID,
		},
		Tags:      []string{"forge", "agent"},
		Timestamp: rfc3339(now),
	}

	o.send(ctx, IngestionEvent{
		ID:        traceID + "-trace-event",
		Timestamp: rfc3339(now),
		Type:      "trace-create",
		Body:      body,
	})
}

// TraceLLMNode implements Observer. Grounded on langfuse/observer.rs's
// trace_llm_generation: one generation per distinct output kind present on
// the observation (reasoning, message, tool_calls), usage attached only to
// the last one to avoid double-counting.
func (o *LangfuseObserver) TraceLLMNode(ctx context.Context, obs LLMObservation) {
	traceID := o.traceIDFor(obs.RunID)
	endTime := obs.StartedAt.Add(time.Duration(obs.DurationMs) * time.Millisecond)

	type output struct {
		name string
		body any
		meta map[string]any
	}
	var outputs []output

	if obs.ReasoningText != "" {
		outputs = append(outputs, output{
			name: "reasoning",
			body: map[string]any{"reasoning": obs.ReasoningText},
			meta: map[string]any{"output_type": "reasoning"},
		})
	}
	if obs.MessageText != "" {
		outputs = append(outputs, output{
			name: "message",
			body: map[string]any{"content": obs.MessageText},
			meta: map[string]any{"output_type": "message"},
		})
	}
	if len(obs.ToolCalls) > 0 {
		outputs = append(outputs, output{
			name: "tool_calls",
			body: map[string]any{"tool_calls": obs.ToolCalls},
			meta: map[string]any{"output_type": "tool_calls"},
		})
	}
	if len(outputs) == 0 {
		return
	}

	for i, out := range outputs {
		genID := obs.SpanID
		if len(outputs) > 1 {
			genID = fmt.Sprintf("%s-gen-%d", obs.SpanID, i)
		}

		var usage *UsageInfo
		if i == len(outputs)-1 && obs.TotalTokens > 0 {
			usage = &UsageInfo{
				PromptTokens:     intPtr(obs.PromptTokens),
				CompletionTokens: intPtr(obs.CompletionTokens),
				TotalTokens:      intPtr(obs.TotalTokens),
			}
		}

		body := GenerationBody{
			ID:        genID,
			TraceID:   traceID,
			Name:      out.name,
			StartTime: rfc3339(obs.StartedAt),
			EndTime:   rfc3339(endTime),
			Model:     obs.Model,
			Input:     obs.InputMessages,
			Output:    out.body,
			Metadata:  out.meta,
			Level:     "DEFAULT",
			Usage:     usage,
		}

		now := time.Now()
		o.send(ctx, IngestionEvent{
			ID:        genID + "-generation-event",
			Timestamp: rfc3339(now),
			Type:      "generation-create",
			Body:      body,
		})
	}
}

// TraceToolNode implements Observer. Grounded on langfuse/observer.rs's
// trace_tool_span.
func (o *LangfuseObserver) TraceToolNode(ctx context.Context, obs ToolObservation) {
	traceID := o.traceIDFor(obs.RunID)
	endTime := obs.StartedAt.Add(time.Duration(obs.DurationMs) * time.Millisecond)

	body := SpanBody{
		ID:        obs.SpanID,
		TraceID:   traceID,
		Name:      "tool_node",
		StartTime: rfc3339(obs.StartedAt),
		EndTime:   rfc3339(endTime),
		Level:     "DEFAULT",
		Input:     map[string]any{"tool_calls": obs.ToolCalls},
		Output:    map[string]any{"tool_results": obs.ToolResults},
	}

	now := time.Now()
	o.send(ctx, IngestionEvent{
		ID:        obs.SpanID + "-span-event",
		Timestamp: rfc3339(now),
		Type:      "span-create",
		Body:      body,
	})
}

// TraceEnd implements Observer. Grounded on langfuse/observer.rs's
// trace_end.
func (o *LangfuseObserver) TraceEnd(ctx context.Context, runID, status string, totalDurationMs int64) {
	traceID := o.traceIDFor(runID)

	body := TraceBody{
		ID: traceID,
		Metadata: map[string]any{
			"status":            status,
			"total_duration_ms": totalDurationMs,
		},
		Tags: []string{"forge", "completed"},
	}

	now := time.Now()
	o.send(ctx, IngestionEvent{
		ID:        traceID + "-trace-update-event",
		Timestamp: rfc3339(now),
		Type:      "trace-create",
		Body:      body,
	})

	o.forgetTrace(runID)
}

// Close waits for any in-flight ingestion requests to finish, for callers
// that want a clean shutdown drain.
func (o *LangfuseObserver) Close() error {
	return o.group.Wait()
}

func intPtr(v int) *int { return &v }
