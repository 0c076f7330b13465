package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestLangfuseObserverSendsTraceStartAndEnd(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/public/ingestion" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "pk-test" || pass != "sk-test" {
			t.Errorf("expected basic auth pk-test/sk-test, got %q/%q", user, pass)
		}
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	observer := NewLangfuseObserver(srv.Client(), srv.URL, "pk-test", "sk-test")

	observer.TraceStart(context.Background(), "run-1", "conv-1")
	observer.TraceEnd(context.Background(), "run-1", "success", 42)

	if err := observer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if got := received.Load(); got != 2 {
		t.Fatalf("expected 2 ingestion requests, got %d", got)
	}
}

func TestLangfuseObserverTraceLLMNodeSplitsOutputsIntoGenerations(t *testing.T) {
	var batches []IngestionBatch
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var batch IngestionBatch
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		batches = append(batches, batch)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	observer := NewLangfuseObserver(srv.Client(), srv.URL, "pk-test", "sk-test")

	observer.TraceLLMNode(context.Background(), LLMObservation{
		RunID:         "run-1",
		SpanID:        "span-1",
		StartedAt:     time.Now(),
		DurationMs:    100,
		Model:         "gpt-4o",
		ReasoningText: "thinking it through",
		MessageText:   "here is the answer",
		TotalTokens:   10,
	})

	if err := observer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if len(batches) != 2 {
		t.Fatalf("expected one generation per non-empty output (reasoning, message), got %d batches", len(batches))
	}
}

func TestLangfuseObserverIsNotBlockedByASlowBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	observer := NewLangfuseObserver(srv.Client(), srv.URL, "pk-test", "sk-test")

	start := time.Now()
	observer.TraceStart(context.Background(), "run-1", "conv-1")
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Fatalf("TraceStart blocked for %v, expected it to return immediately", elapsed)
	}

	if err := observer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestNoopObserverDiscardsEverything(t *testing.T) {
	var observer Observer = NoopObserver{}
	observer.TraceStart(context.Background(), "run-1", "conv-1")
	observer.TraceLLMNode(context.Background(), LLMObservation{})
	observer.TraceToolNode(context.Background(), ToolObservation{})
	observer.TraceEnd(context.Background(), "run-1", "success", 0)
}
