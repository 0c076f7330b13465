package ctxbuild

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"forge/internal/chatmodel"
	"forge/internal/config"
	"forge/internal/provider"
	"forge/internal/store"
)

type stubSummarizer struct {
	mu       sync.Mutex
	calls    int
	result   string
	err      error
	released chan struct{}
}

func (s *stubSummarizer) Summarize(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.released != nil {
		<-s.released
	}
	return s.result, s.err
}

func (s *stubSummarizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestBuilder(repo store.Repository, summarizer provider.Summarizer) *Builder {
	cfg := config.ContextConfig{
		MaxTokens:      1000,
		PromptTemplate: "SYSTEM: " + config.SummaryPlaceholder,
	}
	return NewBuilder(repo, summarizer, cfg, nil)
}

func TestBuildRendersSummaryPlaceholder(t *testing.T) {
	repo := store.NewMemoryRepository()
	ctx := context.Background()
	if err := repo.CreateConversation(ctx, store.Conversation{ID: "c1"}); err != nil {
		t.Fatal(err)
	}

	b := newTestBuilder(repo, &stubSummarizer{})
	system, _, err := b.Build(ctx, "c1", 1000)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !strings.Contains(system, config.NoSummaryMarker) {
		t.Fatalf("expected no-summary marker in system prompt, got %q", system)
	}

	if err := repo.SetSummary(ctx, "c1", chatmodel.Summary{Text: "prior context", GeneratedAt: 5}); err != nil {
		t.Fatal(err)
	}
	system, _, err = b.Build(ctx, "c1", 1000)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if !strings.Contains(system, "prior context") {
		t.Fatalf("expected summary text in system prompt, got %q", system)
	}
}

func TestBuildGroupsRecordsIntoTurns(t *testing.T) {
	repo := store.NewMemoryRepository()
	ctx := context.Background()
	if err := repo.CreateConversation(ctx, store.Conversation{ID: "c1"}); err != nil {
		t.Fatal(err)
	}

	records := []store.Record{
		{ID: "r1", TurnID: "t1", Role: chatmodel.RoleUser, Type: store.RecordTypeMessage, Text: "hello", CreatedAt: 1},
		{ID: "r2", TurnID: "t2", Role: chatmodel.RoleAssistant, Type: store.RecordTypeReasoning, Text: "thinking...", CreatedAt: 2},
		{ID: "r3", TurnID: "t2", Role: chatmodel.RoleAssistant, Type: store.RecordTypeMessage, Text: "hi there", CreatedAt: 3},
		{ID: "r4", TurnID: "t2", Role: chatmodel.RoleAssistant, Type: store.RecordTypeToolCall, ToolCallID: "call1", ToolName: "search", ArgumentsJSON: `{"q":"x"}`, CreatedAt: 4},
		{ID: "r5", TurnID: "t2", Role: chatmodel.RoleTool, Type: store.RecordTypeToolResult, ToolCallID: "call1", Text: "result text", CreatedAt: 5},
	}
	if err := repo.AppendRecords(ctx, "c1", records); err != nil {
		t.Fatal(err)
	}

	b := newTestBuilder(repo, &stubSummarizer{})
	_, messages, err := b.Build(ctx, "c1", 1000)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(messages) != 3 {
		t.Fatalf("expected 3 messages (user, assistant, tool), got %d: %+v", len(messages), messages)
	}
	if messages[0].Role != chatmodel.RoleUser || messages[0].Text != "hello" {
		t.Fatalf("unexpected first message: %+v", messages[0])
	}
	if messages[1].Role != chatmodel.RoleAssistant {
		t.Fatalf("unexpected second message role: %+v", messages[1])
	}
	if strings.Contains(messages[1].Text, "thinking") {
		t.Fatalf("reasoning segment should have been dropped, got %q", messages[1].Text)
	}
	if messages[1].Text != "hi there" {
		t.Fatalf("expected assistant text %q, got %q", "hi there", messages[1].Text)
	}
	if len(messages[1].ToolCalls) != 1 || messages[1].ToolCalls[0].Name != "search" {
		t.Fatalf("expected tool call attached to assistant message, got %+v", messages[1].ToolCalls)
	}
	if messages[2].Role != chatmodel.RoleTool || messages[2].Text != "result text" {
		t.Fatalf("unexpected tool result message: %+v", messages[2])
	}
}

func TestBuildTriggersSummarisationOnOverflow(t *testing.T) {
	repo := store.NewMemoryRepository()
	ctx := context.Background()
	if err := repo.CreateConversation(ctx, store.Conversation{ID: "c1"}); err != nil {
		t.Fatal(err)
	}

	longText := strings.Repeat("word ", 500)
	if err := repo.AppendRecords(ctx, "c1", []store.Record{
		{ID: "r1", TurnID: "t1", Role: chatmodel.RoleUser, Type: store.RecordTypeMessage, Text: longText, CreatedAt: 1},
	}); err != nil {
		t.Fatal(err)
	}

	summarizer := &stubSummarizer{result: "compressed"}
	b := newTestBuilder(repo, summarizer)

	if _, _, err := b.Build(ctx, "c1", 10); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for summarizer.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if summarizer.callCount() != 1 {
		t.Fatalf("expected summarizer to be called once, got %d", summarizer.callCount())
	}

	for {
		s, err := repo.GetSummary(ctx, "c1")
		if err != nil {
			t.Fatal(err)
		}
		if s != nil {
			if s.Text != "compressed" {
				t.Fatalf("expected persisted summary %q, got %q", "compressed", s.Text)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for summary to persist")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBuildDoesNotDoubleTriggerConcurrentSummarisation(t *testing.T) {
	repo := store.NewMemoryRepository()
	ctx := context.Background()
	if err := repo.CreateConversation(ctx, store.Conversation{ID: "c1"}); err != nil {
		t.Fatal(err)
	}

	longText := strings.Repeat("word ", 500)
	if err := repo.AppendRecords(ctx, "c1", []store.Record{
		{ID: "r1", TurnID: "t1", Role: chatmodel.RoleUser, Type: store.RecordTypeMessage, Text: longText, CreatedAt: 1},
	}); err != nil {
		t.Fatal(err)
	}

	released := make(chan struct{})
	summarizer := &stubSummarizer{result: "compressed", released: released}
	b := newTestBuilder(repo, summarizer)

	if _, _, err := b.Build(ctx, "c1", 10); err != nil {
		t.Fatal(err)
	}
	if _, _, err := b.Build(ctx, "c1", 10); err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)
	close(released)

	deadline := time.Now().Add(2 * time.Second)
	for summarizer.callCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(20 * time.Millisecond)
	if got := summarizer.callCount(); got != 1 {
		t.Fatalf("expected exactly 1 summarisation call while one is in flight, got %d", got)
	}
}

func TestCharApproxCounter(t *testing.T) {
	c := CharApproxCounter{}
	if got := c.Count("12345678"); got != 2 {
		t.Fatalf("expected 8/4=2, got %d", got)
	}
}
