// Package run implements the Run Coordinator (spec.md §4.6): the entry
// point that turns one user message into a persisted user turn, an
// assembled prompt, a Graph Engine execution, and a persisted assistant
// turn — while streaming every event to the caller as it happens.
//
// Grounded on win30221-genesis/pkg/agent/engine.go's HandleMessage, which
// performs the same sequence (persist user turn, build context, run the
// reasoning loop, persist the assistant turn) synchronously; this
// generalizes it to fold the assistant turn for persistence concurrently
// with forwarding the live event stream and to write it once that stream
// ends, since spec.md §4.6
// requires the caller to observe events as they occur rather than after
// the whole turn commits.
package run

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"forge/internal/accumulator"
	"forge/internal/chatmodel"
	"forge/internal/config"
	"forge/internal/obslog"
	"forge/internal/store"
)

// persistConcurrency bounds how many assistant-turn persistence writes can
// be in flight at once across all conversations a Coordinator is serving.
const persistConcurrency = 8

// ContextBuilder is the narrow interface the Coordinator depends on,
// satisfied by *ctxbuild.Builder.
type ContextBuilder interface {
	Build(ctx context.Context, conversationID string, maxTokens int) (systemPrompt string, messages []chatmodel.Message, err error)
}

// GraphRunner is the narrow interface the Coordinator depends on,
// satisfied by *graph.Engine.
type GraphRunner interface {
	Run(ctx context.Context, runID, conversationID, systemPrompt string, messages []chatmodel.Message, llmCfg config.LLMConfig) <-chan chatmodel.StreamEvent
}

// Coordinator wires the Context Builder and Graph Engine to the storage
// layer for one conversation turn at a time.
type Coordinator struct {
	repo    store.Repository
	builder ContextBuilder
	engine  GraphRunner
	ctxCfg  config.ContextConfig

	// persistGroup bounds and tracks the fire-and-forget assistant-turn
	// persistence writes spawned by forwardAndPersist, grounded on
	// golang.org/x/sync/errgroup's SetLimit semaphore idiom (adopted from
	// the pack's intelligencedev-manifold/sacenox-symb dependency surface,
	// not present in the teacher, which persists synchronously instead).
	persistGroup *errgroup.Group
}

// New constructs a Coordinator.
func New(repo store.Repository, builder ContextBuilder, engine GraphRunner, ctxCfg config.ContextConfig) *Coordinator {
	group := &errgroup.Group{}
	group.SetLimit(persistConcurrency)
	return &Coordinator{repo: repo, builder: builder, engine: engine, ctxCfg: ctxCfg, persistGroup: group}
}

// Run handles one user message end-to-end (spec.md §4.6): it persists the
// user turn, builds the prompt, starts the Graph Engine, and returns a
// channel the caller can range over for the live event sequence. The
// assistant turn's segments are folded concurrently with forwarding and
// written in one fire-and-forget AppendRecords call after the engine's
// channel closes; no assistant-turn record is stored while the run is still
// streaming.
func (c *Coordinator) Run(ctx context.Context, conversationID, userInput string, llmCfg config.LLMConfig) (<-chan chatmodel.StreamEvent, error) {
	if _, ok, err := c.repo.GetConversation(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("run: failed to look up conversation %q: %w", conversationID, err)
	} else if !ok {
		now := time.Now().UnixMilli()
		if err := c.repo.CreateConversation(ctx, store.Conversation{ID: conversationID, CreatedAt: now, UpdatedAt: now}); err != nil {
			return nil, fmt.Errorf("run: failed to create conversation %q: %w", conversationID, err)
		}
	}

	userTurnID := uuid.NewString()
	userRecord := store.Record{
		ID:        uuid.NewString(),
		TurnID:    userTurnID,
		Role:      chatmodel.RoleUser,
		Type:      store.RecordTypeMessage,
		Text:      userInput,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := c.repo.AppendRecords(ctx, conversationID, []store.Record{userRecord}); err != nil {
		return nil, fmt.Errorf("run: failed to persist user turn: %w", err)
	}

	systemPrompt, messages, err := c.builder.Build(ctx, conversationID, c.ctxCfg.MaxTokens)
	if err != nil {
		return nil, fmt.Errorf("run: failed to build context: %w", err)
	}
	messages = append(messages, chatmodel.NewUserMessage(userInput))

	runID := uuid.NewString()
	engineEvents := c.engine.Run(ctx, runID, conversationID, systemPrompt, messages, llmCfg)

	out := make(chan chatmodel.StreamEvent, 1024)
	go c.forwardAndPersist(runID, conversationID, engineEvents, out)

	return out, nil
}

// forwardAndPersist relays every event from the Graph Engine to out
// unchanged, while folding the assistant-turn segments through an
// Accumulator for persistence. Persistence happens fire-and-forget after
// the forwarding loop completes, so a slow storage write never delays
// delivery of the live stream to the caller.
func (c *Coordinator) forwardAndPersist(runID, conversationID string, events <-chan chatmodel.StreamEvent, out chan<- chatmodel.StreamEvent) {
	defer close(out)

	assistantTurnID := uuid.NewString()
	var records []store.Record

	acc := accumulator.New()
	pendingToolFlush := false

	appendRecord := func(rec store.Record) {
		rec.TurnID = assistantTurnID
		rec.ID = uuid.NewString()
		rec.CreatedAt = time.Now().UnixMilli()
		records = append(records, rec)
	}

	persistTextSegment := func(seg chatmodel.Segment, ok bool) {
		if !ok {
			return
		}
		recType := store.RecordTypeMessage
		if seg.Kind == chatmodel.SegmentReasoning {
			recType = store.RecordTypeReasoning
		}
		appendRecord(store.Record{Role: chatmodel.RoleAssistant, Type: recType, Text: seg.Text})
	}

	flushToolInvocations := func() {
		for _, inv := range acc.ToolInvocations() {
			appendRecord(store.Record{
				Role:          chatmodel.RoleAssistant,
				Type:          store.RecordTypeToolCall,
				ToolCallID:    inv.ID,
				ToolName:      inv.ToolName,
				ArgumentsJSON: inv.ArgumentsJSON,
			})
		}
	}

	for ev := range events {
		out <- ev

		switch ev.Kind {
		case chatmodel.EventReasoning, chatmodel.EventMessage:
			persistTextSegment(acc.Push(ev))

		case chatmodel.EventToolCall:
			// Pushing a ToolCall event can itself complete a prior
			// Reasoning/Message run (the accumulator's state transition),
			// so its return must be persisted here too, not discarded.
			persistTextSegment(acc.Push(ev))
			pendingToolFlush = true

		case chatmodel.EventToolResult:
			if pendingToolFlush {
				persistTextSegment(acc.Finalise())
				flushToolInvocations()
				acc = accumulator.New()
				pendingToolFlush = false
			}

			durationMs := ev.DurationMs
			appendRecord(store.Record{
				Role:       chatmodel.RoleTool,
				Type:       store.RecordTypeToolResult,
				ToolCallID: ev.InvocationID,
				Text:       ev.ResultText,
				DurationMs: &durationMs,
			})

		case chatmodel.EventEndStream:
			persistTextSegment(acc.Finalise())
			if pendingToolFlush {
				flushToolInvocations()
				pendingToolFlush = false
			}
		}
	}

	if len(records) == 0 {
		return
	}

	c.persistGroup.Go(func() error {
		persistCtx, cancel := context.WithTimeout(obslog.WithRunID(context.Background(), runID), 30*time.Second)
		defer cancel()
		if err := c.repo.AppendRecords(persistCtx, conversationID, records); err != nil {
			slog.ErrorContext(persistCtx, "run: failed to persist assistant turn", "conversation_id", conversationID, "turn_id", assistantTurnID, "error", err)
			return err
		}
		return nil
	})
}

// Close waits for any in-flight assistant-turn persistence writes to finish,
// for callers that want a clean shutdown drain (e.g. cmd/forged on SIGTERM).
func (c *Coordinator) Close() error {
	return c.persistGroup.Wait()
}
