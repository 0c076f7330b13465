// Package graph runs the reason -> act -> observe loop that drives one
// conversational turn to completion (spec.md §4.5): it dispatches to the
// LLM, reassembles streamed tool calls, executes them, and repeats until
// the model stops requesting tools, the iteration cap is hit, or the
// execution timeout elapses.
//
// Grounded on win30221-genesis/pkg/agent/engine.go's ProcessLLMStream,
// whose recursive "stream, collect tool calls, execute them all, stream
// again" shape is the direct ancestor of Engine.Run's loop — generalized
// from unbounded recursion to an explicit iteration-capped loop per
// spec.md's max_iterations/execution_timeout invariants.
package graph

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"forge/internal/accumulator"
	"forge/internal/chatmodel"
	"forge/internal/config"
	"forge/internal/obslog"
	"forge/internal/provider"
	"forge/internal/streamadapter"
	"forge/internal/toolexec"
	"forge/internal/tracing"
)

// inactivityTimeout bounds how long the engine waits for the next byte of
// a provider stream before declaring it stalled (spec.md §5).
const inactivityTimeout = 60 * time.Second

// Engine runs graph executions against a Transport and a tool Executor.
type Engine struct {
	transport provider.Transport
	tools     *toolexec.Executor
	graphCfg  config.GraphConfig
	ctxCfg    config.ContextConfig
	observer  tracing.Observer
}

// New constructs an Engine. observer may be nil, in which case run
// observations are discarded via tracing.NoopObserver.
func New(transport provider.Transport, tools *toolexec.Executor, graphCfg config.GraphConfig, ctxCfg config.ContextConfig, observer tracing.Observer) *Engine {
	if observer == nil {
		observer = tracing.NoopObserver{}
	}
	return &Engine{transport: transport, tools: tools, graphCfg: graphCfg, ctxCfg: ctxCfg, observer: observer}
}

// Run executes one graph run to completion, emitting spec.md §3's typed
// event sequence: InitStream first, EndStream last, channel closed after.
// messages is the prior-turn history plus the new user turn, already
// assembled by the Context Builder; Run appends to its own local copy as
// the loop progresses and never mutates the caller's slice.
func (e *Engine) Run(ctx context.Context, runID, conversationID, systemPrompt string, messages []chatmodel.Message, llmCfg config.LLMConfig) <-chan chatmodel.StreamEvent {
	out := make(chan chatmodel.StreamEvent, 1024)

	go func() {
		defer close(out)
		e.run(ctx, runID, conversationID, systemPrompt, messages, llmCfg, out)
	}()

	return out
}

func (e *Engine) run(ctx context.Context, runID, conversationID, systemPrompt string, messages []chatmodel.Message, llmCfg config.LLMConfig, out chan<- chatmodel.StreamEvent) {
	started := time.Now()

	// Every log line emitted for the remainder of this run carries run_id
	// via obslog.Handler, which reads it back out of the context.
	ctx = obslog.WithRunID(ctx, runID)

	runCtx := ctx
	var cancel context.CancelFunc
	if e.graphCfg.ExecutionTimeoutMs > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.graphCfg.ExecutionTimeout())
		defer cancel()
	}

	send := func(ev chatmodel.StreamEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	e.observer.TraceStart(ctx, runID, conversationID)

	if !send(chatmodel.NewInitStreamEvent(runID, conversationID, started.UnixMilli())) {
		return
	}

	history := make([]chatmodel.Message, len(messages))
	copy(history, messages)

	for iteration := 0; iteration < e.graphCfg.MaxIterations; iteration++ {
		if runCtx.Err() != nil {
			slog.WarnContext(ctx, "graph: run exceeded execution timeout")
			e.endRun(ctx, send, runID, started, chatmodel.RunStatusError)
			return
		}

		stepStart := time.Now()
		assistantMsg, toolInvocations, reasoningText, finishReason, err := e.stepLLM(runCtx, systemPrompt, history, llmCfg, send)
		if err != nil {
			send(chatmodel.NewErrorEvent(err.Error(), "llm"))
			e.endRun(ctx, send, runID, started, chatmodel.RunStatusError)
			return
		}

		e.observer.TraceLLMNode(ctx, tracing.LLMObservation{
			RunID:          runID,
			ConversationID: conversationID,
			SpanID:         fmt.Sprintf("%s-llm-%d", runID, iteration),
			StartedAt:      stepStart,
			DurationMs:     time.Since(stepStart).Milliseconds(),
			Model:          llmCfg.Model,
			InputMessages:  buildWireMessages(systemPrompt, history),
			ReasoningText:  reasoningText,
			MessageText:    assistantMsg.Text,
			ToolCalls:      toTraceToolCalls(assistantMsg.ToolCalls),
		})

		history = append(history, assistantMsg)

		if len(toolInvocations) == 0 {
			slog.DebugContext(ctx, "graph: run completed with no further tool calls", "finish_reason", finishReason)
			e.endRun(ctx, send, runID, started, chatmodel.RunStatusSuccess)
			return
		}

		toolStart := time.Now()
		var toolResults []tracing.TraceToolResult

		for _, inv := range toolInvocations {
			callStart := time.Now()
			resultText, execErr := e.tools.Execute(runCtx, inv.ToolName, inv.ArgumentsJSON)
			isError := execErr != nil
			if isError {
				resultText = execErr.Error()
				slog.WarnContext(ctx, "graph: tool execution failed, continuing turn", "tool", inv.ToolName, "error", execErr)
			}
			durationMs := time.Since(callStart).Milliseconds()

			toolResults = append(toolResults, tracing.TraceToolResult{
				ToolCallID: inv.ID,
				ToolName:   inv.ToolName,
				Result:     resultText,
				IsError:    isError,
				DurationMs: durationMs,
			})

			if !send(chatmodel.NewToolResultEvent(inv.ID, resultText, isError, durationMs)) {
				return
			}

			history = append(history, chatmodel.NewToolResultMessage(inv.ID, resultText))
		}

		e.observer.TraceToolNode(ctx, tracing.ToolObservation{
			RunID:          runID,
			ConversationID: conversationID,
			SpanID:         fmt.Sprintf("%s-tool-%d", runID, iteration),
			StartedAt:      toolStart,
			DurationMs:     time.Since(toolStart).Milliseconds(),
			ToolCalls:      toTraceToolCalls(assistantMsg.ToolCalls),
			ToolResults:    toolResults,
		})
	}

	slog.WarnContext(ctx, "graph: run hit max_iterations", "max_iterations", e.graphCfg.MaxIterations)
	send(chatmodel.NewErrorEvent("maximum iterations reached without a final response", ""))
	e.endRun(ctx, send, runID, started, chatmodel.RunStatusError)
}

func (e *Engine) endRun(ctx context.Context, send func(chatmodel.StreamEvent) bool, runID string, started time.Time, status chatmodel.RunStatus) {
	durationMs := time.Since(started).Milliseconds()
	send(chatmodel.NewEndStreamEvent(status, durationMs))
	e.observer.TraceEnd(ctx, runID, string(status), durationMs)
}

func toTraceToolCalls(calls []chatmodel.ToolCall) []tracing.TraceToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]tracing.TraceToolCall, len(calls))
	for i, c := range calls {
		out[i] = tracing.TraceToolCall{ID: c.ID, Name: c.Name, Arguments: c.ArgumentsJSON}
	}
	return out
}

// stepLLM issues one LLM-node step: build the request, open the
// appropriate stream, forward every event to the caller, and reassemble
// the assistant's message plus any tool calls it requested.
func (e *Engine) stepLLM(ctx context.Context, systemPrompt string, history []chatmodel.Message, llmCfg config.LLMConfig, send func(chatmodel.StreamEvent) bool) (chatmodel.Message, []chatmodel.Segment, string, string, error) {
	descriptors, err := e.tools.ListTools(ctx)
	if err != nil {
		return chatmodel.Message{}, nil, "", "", err
	}

	req := provider.ChatRequest{
		Model:    llmCfg.Model,
		Messages: buildWireMessages(systemPrompt, history),
		Tools:    toToolSchemas(descriptors),
	}
	if llmCfg.ReasoningEffort != nil {
		req.ReasoningEffort = string(*llmCfg.ReasoningEffort)
	}

	reasoningFamily := e.ctxCfg.IsReasoningModel(llmCfg.Model)

	var (
		body io.ReadCloser
		kind streamadapter.RequestKind
	)

	if reasoningFamily {
		kind = streamadapter.RequestKindReasoning
		body, err = e.transport.OpenReasonStream(ctx, req)
	} else {
		req.Temperature = llmCfg.Temperature
		req.MaxTokens = llmCfg.MaxTokens
		kind = streamadapter.RequestKindChat
		body, err = e.transport.OpenChatStream(ctx, req)
	}
	if err != nil {
		return chatmodel.Message{}, nil, "", "", err
	}

	events := streamadapter.Adapt(ctx, body, kind, inactivityTimeout)
	acc := accumulator.New()
	finishReason := ""
	var text strings.Builder
	var reasoning strings.Builder

	collectSegment := func(seg chatmodel.Segment, ok bool) {
		if !ok {
			return
		}
		switch seg.Kind {
		case chatmodel.SegmentMessage:
			text.WriteString(seg.Text)
		case chatmodel.SegmentReasoning:
			reasoning.WriteString(seg.Text)
		}
	}

	for ev := range events {
		if !send(ev) {
			return chatmodel.Message{}, nil, "", "", ctx.Err()
		}
		switch ev.Kind {
		case chatmodel.EventError:
			return chatmodel.Message{}, nil, "", "", errString(ev.ErrorText)
		case chatmodel.EventDone:
			if ev.FinishReason != "" {
				finishReason = ev.FinishReason
			}
		}
		collectSegment(acc.Push(ev))
	}
	collectSegment(acc.Finalise())

	toolInvocations := acc.ToolInvocations()
	assistantMsg := chatmodel.Message{Role: chatmodel.RoleAssistant, Text: text.String()}
	for _, inv := range toolInvocations {
		assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, chatmodel.ToolCall{
			ID:            inv.ID,
			Name:          inv.ToolName,
			ArgumentsJSON: inv.ArgumentsJSON,
		})
	}

	return assistantMsg, toolInvocations, reasoning.String(), finishReason, nil
}

type errString string

func (e errString) Error() string { return string(e) }

func buildWireMessages(systemPrompt string, history []chatmodel.Message) []provider.ChatMessage {
	out := make([]provider.ChatMessage, 0, len(history)+1)
	if systemPrompt != "" {
		out = append(out, provider.ChatMessage{Role: string(chatmodel.RoleSystem), Content: systemPrompt})
	}
	for _, m := range history {
		wm := provider.ChatMessage{Role: string(m.Role), Content: m.Text, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			wtc := provider.ChatMessageToolCall{ID: tc.ID, Type: "function"}
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = tc.ArgumentsJSON
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		out = append(out, wm)
	}
	return out
}

func toToolSchemas(descriptors []toolexec.ToolDescriptor) []provider.ToolSchema {
	if len(descriptors) == 0 {
		return nil
	}
	out := make([]provider.ToolSchema, len(descriptors))
	for i, d := range descriptors {
		out[i] = provider.ToolSchema{Name: d.Name, Description: d.Description, Parameters: d.InputSchema}
	}
	return out
}
