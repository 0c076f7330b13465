// Package accumulator folds a live chatmodel.StreamEvent sequence into an
// ordered list of persistable chatmodel.Segments (spec.md §4.4), detecting
// type transitions so each contiguous run of same-kind events becomes
// exactly one segment.
//
// Grounded on haowjy-meridian's mstream_adapter.go: processDelta's
// block-index-keyed jsonAccumulator/textAccumulator maps are the direct
// ancestor of toolBuffers here, and processCompleteBlock's transition
// detection (provider block index changes -> emit block_start/block_stop)
// is the ancestor of Accumulator.Push's state-transition check.
package accumulator

import (
	"strings"

	"github.com/google/uuid"

	"forge/internal/chatmodel"
)

// state identifies which contiguous run the accumulator currently holds.
type state int

const (
	stateIdle state = iota
	stateReasoning
	stateMessage
	stateToolCall
)

// toolCallBuffer accumulates the fragments of one in-flight tool call,
// keyed by its stream index (spec.md §4.4 "Tool-call events are keyed by
// index").
type toolCallBuffer struct {
	index int
	id    string
	name  string
	args  strings.Builder
}

// Accumulator is the state machine described in spec.md §4.4. It is not
// safe for concurrent use; one instance observes one run's event sequence.
type Accumulator struct {
	current state

	textBuf strings.Builder

	// toolOrder preserves first-seen order of tool-call indices so
	// Finalise emits ToolInvocation segments in a stable sequence even
	// though toolBuffers is a map.
	toolOrder   []int
	toolBuffers map[int]*toolCallBuffer
}

// New constructs an empty Accumulator, starting in the Idle state.
func New() *Accumulator {
	return &Accumulator{
		toolBuffers: make(map[int]*toolCallBuffer),
	}
}

func classify(ev chatmodel.StreamEvent) (state, bool) {
	switch ev.Kind {
	case chatmodel.EventReasoning:
		return stateReasoning, true
	case chatmodel.EventMessage:
		return stateMessage, true
	case chatmodel.EventToolCall:
		return stateToolCall, true
	default:
		return stateIdle, false
	}
}

// Push consumes one event and returns a completed Segment only when the
// current contiguous run transitions to a different kind. A Reasoning or
// Message run with empty text yields no Segment, and a tool-call run never
// does (its invocations come from ToolInvocations instead). Events that do
// not participate in segment classification (InitStream, ToolResult, Done,
// Error, EndStream) never produce a Segment here — ToolResult is persisted
// directly as a ToolOutcome by the caller, since it already arrives as one
// complete unit rather than a fragmented run.
func (a *Accumulator) Push(ev chatmodel.StreamEvent) (chatmodel.Segment, bool) {
	next, participates := classify(ev)
	if !participates {
		return chatmodel.Segment{}, false
	}

	var completed chatmodel.Segment
	var hasCompleted bool

	if a.current != stateIdle && a.current != next {
		completed, hasCompleted = a.finaliseCurrent()
	}

	a.current = next
	switch next {
	case stateReasoning, stateMessage:
		a.textBuf.WriteString(ev.Content)
	case stateToolCall:
		buf, ok := a.toolBuffers[ev.ToolCallIndex]
		if !ok {
			buf = &toolCallBuffer{index: ev.ToolCallIndex}
			a.toolBuffers[ev.ToolCallIndex] = buf
			a.toolOrder = append(a.toolOrder, ev.ToolCallIndex)
		}
		if ev.ToolCallID != "" {
			buf.id = ev.ToolCallID
		}
		if ev.ToolCallName != "" {
			buf.name = ev.ToolCallName
		}
		buf.args.WriteString(ev.ArgsFragment)
	}

	return completed, hasCompleted
}

// Finalise flushes any pending buffer at stream end (spec.md §4.4 "On
// stream end, finalise any pending buffer").
func (a *Accumulator) Finalise() (chatmodel.Segment, bool) {
	return a.finaliseCurrent()
}

func (a *Accumulator) finaliseCurrent() (chatmodel.Segment, bool) {
	switch a.current {
	case stateReasoning:
		text := a.textBuf.String()
		a.textBuf.Reset()
		a.current = stateIdle
		if text == "" {
			return chatmodel.Segment{}, false
		}
		return chatmodel.NewReasoningSegment(a.nextID(), text), true

	case stateMessage:
		text := a.textBuf.String()
		a.textBuf.Reset()
		a.current = stateIdle
		if text == "" {
			return chatmodel.Segment{}, false
		}
		return chatmodel.NewMessageSegment(a.nextID(), text), true

	case stateToolCall:
		a.current = stateIdle
		return chatmodel.Segment{}, false

	default:
		return chatmodel.Segment{}, false
	}
}

// ToolInvocations returns one ToolInvocation segment per distinct tool-call
// index observed so far, in first-seen order, with arguments_json set to
// the concatenation of all fragments received for that index. Unlike
// Reasoning/Message segments, tool calls are not flushed incrementally by
// Push/Finalise — a fragmented call only becomes meaningful once all of its
// argument chunks have arrived, which the Graph Engine (not this
// accumulator) knows to be true once the provider stream ends.
func (a *Accumulator) ToolInvocations() []chatmodel.Segment {
	segments := make([]chatmodel.Segment, 0, len(a.toolOrder))
	for _, idx := range a.toolOrder {
		buf := a.toolBuffers[idx]
		segments = append(segments, chatmodel.NewToolInvocationSegment(buf.id, buf.name, buf.args.String()))
	}
	return segments
}

func (a *Accumulator) nextID() string {
	return uuid.NewString()
}
