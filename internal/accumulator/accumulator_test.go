package accumulator

import (
	"testing"

	"forge/internal/chatmodel"
)

func TestPushAccumulatesContiguousMessageContent(t *testing.T) {
	a := New()
	if _, done := a.Push(chatmodel.NewMessageEvent("he")); done {
		t.Fatal("did not expect a completed segment mid-run")
	}
	if _, done := a.Push(chatmodel.NewMessageEvent("llo")); done {
		t.Fatal("did not expect a completed segment mid-run")
	}

	seg, ok := a.Finalise()
	if !ok {
		t.Fatal("expected a finalised segment")
	}
	if seg.Kind != chatmodel.SegmentMessage || seg.Text != "hello" {
		t.Fatalf("expected concatenated message segment, got %+v", seg)
	}
}

func TestPushTransitionEmitsPriorSegment(t *testing.T) {
	a := New()
	a.Push(chatmodel.NewReasoningEvent("thinking..."))

	seg, ok := a.Push(chatmodel.NewMessageEvent("42"))
	if !ok {
		t.Fatal("expected transition to finalise the reasoning segment")
	}
	if seg.Kind != chatmodel.SegmentReasoning || seg.Text != "thinking..." {
		t.Fatalf("expected reasoning segment, got %+v", seg)
	}

	final, ok := a.Finalise()
	if !ok {
		t.Fatal("expected a finalised message segment")
	}
	if final.Kind != chatmodel.SegmentMessage || final.Text != "42" {
		t.Fatalf("expected message segment, got %+v", final)
	}
}

func TestToolCallFragmentsReassembleByIndex(t *testing.T) {
	a := New()
	a.Push(chatmodel.NewToolCallEvent(0, "c1", "calc", `{"x":1`))
	a.Push(chatmodel.NewToolCallEvent(0, "", "", "}"))

	invocations := a.ToolInvocations()
	if len(invocations) != 1 {
		t.Fatalf("expected 1 invocation, got %d: %+v", len(invocations), invocations)
	}
	inv := invocations[0]
	if inv.ID != "c1" || inv.ToolName != "calc" || inv.ArgumentsJSON != `{"x":1}` {
		t.Fatalf("unexpected invocation: %+v", inv)
	}
}

func TestMultipleToolCallsPreserveFirstSeenOrder(t *testing.T) {
	a := New()
	a.Push(chatmodel.NewToolCallEvent(1, "c2", "second", "{}"))
	a.Push(chatmodel.NewToolCallEvent(0, "c1", "first", "{}"))

	invocations := a.ToolInvocations()
	if len(invocations) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(invocations))
	}
	if invocations[0].ToolName != "second" || invocations[1].ToolName != "first" {
		t.Fatalf("expected first-seen order preserved, got %+v", invocations)
	}
}

func TestFinaliseOnEmptyAccumulatorReturnsFalse(t *testing.T) {
	a := New()
	if _, ok := a.Finalise(); ok {
		t.Fatal("expected no segment from an idle accumulator")
	}
}

func TestNonClassifyingEventsDoNotAffectState(t *testing.T) {
	a := New()
	a.Push(chatmodel.NewMessageEvent("partial"))
	a.Push(chatmodel.NewToolResultEvent("c1", "ok", false, 10))
	seg, ok := a.Finalise()
	if !ok || seg.Text != "partial" {
		t.Fatalf("expected ToolResult event to not disturb the in-flight message run, got %+v ok=%v", seg, ok)
	}
}

func TestAccumulationIsAssociativeOverStreamSplits(t *testing.T) {
	events := []chatmodel.StreamEvent{
		chatmodel.NewReasoningEvent("a"),
		chatmodel.NewReasoningEvent("b"),
		chatmodel.NewMessageEvent("c"),
		chatmodel.NewMessageEvent("d"),
	}

	// Accumulate as one contiguous stream.
	whole := New()
	var wholeSegments []chatmodel.Segment
	for _, ev := range events {
		if seg, ok := whole.Push(ev); ok {
			wholeSegments = append(wholeSegments, seg)
		}
	}
	if seg, ok := whole.Finalise(); ok {
		wholeSegments = append(wholeSegments, seg)
	}

	// Accumulate the same events split across two accumulator instances
	// wired together manually is not meaningful for this component — the
	// associativity property instead holds by feeding the same single
	// accumulator instance the two halves back-to-back, mirroring how the
	// Graph Engine would resume pushing into one still-open accumulator
	// after a network-level chunk boundary.
	split := New()
	var splitSegments []chatmodel.Segment
	for _, ev := range events[:2] {
		if seg, ok := split.Push(ev); ok {
			splitSegments = append(splitSegments, seg)
		}
	}
	for _, ev := range events[2:] {
		if seg, ok := split.Push(ev); ok {
			splitSegments = append(splitSegments, seg)
		}
	}
	if seg, ok := split.Finalise(); ok {
		splitSegments = append(splitSegments, seg)
	}

	if len(wholeSegments) != len(splitSegments) {
		t.Fatalf("expected same segment count, got %d vs %d", len(wholeSegments), len(splitSegments))
	}
	for i := range wholeSegments {
		if wholeSegments[i].Kind != splitSegments[i].Kind || wholeSegments[i].Text != splitSegments[i].Text {
			t.Errorf("segment %d differs: %+v vs %+v", i, wholeSegments[i], splitSegments[i])
		}
	}
}
