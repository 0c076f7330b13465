// Package streamadapter turns a provider's server-sent-event byte stream
// into a typed, ordered sequence of chatmodel.StreamEvent values (spec.md
// §4.1). It is the one place raw bytes are parsed; everything downstream —
// the Graph Engine's tool-call reassembly, the Event Accumulator's segment
// folding — consumes only the typed events this package produces.
//
// Grounded on sacenox-symb/internal/provider/openai_common.go's hand-rolled
// SSE parsing (parseSSEStream / parseResponsesSSEStream), generalized onto
// the ring buffer this repo requires instead of bufio.Scanner.
package streamadapter

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"time"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"

	"forge/internal/chatmodel"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RequestKind selects which of the two provider payload shapes (spec.md
// §4.1 ¶3) the adapter should parse.
type RequestKind int

const (
	RequestKindChat RequestKind = iota
	RequestKindReasoning
)

var dataPrefix = []byte("data:")

// chatChunk is the chat-completion streaming delta shape.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			Reasoning        string `json:"reasoning"`
			ReasoningContent string `json:"reasoning_content"`
			ToolCalls        []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// reasoningChunk is the reasoning/responses streaming shape (spec.md §4.1
// ¶3): output_index 0 is reasoning content, any other index is message
// content, and a non-empty status marks completion.
type reasoningChunk struct {
	OutputIndex int    `json:"output_index"`
	Delta       string `json:"delta"`
	Text        string `json:"text"`
	Status      string `json:"status"`
}

// Adapt reads SSE-framed bytes from body and returns a channel of typed
// events. The channel is closed once the stream reaches [DONE], a terminal
// Error, or ctx is cancelled. body is closed by Adapt in every case.
//
// inactivityTimeout resets on every byte read; if it elapses without a new
// read, the stream is treated as stalled and a terminal Error is emitted
// (spec.md §5 "provider stream carries an inactivity deadline").
func Adapt(ctx context.Context, body io.ReadCloser, kind RequestKind, inactivityTimeout time.Duration) <-chan chatmodel.StreamEvent {
	out := make(chan chatmodel.StreamEvent, 64)

	go func() {
		defer close(out)
		defer body.Close()
		runAdaptLoop(ctx, body, kind, inactivityTimeout, out)
	}()

	return out
}

type readResult struct {
	n   int
	err error
}

func runAdaptLoop(ctx context.Context, body io.Reader, kind RequestKind, inactivityTimeout time.Duration, out chan<- chatmodel.StreamEvent) {
	rb := newRingBuffer(minBufferSize)
	chunk := make([]byte, minBufferSize)
	reads := make(chan readResult, 1)

	readOnce := func() {
		n, err := body.Read(chunk)
		reads <- readResult{n: n, err: err}
	}

	send := func(ev chatmodel.StreamEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var timer *time.Timer
	if inactivityTimeout > 0 {
		timer = time.NewTimer(inactivityTimeout)
		defer timer.Stop()
	}

	sawTerminal := false
	go readOnce()

	for {
		var timeoutCh <-chan time.Time
		if timer != nil {
			timeoutCh = timer.C
		}

		select {
		case <-ctx.Done():
			return

		case <-timeoutCh:
			send(chatmodel.NewErrorEvent("provider stream inactivity timeout", ""))
			return

		case res := <-reads:
			if timer != nil && !timer.Stop() {
				<-timer.C
			}

			if res.n > 0 {
				rb.Write(chunk[:res.n])
				for {
					line, ok := rb.NextLine()
					if !ok {
						break
					}
					terminal, sent := processLine(ctx, line, kind, send)
					if !sent {
						return
					}
					if terminal {
						sawTerminal = true
						return
					}
				}
			}

			if res.err != nil {
				if res.err != io.EOF {
					send(chatmodel.NewErrorEvent(res.err.Error(), ""))
				} else if !sawTerminal {
					send(chatmodel.NewErrorEvent("provider stream closed before completion", ""))
				}
				return
			}

			if timer != nil {
				timer.Reset(inactivityTimeout)
			}
			go readOnce()
		}
	}
}

// processLine parses one complete SSE line. It returns terminal=true when
// the stream must stop (literal [DONE], or a fatal parse error), and
// sent=false when the consumer went away mid-send.
func processLine(ctx context.Context, line []byte, kind RequestKind, send func(chatmodel.StreamEvent) bool) (terminal, sent bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return false, true
	}

	if !utf8.Valid(line) {
		return true, send(chatmodel.NewErrorEvent("malformed utf-8 in provider stream", ""))
	}

	if !bytes.HasPrefix(line, dataPrefix) {
		// Lines like "event: ..." or ": keep-alive" carry no payload for
		// the chat-style shape; the reasoning-style shape uses them only
		// to label the following data line, which we parse standalone.
		return false, true
	}

	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 {
		return false, true
	}

	if string(payload) == "[DONE]" {
		return true, send(chatmodel.NewDoneEvent(""))
	}

	if kind == RequestKindChat {
		return processChatPayload(ctx, payload, send)
	}
	return processReasoningPayload(payload, send)
}

func processChatPayload(ctx context.Context, payload []byte, send func(chatmodel.StreamEvent) bool) (terminal, sent bool) {
	var c chatChunk
	if err := json.Unmarshal(payload, &c); err != nil {
		return true, send(chatmodel.NewErrorEvent("malformed chat chunk json: "+err.Error(), ""))
	}
	if len(c.Choices) == 0 {
		slog.DebugContext(ctx, "streamadapter: chat chunk with no choices, skipping", "payload_len", len(payload))
		return false, true
	}
	choice := c.Choices[0]

	reasoning := choice.Delta.Reasoning
	if reasoning == "" {
		reasoning = choice.Delta.ReasoningContent
	}
	if reasoning != "" {
		if !send(chatmodel.NewReasoningEvent(reasoning)) {
			return false, false
		}
	}

	if choice.Delta.Content != "" {
		if !send(chatmodel.NewMessageEvent(choice.Delta.Content)) {
			return false, false
		}
	}

	for _, tc := range choice.Delta.ToolCalls {
		ev := chatmodel.NewToolCallEvent(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
		if !send(ev) {
			return false, false
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason != "" {
		if !send(chatmodel.NewDoneEvent(*choice.FinishReason)) {
			return false, false
		}
	}

	return false, true
}

func processReasoningPayload(payload []byte, send func(chatmodel.StreamEvent) bool) (terminal, sent bool) {
	var c reasoningChunk
	if err := json.Unmarshal(payload, &c); err != nil {
		return true, send(chatmodel.NewErrorEvent("malformed reasoning chunk json: "+err.Error(), ""))
	}

	text := c.Delta
	if text == "" {
		text = c.Text
	}

	if text != "" {
		if c.OutputIndex == 0 {
			if !send(chatmodel.NewReasoningEvent(text)) {
				return false, false
			}
		} else {
			if !send(chatmodel.NewMessageEvent(text)) {
				return false, false
			}
		}
	}

	if c.Status != "" {
		if !send(chatmodel.NewDoneEvent(c.Status)) {
			return false, false
		}
	}

	return false, true
}
