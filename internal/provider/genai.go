package provider

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"google.golang.org/genai"
)

// GeminiTransport is a Transport implementation for the Gemini model family,
// exercising the multi-provider dispatch spec.md §4.5 ¶1 describes (a second
// provider family alongside the OpenAI-compatible HTTPTransport).
//
// Grounded on win30221-genesis/pkg/llm/gemini/client.go's GeminiClient: the
// message/tool conversion and thought-vs-text part handling follow it
// directly. Because Transport's contract is "return raw bytes, let
// streamadapter parse them" (spec.md §4.1), GeminiTransport translates the
// SDK's typed stream into the same synthesized SSE lines streamadapter
// already parses, piped through an io.Pipe, rather than exposing the SDK's
// iterator type across the Transport boundary.
type GeminiTransport struct {
	client *genai.Client
}

// NewGeminiTransport constructs a GeminiTransport backed by the Gemini API
// backend, mirroring NewGeminiClient's genai.NewClient construction.
func NewGeminiTransport(ctx context.Context, apiKey string) (*GeminiTransport, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("genai transport: failed to create client: %w", err)
	}
	return &GeminiTransport{client: client}, nil
}

// OpenChatStream opens a Gemini stream and frames every part as a
// chat-completion-shaped SSE line (thinking parts are never expected here;
// spec.md §4.5 routes reasoning-family models to OpenReasonStream instead).
func (g *GeminiTransport) OpenChatStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	return g.stream(ctx, req, false)
}

// OpenReasonStream opens a Gemini stream with thinking enabled, framing
// thought parts as output_index 0 and answer parts as output_index 1 to
// match streamadapter's reasoningChunk shape.
func (g *GeminiTransport) OpenReasonStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	return g.stream(ctx, req, true)
}

func (g *GeminiTransport) stream(ctx context.Context, req ChatRequest, thinking bool) (io.ReadCloser, error) {
	contents, systemInstruction := convertMessages(req.Messages)

	genConfig := &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction,
		Tools:             convertTools(req.Tools),
	}
	if thinking {
		genConfig.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	if req.Temperature != nil {
		genConfig.Temperature = req.Temperature
	}
	if req.MaxTokens != nil {
		genConfig.MaxOutputTokens = int32(*req.MaxTokens)
	}

	pr, pw := io.Pipe()

	go func() {
		var werr error
		defer func() { pw.CloseWithError(werr) }()

		iter := g.client.Models.GenerateContentStream(ctx, req.Model, contents, genConfig)

		toolIndex := 0
		for resp, err := range iter {
			if err != nil {
				werr = err
				return
			}
			for _, candidate := range resp.Candidates {
				if candidate.Content == nil {
					continue
				}
				finish := string(candidate.FinishReason)
				for _, part := range candidate.Content.Parts {
					if part.Text != "" {
						if err := writePart(pw, thinking, part.Thought, part.Text); err != nil {
							werr = err
							return
						}
					}
					if part.FunctionCall != nil {
						argsJSON, _ := json.Marshal(part.FunctionCall.Args)
						if err := writeToolCall(pw, toolIndex, part.FunctionCall.Name, string(argsJSON)); err != nil {
							werr = err
							return
						}
						toolIndex++
					}
				}
				if finish != "" {
					if err := writeFinish(pw, thinking, normalizeStopReason(finish)); err != nil {
						werr = err
						return
					}
				}
			}
		}
		if _, err := pw.Write([]byte("data: [DONE]\n")); err != nil {
			werr = err
		}
	}()

	return pr, nil
}

func writePart(w io.Writer, thinking, isThought bool, text string) error {
	if thinking {
		outputIndex := 1
		if isThought {
			outputIndex = 0
		}
		line, err := json.Marshal(struct {
			OutputIndex int    `json:"output_index"`
			Delta       string `json:"delta"`
		}{OutputIndex: outputIndex, Delta: text})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "data: %s\n", line)
		return err
	}

	line, err := json.Marshal(struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}{Choices: []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	}{{Delta: struct {
		Content string `json:"content"`
	}{Content: text}}}})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n", line)
	return err
}

func writeToolCall(w io.Writer, index int, name, argumentsJSON string) error {
	type fn struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	}
	type toolCall struct {
		Index    int `json:"index"`
		ID       string `json:"id"`
		Function fn     `json:"function"`
	}
	line, err := json.Marshal(struct {
		Choices []struct {
			Delta struct {
				ToolCalls []toolCall `json:"tool_calls"`
			} `json:"delta"`
		} `json:"choices"`
	}{Choices: []struct {
		Delta struct {
			ToolCalls []toolCall `json:"tool_calls"`
		} `json:"delta"`
	}{{Delta: struct {
		ToolCalls []toolCall `json:"tool_calls"`
	}{ToolCalls: []toolCall{{Index: index, ID: "call_" + strconv.Itoa(index), Function: fn{Name: name, Arguments: argumentsJSON}}}}}}})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n", line)
	return err
}

func writeFinish(w io.Writer, thinking bool, reason string) error {
	if thinking {
		line, err := json.Marshal(struct {
			OutputIndex int    `json:"output_index"`
			Status      string `json:"status"`
		}{OutputIndex: 1, Status: reason})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "data: %s\n", line)
		return err
	}

	line, err := json.Marshal(struct {
		Choices []struct {
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}{Choices: []struct {
		FinishReason string `json:"finish_reason"`
	}{{FinishReason: reason}}})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n", line)
	return err
}

// convertMessages mirrors GeminiClient.convertMessages: system-role messages
// become the SystemInstruction, tool-role messages become FunctionResponse
// parts under the user role (Gemini has no separate tool role), and
// assistant tool calls are reconstructed as FunctionCall parts.
func convertMessages(messages []ChatMessage) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var systemInstruction *genai.Content

	for _, m := range messages {
		switch m.Role {
		case "system":
			if m.Content != "" {
				systemInstruction = &genai.Content{Parts: []*genai.Part{{Text: m.Content}}}
			}
			continue
		case "tool":
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						Response: map[string]any{"result": m.Content},
					},
				}},
			})
			continue
		}

		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}

		var parts []*genai.Part
		if m.Content != "" {
			parts = append(parts, &genai.Part{Text: m.Content})
		}
		for _, tc := range m.ToolCalls {
			var args map[string]any
			json.Unmarshal([]byte(tc.Function.Arguments), &args)
			parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: tc.Function.Name, Args: args}})
		}
		if len(parts) > 0 {
			contents = append(contents, &genai.Content{Role: role, Parts: parts})
		}
	}

	return contents, systemInstruction
}

func convertTools(tools []ToolSchema) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	var fds []*genai.FunctionDeclaration
	for _, t := range tools {
		fd := &genai.FunctionDeclaration{Name: t.Name, Description: t.Description}
		if t.Parameters != nil {
			paramsJSON, _ := json.Marshal(t.Parameters)
			var schema genai.Schema
			if json.Unmarshal(paramsJSON, &schema) == nil {
				fd.Parameters = &schema
			}
		}
		fds = append(fds, fd)
	}
	return []*genai.Tool{{FunctionDeclarations: fds}}
}

// normalizeStopReason mirrors GeminiClient's normalizeStopReason, mapping
// Gemini's upper-cased finish reasons to the lowercase shape streamadapter
// expects in a finish_reason/status field.
func normalizeStopReason(reason string) string {
	switch strings.ToUpper(reason) {
	case "STOP", "FINISH_REASON_STOP":
		return "stop"
	case "MAX_TOKENS", "FINISH_REASON_MAX_TOKENS":
		return "length"
	default:
		return strings.ToLower(reason)
	}
}

// IsTransientError classifies Gemini API errors the same way
// GeminiClient.IsTransientError does: 5xx/overload/rate-limit/network
// errors are transient, everything else is terminal.
func (g *GeminiTransport) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "503"), strings.Contains(msg, "overloaded"):
		return true
	case strings.Contains(msg, "429"), strings.Contains(msg, "resource exhausted"), strings.Contains(msg, "resource_exhausted"):
		return true
	case strings.Contains(msg, "500"), strings.Contains(msg, "internal error"):
		return true
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "connection refused"), strings.Contains(msg, "context deadline exceeded"):
		return true
	default:
		return false
	}
}
