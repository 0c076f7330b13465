package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// retryDelays mirrors sacenox-symb's sseRetryDelays: a short fixed backoff
// schedule for the initial connection attempt only, not the in-flight
// stream (an in-flight break is terminal per spec.md §7).
var retryDelays = []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// HTTPTransport issues chat-completion and reasoning-endpoint requests over
// plain net/http, requesting a server-sent-event response and handing the
// raw response body back unparsed. Grounded on sacenox-symb's
// httpDoSSE/sseAttempt retry loop.
type HTTPTransport struct {
	httpClient   *http.Client
	chatURL      string
	reasonURL    string
	apiKey       string
}

// NewHTTPTransport constructs an HTTPTransport targeting chatURL (chat
// completions) and reasonURL (the reasoning/responses endpoint).
func NewHTTPTransport(httpClient *http.Client, chatURL, reasonURL, apiKey string) *HTTPTransport {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPTransport{httpClient: httpClient, chatURL: chatURL, reasonURL: reasonURL, apiKey: apiKey}
}

type chatRequestBody struct {
	Model           string       `json:"model"`
	Messages        []ChatMessage `json:"messages"`
	Stream          bool         `json:"stream"`
	Tools           []toolParam  `json:"tools,omitempty"`
	ToolChoice      string       `json:"tool_choice,omitempty"`
	Temperature     *float32     `json:"temperature,omitempty"`
	MaxTokens       *uint32      `json:"max_tokens,omitempty"`
	MaxCompletionTk *uint32      `json:"max_completion_tokens,omitempty"`
	ReasoningEffort string       `json:"reasoning_effort,omitempty"`
}

type toolParam struct {
	Type     string `json:"type"`
	Function struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Parameters  any    `json:"parameters"`
	} `json:"function"`
}

func toToolParams(tools []ToolSchema) []toolParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]toolParam, len(tools))
	for i, t := range tools {
		out[i].Type = "function"
		out[i].Function.Name = t.Name
		out[i].Function.Description = t.Description
		out[i].Function.Parameters = t.Parameters
	}
	return out
}

// OpenChatStream issues a chat-completion stream request. Temperature and
// MaxTokens are sent (the latter as max_tokens) exactly as set on req; this
// method does not look at the model family, so the caller decides which
// sampling parameters to set.
func (t *HTTPTransport) OpenChatStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	body := chatRequestBody{
		Model:           req.Model,
		Messages:        req.Messages,
		Stream:          true,
		Tools:           toToolParams(req.Tools),
		ReasoningEffort: req.ReasoningEffort,
	}
	if len(body.Tools) > 0 {
		body.ToolChoice = "auto"
	}
	body.Temperature = req.Temperature
	body.MaxTokens = req.MaxTokens

	return t.openStream(ctx, t.chatURL, body)
}

type reasonRequestBody struct {
	Model     string       `json:"model"`
	Input     []ChatMessage `json:"input"`
	Stream    bool         `json:"stream"`
	Tools     []toolParam  `json:"tools,omitempty"`
	Reasoning *reasonOptions `json:"reasoning,omitempty"`
}

type reasonOptions struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// OpenReasonStream issues a reasoning/responses-endpoint stream request.
// Reasoning-family models reject temperature and max_tokens entirely
// (spec.md §4.5 ¶2), so neither is sent here.
func (t *HTTPTransport) OpenReasonStream(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	body := reasonRequestBody{
		Model:  req.Model,
		Input:  req.Messages,
		Stream: true,
		Tools:  toToolParams(req.Tools),
	}
	if req.ReasoningEffort != "" {
		body.Reasoning = &reasonOptions{Effort: req.ReasoningEffort, Summary: "auto"}
	}

	return t.openStream(ctx, t.reasonURL, body)
}

func (t *HTTPTransport) openStream(ctx context.Context, url string, body any) (io.ReadCloser, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("provider: failed to marshal request body: %w", err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := t.attempt(ctx, url, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt >= len(retryDelays) || !t.IsTransientError(err) {
			return nil, lastErr
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelays[attempt]):
		}
	}
}

func (t *HTTPTransport) attempt(ctx context.Context, url string, payload []byte) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("provider: failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if t.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider: request failed: %w", err)
	}

	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("provider: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if isTransientStatus(resp.StatusCode) {
			return nil, &transientError{err: err}
		}
		return nil, err
	}

	return resp.Body, nil
}

// transientError tags an error as eligible for the initial-connection
// retry loop and for IsTransientError.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// IsTransientError reports whether err represents a transient failure
// (network blip, 5xx, timeout) as opposed to a fatal one. Grounded on
// genesis/pkg/llm.FallbackClient.IsTransientError's substring classification
// and sacenox-symb's isTransientStatus, generalized into one check.
func (t *HTTPTransport) IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	var te *transientError
	if errors.As(err, &te) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"context deadline exceeded", "connection refused", "connection reset", "timeout", "eof"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
