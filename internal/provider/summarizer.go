package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Summarizer issues a single non-streaming completion, used by the Context
// Builder's summarisation subtask (spec.md §4.3 "Issue a non-streaming
// completion to a cheaper model"). It is deliberately not part of the
// Transport interface: summarisation never touches the Graph Engine's
// streaming hot path, so it is grounded directly on the official SDK
// instead of on a hand-rolled HTTP request.
type Summarizer interface {
	Summarize(ctx context.Context, model, systemPrompt, userPrompt string) (string, error)
}

// OpenAISummarizer wraps the official openai-go client. Grounded on
// win30221-genesis/pkg/llm/openailm.Client, which wraps the same SDK for
// its streaming path; this uses the non-streaming sibling call instead.
type OpenAISummarizer struct {
	client openai.Client
}

// NewOpenAISummarizer constructs an OpenAISummarizer authenticating with
// apiKey. baseURL overrides the default endpoint when non-empty, letting
// Azure-compatible or self-hosted gateways be used.
func NewOpenAISummarizer(apiKey, baseURL string) *OpenAISummarizer {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAISummarizer{client: openai.NewClient(opts...)}
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, model, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Role: "system",
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(systemPrompt),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Role: "user",
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(userPrompt),
					},
				},
			},
		},
	}

	completion, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("provider: summarisation completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("provider: summarisation completion returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}
