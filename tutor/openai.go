package tutor

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// OpenAITutor asks any OpenAI-compatible chat completions endpoint.
type OpenAITutor struct {
	client openai.Client
	model  string
}

// NewOpenAITutor creates a tutor for the endpoint at baseURL. An empty
// baseURL uses the client library default.
func NewOpenAITutor(baseURL, apiKey, model string, opts ...option.RequestOption) *OpenAITutor {
	if model == "" {
		model = DefaultModel
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)
	return &OpenAITutor{client: openai.NewClient(reqOpts...), model: model}
}

// Ask implements Tutor.
func (t *OpenAITutor) Ask(ctx context.Context, question, clusterContext string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt(question, clusterContext)),
		},
		Model: t.model,
	}
	resp, err := t.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("tutor completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("tutor completion: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
