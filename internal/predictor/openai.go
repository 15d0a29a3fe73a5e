package predictor

import (
	"context"
	"fmt"

	"github.com/hyperengineering/somnus/internal/types"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Compile-time interface checks
var (
	_ Predictor     = (*OpenAI)(nil)
	_ DreamAnalyzer = (*OpenAI)(nil)
)

// ChatService defines the interface for making chat completion API calls.
// This abstraction enables testing without calling the real OpenAI API.
type ChatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAI implements both providers with OpenAI chat completions.
type OpenAI struct {
	chat  ChatService
	model openai.ChatModel
}

// NewOpenAI creates a new OpenAI provider
func NewOpenAI(apiKey, model string) *OpenAI {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return NewOpenAIWithService(client.Chat.Completions, model)
}

// NewOpenAIWithService creates a provider over an existing chat service.
func NewOpenAIWithService(chat ChatService, model string) *OpenAI {
	return &OpenAI{chat: chat, model: openai.ChatModel(model)}
}

// Predict asks the model for today's forecast.
func (o *OpenAI) Predict(ctx context.Context, in Input) (*Output, error) {
	prompt, err := forecastPrompt(in)
	if err != nil {
		return nil, err
	}

	content, err := o.complete(ctx, forecastSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("forecast prediction failed: %w", err)
	}

	out, err := parseForecast(content)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Analyze asks the model to interpret a dream.
func (o *OpenAI) Analyze(ctx context.Context, text string, recentDreams []types.Dream) (*Analysis, error) {
	prompt, err := analysisPrompt(text, recentDreams)
	if err != nil {
		return nil, err
	}

	content, err := o.complete(ctx, analysisSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("dream analysis failed: %w", err)
	}

	return parseAnalysis(content)
}

// ModelName returns the chat model name
func (o *OpenAI) ModelName() string {
	return string(o.model)
}

func (o *OpenAI) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := o.chat.New(ctx, openai.ChatCompletionNewParams{
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		}),
		Model: openai.F(o.model),
	})
	if err != nil {
		return "", err
	}

	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrMalformedOutput)
	}
	return resp.Choices[0].Message.Content, nil
}
