package ai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"go.uber.org/zap"

	"github.com/ObiAU/commentcurator/internal/logging"
)

const systemPrompt = "You are a strict content curator. You judge whether short comments work as standalone posts and you always answer with JSON only."

type OpenAIJudge struct {
	client openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIJudge returns a chat-completions judge. Extra options (base URL,
// HTTP client) are passed through to the SDK.
func NewOpenAIJudge(apiKey, model string, logger *zap.Logger, opts ...option.RequestOption) *OpenAIJudge {
	if model == "" {
		model = "gpt-4o-mini"
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)

	return &OpenAIJudge{
		client: openai.NewClient(opts...),
		model:  model,
		logger: logging.OrNop(logger).Named("openai"),
	}
}

func (j *OpenAIJudge) Name() string {
	return "openai:" + j.model
}

func (j *OpenAIJudge) Complete(ctx context.Context, prompt string) (string, error) {
	response, err := j.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(j.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature:         openai.Float(0.1),
		MaxCompletionTokens: openai.Int(4000),
	})
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}

	if len(response.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	j.logger.Debug("completion received",
		zap.Int64("prompt_tokens", response.Usage.PromptTokens),
		zap.Int64("completion_tokens", response.Usage.CompletionTokens))
	return response.Choices[0].Message.Content, nil
}
