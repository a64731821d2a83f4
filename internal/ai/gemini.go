package ai

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/ObiAU/commentcurator/internal/logging"
)

type GeminiJudge struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGeminiJudge creates a Gemini API client. baseURL overrides are only
// used by tests.
func NewGeminiJudge(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiJudge, error) {
	return newGeminiJudge(ctx, apiKey, model, "", logger)
}

func newGeminiJudge(ctx context.Context, apiKey, model, baseURL string, logger *zap.Logger) (*GeminiJudge, error) {
	if model == "" {
		model = "gemini-2.5-flash-lite"
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiJudge{
		client: client,
		model:  model,
		logger: logging.OrNop(logger).Named("gemini"),
	}, nil
}

func (j *GeminiJudge) Name() string {
	return "gemini:" + j.model
}

func (j *GeminiJudge) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := j.client.Models.GenerateContent(ctx, j.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.1),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
