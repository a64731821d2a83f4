// Package ai asks an external judgment service whether harvested entries
// stand on their own, and turns its answers into Assessments.
package ai

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ObiAU/commentcurator/internal/config"
)

// Judge is one request/response exchange with a judgment service.
type Judge interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
}

var (
	ErrNotConfigured = errors.New("judgment service not configured")
	ErrParse         = errors.New("judgment response could not be parsed")
	ErrCountMismatch = errors.New("judgment result count does not match input")
	ErrEmptyResponse = errors.New("judgment service returned no content")
)

// NewJudge builds the judge selected by cfg.Provider. Provider "none"
// returns ErrNotConfigured; the caller then runs without quality filtering.
func NewJudge(ctx context.Context, cfg config.JudgeConfig, logger *zap.Logger) (Judge, error) {
	switch cfg.Provider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini: %w: missing API key", ErrNotConfigured)
		}
		return NewGeminiJudge(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, logger)
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai: %w: missing API key", ErrNotConfigured)
		}
		return NewOpenAIJudge(cfg.OpenAIAPIKey, cfg.OpenAIModel, logger), nil
	}
	return nil, ErrNotConfigured
}
