// Package sources lists parent items and their child entries from a remote
// content platform.
package sources

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ObiAU/commentcurator/internal/config"
	"github.com/ObiAU/commentcurator/internal/models"
)

// Backend is one way of reaching the remote platform.
type Backend interface {
	Name() string
	ListParents(ctx context.Context, spec models.SourceSpec) ([]models.Parent, error)
	ListChildren(ctx context.Context, spec models.SourceSpec, parent models.Parent) ([]models.RawEntry, error)
}

// NewBackend builds the backend selected by cfg.Backend ("json" or "rss").
func NewBackend(cfg config.RedditConfig, logger *zap.Logger) (Backend, error) {
	opts := Options{
		ClientID:          cfg.ClientID,
		ClientSecret:      cfg.ClientSecret,
		Username:          cfg.Username,
		Password:          cfg.Password,
		UserAgent:         cfg.UserAgent,
		RequestsPerSecond: cfg.RequestsPerS,
	}

	switch strings.ToLower(cfg.Backend) {
	case "", "json":
		return NewRedditClient(opts, logger), nil
	case "rss":
		return NewRSSBackend(opts, logger), nil
	}
	return nil, fmt.Errorf("unknown reddit backend %q", cfg.Backend)
}
