// Package publisher posts selected text to the outside world.
package publisher

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ObiAU/commentcurator/internal/logging"
	"github.com/ObiAU/commentcurator/internal/models"
)

// Publisher posts text exactly as given. Callers truncate beforehand; a
// Publisher never retries.
type Publisher interface {
	Publish(ctx context.Context, text string) Result
}

// Result is the outcome of one Publish.
type Result struct {
	Success bool
	ID      string
	Content string
	Err     *Error
}

// Error is a classified publish failure.
type Error struct {
	Kind    models.ErrorKind
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func failure(text string, err *Error) Result {
	return Result{Content: text, Err: err}
}

// Classify maps an HTTP status and error message onto the publish error
// taxonomy.
func Classify(status int, message string) models.ErrorKind {
	lower := strings.ToLower(message)
	switch {
	case status == 401:
		return models.KindPublishAuth
	case status == 403 && strings.Contains(lower, "duplicate"):
		return models.KindPublishDuplicate
	case status == 403 && strings.Contains(lower, "not permitted"):
		return models.KindPublishPerm
	case status == 403:
		return models.KindPublishForbidden
	case status == 413 || strings.Contains(lower, "too large"):
		return models.KindPublishTooLarge
	}
	return models.KindPublishUnknown
}

// DryRun logs instead of posting and always succeeds.
type DryRun struct {
	logger *zap.Logger
}

func NewDryRun(logger *zap.Logger) *DryRun {
	return &DryRun{logger: logging.OrNop(logger).Named("dryrun")}
}

func (d *DryRun) Publish(_ context.Context, text string) Result {
	id := "dryrun-" + uuid.NewString()
	d.logger.Info("dry run publish", zap.String("id", id), zap.String("text", text))
	return Result{Success: true, ID: id, Content: text}
}
