package ai

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ObiAU/commentcurator/internal/logging"
	"github.com/ObiAU/commentcurator/internal/models"
)

const (
	// MinEntryLength is the shortest body, in characters, sent to evaluation.
	MinEntryLength = 10
	// DefaultBatchSize applies when Score is given a non-positive size.
	DefaultBatchSize = 10
	// BatchDelay separates consecutive batch calls.
	BatchDelay = 500 * time.Millisecond

	reasonDisabled = "quality filtering disabled"
	reasonFailed   = "evaluation failed"
	neutralScore   = 0.5
)

// Evaluator scores entries with an optional Judge. Without one every entry
// passes through with a neutral assessment.
type Evaluator struct {
	judge      Judge
	logger     *zap.Logger
	batchDelay time.Duration
}

// NewEvaluator accepts a nil judge.
func NewEvaluator(judge Judge, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		judge:      judge,
		logger:     logging.OrNop(logger).Named("evaluator"),
		batchDelay: BatchDelay,
	}
}

// Available reports whether a judgment service is configured.
func (e *Evaluator) Available() bool {
	return e.judge != nil
}

func disabled() models.Assessment {
	return models.NewAssessment(models.LabelAccept, reasonDisabled, neutralScore, models.OutcomeDisabled)
}

func failed() models.Assessment {
	return models.NewAssessment(models.LabelAccept, reasonFailed, neutralScore, models.OutcomeFailed)
}

// EvaluateBatch returns one assessment per entry, in input order, and the
// number of service calls made. A malformed or short batch answer falls back
// to one call per entry.
func (e *Evaluator) EvaluateBatch(ctx context.Context, entries []models.RawEntry) ([]models.Assessment, int) {
	if len(entries) == 0 {
		return nil, 0
	}
	if e.judge == nil {
		out := make([]models.Assessment, len(entries))
		for i := range out {
			out[i] = disabled()
		}
		return out, 0
	}

	calls := 1
	raw, err := e.judge.Complete(ctx, batchPrompt(entries))
	if err == nil {
		var out []models.Assessment
		if out, err = parseBatch(raw, len(entries)); err == nil {
			return out, calls
		}
	}

	e.logger.Warn("batch evaluation unusable, evaluating one by one",
		zap.String("kind", string(errorKind(err))),
		zap.Int("entries", len(entries)),
		zap.Error(err))

	out := make([]models.Assessment, len(entries))
	for i, entry := range entries {
		out[i] = e.EvaluateOne(ctx, entry)
		calls++
	}
	return out, calls
}

// EvaluateOne judges a single entry. It never fails: any call or parse
// error yields an accepting assessment marked OutcomeFailed.
func (e *Evaluator) EvaluateOne(ctx context.Context, entry models.RawEntry) models.Assessment {
	if e.judge == nil {
		return disabled()
	}

	raw, err := e.judge.Complete(ctx, singlePrompt(entry.Body))
	if err == nil {
		var a models.Assessment
		if a, err = parseSingle(raw); err == nil {
			return a
		}
	}

	e.logger.Warn("single evaluation failed",
		zap.String("kind", string(errorKind(err))),
		zap.String("entry", entry.ID),
		zap.Error(err))
	return failed()
}

func errorKind(err error) models.ErrorKind {
	switch {
	case errors.Is(err, ErrCountMismatch):
		return models.KindCountMismatch
	case errors.Is(err, ErrParse):
		return models.KindParse
	}
	return models.KindEvaluation
}

// Score drops entries shorter than MinEntryLength, evaluates the rest in
// batches of batchSize and returns them with their assessments together
// with the total service call count. Cancellation stops between batches.
func (e *Evaluator) Score(ctx context.Context, entries []models.RawEntry, batchSize int) ([]models.ScoredEntry, int) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	valid := make([]models.RawEntry, 0, len(entries))
	for _, entry := range entries {
		if utf8.RuneCountInString(strings.TrimSpace(entry.Body)) >= MinEntryLength {
			valid = append(valid, entry)
		}
	}

	scored := make([]models.ScoredEntry, 0, len(valid))
	total := 0
	for start := 0; start < len(valid); start += batchSize {
		if start > 0 && e.judge != nil {
			if !sleep(ctx, e.batchDelay) {
				e.logger.Info("scoring cancelled", zap.Int("scored", len(scored)), zap.Int("pending", len(valid)-start))
				break
			}
		}

		end := min(start+batchSize, len(valid))
		batch := valid[start:end]
		assessments, calls := e.EvaluateBatch(ctx, batch)
		total += calls

		for i, entry := range batch {
			scored = append(scored, models.ScoredEntry{
				RawEntry:   entry,
				Assessment: assessments[i],
				EvalCalls:  calls,
			})
		}
	}

	e.logger.Info("scoring finished",
		zap.Int("submitted", len(entries)),
		zap.Int("evaluated", len(scored)),
		zap.Int("too_short", len(entries)-len(valid)),
		zap.Int("calls", total),
		zap.Bool("judge_available", e.Available()))
	return scored, total
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
