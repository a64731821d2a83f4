// Package harvest fetches many sources at once and merges their entries in
// configuration order.
package harvest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ObiAU/commentcurator/internal/logging"
	"github.com/ObiAU/commentcurator/internal/models"
	"github.com/ObiAU/commentcurator/internal/sources"
)

// OuterConcurrency bounds simultaneous source fetches.
const OuterConcurrency = 5

// SourceFetcher fetches one source. *sources.Fetcher satisfies it.
type SourceFetcher interface {
	FetchDetailed(ctx context.Context, spec models.SourceSpec) sources.FetchResult
}

// SourceResult is the per-source part of a Result.
type SourceResult struct {
	Spec    models.SourceSpec
	Parents []models.Parent
	Entries []models.RawEntry
	Err     error
}

// Result is the merged output of one Harvest.
type Result struct {
	Sources []SourceResult
	Entries []models.RawEntry
	Elapsed time.Duration
}

// SuccessfulSources counts sources that yielded at least one entry.
func (r Result) SuccessfulSources() int {
	n := 0
	for _, s := range r.Sources {
		if len(s.Entries) > 0 {
			n++
		}
	}
	return n
}

func (r Result) TotalParents() int {
	n := 0
	for _, s := range r.Sources {
		n += len(s.Parents)
	}
	return n
}

// EntriesPerSecond is zero when nothing was fetched or no time elapsed.
func (r Result) EntriesPerSecond() float64 {
	if len(r.Entries) == 0 || r.Elapsed <= 0 {
		return 0
	}
	return float64(len(r.Entries)) / r.Elapsed.Seconds()
}

type Harvester struct {
	fetcher     SourceFetcher
	logger      *zap.Logger
	concurrency int
}

func New(fetcher SourceFetcher, logger *zap.Logger) *Harvester {
	return &Harvester{
		fetcher:     fetcher,
		logger:      logging.OrNop(logger).Named("harvest"),
		concurrency: OuterConcurrency,
	}
}

// Harvest fetches every spec and concatenates entries in spec order. A
// source that fails or panics contributes nothing and does not affect the
// others.
func (h *Harvester) Harvest(ctx context.Context, specs []models.SourceSpec) Result {
	start := time.Now()
	results := make([]SourceResult, len(specs))

	var g errgroup.Group
	g.SetLimit(h.concurrency)
	for i, spec := range specs {
		g.Go(func() error {
			results[i] = h.fetchOne(ctx, spec)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Sources: results, Elapsed: time.Since(start)}
	for _, sr := range results {
		if sr.Err != nil {
			h.logger.Error("source failed",
				zap.String("source", sr.Spec.Name),
				zap.String("kind", string(models.KindFetch)),
				zap.Error(sr.Err))
		}
		res.Entries = append(res.Entries, sr.Entries...)
	}

	h.logger.Info("harvest finished",
		zap.Int("sources", len(specs)),
		zap.Int("successful_sources", res.SuccessfulSources()),
		zap.Int("parents", res.TotalParents()),
		zap.Int("entries", len(res.Entries)),
		zap.Duration("elapsed", res.Elapsed),
		zap.Float64("entries_per_second", res.EntriesPerSecond()))
	return res
}

func (h *Harvester) fetchOne(ctx context.Context, spec models.SourceSpec) (sr SourceResult) {
	sr.Spec = spec
	defer func() {
		if r := recover(); r != nil {
			sr = SourceResult{Spec: spec, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := ctx.Err(); err != nil {
		sr.Err = err
		return sr
	}

	fr := h.fetcher.FetchDetailed(ctx, spec)
	sr.Parents = fr.Parents
	sr.Entries = fr.Entries
	sr.Err = fr.ListErr
	return sr
}
