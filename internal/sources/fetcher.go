package sources

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ObiAU/commentcurator/internal/logging"
	"github.com/ObiAU/commentcurator/internal/models"
)

// InnerConcurrency bounds simultaneous child fetches within one source.
const InnerConcurrency = 10

// Fetcher turns a SourceSpec into parents and their child entries. It never
// returns an error: failures are logged and shrink the result.
type Fetcher struct {
	backend     Backend
	logger      *zap.Logger
	concurrency int
}

// FetchResult is the detailed outcome of one Fetch.
type FetchResult struct {
	Parents []models.Parent
	Entries []models.RawEntry
	// ListErr is set when the parent listing failed.
	ListErr error
	// FailedParents counts parents whose children could not be fetched.
	FailedParents int
	// ModeFallback is true when an unknown mode was replaced by hot.
	ModeFallback bool
}

func NewFetcher(backend Backend, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		backend:     backend,
		logger:      logging.OrNop(logger).Named("fetcher"),
		concurrency: InnerConcurrency,
	}
}

// Backend returns the underlying backend.
func (f *Fetcher) Backend() Backend {
	return f.backend
}

// Fetch returns the parents listed for spec and their qualifying children,
// in parent order.
func (f *Fetcher) Fetch(ctx context.Context, spec models.SourceSpec) ([]models.Parent, []models.RawEntry) {
	res := f.FetchDetailed(ctx, spec)
	return res.Parents, res.Entries
}

func (f *Fetcher) FetchDetailed(ctx context.Context, spec models.SourceSpec) FetchResult {
	var res FetchResult
	log := f.logger.With(zap.String("source", spec.Name), zap.String("backend", f.backend.Name()))

	mode, ok := models.ParseRankingMode(string(spec.Mode))
	if !ok {
		log.Warn("unknown ranking mode, using hot", zap.String("mode", string(spec.Mode)))
		res.ModeFallback = true
	}
	spec.Mode = mode

	parents, err := f.listParents(ctx, spec)
	if err != nil {
		log.Error("listing parents failed",
			zap.String("kind", string(models.KindFetch)), zap.Error(err))
		res.ListErr = err
		return res
	}
	if spec.ParentLimit > 0 && len(parents) > spec.ParentLimit {
		parents = parents[:spec.ParentLimit]
	}
	res.Parents = parents

	children := make([][]models.RawEntry, len(parents))
	errs := make([]error, len(parents))

	var g errgroup.Group
	g.SetLimit(f.concurrency)
	for i, parent := range parents {
		g.Go(func() error {
			children[i], errs[i] = f.listChildren(ctx, spec, parent)
			return nil
		})
	}
	_ = g.Wait()

	for i, parent := range parents {
		if errs[i] != nil {
			res.FailedParents++
			log.Warn("fetching children failed",
				zap.String("kind", string(models.KindFetch)),
				zap.String("parent", parent.ID), zap.Error(errs[i]))
			continue
		}
		res.Entries = append(res.Entries, children[i]...)
	}

	log.Debug("source fetched",
		zap.Int("parents", len(res.Parents)),
		zap.Int("entries", len(res.Entries)),
		zap.Int("failed_parents", res.FailedParents))
	return res
}

func (f *Fetcher) listParents(ctx context.Context, spec models.SourceSpec) (parents []models.Parent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic listing %s: %v\n%s", spec.Name, r, debug.Stack())
		}
	}()
	return f.backend.ListParents(ctx, spec)
}

// listChildren fetches one parent's children, drops removed bodies and caps
// the result at spec.ChildLimit.
func (f *Fetcher) listChildren(ctx context.Context, spec models.SourceSpec, parent models.Parent) (entries []models.RawEntry, err error) {
	defer func() {
		if r := recover(); r != nil {
			entries = nil
			err = fmt.Errorf("panic fetching %s: %v", parent.ID, r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := f.backend.ListChildren(ctx, spec, parent)
	if err != nil {
		return nil, err
	}

	out := make([]models.RawEntry, 0, len(raw))
	for _, e := range raw {
		if spec.ChildLimit > 0 && len(out) >= spec.ChildLimit {
			break
		}
		if removedBody(e.Body) {
			continue
		}
		if e.ParentID == "" {
			e.ParentID = parent.ID
		}
		if e.Source == "" {
			e.Source = spec.Name
		}
		out = append(out, e)
	}
	return out, nil
}
