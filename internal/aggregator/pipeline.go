package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ObiAU/commentcurator/internal/ai"
	"github.com/ObiAU/commentcurator/internal/config"
	"github.com/ObiAU/commentcurator/internal/harvest"
	"github.com/ObiAU/commentcurator/internal/logging"
	"github.com/ObiAU/commentcurator/internal/models"
	"github.com/ObiAU/commentcurator/internal/selector"
)

// Outcome is the terminal state of one cycle.
type Outcome string

const (
	OutcomeNoEntries     Outcome = "no_entries"
	OutcomeNoEligible    Outcome = "no_eligible"
	OutcomeAllDuplicate  Outcome = "all_duplicate"
	OutcomePublishFailed Outcome = "publish_failed"
	OutcomePublished     Outcome = "published"
	OutcomeError         Outcome = "error"
)

const (
	// RankFallbackCount entries are passed on when ranking by score alone.
	RankFallbackCount      = 10
	RankFallbackConfidence = 0.9
	rankFallbackReason     = "ranked by score (no AI screening)"
)

var errNoSources = errors.New("no sources configured")

// Notifier delivers operator messages. It must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Settings is what a cycle reads from the runtime settings store.
type Settings interface {
	Int(key string) int
	Bool(key string) bool
	SourceSpecs() []models.SourceSpec
}

// Report summarizes one cycle.
type Report struct {
	CycleID           string
	Started           time.Time
	Outcome           Outcome
	Sources           int
	SuccessfulSources int
	Parents           int
	Entries           int
	HarvestElapsed    time.Duration
	EntriesPerSecond  float64
	Evaluated         int
	EvalCalls         int
	Ranked            bool
	Decision          selector.Decision
	Err               error
	Elapsed           time.Duration
}

// Pipeline runs harvest, evaluation, selection and publishing once per call.
type Pipeline struct {
	harvester *harvest.Harvester
	evaluator *ai.Evaluator
	selector  *selector.Selector
	settings  Settings
	notifier  Notifier
	logger    *zap.Logger

	mu   sync.RWMutex
	last *Report
}

func NewPipeline(h *harvest.Harvester, ev *ai.Evaluator, sel *selector.Selector, settings Settings, notifier Notifier, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		harvester: h,
		evaluator: ev,
		selector:  sel,
		settings:  settings,
		notifier:  notifier,
		logger:    logging.OrNop(logger).Named("pipeline"),
	}
}

// LastReport returns the most recent cycle report.
func (p *Pipeline) LastReport() (Report, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return Report{}, false
	}
	return *p.last, true
}

// RunCycle executes one pass and sends exactly one notification describing
// how it ended.
func (p *Pipeline) RunCycle(ctx context.Context) Report {
	r := Report{CycleID: uuid.NewString(), Started: time.Now()}
	log := p.logger.With(zap.String("cycle", r.CycleID))
	log.Info("cycle started")

	p.run(ctx, &r, log)

	r.Elapsed = time.Since(r.Started)
	log.Info("cycle finished",
		zap.String("outcome", string(r.Outcome)),
		zap.Int("entries", r.Entries),
		zap.Int("eval_calls", r.EvalCalls),
		zap.Duration("elapsed", r.Elapsed),
		zap.Error(r.Err))

	p.mu.Lock()
	p.last = &r
	p.mu.Unlock()

	p.notify(ctx, cycleMessage(r))
	return r
}

func (p *Pipeline) run(ctx context.Context, r *Report, log *zap.Logger) {
	specs := p.settings.SourceSpecs()
	r.Sources = len(specs)
	if len(specs) == 0 {
		r.Outcome, r.Err = OutcomeError, errNoSources
		return
	}

	res := p.harvester.Harvest(ctx, specs)
	r.SuccessfulSources = res.SuccessfulSources()
	r.Parents = res.TotalParents()
	r.Entries = len(res.Entries)
	r.HarvestElapsed = res.Elapsed
	r.EntriesPerSecond = res.EntriesPerSecond()
	if err := ctx.Err(); err != nil {
		r.Outcome, r.Err = OutcomeError, fmt.Errorf("harvest interrupted: %w", err)
		return
	}
	if len(res.Entries) == 0 {
		r.Outcome = OutcomeNoEntries
		return
	}

	top := TopByScore(res.Entries, p.settings.Int(config.KeyTopComments))
	log.Debug("selected top entries for evaluation", zap.Int("count", len(top)))

	var scored []models.ScoredEntry
	if !p.evaluator.Available() && p.settings.Bool(config.KeyRankFallback) {
		scored = RankFallback(top)
		r.Ranked = true
	} else {
		scored, r.EvalCalls = p.evaluator.Score(ctx, top, p.settings.Int(config.KeyBatchSize))
	}
	r.Evaluated = len(scored)
	if err := ctx.Err(); err != nil {
		r.Outcome, r.Err = OutcomeError, fmt.Errorf("evaluation interrupted: %w", err)
		return
	}

	r.Decision = p.selector.Select(ctx, scored)
	switch r.Decision.Outcome {
	case selector.NoEligible:
		r.Outcome = OutcomeNoEligible
	case selector.AllDuplicate:
		r.Outcome = OutcomeAllDuplicate
	case selector.PublishFailed:
		r.Outcome = OutcomePublishFailed
		r.Err = r.Decision.PublishErr
	case selector.Published:
		r.Outcome = OutcomePublished
	}
}

func (p *Pipeline) notify(ctx context.Context, text string) {
	if p.notifier == nil {
		p.logger.Debug("no notifier configured", zap.String("message", text))
		return
	}
	p.notifier.Notify(ctx, text)
}

// TopByScore returns up to n entries with the highest raw score. Equal
// scores keep fetch order. n <= 0 keeps everything.
func TopByScore(entries []models.RawEntry, n int) []models.RawEntry {
	out := append([]models.RawEntry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// RankFallback stands in for evaluation when no judgment service is
// configured: the first RankFallbackCount entries are accepted with a
// fixed confidence. entries must already be ordered by score.
func RankFallback(entries []models.RawEntry) []models.ScoredEntry {
	n := min(len(entries), RankFallbackCount)
	out := make([]models.ScoredEntry, n)
	for i := 0; i < n; i++ {
		out[i] = models.ScoredEntry{
			RawEntry: entries[i],
			Assessment: models.NewAssessment(models.LabelAccept, rankFallbackReason,
				RankFallbackConfidence, models.OutcomeRanked),
		}
	}
	return out
}
