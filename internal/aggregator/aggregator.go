// Package aggregator runs the curation cycle and the long-lived runtime
// around it: scheduler, operator bot and HTTP endpoints.
package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ObiAU/commentcurator/internal/config"
	"github.com/ObiAU/commentcurator/internal/logging"
	"github.com/ObiAU/commentcurator/internal/models"
	"github.com/ObiAU/commentcurator/internal/scheduler"
)

const (
	shutdownTimeout = 5 * time.Second
	recentLimit     = 5
)

// HistoryReader lists recent publications for /stats.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]models.Record, error)
}

// storeStats is implemented by history stores that report their own counters.
type storeStats interface {
	Stats() map[string]interface{}
}

// Bot is the operator bot as seen by the runtime.
type Bot interface {
	Start(ctx context.Context) error
	Webhook() bool
	WebhookHandler(base context.Context) http.Handler
}

type Aggregator struct {
	config    *config.Config
	pipeline  *Pipeline
	scheduler *scheduler.Scheduler
	bot       Bot
	history   HistoryReader
	logger    *zap.Logger

	mu      sync.RWMutex
	running bool
	started time.Time
	addr    net.Addr
	ready   chan struct{}
}

// New wires the runtime. bot may be nil when Telegram is not configured,
// hist when no history summary should be served.
func New(cfg *config.Config, pipeline *Pipeline, sched *scheduler.Scheduler, bot Bot, hist HistoryReader, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		config:    cfg,
		pipeline:  pipeline,
		scheduler: sched,
		bot:       bot,
		history:   hist,
		logger:    logging.OrNop(logger).Named("aggregator"),
		ready:     make(chan struct{}),
	}
}

// Cycle adapts RunCycle to the scheduler. Outcomes are reported by the
// pipeline itself, so only panics reach the scheduler as crashes.
func (p *Pipeline) Cycle(ctx context.Context) error {
	p.RunCycle(ctx)
	return nil
}

// Run serves until ctx is cancelled, then shuts the HTTP server down and
// waits for the scheduler and bot to return.
func (a *Aggregator) Run(ctx context.Context) error {
	a.mu.Lock()
	a.running = true
	a.started = time.Now()
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	lis, err := net.Listen("tcp", ":"+a.config.Server.Port)
	if err != nil {
		return fmt.Errorf("listen on port %s: %w", a.config.Server.Port, err)
	}
	a.mu.Lock()
	a.addr = lis.Addr()
	a.mu.Unlock()
	close(a.ready)

	g, gctx := errgroup.WithContext(ctx)
	server := &http.Server{
		Handler:           a.routes(gctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		a.logger.Info("http server listening", zap.String("addr", lis.Addr().String()))
		if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown(server)
	})
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	if a.bot != nil {
		g.Go(func() error {
			if err := a.bot.Start(gctx); err != nil {
				return fmt.Errorf("telegram bot: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// Addr returns the listening address once Run has bound it.
func (a *Aggregator) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-a.ready:
		a.mu.RLock()
		defer a.mu.RUnlock()
		return a.addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *Aggregator) routes(base context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)
	mux.HandleFunc("/stats", a.statsHandler)
	if a.bot != nil && a.bot.Webhook() {
		mux.Handle("/webhook", a.bot.WebhookHandler(base))
	} else {
		mux.HandleFunc("/webhook", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "webhook mode is not enabled", http.StatusNotFound)
		})
	}
	return mux
}

func (a *Aggregator) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

type schedulerStats struct {
	State    scheduler.State `json:"state"`
	Enabled  bool            `json:"enabled"`
	Running  bool            `json:"running"`
	Interval string          `json:"interval"`
	LastRun  *time.Time      `json:"last_run,omitempty"`
	NextRun  *time.Time      `json:"next_run,omitempty"`
}

type cycleStats struct {
	CycleID           string    `json:"cycle_id"`
	Started           time.Time `json:"started"`
	Outcome           Outcome   `json:"outcome"`
	Sources           int       `json:"sources"`
	SuccessfulSources int       `json:"successful_sources"`
	Parents           int       `json:"posts"`
	Entries           int       `json:"comments"`
	HarvestSeconds    float64   `json:"harvest_seconds"`
	EntriesPerSecond  float64   `json:"comments_per_second"`
	Evaluated         int       `json:"evaluated"`
	EvalCalls         int       `json:"eval_calls"`
	Ranked            bool      `json:"ranked_fallback"`
	Eligible          int       `json:"eligible"`
	Duplicates        int       `json:"duplicates"`
	PublishID         string    `json:"publish_id,omitempty"`
	Error             string    `json:"error,omitempty"`
}

type publishedStats struct {
	PublishID   string    `json:"publish_id"`
	PublishedAt time.Time `json:"published_at"`
	Source      string    `json:"source,omitempty"`
	Confidence  float64   `json:"confidence"`
	Content     string    `json:"content"`
}

type historyStats struct {
	Recent []publishedStats       `json:"recent"`
	Store  map[string]interface{} `json:"store,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

type statsResponse struct {
	Running   bool           `json:"running"`
	Uptime    string         `json:"uptime"`
	DryRun    bool           `json:"dry_run"`
	Scheduler schedulerStats `json:"scheduler"`
	LastCycle *cycleStats    `json:"last_cycle,omitempty"`
	History   *historyStats  `json:"history,omitempty"`
}

func (a *Aggregator) statsHandler(w http.ResponseWriter, r *http.Request) {
	a.mu.RLock()
	resp := statsResponse{Running: a.running, DryRun: a.config.DryRun}
	if a.running {
		resp.Uptime = time.Since(a.started).Round(time.Second).String()
	}
	a.mu.RUnlock()

	st := a.scheduler.Status()
	resp.Scheduler = schedulerStats{
		State:    st.State,
		Enabled:  st.Enabled,
		Running:  st.Running,
		Interval: st.Interval.String(),
		LastRun:  timePtr(st.LastRun),
		NextRun:  timePtr(st.NextRun),
	}

	if rep, ok := a.pipeline.LastReport(); ok {
		cs := &cycleStats{
			CycleID:           rep.CycleID,
			Started:           rep.Started,
			Outcome:           rep.Outcome,
			Sources:           rep.Sources,
			SuccessfulSources: rep.SuccessfulSources,
			Parents:           rep.Parents,
			Entries:           rep.Entries,
			HarvestSeconds:    rep.HarvestElapsed.Seconds(),
			EntriesPerSecond:  rep.EntriesPerSecond,
			Evaluated:         rep.Evaluated,
			EvalCalls:         rep.EvalCalls,
			Ranked:            rep.Ranked,
			Eligible:          rep.Decision.Eligible,
			Duplicates:        rep.Decision.Duplicates,
		}
		if rep.Outcome == OutcomePublished && rep.Decision.Chosen != nil {
			cs.PublishID = rep.Decision.Chosen.PublishID
		}
		if rep.Err != nil {
			cs.Error = rep.Err.Error()
		}
		resp.LastCycle = cs
	}

	if a.history != nil {
		resp.History = a.historySummary(r.Context())
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *Aggregator) historySummary(ctx context.Context) *historyStats {
	hs := &historyStats{Recent: []publishedStats{}}
	if st, ok := a.history.(storeStats); ok {
		hs.Store = st.Stats()
	}

	records, err := a.history.Recent(ctx, recentLimit)
	if err != nil {
		a.logger.Warn("history summary failed", zap.Error(err))
		hs.Error = err.Error()
		return hs
	}
	for _, rec := range records {
		hs.Recent = append(hs.Recent, publishedStats{
			PublishID:   rec.PublishID,
			PublishedAt: rec.PublishedAt,
			Source:      rec.Source,
			Confidence:  rec.Confidence,
			Content:     rec.Content,
		})
	}
	return hs
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *Aggregator) shutdown(server *http.Server) error {
	a.logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}
