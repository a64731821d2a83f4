package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ObiAU/commentcurator/internal/aggregator"
	"github.com/ObiAU/commentcurator/internal/ai"
	"github.com/ObiAU/commentcurator/internal/config"
	"github.com/ObiAU/commentcurator/internal/harvest"
	"github.com/ObiAU/commentcurator/internal/history"
	"github.com/ObiAU/commentcurator/internal/models"
	"github.com/ObiAU/commentcurator/internal/publisher"
	"github.com/ObiAU/commentcurator/internal/scheduler"
	"github.com/ObiAU/commentcurator/internal/selector"
	"github.com/ObiAU/commentcurator/internal/sources"
	"github.com/ObiAU/commentcurator/internal/storage"
	"github.com/ObiAU/commentcurator/internal/telegram"
)

// app holds everything build wires together.
type app struct {
	closers  []func() error
	pipeline *aggregator.Pipeline
	runtime  *aggregator.Aggregator
	bot      *telegram.Bot
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func openSettings(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*config.Settings, func() error, error) {
	db, err := storage.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	settings, err := config.NewSettings(ctx, db, cfg.Settings, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return settings, db.Close, nil
}

func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	db, err := storage.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)

	settings, err := config.NewSettings(ctx, db, cfg.Settings, logger)
	if err != nil {
		return nil, err
	}

	var store interface {
		models.HistoryStore
		aggregator.HistoryReader
	}
	switch cfg.Database.History {
	case "memory":
		mem := history.NewMemory(models.DedupWindow)
		a.closers = append(a.closers, mem.Close)
		store = mem
	case "sqlite", "":
		store = history.NewSQLite(db)
	default:
		return nil, fmt.Errorf("unknown history backend %q", cfg.Database.History)
	}

	backend, err := sources.NewBackend(cfg.Reddit, logger)
	if err != nil {
		return nil, err
	}
	harvester := harvest.New(sources.NewFetcher(backend, logger), logger)

	judge, err := ai.NewJudge(ctx, cfg.Judge, logger)
	switch {
	case errors.Is(err, ai.ErrNotConfigured):
		logger.Warn("no judgment service configured, quality filtering is off", zap.Error(err))
		judge = nil
	case err != nil:
		return nil, err
	default:
		logger.Info("judgment service ready", zap.String("judge", judge.Name()))
	}
	evaluator := ai.NewEvaluator(judge, logger)

	twitter := publisher.NewTwitterClient(cfg.Twitter, logger)
	var pub publisher.Publisher = twitter
	if cfg.DryRun {
		pub = publisher.NewDryRun(logger)
	} else if !twitter.Configured() {
		logger.Warn("twitter credentials are incomplete, publishing will fail")
	}
	sel := selector.New(store, pub, logger)

	var notifier aggregator.Notifier
	if cfg.Telegram.Token != "" {
		a.bot, err = telegram.NewBot(cfg.Telegram, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { a.bot.Close(); return nil })
		notifier = a.bot
	} else {
		logger.Warn("telegram is not configured, notifications go to the log only")
		notifier = logNotifier{logger: logger.Named("notify")}
	}

	a.pipeline = aggregator.NewPipeline(harvester, evaluator, sel, settings, notifier, logger)
	sched := scheduler.New(a.pipeline.Cycle, settings, notifier, logger, scheduler.Options{
		PollInterval: cfg.Scheduler.PollInterval,
		Cooldown:     cfg.Scheduler.Cooldown,
		IntervalUnit: time.Minute,
	})

	var bot aggregator.Bot
	if a.bot != nil {
		a.bot.Bind(telegram.Controls{
			Scheduler: sched,
			Settings:  settings,
			Account:   twitter,
			Reports:   a.pipeline,
		})
		bot = a.bot
	}
	a.runtime = aggregator.New(cfg, a.pipeline, sched, bot, store, logger)

	ok = true
	return a, nil
}

// logNotifier stands in for Telegram when no bot token is configured.
type logNotifier struct {
	logger *zap.Logger
}

func (n logNotifier) Notify(_ context.Context, text string) {
	n.logger.Info("notification", zap.String("text", text))
}
