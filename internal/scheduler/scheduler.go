// Package scheduler runs the pipeline cycle on the configured interval while
// the auto-run flag is on.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ObiAU/commentcurator/internal/config"
	"github.com/ObiAU/commentcurator/internal/logging"
	"github.com/ObiAU/commentcurator/internal/models"
)

type State string

const (
	StateDisabled State = "disabled"
	StateArmed    State = "armed"
	StateRunning  State = "running"
)

const (
	DefaultPollInterval = 30 * time.Second
	DefaultCooldown     = 5 * time.Minute
)

// ErrCrash wraps a panic or error that escaped a scheduled cycle.
var ErrCrash = errors.New("scheduler crash")

// Cycle executes one full pipeline pass.
type Cycle func(ctx context.Context) error

// Settings is the part of the runtime settings store the scheduler uses.
type Settings interface {
	Bool(key string) bool
	Interval(unit time.Duration) time.Duration
	Set(ctx context.Context, key, raw string) (config.Value, error)
}

// Notifier receives operator-facing messages. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

type Options struct {
	PollInterval time.Duration
	Cooldown     time.Duration
	// IntervalUnit scales REDDIT_FETCH_INTERVAL. Defaults to time.Minute.
	IntervalUnit time.Duration
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State    State
	Enabled  bool
	Running  bool
	Interval time.Duration
	LastRun  time.Time
	NextRun  time.Time
}

type Scheduler struct {
	cycle    Cycle
	settings Settings
	notifier Notifier
	logger   *zap.Logger
	opts     Options

	runMu sync.Mutex // serializes cycles

	mu      sync.RWMutex
	state   State
	lastRun time.Time
	nextRun time.Time
	resumed bool

	wake chan struct{}
}

func New(cycle Cycle, settings Settings, notifier Notifier, logger *zap.Logger, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	if opts.IntervalUnit <= 0 {
		opts.IntervalUnit = time.Minute
	}
	return &Scheduler{
		cycle:    cycle,
		settings: settings,
		notifier: notifier,
		logger:   logging.OrNop(logger).Named("scheduler"),
		opts:     opts,
		state:    StateDisabled,
		wake:     make(chan struct{}, 1),
	}
}

// Run drives the state machine until ctx is cancelled. A crash inside the
// loop is logged and reported, then the loop starts over after the cooldown.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler loop started", zap.Duration("poll_interval", s.opts.PollInterval))
	for {
		err := s.loop(ctx)
		if ctx.Err() != nil {
			s.logger.Info("scheduler loop stopped")
			return nil
		}
		if err == nil {
			continue
		}

		s.mu.Lock()
		s.state = StateDisabled
		s.nextRun = time.Time{}
		s.resumed = true
		s.mu.Unlock()

		s.logger.Error("scheduler crashed",
			zap.String("kind", string(models.KindSchedulerCrash)),
			zap.Duration("cooldown", s.opts.Cooldown),
			zap.Error(err))
		s.notify(ctx, fmt.Sprintf("⚠️ Scheduler error: %v\nRestarting in %s.", err, s.opts.Cooldown))

		if !sleep(ctx, s.opts.Cooldown) {
			s.logger.Info("scheduler loop stopped during cooldown")
			return nil
		}
	}
}

func (s *Scheduler) loop(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCrash, r)
			s.logger.Debug("recovered panic", zap.ByteString("stack", debug.Stack()))
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		enabled := s.settings.Bool(config.KeyAutoEnabled)
		s.mu.RLock()
		state, next := s.state, s.nextRun
		s.mu.RUnlock()

		switch {
		case state == StateRunning:
			// A manual run is in flight; it signals when done.
			if !s.wait(ctx, s.opts.PollInterval) {
				return nil
			}
		case !enabled:
			if state == StateArmed {
				s.disarm(ctx)
			}
			if !s.wait(ctx, s.opts.PollInterval) {
				return nil
			}
		case state == StateDisabled:
			s.arm(ctx)
		case !time.Now().Before(next):
			if err := s.runScheduled(ctx); err != nil {
				return err
			}
		default:
			if !s.wait(ctx, min(time.Until(next), s.opts.PollInterval)) {
				return nil
			}
		}
	}
}

func (s *Scheduler) arm(ctx context.Context) {
	interval := s.interval()
	next := time.Now().Add(interval)

	s.mu.Lock()
	s.state = StateArmed
	s.nextRun = next
	resumed := s.resumed
	s.resumed = false
	s.mu.Unlock()

	s.logger.Info("scheduler armed", zap.Duration("interval", interval), zap.Time("next_run", next))
	if resumed {
		return
	}
	s.notify(ctx, fmt.Sprintf("✅ Auto scraper started.\nInterval: %s\nNext run: %s",
		interval, next.Format("2006-01-02 15:04:05")))
}

func (s *Scheduler) disarm(ctx context.Context) {
	s.mu.Lock()
	s.state = StateDisabled
	s.nextRun = time.Time{}
	s.mu.Unlock()

	s.logger.Info("scheduler disarmed")
	s.notify(ctx, "⏹️ Auto scraper stopped.")
}

func (s *Scheduler) runScheduled(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.setState(StateRunning)
	// A panic leaves the state for Run to reset.
	err := s.execute(ctx)

	now := time.Now()
	s.mu.Lock()
	s.lastRun = now
	s.nextRun = now.Add(s.interval())
	s.state = StateArmed
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrCrash, err)
	}
	return nil
}

func (s *Scheduler) execute(ctx context.Context) error {
	start := time.Now()
	err := s.cycle(ctx)
	s.logger.Info("cycle finished", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
	return err
}

// RunNow executes one cycle immediately. If the scheduler is armed, the
// next scheduled run is pushed to now plus the interval. A panic in the
// cycle is returned as an error.
func (s *Scheduler) RunNow(ctx context.Context) (err error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	prev := s.state
	s.state = StateRunning
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCrash, r)
		}

		now := time.Now()
		s.mu.Lock()
		s.lastRun = now
		s.state = prev
		if prev == StateArmed {
			s.nextRun = now.Add(s.interval())
		}
		s.mu.Unlock()
		s.signal()
	}()

	s.logger.Info("manual run requested", zap.String("state", string(prev)))
	return s.execute(ctx)
}

// Enable turns the auto-run flag on and wakes the loop.
func (s *Scheduler) Enable(ctx context.Context) error {
	return s.setEnabled(ctx, true)
}

// Disable turns the auto-run flag off and wakes the loop.
func (s *Scheduler) Disable(ctx context.Context) error {
	return s.setEnabled(ctx, false)
}

func (s *Scheduler) setEnabled(ctx context.Context, on bool) error {
	if _, err := s.settings.Set(ctx, config.KeyAutoEnabled, strconv.FormatBool(on)); err != nil {
		return fmt.Errorf("update %s: %w", config.KeyAutoEnabled, err)
	}
	s.signal()
	return nil
}

func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		State:    s.state,
		Enabled:  s.settings.Bool(config.KeyAutoEnabled),
		Running:  s.state == StateRunning,
		Interval: s.interval(),
		LastRun:  s.lastRun,
		NextRun:  s.nextRun,
	}
}

func (s *Scheduler) interval() time.Duration {
	return s.settings.Interval(s.opts.IntervalUnit)
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) notify(ctx context.Context, text string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, text)
}

// wait blocks for d, a wake signal or cancellation. It reports false only
// when ctx is done.
func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(max(d, 0))
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.wake:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
