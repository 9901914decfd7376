package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/haukened/focusflow/internal/focus/common/clock"
	"github.com/haukened/focusflow/internal/focus/common/log"
	"github.com/haukened/focusflow/internal/focus/domain"
)

// DefaultRecomputeInterval is the reconciliation period when none is set.
const DefaultRecomputeInterval = time.Minute

var (
	// ErrNotRunning is returned by Handle once Run has returned.
	ErrNotRunning = errors.New("scheduler is not running")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("scheduler is already running")
	// ErrMissingDependency is returned by New when a required option is nil.
	ErrMissingDependency = errors.New("scheduler dependency missing")
)

// Options configures a Scheduler.
type Options struct {
	Store  StateStore
	Rules  RuleTable
	Ledger *Ledger
	Clock  clock.Clock
	Logger log.Logger
	// RecomputeInterval is the tick period. Zero means DefaultRecomputeInterval.
	RecomputeInterval time.Duration
	// OnOpenPopup, when set, runs for every OPEN_EXTENSION_POPUP message.
	OnOpenPopup func()
}

type request struct {
	ctx   context.Context
	msg   Message
	reply chan result
}

type result struct {
	resp Response
	err  error
}

// Scheduler reconciles the rule table with the stored block list. A single
// goroutine, started by Run, owns every mutation: ticks, messages and the
// daily usage reset are serialized through its event loop.
type Scheduler struct {
	store       StateStore
	sync        *Synchronizer
	ledger      *Ledger
	clock       clock.Clock
	logger      log.Logger
	interval    time.Duration
	onOpenPopup func()

	requests chan request
	ready    chan struct{}
	stopped  chan struct{}
	running  atomic.Bool
	gate     atomic.Bool

	// Owned by the event loop.
	enabled   bool
	loaded    bool
	nextReset time.Time
	lastReset time.Time
}

// New validates opts and returns an idle Scheduler. Call Run to start it.
func New(opts Options) (*Scheduler, error) {
	if opts.Store == nil || opts.Rules == nil || opts.Ledger == nil {
		return nil, fmt.Errorf("%w: store, rules and ledger are required", ErrMissingDependency)
	}
	if opts.Clock == nil {
		opts.Clock = &clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.RecomputeInterval <= 0 {
		opts.RecomputeInterval = DefaultRecomputeInterval
	}
	return &Scheduler{
		store:       opts.Store,
		sync:        NewSynchronizer(opts.Rules, opts.Logger),
		ledger:      opts.Ledger,
		clock:       opts.Clock,
		logger:      opts.Logger,
		interval:    opts.RecomputeInterval,
		onOpenPopup: opts.OnOpenPopup,
		requests:    make(chan request),
		ready:       make(chan struct{}),
		stopped:     make(chan struct{}),
	}, nil
}

// Enabled reports the global blocking flag as last seen by the event loop.
// It is safe for concurrent use.
func (s *Scheduler) Enabled() bool { return s.gate.Load() }

// Ready is closed once startup reconciliation has finished.
func (s *Scheduler) Ready() <-chan struct{} { return s.ready }

// Run initializes blocking state, then serves ticks, messages and the daily
// reset until ctx is cancelled. Messages sent before initialization
// completes wait for it.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.stopped)

	s.initialize(ctx)
	close(s.ready)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	reset := time.NewTimer(s.armReset(ctx))
	defer reset.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(nil, "scheduler stopped")
			return nil
		case <-ticker.C:
			_ = s.recompute(ctx)
		case <-reset.C:
			s.dailyReset(ctx)
			reset.Reset(s.armReset(ctx))
		case req := <-s.requests:
			resp, err := s.dispatch(req.ctx, req.msg)
			req.reply <- result{resp: resp, err: err}
			if err == nil && req.msg.Type == MsgSetTimezone && !resp.Ignored {
				reset.Reset(s.armReset(ctx))
			}
		}
	}
}

// Handle submits msg to the event loop and waits for its reply.
func (s *Scheduler) Handle(ctx context.Context, msg Message) (Response, error) {
	req := request{ctx: ctx, msg: msg, reply: make(chan result, 1)}
	select {
	case s.requests <- req:
	case <-s.stopped:
		return Response{}, ErrNotRunning
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.resp, res.err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func (s *Scheduler) initialize(ctx context.Context) {
	if err := s.ensureLoaded(ctx); err != nil {
		s.logger.Error(map[string]any{"error": err.Error()}, "failed to load blocking state, will retry on next tick")
		return
	}
	if err := s.backfillSchedules(ctx); err != nil {
		s.logger.Warn(map[string]any{"error": err.Error()}, "failed to backfill default schedules")
	}
	_ = s.recompute(ctx)
	s.logger.Info(map[string]any{"enabled": s.enabled}, "scheduler initialized")
}

func (s *Scheduler) ensureLoaded(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	enabled, err := s.store.ExtensionEnabled(ctx)
	if err != nil {
		return fmt.Errorf("read enabled flag: %w", err)
	}
	s.setEnabled(enabled)
	return nil
}

func (s *Scheduler) setEnabled(enabled bool) {
	s.enabled = enabled
	s.loaded = true
	s.gate.Store(enabled)
}

// backfillSchedules gives every listed domain without a schedule the default.
func (s *Scheduler) backfillSchedules(ctx context.Context) error {
	sites, schedules, err := s.blockList(ctx)
	if err != nil {
		return err
	}
	missing := 0
	for _, site := range sites {
		if _, ok := schedules[site]; !ok {
			schedules[site] = domain.DefaultSchedule()
			missing++
		}
	}
	if missing == 0 {
		return nil
	}
	if err := s.store.SetSchedules(ctx, schedules); err != nil {
		return err
	}
	s.logger.Info(map[string]any{"count": missing}, "default schedules backfilled")
	return nil
}

// recompute reconciles the rule table with the stored state. While
// disabled it only removes rules. Errors are logged here and returned for
// callers that care; the next tick retries.
func (s *Scheduler) recompute(ctx context.Context) error {
	if err := s.ensureLoaded(ctx); err != nil {
		s.logger.Error(map[string]any{"error": err.Error()}, "recompute skipped")
		return err
	}
	if !s.enabled {
		if err := s.sync.RemoveAll(ctx); err != nil {
			s.logger.Error(map[string]any{"error": err.Error()}, "failed to remove rules while disabled")
			return err
		}
		return nil
	}
	desired, err := s.desiredDomains(ctx)
	if err != nil {
		s.logger.Error(map[string]any{"error": err.Error()}, "recompute aborted")
		return err
	}
	if err := s.sync.ApplyActiveDomains(ctx, s.enabled, desired); err != nil {
		s.logger.Error(map[string]any{"error": err.Error()}, "failed to apply rules")
		return err
	}
	return nil
}

// desiredDomains returns the listed domains whose schedule blocks right now.
func (s *Scheduler) desiredDomains(ctx context.Context) ([]string, error) {
	sites, err := s.store.BlockedSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("read blocked sites: %w", err)
	}
	schedules, err := s.store.Schedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("read schedules: %w", err)
	}
	tz, err := s.store.Timezone(ctx)
	if err != nil {
		return nil, fmt.Errorf("read timezone: %w", err)
	}
	now := s.clock.Now()
	desired := make([]string, 0, len(sites))
	for _, site := range sites {
		active, err := scheduleFor(schedules, site).ActiveAt(tz, now)
		if err != nil {
			s.logger.Warn(map[string]any{"domain": site, "error": err.Error()}, "schedule evaluation failed, not blocking")
			continue
		}
		if active {
			desired = append(desired, site)
		}
	}
	return desired, nil
}

func scheduleFor(schedules map[string]domain.BlockSchedule, site string) domain.BlockSchedule {
	if sched, ok := schedules[site]; ok {
		return sched
	}
	return domain.DefaultSchedule()
}

// armReset records the next local midnight and returns the wait until it.
func (s *Scheduler) armReset(ctx context.Context) time.Duration {
	loc := s.location(ctx)
	now := s.clock.Now().In(loc)
	from := now
	if from.Before(s.lastReset) {
		from = s.lastReset.In(loc)
	}
	s.nextReset = domain.NextMidnight(from)
	wait := s.nextReset.Sub(now)
	if wait < 0 {
		wait = 0
	}
	s.logger.Debug(map[string]any{"at": s.nextReset.Format(time.RFC3339), "wait": wait.String()}, "daily reset armed")
	return wait
}

// dailyReset files the counters of the day that just ended. It ignores the
// enabled flag.
func (s *Scheduler) dailyReset(ctx context.Context) {
	date := domain.DateKey(s.nextReset.Add(-time.Nanosecond))
	if err := s.ledger.Rollover(ctx, date); err != nil {
		s.logger.Error(map[string]any{"date": date, "error": err.Error()}, "daily usage reset failed")
	}
	s.lastReset = s.nextReset
}

func (s *Scheduler) location(ctx context.Context) *time.Location {
	tz, err := s.store.Timezone(ctx)
	if err != nil {
		s.logger.Warn(map[string]any{"error": err.Error()}, "timezone unavailable, using local time")
		return time.Local
	}
	loc, err := domain.LoadTimezone(tz)
	if err != nil {
		s.logger.Warn(map[string]any{"timezone": tz, "error": err.Error()}, "invalid timezone, using local time")
		return time.Local
	}
	return loc
}
