package engine

import (
	"context"
	"errors"
	"fmt"
	"scanwarden/internal/scan"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultInterval     = 30 * time.Minute
	DefaultInitialDelay = time.Second
)

// ErrStopped is returned by operations on a stopped scheduler.
var ErrStopped = errors.New("scheduler is stopped")

type SchedulerOptions struct {
	// Interval between periodic runs. Zero uses DefaultInterval.
	Interval time.Duration

	// InitialDelay before the first periodic run after Start.
	InitialDelay time.Duration
}

// Scheduler owns the periodic trigger and guarantees at most one active run.
// The run guard is the atomic state itself: a run starts only by moving the
// state from Idle or Scheduled to RunActive.
type Scheduler struct {
	runner       *Runner
	interval     time.Duration
	initialDelay time.Duration
	logger       zerolog.Logger

	state atomic.Int32
	armed atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	mode    scan.Mode
	last    *scan.Result
	runs    int
	runDone chan struct{}
}

func NewScheduler(runner *Runner, opts SchedulerOptions) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	if runner.Source == nil {
		return nil, errors.New("runner has no source factory")
	}
	if opts.Interval < 0 {
		return nil, fmt.Errorf("interval must be > 0, got %s", opts.Interval)
	}
	if opts.InitialDelay < 0 {
		return nil, fmt.Errorf("initial delay must be >= 0, got %s", opts.InitialDelay)
	}
	if opts.Interval == 0 {
		opts.Interval = DefaultInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:       runner,
		interval:     opts.Interval,
		initialDelay: opts.InitialDelay,
		logger:       log.With().Str("component", "scheduler").Logger(),
		ctx:          ctx,
		cancel:       cancel,
		mode:         scan.ModeForeground,
	}, nil
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Start arms the periodic trigger in the given mode. Calling it again
// replaces the trigger without touching an in-flight run.
func (s *Scheduler) Start(mode scan.Mode) error {
	if mode != scan.ModeForeground && mode != scan.ModeBackground {
		return fmt.Errorf("unsupported scheduler mode %q (must be one of: foreground, background)", mode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateStopped {
		return ErrStopped
	}
	if s.cron != nil {
		s.cron.Stop()
	}

	cl := cronLogger{logger: s.logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl)))
	s.entry = c.Schedule(newDelayedSchedule(time.Now(), s.initialDelay, s.interval), cron.FuncJob(s.tick))
	c.Start()
	s.cron = c
	s.mode = mode

	s.armed.Store(true)
	s.state.CompareAndSwap(int32(StateIdle), int32(StateScheduled))

	s.logger.Info().
		Str("mode", string(mode)).
		Dur("interval", s.interval).
		Dur("initial_delay", s.initialDelay).
		Msg("scheduler started")
	return nil
}

// Stop disarms the trigger, cancels any active run and moves to Stopped. It
// does not wait for the run to finish; use Shutdown for that. Calling Stop
// again is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if State(s.state.Swap(int32(StateStopped))) == StateStopped {
		s.mu.Unlock()
		return
	}
	s.armed.Store(false)
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	s.cancel()
	if c != nil {
		c.Stop()
	}
	s.logger.Info().Msg("scheduler stopped")
}

// Shutdown stops the scheduler and waits for an in-flight run to deliver its
// terminal event, or for ctx to be done.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.Stop()

	s.mu.Lock()
	done := s.runDone
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TriggerImmediate starts a run now unless one is already active or the
// scheduler is stopped. It reports whether a run was started.
func (s *Scheduler) TriggerImmediate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		cur := s.State()
		if cur != StateIdle && cur != StateScheduled {
			return false
		}
		if s.state.CompareAndSwap(int32(cur), int32(StateRunActive)) {
			break
		}
	}

	done := make(chan struct{})
	s.runDone = done
	go s.run(s.mode, done)
	return true
}

func (s *Scheduler) tick() {
	if !s.TriggerImmediate() {
		s.logger.Debug().Str("state", s.State().String()).Msg("tick skipped")
	}
}

func (s *Scheduler) run(mode scan.Mode, done chan struct{}) {
	defer close(done)
	defer s.release()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("scan run panicked")
		}
	}()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	res := s.runner.Run(ctx, mode)

	s.mu.Lock()
	s.last = res
	s.runs++
	s.mu.Unlock()
}

// release returns the guard: RunActive goes back to Scheduled while the
// trigger is armed, and to Idle otherwise. A stopped scheduler stays stopped.
func (s *Scheduler) release() {
	next := StateIdle
	if s.armed.Load() {
		next = StateScheduled
	}
	if !s.state.CompareAndSwap(int32(StateRunActive), int32(next)) {
		return
	}
	// Start may have armed the trigger between the load and the swap.
	if next == StateIdle && s.armed.Load() {
		s.state.CompareAndSwap(int32(StateIdle), int32(StateScheduled))
	}
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State        State         `json:"state"`
	Mode         scan.Mode     `json:"mode"`
	Interval     time.Duration `json:"interval_ns"`
	InitialDelay time.Duration `json:"initial_delay_ns"`
	NextRun      *time.Time    `json:"next_run,omitempty"`
	LastRun      *scan.Summary `json:"last_run,omitempty"`
	Runs         int           `json:"runs"`
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:        s.State(),
		Mode:         s.mode,
		Interval:     s.interval,
		InitialDelay: s.initialDelay,
		Runs:         s.runs,
	}
	if s.cron != nil && st.State != StateStopped {
		if next := s.cron.Entry(s.entry).Next; !next.IsZero() {
			st.NextRun = &next
		}
	}
	if s.last != nil {
		sum := s.last.Summary()
		st.LastRun = &sum
	}
	return st
}

// LastResult returns the most recent finished run, or nil.
func (s *Scheduler) LastResult() *scan.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
