// Package scheduler drives synchronization passes on two cadences: a
// short fixed interval, and a once-daily run pinned to a wall-clock
// time in a configured timezone.
//
// The daily pin is resolved by forward simulation: probe each upcoming
// minute, convert it to the target zone, and stop at the first exact
// hour/minute match. That stays correct across DST and other offset
// transitions without offset tables, at the cost of at most 2880 probe
// evaluations, which is fine for a computation that runs once per day.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/quartz"

	syncengine "github.com/codepulse/leaderboard-server/internal/sync"
)

const (
	// DefaultInterval is the regular sync cadence.
	DefaultInterval = 2 * time.Minute

	// DefaultDailyHour and DefaultDailyMinute pin the once-daily
	// bypass-cache run to just before local midnight, capturing the
	// day's final totals.
	DefaultDailyHour   = 23
	DefaultDailyMinute = 59

	// dailyLookaheadMinutes bounds the forward simulation. 48 hours
	// covers any legal UTC offset on either side of the target day.
	dailyLookaheadMinutes = 48 * 60
)

// ErrAlreadyRunning is returned by Start when the scheduler is running.
var ErrAlreadyRunning = errors.New("scheduler already running")

// Runner is the slice of the sync Coordinator the scheduler drives.
type Runner interface {
	RunOnce(ctx context.Context, opts syncengine.Options)
}

// DailyPin is the once-daily run target.
type DailyPin struct {
	// Timezone is an IANA zone name; empty means UTC. An unresolvable
	// zone degrades to "24 hours from now".
	Timezone string
	Hour     int
	Minute   int
}

// Scheduler owns its two timer handles explicitly; it has no ambient
// state, so independent instances can coexist and tests can tear it
// down cleanly.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	pin      DailyPin
	clock    quartz.Clock

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithInterval overrides the regular sync cadence.
func WithInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		s.interval = interval
	}
}

// WithDailyPin overrides the once-daily run target.
func WithDailyPin(pin DailyPin) Option {
	return func(s *Scheduler) {
		s.pin = pin
	}
}

// WithClock overrides the time source (for tests).
func WithClock(clock quartz.Clock) Option {
	return func(s *Scheduler) {
		s.clock = clock
	}
}

// New creates a stopped Scheduler.
func New(runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:   runner,
		interval: DefaultInterval,
		pin: DailyPin{
			Hour:   DefaultDailyHour,
			Minute: DefaultDailyMinute,
		},
		clock: quartz.NewReal(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start transitions to running, triggers an immediate pass, then blocks
// serving both timers until the context is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
		slog.Info("Scheduler stopped")
	}()

	slog.Info("Scheduler starting",
		"interval", s.interval,
		"daily_timezone", s.pin.Timezone,
		"daily_hour", s.pin.Hour,
		"daily_minute", s.pin.Minute)

	// Immediate first pass, then periodic.
	s.runPass(runCtx, false)

	ticker := s.clock.NewTicker(s.interval, "scheduler", "interval")
	defer ticker.Stop()

	pinned := s.clock.NewTimer(s.nextDailyDelay(), "scheduler", "daily")
	defer pinned.Stop()

	for {
		select {
		case <-ticker.C:
			s.runPass(runCtx, false)
		case <-pinned.C:
			// The pinned run forces fresh fetches so each day ends
			// with one uncached read per user, then re-arms for the
			// next day.
			s.runPass(runCtx, true)
			pinned.Reset(s.nextDailyDelay())
		case <-runCtx.Done():
			return nil
		}
	}
}

// Stop cancels both timers and waits for the loop, including any
// in-flight pass, to finish. Safe to call when already stopped.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// runPass triggers one Coordinator pass. The pass context is detached
// from the scheduler's: Stop prevents future firings but never
// interrupts a pass already under way; the Coordinator's reentrancy
// guard is the overlap-prevention mechanism.
func (s *Scheduler) runPass(ctx context.Context, bypassCache bool) {
	if ctx.Err() != nil {
		return
	}
	s.runner.RunOnce(context.WithoutCancel(ctx), syncengine.Options{BypassCache: bypassCache})
}

func (s *Scheduler) nextDailyDelay() time.Duration {
	now := s.clock.Now()
	next := NextDailyRun(now, s.pin)
	slog.Info("Next daily pinned run scheduled", "at", next)
	return next.Sub(now)
}

// NextDailyRun resolves the next instant whose wall clock in the pin's
// timezone reads exactly pin.Hour:pin.Minute, probing minute by minute
// from the minute after now. An unresolvable timezone falls back to
// exactly 24 hours from now.
func NextDailyRun(now time.Time, pin DailyPin) time.Time {
	loc := time.UTC
	if pin.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(pin.Timezone)
		if err != nil {
			return now.Add(24 * time.Hour)
		}
	}

	start := now.Truncate(time.Minute)
	for i := 1; i <= dailyLookaheadMinutes; i++ {
		candidate := start.Add(time.Duration(i) * time.Minute)
		local := candidate.In(loc)
		if local.Hour() == pin.Hour && local.Minute() == pin.Minute {
			return candidate
		}
	}

	// Only reachable for zones whose offset is not a whole number of
	// minutes, where no candidate ever reads :MM exactly.
	return now.Add(24 * time.Hour)
}
