// Package debounce coalesces bursts of values into a single trailing
// delivery, with a cooldown that suppresses deliveries right after an action.
package debounce

import (
	"log/slog"
	"sync"
	"time"

	hlog "github.com/yaklabco/hotreload/internal/log"
)

// Scheduler delivers the last value pushed once no new value has arrived for
// the window. A delivery that would happen less than the cooldown after the
// previous action is dropped.
type Scheduler[T any] struct {
	window   time.Duration
	cooldown time.Duration
	fire     func(T)
	logger   *slog.Logger
	now      func() time.Time

	mu            sync.Mutex
	timer         *time.Timer
	pending       T
	hasPending    bool
	generation    uint64
	cooldownUntil time.Time
	stopped       bool
	dropped       uint64
}

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	logger *slog.Logger
	now    func() time.Time
}

// WithLogger sets the logger used for suppressed deliveries.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock replaces time.Now for cooldown bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New returns a Scheduler calling fire on its own goroutine for each
// settled value.
func New[T any](window, cooldown time.Duration, fire func(T), opts ...Option) *Scheduler[T] {
	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Scheduler[T]{
		window:   window,
		cooldown: cooldown,
		fire:     fire,
		logger:   o.logger,
		now:      o.now,
	}
}

// Push records value and restarts the quiet-period timer.
func (s *Scheduler[T]) Push(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	s.pending = value
	s.hasPending = true
	s.generation++
	generation := s.generation

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.window, func() { s.settle(generation) })
}

func (s *Scheduler[T]) settle(generation uint64) {
	s.mu.Lock()
	// A timer that lost the race with a newer Push is stale.
	if s.stopped || generation != s.generation || !s.hasPending {
		s.mu.Unlock()
		return
	}
	value := s.pending
	s.clearLocked()

	now := s.now()
	if now.Before(s.cooldownUntil) {
		s.dropped++
		s.mu.Unlock()
		s.logger.Debug("change settled during cooldown, skipping", hlog.Duration, s.cooldownUntil.Sub(now).String())
		return
	}
	s.cooldownUntil = now.Add(s.cooldown)
	s.mu.Unlock()

	s.fire(value)
}

func (s *Scheduler[T]) clearLocked() {
	var zero T
	s.pending = zero
	s.hasPending = false
	s.timer = nil
}

// Cooldown restarts the cooldown clock. It is called when the action a
// delivery started has completed, so secondary changes it caused are
// absorbed.
func (s *Scheduler[T]) Cooldown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldownUntil = s.now().Add(s.cooldown)
}

// Flush delivers a pending value immediately, ignoring the cooldown. It
// reports whether a value was delivered.
func (s *Scheduler[T]) Flush() bool {
	s.mu.Lock()
	if s.stopped || !s.hasPending {
		s.mu.Unlock()
		return false
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	value := s.pending
	s.clearLocked()
	s.generation++
	s.cooldownUntil = s.now().Add(s.cooldown)
	s.mu.Unlock()

	s.fire(value)
	return true
}

// Pending reports whether a value is waiting for its window to elapse.
func (s *Scheduler[T]) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasPending
}

// Dropped returns how many settled values the cooldown suppressed.
func (s *Scheduler[T]) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Stop cancels any pending delivery. Later pushes are ignored.
func (s *Scheduler[T]) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.clearLocked()
	s.stopped = true
}
