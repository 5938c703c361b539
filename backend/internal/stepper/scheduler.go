// Package stepper advances a physics backend on a dedicated worker goroutine,
// pacing steps between a minimum and a maximum timestep.
package stepper

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"physsync/backend/internal/logging"
)

// MinDelta is the smallest timestep ever handed to the backend.
const MinDelta = time.Microsecond

// Backend is the part of a physics scene the scheduler drives.
type Backend interface {
	Step(dt float64)
	FetchResults(block bool) bool
}

// Clock abstracts wall time so pacing can be tested.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Result describes one completed step.
type Result struct {
	// Timestep is the clamped delta the backend was advanced by.
	Timestep time.Duration
	// Elapsed is the wall time measured since the previous step.
	Elapsed time.Duration
	// StepTime is how long Step plus FetchResults took.
	StepTime time.Duration
}

type request struct {
	minStep, maxStep time.Duration
}

// Scheduler runs backend steps on request. Requests and results alternate:
// the owner requests one step, waits for its Result, syncs, then requests the
// next.
type Scheduler struct {
	backend Backend
	clock   Clock
	log     logging.Logger

	requests chan request
	results  chan Result

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	timerStarted bool
	last         time.Time
	stepCount    atomic.Uint64
	clampedCount atomic.Uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the scheduler logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// New returns a stopped scheduler for backend.
func New(backend Backend, opts ...Option) *Scheduler {
	s := &Scheduler{
		backend:  backend,
		clock:    realClock{},
		log:      logging.Noop(),
		requests: make(chan request, 1),
		results:  make(chan Result, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logging.Component("StepScheduler"))
	return s
}

// Start launches the worker goroutine. It is a no-op when already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go s.loop(ctx)
	s.log.Debug(ctx, "worker started")
}

// Stop signals the worker to exit and waits for it, including any step in
// flight.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.log.Debug(context.Background(), "worker stopped", logging.Any("steps", s.stepCount.Load()))
}

// Request asks the worker for one step paced by [minStep, maxStep].
func (s *Scheduler) Request(ctx context.Context, minStep, maxStep time.Duration) error {
	select {
	case s.requests <- request{minStep: minStep, maxStep: maxStep}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results delivers one Result per Request.
func (s *Scheduler) Results() <-chan Result {
	return s.results
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.requests:
			res := s.Step(req.minStep, req.maxStep)
			select {
			case s.results <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Step paces and runs one backend step on the calling goroutine. It sleeps
// until minStep has elapsed since the previous step, clamps the elapsed time
// to maxStep and blocks until the backend has fetched its results.
func (s *Scheduler) Step(minStep, maxStep time.Duration) Result {
	now := s.clock.Now()
	if !s.timerStarted {
		s.timerStarted = true
		s.last = now
	}

	elapsed := now.Sub(s.last)
	if elapsed < minStep {
		s.clock.Sleep(minStep - elapsed)
		now = s.clock.Now()
		elapsed = now.Sub(s.last)
	}
	s.last = now

	dt := elapsed
	if dt > maxStep {
		dt = maxStep
		s.clampedCount.Add(1)
		if elapsed > 2*maxStep {
			s.log.Warn(context.Background(), "simulation falling behind, timestep clamped",
				logging.Any("elapsed", elapsed), logging.Any("timestep", dt))
		}
	}
	if dt < MinDelta {
		dt = MinDelta
	}

	start := s.clock.Now()
	s.backend.Step(dt.Seconds())
	s.backend.FetchResults(true)
	s.stepCount.Add(1)

	return Result{Timestep: dt, Elapsed: elapsed, StepTime: s.clock.Now().Sub(start)}
}

// Stats returns the number of steps run and how many were clamped to the
// maximum timestep. It is safe to call while the worker runs.
func (s *Scheduler) Stats() (steps, clamped uint64) {
	return s.stepCount.Load(), s.clampedCount.Load()
}
