package rollover

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/turntabl-delinuxist/Virtual-Machine/internal/requestengine"
)

// DefaultSchedule closes the day at midnight.
const DefaultSchedule = "0 0 * * *"

// Resetter is the part of the engine the scheduler drives.
type Resetter interface {
	ResetDay(now time.Time) requestengine.Report
}

// Sink receives every closed report.
type Sink interface {
	Name() string
	Consume(ctx context.Context, r requestengine.Report) error
}

// Scheduler resets the engine's daily statistics on a cron schedule and hands
// the closed day to its sinks.
type Scheduler struct {
	engine   Resetter
	sinks    []Sink
	schedule string
	loc      *time.Location
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
	stopped chan struct{}
}

type Option func(*Scheduler)

func WithSchedule(expr string) Option {
	return func(s *Scheduler) { s.schedule = expr }
}

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) { s.loc = loc }
}

func WithSinks(sinks ...Sink) Option {
	return func(s *Scheduler) { s.sinks = append(s.sinks, sinks...) }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a stopped scheduler. Start validates the schedule.
func New(engine Resetter, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:   engine,
		schedule: DefaultSchedule,
		loc:      time.UTC,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cron = cron.New(cron.WithLocation(s.loc))
	return s
}

// Start validates the schedule and begins running rollovers. The scheduler
// stops when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid rollover schedule %q: %w", s.schedule, err)
	}
	// A fresh cron per run keeps a restart at exactly one entry.
	c := cron.New(cron.WithLocation(s.loc))
	if _, err := c.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule rollover: %w", err)
	}

	c.Start()
	s.cron = c
	s.running = true
	s.stopped = make(chan struct{})
	s.logger.Info("rollover scheduler started",
		zap.String("schedule", s.schedule),
		zap.String("location", s.loc.String()))

	go func(stopped <-chan struct{}) {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopped:
		}
	}(s.stopped)
	return nil
}

// RunOnce closes the current day immediately and delivers the report to every
// sink. Sink failures are logged; the reset is not undone.
func (s *Scheduler) RunOnce(ctx context.Context) requestengine.Report {
	closed := s.engine.ResetDay(s.now().In(s.loc))
	for _, sink := range s.sinks {
		if err := sink.Consume(ctx, closed); err != nil {
			s.logger.Error("rollover sink failed",
				zap.String("sink", sink.Name()),
				zap.String("day", closed.Day),
				zap.Error(err))
		}
	}
	s.logger.Info("rollover completed",
		zap.String("day", closed.Day),
		zap.Int("failed_builds", closed.FailedBuilds))
	return closed
}

// Stop stops the scheduler and waits for a running rollover to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		close(s.stopped)
		s.logger.Info("rollover scheduler stopped")
	}
}

// IsRunning reports whether the scheduler is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled rollover, or nil when stopped.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if !s.running || len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
