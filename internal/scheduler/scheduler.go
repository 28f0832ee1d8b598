// Package scheduler runs periodic housekeeping jobs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is the body of a scheduled job.
type Job func(ctx context.Context)

// Sweeper drops entries older than maxAge and reports how many it removed.
type Sweeper interface {
	Sweep(maxAge time.Duration) int
}

// Scheduler manages named cron jobs.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	jobs   map[string]cron.EntryID
	funcs  map[string]Job
	ctx    context.Context
	logger *slog.Logger
}

// New creates a scheduler. Jobs never overlap with themselves and a
// panicking job is logged and skipped.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		jobs:   make(map[string]cron.EntryID),
		funcs:  make(map[string]Job),
		ctx:    context.Background(),
		logger: logger,
	}
}

// Start runs the scheduler. Blocks until ctx is cancelled, then waits for
// running jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", s.JobCount())

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return ctx.Err()
}

// AddJob schedules fn under name. The schedule is a standard 5-field cron
// expression or a descriptor such as "@every 1m".
func (s *Scheduler) AddJob(name, schedule string, fn Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("scheduler: job %q already registered", name)
	}
	id, err := s.cron.AddFunc(schedule, func() { s.run(name, fn) })
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", schedule, err)
	}
	s.jobs[name] = id
	s.funcs[name] = fn
	s.logger.Info("job registered", "job", name, "schedule", schedule)
	return nil
}

// AddSweep schedules a job that sweeps entries older than maxAge.
func (s *Scheduler) AddSweep(name, schedule string, sw Sweeper, maxAge time.Duration) error {
	return s.AddJob(name, schedule, func(context.Context) {
		if n := sw.Sweep(maxAge); n > 0 {
			s.logger.Info("swept", "job", name, "removed", n)
		}
	})
}

// RunNow runs the named job synchronously.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	fn, ok := s.funcs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	s.run(name, fn)
	return nil
}

// RemoveJob unschedules the named job.
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.jobs[name]; ok {
		s.cron.Remove(id)
		delete(s.jobs, name)
		delete(s.funcs, name)
	}
}

// Jobs returns the registered job names, sorted.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// JobCount returns the number of scheduled jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func (s *Scheduler) run(name string, fn Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	s.logger.Debug("job fired", "job", name)
	fn(ctx)
}

// cronLogger routes cron's logging to slog.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
