// Package scheduler runs named background tasks: periodic ones such as the
// occupancy updater and daily ones such as audit log pruning.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TaskFunc is one run of a task. It should return promptly once ctx is done.
type TaskFunc func(ctx context.Context)

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler manages named background tasks. Scheduling a name that is
// already running replaces the old task after it has fully stopped.
type Scheduler struct {
	mu      sync.Mutex
	parent  context.Context
	tasks   map[string]*task
	stopped bool
	logger  zerolog.Logger
	now     func() time.Time
}

// NewScheduler creates a scheduler whose tasks stop when ctx is done.
func NewScheduler(ctx context.Context, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		parent: ctx,
		tasks:  make(map[string]*task),
		logger: logger,
		now:    time.Now,
	}
}

// Every runs fn every interval until cancelled. The first run happens
// after one interval.
func (s *Scheduler) Every(name string, interval time.Duration, fn TaskFunc) error {
	if interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", name)
	}
	return s.start(name, func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.run(ctx, name, fn)
			}
		}
	}, interval.String())
}

// Daily runs fn once a day at clock ("HH:MM", local time).
func (s *Scheduler) Daily(name, clock string, fn TaskFunc) error {
	hour, minute, err := parseClock(clock)
	if err != nil {
		return fmt.Errorf("task %s: %w", name, err)
	}
	return s.start(name, func(ctx context.Context) {
		for {
			next := nextRun(s.now(), hour, minute)
			s.logger.Debug().Str("task", name).Time("next_run", next).Msg("daily task scheduled")
			timer := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
				s.run(ctx, name, fn)
			}
		}
	}, "daily at "+clock)
}

func (s *Scheduler) start(name string, loop func(ctx context.Context), schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("task %s: scheduler stopped", name)
	}
	if old, ok := s.tasks[name]; ok {
		old.cancel()
		<-old.done
	}

	ctx, cancel := context.WithCancel(s.parent)
	t := &task{cancel: cancel, done: make(chan struct{})}
	s.tasks[name] = t
	go func() {
		defer close(t.done)
		loop(ctx)
	}()

	s.logger.Debug().Str("task", name).Str("schedule", schedule).Msg("task scheduled")
	return nil
}

func (s *Scheduler) run(ctx context.Context, name string, fn TaskFunc) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("task", name).Interface("panic", r).Msg("task panicked")
		}
	}()
	fn(ctx)
}

// Cancel stops a task and waits for it. Unknown names are ignored.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	delete(s.tasks, name)
	s.mu.Unlock()

	if ok {
		t.cancel()
		<-t.done
	}
}

// Tasks returns the names of scheduled tasks.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stop cancels every task and waits for all of them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	tasks := s.tasks
	s.tasks = make(map[string]*task)
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		<-t.done
	}
	s.logger.Info().Int("tasks", len(tasks)).Msg("scheduler stopped")
}

func parseClock(clock string) (hour, minute int, err error) {
	parts := strings.Split(clock, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time of day %q", clock)
	}
	if _, err := fmt.Sscanf(parts[0], "%d", &hour); err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", clock)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &minute); err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", clock)
	}
	return hour, minute, nil
}

// nextRun returns the next occurrence of hour:minute strictly after now.
func nextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
