// Package scheduling runs periodic maintenance: reaping idle wiring sessions
// and pruning old attempt history.
package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduledAction identifies a type of scheduled action.
type ScheduledAction string

const (
	ActionSessionReap  ScheduledAction = "session_reap"
	ActionHistoryPrune ScheduledAction = "history_prune"
	ActionAuditPrune   ScheduledAction = "audit_prune"
)

// ScheduledTask defines a recurring task.
type ScheduledTask struct {
	Name     string
	Schedule string // cron expression "*/5 * * * *" OR duration "30m"
	Action   ScheduledAction
	OneShot  bool
}

// SessionReaper is the part of the trainer the reap action drives.
type SessionReaper interface {
	ReapStale(ctx context.Context, maxAge time.Duration) int
}

// Pruner deletes records written before a cutoff. The history store and the
// audit log both implement it.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// ReapSessions returns an action that drops sessions idle longer than maxAge.
// With a non-positive maxAge the action does nothing.
func ReapSessions(r SessionReaper, maxAge time.Duration) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if maxAge <= 0 {
			return nil
		}
		r.ReapStale(ctx, maxAge)
		return nil
	}
}

// PruneOlderThan returns an action that deletes what label names once it is
// older than retention.
func PruneOlderThan(p Pruner, label string, retention time.Duration, logger *slog.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		n, err := p.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			return fmt.Errorf("prune %s: %w", label, err)
		}
		if n > 0 {
			logger.Info("pruned old records", "what", label, "removed", n)
		}
		return nil
	}
}

// Scheduler runs tasks on a recurring schedule using cron expressions or durations.
type Scheduler struct {
	cron    *cron.Cron
	actions map[ScheduledAction]func(ctx context.Context) error
	entries map[string]cron.EntryID // task name → entry
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		actions: make(map[ScheduledAction]func(ctx context.Context) error),
		entries: make(map[string]cron.EntryID),
		logger:  logger,
	}
}

// RegisterAction registers a handler for a scheduled action type.
func (s *Scheduler) RegisterAction(action ScheduledAction, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// AddTask adds a scheduled task. Task names must be unique.
func (s *Scheduler) AddTask(task ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := s.actions[task.Action]
	if !ok {
		return fmt.Errorf("scheduler: unknown action %q for task %q", task.Action, task.Name)
	}
	if _, dup := s.entries[task.Name]; dup {
		return fmt.Errorf("scheduler: task %q already added", task.Name)
	}

	schedule, err := parseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for task %q: %w", task.Schedule, task.Name, err)
	}

	name := task.Name
	oneShot := task.OneShot
	logger := s.logger

	s.entries[name] = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()

		if ctx == nil {
			logger.Debug("scheduler stopped, skipping task", "task", name)
			return
		}

		taskCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		start := time.Now()
		if err := fn(taskCtx); err != nil {
			logger.Warn("scheduled task failed", "task", name, "error", err, "duration", time.Since(start))
		} else {
			logger.Debug("scheduled task completed", "task", name, "duration", time.Since(start))
		}

		if oneShot {
			// The entry is recorded under s.mu before the job can get here.
			s.mu.Lock()
			id, ok := s.entries[name]
			delete(s.entries, name)
			s.mu.Unlock()
			if ok {
				s.cron.Remove(id)
			}
		}
	}))

	logger.Info("task added to scheduler", "name", task.Name, "schedule", task.Schedule, "action", string(task.Action))
	return nil
}

// Tasks returns the names of the scheduled tasks.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for n := range s.entries {
		names = append(names, n)
	}
	return names
}

// NextRun returns the next run time of the named task.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(id)
	if entry.ID == 0 {
		return time.Time{}, false
	}
	return entry.Next, true
}

// Start begins running the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop signals the scheduler to stop and waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.started = false
	s.mu.Unlock()

	// Running jobs take s.mu, so wait without holding it.
	<-s.cron.Stop().Done()
	return nil
}

// parseSchedule tries to parse a schedule string as a cron expression first,
// then falls back to time.ParseDuration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return constantDelay(dur), nil
}

// ParseSchedule exposes schedule parsing for config checks.
func ParseSchedule(schedule string) (cron.Schedule, error) {
	return parseSchedule(schedule)
}

// constantDelay fires at a fixed interval. Unlike cron.Every it keeps
// sub-second durations.
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}
