package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"pintrainer/internal/adapter/audit"
	"pintrainer/internal/adapter/history"
	"pintrainer/internal/domain"
	"pintrainer/internal/infra/config"
	"pintrainer/internal/usecase"
	"pintrainer/internal/usecase/catalog"
	"pintrainer/internal/usecase/eventbus"
	"pintrainer/internal/usecase/scheduling"
)

// app holds the components every long-running command shares.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	bus     *eventbus.Bus
	trainer *usecase.Trainer

	historyDB *history.SQLiteStore // nil when history is disabled
	auditLog  *audit.FileLogger    // nil when audit is disabled

	closers []func() error
}

// newApp loads the catalog and opens the configured stores.
func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	a := &app{cfg: cfg, log: log}
	a.bus = eventbus.New(log)
	a.closers = append(a.closers, func() error { a.bus.Close(); return nil })

	deps := usecase.TrainerDeps{
		Catalog:        cat,
		Sessions:       usecase.NewSessionManager(cfg.Session.MaxSessions),
		Layout:         cfg.Layout.Resolve(),
		ConflictPolicy: usecase.ConflictPolicy(cfg.Session.ConflictPolicy),
		Logger:         log,
		Bus:            a.bus,
	}

	if cfg.History.Enabled {
		store, err := history.NewSQLiteStore(cfg.History.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("history: %w", err)
		}
		a.historyDB = store
		a.closers = append(a.closers, store.Close)
		deps.History = history.NewBreakerStore(store, history.BreakerConfig{
			MaxFailures: cfg.History.Breaker.MaxFailures,
			Timeout:     cfg.History.Breaker.Timeout,
		}, log)
	}

	if cfg.Audit.Enabled {
		al, err := audit.NewFileLogger(cfg.Audit.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("audit: %w", err)
		}
		a.auditLog = al
		a.closers = append(a.closers, al.Close)
		deps.AuditLogger = al
	}

	a.trainer = usecase.NewTrainer(deps)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// auditLogger returns the audit log as an interface value, nil when disabled.
func (a *app) auditLogger() domain.AuditLogger {
	if a.auditLog == nil {
		return nil
	}
	return a.auditLog
}

// newScheduler registers the maintenance actions and the built-in tasks.
// Tasks from the config file are added on top when the scheduler is enabled.
func (a *app) newScheduler() (*scheduling.Scheduler, error) {
	s := scheduling.NewScheduler(a.log)
	s.RegisterAction(scheduling.ActionSessionReap, scheduling.ReapSessions(a.trainer, a.cfg.Session.MaxAge))

	var tasks []scheduling.ScheduledTask
	if a.cfg.Session.MaxAge > 0 && a.cfg.Session.ReapSchedule != "" {
		tasks = append(tasks, scheduling.ScheduledTask{
			Name:     "reap-idle-sessions",
			Schedule: a.cfg.Session.ReapSchedule,
			Action:   scheduling.ActionSessionReap,
		})
	}
	if a.historyDB != nil {
		s.RegisterAction(scheduling.ActionHistoryPrune,
			scheduling.PruneOlderThan(a.historyDB, "history", a.cfg.History.Retention, a.log))
		if a.cfg.History.Retention > 0 {
			tasks = append(tasks, scheduling.ScheduledTask{Name: "prune-history", Schedule: "@daily", Action: scheduling.ActionHistoryPrune})
		}
	}
	if a.auditLog != nil {
		s.RegisterAction(scheduling.ActionAuditPrune,
			scheduling.PruneOlderThan(a.auditLog, "audit", a.cfg.Audit.Retention, a.log))
		if a.cfg.Audit.Retention > 0 {
			tasks = append(tasks, scheduling.ScheduledTask{Name: "prune-audit", Schedule: "@daily", Action: scheduling.ActionAuditPrune})
		}
	}

	if a.cfg.Scheduler.Enabled {
		for _, t := range a.cfg.Scheduler.Tasks {
			tasks = append(tasks, scheduling.ScheduledTask{
				Name:     t.Name,
				Schedule: t.Schedule,
				Action:   scheduling.ScheduledAction(t.Action),
				OneShot:  t.OneShot,
			})
		}
	}

	for _, t := range tasks {
		if err := s.AddTask(t); err != nil {
			return nil, fmt.Errorf("scheduler task %s: %w", t.Name, err)
		}
	}
	return s, nil
}

// discardLogger is for one-shot commands whose output is the report itself.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
