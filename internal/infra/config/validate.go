package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"pintrainer/internal/domain"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// Unwrap lets callers match config failures with errors.Is(err, domain.ErrConfig).
func (v *ValidationError) Unwrap() error { return domain.ErrConfig }

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLayout(cfg, ve)
	validateSession(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateGateway(cfg, ve)
	validateStores(cfg, ve)
	validateScheduler(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLayout(cfg *Config, ve *ValidationError) {
	for k := range cfg.Layout.Groups {
		if k == "" {
			ve.Add("layout.groups has an empty group key")
		}
	}
	if cfg.Layout.PinSpacing < 0 {
		ve.Add("layout.pin_spacing must be >= 0")
	}
	if cfg.Layout.SensorOffset < 0 {
		ve.Add("layout.sensor_offset must be >= 0")
	}
}

func validateSession(cfg *Config, ve *ValidationError) {
	switch cfg.Session.ConflictPolicy {
	case "", "reject", "overwrite":
	default:
		ve.Add("session.conflict_policy %q must be reject or overwrite", cfg.Session.ConflictPolicy)
	}
	if cfg.Session.MaxSessions < 0 {
		ve.Add("session.max_sessions must be >= 0")
	}
	if cfg.Session.MaxAge < 0 {
		ve.Add("session.max_age must be >= 0")
	}
	if cfg.Session.ReapSchedule != "" && cfg.Session.MaxAge == 0 {
		ve.Add("session.max_age is required when session.reap_schedule is set")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q must be noop or stdout", cfg.Tracer.Exporter)
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if !cfg.Gateway.Enabled {
		return
	}
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr is required when gateway is enabled")
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}

	switch cfg.Gateway.Auth.Type {
	case "":
	case "static":
		if len(cfg.Gateway.Auth.Tokens) == 0 {
			ve.Add("gateway.auth.tokens is required when auth type is static")
		}
	default:
		ve.Add("gateway.auth.type %q must be static or empty", cfg.Gateway.Auth.Type)
	}
	seen := make(map[string]bool, len(cfg.Gateway.Auth.Tokens))
	for i, tc := range cfg.Gateway.Auth.Tokens {
		if tc.Token == "" {
			ve.Add("gateway.auth.tokens[%d].token is required", i)
		} else if seen[tc.Token] {
			ve.Add("gateway.auth.tokens[%d] duplicates another token", i)
		}
		seen[tc.Token] = true
		if tc.Name == "" {
			ve.Add("gateway.auth.tokens[%d].name is required", i)
		}
		for _, r := range tc.Roles {
			if !domain.IsValidAuthRole(r) {
				ve.Add("gateway.auth.tokens[%d] has unknown role %q", i, r)
			}
		}
	}

	if cfg.Gateway.RateLimit.Enabled {
		if cfg.Gateway.RateLimit.RPS <= 0 {
			ve.Add("gateway.rate_limit.rps must be > 0")
		}
		if cfg.Gateway.RateLimit.Burst <= 0 {
			ve.Add("gateway.rate_limit.burst must be > 0")
		}
	}
}

func validateStores(cfg *Config, ve *ValidationError) {
	if cfg.History.Enabled && cfg.History.Path == "" {
		ve.Add("history.path is required when history is enabled")
	}
	if cfg.Audit.Enabled && cfg.Audit.Path == "" {
		ve.Add("audit.path is required when audit is enabled")
	}
	if cfg.History.Retention < 0 {
		ve.Add("history.retention must be >= 0")
	}
	if cfg.Audit.Retention < 0 {
		ve.Add("audit.retention must be >= 0")
	}
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	for i, t := range cfg.Scheduler.Tasks {
		if t.Name == "" {
			ve.Add("scheduler.tasks[%d].name is required", i)
		}
		if t.Schedule == "" {
			ve.Add("scheduler.tasks[%d].schedule is required", i)
		} else if strings.HasPrefix(t.Schedule, "@every ") {
			if _, err := time.ParseDuration(strings.TrimPrefix(t.Schedule, "@every ")); err != nil {
				ve.Add("scheduler.tasks[%d].schedule %q has an invalid duration", i, t.Schedule)
			}
		}
		switch t.Action {
		case "":
			ve.Add("scheduler.tasks[%d].action is required", i)
		case "session_reap":
			if cfg.Session.MaxAge <= 0 {
				ve.Add("scheduler.tasks[%d] reaps sessions but session.max_age is not set", i)
			}
		case "history_prune":
			if cfg.History.Retention <= 0 {
				ve.Add("scheduler.tasks[%d] prunes history but history.retention is not set", i)
			}
		case "audit_prune":
			if cfg.Audit.Retention <= 0 {
				ve.Add("scheduler.tasks[%d] prunes the audit log but audit.retention is not set", i)
			}
		default:
			ve.Add("scheduler.tasks[%d].action %q is not one of session_reap, history_prune, audit_prune", i, t.Action)
		}
	}
}
