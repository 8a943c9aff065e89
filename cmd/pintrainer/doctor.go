package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pintrainer/internal/adapter/history"
	"pintrainer/internal/infra/config"
	"pintrainer/internal/usecase/catalog"
	"pintrainer/internal/usecase/scheduling"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run health checks on your setup",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runDoctor(cmd.OutOrStdout(), configPath())
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// runDoctor executes all health checks and reports results.
func runDoctor(out io.Writer, cfgPath string) error {
	// Some checks still say something useful without a config.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Catalog", Fn: checkCatalog},
		{Name: "History store", Fn: checkHistoryStore},
		{Name: "Audit log", Fn: checkAuditLog},
		{Name: "Gateway", Fn: checkGateway},
		{Name: "Scheduler", Fn: checkScheduler},
		{Name: "Disk space", Fn: checkDiskSpace},
	}

	fmt.Fprintln(out, "pintrainer doctor")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(out, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(out, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn == 0 {
		fmt.Fprintln(out, "\nAll checks passed! pintrainer is ready to run.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func notLoaded() CheckResult {
	return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
}

// checkConfigFile returns a check that verifies the config file parses. A
// missing file is fine: the defaults apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fmt.Sprintf("Fix %s or run with --config pointing at a valid file", cfgPath),
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("no config file at %s, using defaults", cfgPath),
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

func checkCatalog(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     "Run 'pintrainer catalog validate' for the full problem list",
		}
	}
	src := cfg.Catalog.Path
	if src == "" {
		src = "built-in"
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s catalog: %s with %d sensors", src, cat.MCUName(), len(cat.Sensors())),
	}
}

func checkHistoryStore(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if !cfg.History.Enabled {
		return CheckResult{Status: StatusPass, Message: "history disabled, attempts are not kept"}
	}
	store, err := history.NewSQLiteStore(cfg.History.Path)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open %s: %v", cfg.History.Path, err),
			Fix:     "Check history.path and the permissions of its directory",
		}
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("history database unreachable: %v", err)}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("history database %s OK", cfg.History.Path)}
}

func checkAuditLog(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if !cfg.Audit.Enabled {
		return CheckResult{Status: StatusPass, Message: "audit disabled"}
	}
	return checkWritableDir(filepath.Dir(cfg.Audit.Path))
}

// checkWritableDir creates dir if needed and probes it with a temp file.
func checkWritableDir(dir string) CheckResult {
	absDir, _ := filepath.Abs(dir)
	if err := os.MkdirAll(absDir, 0o700); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("directory %s does not exist and cannot be created: %v", absDir, err),
			Fix:     fmt.Sprintf("Create the directory: mkdir -p %s", absDir),
		}
	}
	testFile := filepath.Join(absDir, ".doctor-check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("directory %s is not writable: %v", absDir, err),
			Fix:     fmt.Sprintf("Fix permissions: chmod 700 %s", absDir),
		}
	}
	os.Remove(testFile)
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("directory %s writable", absDir)}
}

// checkGateway checks the listen address is free and warns about open auth
// on a non-loopback address.
func checkGateway(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	gw := cfg.Gateway
	host, _, err := net.SplitHostPort(gw.Addr)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("invalid gateway.addr %q: %v", gw.Addr, err)}
	}

	ln, err := net.Listen("tcp", gw.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("cannot listen on %s: %v", gw.Addr, err),
			Fix:     "Stop the other process or pick another gateway.addr",
		}
	}
	ln.Close()

	if gw.Auth.Type != "static" && !isLoopback(host) {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s is reachable from the network without tokens", gw.Addr),
			Fix:     "Set gateway.auth.type: static with tokens, or bind to 127.0.0.1",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s available", gw.Addr)}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func checkScheduler(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if s := cfg.Session.ReapSchedule; s != "" {
		if _, err := scheduling.ParseSchedule(s); err != nil {
			return CheckResult{Status: StatusFail, Message: fmt.Sprintf("session.reap_schedule: %v", err)}
		}
	}
	n := 0
	if cfg.Scheduler.Enabled {
		for _, t := range cfg.Scheduler.Tasks {
			if _, err := scheduling.ParseSchedule(t.Schedule); err != nil {
				return CheckResult{Status: StatusFail, Message: fmt.Sprintf("task %s: %v", t.Name, err)}
			}
			n++
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("idle sessions reaped after %s, %d extra task(s)", cfg.Session.MaxAge, n),
	}
}

// checkDiskSpace reports usage of the partition holding the history database.
func checkDiskSpace(cfg *config.Config) CheckResult {
	dataDir := "./data"
	if cfg != nil && cfg.History.Path != "" {
		dataDir = filepath.Dir(cfg.History.Path)
	}
	absDir, _ := filepath.Abs(dataDir)

	info, err := os.Stat(absDir)
	if err != nil || !info.IsDir() {
		return CheckResult{
			Status:  StatusPass,
			Message: "data directory does not exist yet, space check skipped",
		}
	}

	out, err := exec.Command("df", "-h", absDir).Output()
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: "could not determine disk space (df command failed)",
		}
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	fields := strings.Fields(lines[len(lines)-1])
	if len(lines) < 2 || len(fields) < 5 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "unexpected df output format",
		}
	}

	available := fields[3]
	usePercent := fields[4]
	var pct int
	fmt.Sscanf(strings.TrimSuffix(usePercent, "%"), "%d", &pct)

	switch {
	case pct >= 95:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("disk almost full: %s used, %s available", usePercent, available),
			Fix:     "Free up disk space or move history.path to a different partition",
		}
	case pct >= 85:
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("disk usage high: %s used, %s available", usePercent, available),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("disk usage: %s used, %s available", usePercent, available),
	}
}
