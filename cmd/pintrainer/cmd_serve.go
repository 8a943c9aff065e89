package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pintrainer/internal/adapter/gateway"
	"pintrainer/internal/infra/config"
	"pintrainer/internal/infra/logger"
	"pintrainer/internal/infra/middleware"
	"pintrainer/internal/infra/tracer"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket gateway",
	Long: `Run the wiring trainer as a WebSocket/REST gateway. Browser front ends
create sessions, connect pins and verify over JSON-RPC frames on /ws.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides gateway.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if serveAddr != "" {
		cfg.Gateway.Addr = serveAddr
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := cmd.Context()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.Background())

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error("shutdown error", "error", err)
		}
	}()

	sched, err := a.newScheduler()
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	defer sched.Stop()

	srv := newGateway(ctx, a)

	log.Info("pintrainer starting",
		"version", version,
		"mcu", a.trainer.Catalog().MCUName(),
		"sensors", len(a.trainer.Catalog().Sensors()),
		"history", a.historyDB != nil,
		"audit", a.auditLog != nil,
		"scheduled_tasks", len(sched.Tasks()),
	)

	// Start stops the server itself once ctx is cancelled.
	if err := srv.Start(ctx); err != nil {
		return err
	}
	log.Info("pintrainer stopped")
	return nil
}

// newGateway builds the gateway server with auth, rate limiting and every
// RPC and REST handler registered.
func newGateway(ctx context.Context, a *app) *gateway.Server {
	gw := a.cfg.Gateway

	var auth gateway.Authenticator = gateway.OpenAuth{}
	if gw.Auth.Type == "static" {
		entries := make([]gateway.TokenEntry, 0, len(gw.Auth.Tokens))
		for _, t := range gw.Auth.Tokens {
			entries = append(entries, gateway.TokenEntry{Token: t.Token, Name: t.Name, Roles: t.Roles})
		}
		auth = gateway.NewStaticTokenAuth(entries)
	} else {
		a.log.Warn("gateway auth is open; every client is an instructor", "addr", gw.Addr)
	}

	srv := gateway.NewServer(a.bus, auth, gw.Addr, a.log)
	if gw.RateLimit.Enabled {
		srv.SetRateLimiter(middleware.NewRateLimiter(ctx, middleware.RateLimitConfig{
			RPS:            gw.RateLimit.RPS,
			Burst:          gw.RateLimit.Burst,
			TrustedProxies: gw.RateLimit.TrustedProxies,
		}), gw.RateLimit.TrustedProxies)
	}

	deps := gateway.HandlerDeps{
		Trainer:     a.trainer,
		Bus:         a.bus,
		Logger:      a.log,
		AuditLogger: a.auditLogger(),
		Version:     version,
	}
	gateway.RegisterDefaultHandlers(srv, deps)
	gateway.RegisterRESTHandlers(srv, deps)
	return srv
}
