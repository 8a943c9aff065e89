package main

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"pintrainer/internal/adapter/tui/trainer"
	"pintrainer/internal/domain"
	"pintrainer/internal/infra/config"
	"pintrainer/internal/infra/logger"
)

var tuiStyle string

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Run the interactive wiring wizard",
	Long:  `Walk through sensor selection, wiring and verification in the terminal.`,
	RunE:  runTUI,
}

func init() {
	tuiCmd.Flags().StringVar(&tuiStyle, "style", "", `markdown style: "dark", "light" or "notty" (default: detect)`)
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// The terminal belongs to the UI; only file log output survives.
	log, logCloser, err := logger.NewForTerminalUI(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	sched, err := a.newScheduler()
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	defer sched.Stop()

	model := trainer.New(ctx, a.trainer, trainer.Options{MarkdownStyle: tuiStyle})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	// Sessions reaped behind the UI's back send it back to sensor selection.
	unsub := a.bus.Subscribe(domain.EventSessionDeleted, func(_ context.Context, ev domain.Event) {
		p.Send(trainer.EventMsg{Event: ev})
	})
	defer unsub()

	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}
