package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pintrainer",
	Short: "pintrainer - sensor to microcontroller wiring trainer",
	Long: `pintrainer teaches how to wire a sensor to a microcontroller.

Pick a sensor, connect each of its pins to an MCU pin, and verify the
result. Run it as a terminal wizard (tui) or as a WebSocket gateway
(serve) for browser front ends.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $PINTRAINER_CONFIG or ./config.yaml)")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pintrainer: %v\n", err)
		cancel()
		os.Exit(1)
	}
}

// configPath resolves the config file: --config, then PINTRAINER_CONFIG,
// then ./config.yaml.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if p := os.Getenv("PINTRAINER_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}
