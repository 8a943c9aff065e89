package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pintrainer/internal/adapter/audit"
	"pintrainer/internal/adapter/history"
	"pintrainer/internal/domain"
	"pintrainer/internal/infra/config"
)

var (
	historySensor string
	historyLimit  int
	historyJSON   bool
	auditLimit    int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded verification attempts",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show the most recent audit log entries",
	Args:  cobra.NoArgs,
	RunE:  runAudit,
}

func init() {
	historyCmd.Flags().StringVar(&historySensor, "sensor", "", "only attempts for this sensor")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of attempts")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print JSON")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum number of entries (0 = all)")
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(auditCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if !cfg.History.Enabled {
		return errors.New("history is disabled (history.enabled: false)")
	}
	store, err := history.NewSQLiteStore(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	attempts, err := store.List(cmd.Context(), domain.HistoryFilter{Sensor: historySensor, Limit: historyLimit})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		if attempts == nil {
			attempts = []domain.Attempt{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(attempts)
	}
	if len(attempts) == 0 {
		fmt.Fprintln(out, "No attempts recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tSENSOR\tINTERFACE\tRESULT\tCONNECTED\tID")
	for _, a := range attempts {
		result := "incorrect"
		if a.AllCorrect {
			result = "correct"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			a.CreatedAt.Local().Format(time.DateTime), a.Sensor, a.Interface, result, a.Connected, a.Total, a.ID)
	}
	return w.Flush()
}

func runAudit(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	events, err := audit.ReadEvents(cfg.Audit.Path, auditLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, ev := range events {
		detail := make([]string, 0, len(ev.Detail))
		for _, k := range slices.Sorted(maps.Keys(ev.Detail)) {
			detail = append(detail, k+"="+ev.Detail[k])
		}
		fmt.Fprintf(out, "%s %-15s %-10s %-28s %s %s\n",
			ev.Timestamp.Local().Format(time.DateTime), ev.Type, ev.Outcome, ev.Resource, ev.Actor, strings.Join(detail, " "))
	}
	return nil
}
