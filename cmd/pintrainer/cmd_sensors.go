package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pintrainer/internal/infra/config"
	"pintrainer/internal/usecase/catalog"
)

var sensorsJSON bool

var sensorsCmd = &cobra.Command{
	Use:   "sensors",
	Short: "List the sensors in the catalog",
	Long:  `List every trainable sensor with its interfaces, pins and the function each pin needs.`,
	Args:  cobra.NoArgs,
	RunE:  runSensors,
}

func init() {
	sensorsCmd.Flags().BoolVar(&sensorsJSON, "json", false, "print JSON")
	rootCmd.AddCommand(sensorsCmd)
}

// loadCatalog reads the config (defaults when the file is missing) and the
// catalog it points at.
func loadCatalog() (*config.Config, *catalog.Catalog, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: %w", err)
	}
	return cfg, cat, nil
}

func runSensors(cmd *cobra.Command, _ []string) error {
	_, cat, err := loadCatalog()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	sensors := cat.Sensors()

	if sensorsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(sensors)
	}

	fmt.Fprintf(out, "MCU: %s\n\n", cat.MCUName())
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SENSOR\tINTERFACES\tPINS")
	for _, s := range sensors {
		pins := make([]string, len(s.Pins))
		for i, p := range s.Pins {
			pins[i] = fmt.Sprintf("%s(%s)", p, s.CorrectConnections[p])
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, strings.Join(s.Interfaces, ","), strings.Join(pins, " "))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	groups := cat.Groups()
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, fmt.Sprintf("%s: %s", g.Key, strings.Join(g.Pins, " ")))
	}
	fmt.Fprintf(out, "Pin groups:\n  %s\n", strings.Join(names, "\n  "))
	return nil
}
