package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pintrainer/internal/domain"
	"pintrainer/internal/infra/config"
	"pintrainer/internal/usecase/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect catalog files",
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate [path]",
	Short: "Check a catalog file",
	Long: `Check a catalog file against the schema and for consistency: unknown pin
functions, missing pin positions, pins without a group.

Without a path the catalog from the config (or the built-in one) is checked.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCatalogValidate,
}

func init() {
	catalogCmd.AddCommand(catalogValidateCmd)
	rootCmd.AddCommand(catalogCmd)
}

func runCatalogValidate(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		cfg, err := config.Load(configPath())
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		path = cfg.Catalog.Path
	}

	out := cmd.OutOrStdout()
	cat, err := catalog.Load(path)
	if err != nil {
		var ce *domain.ConfigError
		if errors.As(err, &ce) {
			fmt.Fprintf(out, "%s: %d problem(s)\n", ce.Source, len(ce.Problems))
			for _, p := range ce.Problems {
				fmt.Fprintf(out, "  - %s\n", p)
			}
			return fmt.Errorf("catalog %s is invalid", ce.Source)
		}
		return err
	}

	name := path
	if name == "" {
		name = "built-in catalog"
	}
	fmt.Fprintf(out, "%s: OK (%s, %d pins in %d groups, %d sensors)\n",
		name, cat.MCUName(), len(cat.Pins()), len(cat.Groups()), len(cat.Sensors()))
	return nil
}
