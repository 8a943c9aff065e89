package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"pintrainer/internal/domain"
	"pintrainer/internal/usecase"
)

// errWiringIncorrect makes check exit non-zero without repeating the report.
var errWiringIncorrect = errors.New("wiring is not correct")

var (
	checkSensor string
	checkIface  string
	checkWires  []string
	checkExpand string
	checkLines  bool
	checkJSON   bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a wiring without the UI",
	Long: `Validate a wiring given on the command line and print the per-pin result.

  pintrainer check --sensor TMP36 --wire GND=GND --wire Vout=PA0 --wire Vdd=VCC

Exits non-zero unless every sensor pin is connected correctly.`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkSensor, "sensor", "", "sensor name (required)")
	checkCmd.Flags().StringVar(&checkIface, "interface", "", "interface (default: the sensor's first)")
	checkCmd.Flags().StringArrayVar(&checkWires, "wire", nil, "connection as SENSOR_PIN=MCU_PIN, repeatable")
	checkCmd.Flags().StringVar(&checkExpand, "expand", "", "expand this MCU pin group before computing lines")
	checkCmd.Flags().BoolVar(&checkLines, "lines", false, "print line geometry")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print the session snapshot as JSON")
	_ = checkCmd.MarkFlagRequired("sensor")
	rootCmd.AddCommand(checkCmd)
}

func parseWire(s string) (domain.Connection, error) {
	sensorPin, mcuPin, ok := strings.Cut(s, "=")
	sensorPin, mcuPin = strings.TrimSpace(sensorPin), strings.TrimSpace(mcuPin)
	if !ok || sensorPin == "" || mcuPin == "" {
		return domain.Connection{}, fmt.Errorf("--wire %q: want SENSOR_PIN=MCU_PIN", s)
	}
	return domain.Connection{SensorPin: sensorPin, McuPin: mcuPin}, nil
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, cat, err := loadCatalog()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	t := usecase.NewTrainer(usecase.TrainerDeps{
		Catalog:        cat,
		Layout:         cfg.Layout.Resolve(),
		ConflictPolicy: usecase.ConflictPolicy(cfg.Session.ConflictPolicy),
		Logger:         discardLogger(),
	})

	s, err := t.CreateSession(ctx, checkSensor, checkIface)
	if err != nil {
		return err
	}
	for _, w := range checkWires {
		c, err := parseWire(w)
		if err != nil {
			return err
		}
		if _, err := t.Connect(ctx, s.ID, c.SensorPin, c.McuPin); err != nil {
			return err
		}
	}
	if checkExpand != "" {
		if _, err := t.ToggleGroup(ctx, s.ID, domain.GroupKey(checkExpand)); err != nil {
			return err
		}
	}

	snap, err := t.Snapshot(ctx, s.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if checkJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return err
		}
	} else {
		printReport(out, cat.MCUName(), snap, checkLines)
	}

	if !snap.Validation.AllCorrect {
		return errWiringIncorrect
	}
	return nil
}

func printReport(out io.Writer, mcu string, snap usecase.Snapshot, withLines bool) {
	fmt.Fprintf(out, "%s (%s) on %s\n", snap.Sensor, snap.Interface, mcu)
	correct := 0
	for _, p := range snap.Validation.Pins {
		target := "not connected"
		if p.McuPin != "" {
			target = "-> " + p.McuPin
		}
		tag := "[ -- ]"
		switch p.Status {
		case domain.StatusCorrect:
			tag = "[PASS]"
			correct++
		case domain.StatusIncorrect:
			tag = "[FAIL]"
		}
		fmt.Fprintf(out, "  %s %-5s %-14s needs %s\n", tag, p.SensorPin, target, p.Required)
	}
	fmt.Fprintf(out, "%d/%d connected, %d correct\n", snap.Validation.Connected, snap.Validation.Total, correct)

	if len(snap.Validation.Errors) > 0 {
		fmt.Fprintln(out, "Errors:")
		for _, e := range snap.Validation.Errors {
			fmt.Fprintf(out, "  - %s\n", e)
		}
	}

	if withLines && len(snap.Lines) > 0 {
		fmt.Fprintln(out, "Lines:")
		for _, p := range snap.Validation.Pins {
			line, ok := snap.Lines[p.SensorPin]
			if !ok {
				continue
			}
			pts := make([]string, len(line.Points))
			for i, pt := range line.Points {
				pts[i] = fmt.Sprintf("(%g,%g)", pt.X, pt.Y)
			}
			fmt.Fprintf(out, "  %s -> %s: %s\n", line.SensorPin, line.McuPin, strings.Join(pts, " "))
		}
	}
}
