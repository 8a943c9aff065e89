// Package wizard provides TUI components for multi-step flows.
package wizard

import (
	"fmt"
	"strings"

	"pintrainer/internal/adapter/tui/theme"
)

// Step represents a single wizard step.
type Step struct {
	Name string
	// Skipped steps are drawn dimmed and never counted as current.
	Skipped bool
}

// StepIndicatorModel displays wizard progress as a breadcrumb
// ("Sensor > Interface > Wiring > Result") over a progress bar.
type StepIndicatorModel struct {
	Steps   []Step
	Current int
	width   int
}

// NewStepIndicator creates a step indicator.
func NewStepIndicator(steps []Step) StepIndicatorModel {
	return StepIndicatorModel{Steps: steps}
}

// SetWidth sets the rendering width.
func (m *StepIndicatorModel) SetWidth(w int) {
	m.width = w
}

// SetCurrent sets the active step index.
func (m *StepIndicatorModel) SetCurrent(i int) {
	if i >= 0 && i < len(m.Steps) {
		m.Current = i
	}
}

// SetSkipped marks step i as skipped or not.
func (m *StepIndicatorModel) SetSkipped(i int, skipped bool) {
	if i >= 0 && i < len(m.Steps) {
		m.Steps[i].Skipped = skipped
	}
}

// View renders the step indicator.
func (m StepIndicatorModel) View() string {
	if len(m.Steps) == 0 || m.width < 20 {
		return ""
	}

	crumbs := make([]string, 0, len(m.Steps))
	for i, s := range m.Steps {
		switch {
		case s.Skipped:
			crumbs = append(crumbs, theme.Dim.Render(s.Name))
		case i < m.Current:
			crumbs = append(crumbs, theme.WizardStepDone.Render(theme.SymbolSuccess+" "+s.Name))
		case i == m.Current:
			crumbs = append(crumbs, theme.WizardStepActive.Render(s.Name))
		default:
			crumbs = append(crumbs, theme.WizardStepPending.Render(s.Name))
		}
	}
	header := strings.Join(crumbs, theme.TextMuted.Render(" "+theme.SymbolArrowR+" "))

	barWidth := m.width - 10 // leave room for percentage
	if barWidth < 10 {
		barWidth = 10
	}
	pct := float64(m.Current) / float64(len(m.Steps)-1)
	if len(m.Steps) == 1 {
		pct = 1
	}
	filled := int(pct * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}

	bar := theme.ProgressFull.Render(strings.Repeat("█", filled)) +
		theme.ProgressEmpty.Render(strings.Repeat("░", barWidth-filled))
	pctStr := theme.TextMuted.Render(fmt.Sprintf(" %d%%", int(pct*100)))

	return header + "\n" + bar + pctStr
}
