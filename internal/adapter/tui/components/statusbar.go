// Package components holds small reusable TUI building blocks.
package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"pintrainer/internal/adapter/tui/theme"
)

// KeyHint represents a single keybinding hint shown in the status bar.
type KeyHint struct {
	Key  string // e.g. "Enter"
	Desc string // e.g. "Connect"
}

// StatusBarModel renders a bottom status bar with keybinding hints on the
// left and session context on the right.
type StatusBarModel struct {
	Hints   []KeyHint
	Context []string // e.g. sensor name, MCU name
	Extra   string   // highlighted trailing text, e.g. "2/3 connected"
	width   int
}

// NewStatusBar creates an empty status bar.
func NewStatusBar() StatusBarModel {
	return StatusBarModel{}
}

// SetWidth updates the available width.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// View renders the status bar as a single line.
func (m StatusBarModel) View() string {
	var hints []string
	for _, h := range m.Hints {
		key := theme.StatusKey.Render(h.Key)
		hints = append(hints, key+": "+h.Desc)
	}
	left := strings.Join(hints, "  "+theme.Dim.Render("|")+"  ")

	var right string
	if len(m.Context) > 0 {
		right = theme.TextMuted.Render(strings.Join(m.Context, " "+theme.SymbolBullet+" "))
	}
	if m.Extra != "" {
		if right != "" {
			right += "  "
		}
		right += theme.TextInfo.Render(m.Extra)
	}

	// Join left and right, padding the gap.
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}

	bar := left + strings.Repeat(" ", gap) + right
	return theme.StatusBar.Width(m.width).Render(bar)
}
