// Package theme provides the visual design system for the trainer TUI.
// All styles use adaptive colors that work on both light and dark terminals.
//
// NO_COLOR (https://no-color.org/) is respected automatically by lipgloss via
// its color profile detection: when set, all color output is suppressed.
package theme

import (
	"github.com/charmbracelet/lipgloss"
)

// --- Adaptive Color Palette ---

var (
	ColorSuccess = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	ColorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	ColorWarning = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
	ColorInfo    = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
	ColorAccent  = lipgloss.AdaptiveColor{Light: "#6a1b9a", Dark: "#ce93d8"}
	ColorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}

	ColorBorder       = lipgloss.AdaptiveColor{Light: "#bdbdbd", Dark: "#616161"}
	ColorBorderActive = lipgloss.AdaptiveColor{Light: "#1565c0", Dark: "#42a5f5"}

	ColorBgAlt    = lipgloss.AdaptiveColor{Light: "#f5f5f5", Dark: "#2d2d2d"}
	ColorFgDim    = lipgloss.AdaptiveColor{Light: "#9e9e9e", Dark: "#757575"}
	ColorCursorBg = lipgloss.AdaptiveColor{Light: "#e3f2fd", Dark: "#263238"}
)

// --- Symbol variables (set by InitSymbols in symbols.go) ---
// These default to Unicode glyphs but fall back to ASCII on non-UTF8 terminals.

var (
	SymbolSuccess   = "✓"
	SymbolError     = "✗"
	SymbolWarning   = "⚠"
	SymbolInfo      = "●"
	SymbolArrowR    = "→"
	SymbolBullet    = "•"
	SymbolExpanded  = "▾"
	SymbolCollapsed = "▸"
	SymbolCursor    = "❯"
)

// --- Base styles ---

var (
	Bold = lipgloss.NewStyle().Bold(true)
	Dim  = lipgloss.NewStyle().Faint(true)

	// Semantic text styles.
	TextSuccess = lipgloss.NewStyle().Foreground(ColorSuccess).Bold(true)
	TextError   = lipgloss.NewStyle().Foreground(ColorError).Bold(true)
	TextWarning = lipgloss.NewStyle().Foreground(ColorWarning).Bold(true)
	TextInfo    = lipgloss.NewStyle().Foreground(ColorInfo)
	TextAccent  = lipgloss.NewStyle().Foreground(ColorAccent)
	TextMuted   = lipgloss.NewStyle().Foreground(ColorMuted)
)

// --- Layout styles ---

var (
	// Focus-aware borders for the wiring panes.
	FocusBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorderActive).
			Padding(0, 1)

	UnfocusedBorder = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1)

	// CursorRow highlights the row under the cursor in the focused pane.
	CursorRow = lipgloss.NewStyle().
			Background(ColorCursorBg).
			Bold(true)

	GroupHeader = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true)
)

// --- Status bar ---

var (
	StatusBar = lipgloss.NewStyle().
			Foreground(ColorFgDim).
			Background(ColorBgAlt).
			Padding(0, 1)

	StatusKey = lipgloss.NewStyle().
			Foreground(ColorInfo).
			Bold(true)
)

// --- Wizard styles ---

var (
	WizardTitle = lipgloss.NewStyle().
			Foreground(ColorAccent).
			Bold(true).
			Padding(0, 0, 1, 0)

	WizardStepActive = lipgloss.NewStyle().
				Foreground(ColorInfo).
				Bold(true)

	WizardStepDone = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	WizardStepPending = lipgloss.NewStyle().
				Foreground(ColorMuted)

	ProgressFull = lipgloss.NewStyle().
			Foreground(ColorInfo)

	ProgressEmpty = lipgloss.NewStyle().
			Foreground(ColorMuted)
)

// MaxContentWidth is the recommended max width for readable text content.
const MaxContentWidth = 100

// Clamp returns v clamped to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
