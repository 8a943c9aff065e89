package trainer

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"pintrainer/internal/adapter/tui/theme"
	"pintrainer/internal/domain"
)

// mcuRow is one line of the MCU pane: a group header, or a pin of the
// expanded group.
type mcuRow struct {
	group domain.GroupKey
	pin   string // empty for a header
}

// mcuRows lists the header of every group offered for the chosen interface,
// with the pins of the expanded group inlined under its header.
func (m Model) mcuRows() []mcuRow {
	var rows []mcuRow
	for _, g := range m.trainer.Catalog().GroupsFor(m.iface) {
		rows = append(rows, mcuRow{group: g.Key})
		if g.Key != m.snap.Expanded {
			continue
		}
		for _, p := range g.Pins {
			rows = append(rows, mcuRow{group: g.Key, pin: p})
		}
	}
	return rows
}

func (m Model) headerIndex(group domain.GroupKey) int {
	for i, r := range m.mcuRows() {
		if r.pin == "" && r.group == group {
			return i
		}
	}
	return 0
}

// owners maps each used MCU pin to the sensor pin holding it.
func (m Model) owners() map[string]string {
	out := make(map[string]string, len(m.snap.Connections))
	for _, c := range m.snap.Connections {
		out[c.McuPin] = c.SensorPin
	}
	return out
}

func (m Model) viewWiring() string {
	sensorPane := m.viewSensorPane()
	mcuPane := m.viewMCUPane()

	sensorStyle, mcuStyle := theme.FocusBorder, theme.UnfocusedBorder
	if m.focus == paneMCU {
		sensorStyle, mcuStyle = theme.UnfocusedBorder, theme.FocusBorder
	}
	panes := lipgloss.JoinHorizontal(lipgloss.Top,
		sensorStyle.Render(sensorPane),
		" ",
		mcuStyle.Render(mcuPane),
	)

	parts := []string{
		theme.Bold.Render(fmt.Sprintf("Wire the %s to the %s", m.sensor.Name, m.trainer.Catalog().MCUName())),
		"",
		panes,
	}
	if detail := m.lineDetail(); detail != "" {
		parts = append(parts, "", detail)
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) viewSensorPane() string {
	lines := []string{theme.GroupHeader.Render(m.sensor.Name + " pins")}
	for i, pin := range m.sensor.Pins {
		res := m.pinResult(pin)
		row := pinStatusLine(res)
		lines = append(lines, m.cursorize(row, m.focus == paneSensor && i == m.sensorCur))
	}
	return strings.Join(lines, "\n")
}

func (m Model) viewMCUPane() string {
	owners := m.owners()
	lines := []string{theme.GroupHeader.Render(m.trainer.Catalog().MCUName() + " pins")}
	for i, r := range m.mcuRows() {
		var row string
		if r.pin == "" {
			sym := theme.SymbolCollapsed
			if r.group == m.snap.Expanded {
				sym = theme.SymbolExpanded
			}
			n := len(m.trainer.Catalog().PinsInGroup(r.group))
			row = theme.GroupHeader.Render(fmt.Sprintf("%s %s", sym, r.group)) + theme.TextMuted.Render(fmt.Sprintf(" (%d)", n))
		} else {
			fns, _ := m.trainer.Catalog().FunctionsOf(r.pin)
			names := make([]string, len(fns))
			for j, f := range fns {
				names[j] = string(f)
			}
			row = fmt.Sprintf("   %-5s %s", r.pin, theme.TextMuted.Render(strings.Join(names, ", ")))
			if owner, ok := owners[r.pin]; ok {
				row += " " + theme.TextAccent.Render("["+owner+"]")
			}
		}
		lines = append(lines, m.cursorize(row, m.focus == paneMCU && i == m.mcuCur))
	}
	return strings.Join(lines, "\n")
}

func (m Model) cursorize(row string, selected bool) string {
	if selected {
		return theme.CursorRow.Render(theme.SymbolCursor + " " + row)
	}
	return "  " + row
}

func (m Model) pinResult(pin string) domain.PinResult {
	for _, p := range m.snap.Validation.Pins {
		if p.SensorPin == pin {
			return p
		}
	}
	return domain.PinResult{SensorPin: pin, Required: m.sensor.CorrectConnections[pin], Status: domain.StatusNotConnected}
}

// lineDetail describes the connector of the selected sensor pin.
func (m Model) lineDetail() string {
	pin := m.selectedSensorPin()
	line, ok := m.snap.Lines[pin]
	if !ok || len(line.Points) == 0 {
		return ""
	}
	pts := make([]string, len(line.Points))
	for i, p := range line.Points {
		pts[i] = fmt.Sprintf("(%.0f,%.0f)", p.X, p.Y)
	}
	return theme.TextMuted.Render(fmt.Sprintf("%s %s %s  line %s",
		line.SensorPin, theme.SymbolArrowR, line.McuPin, strings.Join(pts, " "+theme.SymbolArrowR+" ")))
}

// pinStatusLine renders one sensor pin with its status glyph, required
// function and current MCU pin.
func pinStatusLine(p domain.PinResult) string {
	var sym string
	var style lipgloss.Style
	switch p.Status {
	case domain.StatusCorrect:
		sym, style = theme.SymbolSuccess, theme.TextSuccess
	case domain.StatusIncorrect:
		sym, style = theme.SymbolError, theme.TextError
	default:
		sym, style = theme.SymbolBullet, theme.TextMuted
	}
	target := theme.TextMuted.Render("not connected")
	if p.McuPin != "" {
		target = theme.SymbolArrowR + " " + p.McuPin
	}
	return fmt.Sprintf("%s %-5s %s  %s", style.Render(sym), p.SensorPin, theme.TextMuted.Render("needs "+string(p.Required)), target)
}
