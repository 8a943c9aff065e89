package trainer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"pintrainer/internal/adapter/tui/components"
	"pintrainer/internal/adapter/tui/components/wizard"
	"pintrainer/internal/adapter/tui/theme"
	"pintrainer/internal/domain"
	"pintrainer/internal/usecase"
)

// listItem implements list.Item for the bubbles list component.
type listItem struct {
	title string
	desc  string
	id    string
}

func (i listItem) Title() string       { return i.title }
func (i listItem) Description() string { return i.desc }
func (i listItem) FilterValue() string { return i.title }

// Options tunes the model.
type Options struct {
	// MarkdownStyle is a glamour standard style name ("dark", "light",
	// "notty"). Empty picks one from the terminal background.
	MarkdownStyle string
}

// Model is the root Bubble Tea model for the wiring trainer.
type Model struct {
	ctx     context.Context
	trainer *usecase.Trainer
	opts    Options

	phase Phase
	steps wizard.StepIndicatorModel
	list  list.Model
	md    *glamour.TermRenderer

	sensor    domain.SensorDefinition
	iface     string
	sessionID string
	snap      usecase.Snapshot
	attempt   *domain.Attempt
	verifying bool

	focus     pane
	sensorCur int
	mcuCur    int

	notice    string
	noticeErr bool

	width    int
	height   int
	quitting bool
}

// New creates the trainer model positioned at sensor selection.
func New(ctx context.Context, t *usecase.Trainer, opts Options) Model {
	var steps []wizard.Step
	for p := PhaseSensor; p < PhaseCount; p++ {
		steps = append(steps, wizard.Step{Name: p.String()})
	}
	m := Model{
		ctx:     ctx,
		trainer: t,
		opts:    opts,
		steps:   wizard.NewStepIndicator(steps),
	}
	m.list = m.buildSensorList()
	return m
}

// Phase returns the current phase.
func (m Model) Phase() Phase { return m.phase }

// SessionID returns the live session, empty before one is created.
func (m Model) SessionID() string { return m.sessionID }

// Snapshot returns the last state observed for the live session.
func (m Model) Snapshot() usecase.Snapshot { return m.snap }

// Attempt returns the last verification result, nil before verify.
func (m Model) Attempt() *domain.Attempt { return m.attempt }

// Notice returns the message shown under the current phase.
func (m Model) Notice() string { return m.notice }

// Init initializes the model.
func (m Model) Init() tea.Cmd { return nil }

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.steps.SetWidth(m.width - 4)
		m.list.SetSize(m.listWidth(), m.listHeight())
		m.md = m.newMarkdownRenderer()
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m.quit()
		}

	case VerifiedMsg:
		m.verifying = false
		if msg.Err != nil {
			m.setError(msg.Err)
			return m, nil
		}
		a := msg.Attempt
		m.attempt = &a
		m.clearNotice()
		return m.enterPhase(PhaseResult)

	case EventMsg:
		return m.handleEvent(msg.Event)
	}

	switch m.phase {
	case PhaseSensor:
		return m.updateSensor(msg)
	case PhaseInterface:
		return m.updateInterface(msg)
	case PhaseWiring:
		return m.updateWiring(msg)
	case PhaseResult:
		return m.updateResult(msg)
	}
	return m, nil
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.endSession()
	m.quitting = true
	return m, tea.Quit
}

// handleEvent reacts to events published for the live session by other
// consumers, e.g. the idle reaper.
func (m Model) handleEvent(ev domain.Event) (tea.Model, tea.Cmd) {
	if ev.SessionID == "" || ev.SessionID != m.sessionID {
		return m, nil
	}
	if ev.Type == domain.EventSessionDeleted {
		m.sessionID = ""
		m.snap = usecase.Snapshot{}
		nm, cmd := m.enterPhase(PhaseSensor)
		mm := nm.(Model)
		mm.notice = "Session ended by the server. Pick a sensor to start again."
		mm.noticeErr = true
		return mm, cmd
	}
	return m, nil
}

// --- Phase navigation ---

func (m Model) enterPhase(p Phase) (tea.Model, tea.Cmd) {
	m.phase = p
	m.steps.SetCurrent(int(p))

	switch p {
	case PhaseSensor:
		m.endSession()
		m.sensor = domain.SensorDefinition{}
		m.iface = ""
		m.attempt = nil
		m.steps.SetSkipped(int(PhaseInterface), false)
		m.list = m.buildSensorList()
	case PhaseInterface:
		m.list = m.buildInterfaceList()
	case PhaseWiring:
		m.focus = paneSensor
	}
	return m, nil
}

func (m *Model) endSession() {
	if m.sessionID == "" {
		return
	}
	// The reaper may have removed it already.
	_ = m.trainer.DeleteSession(m.ctx, m.sessionID)
	m.sessionID = ""
	m.snap = usecase.Snapshot{}
}

func (m Model) startSession() (tea.Model, tea.Cmd) {
	s, err := m.trainer.CreateSession(m.ctx, m.sensor.Name, m.iface)
	if err != nil {
		m.setError(err)
		return m, nil
	}
	snap, err := s.Snapshot()
	if err != nil {
		m.setError(err)
		return m, nil
	}
	m.sessionID = s.ID
	m.iface = s.Interface
	m.snap = snap
	m.sensorCur, m.mcuCur = 0, 0
	m.clearNotice()
	return m.enterPhase(PhaseWiring)
}

// --- Phase updates ---

func (m Model) updateSensor(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "enter":
			item, ok := m.list.SelectedItem().(listItem)
			if !ok {
				return m, nil
			}
			sensor, err := m.trainer.Catalog().Sensor(item.id)
			if err != nil {
				m.setError(err)
				return m, nil
			}
			m.sensor = sensor
			if len(sensor.Interfaces) > 1 {
				m.clearNotice()
				return m.enterPhase(PhaseInterface)
			}
			m.steps.SetSkipped(int(PhaseInterface), true)
			return m.startSession()
		case "q", "esc":
			return m.quit()
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) updateInterface(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch keyMsg.String() {
		case "enter":
			if item, ok := m.list.SelectedItem().(listItem); ok {
				m.iface = item.id
				return m.startSession()
			}
			return m, nil
		case "esc":
			return m.enterPhase(PhaseSensor)
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) updateWiring(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok || m.verifying {
		return m, nil
	}

	switch keyMsg.String() {
	case "up", "k":
		m.moveCursor(-1)
	case "down", "j":
		m.moveCursor(1)
	case "tab", "left", "right", "h", "l":
		m.toggleFocus()
	case "enter", " ":
		return m.activate()
	case "x", "backspace", "delete":
		return m.disconnectSelected()
	case "r":
		snap, err := m.trainer.Reset(m.ctx, m.sessionID)
		if err != nil {
			m.setError(err)
			return m, nil
		}
		m.snap = snap
		m.sensorCur, m.mcuCur = 0, 0
		m.focus = paneSensor
		m.setInfo("Wiring cleared.")
	case "v":
		m.verifying = true
		m.setInfo("Verifying...")
		return m, verifyCmd(m.ctx, m.trainer, m.sessionID)
	case "esc":
		if len(m.sensor.Interfaces) > 1 {
			m.endSession()
			return m.enterPhase(PhaseInterface)
		}
		return m.enterPhase(PhaseSensor)
	case "q":
		return m.quit()
	}
	return m, nil
}

func (m Model) updateResult(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch keyMsg.String() {
	case "enter", "n":
		m.clearNotice()
		return m.enterPhase(PhaseSensor)
	case "b", "esc":
		m.clearNotice()
		m.phase = PhaseWiring
		m.steps.SetCurrent(int(PhaseWiring))
		return m, nil
	case "q":
		return m.quit()
	}
	return m, nil
}

// --- Wiring actions ---

func (m *Model) moveCursor(delta int) {
	switch m.focus {
	case paneSensor:
		if n := len(m.sensor.Pins); n > 0 {
			m.sensorCur = theme.Clamp(m.sensorCur+delta, 0, n-1)
		}
	case paneMCU:
		if n := len(m.mcuRows()); n > 0 {
			m.mcuCur = theme.Clamp(m.mcuCur+delta, 0, n-1)
		}
	}
}

func (m *Model) toggleFocus() {
	if m.focus == paneSensor {
		m.focus = paneMCU
		return
	}
	m.focus = paneSensor
}

func (m Model) activate() (tea.Model, tea.Cmd) {
	if m.focus == paneSensor {
		m.focus = paneMCU
		return m, nil
	}

	rows := m.mcuRows()
	if m.mcuCur >= len(rows) {
		return m, nil
	}
	row := rows[m.mcuCur]
	if row.pin == "" {
		snap, err := m.trainer.ToggleGroup(m.ctx, m.sessionID, row.group)
		if err != nil {
			m.setError(err)
			return m, nil
		}
		m.snap = snap
		m.mcuCur = m.headerIndex(row.group)
		m.clearNotice()
		return m, nil
	}

	sensorPin := m.selectedSensorPin()
	snap, err := m.trainer.Connect(m.ctx, m.sessionID, sensorPin, row.pin)
	if err != nil {
		var ce *domain.ConflictError
		if errors.As(err, &ce) {
			m.notice = fmt.Sprintf("%s is already in use by %s. Disconnect %s first.", ce.McuPin, ce.Owner, ce.Owner)
			m.noticeErr = true
			return m, nil
		}
		m.setError(err)
		return m, nil
	}
	m.snap = snap
	m.setInfo(fmt.Sprintf("%s %s %s", sensorPin, theme.SymbolArrowR, row.pin))
	m.focus = paneSensor
	if m.sensorCur < len(m.sensor.Pins)-1 {
		m.sensorCur++
	}
	return m, nil
}

func (m Model) disconnectSelected() (tea.Model, tea.Cmd) {
	sensorPin := m.selectedSensorPin()
	if sensorPin == "" {
		return m, nil
	}
	snap, err := m.trainer.Disconnect(m.ctx, m.sessionID, sensorPin)
	if err != nil {
		m.setError(err)
		return m, nil
	}
	m.snap = snap
	m.setInfo(sensorPin + " disconnected.")
	return m, nil
}

func (m Model) selectedSensorPin() string {
	if m.sensorCur < len(m.sensor.Pins) {
		return m.sensor.Pins[m.sensorCur]
	}
	return ""
}

// --- Notices ---

func (m *Model) setError(err error) {
	m.notice = err.Error()
	m.noticeErr = true
}

func (m *Model) setInfo(s string) {
	m.notice = s
	m.noticeErr = false
}

func (m *Model) clearNotice() {
	m.notice = ""
	m.noticeErr = false
}

// --- Views ---

// View renders the current phase.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.width == 0 {
		return "  Initializing..."
	}

	title := theme.WizardTitle.Render("Pin Trainer " + theme.TextMuted.Render(m.trainer.Catalog().MCUName()))

	var content string
	switch m.phase {
	case PhaseSensor:
		content = m.viewSensor()
	case PhaseInterface:
		content = m.viewInterface()
	case PhaseWiring:
		content = m.viewWiring()
	case PhaseResult:
		content = m.viewResult()
	}

	parts := []string{title, m.steps.View(), "", content}
	if m.notice != "" {
		style := theme.TextInfo
		prefix := theme.SymbolInfo
		if m.noticeErr {
			style = theme.TextError
			prefix = theme.SymbolError
		}
		parts = append(parts, "", style.Render(prefix+" "+m.notice))
	}
	parts = append(parts, "", m.statusBar())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) statusBar() string {
	sb := components.NewStatusBar()
	switch m.phase {
	case PhaseSensor, PhaseInterface:
		sb.Hints = []components.KeyHint{
			{Key: "Enter", Desc: "Select"},
			{Key: "Esc", Desc: "Back"},
			{Key: "Ctrl+C", Desc: "Quit"},
		}
	case PhaseWiring:
		sb.Hints = []components.KeyHint{
			{Key: "Tab", Desc: "Switch pane"},
			{Key: "Enter", Desc: "Connect/expand"},
			{Key: "x", Desc: "Disconnect"},
			{Key: "r", Desc: "Reset"},
			{Key: "v", Desc: "Verify"},
		}
		sb.Extra = fmt.Sprintf("%d/%d connected", m.snap.Validation.Connected, m.snap.Validation.Total)
	case PhaseResult:
		sb.Hints = []components.KeyHint{
			{Key: "Enter", Desc: "New sensor"},
			{Key: "b", Desc: "Back to wiring"},
			{Key: "q", Desc: "Quit"},
		}
	}
	if m.sensor.Name != "" {
		sb.Context = append(sb.Context, m.sensor.Name)
		if m.iface != "" {
			sb.Context = append(sb.Context, m.iface)
		}
	}
	sb.SetWidth(m.width)
	return sb.View()
}

func (m Model) viewSensor() string {
	parts := []string{theme.Bold.Render("Choose a sensor:"), "", m.list.View()}
	if item, ok := m.list.SelectedItem().(listItem); ok {
		if sensor, err := m.trainer.Catalog().Sensor(item.id); err == nil && sensor.Description != "" {
			parts = append(parts, m.renderMarkdown(sensor.Description))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) viewInterface() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		theme.Bold.Render(fmt.Sprintf("How should %s talk to the MCU?", m.sensor.Name)),
		"",
		m.list.View(),
	)
}

func (m Model) viewResult() string {
	if m.attempt == nil {
		return ""
	}
	a := m.attempt
	var header string
	if a.AllCorrect {
		header = theme.TextSuccess.Render(theme.SymbolSuccess + " All connections are correct!")
	} else {
		header = theme.TextError.Render(fmt.Sprintf("%s %d of %d pins wired correctly", theme.SymbolError, m.correctCount(), a.Total))
	}

	lines := []string{header, ""}
	for _, p := range m.snap.Validation.Pins {
		lines = append(lines, "  "+pinStatusLine(p))
	}
	if len(a.Errors) > 0 {
		lines = append(lines, "", theme.Bold.Render("What to fix:"))
		for _, e := range a.Errors {
			lines = append(lines, "  "+theme.SymbolBullet+" "+e)
		}
	}
	lines = append(lines, "", theme.TextMuted.Render("Attempt "+a.ID))
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) correctCount() int {
	n := 0
	for _, p := range m.snap.Validation.Pins {
		if p.Status == domain.StatusCorrect {
			n++
		}
	}
	return n
}

func (m Model) newMarkdownRenderer() *glamour.TermRenderer {
	style := glamour.WithAutoStyle()
	if m.opts.MarkdownStyle != "" {
		style = glamour.WithStandardStyle(m.opts.MarkdownStyle)
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(m.listWidth()))
	if err != nil {
		return nil
	}
	return r
}

// renderMarkdown falls back to the raw text until the first resize.
func (m Model) renderMarkdown(content string) string {
	if m.md == nil {
		return content
	}
	rendered, err := m.md.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n")
}

// --- List builders ---

func (m Model) listWidth() int  { return theme.Clamp(m.width-4, 20, theme.MaxContentWidth) }
func (m Model) listHeight() int { return theme.Clamp(m.height/2, 6, 20) }

func (m Model) newList(items []list.Item) list.Model {
	l := list.New(items, list.NewDefaultDelegate(), m.listWidth(), m.listHeight())
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.Styles.Title = lipgloss.NewStyle()
	return l
}

func (m Model) buildSensorList() list.Model {
	var items []list.Item
	for _, s := range m.trainer.ListSensors(m.ctx) {
		items = append(items, listItem{
			title: s.Name,
			desc:  fmt.Sprintf("%s %s %d pins", strings.Join(s.Interfaces, ", "), theme.SymbolBullet, len(s.Pins)),
			id:    s.Name,
		})
	}
	return m.newList(items)
}

func (m Model) buildInterfaceList() list.Model {
	var items []list.Item
	for _, iface := range m.sensor.Interfaces {
		items = append(items, listItem{title: iface, desc: m.sensor.Name + " over " + iface, id: iface})
	}
	return m.newList(items)
}
