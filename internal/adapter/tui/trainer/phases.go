// Package trainer implements the Bubble Tea wiring trainer: pick a sensor,
// pick an interface, wire it to the MCU and verify the result.
package trainer

// Phase represents a wizard phase.
type Phase int

const (
	PhaseSensor Phase = iota
	PhaseInterface
	PhaseWiring
	PhaseResult
	PhaseCount // sentinel
)

// String returns the display name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseSensor:
		return "Sensor"
	case PhaseInterface:
		return "Interface"
	case PhaseWiring:
		return "Wiring"
	case PhaseResult:
		return "Result"
	}
	return "Unknown"
}

// pane is the focused column of the wiring phase.
type pane int

const (
	paneSensor pane = iota
	paneMCU
)
