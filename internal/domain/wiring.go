package domain

import (
	"context"
	"time"
)

// PinFunction is an electrical capability a physical pin can provide.
type PinFunction string

const (
	FuncGND    PinFunction = "GND"
	FuncVCC    PinFunction = "VCC"
	FuncGPIO   PinFunction = "GPIO"
	FuncADC    PinFunction = "ADC"
	FuncI2CSDA PinFunction = "I2C_SDA"
	FuncI2CSCL PinFunction = "I2C_SCL"
)

// BuiltinFunctions lists the functions every catalog understands. Catalogs
// may declare more through extra_functions.
var BuiltinFunctions = []PinFunction{FuncGND, FuncVCC, FuncGPIO, FuncADC, FuncI2CSDA, FuncI2CSCL}

// GroupKey identifies a visual cluster of MCU pins.
type GroupKey string

// GroupOthers holds pins whose names carry no port letter (GND, VCC).
const GroupOthers GroupKey = "Others"

// Point is a screen coordinate.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Add returns p translated by q.
func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y}
}

// McuPin is one contact on the target microcontroller.
type McuPin struct {
	Name      string        `json:"name"`
	Functions []PinFunction `json:"functions"`
	Group     GroupKey      `json:"group"`
}

// Supports reports whether the pin provides fn.
func (p McuPin) Supports(fn PinFunction) bool {
	for _, f := range p.Functions {
		if f == fn {
			return true
		}
	}
	return false
}

// PinGroup is an ordered set of MCU pins that expand and collapse together.
type PinGroup struct {
	Key  GroupKey `json:"key"`
	Pins []string `json:"pins"`
}

// SensorDefinition is immutable reference data for one trainable sensor.
type SensorDefinition struct {
	Name               string                 `json:"name"`
	Description        string                 `json:"description,omitempty"`
	Interfaces         []string               `json:"interfaces"`
	Pins               []string               `json:"pins"`
	PinPositions       map[string]Point       `json:"pin_positions"`
	CorrectConnections map[string]PinFunction `json:"correct_connections"`
	// Layout overrides the default base coordinate of individual groups.
	Layout map[GroupKey]Point `json:"layout,omitempty"`
}

// HasPin reports whether name is one of the sensor's pins.
func (s SensorDefinition) HasPin(name string) bool {
	for _, p := range s.Pins {
		if p == name {
			return true
		}
	}
	return false
}

// HasInterface reports whether the sensor can be wired over iface.
func (s SensorDefinition) HasInterface(iface string) bool {
	for _, i := range s.Interfaces {
		if i == iface {
			return true
		}
	}
	return false
}

// Connection maps one sensor pin to one MCU pin.
type Connection struct {
	SensorPin string `json:"sensor_pin"`
	McuPin    string `json:"mcu_pin"`
}

// PinStatus is the per-sensor-pin validation outcome.
type PinStatus string

const (
	StatusNotConnected PinStatus = "not-connected"
	StatusCorrect      PinStatus = "correct"
	StatusIncorrect    PinStatus = "incorrect"
)

// PinResult is the validation outcome for one sensor pin.
type PinResult struct {
	SensorPin string      `json:"sensor_pin"`
	McuPin    string      `json:"mcu_pin,omitempty"`
	Required  PinFunction `json:"required"`
	Status    PinStatus   `json:"status"`
}

// Conflict lists sensor pins that share one MCU pin.
type Conflict struct {
	McuPin     string   `json:"mcu_pin"`
	SensorPins []string `json:"sensor_pins"`
}

// ValidationResult is a projection of the current wiring. It is never stored.
type ValidationResult struct {
	Pins       []PinResult `json:"pins"`
	AllCorrect bool        `json:"all_correct"`
	Errors     []string    `json:"errors"`
	Conflicts  []Conflict  `json:"conflicts,omitempty"`
	Connected  int         `json:"connected"`
	Total      int         `json:"total"`
}

// StatusOf returns the status of a sensor pin, or not-connected if the pin is
// not part of the result.
func (r ValidationResult) StatusOf(sensorPin string) PinStatus {
	for _, p := range r.Pins {
		if p.SensorPin == sensorPin {
			return p.Status
		}
	}
	return StatusNotConnected
}

// Line is the drawn connector between a sensor pin and its MCU pin.
type Line struct {
	SensorPin string    `json:"sensor_pin"`
	McuPin    string    `json:"mcu_pin"`
	Points    []Point   `json:"points"`
	Status    PinStatus `json:"status"`
}

// Attempt is a recorded verification of a session's wiring.
type Attempt struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	Sensor      string       `json:"sensor"`
	Interface   string       `json:"interface,omitempty"`
	AllCorrect  bool         `json:"all_correct"`
	Connected   int          `json:"connected"`
	Total       int          `json:"total"`
	Errors      []string     `json:"errors"`
	Connections []Connection `json:"connections"`
	CreatedAt   time.Time    `json:"created_at"`
}

// HistoryFilter narrows a history listing.
type HistoryFilter struct {
	Sensor string
	Limit  int
}

// HistoryStore persists verification attempts.
type HistoryStore interface {
	Record(ctx context.Context, a Attempt) error
	List(ctx context.Context, f HistoryFilter) ([]Attempt, error)
	Get(ctx context.Context, id string) (*Attempt, error)
	Close() error
}
