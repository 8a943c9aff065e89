// Package validation projects a sensor's wiring onto per-pin correctness.
package validation

import (
	"fmt"
	"sort"

	"pintrainer/internal/domain"
)

// FunctionLookup resolves the functions an MCU pin supports.
type FunctionLookup interface {
	FunctionsOf(mcuPin string) ([]domain.PinFunction, error)
}

// Assignments is the read side of a connection store.
type Assignments interface {
	Get(sensorPin string) (string, bool)
	Entries() []domain.Connection
}

// Validate runs a full pass over sensor.Pins. Wiring mistakes are returned as
// data; the error is only non-nil when the sensor definition itself is
// inconsistent.
func Validate(sensor domain.SensorDefinition, store Assignments, lookup FunctionLookup) (domain.ValidationResult, error) {
	res := domain.ValidationResult{
		Pins:   make([]domain.PinResult, 0, len(sensor.Pins)),
		Errors: []string{},
		Total:  len(sensor.Pins),
	}

	cerr := &domain.ConfigError{Source: sensor.Name}
	allCorrect := len(sensor.Pins) > 0
	for _, pin := range sensor.Pins {
		required, ok := sensor.CorrectConnections[pin]
		if !ok {
			cerr.Add("sensor %q: pin %q has no required function", sensor.Name, pin)
			continue
		}
		pr := domain.PinResult{SensorPin: pin, Required: required}

		mcu, connected := store.Get(pin)
		if !connected {
			pr.Status = domain.StatusNotConnected
			res.Errors = append(res.Errors, fmt.Sprintf("%s is not connected", pin))
			res.Pins = append(res.Pins, pr)
			allCorrect = false
			continue
		}
		res.Connected++
		pr.McuPin = mcu

		if supports(lookup, mcu, required) {
			pr.Status = domain.StatusCorrect
		} else {
			pr.Status = domain.StatusIncorrect
			allCorrect = false
			res.Errors = append(res.Errors, fmt.Sprintf(
				"%s must be connected to a pin supporting %s, but is connected to %s", pin, required, mcu))
		}
		res.Pins = append(res.Pins, pr)
	}
	if cerr.HasProblems() {
		return domain.ValidationResult{}, cerr
	}

	res.AllCorrect = allCorrect
	res.Conflicts = FindConflicts(store)
	return res, nil
}

// supports treats an unknown MCU pin as supporting nothing.
func supports(lookup FunctionLookup, mcu string, fn domain.PinFunction) bool {
	fns, err := lookup.FunctionsOf(mcu)
	if err != nil {
		return false
	}
	for _, f := range fns {
		if f == fn {
			return true
		}
	}
	return false
}

// FindConflicts lists every MCU pin that more than one sensor pin targets,
// sorted by MCU pin name.
func FindConflicts(store Assignments) []domain.Conflict {
	owners := make(map[string][]string)
	for _, c := range store.Entries() {
		owners[c.McuPin] = append(owners[c.McuPin], c.SensorPin)
	}
	var out []domain.Conflict
	for mcu, pins := range owners {
		if len(pins) > 1 {
			out = append(out, domain.Conflict{McuPin: mcu, SensorPins: pins})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].McuPin < out[j].McuPin })
	return out
}

// CheckClaim returns a *domain.ConflictError when a sensor pin other than
// sensorPin already holds mcuPin. Reassigning a pin to its current target is
// not a conflict.
func CheckClaim(store Assignments, sensorPin, mcuPin string) error {
	for _, c := range store.Entries() {
		if c.McuPin == mcuPin && c.SensorPin != sensorPin {
			return &domain.ConflictError{McuPin: mcuPin, Attempted: sensorPin, Owner: c.SensorPin}
		}
	}
	return nil
}
