// Package routing computes connector geometry between sensor and MCU pins.
package routing

import (
	"fmt"

	"pintrainer/internal/domain"
)

// Layout is the layout state a route depends on.
type Layout interface {
	PositionOf(mcuPin string) (domain.Point, error)
	AnchorOf(group domain.GroupKey) domain.Point
	IsExpanded(group domain.GroupKey) bool
}

// GroupLookup resolves an MCU pin's group.
type GroupLookup interface {
	GroupOf(mcuPin string) (domain.GroupKey, error)
}

// Router draws lines for one layout configuration.
type Router struct {
	groups       GroupLookup
	layout       Layout
	sensorOffset float64
}

// NewRouter returns a router. sensorOffset moves the sensor end of every
// line to the right of its pin marker.
func NewRouter(groups GroupLookup, layout Layout, sensorOffset float64) *Router {
	return &Router{groups: groups, layout: layout, sensorOffset: sensorOffset}
}

// RouteLine returns the polyline from a sensor pin to its MCU pin. The MCU
// end sits on the exact pin when its group is expanded and on the group
// anchor otherwise, so a toggle changes the result for the same pair.
func (r *Router) RouteLine(sensorPin, mcuPin string, sensor domain.SensorDefinition) (domain.Line, error) {
	start, ok := sensor.PinPositions[sensorPin]
	if !ok {
		return domain.Line{}, fmt.Errorf("route %s: sensor %s has no position for pin %q", sensorPin, sensor.Name, sensorPin)
	}
	start.X += r.sensorOffset

	group, err := r.groups.GroupOf(mcuPin)
	if err != nil {
		return domain.Line{}, fmt.Errorf("route %s: %w", sensorPin, err)
	}

	var end domain.Point
	if r.layout.IsExpanded(group) {
		end, err = r.layout.PositionOf(mcuPin)
		if err != nil {
			return domain.Line{}, fmt.Errorf("route %s: %w", sensorPin, err)
		}
	} else {
		end = r.layout.AnchorOf(group)
	}

	return domain.Line{
		SensorPin: sensorPin,
		McuPin:    mcuPin,
		Points:    []domain.Point{start, end},
	}, nil
}

// Lines routes every connection and tags each line with its pin's status.
// Connections to MCU pins the catalog does not know cannot be placed and are
// skipped.
func (r *Router) Lines(sensor domain.SensorDefinition, conns []domain.Connection, res domain.ValidationResult) map[string]domain.Line {
	out := make(map[string]domain.Line, len(conns))
	for _, c := range conns {
		line, err := r.RouteLine(c.SensorPin, c.McuPin, sensor)
		if err != nil {
			continue
		}
		line.Status = res.StatusOf(c.SensorPin)
		out[c.SensorPin] = line
	}
	return out
}
