// Package catalog holds the process-wide reference data: every MCU pin with
// the functions it supports, and every sensor the trainer can teach.
package catalog

import (
	"regexp"
	"sort"

	"pintrainer/internal/domain"
)

// portPinPattern matches port pins such as PA0 or PB12; the letter is the group.
var portPinPattern = regexp.MustCompile(`^P([A-Z])[0-9]+$`)

// DeriveGroup maps a pin name to its group by naming rule. GND and VCC go to
// the reserved Others group. The second result is false when no rule applies.
func DeriveGroup(name string) (domain.GroupKey, bool) {
	switch name {
	case "GND", "VCC":
		return domain.GroupOthers, true
	}
	m := portPinPattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return domain.GroupKey(m[1]), true
}

// Catalog is immutable after construction and safe for concurrent reads.
type Catalog struct {
	mcuName   string
	pins      []domain.McuPin
	sensors   []domain.SensorDefinition
	groups    []domain.PinGroup
	functions map[domain.PinFunction]bool
	// ifaceGroups limits the groups offered to sessions of an interface.
	// Interfaces without an entry see every group.
	ifaceGroups map[string][]domain.GroupKey

	byPin    map[string]int
	bySensor map[string]int
	byGroup  map[domain.GroupKey]int
}

// rebuildMaps derives the lookup maps and the group list from pins and sensors.
func (c *Catalog) rebuildMaps() {
	c.byPin = make(map[string]int, len(c.pins))
	c.bySensor = make(map[string]int, len(c.sensors))
	c.byGroup = make(map[domain.GroupKey]int)
	c.groups = nil

	for i, p := range c.pins {
		c.byPin[p.Name] = i
		if p.Group == "" {
			continue
		}
		gi, ok := c.byGroup[p.Group]
		if !ok {
			gi = len(c.groups)
			c.byGroup[p.Group] = gi
			c.groups = append(c.groups, domain.PinGroup{Key: p.Group})
		}
		c.groups[gi].Pins = append(c.groups[gi].Pins, p.Name)
	}
	for i, s := range c.sensors {
		c.bySensor[s.Name] = i
	}

	sort.SliceStable(c.groups, func(i, j int) bool {
		return groupLess(c.groups[i].Key, c.groups[j].Key)
	})
	for i, g := range c.groups {
		c.byGroup[g.Key] = i
	}
}

// groupLess orders groups alphabetically with Others last.
func groupLess(a, b domain.GroupKey) bool {
	if a == domain.GroupOthers {
		return false
	}
	if b == domain.GroupOthers {
		return true
	}
	return a < b
}

// MCUName returns the microcontroller's display name.
func (c *Catalog) MCUName() string { return c.mcuName }

// Pins returns every MCU pin in catalog order.
func (c *Catalog) Pins() []domain.McuPin {
	out := make([]domain.McuPin, len(c.pins))
	copy(out, c.pins)
	return out
}

// Pin returns the named MCU pin.
func (c *Catalog) Pin(name string) (domain.McuPin, error) {
	i, ok := c.byPin[name]
	if !ok {
		return domain.McuPin{}, &domain.UnknownPinError{Name: name}
	}
	return c.pins[i], nil
}

// FunctionsOf returns the functions the named MCU pin supports.
func (c *Catalog) FunctionsOf(name string) ([]domain.PinFunction, error) {
	p, err := c.Pin(name)
	if err != nil {
		return nil, err
	}
	return p.Functions, nil
}

// GroupOf returns the group of the named MCU pin.
func (c *Catalog) GroupOf(name string) (domain.GroupKey, error) {
	p, err := c.Pin(name)
	if err != nil {
		return "", err
	}
	return p.Group, nil
}

// Groups returns every group with its pins in catalog order.
func (c *Catalog) Groups() []domain.PinGroup {
	out := make([]domain.PinGroup, len(c.groups))
	copy(out, c.groups)
	return out
}

// GroupsFor returns the groups a session on iface may expand and wire, in
// Groups order.
func (c *Catalog) GroupsFor(iface string) []domain.PinGroup {
	keys, ok := c.ifaceGroups[iface]
	if !ok {
		return c.Groups()
	}
	out := make([]domain.PinGroup, 0, len(keys))
	for _, g := range c.groups {
		for _, k := range keys {
			if g.Key == k {
				out = append(out, g)
				break
			}
		}
	}
	return out
}

// OffersGroup reports whether a session on iface may use key.
func (c *Catalog) OffersGroup(iface string, key domain.GroupKey) bool {
	if !c.HasGroup(key) {
		return false
	}
	keys, ok := c.ifaceGroups[iface]
	if !ok {
		return true
	}
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}

// HasGroup reports whether key names a group with at least one pin.
func (c *Catalog) HasGroup(key domain.GroupKey) bool {
	_, ok := c.byGroup[key]
	return ok
}

// PinsInGroup returns the ordered pin names of a group, or nil.
func (c *Catalog) PinsInGroup(key domain.GroupKey) []string {
	i, ok := c.byGroup[key]
	if !ok {
		return nil
	}
	return c.groups[i].Pins
}

// IsFunction reports whether fn is a known function for this catalog.
func (c *Catalog) IsFunction(fn domain.PinFunction) bool {
	return c.functions[fn]
}

// Sensors returns every sensor definition in catalog order.
func (c *Catalog) Sensors() []domain.SensorDefinition {
	out := make([]domain.SensorDefinition, len(c.sensors))
	copy(out, c.sensors)
	return out
}

// Sensor returns the named sensor definition.
func (c *Catalog) Sensor(name string) (domain.SensorDefinition, error) {
	i, ok := c.bySensor[name]
	if !ok {
		return domain.SensorDefinition{}, domain.NewSubSystemError("catalog", "Catalog.Sensor", domain.ErrUnknownSensor, name)
	}
	return c.sensors[i], nil
}
