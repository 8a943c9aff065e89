// Package connection holds the learner's sensor-pin to MCU-pin assignments.
package connection

import "pintrainer/internal/domain"

// Store maps sensor pins to MCU pins and remembers insertion order. It never
// rejects a write; conflict checks live with the caller. Store is not safe
// for concurrent use.
type Store struct {
	order   []string
	targets map[string]string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{targets: make(map[string]string)}
}

// Set assigns sensorPin to mcuPin, replacing any earlier assignment. A
// reassigned pin keeps its original position in Entries.
func (s *Store) Set(sensorPin, mcuPin string) {
	if _, ok := s.targets[sensorPin]; !ok {
		s.order = append(s.order, sensorPin)
	}
	s.targets[sensorPin] = mcuPin
}

// Get returns the MCU pin assigned to sensorPin.
func (s *Store) Get(sensorPin string) (string, bool) {
	m, ok := s.targets[sensorPin]
	return m, ok
}

// Delete removes the assignment for sensorPin. It reports whether one existed.
func (s *Store) Delete(sensorPin string) bool {
	if _, ok := s.targets[sensorPin]; !ok {
		return false
	}
	delete(s.targets, sensorPin)
	for i, p := range s.order {
		if p == sensorPin {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Clear removes every assignment.
func (s *Store) Clear() {
	s.order = nil
	s.targets = make(map[string]string)
}

// Len returns the number of assignments.
func (s *Store) Len() int { return len(s.order) }

// Entries returns every assignment in insertion order.
func (s *Store) Entries() []domain.Connection {
	out := make([]domain.Connection, 0, len(s.order))
	for _, p := range s.order {
		out = append(out, domain.Connection{SensorPin: p, McuPin: s.targets[p]})
	}
	return out
}

// OwnersOf returns the sensor pins assigned to mcuPin, in insertion order.
func (s *Store) OwnersOf(mcuPin string) []string {
	var owners []string
	for _, p := range s.order {
		if s.targets[p] == mcuPin {
			owners = append(owners, p)
		}
	}
	return owners
}
