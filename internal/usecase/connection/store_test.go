package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pintrainer/internal/domain"
)

func TestStore_SetGet(t *testing.T) {
	s := NewStore()
	_, ok := s.Get("GND")
	assert.False(t, ok)

	s.Set("GND", "GND")
	m, ok := s.Get("GND")
	assert.True(t, ok)
	assert.Equal(t, "GND", m)
	assert.Equal(t, 1, s.Len())
}

func TestStore_SetOverwritesInPlace(t *testing.T) {
	s := NewStore()
	s.Set("GND", "GND")
	s.Set("DQ", "PB6")
	s.Set("Vdd", "VCC")
	s.Set("DQ", "PA4")

	assert.Equal(t, []domain.Connection{
		{SensorPin: "GND", McuPin: "GND"},
		{SensorPin: "DQ", McuPin: "PA4"},
		{SensorPin: "Vdd", McuPin: "VCC"},
	}, s.Entries())
}

func TestStore_NeverRejects(t *testing.T) {
	s := NewStore()
	s.Set("A", "PA0")
	s.Set("B", "PA0")
	s.Set("C", "not-a-pin")

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"A", "B"}, s.OwnersOf("PA0"))
	assert.Nil(t, s.OwnersOf("PA1"))
}

func TestStore_Delete(t *testing.T) {
	s := NewStore()
	s.Set("GND", "GND")
	s.Set("Vdd", "VCC")

	assert.True(t, s.Delete("GND"))
	assert.False(t, s.Delete("GND"))
	_, ok := s.Get("GND")
	assert.False(t, ok)
	assert.Equal(t, []domain.Connection{{SensorPin: "Vdd", McuPin: "VCC"}}, s.Entries())
}

func TestStore_Clear(t *testing.T) {
	s := NewStore()
	s.Set("GND", "GND")
	s.Set("Vdd", "VCC")
	s.Clear()

	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.Entries())
	_, ok := s.Get("Vdd")
	assert.False(t, ok)
}
