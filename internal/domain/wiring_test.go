package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMcuPin_Supports(t *testing.T) {
	pa0 := McuPin{Name: "PA0", Functions: []PinFunction{FuncGPIO, FuncADC}, Group: "A"}
	assert.True(t, pa0.Supports(FuncADC))
	assert.True(t, pa0.Supports(FuncGPIO))
	assert.False(t, pa0.Supports(FuncI2CSCL))
}

func TestPoint_Add(t *testing.T) {
	p := Point{X: 190, Y: 310}.Add(Point{X: -10, Y: 60})
	assert.Equal(t, Point{X: 180, Y: 370}, p)
}

func TestSensorDefinition_Lookups(t *testing.T) {
	s := SensorDefinition{Name: "LM75A", Pins: []string{"GND", "SDA"}, Interfaces: []string{"I2C"}}
	assert.True(t, s.HasPin("SDA"))
	assert.False(t, s.HasPin("DQ"))
	assert.True(t, s.HasInterface("I2C"))
	assert.False(t, s.HasInterface("SPI"))
}

func TestValidationResult_StatusOf(t *testing.T) {
	r := ValidationResult{Pins: []PinResult{
		{SensorPin: "GND", McuPin: "GND", Status: StatusCorrect},
		{SensorPin: "DQ", McuPin: "PB6", Status: StatusIncorrect},
	}}
	assert.Equal(t, StatusCorrect, r.StatusOf("GND"))
	assert.Equal(t, StatusIncorrect, r.StatusOf("DQ"))
	assert.Equal(t, StatusNotConnected, r.StatusOf("Vdd"))
}

func TestHasPermission(t *testing.T) {
	assert.True(t, HasPermission([]AuthRole{AuthRoleLearner}, PermSessionWire))
	assert.False(t, HasPermission([]AuthRole{AuthRoleViewer}, PermSessionWire))
	assert.True(t, HasPermission([]AuthRole{AuthRoleViewer, AuthRoleInstructor}, PermHistoryRead))
	assert.False(t, HasPermission(nil, PermCatalogRead))
	assert.False(t, HasPermission([]AuthRole{AuthRoleLearner}, PermSessionAny))
	assert.True(t, HasPermission([]AuthRole{AuthRoleViewer}, PermSessionAny))
}

func TestOwnerContext(t *testing.T) {
	assert.Empty(t, OwnerFromContext(context.Background()))
	assert.Equal(t, "alice", OwnerFromContext(ContextWithOwner(context.Background(), "alice")))
}

func TestStringsToAuthRoles(t *testing.T) {
	roles := StringsToAuthRoles([]string{"learner", "root", "viewer"})
	assert.Equal(t, []AuthRole{AuthRoleLearner, AuthRoleViewer}, roles)
}
