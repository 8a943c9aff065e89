package usecase

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pintrainer/internal/domain"
	"pintrainer/internal/usecase/catalog"
	"pintrainer/internal/usecase/layout"
)

func newTestSession(t *testing.T, sensorName string, policy ConflictPolicy) *Session {
	t.Helper()
	cat := catalog.Default()
	s, err := cat.Sensor(sensorName)
	require.NoError(t, err)
	return NewSession(cat, s, "", layout.DefaultConfig(), policy)
}

func TestSession_NewIsEmpty(t *testing.T) {
	s := newTestSession(t, "TMP36", "")
	assert.Len(t, s.ID, 26, "ID should be a ULID")
	assert.Empty(t, s.Connections())
	assert.Equal(t, domain.GroupKey(""), s.ExpandedGroup())

	res, err := s.Validate()
	require.NoError(t, err)
	assert.False(t, res.AllCorrect)
	for _, p := range res.Pins {
		assert.Equal(t, domain.StatusNotConnected, p.Status)
	}
}

func TestSession_ConnectIdempotent(t *testing.T) {
	s := newTestSession(t, "TMP36", "")

	require.NoError(t, s.Connect("Vout", "PA0"))
	res1, err := s.Validate()
	require.NoError(t, err)
	lines1, err := s.LineGeometry()
	require.NoError(t, err)

	require.NoError(t, s.Connect("Vout", "PA0"))
	res2, err := s.Validate()
	require.NoError(t, err)
	lines2, err := s.LineGeometry()
	require.NoError(t, err)

	assert.Equal(t, res1, res2)
	assert.Equal(t, lines1, lines2)
	assert.Len(t, s.Connections(), 1)
}

func TestSession_ConflictLaw(t *testing.T) {
	s := newTestSession(t, "TMP36", PolicyReject)

	require.NoError(t, s.Connect("GND", "PA0"))
	err := s.Connect("Vout", "PA0")

	var ce *domain.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "GND", ce.Owner)
	assert.Equal(t, "Vout", ce.Attempted)
	assert.Contains(t, err.Error(), "pin already in use by GND")

	got, ok := s.Assignment("GND")
	assert.True(t, ok)
	assert.Equal(t, "PA0", got)
	_, ok = s.Assignment("Vout")
	assert.False(t, ok)
}

func TestSession_ReassignOwnPin(t *testing.T) {
	s := newTestSession(t, "TMP36", PolicyReject)
	require.NoError(t, s.Connect("Vout", "PA0"))
	require.NoError(t, s.Connect("Vout", "PA1"))
	// PA0 is free again.
	require.NoError(t, s.Connect("GND", "PA0"))
}

func TestSession_OverwritePolicy(t *testing.T) {
	s := newTestSession(t, "TMP36", PolicyOverwrite)
	require.NoError(t, s.Connect("GND", "PA0"))

	displaced, err := s.connect("Vout", "PA0")
	require.NoError(t, err)
	assert.Equal(t, []string{"GND"}, displaced)

	_, ok := s.Assignment("GND")
	assert.False(t, ok)
	got, _ := s.Assignment("Vout")
	assert.Equal(t, "PA0", got)
}

func TestSession_ConnectInvalidInput(t *testing.T) {
	s := newTestSession(t, "TMP36", "")
	assert.ErrorIs(t, s.Connect("DQ", "PA0"), domain.ErrInvalidInput)
	assert.ErrorIs(t, s.Connect("Vout", ""), domain.ErrInvalidInput)
}

func TestSession_UnknownMcuPinIsIncorrect(t *testing.T) {
	s := newTestSession(t, "TMP36", "")
	require.NoError(t, s.Connect("Vout", "PZ9"))

	res, err := s.Validate()
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIncorrect, res.StatusOf("Vout"))

	lines, err := s.LineGeometry()
	require.NoError(t, err)
	assert.NotContains(t, lines, "Vout")
}

func TestSession_ToggleGroup(t *testing.T) {
	s := newTestSession(t, "TMP36", "")

	require.NoError(t, s.ToggleGroup("A"))
	require.NoError(t, s.ToggleGroup("B"))
	assert.False(t, s.IsExpanded("A"))
	assert.True(t, s.IsExpanded("B"))

	require.NoError(t, s.ToggleGroup("B"))
	assert.False(t, s.IsExpanded("B"))

	assert.ErrorIs(t, s.ToggleGroup("Z"), domain.ErrUnknownGroup)
}

func TestSession_LineGeometryFollowsExpansion(t *testing.T) {
	s := newTestSession(t, "TMP36", "")
	require.NoError(t, s.Connect("Vout", "PA1"))

	collapsed, err := s.LineGeometry()
	require.NoError(t, err)
	assert.Equal(t, s.AnchorOf("A"), collapsed["Vout"].Points[1])
	assert.Equal(t, domain.StatusCorrect, collapsed["Vout"].Status)

	require.NoError(t, s.ToggleGroup("A"))
	expanded, err := s.LineGeometry()
	require.NoError(t, err)
	pos, err := s.PositionOf("PA1")
	require.NoError(t, err)
	assert.Equal(t, pos, expanded["Vout"].Points[1])
	assert.NotEqual(t, collapsed["Vout"].Points[1], expanded["Vout"].Points[1])
}

func TestSession_DS18B20Scenario(t *testing.T) {
	s := newTestSession(t, "DS18B20", "")
	require.NoError(t, s.Connect("GND", "GND"))
	require.NoError(t, s.Connect("DQ", "PA4"))
	require.NoError(t, s.Connect("Vdd", "VCC"))

	res, err := s.Validate()
	require.NoError(t, err)
	assert.True(t, res.AllCorrect)

	require.NoError(t, s.Connect("DQ", "PB6"))
	res, err = s.Validate()
	require.NoError(t, err)
	assert.False(t, res.AllCorrect)
	assert.Equal(t, domain.StatusIncorrect, res.StatusOf("DQ"))
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "supporting GPIO")
}

func TestSession_DisconnectAndReset(t *testing.T) {
	s := newTestSession(t, "LM75A", "")
	require.NoError(t, s.Connect("SDA", "PB7"))
	require.NoError(t, s.Connect("SCL", "PB6"))
	require.NoError(t, s.ToggleGroup("B"))

	assert.True(t, s.Disconnect("SDA"))
	assert.False(t, s.Disconnect("SDA"))
	assert.Len(t, s.Connections(), 1)

	s.Reset()
	assert.Empty(t, s.Connections())
	assert.Equal(t, domain.GroupKey(""), s.ExpandedGroup())

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Validation.Connected)
	assert.Equal(t, 4, snap.Validation.Total)
	assert.Empty(t, snap.Lines)
}

func TestSessionManager(t *testing.T) {
	sm := NewSessionManager(2)
	a := newTestSession(t, "TMP36", "")
	b := newTestSession(t, "LM75A", "")
	c := newTestSession(t, "DS18B20", "")

	require.NoError(t, sm.Add(a))
	require.NoError(t, sm.Add(b))
	err := sm.Add(c)
	assert.ErrorIs(t, err, domain.ErrLimitReached)
	assert.Equal(t, domain.CodeSessionLimit, domain.ErrorCodeOf(err))

	got, err := sm.Get(a.ID)
	require.NoError(t, err)
	assert.Same(t, a, got)
	assert.Equal(t, 2, sm.Len())
	assert.ElementsMatch(t, []string{a.ID, b.ID}, sm.ListSessions())

	require.NoError(t, sm.Delete(a.ID))
	_, err = sm.Get(a.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, sm.Delete(a.ID), domain.ErrSessionNotFound)
}

func TestSessionManager_ReapStaleSessions(t *testing.T) {
	sm := NewSessionManager(0)
	stale := newTestSession(t, "TMP36", "")
	fresh := newTestSession(t, "TMP36", "")
	stale.UpdatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, sm.Add(stale))
	require.NoError(t, sm.Add(fresh))

	reaped := sm.ReapStaleSessions(time.Hour)
	require.Len(t, reaped, 1)
	assert.Equal(t, stale.ID, reaped[0].ID)
	_, err := sm.Get(fresh.ID)
	assert.NoError(t, err)
	assert.Nil(t, sm.ReapStaleSessions(time.Hour))
}

func TestSessionManager_ReapStaleSessionsZeroMaxAge(t *testing.T) {
	sm := NewSessionManager(0)
	old := newTestSession(t, "TMP36", "")
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, sm.Add(old))
	require.NoError(t, sm.Add(newTestSession(t, "TMP36", "")))

	assert.Nil(t, sm.ReapStaleSessions(0))
	assert.Nil(t, sm.ReapStaleSessions(-time.Minute))
	assert.Equal(t, 2, sm.Len())
}

func TestSessionManager_ListOwnedBy(t *testing.T) {
	sm := NewSessionManager(0)
	mine := newTestSession(t, "TMP36", "")
	mine.Owner = "alice"
	theirs := newTestSession(t, "TMP36", "")
	theirs.Owner = "bob"
	require.NoError(t, sm.Add(mine))
	require.NoError(t, sm.Add(theirs))

	assert.Equal(t, []string{mine.ID}, sm.ListOwnedBy("alice"))
	assert.Equal(t, []string{theirs.ID}, sm.ListOwnedBy("bob"))
	assert.Empty(t, sm.ListOwnedBy("carol"))
}

func TestSession_InterfaceGroups(t *testing.T) {
	cat, err := catalog.Parse("inline", []byte(`
mcu:
  name: test
  pins:
    - {name: GND, functions: [GND]}
    - {name: PA0, functions: [GPIO]}
    - {name: PB6, functions: [I2C_SCL]}
    - {name: PB7, functions: [I2C_SDA]}
interface_groups:
  I2C: [B, Others]
sensors:
  - name: S
    interfaces: [I2C, GPIO]
    pins: [G, SCL]
    pin_positions: {G: {x: 1, y: 2}, SCL: {x: 3, y: 2}}
    correct_connections: {G: GND, SCL: I2C_SCL}
`))
	require.NoError(t, err)
	sensor, err := cat.Sensor("S")
	require.NoError(t, err)

	s := NewSession(cat, sensor, "I2C", layout.DefaultConfig(), "")
	require.Len(t, s.Groups(), 2)

	assert.ErrorIs(t, s.ToggleGroup("A"), domain.ErrUnknownGroup)
	require.NoError(t, s.ToggleGroup("B"))

	err = s.Connect("SCL", "PA0")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, s.Connections())
	require.NoError(t, s.Connect("SCL", "PB6"))

	// Same sensor over the other interface sees group A.
	other := NewSession(cat, sensor, "GPIO", layout.DefaultConfig(), "")
	assert.Len(t, other.Groups(), 3)
	assert.NoError(t, other.ToggleGroup("A"))
	assert.NoError(t, other.Connect("SCL", "PA0"))
}
