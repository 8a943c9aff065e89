package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pintrainer/internal/domain"
	"pintrainer/internal/usecase/catalog"
	"pintrainer/internal/usecase/eventbus"
	"pintrainer/internal/usecase/layout"
)

type memHistory struct {
	mu       sync.Mutex
	attempts []domain.Attempt
	fail     error
}

func (m *memHistory) Record(_ context.Context, a domain.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memHistory) List(_ context.Context, f domain.HistoryFilter) ([]domain.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Attempt
	for _, a := range m.attempts {
		if f.Sensor == "" || a.Sensor == f.Sensor {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memHistory) Get(_ context.Context, id string) (*domain.Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, domain.NewSubSystemError("history", "memHistory.Get", domain.ErrNotFound, id)
}

func (m *memHistory) Close() error { return nil }

type memAudit struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (m *memAudit) Log(_ context.Context, ev domain.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memAudit) Close() error { return nil }

func (m *memAudit) types() []domain.AuditEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditEventType
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

type trainerFixture struct {
	trainer *Trainer
	bus     *eventbus.Bus
	history *memHistory
	audit   *memAudit

	mu     sync.Mutex
	events []domain.Event
}

func newTrainerFixture(t *testing.T, policy ConflictPolicy) *trainerFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &trainerFixture{
		bus:     eventbus.New(logger),
		history: &memHistory{},
		audit:   &memAudit{},
	}
	f.bus.SubscribeAll(func(_ context.Context, e domain.Event) {
		f.mu.Lock()
		f.events = append(f.events, e)
		f.mu.Unlock()
	})
	f.trainer = NewTrainer(TrainerDeps{
		Catalog:        catalog.Default(),
		Sessions:       NewSessionManager(10),
		Layout:         layout.DefaultConfig(),
		ConflictPolicy: policy,
		Logger:         logger,
		Bus:            f.bus,
		History:        f.history,
		AuditLogger:    f.audit,
	})
	t.Cleanup(f.bus.Close)
	return f
}

// drained closes the bus so every published event has been handled.
func (f *trainerFixture) drained() []domain.Event {
	f.bus.Close()
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Event(nil), f.events...)
}

func eventTypes(events []domain.Event) []domain.EventType {
	out := make([]domain.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestTrainer_ListSensors(t *testing.T) {
	f := newTrainerFixture(t, "")
	sensors := f.trainer.ListSensors(context.Background())
	require.Len(t, sensors, 3)
	assert.Equal(t, "TMP36", sensors[0].Name)
}

func TestTrainer_CreateSession(t *testing.T) {
	f := newTrainerFixture(t, "")
	ctx := context.Background()

	s, err := f.trainer.CreateSession(ctx, "LM75A", "")
	require.NoError(t, err)
	assert.Equal(t, "I2C", s.Interface)

	_, err = f.trainer.CreateSession(ctx, "LM75A", "SPI")
	assert.ErrorIs(t, err, domain.ErrUnknownIface)

	_, err = f.trainer.CreateSession(ctx, "BMP280", "")
	assert.ErrorIs(t, err, domain.ErrUnknownSensor)

	events := f.drained()
	assert.Equal(t, []domain.EventType{domain.EventSessionCreated}, eventTypes(events))
	assert.Equal(t, s.ID, events[0].SessionID)
	assert.Equal(t, []domain.AuditEventType{domain.AuditSessionCreate}, f.audit.types())
}

func TestTrainer_ConnectPublishesSnapshot(t *testing.T) {
	f := newTrainerFixture(t, "")
	ctx := context.Background()
	s, err := f.trainer.CreateSession(ctx, "TMP36", "")
	require.NoError(t, err)

	snap, err := f.trainer.Connect(ctx, s.ID, "Vout", "PA0")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCorrect, snap.Validation.StatusOf("Vout"))
	assert.Equal(t, 1, snap.Validation.Connected)
	assert.Contains(t, snap.Lines, "Vout")

	events := f.drained()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventWiringUpdated, events[1].Type)

	var published Snapshot
	require.NoError(t, json.Unmarshal(events[1].Payload, &published))
	assert.Equal(t, snap.Connections, published.Connections)
}

func TestTrainer_ConnectConflict(t *testing.T) {
	f := newTrainerFixture(t, "")
	ctx := context.Background()
	s, err := f.trainer.CreateSession(ctx, "TMP36", "")
	require.NoError(t, err)

	_, err = f.trainer.Connect(ctx, s.ID, "GND", "PA0")
	require.NoError(t, err)
	_, err = f.trainer.Connect(ctx, s.ID, "Vdd", "PA0")

	var ce *domain.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, domain.CodePinConflict, domain.ErrorCodeOf(err))

	got, _ := s.Assignment("GND")
	assert.Equal(t, "PA0", got)

	events := f.drained()
	assert.Equal(t, []domain.EventType{
		domain.EventSessionCreated,
		domain.EventWiringUpdated,
		domain.EventConnectionRejected,
	}, eventTypes(events))

	var payload map[string]string
	require.NoError(t, json.Unmarshal(events[2].Payload, &payload))
	assert.Equal(t, "GND", payload["owner"])
	assert.Equal(t, "Vdd", payload["sensor_pin"])
}

func TestTrainer_ConnectOverwriteLegacy(t *testing.T) {
	f := newTrainerFixture(t, PolicyOverwrite)
	ctx := context.Background()
	s, err := f.trainer.CreateSession(ctx, "TMP36", "")
	require.NoError(t, err)

	_, err = f.trainer.Connect(ctx, s.ID, "GND", "PA0")
	require.NoError(t, err)
	snap, err := f.trainer.Connect(ctx, s.ID, "Vout", "PA0")
	require.NoError(t, err)
	assert.Equal(t, []domain.Connection{{SensorPin: "Vout", McuPin: "PA0"}}, snap.Connections)
}

func TestTrainer_UnknownSession(t *testing.T) {
	f := newTrainerFixture(t, "")
	ctx := context.Background()

	_, err := f.trainer.Connect(ctx, "missing", "GND", "GND")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.trainer.ToggleGroup(ctx, "missing", "A")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	_, err = f.trainer.Verify(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, f.trainer.DeleteSession(ctx, "missing"), domain.ErrSessionNotFound)
}

func TestTrainer_ToggleAndReset(t *testing.T) {
	f := newTrainerFixture(t, "")
	ctx := context.Background()
	s, err := f.trainer.CreateSession(ctx, "DS18B20", "")
	require.NoError(t, err)

	_, err = f.trainer.Connect(ctx, s.ID, "DQ", "PA4")
	require.NoError(t, err)

	snap, err := f.trainer.ToggleGroup(ctx, s.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, domain.GroupKey("A"), snap.Expanded)
	assert.Equal(t, domain.Point{X: 300, Y: 370}, snap.Lines["DQ"].Points[1])

	snap, err = f.trainer.Reset(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Connections)
	assert.Equal(t, domain.GroupKey(""), snap.Expanded)
}

func TestTrainer_VerifyRecordsHistory(t *testing.T) {
	f := newTrainerFixture(t, "")
	ctx := context.Background()
	s, err := f.trainer.CreateSession(ctx, "DS18B20", "")
	require.NoError(t, err)

	for pin, mcu := range map[string]string{"GND": "GND", "DQ": "PA4", "Vdd": "VCC"} {
		_, err := f.trainer.Connect(ctx, s.ID, pin, mcu)
		require.NoError(t, err)
	}

	attempt, err := f.trainer.Verify(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, attempt.AllCorrect)
	assert.Equal(t, 3, attempt.Connected)
	assert.Equal(t, "1-Wire", attempt.Interface)

	list, err := f.trainer.History(ctx, domain.HistoryFilter{Sensor: "DS18B20"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, attempt.ID, list[0].ID)
	assert.Contains(t, f.audit.types(), domain.AuditWiringVerify)
}

func TestTrainer_VerifySurvivesHistoryFailure(t *testing.T) {
	f := newTrainerFixture(t, "")
	f.history.fail = domain.ErrHistoryStore
	ctx := context.Background()
	s, err := f.trainer.CreateSession(ctx, "TMP36", "")
	require.NoError(t, err)

	attempt, err := f.trainer.Verify(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, attempt.AllCorrect)
	assert.Len(t, attempt.Errors, 3)
}

func TestTrainer_ReapStale(t *testing.T) {
	f := newTrainerFixture(t, "")
	ctx := context.Background()
	s, err := f.trainer.CreateSession(ctx, "TMP36", "")
	require.NoError(t, err)
	s.mu.Lock()
	s.UpdatedAt = time.Now().Add(-time.Hour)
	s.mu.Unlock()

	assert.Equal(t, 1, f.trainer.ReapStale(ctx, time.Minute))
	_, err = f.trainer.Session(s.ID)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.Contains(t, f.audit.types(), domain.AuditSessionReap)
}

func TestTrainer_ReapStaleZeroMaxAge(t *testing.T) {
	f := newTrainerFixture(t, "")
	ctx := context.Background()
	s, err := f.trainer.CreateSession(ctx, "TMP36", "")
	require.NoError(t, err)
	s.mu.Lock()
	s.UpdatedAt = time.Now().Add(-24 * time.Hour)
	s.mu.Unlock()

	assert.Zero(t, f.trainer.ReapStale(ctx, 0))
	_, err = f.trainer.Session(s.ID)
	assert.NoError(t, err)
}

func TestTrainer_SessionOwner(t *testing.T) {
	f := newTrainerFixture(t, "")
	ctx := domain.ContextWithOwner(context.Background(), "alice")
	s, err := f.trainer.CreateSession(ctx, "TMP36", "")
	require.NoError(t, err)
	assert.Equal(t, "alice", s.Owner)

	snap, err := f.trainer.Connect(context.Background(), s.ID, "Vout", "PA0")
	require.NoError(t, err)
	assert.Equal(t, "alice", snap.Owner)
	require.NoError(t, f.trainer.DeleteSession(context.Background(), s.ID))

	events := f.drained()
	require.Len(t, events, 3)
	for _, ev := range events {
		assert.Equal(t, "alice", ev.Owner, "event %s", ev.Type)
	}
}

func TestTrainer_WithoutOptionalDeps(t *testing.T) {
	tr := NewTrainer(TrainerDeps{Catalog: catalog.Default(), Layout: layout.DefaultConfig()})
	ctx := context.Background()
	s, err := tr.CreateSession(ctx, "TMP36", "Analog")
	require.NoError(t, err)
	_, err = tr.Connect(ctx, s.ID, "Vout", "PA0")
	require.NoError(t, err)
	_, err = tr.Verify(ctx, s.ID)
	require.NoError(t, err)
	list, err := tr.History(ctx, domain.HistoryFilter{})
	require.NoError(t, err)
	assert.Nil(t, list)
}
