package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"pintrainer/internal/domain"
	"pintrainer/internal/infra/tracer"
	"pintrainer/internal/usecase/catalog"
	"pintrainer/internal/usecase/layout"
)

// TrainerDeps holds injected dependencies for the trainer.
type TrainerDeps struct {
	Catalog        *catalog.Catalog
	Sessions       *SessionManager
	Layout         layout.Config
	ConflictPolicy ConflictPolicy
	Logger         *slog.Logger
	Bus            domain.EventBus     // optional, nil = no events
	History        domain.HistoryStore // optional, nil = verify results are not kept
	AuditLogger    domain.AuditLogger  // optional, nil = no audit
}

// Trainer is the orchestration boundary consumers call into. Every mutating
// call returns the state observed after the mutation and publishes it.
type Trainer struct {
	deps TrainerDeps
}

// NewTrainer creates a trainer with the given dependencies.
func NewTrainer(deps TrainerDeps) *Trainer {
	if deps.Sessions == nil {
		deps.Sessions = NewSessionManager(0)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.ConflictPolicy == "" {
		deps.ConflictPolicy = PolicyReject
	}
	if deps.ConflictPolicy == PolicyOverwrite {
		deps.Logger.Warn("conflict policy overwrite is deprecated; reused mcu pins will silently disconnect their previous sensor pin")
	}
	return &Trainer{deps: deps}
}

// Catalog returns the reference data the trainer was built with.
func (t *Trainer) Catalog() *catalog.Catalog { return t.deps.Catalog }

// Sessions returns the trainer's session manager.
func (t *Trainer) Sessions() *SessionManager { return t.deps.Sessions }

// ListSensors returns every sensor in catalog order.
func (t *Trainer) ListSensors(ctx context.Context) []domain.SensorDefinition {
	_, span := tracer.StartSpan(ctx, "trainer.list_sensors")
	defer span.End()
	return t.deps.Catalog.Sensors()
}

// CreateSession starts a fresh session for sensorName. An empty iface picks
// the sensor's first interface. The session is owned by the name carried in
// ctx (see domain.ContextWithOwner), if any.
func (t *Trainer) CreateSession(ctx context.Context, sensorName, iface string) (*Session, error) {
	ctx, span := tracer.StartSpan(ctx, "trainer.create_session",
		trace.WithAttributes(tracer.StringAttr("sensor", sensorName)),
	)
	defer span.End()

	sensor, err := t.deps.Catalog.Sensor(sensorName)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("Trainer.CreateSession", err)
	}
	if iface == "" && len(sensor.Interfaces) > 0 {
		iface = sensor.Interfaces[0]
	}
	if iface != "" && !sensor.HasInterface(iface) {
		err := domain.NewDomainError("Trainer.CreateSession", domain.ErrUnknownIface,
			fmt.Sprintf("%s does not support %s", sensor.Name, iface))
		tracer.RecordError(span, err)
		return nil, err
	}

	s := NewSession(t.deps.Catalog, sensor, iface, t.deps.Layout, t.deps.ConflictPolicy)
	s.Owner = domain.OwnerFromContext(ctx)
	if err := t.deps.Sessions.Add(s); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	t.deps.Logger.Info("session created", "session", s.ID, "sensor", sensor.Name, "interface", iface, "owner", s.Owner)
	t.publish(ctx, domain.EventSessionCreated, s, map[string]string{"sensor": sensor.Name, "interface": iface})
	t.audit(ctx, domain.AuditEvent{
		Type:     domain.AuditSessionCreate,
		Actor:    s.Owner,
		Resource: s.ID,
		Action:   "create",
		Outcome:  "success",
		Detail:   map[string]string{"sensor": sensor.Name, "interface": iface},
	})
	span.SetAttributes(tracer.SessionAttrs(s.ID, sensor.Name)...)
	tracer.SetOK(span)
	return s, nil
}

// Session returns a live session.
func (t *Trainer) Session(id string) (*Session, error) {
	return t.deps.Sessions.Get(id)
}

// Snapshot returns the current derived state of a session.
func (t *Trainer) Snapshot(ctx context.Context, id string) (Snapshot, error) {
	_, span := tracer.StartSpan(ctx, "trainer.snapshot")
	defer span.End()
	s, err := t.deps.Sessions.Get(id)
	if err != nil {
		tracer.RecordError(span, err)
		return Snapshot{}, err
	}
	return s.Snapshot()
}

// Connect assigns sensorPin to mcuPin in session id. A *domain.ConflictError
// leaves the session untouched and is published as connection.rejected.
func (t *Trainer) Connect(ctx context.Context, id, sensorPin, mcuPin string) (Snapshot, error) {
	ctx, span := tracer.StartSpan(ctx, "trainer.connect",
		trace.WithAttributes(
			tracer.StringAttr("sensor_pin", sensorPin),
			tracer.StringAttr("mcu_pin", mcuPin),
		),
	)
	defer span.End()

	s, err := t.deps.Sessions.Get(id)
	if err != nil {
		tracer.RecordError(span, err)
		return Snapshot{}, err
	}

	displaced, err := s.connect(sensorPin, mcuPin)
	if err != nil {
		var ce *domain.ConflictError
		if errors.As(err, &ce) {
			t.deps.Logger.Info("connection rejected", "session", id, "error", err)
			t.publish(ctx, domain.EventConnectionRejected, s, map[string]string{
				"sensor_pin": ce.Attempted,
				"mcu_pin":    ce.McuPin,
				"owner":      ce.Owner,
				"message":    ce.Error(),
			})
		}
		tracer.RecordError(span, err)
		return Snapshot{}, err
	}
	for _, d := range displaced {
		t.deps.Logger.Warn("connection overwritten", "session", id, "mcu_pin", mcuPin, "previous", d, "new", sensorPin)
	}

	return t.updated(ctx, s, span)
}

// Disconnect removes the assignment of sensorPin in session id.
func (t *Trainer) Disconnect(ctx context.Context, id, sensorPin string) (Snapshot, error) {
	ctx, span := tracer.StartSpan(ctx, "trainer.disconnect",
		trace.WithAttributes(tracer.StringAttr("sensor_pin", sensorPin)),
	)
	defer span.End()

	s, err := t.deps.Sessions.Get(id)
	if err != nil {
		tracer.RecordError(span, err)
		return Snapshot{}, err
	}
	s.Disconnect(sensorPin)
	return t.updated(ctx, s, span)
}

// ToggleGroup flips the expansion of group in session id.
func (t *Trainer) ToggleGroup(ctx context.Context, id string, group domain.GroupKey) (Snapshot, error) {
	ctx, span := tracer.StartSpan(ctx, "trainer.toggle_group",
		trace.WithAttributes(tracer.StringAttr("group", string(group))),
	)
	defer span.End()

	s, err := t.deps.Sessions.Get(id)
	if err != nil {
		tracer.RecordError(span, err)
		return Snapshot{}, err
	}
	if err := s.ToggleGroup(group); err != nil {
		tracer.RecordError(span, err)
		return Snapshot{}, err
	}
	snap, err := s.Snapshot()
	if err != nil {
		tracer.RecordError(span, err)
		return Snapshot{}, err
	}
	t.publish(ctx, domain.EventGroupToggled, s, map[string]any{"group": group, "expanded": snap.Expanded, "lines": snap.Lines})
	tracer.SetOK(span)
	return snap, nil
}

// Reset clears session id back to its initial state.
func (t *Trainer) Reset(ctx context.Context, id string) (Snapshot, error) {
	ctx, span := tracer.StartSpan(ctx, "trainer.reset")
	defer span.End()

	s, err := t.deps.Sessions.Get(id)
	if err != nil {
		tracer.RecordError(span, err)
		return Snapshot{}, err
	}
	s.Reset()
	snap, err := s.Snapshot()
	if err != nil {
		tracer.RecordError(span, err)
		return Snapshot{}, err
	}
	t.publish(ctx, domain.EventSessionReset, s, nil)
	tracer.SetOK(span)
	return snap, nil
}

// Verify validates session id and records the result in history.
func (t *Trainer) Verify(ctx context.Context, id string) (domain.Attempt, error) {
	ctx, span := tracer.StartSpan(ctx, "trainer.verify")
	defer span.End()

	s, err := t.deps.Sessions.Get(id)
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Attempt{}, err
	}
	snap, err := s.Snapshot()
	if err != nil {
		tracer.RecordError(span, err)
		return domain.Attempt{}, err
	}

	now := time.Now()
	attempt := domain.Attempt{
		ID:          generateULID(now),
		SessionID:   s.ID,
		Sensor:      snap.Sensor,
		Interface:   snap.Interface,
		AllCorrect:  snap.Validation.AllCorrect,
		Connected:   snap.Validation.Connected,
		Total:       snap.Validation.Total,
		Errors:      snap.Validation.Errors,
		Connections: snap.Connections,
		CreatedAt:   now,
	}

	if t.deps.History != nil {
		if err := t.deps.History.Record(ctx, attempt); err != nil {
			// The learner still gets the result; only the record is lost.
			t.deps.Logger.Error("record attempt failed", "session", id, "error", err)
			tracer.RecordError(span, err)
		}
	}

	outcome := "incorrect"
	if attempt.AllCorrect {
		outcome = "correct"
	}
	t.deps.Logger.Info("wiring verified", "session", id, "sensor", attempt.Sensor, "outcome", outcome,
		"connected", attempt.Connected, "total", attempt.Total)
	t.publish(ctx, domain.EventWiringVerified, s, attempt)
	t.audit(ctx, domain.AuditEvent{
		Type:     domain.AuditWiringVerify,
		Resource: s.ID,
		Action:   "verify",
		Outcome:  outcome,
		Detail:   map[string]string{"sensor": attempt.Sensor, "attempt": attempt.ID},
	})
	span.SetAttributes(tracer.SessionAttrs(s.ID, attempt.Sensor)...)
	span.SetAttributes(tracer.IntAttr("connected", attempt.Connected), tracer.BoolAttr("all_correct", attempt.AllCorrect))
	tracer.SetOK(span)
	return attempt, nil
}

// DeleteSession ends session id.
func (t *Trainer) DeleteSession(ctx context.Context, id string) error {
	s, err := t.deps.Sessions.Get(id)
	if err != nil {
		return err
	}
	if err := t.deps.Sessions.Delete(id); err != nil {
		return err
	}
	t.publish(ctx, domain.EventSessionDeleted, s, nil)
	t.audit(ctx, domain.AuditEvent{Type: domain.AuditSessionDelete, Resource: id, Action: "delete", Outcome: "success"})
	return nil
}

// History lists recorded attempts. Without a history store it returns nil.
func (t *Trainer) History(ctx context.Context, f domain.HistoryFilter) ([]domain.Attempt, error) {
	if t.deps.History == nil {
		return nil, nil
	}
	return t.deps.History.List(ctx, f)
}

// ReapStale removes sessions idle for longer than maxAge. A non-positive
// maxAge removes nothing.
func (t *Trainer) ReapStale(ctx context.Context, maxAge time.Duration) int {
	reaped := t.deps.Sessions.ReapStaleSessions(maxAge)
	for _, s := range reaped {
		t.publish(ctx, domain.EventSessionDeleted, s, map[string]string{"reason": "idle"})
		t.audit(ctx, domain.AuditEvent{Type: domain.AuditSessionReap, Resource: s.ID, Action: "reap", Outcome: "success"})
	}
	return len(reaped)
}

func (t *Trainer) updated(ctx context.Context, s *Session, span trace.Span) (Snapshot, error) {
	snap, err := s.Snapshot()
	if err != nil {
		tracer.RecordError(span, err)
		return Snapshot{}, err
	}
	t.publish(ctx, domain.EventWiringUpdated, s, snap)
	span.SetAttributes(
		tracer.IntAttr("connected", snap.Validation.Connected),
		tracer.IntAttr("total", snap.Validation.Total),
	)
	tracer.SetOK(span)
	return snap, nil
}

func (t *Trainer) publish(ctx context.Context, eventType domain.EventType, s *Session, payload any) {
	publishEvent(t.deps.Bus, ctx, eventType, s.ID, s.Owner, payload)
}

func (t *Trainer) audit(ctx context.Context, ev domain.AuditEvent) {
	if t.deps.AuditLogger == nil {
		return
	}
	if err := t.deps.AuditLogger.Log(ctx, ev); err != nil {
		t.deps.Logger.Warn("audit write failed", "type", ev.Type, "error", err)
	}
}

func publishEvent(bus domain.EventBus, ctx context.Context, eventType domain.EventType, sessionID, owner string, payload any) {
	if bus == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err == nil {
			raw = data
		}
	}
	bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: sessionID,
		Owner:     owner,
		Payload:   raw,
	})
}
