package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pintrainer/internal/domain"
	"pintrainer/internal/usecase"
)

// defaultHistoryLimit caps history.list when the client sends no limit.
const defaultHistoryLimit = 50

// HandlerDeps holds dependencies needed by RPC handlers.
type HandlerDeps struct {
	Trainer     *usecase.Trainer
	Bus         domain.EventBus
	Logger      *slog.Logger
	AuditLogger domain.AuditLogger // can be nil
	Version     string
}

// requirePerm wraps an RPCHandler with role enforcement. Denials are audited.
func requirePerm(deps HandlerDeps, method string, perm domain.Permission, handler RPCHandler) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		if !domain.HasPermission(client.authRoles(), perm) {
			if deps.AuditLogger != nil {
				_ = deps.AuditLogger.Log(ctx, domain.AuditEvent{
					Timestamp: time.Now(),
					Type:      domain.AuditAccessDenied,
					Actor:     client.Name,
					Resource:  method,
					Action:    "rpc_call",
					Outcome:   "denied",
					Detail: map[string]string{
						"roles":      strings.Join(client.Roles, ","),
						"permission": string(perm),
					},
				})
			}
			return nil, domain.NewSubSystemError("gateway", method, domain.ErrPermissionDenied, string(perm))
		}
		return handler(ctx, client, payload)
	}
}

// RegisterRESTHandlers registers HTTP REST endpoints on the gateway server.
func RegisterRESTHandlers(s *Server, deps HandlerDeps) *Metrics {
	startTime := time.Now()
	metrics := &Metrics{}
	if deps.Bus != nil {
		metrics.Subscribe(deps.Bus)
	}

	// Auth middleware for REST endpoints.
	authMiddleware := func(perm domain.Permission, next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token := r.URL.Query().Get("token")
			if token == "" {
				token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			client, err := s.auth.Authenticate(token)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, err)
				return
			}
			if !domain.HasPermission(client.authRoles(), perm) {
				writeJSONError(w, http.StatusForbidden, domain.NewSubSystemError("gateway", r.URL.Path, domain.ErrPermissionDenied, string(perm)))
				return
			}
			next(w, r)
		}
	}

	s.RegisterHTTPRoute("/api/v1/status", authMiddleware(domain.PermSessionView, statusHandler(deps, s, startTime, metrics)))
	s.RegisterHTTPRoute("/api/v1/sensors", authMiddleware(domain.PermCatalogRead, sensorsHandler(deps)))
	s.RegisterHTTPRoute("/metrics", authMiddleware(domain.PermSessionView, metricsHandler(deps, s, startTime, metrics)))

	return metrics
}

// RegisterDefaultHandlers registers all built-in RPC handlers on the server.
func RegisterDefaultHandlers(s *Server, deps HandlerDeps) {
	rpc := func(method string, perm domain.Permission, h RPCHandler) {
		s.RegisterHandler(method, requirePerm(deps, method, perm, h))
	}

	rpc("sensor.list", domain.PermCatalogRead, sensorListHandler(deps))
	rpc("catalog.pins", domain.PermCatalogRead, catalogPinsHandler(deps))
	rpc("session.list", domain.PermSessionView, sessionListHandler(deps))
	rpc("session.get", domain.PermSessionView, sessionGetHandler(deps))
	rpc("session.validate", domain.PermSessionView, sessionValidateHandler(deps))
	rpc("session.lines", domain.PermSessionView, sessionLinesHandler(deps))
	rpc("session.create", domain.PermSessionWire, sessionCreateHandler(deps))
	rpc("session.connect", domain.PermSessionWire, sessionConnectHandler(deps))
	rpc("session.disconnect", domain.PermSessionWire, sessionDisconnectHandler(deps))
	rpc("session.toggle_group", domain.PermSessionWire, sessionToggleGroupHandler(deps))
	rpc("session.reset", domain.PermSessionWire, sessionResetHandler(deps))
	rpc("session.verify", domain.PermSessionWire, sessionVerifyHandler(deps))
	rpc("session.delete", domain.PermSessionAdmin, sessionDeleteHandler(deps))
	rpc("history.list", domain.PermHistoryRead, historyListHandler(deps))
}

func decodePayload(method string, payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return domain.NewDomainError(method, domain.ErrRPCInvalidPayload, err.Error())
	}
	return nil
}

func missing(method, field string) error {
	return domain.NewDomainError(method, domain.ErrRPCInvalidPayload, fmt.Sprintf("%s is required", field))
}

// --- catalog ---

func sensorListHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(deps.Trainer.ListSensors(ctx))
	}
}

type catalogPinsResponse struct {
	MCU    string            `json:"mcu"`
	Pins   []domain.McuPin   `json:"pins"`
	Groups []domain.PinGroup `json:"groups"`
}

type catalogPinsRequest struct {
	Interface string `json:"interface"`
}

// catalogPinsHandler lists the MCU pins. With an interface, groups are the
// ones a session on that interface is offered.
func catalogPinsHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req catalogPinsRequest
		if err := decodePayload("catalog.pins", payload, &req); err != nil {
			return nil, err
		}
		cat := deps.Trainer.Catalog()
		return json.Marshal(catalogPinsResponse{
			MCU:    cat.MCUName(),
			Pins:   cat.Pins(),
			Groups: cat.GroupsFor(req.Interface),
		})
	}
}

// --- sessions ---

type sessionRequest struct {
	SessionID string `json:"session_id"`
}

// sessionID decodes a request carrying at least session_id and checks that
// client may reach that session. Connections opened with ?session_id= may
// omit it.
func sessionID(ctx context.Context, deps HandlerDeps, client *ClientInfo, method string, payload json.RawMessage, v any, id *string) error {
	if err := decodePayload(method, payload, v); err != nil {
		return err
	}
	if *id == "" {
		*id = domain.SessionIDFromContext(ctx)
	}
	if *id == "" {
		return missing(method, "session_id")
	}
	return authorizeSession(ctx, deps, client, method, *id)
}

// authorizeSession rejects clients without PermSessionAny that did not
// create session id.
func authorizeSession(ctx context.Context, deps HandlerDeps, client *ClientInfo, method, id string) error {
	if client.reachesAnySession() {
		return nil
	}
	s, err := deps.Trainer.Session(id)
	if err != nil {
		return err
	}
	if s.Owner != "" && s.Owner == client.Name {
		return nil
	}
	if deps.AuditLogger != nil {
		_ = deps.AuditLogger.Log(ctx, domain.AuditEvent{
			Timestamp: time.Now(),
			Type:      domain.AuditAccessDenied,
			Actor:     client.Name,
			Resource:  id,
			Action:    method,
			Outcome:   "denied",
			Detail:    map[string]string{"owner": s.Owner},
		})
	}
	return domain.NewSubSystemError("gateway", method, domain.ErrPermissionDenied, "session "+id+" belongs to another client")
}

func sessionListHandler(deps HandlerDeps) RPCHandler {
	return func(_ context.Context, client *ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
		sessions := deps.Trainer.Sessions()
		if client.reachesAnySession() {
			return json.Marshal(sessions.ListSessions())
		}
		ids := sessions.ListOwnedBy(client.Name)
		if ids == nil {
			ids = []string{}
		}
		return json.Marshal(ids)
	}
}

type sessionCreateRequest struct {
	Sensor    string `json:"sensor"`
	Interface string `json:"interface"`
}

func sessionCreateHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req sessionCreateRequest
		if err := decodePayload("session.create", payload, &req); err != nil {
			return nil, err
		}
		if req.Sensor == "" {
			return nil, missing("session.create", "sensor")
		}
		s, err := deps.Trainer.CreateSession(domain.ContextWithOwner(ctx, client.Name), req.Sensor, req.Interface)
		if err != nil {
			return nil, err
		}
		deps.Logger.Info("gateway session created", "session", s.ID, "client", client.Name)
		snap, err := deps.Trainer.Snapshot(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(snap)
	}
}

func sessionGetHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req sessionRequest
		if err := sessionID(ctx, deps, client, "session.get", payload, &req, &req.SessionID); err != nil {
			return nil, err
		}
		snap, err := deps.Trainer.Snapshot(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(snap)
	}
}

func sessionValidateHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req sessionRequest
		if err := sessionID(ctx, deps, client, "session.validate", payload, &req, &req.SessionID); err != nil {
			return nil, err
		}
		snap, err := deps.Trainer.Snapshot(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(snap.Validation)
	}
}

func sessionLinesHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req sessionRequest
		if err := sessionID(ctx, deps, client, "session.lines", payload, &req, &req.SessionID); err != nil {
			return nil, err
		}
		snap, err := deps.Trainer.Snapshot(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(snap.Lines)
	}
}

type connectRequest struct {
	SessionID string `json:"session_id"`
	SensorPin string `json:"sensor_pin"`
	McuPin    string `json:"mcu_pin"`
}

func sessionConnectHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req connectRequest
		if err := sessionID(ctx, deps, client, "session.connect", payload, &req, &req.SessionID); err != nil {
			return nil, err
		}
		if req.SensorPin == "" {
			return nil, missing("session.connect", "sensor_pin")
		}
		if req.McuPin == "" {
			return nil, missing("session.connect", "mcu_pin")
		}
		snap, err := deps.Trainer.Connect(ctx, req.SessionID, req.SensorPin, req.McuPin)
		if err != nil {
			return nil, err
		}
		return json.Marshal(snap)
	}
}

func sessionDisconnectHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req connectRequest
		if err := sessionID(ctx, deps, client, "session.disconnect", payload, &req, &req.SessionID); err != nil {
			return nil, err
		}
		if req.SensorPin == "" {
			return nil, missing("session.disconnect", "sensor_pin")
		}
		snap, err := deps.Trainer.Disconnect(ctx, req.SessionID, req.SensorPin)
		if err != nil {
			return nil, err
		}
		return json.Marshal(snap)
	}
}

type toggleGroupRequest struct {
	SessionID string `json:"session_id"`
	Group     string `json:"group"`
}

func sessionToggleGroupHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req toggleGroupRequest
		if err := sessionID(ctx, deps, client, "session.toggle_group", payload, &req, &req.SessionID); err != nil {
			return nil, err
		}
		if req.Group == "" {
			return nil, missing("session.toggle_group", "group")
		}
		snap, err := deps.Trainer.ToggleGroup(ctx, req.SessionID, domain.GroupKey(req.Group))
		if err != nil {
			return nil, err
		}
		return json.Marshal(snap)
	}
}

func sessionResetHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req sessionRequest
		if err := sessionID(ctx, deps, client, "session.reset", payload, &req, &req.SessionID); err != nil {
			return nil, err
		}
		snap, err := deps.Trainer.Reset(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(snap)
	}
}

func sessionVerifyHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req sessionRequest
		if err := sessionID(ctx, deps, client, "session.verify", payload, &req, &req.SessionID); err != nil {
			return nil, err
		}
		attempt, err := deps.Trainer.Verify(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(attempt)
	}
}

func sessionDeleteHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, client *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req sessionRequest
		if err := sessionID(ctx, deps, client, "session.delete", payload, &req, &req.SessionID); err != nil {
			return nil, err
		}
		if err := deps.Trainer.DeleteSession(ctx, req.SessionID); err != nil {
			return nil, err
		}
		deps.Logger.Info("gateway session deleted", "session", req.SessionID, "client", client.Name)
		return json.Marshal(map[string]bool{"deleted": true})
	}
}

// --- history ---

type historyListRequest struct {
	Sensor string `json:"sensor"`
	Limit  int    `json:"limit"`
}

func historyListHandler(deps HandlerDeps) RPCHandler {
	return func(ctx context.Context, _ *ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req historyListRequest
		if err := decodePayload("history.list", payload, &req); err != nil {
			return nil, err
		}
		if req.Limit <= 0 {
			req.Limit = defaultHistoryLimit
		}
		attempts, err := deps.Trainer.History(ctx, domain.HistoryFilter{Sensor: req.Sensor, Limit: req.Limit})
		if err != nil {
			return nil, err
		}
		if attempts == nil {
			attempts = []domain.Attempt{}
		}
		return json.Marshal(attempts)
	}
}
