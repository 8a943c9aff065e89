package usecase

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"pintrainer/internal/domain"
	"pintrainer/internal/usecase/catalog"
	"pintrainer/internal/usecase/connection"
	"pintrainer/internal/usecase/layout"
	"pintrainer/internal/usecase/routing"
	"pintrainer/internal/usecase/validation"
)

// ConflictPolicy decides what Connect does with an MCU pin that another
// sensor pin already holds.
type ConflictPolicy string

const (
	// PolicyReject refuses the new assignment and leaves the store untouched.
	PolicyReject ConflictPolicy = "reject"
	// PolicyOverwrite disconnects the previous holder first.
	//
	// Deprecated: kept for catalogs and lesson plans written against the
	// old trainer. New setups should use PolicyReject.
	PolicyOverwrite ConflictPolicy = "overwrite"
)

// Session is one learner wiring one sensor. All methods are safe for
// concurrent use; each call observes the state left by the previous one.
type Session struct {
	mu        sync.RWMutex
	ID        string                  `json:"id"` // ULID
	Sensor    domain.SensorDefinition `json:"sensor"`
	Interface string                  `json:"interface,omitempty"`
	Owner     string                  `json:"owner,omitempty"` // set once at creation
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`

	catalog  *catalog.Catalog
	store    *connection.Store
	resolver *layout.Resolver
	router   *routing.Router
	policy   ConflictPolicy
}

// Snapshot is a consistent view of a session's derived state.
type Snapshot struct {
	ID          string                  `json:"id"`
	Sensor      string                  `json:"sensor"`
	Interface   string                  `json:"interface,omitempty"`
	Owner       string                  `json:"owner,omitempty"`
	Connections []domain.Connection     `json:"connections"`
	Expanded    domain.GroupKey         `json:"expanded,omitempty"`
	Validation  domain.ValidationResult `json:"validation"`
	Lines       map[string]domain.Line  `json:"lines"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// NewSession builds a session with an empty store and every group collapsed.
func NewSession(cat *catalog.Catalog, sensor domain.SensorDefinition, iface string, cfg layout.Config, policy ConflictPolicy) *Session {
	now := time.Now()
	if policy == "" {
		policy = PolicyReject
	}
	resolver := layout.NewResolver(cat, cfg, sensor.Layout)
	return &Session{
		ID:        generateULID(now),
		Sensor:    sensor,
		Interface: iface,
		CreatedAt: now,
		UpdatedAt: now,
		catalog:   cat,
		store:     connection.NewStore(),
		resolver:  resolver,
		router:    routing.NewRouter(cat, resolver, cfg.SensorOffset),
		policy:    policy,
	}
}

func generateULID(t time.Time) string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Connect assigns sensorPin to mcuPin. Under PolicyReject a pin held by a
// different sensor pin yields *domain.ConflictError and nothing changes.
func (s *Session) Connect(sensorPin, mcuPin string) error {
	_, err := s.connect(sensorPin, mcuPin)
	return err
}

// connect returns the sensor pins displaced under PolicyOverwrite.
func (s *Session) connect(sensorPin, mcuPin string) ([]string, error) {
	if !s.Sensor.HasPin(sensorPin) {
		return nil, domain.NewDomainError("Session.Connect", domain.ErrInvalidInput,
			"sensor "+s.Sensor.Name+" has no pin "+sensorPin)
	}
	if mcuPin == "" {
		return nil, domain.NewDomainError("Session.Connect", domain.ErrInvalidInput, "empty mcu pin")
	}
	if g, err := s.catalog.GroupOf(mcuPin); err == nil && !s.catalog.OffersGroup(s.Interface, g) {
		return nil, domain.NewDomainError("Session.Connect", domain.ErrInvalidInput,
			fmt.Sprintf("%s (group %s) is not offered for %s", mcuPin, g, s.Interface))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var displaced []string
	if err := validation.CheckClaim(s.store, sensorPin, mcuPin); err != nil {
		if s.policy != PolicyOverwrite {
			return nil, err
		}
		for _, owner := range s.store.OwnersOf(mcuPin) {
			if owner != sensorPin {
				s.store.Delete(owner)
				displaced = append(displaced, owner)
			}
		}
	}
	s.store.Set(sensorPin, mcuPin)
	s.UpdatedAt = time.Now()
	return displaced, nil
}

// Disconnect removes the assignment of sensorPin, if any.
func (s *Session) Disconnect(sensorPin string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.store.Delete(sensorPin)
	if ok {
		s.UpdatedAt = time.Now()
	}
	return ok
}

// Assignment returns the MCU pin assigned to sensorPin.
func (s *Session) Assignment(sensorPin string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Get(sensorPin)
}

// Connections returns the current assignments in insertion order.
func (s *Session) Connections() []domain.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Entries()
}

// ToggleGroup expands group, or collapses it if it is already expanded.
// Groups the session's interface does not offer are unknown to it.
func (s *Session) ToggleGroup(group domain.GroupKey) error {
	if !s.catalog.OffersGroup(s.Interface, group) {
		return domain.NewDomainError("Session.ToggleGroup", domain.ErrUnknownGroup, string(group))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolver.Toggle(group)
	s.UpdatedAt = time.Now()
	return nil
}

// IsExpanded reports whether group is currently expanded.
func (s *Session) IsExpanded(group domain.GroupKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolver.IsExpanded(group)
}

// ExpandedGroup returns the expanded group or "".
func (s *Session) ExpandedGroup() domain.GroupKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolver.Expanded()
}

// Validate recomputes the validation result from scratch.
func (s *Session) Validate() (domain.ValidationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return validation.Validate(s.Sensor, s.store, s.catalog)
}

// Groups returns the groups this session may expand and wire.
func (s *Session) Groups() []domain.PinGroup {
	return s.catalog.GroupsFor(s.Interface)
}

// LineGeometry routes every connection against the current expansion state.
func (s *Session) LineGeometry() (map[string]domain.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, err := validation.Validate(s.Sensor, s.store, s.catalog)
	if err != nil {
		return nil, err
	}
	return s.router.Lines(s.Sensor, s.store.Entries(), res), nil
}

// PositionOf returns where an MCU pin is drawn when its group is expanded.
func (s *Session) PositionOf(mcuPin string) (domain.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolver.PositionOf(mcuPin)
}

// AnchorOf returns a group's collapsed anchor.
func (s *Session) AnchorOf(group domain.GroupKey) domain.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolver.AnchorOf(group)
}

// Reset clears every connection and collapses every group.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Clear()
	s.resolver.Reset()
	s.UpdatedAt = time.Now()
}

// Snapshot returns connections, validation and lines computed under one lock.
func (s *Session) Snapshot() (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res, err := validation.Validate(s.Sensor, s.store, s.catalog)
	if err != nil {
		return Snapshot{}, err
	}
	conns := s.store.Entries()
	return Snapshot{
		ID:          s.ID,
		Sensor:      s.Sensor.Name,
		Interface:   s.Interface,
		Owner:       s.Owner,
		Connections: conns,
		Expanded:    s.resolver.Expanded(),
		Validation:  res,
		Lines:       s.router.Lines(s.Sensor, conns, res),
		UpdatedAt:   s.UpdatedAt,
	}, nil
}

func (s *Session) lastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.UpdatedAt
}

// SessionManager keeps the live sessions in memory. Session state is never
// written to disk.
type SessionManager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxSessions int
}

// NewSessionManager creates a session manager. maxSessions <= 0 means no limit.
func NewSessionManager(maxSessions int) *SessionManager {
	return &SessionManager{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
	}
}

// Add registers a session.
func (sm *SessionManager) Add(s *Session) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.maxSessions > 0 && len(sm.sessions) >= sm.maxSessions {
		return domain.NewSubSystemError("session", "SessionManager.Add", domain.ErrLimitReached, s.ID)
	}
	sm.sessions[s.ID] = s
	return nil
}

// Get returns an existing session or ErrSessionNotFound.
func (sm *SessionManager) Get(id string) (*Session, error) {
	sm.mu.RLock()
	s, ok := sm.sessions[id]
	sm.mu.RUnlock()
	if !ok {
		return nil, domain.NewDomainError("SessionManager.Get", domain.ErrSessionNotFound, id)
	}
	return s, nil
}

// Delete removes a session.
func (sm *SessionManager) Delete(id string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, ok := sm.sessions[id]; !ok {
		return domain.NewDomainError("SessionManager.Delete", domain.ErrSessionNotFound, id)
	}
	delete(sm.sessions, id)
	return nil
}

// ListSessions returns all active session IDs, oldest first.
func (sm *SessionManager) ListSessions() []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	ids := make([]string, 0, len(sm.sessions))
	for id := range sm.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListOwnedBy returns the IDs of sessions created by owner, oldest first.
func (sm *SessionManager) ListOwnedBy(owner string) []string {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	var ids []string
	for id, s := range sm.sessions {
		if s.Owner == owner {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live sessions.
func (sm *SessionManager) Len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// ReapStaleSessions deletes sessions not updated within maxAge and returns
// them ordered by ID. A non-positive maxAge reaps nothing.
func (sm *SessionManager) ReapStaleSessions(maxAge time.Duration) []*Session {
	if maxAge <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-maxAge)

	// Phase 1: identify stale sessions under read lock.
	sm.mu.RLock()
	var stale []*Session
	for _, s := range sm.sessions {
		if s.lastUpdate().Before(cutoff) {
			stale = append(stale, s)
		}
	}
	sm.mu.RUnlock()

	if len(stale) == 0 {
		return nil
	}

	// Phase 2: delete under write lock.
	sm.mu.Lock()
	for _, s := range stale {
		delete(sm.sessions, s.ID)
	}
	sm.mu.Unlock()
	sort.Slice(stale, func(i, j int) bool { return stale[i].ID < stale[j].ID })
	return stale
}
