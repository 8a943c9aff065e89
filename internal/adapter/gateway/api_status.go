package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"pintrainer/internal/domain"
)

// StatusResponse is the JSON body returned by GET /api/v1/status.
type StatusResponse struct {
	Service  ServiceStatus `json:"service"`
	Catalog  CatalogStatus `json:"catalog"`
	Sessions SessionStatus `json:"sessions"`
	Wiring   WiringStatus  `json:"wiring"`
	Clients  int           `json:"clients"`
}

// ServiceStatus holds process overview info.
type ServiceStatus struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// CatalogStatus summarises the loaded reference data.
type CatalogStatus struct {
	MCU     string `json:"mcu"`
	Pins    int    `json:"pins"`
	Groups  int    `json:"groups"`
	Sensors int    `json:"sensors"`
}

// SessionStatus holds session counts.
type SessionStatus struct {
	Active  int   `json:"active"`
	Created int64 `json:"created"`
}

// WiringStatus holds wiring activity counters.
type WiringStatus struct {
	Updates       int64 `json:"updates"`
	Rejections    int64 `json:"rejections"`
	Verifications int64 `json:"verifications"`
	Passed        int64 `json:"passed"`
}

// Metrics tracks counters for the status API and Prometheus metrics.
type Metrics struct {
	SessionsCreated     atomic.Int64
	WiringUpdates       atomic.Int64
	ConnectionsRejected atomic.Int64
	Verifications       atomic.Int64
	VerificationsPassed atomic.Int64
}

// Subscribe feeds the counters from bus events and returns the unsubscribe
// functions.
func (m *Metrics) Subscribe(bus domain.EventBus) []func() {
	return []func(){
		bus.Subscribe(domain.EventSessionCreated, func(context.Context, domain.Event) {
			m.SessionsCreated.Add(1)
		}),
		bus.Subscribe(domain.EventWiringUpdated, func(context.Context, domain.Event) {
			m.WiringUpdates.Add(1)
		}),
		bus.Subscribe(domain.EventConnectionRejected, func(context.Context, domain.Event) {
			m.ConnectionsRejected.Add(1)
		}),
		bus.Subscribe(domain.EventWiringVerified, func(_ context.Context, e domain.Event) {
			m.Verifications.Add(1)
			var a domain.Attempt
			if json.Unmarshal(e.Payload, &a) == nil && a.AllCorrect {
				m.VerificationsPassed.Add(1)
			}
		}),
	}
}

// statusHandler returns an HTTP handler for GET /api/v1/status.
func statusHandler(deps HandlerDeps, s *Server, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		cat := deps.Trainer.Catalog()
		resp := StatusResponse{
			Service: ServiceStatus{
				Name:          "pintrainer",
				Version:       deps.Version,
				UptimeSeconds: int64(time.Since(startTime).Seconds()),
			},
			Catalog: CatalogStatus{
				MCU:     cat.MCUName(),
				Pins:    len(cat.Pins()),
				Groups:  len(cat.Groups()),
				Sensors: len(cat.Sensors()),
			},
			Sessions: SessionStatus{
				Active:  deps.Trainer.Sessions().Len(),
				Created: metrics.SessionsCreated.Load(),
			},
			Wiring: WiringStatus{
				Updates:       metrics.WiringUpdates.Load(),
				Rejections:    metrics.ConnectionsRejected.Load(),
				Verifications: metrics.Verifications.Load(),
				Passed:        metrics.VerificationsPassed.Load(),
			},
		}
		if s != nil {
			resp.Clients = s.Clients()
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// sensorsHandler returns an HTTP handler for GET /api/v1/sensors.
func sensorsHandler(deps HandlerDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, deps.Trainer.ListSensors(r.Context()))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(domain.ErrorCodeOf(err)),
	})
}
