package gateway

import (
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"
)

// metricsHandler returns an HTTP handler for GET /metrics in Prometheus text format.
// This uses the lightweight text format to avoid pulling in the full prometheus client.
func metricsHandler(deps HandlerDeps, s *Server, startTime time.Time, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		gauge(w, "pintrainer_sessions_active", "Number of live wiring sessions.", int64(deps.Trainer.Sessions().Len()))
		counter(w, "pintrainer_sessions_created_total", "Sessions created since start.", metrics.SessionsCreated.Load())
		counter(w, "pintrainer_wiring_updates_total", "Accepted connect and disconnect calls.", metrics.WiringUpdates.Load())
		counter(w, "pintrainer_connections_rejected_total", "Connects refused because the MCU pin was taken.", metrics.ConnectionsRejected.Load())
		counter(w, "pintrainer_verifications_total", "Wiring verifications.", metrics.Verifications.Load())
		counter(w, "pintrainer_verifications_passed_total", "Verifications with every pin correct.", metrics.VerificationsPassed.Load())

		var clients int64
		if s != nil {
			clients = int64(s.Clients())
		}
		gauge(w, "pintrainer_gateway_clients", "Connected WebSocket clients.", clients)

		fmt.Fprintf(w, "# HELP pintrainer_uptime_seconds Seconds since the gateway started.\n")
		fmt.Fprintf(w, "# TYPE pintrainer_uptime_seconds gauge\n")
		fmt.Fprintf(w, "pintrainer_uptime_seconds %.0f\n", time.Since(startTime).Seconds())

		// Go runtime metrics.
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		gauge(w, "go_goroutines", "Number of goroutines.", int64(runtime.NumGoroutine()))
		gauge(w, "go_memstats_alloc_bytes", "Bytes of allocated heap objects.", int64(mem.Alloc))
		gauge(w, "go_memstats_sys_bytes", "Total bytes of memory obtained from the OS.", int64(mem.Sys))
	}
}

func gauge(w io.Writer, name, help string, v int64) {
	sample(w, name, help, "gauge", v)
}

func counter(w io.Writer, name, help string, v int64) {
	sample(w, name, help, "counter", v)
}

func sample(w io.Writer, name, help, kind string, v int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	fmt.Fprintf(w, "%s %d\n", name, v)
}
