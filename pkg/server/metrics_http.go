package server

import (
	"fmt"
	"net/http"
	"time"
)

// metricsHandler serves /metrics in Prometheus text exposition format and
// /healthz.
func (s *Server) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()
	sessions, users, rooms := s.state.Counts()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("relay_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("relay_sessions", "Sessions in the registry.", "gauge", int64(sessions))
	write("relay_registered_users", "Sessions holding a user id.", "gauge", int64(users))
	write("relay_rooms", "Existing rooms, lobby included.", "gauge", int64(rooms))

	write("relay_connections_total", "Lifetime WebSocket connections accepted.", "counter",
		m.TotalConnections.Load())
	write("relay_disconnects_total", "Sessions removed from the registry.", "counter",
		m.TotalDisconnects.Load())

	write("relay_registrations_total", "Committed registrations.", "counter",
		m.RegistrationsOK.Load())
	write("relay_registrations_failed_total", "Registrations rejected by a business rule.", "counter",
		m.RegistrationsFailed.Load())
	write("relay_registration_timeouts_total", "Connections closed for not registering in time.", "counter",
		m.RegistrationTimeouts.Load())

	write("relay_chat_messages_total", "Chat messages broadcast.", "counter",
		m.ChatMessages.Load())
	write("relay_rooms_created_total", "Rooms created.", "counter",
		m.RoomsCreated.Load())
	write("relay_rooms_deleted_total", "Rooms deleted after becoming empty.", "counter",
		m.RoomsDeleted.Load())

	write("relay_frames_dropped_total", "Outbound frames dropped on a full send queue.", "counter",
		m.FramesDropped.Load())
	write("relay_requests_rejected_total", "Error responses sent.", "counter",
		m.RequestsRejected.Load())
	write("relay_request_panics_total", "Requests that closed their connection with an internal error.", "counter",
		m.RequestPanics.Load())
	write("relay_audit_failures_total", "Failed audit journal writes.", "counter",
		m.AuditFailures.Load())
}
