package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks relay runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime WebSocket connections accepted
	ActiveConnections atomic.Int64 // sessions currently in the registry
	TotalDisconnects  atomic.Int64 // sessions removed from the registry

	// Registration counters
	RegistrationsOK      atomic.Int64
	RegistrationsFailed  atomic.Int64 // business-rule rejections
	RegistrationTimeouts atomic.Int64 // connections closed for never registering

	// Room and message counters
	ChatMessages atomic.Int64 // chat messages broadcast
	RoomsCreated atomic.Int64
	RoomsDeleted atomic.Int64

	// Failure counters
	FramesDropped    atomic.Int64 // outbound frames dropped on a full queue
	RequestsRejected atomic.Int64 // error responses sent
	RequestPanics    atomic.Int64 // requests that closed with unexpected-condition
	AuditFailures    atomic.Int64 // journal writes that failed
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	TotalConnections  int64 `json:"total_connections"`
	ActiveConnections int64 `json:"active_connections"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	RegistrationsOK      int64 `json:"registrations_ok"`
	RegistrationsFailed  int64 `json:"registrations_failed"`
	RegistrationTimeouts int64 `json:"registration_timeouts"`

	ChatMessages int64 `json:"chat_messages"`
	RoomsCreated int64 `json:"rooms_created"`
	RoomsDeleted int64 `json:"rooms_deleted"`

	FramesDropped    int64 `json:"frames_dropped"`
	RequestsRejected int64 `json:"requests_rejected"`
	RequestPanics    int64 `json:"request_panics"`
	AuditFailures    int64 `json:"audit_failures"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:               uptime.Truncate(time.Second).String(),
		UptimeSeconds:        int64(uptime.Seconds()),
		TotalConnections:     m.TotalConnections.Load(),
		ActiveConnections:    m.ActiveConnections.Load(),
		TotalDisconnects:     m.TotalDisconnects.Load(),
		RegistrationsOK:      m.RegistrationsOK.Load(),
		RegistrationsFailed:  m.RegistrationsFailed.Load(),
		RegistrationTimeouts: m.RegistrationTimeouts.Load(),
		ChatMessages:         m.ChatMessages.Load(),
		RoomsCreated:         m.RoomsCreated.Load(),
		RoomsDeleted:         m.RoomsDeleted.Load(),
		FramesDropped:        m.FramesDropped.Load(),
		RequestsRejected:     m.RequestsRejected.Load(),
		RequestPanics:        m.RequestPanics.Load(),
		AuditFailures:        m.AuditFailures.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a metrics summary to logger.
func (m *Metrics) LogSummary(logger *slog.Logger) {
	s := m.Snapshot()
	logger.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"registrations", s.RegistrationsOK,
		"timeouts", s.RegistrationTimeouts,
		"chat_msgs", s.ChatMessages,
		"frames_dropped", s.FramesDropped,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(logger *slog.Logger, interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary(logger)
			}
		}
	}()
}
