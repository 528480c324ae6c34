package server

import (
	"log/slog"
	"time"

	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

// scheduleFunc runs f once after d and returns a function that cancels it.
// Implementations must not call f synchronously: Schedule is invoked with the
// state lock held.
type scheduleFunc func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// TimeoutSupervisor disconnects connections that do not register in time.
type TimeoutSupervisor struct {
	st       *State
	timeout  time.Duration
	schedule scheduleFunc
	metrics  *Metrics
	audit    *auditor
	logger   *slog.Logger
}

// Schedule arms the deadline for a connection.
func (ts *TimeoutSupervisor) Schedule(id model.ConnID) func() bool {
	return ts.schedule(ts.timeout, func() { ts.Expire(id) })
}

// Expire closes the connection with policy-violation if its session still
// exists, is unauthorized and is not already closing. State is re-checked
// at call time. It reports whether it closed the connection.
func (ts *TimeoutSupervisor) Expire(id model.ConnID) bool {
	conn, ok := ts.markExpired(id)
	if !ok {
		return false
	}

	if err := conn.Close(protocol.ClosePolicyViolation, "registration timeout"); err != nil {
		ts.logger.Debug("timeout close failed", "conn", id, "err", err)
	}
	ts.metrics.RegistrationTimeouts.Add(1)
	ts.logger.Info("registration timeout", "conn", id, "timeout", ts.timeout)
	ts.audit.record(model.Event{
		Kind:      model.EventSessionTimedOut,
		ConnID:    id,
		CreatedAt: ts.st.now(),
	})
	return true
}

func (ts *TimeoutSupervisor) markExpired(id model.ConnID) (Conn, bool) {
	st := ts.st
	st.mu.Lock()
	defer st.mu.Unlock()

	entry, ok := st.registry[id]
	if !ok || entry.sess.Authorized.Load() || entry.sess.Closing.Load() {
		return nil, false
	}
	entry.sess.Closing.Store(true)
	return entry.conn, true
}
