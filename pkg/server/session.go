package server

import (
	"errors"
	"log/slog"

	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

var ErrDuplicateConn = errors.New("server: connection already open")

// SessionManager is the authority for connection lifecycle: open, lookup and
// close.
type SessionManager struct {
	st       *State
	timeouts *TimeoutSupervisor
	metrics  *Metrics
	audit    *auditor
	logger   *slog.Logger
}

// Open stores a new unauthorized session for conn and arms its registration
// deadline.
func (sm *SessionManager) Open(conn Conn) (*model.Session, error) {
	sess, err := sm.open(conn)
	if err != nil {
		return nil, err
	}

	sm.metrics.TotalConnections.Add(1)
	sm.metrics.ActiveConnections.Add(1)
	sm.logger.Info("connection opened", "conn", sess.ConnID)
	sm.audit.record(model.Event{
		Kind:      model.EventSessionOpened,
		ConnID:    sess.ConnID,
		CreatedAt: sess.CreatedAt,
	})
	return sess, nil
}

func (sm *SessionManager) open(conn Conn) (*model.Session, error) {
	st := sm.st
	st.mu.Lock()
	defer st.mu.Unlock()

	id := conn.ID()
	if _, exists := st.registry[id]; exists {
		return nil, ErrDuplicateConn
	}
	sess := model.NewSession(id, st.now())
	entry := &liveSession{sess: sess, conn: conn}
	st.registry[id] = entry
	entry.stopTimer = sm.timeouts.Schedule(id)
	return sess, nil
}

// Lookup returns the session for a connection.
func (sm *SessionManager) Lookup(id model.ConnID) (*model.Session, bool) {
	sm.st.mu.Lock()
	defer sm.st.mu.Unlock()
	entry, ok := sm.st.registry[id]
	if !ok {
		return nil, false
	}
	return entry.sess, true
}

// MarkClosing flags the session so that further requests are refused. It
// reports whether the session existed.
func (sm *SessionManager) MarkClosing(id model.ConnID) bool {
	sm.st.mu.Lock()
	defer sm.st.mu.Unlock()
	entry, ok := sm.st.registry[id]
	if ok {
		entry.sess.Closing.Store(true)
	}
	return ok
}

// closeResult describes what Close removed.
type closeResult struct {
	info      model.SessionInfo
	deleted   []uint64 // rooms deleted because they became empty
	stopTimer func() bool
}

// Close removes the session from every room, the identity directory and the
// registry. It is idempotent and reports whether a session was removed.
func (sm *SessionManager) Close(id model.ConnID) bool {
	res, ok := sm.remove(id)
	if !ok {
		return false
	}
	if res.stopTimer != nil {
		res.stopTimer()
	}

	sm.metrics.ActiveConnections.Add(-1)
	sm.metrics.TotalDisconnects.Add(1)
	sm.metrics.RoomsDeleted.Add(int64(len(res.deleted)))
	sm.logger.Info("connection closed",
		"conn", id,
		"user_id", res.info.UserID,
		"username", res.info.Username,
		"rooms_deleted", len(res.deleted),
	)

	now := sm.st.now()
	events := []model.Event{{
		Kind:      model.EventSessionClosed,
		ConnID:    id,
		UserID:    res.info.UserID,
		Username:  res.info.Username,
		CreatedAt: now,
	}}
	for _, roomID := range res.deleted {
		sm.logger.Info("room deleted", "room_id", roomID, "reason", "last member disconnected")
		events = append(events, model.Event{
			Kind:      model.EventRoomDeleted,
			UserID:    res.info.UserID,
			RoomID:    roomID,
			CreatedAt: now,
		})
	}
	sm.audit.record(events...)
	return true
}

func (sm *SessionManager) remove(id model.ConnID) (closeResult, bool) {
	st := sm.st
	st.mu.Lock()
	defer st.mu.Unlock()

	entry, ok := st.registry[id]
	if !ok {
		return closeResult{}, false
	}
	sess := entry.sess
	sess.Closing.Store(true)

	var deleted []uint64
	for _, roomID := range sess.Rooms.Sorted() {
		room, ok := st.rooms.get(roomID)
		if !ok {
			sess.Rooms.Remove(roomID)
			continue
		}
		if st.rooms.leave(room, sess) {
			deleted = append(deleted, roomID)
		}
	}
	if sess.UserID != 0 {
		st.identities.remove(sess.UserID)
	}
	delete(st.registry, id)

	return closeResult{
		info:      sess.Info(),
		deleted:   deleted,
		stopTimer: entry.stopTimer,
	}, true
}

// CloseAll closes every live connection with going-away and removes the
// sessions. It is used on shutdown.
func (sm *SessionManager) CloseAll(reason string) int {
	sm.st.mu.Lock()
	conns := make([]Conn, 0, len(sm.st.registry))
	for _, entry := range sm.st.registry {
		entry.sess.Closing.Store(true)
		conns = append(conns, entry.conn)
	}
	sm.st.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(protocol.CloseGoingAway, reason)
		sm.Close(conn.ID())
	}
	return len(conns)
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.st.mu.Lock()
	defer sm.st.mu.Unlock()
	return len(sm.st.registry)
}
