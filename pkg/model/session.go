package model

import (
	"sync/atomic"
	"time"
)

// Session represents one live connection and the identity it registered.
//
// Identity fields and Rooms are only mutated while the server state lock is
// held. Authorized and Closing may be read without the lock.
type Session struct {
	ConnID        ConnID
	UserID        uint64 // 0 until registration succeeds
	Username      string
	PasswordHash  []byte
	PasswordSalt  []byte
	PublicKey     string
	ClientVersion string
	Rooms         IDSet
	CreatedAt     time.Time

	Authorized atomic.Bool
	Closing    atomic.Bool
}

// NewSession creates an unauthorized session for a connection.
func NewSession(id ConnID, now time.Time) *Session {
	return &Session{
		ConnID:    id,
		Rooms:     make(IDSet),
		CreatedAt: now,
	}
}

// HasPassword reports whether a password was ever stored on the session.
func (s *Session) HasPassword() bool {
	return len(s.PasswordHash) > 0
}

// SessionInfo is a copy of a session's identity, safe to use without locks.
type SessionInfo struct {
	ConnID     ConnID
	UserID     uint64
	Username   string
	Authorized bool
	Closing    bool
	Rooms      []uint64
	CreatedAt  time.Time
}

// Info snapshots the session. Callers must hold the server state lock.
func (s *Session) Info() SessionInfo {
	return SessionInfo{
		ConnID:     s.ConnID,
		UserID:     s.UserID,
		Username:   s.Username,
		Authorized: s.Authorized.Load(),
		Closing:    s.Closing.Load(),
		Rooms:      s.Rooms.Sorted(),
		CreatedAt:  s.CreatedAt,
	}
}
