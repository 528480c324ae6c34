package model

import (
	"errors"
	"time"
)

var ErrInvalidEventKind = errors.New("invalid event kind")

// EventKind names a lifecycle transition recorded in the audit journal.
type EventKind string

const (
	EventSessionOpened     EventKind = "session-opened"
	EventSessionRegistered EventKind = "session-registered"
	EventSessionTimedOut   EventKind = "session-timed-out"
	EventSessionClosed     EventKind = "session-closed"
	EventRoomCreated       EventKind = "room-created"
	EventRoomDeleted       EventKind = "room-deleted"
)

// EventKinds lists every kind in lifecycle order.
var EventKinds = []EventKind{
	EventSessionOpened,
	EventSessionRegistered,
	EventSessionTimedOut,
	EventSessionClosed,
	EventRoomCreated,
	EventRoomDeleted,
}

// Valid returns true if the kind is one the journal knows about.
func (k EventKind) Valid() bool {
	switch k {
	case EventSessionOpened, EventSessionRegistered, EventSessionTimedOut,
		EventSessionClosed, EventRoomCreated, EventRoomDeleted:
		return true
	default:
		return false
	}
}

// Event is one audit journal entry. Message bodies are never recorded.
type Event struct {
	ID        int64     `json:"id" yaml:"id"`
	Kind      EventKind `json:"kind" yaml:"kind"`
	ConnID    ConnID    `json:"conn_id,omitempty" yaml:"conn_id,omitempty"`
	UserID    uint64    `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Username  string    `json:"username,omitempty" yaml:"username,omitempty"`
	RoomID    uint64    `json:"room_id,omitempty" yaml:"room_id,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// EventFilters narrows a journal listing.
type EventFilters struct {
	Kind   *EventKind
	UserID *uint64
	Limit  int // 0 = no limit
}
