package server

import (
	"sort"
	"sync"
	"time"

	"github.com/NicolasHaas/gorelay/pkg/model"
)

// State is the single consistency boundary of the relay. Every mutation of
// sessions, identities, rooms and the message counter happens with mu held.
type State struct {
	mu  sync.Mutex
	now func() time.Time

	registry      map[model.ConnID]*liveSession
	identities    IdentityDirectory
	rooms         RoomDirectory
	nextMessageID uint64
}

// liveSession pairs a session with its connection and registration timer.
type liveSession struct {
	sess      *model.Session
	conn      Conn
	stopTimer func() bool
}

// NewState creates a store holding only the lobby.
func NewState(now func() time.Time) *State {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &State{
		now:           now,
		registry:      make(map[model.ConnID]*liveSession),
		identities:    newIdentityDirectory(),
		rooms:         newRoomDirectory(now()),
		nextMessageID: 1,
	}
}

// alive reports whether sess is still the registered session for its
// connection. Caller holds mu.
func (st *State) alive(sess *model.Session) bool {
	entry, ok := st.registry[sess.ConnID]
	return ok && entry.sess == sess
}

// connOf resolves a user id to its connection. Caller holds mu.
func (st *State) connOf(userID uint64) (Conn, bool) {
	sess, ok := st.identities.lookup(userID)
	if !ok {
		return nil, false
	}
	entry, ok := st.registry[sess.ConnID]
	if !ok {
		return nil, false
	}
	return entry.conn, true
}

// StateSnapshot is a lock-free copy of the relay state.
type StateSnapshot struct {
	Sessions      []model.SessionInfo // ordered by connection id
	Rooms         map[uint64][]uint64 // room id -> sorted member user ids
	NextUserID    uint64
	NextRoomID    uint64
	NextMessageID uint64
}

// Snapshot copies the current state.
func (st *State) Snapshot() StateSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	snap := StateSnapshot{
		Sessions:      make([]model.SessionInfo, 0, len(st.registry)),
		Rooms:         make(map[uint64][]uint64, len(st.rooms.rooms)),
		NextUserID:    st.identities.nextUserID,
		NextRoomID:    st.rooms.nextRoomID,
		NextMessageID: st.nextMessageID,
	}
	for _, entry := range st.registry {
		snap.Sessions = append(snap.Sessions, entry.sess.Info())
	}
	sort.Slice(snap.Sessions, func(i, j int) bool {
		return snap.Sessions[i].ConnID < snap.Sessions[j].ConnID
	})
	for id, room := range st.rooms.rooms {
		snap.Rooms[id] = room.Members.Sorted()
	}
	return snap
}

// Counts returns the number of live sessions, registered users and rooms.
func (st *State) Counts() (sessions, users, rooms int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.registry), st.identities.Count(), st.rooms.Count()
}
