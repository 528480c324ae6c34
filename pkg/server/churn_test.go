package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/NicolasHaas/gorelay/pkg/model"
)

// frameField scans the recorded frames of conn for the last frame of typ
// and returns its numeric field key. Safe to call from worker goroutines.
func frameField(conn *fakeConn, typ, key string) (uint64, bool) {
	conn.mu.Lock()
	frames := conn.frames
	conn.frames = nil
	conn.mu.Unlock()

	var (
		out   uint64
		found bool
	)
	for _, f := range frames {
		dec := json.NewDecoder(bytes.NewReader(f))
		dec.UseNumber()
		var m map[string]any
		if err := dec.Decode(&m); err != nil || m["type"] != typ {
			continue
		}
		n, ok := m[key].(json.Number)
		if !ok {
			continue
		}
		if _, err := fmt.Sscan(n.String(), &out); err == nil {
			found = true
		}
	}
	return out, found
}

func sendFrame(ts *testServer, conn Conn, msg map[string]any) {
	data, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	ts.dispatcher.HandleFrame(conn, FrameText, data)
}

// checkMembership verifies both sides of the room membership relation.
func checkMembership(t *testing.T, st *State) {
	t.Helper()
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.rooms.rooms[model.LobbyID]; !ok {
		t.Fatalf("lobby missing")
	}
	for id, room := range st.rooms.rooms {
		if !room.IsLobby() && room.Empty() {
			t.Errorf("room %d is empty but still exists", id)
		}
		for userID := range room.Members {
			sess, ok := st.identities.lookup(userID)
			if !ok {
				t.Errorf("room %d: member %d has no identity", id, userID)
				continue
			}
			if !st.alive(sess) {
				t.Errorf("room %d: member %d is not a live session", id, userID)
			}
			if !sess.Rooms.Has(id) {
				t.Errorf("room %d: member %d does not list the room", id, userID)
			}
		}
	}

	authorized := 0
	for connID, entry := range st.registry {
		sess := entry.sess
		if !sess.Authorized.Load() {
			if len(sess.Rooms) != 0 {
				t.Errorf("unregistered session %s is in rooms %v", connID, sess.Rooms.Sorted())
			}
			continue
		}
		authorized++
		for roomID := range sess.Rooms {
			room, ok := st.rooms.get(roomID)
			if !ok {
				t.Errorf("session %s lists missing room %d", connID, roomID)
				continue
			}
			if !room.Members.Has(sess.UserID) {
				t.Errorf("session %s lists room %d which does not hold user %d", connID, roomID, sess.UserID)
			}
		}
	}
	if got := st.identities.Count(); got != authorized {
		t.Errorf("identities: want=%d (authorized sessions) got=%d", authorized, got)
	}
}

func TestConcurrentChurnKeepsMembershipConsistent(t *testing.T) {
	const (
		workers  = 12
		sessions = 30
	)
	ts := newTestServer(t)

	// user ids seen so far; some may belong to closed sessions
	var (
		idsMu sync.Mutex
		ids   []uint64
	)
	pickIDs := func(r *rand.Rand, n int) []uint64 {
		idsMu.Lock()
		defer idsMu.Unlock()
		out := make([]uint64, 0, n)
		for i := 0; i < n && len(ids) > 0; i++ {
			out = append(out, ids[r.IntN(len(ids))])
		}
		return out
	}

	var (
		wg       sync.WaitGroup
		leftMu   sync.Mutex
		leftover []*fakeConn
	)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(w), 42))
			for i := range sessions {
				conn := newFakeConn(fmt.Sprintf("w%d-s%d", w, i))
				if _, err := ts.sessions.Open(conn); err != nil {
					continue
				}
				name := fmt.Sprintf("user-%d", r.IntN(workers*sessions/3))
				sendFrame(ts, conn, map[string]any{
					"type": "register", "username": name, "password": "pw-" + name, "public-key": "pk",
				})
				userID, ok := frameField(conn, "register-result", "user-id")
				if ok {
					idsMu.Lock()
					ids = append(ids, userID)
					idsMu.Unlock()

					var rooms []uint64
					for range 1 + r.IntN(4) {
						switch r.IntN(3) {
						case 0:
							sendFrame(ts, conn, map[string]any{
								"type": "create-room", "user-id": userID,
								"participant-user-ids": pickIDs(r, r.IntN(3)), "is-private": r.IntN(2) == 0,
							})
							if roomID, ok := frameField(conn, "room-created", "chat-id"); ok {
								rooms = append(rooms, roomID)
							}
						case 1:
							if len(rooms) > 0 {
								sendFrame(ts, conn, map[string]any{
									"type": "leave-room", "user-id": userID, "chat-id": rooms[r.IntN(len(rooms))],
								})
							}
						default:
							chatID := model.LobbyID
							if len(rooms) > 0 {
								chatID = rooms[r.IntN(len(rooms))]
							}
							sendFrame(ts, conn, map[string]any{
								"type": "chat-msg", "user-id": userID, "chat-id": chatID, "message": "hi",
							})
						}
						// drop chat echoes and error frames
						frameField(conn, "", "")
					}
				}
				if r.IntN(4) == 0 {
					leftMu.Lock()
					leftover = append(leftover, conn)
					leftMu.Unlock()
					continue
				}
				ts.sessions.Close(conn.ID())
			}
		}()
	}
	wg.Wait()

	checkMembership(t, ts.state)

	for _, conn := range leftover {
		ts.sessions.Close(conn.ID())
	}
	checkMembership(t, ts.state)

	live, users, rooms := ts.state.Counts()
	if live != 0 || users != 0 || rooms != 1 {
		t.Errorf("after closing everything: sessions=%d users=%d rooms=%d, want 0 0 1", live, users, rooms)
	}
}
