package server

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

func TestCreateRoom(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceID := ts.register(t, "c1", "alice")
	bob, bobID := ts.register(t, "c2", "bob")
	lurker, _ := ts.open(t, "c3")

	ts.send(t, alice, map[string]any{
		"type": "create-room", "user-id": aliceID, "participant-user-ids": []uint64{bobID, 5, bobID, aliceID},
	})

	res := alice.takeOne(t)
	if res["type"] != "room-created" || res["created"] != true || res["is-private"] != true {
		t.Fatalf("create-room: unexpected response %v", res)
	}
	roomID := uint64Field(t, res, "chat-id")
	if roomID != 2 {
		t.Fatalf("create-room: chat-id want=2 got=%d", roomID)
	}
	if diff := cmp.Diff([]uint64{aliceID, bobID}, uint64List(t, res, "participant-user-ids")); diff != "" {
		t.Errorf("participants mismatch (-want +got):\n%s", diff)
	}

	notice := bob.takeOne(t)
	if diff := cmp.Diff(res, notice); diff != "" {
		t.Errorf("participant notice differs from response (-response +notice):\n%s", diff)
	}
	if frames := lurker.take(t); len(frames) != 0 {
		t.Errorf("unregistered connection received %v", frames)
	}

	snap := ts.State().Snapshot()
	if diff := cmp.Diff([]uint64{aliceID, bobID}, snap.Rooms[roomID]); diff != "" {
		t.Errorf("room members mismatch (-want +got):\n%s", diff)
	}
	if snap.NextRoomID != 3 {
		t.Errorf("NextRoomID: want=3 got=%d", snap.NextRoomID)
	}
	if got := ts.Metrics().RoomsCreated.Load(); got != 1 {
		t.Errorf("RoomsCreated: want=1 got=%d", got)
	}
}

func TestCreateRoomPublicAndSolo(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceID := ts.register(t, "c1", "alice")

	ts.send(t, alice, map[string]any{
		"type": "create-room", "user-id": aliceID, "participant-user-ids": []uint64{}, "is-private": false,
	})
	res := alice.takeOne(t)
	if res["is-private"] != false {
		t.Fatalf("create-room: want is-private=false, got %v", res)
	}
	if diff := cmp.Diff([]uint64{aliceID}, uint64List(t, res, "participant-user-ids")); diff != "" {
		t.Errorf("participants mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateRoomWrongUserID(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceID := ts.register(t, "c1", "alice")
	bob, bobID := ts.register(t, "c2", "bob")
	before := ts.State().Snapshot()

	ts.send(t, alice, map[string]any{
		"type": "create-room", "user-id": aliceID + 10, "participant-user-ids": []uint64{bobID},
	})
	if got := errorCode(t, alice.takeOne(t)); got != protocol.CodeWrongUserID {
		t.Fatalf("create-room: want wrong-user-id, got %s", got)
	}
	if frames := bob.take(t); len(frames) != 0 {
		t.Errorf("bob received %v", frames)
	}
	if diff := cmp.Diff(before, ts.State().Snapshot()); diff != "" {
		t.Errorf("rejected create-room changed state (-before +after):\n%s", diff)
	}
}

func TestChatBroadcast(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceID := ts.register(t, "c1", "alice")
	bob, _ := ts.register(t, "c2", "bob")
	carol, _ := ts.register(t, "c3", "carol")

	ts.send(t, alice, map[string]any{
		"type": "chat-msg", "user-id": aliceID, "chat-id": model.LobbyID, "message": "hi", "client-message-id": 7,
	})

	echo := alice.takeOne(t)
	if got := uint64Field(t, echo, "client-message-id"); got != 7 {
		t.Errorf("echo: client-message-id want=7 got=%d", got)
	}
	for name, conn := range map[string]*fakeConn{"bob": bob, "carol": carol} {
		frame := conn.takeOne(t)
		if _, ok := frame["client-message-id"]; ok {
			t.Errorf("%s: client-message-id leaked to a peer: %v", name, frame)
		}
		if frame["type"] != "chat-msg" || frame["username"] != "alice" || frame["message"] != "hi" {
			t.Errorf("%s: unexpected frame %v", name, frame)
		}
		if got := uint64Field(t, frame, "server-message-id"); got != 1 {
			t.Errorf("%s: server-message-id want=1 got=%d", name, got)
		}
		if got := uint64Field(t, frame, "user-id"); got != aliceID {
			t.Errorf("%s: user-id want=%d got=%d", name, aliceID, got)
		}
	}

	// an empty body is a valid message and takes the next id
	ts.send(t, alice, map[string]any{"type": "chat-msg", "user-id": aliceID, "chat-id": model.LobbyID, "message": ""})
	echo = alice.takeOne(t)
	if got := uint64Field(t, echo, "server-message-id"); got != 2 {
		t.Errorf("second message: server-message-id want=2 got=%d", got)
	}
	if _, ok := echo["client-message-id"]; ok {
		t.Errorf("second message: unexpected client-message-id in %v", echo)
	}
	bob.take(t)
	carol.take(t)

	if got := ts.Metrics().ChatMessages.Load(); got != 2 {
		t.Errorf("ChatMessages: want=2 got=%d", got)
	}
}

func TestChatRejections(t *testing.T) {
	tests := map[string]struct {
		msg  func(aliceID, roomID uint64) map[string]any
		want string
	}{
		"wrong user id": {
			msg: func(aliceID, _ uint64) map[string]any {
				return map[string]any{"type": "chat-msg", "user-id": aliceID + 1, "chat-id": model.LobbyID, "message": "x"}
			},
			want: protocol.CodeWrongUserID,
		},
		"room without membership": {
			msg: func(aliceID, roomID uint64) map[string]any {
				return map[string]any{"type": "chat-msg", "user-id": aliceID, "chat-id": roomID, "message": "x"}
			},
			want: protocol.CodeChatAccessDenied,
		},
		"room that does not exist": {
			msg: func(aliceID, _ uint64) map[string]any {
				return map[string]any{"type": "chat-msg", "user-id": aliceID, "chat-id": 99, "message": "x"}
			},
			want: protocol.CodeChatAccessDenied,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			ts := newTestServer(t)
			alice, aliceID := ts.register(t, "c1", "alice")
			bob, bobID := ts.register(t, "c2", "bob")
			ts.send(t, bob, map[string]any{"type": "create-room", "user-id": bobID, "participant-user-ids": []uint64{}})
			roomID := uint64Field(t, bob.takeOne(t), "chat-id")
			before := ts.State().Snapshot()

			ts.send(t, alice, tc.msg(aliceID, roomID))
			if got := errorCode(t, alice.takeOne(t)); got != tc.want {
				t.Fatalf("chat-msg: want %s, got %s", tc.want, got)
			}
			if frames := bob.take(t); len(frames) != 0 {
				t.Errorf("bob received %v", frames)
			}
			if diff := cmp.Diff(before, ts.State().Snapshot()); diff != "" {
				t.Errorf("rejected chat-msg changed state (-before +after):\n%s", diff)
			}
		})
	}
}

func TestLeaveRoomRejections(t *testing.T) {
	tests := map[string]struct {
		userOffset uint64
		room       func(roomID uint64) uint64
		want       string
	}{
		"wrong user id": {
			userOffset: 5,
			room:       func(roomID uint64) uint64 { return roomID },
			want:       protocol.CodeWrongUserID,
		},
		"unknown room": {
			room: func(uint64) uint64 { return 99 },
			want: protocol.CodeChatNotFound,
		},
		"not a member": {
			room: func(roomID uint64) uint64 { return roomID },
			want: protocol.CodeChatAccessDenied,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			ts := newTestServer(t)
			alice, aliceID := ts.register(t, "c1", "alice")
			bob, bobID := ts.register(t, "c2", "bob")
			ts.send(t, bob, map[string]any{"type": "create-room", "user-id": bobID, "participant-user-ids": []uint64{}})
			roomID := uint64Field(t, bob.takeOne(t), "chat-id")
			before := ts.State().Snapshot()

			ts.send(t, alice, map[string]any{"type": "leave-room", "user-id": aliceID + tc.userOffset, "chat-id": tc.room(roomID)})
			if got := errorCode(t, alice.takeOne(t)); got != tc.want {
				t.Fatalf("leave-room: want %s, got %s", tc.want, got)
			}
			if diff := cmp.Diff(before, ts.State().Snapshot()); diff != "" {
				t.Errorf("rejected leave-room changed state (-before +after):\n%s", diff)
			}
		})
	}
}

func TestLeaveRoomDeletesEmptyRoom(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceID := ts.register(t, "c1", "alice")
	bob, bobID := ts.register(t, "c2", "bob")

	ts.send(t, alice, map[string]any{"type": "create-room", "user-id": aliceID, "participant-user-ids": []uint64{bobID}})
	roomID := uint64Field(t, alice.takeOne(t), "chat-id")
	bob.take(t)

	ts.send(t, alice, map[string]any{"type": "leave-room", "user-id": aliceID, "chat-id": roomID})
	left := alice.takeOne(t)
	if left["type"] != "room-left" || left["left"] != true || uint64Field(t, left, "chat-id") != roomID {
		t.Fatalf("leave-room: unexpected response %v", left)
	}
	if diff := cmp.Diff([]uint64{bobID}, ts.State().Snapshot().Rooms[roomID]); diff != "" {
		t.Errorf("members after first leave (-want +got):\n%s", diff)
	}

	ts.send(t, bob, map[string]any{"type": "leave-room", "user-id": bobID, "chat-id": roomID})
	bob.takeOne(t)
	if _, ok := ts.State().Snapshot().Rooms[roomID]; ok {
		t.Fatalf("room %d still exists after its last member left", roomID)
	}
	if got := ts.Metrics().RoomsDeleted.Load(); got != 1 {
		t.Errorf("RoomsDeleted: want=1 got=%d", got)
	}

	// the id is gone for good
	ts.send(t, bob, map[string]any{"type": "leave-room", "user-id": bobID, "chat-id": roomID})
	if got := errorCode(t, bob.takeOne(t)); got != protocol.CodeChatNotFound {
		t.Errorf("leave deleted room: want chat-not-found, got %s", got)
	}
}

func TestLobbyIsPermanent(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceID := ts.register(t, "c1", "alice")

	ts.send(t, alice, map[string]any{"type": "leave-room", "user-id": aliceID, "chat-id": model.LobbyID})
	alice.takeOne(t)

	members, ok := ts.State().Snapshot().Rooms[model.LobbyID]
	if !ok {
		t.Fatalf("lobby was deleted")
	}
	if len(members) != 0 {
		t.Errorf("lobby members: want none, got %v", members)
	}

	ts.send(t, alice, map[string]any{"type": "chat-msg", "user-id": aliceID, "chat-id": model.LobbyID, "message": "x"})
	if got := errorCode(t, alice.takeOne(t)); got != protocol.CodeChatAccessDenied {
		t.Errorf("chat after leaving lobby: want chat-access-denied, got %s", got)
	}

	// a later registration still lands in the lobby
	_, bobID := ts.register(t, "c2", "bob")
	if diff := cmp.Diff([]uint64{bobID}, ts.State().Snapshot().Rooms[model.LobbyID]); diff != "" {
		t.Errorf("lobby members (-want +got):\n%s", diff)
	}
}

func TestCloseRemovesMemberships(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceID := ts.register(t, "c1", "alice")
	bob, bobID := ts.register(t, "c2", "bob")
	ts.send(t, alice, map[string]any{"type": "create-room", "user-id": aliceID, "participant-user-ids": []uint64{bobID}})
	roomID := uint64Field(t, alice.takeOne(t), "chat-id")
	bob.take(t)

	if !ts.sessions.Close("c2") {
		t.Fatalf("Close(c2): want true")
	}
	if ts.sessions.Close("c2") {
		t.Fatalf("second Close(c2): want false")
	}

	snap := ts.State().Snapshot()
	want := map[uint64][]uint64{model.LobbyID: {aliceID}, roomID: {aliceID}}
	if diff := cmp.Diff(want, snap.Rooms); diff != "" {
		t.Errorf("rooms after close (-want +got):\n%s", diff)
	}

	// messages no longer reach the closed connection
	ts.send(t, alice, map[string]any{"type": "chat-msg", "user-id": aliceID, "chat-id": roomID, "message": "x"})
	alice.takeOne(t)
	if frames := bob.take(t); len(frames) != 0 {
		t.Errorf("closed connection received %v", frames)
	}

	ts.sessions.Close("c1")
	snap = ts.State().Snapshot()
	if _, ok := snap.Rooms[roomID]; ok {
		t.Errorf("room %d survived its last member", roomID)
	}
	if len(snap.Sessions) != 0 {
		t.Errorf("sessions after close: %v", snap.Sessions)
	}

	kind := model.EventRoomDeleted
	events, err := ts.journal.List(context.Background(), model.EventFilters{Kind: &kind})
	if err != nil {
		t.Fatalf("journal list: %v", err)
	}
	if len(events) != 1 || events[0].RoomID != roomID || events[0].UserID != aliceID {
		t.Errorf("room-deleted events: %+v", events)
	}
}

func TestSendQueueFullDropsFrame(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceID := ts.register(t, "c1", "alice")
	bob, _ := ts.register(t, "c2", "bob")
	carol, _ := ts.register(t, "c3", "carol")
	bob.setSendErr(ErrSendQueueFull)

	ts.send(t, alice, map[string]any{"type": "chat-msg", "user-id": aliceID, "chat-id": model.LobbyID, "message": "x"})

	alice.takeOne(t)
	carol.takeOne(t)
	if got := ts.Metrics().FramesDropped.Load(); got != 1 {
		t.Errorf("FramesDropped: want=1 got=%d", got)
	}
	if closed, _, _ := bob.closeState(); closed {
		t.Errorf("a full queue must not close the connection")
	}
}
