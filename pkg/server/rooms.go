package server

import (
	"time"

	"github.com/NicolasHaas/gorelay/pkg/model"
)

// RoomDirectory owns the lobby and all dynamic rooms.
// All methods require the State lock.
type RoomDirectory struct {
	rooms      map[uint64]*model.Room
	nextRoomID uint64
}

func newRoomDirectory(now time.Time) RoomDirectory {
	lobby := model.NewLobby(now)
	return RoomDirectory{
		rooms:      map[uint64]*model.Room{lobby.ID: lobby},
		nextRoomID: model.LobbyID + 1,
	}
}

// create allocates the next room id. Ids are never reused.
func (d *RoomDirectory) create(typ model.RoomType, createdBy uint64, now time.Time) *model.Room {
	room := model.NewRoom(d.nextRoomID, typ, createdBy, now)
	d.nextRoomID++
	d.rooms[room.ID] = room
	return room
}

// get returns the room with id.
func (d *RoomDirectory) get(id uint64) (*model.Room, bool) {
	room, ok := d.rooms[id]
	return room, ok
}

// join adds sess to room on both sides of the membership relation.
func (d *RoomDirectory) join(room *model.Room, sess *model.Session) {
	room.Members.Add(sess.UserID)
	sess.Rooms.Add(room.ID)
}

// leave removes sess from room on both sides and deletes the room if it
// became empty. The lobby is never deleted. It reports whether the room was
// deleted.
func (d *RoomDirectory) leave(room *model.Room, sess *model.Session) bool {
	room.Members.Remove(sess.UserID)
	sess.Rooms.Remove(room.ID)
	if room.IsLobby() || !room.Empty() {
		return false
	}
	delete(d.rooms, room.ID)
	return true
}

// Count returns the number of existing rooms, lobby included.
func (d *RoomDirectory) Count() int {
	return len(d.rooms)
}
