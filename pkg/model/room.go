package model

import "time"

// Room is a set of member sessions that receive each other's messages.
// Members holds user ids; sessions are resolved through the identity directory.
type Room struct {
	ID        uint64
	Type      RoomType
	Members   IDSet
	CreatedBy uint64 // 0 for the lobby
	CreatedAt time.Time
}

// NewRoom creates an empty room.
func NewRoom(id uint64, typ RoomType, createdBy uint64, now time.Time) *Room {
	return &Room{
		ID:        id,
		Type:      typ,
		Members:   make(IDSet),
		CreatedBy: createdBy,
		CreatedAt: now,
	}
}

// NewLobby creates the permanent public room.
func NewLobby(now time.Time) *Room {
	return NewRoom(LobbyID, RoomPublic, 0, now)
}

// IsLobby reports whether the room is the permanent lobby.
func (r *Room) IsLobby() bool {
	return r.ID == LobbyID
}

// Empty reports whether the room has no members.
func (r *Room) Empty() bool {
	return len(r.Members) == 0
}
