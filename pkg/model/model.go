// Package model defines the core domain types for the relay.
package model

import (
	"sort"
	"time"
)

// LobbyID is the permanent public room every registered session joins.
const LobbyID uint64 = 1

// ConnID identifies one live connection.
type ConnID string

// RoomType distinguishes public rooms from private ones.
type RoomType int

const (
	RoomPublic  RoomType = iota // listed, like the lobby
	RoomPrivate                 // created for an explicit participant list
)

func (t RoomType) String() string {
	switch t {
	case RoomPublic:
		return "public"
	case RoomPrivate:
		return "private"
	default:
		return "unknown"
	}
}

// Valid returns true if the type is a recognised value.
func (t RoomType) Valid() bool {
	return t == RoomPublic || t == RoomPrivate
}

// IDSet is a set of numeric user or room ids.
type IDSet map[uint64]struct{}

// Add inserts id into the set.
func (s IDSet) Add(id uint64) { s[id] = struct{}{} }

// Remove deletes id from the set.
func (s IDSet) Remove(id uint64) { delete(s, id) }

// Has reports whether id is in the set.
func (s IDSet) Has(id uint64) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in ascending order.
func (s IDSet) Sorted() []uint64 {
	out := make([]uint64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Message is a chat message accepted for broadcast.
type Message struct {
	ID              uint64 // server-wide sequence number
	RoomID          uint64
	SenderID        uint64
	SenderName      string
	Body            string
	ClientMessageID uint64 // 0 = not supplied
	SentAt          time.Time
}
