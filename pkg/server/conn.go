package server

import (
	"errors"

	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
)

var (
	ErrSendQueueFull = errors.New("server: send queue full")
	ErrConnClosed    = errors.New("server: connection closed")

	// errSessionGone reports that the session closed while a request was in
	// flight. Nothing is sent back.
	errSessionGone = errors.New("server: session gone")
)

// FrameKind distinguishes text frames from binary ones.
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameBinary
)

// Conn is the outbound side of one client connection.
//
// Send must not block: it enqueues the frame or fails with ErrSendQueueFull.
// It is called while the state lock is held. Close may be called more than
// once and from any goroutine; only the first call takes effect.
type Conn interface {
	ID() model.ConnID
	Send(frame []byte) error
	Close(code protocol.CloseCode, reason string) error
}
