// Package gate decides which request types a connection may issue in each
// lifecycle state.
package gate

import (
	"github.com/NicolasHaas/gorelay/pkg/protocol"
	pb "github.com/NicolasHaas/gorelay/pkg/protocol/pb"
)

// State is the lifecycle position of a connection as seen by the dispatcher.
// Closing connections are turned away before the gate is consulted.
type State int

const (
	StateConnected  State = iota // open, not yet registered
	StateAuthorized              // registration committed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// allowMatrix maps states to the request types they may issue.
var allowMatrix = map[State]map[string]bool{
	StateConnected: {
		pb.TypeRegister: true,
	},
	StateAuthorized: {
		// register stays routable so the registrar can answer already-registered
		pb.TypeRegister:   true,
		pb.TypeChatMsg:    true,
		pb.TypeCreateRoom: true,
		pb.TypeLeaveRoom:  true,
	},
}

// Allowed reports whether msgType may be processed in state.
func Allowed(state State, msgType string) bool {
	types, ok := allowMatrix[state]
	if !ok {
		return false
	}
	return types[msgType]
}

// Known reports whether msgType is any inbound request type.
func Known(msgType string) bool {
	return allowMatrix[StateAuthorized][msgType]
}

// Check returns the error to report for msgType in state, or nil when it may
// proceed. Before registration every other type is not-authorized, known or
// not. Closing connections are handled by the caller and never reach here.
func Check(state State, msgType string) *protocol.Error {
	if Allowed(state, msgType) {
		return nil
	}
	if state == StateConnected {
		return protocol.ErrNotAuthorized
	}
	if !Known(msgType) {
		return protocol.ErrUnknownType
	}
	return protocol.ErrNotAuthorized
}
