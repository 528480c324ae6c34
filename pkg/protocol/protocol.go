// Package protocol decodes inbound relay frames and encodes outbound ones.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	pb "github.com/NicolasHaas/gorelay/pkg/protocol/pb"
)

// MaxFrameSize is the default maximum inbound text frame size (64KB).
const MaxFrameSize = 65536

// CloseCode is an RFC 6455 close status.
type CloseCode int

const (
	CloseNormalClosure       CloseCode = 1000
	CloseGoingAway           CloseCode = 1001
	ClosePolicyViolation     CloseCode = 1008
	CloseUnexpectedCondition CloseCode = 1011
)

func (c CloseCode) String() string {
	switch c {
	case CloseNormalClosure:
		return "normal-closure"
	case CloseGoingAway:
		return "going-away"
	case ClosePolicyViolation:
		return "policy-violation"
	case CloseUnexpectedCondition:
		return "unexpected-condition"
	default:
		return fmt.Sprintf("close-%d", int(c))
	}
}

// Error codes sent in error responses.
const (
	CodeBinaryNotSupported       = "binary-not-supported"
	CodeInvalidJSON              = "invalid-json"
	CodePublicKeyRequired        = "public-key-required"
	CodeInvalidChatPayload       = "invalid-chat-payload"
	CodeInvalidCreateRoomPayload = "invalid-create-room-payload"
	CodeInvalidLeaveRoomPayload  = "invalid-leave-room-payload"
	CodeUnknownMessageType       = "unknown-message-type"
	CodeNotAuthorized            = "not-authorized"
	CodeWrongUserID              = "wrong-user-id"
	CodeChatAccessDenied         = "chat-access-denied"
	CodeChatNotFound             = "chat-not-found"
	CodeAlreadyRegistered        = "already-registered"
	CodeEmptyUsername            = "empty-username"
	CodeEmptyPassword            = "empty-password"
	CodeUsernameBusy             = "username-busy"
	CodeWrongPassword            = "wrong-password"
)

// Error is a request-level failure reported to the client. It never closes
// the connection.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// NewError builds a request error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

var (
	ErrBinaryNotSupported = NewError(CodeBinaryNotSupported, "Use JSON text messages only")
	ErrInvalidJSON        = NewError(CodeInvalidJSON, "Payload must be valid JSON object")
	ErrTypeRequired       = NewError(CodeInvalidJSON, "Field 'type' is required")
	ErrPublicKeyRequired  = NewError(CodePublicKeyRequired, "Field 'public-key' must be string")
	ErrInvalidChat        = NewError(CodeInvalidChatPayload, "user-id, chat-id and message are required")
	ErrInvalidCreateRoom  = NewError(CodeInvalidCreateRoomPayload, "user-id and participant-user-ids are required")
	ErrInvalidLeaveRoom   = NewError(CodeInvalidLeaveRoomPayload, "user-id and chat-id are required")
	ErrUnknownType        = NewError(CodeUnknownMessageType, "Unsupported message type")
	ErrNotAuthorized      = NewError(CodeNotAuthorized, "Register first")
	ErrWrongUserID        = NewError(CodeWrongUserID, "Invalid user-id")
	ErrChatAccessDenied   = NewError(CodeChatAccessDenied, "No access to this chat")
	ErrChatNotFound       = NewError(CodeChatNotFound, "Chat not found")

	ErrAlreadyRegistered = NewError(CodeAlreadyRegistered, "Already registered")
	ErrEmptyUsername     = NewError(CodeEmptyUsername, "Username is empty")
	ErrEmptyPassword     = NewError(CodeEmptyPassword, "Password is empty")
	ErrUsernameBusy      = NewError(CodeUsernameBusy, "There is a user with that name")
	ErrWrongPassword     = NewError(CodeWrongPassword, "Invalid password")
)

// Object is a decoded inbound JSON object, keyed by field name.
type Object map[string]json.RawMessage

// ParseObject decodes a text frame. Anything other than a JSON object fails
// with invalid-json.
func ParseObject(data []byte) (Object, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrInvalidJSON
	}
	var obj Object
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, ErrInvalidJSON
	}
	return obj, nil
}

// Type returns the message discriminator.
func (o Object) Type() (string, error) {
	t, ok := field[string](o, "type")
	if !ok {
		return "", ErrTypeRequired
	}
	return t, nil
}

// field decodes key into T. Missing, null, or wrongly typed values report false.
func field[T any](o Object, key string) (T, bool) {
	var zero T
	raw, ok := o[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return zero, false
	}
	return v, true
}

// The Parse* functions below report only the predefined payload errors.

// ParseRegister extracts a register request. Only public-key is required at
// this layer; username and password are checked by the registration rules.
func ParseRegister(o Object) (pb.RegisterRequest, *Error) {
	key, ok := field[string](o, "public-key")
	if !ok {
		return pb.RegisterRequest{}, ErrPublicKeyRequired
	}
	username, _ := field[string](o, "username")
	password, _ := field[string](o, "password")
	version, _ := field[string](o, "client-version")
	return pb.RegisterRequest{
		Type:          pb.TypeRegister,
		PublicKey:     key,
		Username:      username,
		Password:      password,
		ClientVersion: version,
	}, nil
}

// ParseChatMessage extracts a chat-msg request.
func ParseChatMessage(o Object) (pb.ChatMessageRequest, *Error) {
	userID, okUser := field[uint64](o, "user-id")
	chatID, okChat := field[uint64](o, "chat-id")
	message, okMsg := field[string](o, "message")
	if !okUser || !okChat || !okMsg {
		return pb.ChatMessageRequest{}, ErrInvalidChat
	}
	clientMessageID, _ := field[uint64](o, "client-message-id")
	return pb.ChatMessageRequest{
		Type:            pb.TypeChatMsg,
		UserID:          userID,
		ChatID:          chatID,
		Message:         message,
		ClientMessageID: clientMessageID,
	}, nil
}

// ParseCreateRoom extracts a create-room request. is-private defaults to true.
func ParseCreateRoom(o Object) (pb.CreateRoomRequest, *Error) {
	userID, okUser := field[uint64](o, "user-id")
	participants, okParticipants := field[[]uint64](o, "participant-user-ids")
	if !okUser || !okParticipants {
		return pb.CreateRoomRequest{}, ErrInvalidCreateRoom
	}
	private, ok := field[bool](o, "is-private")
	if !ok {
		private = true
	}
	return pb.CreateRoomRequest{
		Type:               pb.TypeCreateRoom,
		UserID:             userID,
		ParticipantUserIDs: participants,
		IsPrivate:          private,
	}, nil
}

// ParseLeaveRoom extracts a leave-room request.
func ParseLeaveRoom(o Object) (pb.LeaveRoomRequest, *Error) {
	userID, okUser := field[uint64](o, "user-id")
	chatID, okChat := field[uint64](o, "chat-id")
	if !okUser || !okChat {
		return pb.LeaveRoomRequest{}, ErrInvalidLeaveRoom
	}
	return pb.LeaveRoomRequest{
		Type:   pb.TypeLeaveRoom,
		UserID: userID,
		ChatID: chatID,
	}, nil
}

// Encode serializes an outbound message.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal: %w", err)
	}
	return data, nil
}

// ErrorFrame builds the outbound error message for err.
func ErrorFrame(err *Error) pb.ErrorResponse {
	return pb.ErrorResponse{Type: pb.TypeError, Code: err.Code, Message: err.Message}
}
