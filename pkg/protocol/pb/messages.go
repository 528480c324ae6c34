// Package pb defines the JSON wire messages exchanged over the relay socket.
//
// Field names are part of the wire contract and are spelled in kebab-case.
package pb

// Message types.
const (
	TypeRegister       = "register"
	TypeRegisterResult = "register-result"
	TypeHello          = "hello"
	TypeError          = "error"
	TypeChatMsg        = "chat-msg"
	TypeCreateRoom     = "create-room"
	TypeRoomCreated    = "room-created"
	TypeLeaveRoom      = "leave-room"
	TypeRoomLeft       = "room-left"
)

// ProtocolVersion is reported in register-result.
const ProtocolVersion = "1.0"

// Envelope carries only the discriminator of an inbound message.
type Envelope struct {
	Type *string `json:"type"`
}

// ----- Client -> Server -----

type RegisterRequest struct {
	Type          string `json:"type"`
	PublicKey     string `json:"public-key"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
	ClientVersion string `json:"client-version,omitempty"`
}

type ChatMessageRequest struct {
	Type            string `json:"type"`
	UserID          uint64 `json:"user-id"`
	ChatID          uint64 `json:"chat-id"`
	Message         string `json:"message"`
	ClientMessageID uint64 `json:"client-message-id,omitempty"`
}

type CreateRoomRequest struct {
	Type               string   `json:"type"`
	UserID             uint64   `json:"user-id"`
	ParticipantUserIDs []uint64 `json:"participant-user-ids"`
	IsPrivate          bool     `json:"is-private"`
}

type LeaveRoomRequest struct {
	Type   string `json:"type"`
	UserID uint64 `json:"user-id"`
	ChatID uint64 `json:"chat-id"`
}

// ----- Server -> Client -----

type Hello struct {
	Type                       string `json:"type"`
	Authorized                 bool   `json:"authorized"`
	RegistrationTimeoutSeconds uint32 `json:"registration-timeout-seconds"`
	ServerName                 string `json:"server-name"`
}

type RegisterResult struct {
	Type            string   `json:"type"`
	Registered      bool     `json:"registered"`
	UserID          uint64   `json:"user-id"`
	ServerPublicKey string   `json:"server-public-key"`
	UsersChats      []uint64 `json:"users-chats"`
	ServerName      string   `json:"server-name"`
	ProtocolVersion string   `json:"protocol-version"`
}

type ErrorResponse struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ChatMessage struct {
	Type            string `json:"type"`
	UserID          uint64 `json:"user-id"`
	Username        string `json:"username"`
	ChatID          uint64 `json:"chat-id"`
	Message         string `json:"message"`
	ServerMessageID uint64 `json:"server-message-id"`
	ClientMessageID uint64 `json:"client-message-id,omitempty"`
}

type RoomCreated struct {
	Type               string   `json:"type"`
	Created            bool     `json:"created"`
	ChatID             uint64   `json:"chat-id"`
	ParticipantUserIDs []uint64 `json:"participant-user-ids"`
	IsPrivate          bool     `json:"is-private"`
}

type RoomLeft struct {
	Type   string `json:"type"`
	Left   bool   `json:"left"`
	UserID uint64 `json:"user-id"`
	ChatID uint64 `json:"chat-id"`
}

// ServerInfo is the body of the informational status endpoint.
type ServerInfo struct {
	Alive      bool   `json:"alive"`
	ServerName string `json:"server-name"`
	Version    string `json:"version"`
}
