// Package client implements a relay client over WebSocket.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/gorelay/pkg/protocol"
	pb "github.com/NicolasHaas/gorelay/pkg/protocol/pb"
	"github.com/NicolasHaas/gorelay/pkg/version"
)

const writeTimeout = 10 * time.Second

// Event is one inbound server message.
type Event struct {
	Type string
	Raw  json.RawMessage
}

// Decode unmarshals the event into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Raw, v); err != nil {
		return fmt.Errorf("client: decode %s: %w", e.Type, err)
	}
	return nil
}

// Err returns the request error carried by an error event, or nil.
func (e Event) Err() *protocol.Error {
	if e.Type != pb.TypeError {
		return nil
	}
	var resp pb.ErrorResponse
	if err := json.Unmarshal(e.Raw, &resp); err != nil {
		return protocol.NewError("", string(e.Raw))
	}
	return protocol.NewError(resp.Code, resp.Message)
}

// EventHandler is a callback for inbound events.
type EventHandler func(ev Event)

// ControlClient manages one relay connection.
type ControlClient struct {
	ws      *websocket.Conn
	hello   pb.Hello
	mu      sync.Mutex
	handler EventHandler
	done    chan struct{}

	closeMu  sync.Mutex
	closeErr error
}

// Dial connects to the relay at url (ws://host:port/ws) and reads the hello.
func Dial(ctx context.Context, url string) (*ControlClient, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &ControlClient{ws: ws, done: make(chan struct{})}
	ev, err := c.read()
	if err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("client: read hello: %w", err)
	}
	if ev.Type != pb.TypeHello {
		_ = ws.Close()
		return nil, fmt.Errorf("client: expected hello, got %q", ev.Type)
	}
	if err := ev.Decode(&c.hello); err != nil {
		_ = ws.Close()
		return nil, err
	}
	return c, nil
}

// Hello returns the greeting the server sent on connect.
func (c *ControlClient) Hello() pb.Hello {
	return c.hello
}

// SetEventHandler sets the callback for inbound events. It must be called
// before StartReceiving.
func (c *ControlClient) SetEventHandler(handler EventHandler) {
	c.handler = handler
}

// Send writes a message to the server.
func (c *ControlClient) Send(msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	if err := c.ws.WriteJSON(msg); err != nil {
		return fmt.Errorf("client: send: %w", err)
	}
	return nil
}

// Register sends a register request and waits for the answer. It must be
// called before StartReceiving. A rejection is returned as *protocol.Error.
func (c *ControlClient) Register(username, password, publicKey string) (pb.RegisterResult, error) {
	if err := c.Send(pb.RegisterRequest{
		Type:          pb.TypeRegister,
		PublicKey:     publicKey,
		Username:      username,
		Password:      password,
		ClientVersion: version.String(),
	}); err != nil {
		return pb.RegisterResult{}, err
	}

	ev, err := c.read()
	if err != nil {
		return pb.RegisterResult{}, fmt.Errorf("client: read register response: %w", err)
	}
	if perr := ev.Err(); perr != nil {
		return pb.RegisterResult{}, perr
	}
	if ev.Type != pb.TypeRegisterResult {
		return pb.RegisterResult{}, fmt.Errorf("client: unexpected response type %q", ev.Type)
	}
	var res pb.RegisterResult
	if err := ev.Decode(&res); err != nil {
		return pb.RegisterResult{}, err
	}
	return res, nil
}

// SendChat posts a message to a room. The broadcast, including the echo to
// this client, arrives as a chat-msg event.
func (c *ControlClient) SendChat(userID, chatID uint64, text string, clientMessageID uint64) error {
	return c.Send(pb.ChatMessageRequest{
		Type:            pb.TypeChatMsg,
		UserID:          userID,
		ChatID:          chatID,
		Message:         text,
		ClientMessageID: clientMessageID,
	})
}

// CreateRoom asks for a new room with the given participants.
func (c *ControlClient) CreateRoom(userID uint64, participants []uint64, private bool) error {
	if participants == nil {
		participants = []uint64{}
	}
	return c.Send(pb.CreateRoomRequest{
		Type:               pb.TypeCreateRoom,
		UserID:             userID,
		ParticipantUserIDs: participants,
		IsPrivate:          private,
	})
}

// LeaveRoom leaves a room.
func (c *ControlClient) LeaveRoom(userID, chatID uint64) error {
	return c.Send(pb.LeaveRoomRequest{
		Type:   pb.TypeLeaveRoom,
		UserID: userID,
		ChatID: chatID,
	})
}

// StartReceiving starts a goroutine that reads inbound messages and
// dispatches them to the event handler.
func (c *ControlClient) StartReceiving() {
	go func() {
		defer close(c.done)
		for {
			ev, err := c.read()
			if err != nil {
				c.setCloseErr(err)
				if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					slog.Debug("relay connection closed")
				} else {
					slog.Debug("relay read ended", "err", err)
				}
				return
			}
			if c.handler != nil {
				c.handler(ev)
			}
		}
	}()
}

func (c *ControlClient) read() (Event, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return Event{}, err
	}
	var env pb.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("client: decode frame: %w", err)
	}
	if env.Type == nil {
		return Event{}, errors.New("client: frame without type")
	}
	return Event{Type: *env.Type, Raw: data}, nil
}

func (c *ControlClient) setCloseErr(err error) {
	c.closeMu.Lock()
	c.closeErr = err
	c.closeMu.Unlock()
}

// CloseError returns the close status the server sent, if the connection
// ended with one.
func (c *ControlClient) CloseError() (*websocket.CloseError, bool) {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	var ce *websocket.CloseError
	if errors.As(c.closeErr, &ce) {
		return ce, true
	}
	return nil, false
}

// Close sends a normal close frame and closes the connection.
func (c *ControlClient) Close() error {
	c.mu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.ws.Close()
}

// Done returns a channel that's closed when the connection is lost.
func (c *ControlClient) Done() <-chan struct{} {
	return c.done
}
