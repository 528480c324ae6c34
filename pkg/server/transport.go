package server

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
	pb "github.com/NicolasHaas/gorelay/pkg/protocol/pb"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// wsConn is a Conn over a gorilla WebSocket. Frames are written by a single
// writer goroutine draining the send queue.
type wsConn struct {
	id           model.ConnID
	ws           *websocket.Conn
	send         chan []byte
	done         chan struct{}
	writeTimeout time.Duration
	logger       *slog.Logger

	closeOnce   sync.Once
	closeCode   protocol.CloseCode
	closeReason string
}

func newWSConn(ws *websocket.Conn, queueSize int, writeTimeout time.Duration, logger *slog.Logger) *wsConn {
	return &wsConn{
		id:           model.ConnID(uuid.NewString()),
		ws:           ws,
		send:         make(chan []byte, queueSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

func (c *wsConn) ID() model.ConnID { return c.id }

// Send enqueues frame without blocking.
func (c *wsConn) Send(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close asks the writer to flush queued frames, send a close frame with code
// and reason, and close the socket. Only the first call takes effect.
func (c *wsConn) Close(code protocol.CloseCode, reason string) error {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
	return nil
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				c.logger.Debug("write failed", "conn", c.id, "err", err)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Debug("ping failed", "conn", c.id, "err", err)
				return
			}
		case <-c.done:
			c.flush()
			msg := websocket.FormatCloseMessage(int(c.closeCode), c.closeReason)
			if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout)); err != nil &&
				!errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Debug("close frame failed", "conn", c.id, "err", err)
			}
			return
		}
	}
}

// flush writes frames that were queued before Close.
func (c *wsConn) flush() {
	for {
		select {
		case frame := <-c.send:
			if err := c.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *wsConn) write(frame []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// readPump feeds inbound frames to the dispatcher in arrival order until the
// socket fails or closes.
func (c *wsConn) readPump(d *Dispatcher, maxFrame int64) {
	c.ws.SetReadLimit(maxFrame)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("read failed", "conn", c.id, "err", err)
			}
			return
		}
		kind := FrameText
		if mt == websocket.BinaryMessage {
			kind = FrameBinary
		}
		d.HandleFrame(c, kind, data)
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

// handleWS upgrades the request and runs the connection until it closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	conn := newWSConn(ws, s.cfg.SendQueueSize, s.cfg.WriteTimeout, s.logger)
	go conn.writePump()

	if _, err := s.sessions.Open(conn); err != nil {
		s.logger.Error("open session", "conn", conn.ID(), "err", err)
		_ = conn.Close(protocol.CloseUnexpectedCondition, "internal error")
		return
	}
	s.dispatcher.reply(conn, pb.Hello{
		Type:                       pb.TypeHello,
		Authorized:                 false,
		RegistrationTimeoutSeconds: uint32(s.cfg.RegistrationTimeout / time.Second),
		ServerName:                 s.cfg.ServerName,
	})

	conn.readPump(s.dispatcher, s.cfg.MaxFrameBytes)

	s.sessions.Close(conn.ID())
	_ = conn.Close(protocol.CloseNormalClosure, "")
}
