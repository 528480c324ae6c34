package server

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/NicolasHaas/gorelay/pkg/gate"
	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
	pb "github.com/NicolasHaas/gorelay/pkg/protocol/pb"
)

// Dispatcher routes inbound frames to the registrar and the coordinator.
type Dispatcher struct {
	sessions  *SessionManager
	registrar *Registrar
	rooms     *Coordinator
	metrics   *Metrics
	logger    *slog.Logger
}

// HandleFrame processes one inbound frame from conn. Request errors are
// answered with an error message and never close the connection. A panic
// closes only this connection with unexpected-condition.
func (d *Dispatcher) HandleFrame(conn Conn, kind FrameKind, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.RequestPanics.Add(1)
			d.logger.Error("request panic", "conn", conn.ID(), "panic", r, "stack", string(debug.Stack()))
			d.fail(conn)
		}
	}()

	if kind == FrameBinary {
		d.reject(conn, protocol.ErrBinaryNotSupported)
		return
	}

	sess, ok := d.sessions.Lookup(conn.ID())
	if !ok {
		_ = conn.Close(protocol.ClosePolicyViolation, "unknown connection")
		return
	}
	if sess.Closing.Load() {
		_ = conn.Close(protocol.CloseGoingAway, "closing")
		return
	}

	obj, err := protocol.ParseObject(data)
	if err != nil {
		d.reject(conn, protocol.ErrInvalidJSON)
		return
	}
	typ, err := obj.Type()
	if err != nil {
		d.reject(conn, protocol.ErrTypeRequired)
		return
	}

	state := gate.StateConnected
	if sess.Authorized.Load() {
		state = gate.StateAuthorized
	}
	if perr := gate.Check(state, typ); perr != nil {
		d.reject(conn, perr)
		return
	}

	var resp any
	switch typ {
	case pb.TypeRegister:
		req, perr := protocol.ParseRegister(obj)
		if perr != nil {
			d.reject(conn, perr)
			return
		}
		resp, err = d.registrar.Register(sess, req)
	case pb.TypeChatMsg:
		req, perr := protocol.ParseChatMessage(obj)
		if perr != nil {
			d.reject(conn, perr)
			return
		}
		// chat messages are delivered by the broadcast, sender included
		_, err = d.rooms.SendMessage(sess, req)
	case pb.TypeCreateRoom:
		req, perr := protocol.ParseCreateRoom(obj)
		if perr != nil {
			d.reject(conn, perr)
			return
		}
		resp, err = d.rooms.CreateRoom(sess, req)
	case pb.TypeLeaveRoom:
		req, perr := protocol.ParseLeaveRoom(obj)
		if perr != nil {
			d.reject(conn, perr)
			return
		}
		resp, err = d.rooms.LeaveRoom(sess, req)
	default:
		// gate.Check admits only the types above
		err = fmt.Errorf("server: no handler for %q", typ)
	}

	d.finish(conn, sess, typ, resp, err)
}

func (d *Dispatcher) finish(conn Conn, sess *model.Session, typ string, resp any, err error) {
	var perr *protocol.Error
	switch {
	case err == nil:
		if resp != nil {
			d.reply(conn, resp)
		}
	case errors.As(err, &perr):
		d.logger.Debug("request rejected", "conn", conn.ID(), "user_id", sess.UserID, "type", typ, "code", perr.Code)
		d.reject(conn, perr)
	case errors.Is(err, errSessionGone):
	default:
		d.logger.Error("request failed", "conn", conn.ID(), "type", typ, "err", err)
		d.fail(conn)
	}
}

// reply encodes and enqueues a response for conn.
func (d *Dispatcher) reply(conn Conn, msg any) {
	frame, err := protocol.Encode(msg)
	if err != nil {
		d.logger.Error("encode response", "conn", conn.ID(), "err", err)
		d.fail(conn)
		return
	}
	if err := conn.Send(frame); err != nil {
		if errors.Is(err, ErrSendQueueFull) {
			d.metrics.FramesDropped.Add(1)
			d.logger.Warn("frame dropped", "conn", conn.ID(), "reason", "send queue full")
			return
		}
		d.logger.Debug("send failed", "conn", conn.ID(), "err", err)
	}
}

func (d *Dispatcher) reject(conn Conn, perr *protocol.Error) {
	d.metrics.RequestsRejected.Add(1)
	d.reply(conn, protocol.ErrorFrame(perr))
}

// fail closes conn with unexpected-condition. The session is marked closing
// so that anything still in flight is refused.
func (d *Dispatcher) fail(conn Conn) {
	d.sessions.MarkClosing(conn.ID())
	_ = conn.Close(protocol.CloseUnexpectedCondition, "internal error")
}
