package server

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
	pb "github.com/NicolasHaas/gorelay/pkg/protocol/pb"
)

// Coordinator handles room creation, leaving and chat broadcast.
type Coordinator struct {
	st      *State
	metrics *Metrics
	audit   *auditor
	logger  *slog.Logger
}

// CreateRoom creates a room with the requester as first member. Participant
// ids are deduplicated and processed in ascending order; the requester's own
// id and ids that do not resolve to an authorized session are skipped. Each
// added participant is notified with room-created.
func (c *Coordinator) CreateRoom(sess *model.Session, req pb.CreateRoomRequest) (pb.RoomCreated, error) {
	res, err := c.createRoom(sess, req)
	if err != nil {
		return pb.RoomCreated{}, err
	}

	c.metrics.RoomsCreated.Add(1)
	c.logger.Info("room created",
		"room_id", res.ChatID,
		"user_id", sess.UserID,
		"members", len(res.ParticipantUserIDs),
		"private", res.IsPrivate,
	)
	c.audit.record(model.Event{
		Kind:      model.EventRoomCreated,
		ConnID:    sess.ConnID,
		UserID:    sess.UserID,
		Username:  sess.Username,
		RoomID:    res.ChatID,
		CreatedAt: c.st.now(),
	})
	return res, nil
}

func (c *Coordinator) createRoom(sess *model.Session, req pb.CreateRoomRequest) (pb.RoomCreated, error) {
	st := c.st
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.alive(sess) {
		return pb.RoomCreated{}, errSessionGone
	}
	if req.UserID != sess.UserID {
		return pb.RoomCreated{}, protocol.ErrWrongUserID
	}

	candidates := make(model.IDSet, len(req.ParticipantUserIDs))
	for _, id := range req.ParticipantUserIDs {
		candidates.Add(id)
	}
	candidates.Remove(sess.UserID)

	typ := model.RoomPublic
	if req.IsPrivate {
		typ = model.RoomPrivate
	}
	room := st.rooms.create(typ, sess.UserID, st.now())
	st.rooms.join(room, sess)
	members := []uint64{sess.UserID}

	var added []Conn
	for _, id := range candidates.Sorted() {
		peer, ok := st.identities.lookup(id)
		if !ok || !peer.Authorized.Load() {
			continue
		}
		st.rooms.join(room, peer)
		members = append(members, id)
		if conn, ok := st.connOf(id); ok {
			added = append(added, conn)
		}
	}

	res := pb.RoomCreated{
		Type:               pb.TypeRoomCreated,
		Created:            true,
		ChatID:             room.ID,
		ParticipantUserIDs: members,
		IsPrivate:          req.IsPrivate,
	}
	if len(added) > 0 {
		// the room exists at this point; a notice that cannot be encoded is
		// logged rather than undoing it
		frame, err := protocol.Encode(res)
		if err != nil {
			c.logger.Error("encode room notice", "room_id", room.ID, "err", err)
			return res, nil
		}
		for _, conn := range added {
			c.deliver(conn, frame)
		}
	}
	return res, nil
}

// LeaveRoom removes the session from a room. An emptied room other than the
// lobby is deleted.
func (c *Coordinator) LeaveRoom(sess *model.Session, req pb.LeaveRoomRequest) (pb.RoomLeft, error) {
	deleted, err := c.leaveRoom(sess, req)
	if err != nil {
		return pb.RoomLeft{}, err
	}

	c.logger.Info("room left", "room_id", req.ChatID, "user_id", sess.UserID)
	if deleted {
		c.metrics.RoomsDeleted.Add(1)
		c.logger.Info("room deleted", "room_id", req.ChatID, "reason", "last member left")
		c.audit.record(model.Event{
			Kind:      model.EventRoomDeleted,
			ConnID:    sess.ConnID,
			UserID:    sess.UserID,
			Username:  sess.Username,
			RoomID:    req.ChatID,
			CreatedAt: c.st.now(),
		})
	}
	return pb.RoomLeft{
		Type:   pb.TypeRoomLeft,
		Left:   true,
		UserID: sess.UserID,
		ChatID: req.ChatID,
	}, nil
}

func (c *Coordinator) leaveRoom(sess *model.Session, req pb.LeaveRoomRequest) (bool, error) {
	st := c.st
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.alive(sess) {
		return false, errSessionGone
	}
	if req.UserID != sess.UserID {
		return false, protocol.ErrWrongUserID
	}
	room, ok := st.rooms.get(req.ChatID)
	if !ok {
		return false, protocol.ErrChatNotFound
	}
	if !sess.Rooms.Has(req.ChatID) {
		return false, protocol.ErrChatAccessDenied
	}
	return st.rooms.leave(room, sess), nil
}

// SendMessage assigns the next server message id and broadcasts the message
// to every member of the room, sender included. The counter only advances
// when the broadcast happens.
func (c *Coordinator) SendMessage(sess *model.Session, req pb.ChatMessageRequest) (model.Message, error) {
	msg, err := c.sendMessage(sess, req)
	if err != nil {
		return model.Message{}, err
	}
	c.metrics.ChatMessages.Add(1)
	c.logger.Debug("chat message", "room_id", msg.RoomID, "user_id", msg.SenderID, "server_message_id", msg.ID)
	return msg, nil
}

func (c *Coordinator) sendMessage(sess *model.Session, req pb.ChatMessageRequest) (model.Message, error) {
	st := c.st
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.alive(sess) {
		return model.Message{}, errSessionGone
	}
	if req.UserID != sess.UserID {
		return model.Message{}, protocol.ErrWrongUserID
	}
	if !sess.Rooms.Has(req.ChatID) {
		return model.Message{}, protocol.ErrChatAccessDenied
	}
	room, ok := st.rooms.get(req.ChatID)
	if !ok {
		return model.Message{}, protocol.ErrChatNotFound
	}

	msg := model.Message{
		ID:              st.nextMessageID,
		RoomID:          room.ID,
		SenderID:        sess.UserID,
		SenderName:      sess.Username,
		Body:            req.Message,
		ClientMessageID: req.ClientMessageID,
		SentAt:          st.now(),
	}
	frame, echo, err := encodeChat(msg)
	if err != nil {
		return model.Message{}, err
	}
	st.nextMessageID++

	for _, id := range room.Members.Sorted() {
		conn, ok := st.connOf(id)
		if !ok {
			continue
		}
		if id == sess.UserID {
			c.deliver(conn, echo)
		} else {
			c.deliver(conn, frame)
		}
	}
	return msg, nil
}

// encodeChat returns the frame for other members and the sender's echo,
// which additionally carries the client message id when one was supplied.
func encodeChat(msg model.Message) (frame, echo []byte, err error) {
	payload := pb.ChatMessage{
		Type:            pb.TypeChatMsg,
		UserID:          msg.SenderID,
		Username:        msg.SenderName,
		ChatID:          msg.RoomID,
		Message:         msg.Body,
		ServerMessageID: msg.ID,
	}
	if frame, err = protocol.Encode(payload); err != nil {
		return nil, nil, fmt.Errorf("server: encode chat: %w", err)
	}
	if msg.ClientMessageID == 0 {
		return frame, frame, nil
	}
	payload.ClientMessageID = msg.ClientMessageID
	if echo, err = protocol.Encode(payload); err != nil {
		return nil, nil, fmt.Errorf("server: encode chat: %w", err)
	}
	return frame, echo, nil
}

// deliver enqueues frame on conn. A failed send never affects other
// recipients. Caller holds the state lock.
func (c *Coordinator) deliver(conn Conn, frame []byte) {
	err := conn.Send(frame)
	switch {
	case err == nil:
	case errors.Is(err, ErrSendQueueFull):
		c.metrics.FramesDropped.Add(1)
		c.logger.Warn("frame dropped", "conn", conn.ID(), "reason", "send queue full")
	default:
		c.logger.Debug("send failed", "conn", conn.ID(), "err", err)
	}
}
