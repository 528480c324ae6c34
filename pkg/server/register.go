package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/NicolasHaas/gorelay/pkg/model"
	"github.com/NicolasHaas/gorelay/pkg/protocol"
	pb "github.com/NicolasHaas/gorelay/pkg/protocol/pb"
)

// Registrar validates and commits a connection's identity claim.
type Registrar struct {
	ctx             context.Context // cancelled on shutdown
	st              *State
	serverName      string
	serverPublicKey string
	digest          func(password string) (hash, salt []byte, err error)
	verify          func(password string, hash, salt []byte) bool
	digests         *semaphore.Weighted // bounds concurrent password digests
	metrics         *Metrics
	audit           *auditor
	logger          *slog.Logger
}

// Register applies the registration rules in order: already-registered,
// empty-username, empty-password, username-busy, wrong-password. On success
// the session gets the next user id and joins the lobby.
//
// The rules are checked once under the state lock before the password digest
// is computed, so a request that is bound to fail never hashes. Digests run
// outside the lock, at most MaxConcurrentDigests at a time; the rule checks
// and the commit then run again as one atomic unit.
func (r *Registrar) Register(sess *model.Session, req pb.RegisterRequest) (pb.RegisterResult, error) {
	res, err := r.register(sess, req)
	var perr *protocol.Error
	switch {
	case errors.As(err, &perr):
		r.metrics.RegistrationsFailed.Add(1)
		r.logger.Debug("registration rejected", "conn", sess.ConnID, "username", req.Username, "code", perr.Code)
		return pb.RegisterResult{}, err
	case err != nil:
		return pb.RegisterResult{}, err
	}

	r.metrics.RegistrationsOK.Add(1)
	r.logger.Info("registration committed",
		"conn", sess.ConnID,
		"user_id", res.UserID,
		"username", req.Username,
		"client_version", req.ClientVersion,
	)
	r.audit.record(model.Event{
		Kind:      model.EventSessionRegistered,
		ConnID:    sess.ConnID,
		UserID:    res.UserID,
		Username:  req.Username,
		CreatedAt: r.st.now(),
	})
	return res, nil
}

func (r *Registrar) register(sess *model.Session, req pb.RegisterRequest) (pb.RegisterResult, error) {
	if err := r.precheck(sess, req); err != nil {
		return pb.RegisterResult{}, err
	}

	if err := r.digests.Acquire(r.ctx, 1); err != nil {
		return pb.RegisterResult{}, fmt.Errorf("server: register: wait for digest slot: %w", err)
	}
	hash, salt, err := r.digest(req.Password)
	r.digests.Release(1)
	if err != nil {
		return pb.RegisterResult{}, fmt.Errorf("server: register: %w", err)
	}

	return r.commit(sess, req, hash, salt)
}

// precheck runs the rules that need no digest.
func (r *Registrar) precheck(sess *model.Session, req pb.RegisterRequest) error {
	st := r.st
	st.mu.Lock()
	defer st.mu.Unlock()
	return r.checkRules(sess, req)
}

// checkRules applies every rule except wrong-password. Caller holds the
// state lock.
func (r *Registrar) checkRules(sess *model.Session, req pb.RegisterRequest) error {
	st := r.st
	if !st.alive(sess) || sess.Closing.Load() {
		return errSessionGone
	}
	if sess.Authorized.Load() {
		return protocol.ErrAlreadyRegistered
	}
	if req.Username == "" {
		return protocol.ErrEmptyUsername
	}
	if req.Password == "" {
		return protocol.ErrEmptyPassword
	}
	if _, busy := st.identities.nameHolder(req.Username, sess); busy {
		return protocol.ErrUsernameBusy
	}
	return nil
}

func (r *Registrar) commit(sess *model.Session, req pb.RegisterRequest, hash, salt []byte) (pb.RegisterResult, error) {
	st := r.st
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := r.checkRules(sess, req); err != nil {
		return pb.RegisterResult{}, err
	}
	if sess.HasPassword() && !r.verify(req.Password, sess.PasswordHash, sess.PasswordSalt) {
		return pb.RegisterResult{}, protocol.ErrWrongPassword
	}

	sess.Username = req.Username
	sess.PasswordHash = hash
	sess.PasswordSalt = salt
	sess.PublicKey = req.PublicKey
	sess.ClientVersion = req.ClientVersion
	userID := st.identities.assign(sess)
	sess.Authorized.Store(true)
	if lobby, ok := st.rooms.get(model.LobbyID); ok {
		st.rooms.join(lobby, sess)
	}

	return pb.RegisterResult{
		Type:            pb.TypeRegisterResult,
		Registered:      true,
		UserID:          userID,
		ServerPublicKey: r.serverPublicKey,
		UsersChats:      sess.Rooms.Sorted(),
		ServerName:      r.serverName,
		ProtocolVersion: pb.ProtocolVersion,
	}, nil
}
