package server

import "github.com/NicolasHaas/gorelay/pkg/model"

// IdentityDirectory maps assigned user ids to live sessions.
// All methods require the State lock.
type IdentityDirectory struct {
	byUser     map[uint64]*model.Session
	nextUserID uint64
}

func newIdentityDirectory() IdentityDirectory {
	return IdentityDirectory{
		byUser:     make(map[uint64]*model.Session),
		nextUserID: 1,
	}
}

// assign gives sess the next user id and indexes it. Ids are never reused.
func (d *IdentityDirectory) assign(sess *model.Session) uint64 {
	id := d.nextUserID
	d.nextUserID++
	sess.UserID = id
	d.byUser[id] = sess
	return id
}

// lookup returns the session holding id.
func (d *IdentityDirectory) lookup(id uint64) (*model.Session, bool) {
	sess, ok := d.byUser[id]
	return sess, ok
}

// remove drops id from the directory.
func (d *IdentityDirectory) remove(id uint64) {
	delete(d.byUser, id)
}

// nameHolder returns the authorized session other than self that holds
// username, if any.
func (d *IdentityDirectory) nameHolder(username string, self *model.Session) (*model.Session, bool) {
	for _, sess := range d.byUser {
		if sess == self || !sess.Authorized.Load() {
			continue
		}
		if sess.Username == username {
			return sess, true
		}
	}
	return nil, false
}

// Count returns how many ids are currently assigned to live sessions.
func (d *IdentityDirectory) Count() int {
	return len(d.byUser)
}
