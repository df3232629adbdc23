package ws

import (
	"encoding/json"
	"sync"
	"time"
)

// Rejection reasons, sent to clients and used as metric labels.
const (
	reasonNotOpen       = "room is not open"
	reasonOwnerGone     = "owner disconnected"
	reasonOwnerHeld     = "room already has an owner"
	reasonNotOwner      = "only the room owner can update the scene"
	reasonNotMember     = "not a member of this room"
	rejectRoomNotOpen   = "room-not-open"
	rejectOwnerConflict = "owner-conflict"
	rejectNotAuthorized = "not-authorized"
	rejectNotMember     = "not-a-member"
)

type member struct {
	c       client
	email   string
	name    string
	isOwner bool
}

// Room holds the live membership of one collaboration session. mu
// serializes every operation on the room; operations on different rooms
// never contend. The hub owns the directory entry, the room owns the
// membership set.
type Room struct {
	id int64

	mu      sync.Mutex
	members []*member // join order, at most one entry per email
	dead    []*member // members whose last delivery failed, pending removal
	closed  bool      // set once the room must leave the directory
}

// effects reports what registry bookkeeping an operation caused. The hub
// applies it after the room lock is released, which keeps the lock order
// hub -> room in every code path.
type effects struct {
	stale    bool     // the room was deleted mid-lookup, retry through the hub
	joined   bool     // the caller became a member
	relayed  bool     // a payload was fanned out
	removed  []string // connection ids that are no longer members
	emptied  bool     // no members remain, drop the directory entry
	rejected string   // rejection label, empty on success
}

func newRoom(id int64) *Room { return &Room{id: id} }

// join admits or rejects an identity claim, maintaining the single-owner
// invariant and the one-entry-per-email rule.
func (r *Room) join(c client, info UserInfo) effects {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fx effects
	if r.closed {
		fx.stale = true
		return fx
	}

	if info.IsOwner {
		if cur := r.currentOwner(); cur != nil && cur.email != info.Email {
			c.send(evNotAuthorized(reasonOwnerHeld))
			fx.rejected = rejectOwnerConflict
			return fx
		}
	} else if r.currentOwner() == nil {
		// Participants never observe a room before its owner is present.
		c.send(evRoomClosed(reasonNotOpen))
		fx.rejected = rejectRoomNotOpen
		return fx
	}

	// A later join under the same email replaces the earlier entry.
	displacedOwner := false
	if old := r.removeByEmail(info.Email); old != nil {
		if old.c.ID() != c.ID() {
			fx.removed = append(fx.removed, old.c.ID())
		}
		displacedOwner = old.isOwner && !info.IsOwner
	}

	if info.IsOwner {
		// Members already waiting learn the owner has arrived. The owner
		// itself is appended below and never sees this.
		r.broadcast(evOwnerConnected(), c.ID())
	}
	r.members = append(r.members, &member{c: c, email: info.Email, name: info.Name, isOwner: info.IsOwner})
	fx.joined = true

	if displacedOwner {
		// The owner's email rejoined without the owner claim, so no owner
		// remains. A room has no meaning without its owner.
		r.close(reasonOwnerGone, &fx)
		return fx
	}

	r.publishPresence()
	r.settle(&fx)
	return fx
}

// leave removes a member by connection id. An owner departure closes the
// room and evicts everyone left in it.
func (r *Room) leave(connID string) effects {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fx effects
	if r.closed {
		return fx
	}
	i, m := r.findByID(connID)
	if m == nil {
		return fx
	}
	r.members = append(r.members[:i], r.members[i+1:]...)
	fx.removed = append(fx.removed, connID)

	if m.isOwner {
		r.close(reasonOwnerGone, &fx)
		return fx
	}
	if len(r.members) > 0 {
		r.publishPresence()
	}
	r.settle(&fx)
	return fx
}

// relayState fans an opaque scene payload out to every member except the
// sender. Only the current owner may send one.
func (r *Room) relayState(c client, elements json.RawMessage) effects {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fx effects
	if r.closed {
		fx.stale = true
		return fx
	}
	_, m := r.findByID(c.ID())
	if m == nil || !m.isOwner {
		c.send(evNotAuthorized(reasonNotOwner))
		fx.rejected = rejectNotAuthorized
		return fx
	}

	r.broadcast(evClientBroadcast(elements), c.ID())
	fx.relayed = true
	r.settle(&fx)
	return fx
}

// relayChat fans a chat message out to every member, the sender included,
// stamped with the server clock and the sender's registered name.
func (r *Room) relayChat(c client, msg string, ts time.Time) effects {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fx effects
	if r.closed {
		fx.stale = true
		return fx
	}
	_, m := r.findByID(c.ID())
	if m == nil {
		c.send(evNotAuthorized(reasonNotMember))
		fx.rejected = rejectNotMember
		return fx
	}

	r.broadcast(evReceiveMessage(msg, m.name, ts), "")
	fx.relayed = true
	r.settle(&fx)
	return fx
}

// currentOwner returns the owner member, nil when the room is awaiting one.
func (r *Room) currentOwner() *member {
	for _, m := range r.members {
		if m.isOwner {
			return m
		}
	}
	return nil
}

func (r *Room) findByID(connID string) (int, *member) {
	for i, m := range r.members {
		if m.c.ID() == connID {
			return i, m
		}
	}
	return -1, nil
}

func (r *Room) removeByEmail(email string) *member {
	for i, m := range r.members {
		if m.email == email {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return m
		}
	}
	return nil
}

// broadcast enqueues b to every member except exceptID. A failed enqueue
// marks the member dead; it is removed once the current operation settles,
// without aborting delivery to anyone else.
func (r *Room) broadcast(b []byte, exceptID string) {
	for _, m := range r.members {
		if m.c.ID() == exceptID {
			continue
		}
		if !m.c.send(b) {
			r.dead = append(r.dead, m)
		}
	}
}

func (r *Room) snapshot() []Member {
	out := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, Member{ID: m.c.ID(), Email: m.email, Name: m.name, IsOwner: m.isOwner})
	}
	return out
}

// publishPresence sends the full member list to every member. Snapshots,
// not diffs: duplicate delivery is harmless.
func (r *Room) publishPresence() {
	r.broadcast(evUserList(r.snapshot()), "")
}

// close evicts every remaining member with a room-closed notice and marks
// the room for removal from the directory.
func (r *Room) close(reason string, fx *effects) {
	b := evRoomClosed(reason)
	for _, m := range r.members {
		m.c.send(b) // best effort, the member is evicted either way
		fx.removed = append(fx.removed, m.c.ID())
	}
	r.members = nil
	r.dead = nil
	r.closed = true
	fx.emptied = true
}

// settle treats each failed delivery as an implicit leave and repeats
// until deliveries stop failing, then decides whether the room is empty.
func (r *Room) settle(fx *effects) {
	for len(r.dead) > 0 && !r.closed {
		dead := r.dead
		r.dead = nil
		for _, m := range dead {
			r.drop(m, fx)
		}
	}
	if !r.closed && len(r.members) == 0 {
		r.closed = true
		fx.emptied = true
	}
}

// drop performs an implicit leave for a member whose transport failed.
func (r *Room) drop(m *member, fx *effects) {
	if r.closed {
		return
	}
	i, cur := r.findByID(m.c.ID())
	if cur == nil {
		return
	}
	r.members = append(r.members[:i], r.members[i+1:]...)
	fx.removed = append(fx.removed, m.c.ID())

	if m.isOwner {
		r.close(reasonOwnerGone, fx)
		return
	}
	if len(r.members) > 0 {
		r.publishPresence()
	}
}
