package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aksenmi/wegrim/pkg/metrics"
)

// client is the hub-facing side of a connection. send must never block; it
// reports false when the connection can no longer accept deliveries.
type client interface {
	ID() string
	send(b []byte) bool
}

// Hub is the room coordination core: it tracks live connections, maps room
// ids to rooms, and routes every join/leave/relay through the owning
// room's serialization point. It never touches durable storage.
type Hub struct {
	log *slog.Logger
	now func() time.Time

	mu       sync.RWMutex
	conns    map[string]client // admitted connections by id
	rooms    map[int64]*Room   // room directory, entries exist only while occupied
	assigned map[string]*Room  // connection id -> the one room it joined
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		log:      logger,
		now:      time.Now,
		conns:    map[string]client{},
		rooms:    map[int64]*Room{},
		assigned: map[string]*Room{},
	}
}

// Run periodically reports hub occupancy until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			rooms, conns := h.Stats()
			h.log.Debug("hub.stats", "rooms", rooms, "conns", conns)
		}
	}
}

// Stats returns the current number of rooms and admitted connections.
func (h *Hub) Stats() (rooms, conns int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms), len(h.conns)
}

// Admit registers a live connection with the hub.
func (h *Hub) Admit(c client) {
	h.mu.Lock()
	h.conns[c.ID()] = c
	h.mu.Unlock()
	metrics.OpenConnections.Inc()
	h.log.Debug("conn.admitted", "connId", c.ID())
}

// Release tears down a connection and cascades into room cleanup.
// Idempotent: graceful and transport-detected disconnects may both land
// here, only the first one acts.
func (h *Hub) Release(c client) {
	h.mu.Lock()
	if _, ok := h.conns[c.ID()]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.ID())
	r := h.assigned[c.ID()]
	delete(h.assigned, c.ID())
	h.mu.Unlock()
	metrics.OpenConnections.Dec()

	if r != nil {
		h.apply(r, r.leave(c.ID()))
	}
	h.log.Debug("conn.released", "connId", c.ID())
}

// Dispatch routes one decoded client event.
func (h *Hub) Dispatch(c client, data []byte) {
	var ev Envelope
	if err := json.Unmarshal(data, &ev); err != nil {
		h.log.Warn("event.malformed", "connId", c.ID(), "err", err)
		return
	}
	switch ev.Type {
	case EvtJoinRoom:
		var info UserInfo
		if ev.UserInfo != nil {
			info = *ev.UserInfo
		}
		h.Join(c, ev.RoomID, info)
	case EvtServerBroadcast:
		// ev.IsOwner is deliberately ignored: ownership is what the room
		// says it is, not what the wire claims.
		h.RelayState(c, ev.RoomID, ev.Elements)
	case EvtSendMessage:
		h.RelayChat(c, ev.RoomID, ev.Message)
	default:
		h.log.Debug("event.unknown", "connId", c.ID(), "type", ev.Type)
	}
}

// Join validates the identity claim and routes it to the room, creating
// the directory entry on an owner's first join.
func (h *Hub) Join(c client, roomID int64, info UserInfo) {
	if roomID <= 0 || strings.TrimSpace(info.Email) == "" || strings.TrimSpace(info.Name) == "" {
		c.send(evInvalidUserInfo("roomId, email and name are required"))
		metrics.RejectedEvents.WithLabelValues("invalid-user-info").Inc()
		return
	}

	// A connection occupies one room at a time. The previous membership
	// ends only once the new room accepts the join, and a re-join of the
	// occupied room is a replacement handled inside the room itself, so a
	// rejected or same-room join never disturbs standing membership.
	h.mu.RLock()
	prev := h.assigned[c.ID()]
	h.mu.RUnlock()

	for {
		r := h.lookupRoom(roomID, info.IsOwner)
		if r == nil {
			// No room and no owner claim: nothing to populate.
			c.send(evRoomClosed(reasonNotOpen))
			metrics.RejectedEvents.WithLabelValues(rejectRoomNotOpen).Inc()
			return
		}

		fx := r.join(c, info)
		if fx.stale {
			continue // the entry vanished under us, look the room up again
		}
		if fx.joined {
			if prev != nil && prev != r {
				h.apply(prev, prev.leave(c.ID()))
			}
			h.mu.Lock()
			h.assigned[c.ID()] = r
			h.mu.Unlock()
		}
		h.apply(r, fx)

		if fx.rejected != "" {
			metrics.RejectedEvents.WithLabelValues(fx.rejected).Inc()
			h.log.Debug("join.rejected", "roomId", roomID, "email", info.Email, "reason", fx.rejected)
		} else {
			metrics.RelayedEvents.WithLabelValues("presence").Inc()
			h.log.Info("room.joined", "roomId", roomID, "email", info.Email, "owner", info.IsOwner)
		}
		return
	}
}

// RelayState forwards an owner's scene payload to the rest of the room.
func (h *Hub) RelayState(c client, roomID int64, elements json.RawMessage) {
	r := h.roomByID(roomID)
	if r == nil {
		c.send(evNotAuthorized(reasonNotMember))
		metrics.RejectedEvents.WithLabelValues(rejectNotMember).Inc()
		return
	}
	fx := r.relayState(c, elements)
	if fx.stale {
		c.send(evNotAuthorized(reasonNotMember))
		metrics.RejectedEvents.WithLabelValues(rejectNotMember).Inc()
		return
	}
	h.apply(r, fx)
	if fx.rejected != "" {
		metrics.RejectedEvents.WithLabelValues(fx.rejected).Inc()
		return
	}
	metrics.RelayedEvents.WithLabelValues("scene").Inc()
}

// RelayChat forwards a member's chat message to the whole room.
func (h *Hub) RelayChat(c client, roomID int64, msg string) {
	r := h.roomByID(roomID)
	if r == nil {
		c.send(evNotAuthorized(reasonNotMember))
		metrics.RejectedEvents.WithLabelValues(rejectNotMember).Inc()
		return
	}
	fx := r.relayChat(c, msg, h.now())
	if fx.stale {
		c.send(evNotAuthorized(reasonNotMember))
		metrics.RejectedEvents.WithLabelValues(rejectNotMember).Inc()
		return
	}
	h.apply(r, fx)
	if fx.rejected != "" {
		metrics.RejectedEvents.WithLabelValues(fx.rejected).Inc()
		return
	}
	metrics.RelayedEvents.WithLabelValues("chat").Inc()
}

// ServeWS handles one /ws connection for its whole lifetime. The read loop
// exiting, for any reason, is the single disconnect trigger.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := Accept(w, r)
	if err != nil {
		h.log.Error("ws.accept", "err", err)
		return
	}

	ctx := r.Context()
	c := NewConn(conn)
	h.Admit(c)
	go c.WriteLoop(ctx)

	for {
		data, ok := c.Read(ctx)
		if !ok {
			break
		}
		h.Dispatch(c, data)
	}

	h.Release(c)
	_ = c.Close()
}

// lookupRoom fetches the directory entry, creating it when an owner claim
// may open the room. Participants never cause creation.
func (h *Hub) lookupRoom(roomID int64, create bool) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[roomID]
	if r != nil {
		return r
	}
	if !create {
		return nil
	}
	r = newRoom(roomID)
	h.rooms[roomID] = r
	metrics.OpenRooms.Inc()
	h.log.Info("room.created", "roomId", roomID)
	return r
}

func (h *Hub) roomByID(roomID int64) *Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomID]
}

// apply folds a room operation's effects back into the registry: evicted
// connections lose their assignment, emptied rooms leave the directory.
func (h *Hub) apply(r *Room, fx effects) {
	if len(fx.removed) == 0 && !fx.emptied {
		return
	}
	h.mu.Lock()
	for _, id := range fx.removed {
		if h.assigned[id] == r {
			delete(h.assigned, id)
		}
	}
	if fx.emptied && h.rooms[r.id] == r {
		delete(h.rooms, r.id)
		metrics.OpenRooms.Dec()
		h.log.Info("room.closed", "roomId", r.id)
	}
	h.mu.Unlock()
}
