package ws

import (
	"encoding/json"
	"time"
)

// Event types carried on the per-connection channel.
const (
	EvtJoinRoom        = "join-room"
	EvtOwnerConnected  = "owner-connected"
	EvtRoomUserList    = "room-user-list"
	EvtRoomClosed      = "room-closed"
	EvtServerBroadcast = "server-broadcast"
	EvtClientBroadcast = "client-broadcast"
	EvtNotAuthorized   = "not-authorized"
	EvtSendMessage     = "send-message"
	EvtReceiveMessage  = "receive-message"
	EvtInvalidUserInfo = "invalid-user-info"
)

// UserInfo is the identity claim a client presents when joining a room.
// The hub checks the fields are present, not that they are true; callers
// are expected to have authenticated already.
type UserInfo struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	IsOwner bool   `json:"isOwner"`
}

// Envelope is one inbound client event. Scene payloads stay raw bytes:
// the hub gates who may send them, never what they contain.
type Envelope struct {
	Type     string          `json:"type"`
	RoomID   int64           `json:"roomId,omitempty"`
	UserInfo *UserInfo       `json:"userInfo,omitempty"`
	Elements json.RawMessage `json:"elements,omitempty"`
	IsOwner  bool            `json:"isOwner,omitempty"` // advisory only, ownership is checked server-side
	Message  string          `json:"message,omitempty"`
}

// Member is one entry of a room-user-list snapshot, in join order.
type Member struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	IsOwner bool   `json:"isOwner"`
}

// serverEvent is the outbound envelope. Fields are sparse per event type.
type serverEvent struct {
	Type      string          `json:"type"`
	Reason    string          `json:"reason,omitempty"`
	Users     []Member        `json:"users,omitempty"`
	Elements  json.RawMessage `json:"elements,omitempty"`
	Message   string          `json:"message,omitempty"`
	User      string          `json:"user,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

func encode(ev serverEvent) []byte {
	b, _ := json.Marshal(ev)
	return b
}

func evOwnerConnected() []byte {
	return encode(serverEvent{Type: EvtOwnerConnected})
}

func evRoomClosed(reason string) []byte {
	return encode(serverEvent{Type: EvtRoomClosed, Reason: reason})
}

func evUserList(users []Member) []byte {
	return encode(serverEvent{Type: EvtRoomUserList, Users: users})
}

func evClientBroadcast(elements json.RawMessage) []byte {
	return encode(serverEvent{Type: EvtClientBroadcast, Elements: elements})
}

func evNotAuthorized(reason string) []byte {
	return encode(serverEvent{Type: EvtNotAuthorized, Reason: reason})
}

func evInvalidUserInfo(reason string) []byte {
	return encode(serverEvent{Type: EvtInvalidUserInfo, Reason: reason})
}

func evReceiveMessage(msg, user string, ts time.Time) []byte {
	return encode(serverEvent{
		Type:      EvtReceiveMessage,
		Message:   msg,
		User:      user,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
	})
}
