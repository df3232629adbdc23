package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID        int64
	Email     string
	Name      string
	AvatarURL string
	CreatedAt time.Time
}

type Room struct {
	ID          int64
	OwnerID     int64
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// InvitedRoom is a room seen through an invitation.
type InvitedRoom struct {
	Room
	Confirmed bool
}

// Scene is the latest whiteboard snapshot of a room, saved out-of-band by
// the owner's client. Payloads are opaque to the server.
type Scene struct {
	Elements  json.RawMessage
	AppState  json.RawMessage
	UpdatedAt time.Time
}

// RoomDetail bundles what a client needs to render the room page.
type RoomDetail struct {
	Room
	Owner        User
	Participants []User // invited users, owner included once
	Scene        Scene
}
