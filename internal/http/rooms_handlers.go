package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/aksenmi/wegrim/internal/store"
	"github.com/aksenmi/wegrim/pkg/auth"
)

// RoomStore is the slice of the store the rooms API needs.
type RoomStore interface {
	CreateRoom(ctx context.Context, ownerEmail, name, description string) (store.Room, error)
	ListOwnedRooms(ctx context.Context, ownerEmail string) ([]store.Room, error)
	ListInvitedRooms(ctx context.Context, email string) ([]store.InvitedRoom, error)
	DeleteRoom(ctx context.Context, roomID int64, ownerEmail string) error
	InviteUser(ctx context.Context, roomID int64, email string) error
	ConfirmInvitation(ctx context.Context, roomID int64, email string) error
	RevokeInvitation(ctx context.Context, roomID int64, email string) error
	GetRoomDetail(ctx context.Context, roomID int64) (store.RoomDetail, error)
	SaveScene(ctx context.Context, roomID int64, ownerEmail string, elements, appState []byte) (store.Scene, error)
	GetScene(ctx context.Context, roomID int64) (store.Scene, error)
}

// SceneCache is the read-through cache in front of persisted scenes.
type SceneCache interface {
	Get(ctx context.Context, roomID int64) (store.Scene, bool)
	Put(ctx context.Context, roomID int64, s store.Scene)
	Invalidate(ctx context.Context, roomID int64)
}

type RoomsAPI struct {
	DB     RoomStore
	Scenes SceneCache // optional, nil disables caching
}

type createRoomReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
type inviteReq struct {
	Email string `json:"email"`
}
type saveSceneReq struct {
	Elements json.RawMessage `json:"elements"`
	AppState json.RawMessage `json:"appState"`
}

type roomResp struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Confirmed   *bool     `json:"confirmed,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type roomDetailResp struct {
	roomResp
	Owner     userDTO         `json:"owner"`
	UserCount int             `json:"userCount"`
	UserInfos []userDTO       `json:"userInfos"`
	Elements  json.RawMessage `json:"elements"`
	AppState  json.RawMessage `json:"appState"`
}

func toRoomResp(r store.Room) roomResp {
	return roomResp{
		ID: r.ID, Name: r.Name, Description: r.Description,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

// Create handles new room creation for the authenticated user.
func (a *RoomsAPI) Create(w http.ResponseWriter, r *http.Request) {
	var req createRoomReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "room name is required", http.StatusBadRequest)
		return
	}

	rm, err := a.DB.CreateRoom(r.Context(), auth.UserEmail(r.Context()), req.Name, req.Description)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, toRoomResp(rm))
}

// ListMine returns rooms the user created
func (a *RoomsAPI) ListMine(w http.ResponseWriter, r *http.Request) {
	rooms, err := a.DB.ListOwnedRooms(r.Context(), auth.UserEmail(r.Context()))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	resp := make([]roomResp, 0, len(rooms))
	for _, rm := range rooms {
		resp = append(resp, toRoomResp(rm))
	}
	writeJSON(w, resp)
}

// ListInvited returns rooms the user was invited to, with confirmation state
func (a *RoomsAPI) ListInvited(w http.ResponseWriter, r *http.Request) {
	rooms, err := a.DB.ListInvitedRooms(r.Context(), auth.UserEmail(r.Context()))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	resp := make([]roomResp, 0, len(rooms))
	for _, rm := range rooms {
		rr := toRoomResp(rm.Room)
		confirmed := rm.Confirmed
		rr.Confirmed = &confirmed
		resp = append(resp, rr)
	}
	writeJSON(w, resp)
}

// Delete removes a room; only its creator may
func (a *RoomsAPI) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := roomID(w, r)
	if !ok {
		return
	}
	if err := a.DB.DeleteRoom(r.Context(), id, auth.UserEmail(r.Context())); err != nil {
		writeStoreErr(w, err)
		return
	}
	if a.Scenes != nil {
		a.Scenes.Invalidate(r.Context(), id)
	}
	writeJSON(w, map[string]string{"message": "room deleted"})
}

// Invite adds an unconfirmed invitation for another user
func (a *RoomsAPI) Invite(w http.ResponseWriter, r *http.Request) {
	id, ok := roomID(w, r)
	if !ok {
		return
	}
	var req inviteReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}
	if err := a.DB.InviteUser(r.Context(), id, req.Email); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, map[string]string{"message": "invitation sent"})
}

// Confirm marks the caller's invitation as accepted
func (a *RoomsAPI) Confirm(w http.ResponseWriter, r *http.Request) {
	id, ok := roomID(w, r)
	if !ok {
		return
	}
	if err := a.DB.ConfirmInvitation(r.Context(), id, auth.UserEmail(r.Context())); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, map[string]string{"message": "invitation confirmed"})
}

// Leave drops the caller's invitation to a room
func (a *RoomsAPI) Leave(w http.ResponseWriter, r *http.Request) {
	id, ok := roomID(w, r)
	if !ok {
		return
	}
	if err := a.DB.RevokeInvitation(r.Context(), id, auth.UserEmail(r.Context())); err != nil {
		writeStoreErr(w, err)
		return
	}
	writeJSON(w, map[string]string{"message": "invitation removed"})
}

// Get returns room metadata, the roster, and the latest scene snapshot,
// preferring the cache for the scene payload.
func (a *RoomsAPI) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := roomID(w, r)
	if !ok {
		return
	}
	d, err := a.DB.GetRoomDetail(r.Context(), id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}

	scene := d.Scene
	if a.Scenes != nil {
		if cached, ok := a.Scenes.Get(r.Context(), id); ok {
			scene = cached
		} else {
			a.Scenes.Put(r.Context(), id, scene)
		}
	}

	resp := roomDetailResp{
		roomResp:  toRoomResp(d.Room),
		Owner:     toUserDTO(d.Owner),
		UserCount: len(d.Participants),
		Elements:  scene.Elements,
		AppState:  scene.AppState,
	}
	for _, u := range d.Participants {
		resp.UserInfos = append(resp.UserInfos, toUserDTO(u))
	}
	writeJSON(w, resp)
}

// SaveScene persists a full snapshot from the owning client and refreshes
// the cache. The realtime hub is not involved: this is the out-of-band
// save path.
func (a *RoomsAPI) SaveScene(w http.ResponseWriter, r *http.Request) {
	id, ok := roomID(w, r)
	if !ok {
		return
	}
	var req saveSceneReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	if req.Elements == nil && req.AppState == nil {
		http.Error(w, "elements or appState required", http.StatusBadRequest)
		return
	}

	s, err := a.DB.SaveScene(r.Context(), id, auth.UserEmail(r.Context()), req.Elements, req.AppState)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	if a.Scenes != nil {
		a.Scenes.Put(r.Context(), id, s)
	}
	writeJSON(w, map[string]any{"message": "scene saved", "updatedAt": s.UpdatedAt})
}

// GetScene returns just the latest snapshot, cache first. Clients reload
// this when re-entering a room without needing the full roster.
func (a *RoomsAPI) GetScene(w http.ResponseWriter, r *http.Request) {
	id, ok := roomID(w, r)
	if !ok {
		return
	}
	if a.Scenes != nil {
		if s, ok := a.Scenes.Get(r.Context(), id); ok {
			writeSceneJSON(w, s)
			return
		}
	}
	s, err := a.DB.GetScene(r.Context(), id)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	if a.Scenes != nil {
		a.Scenes.Put(r.Context(), id, s)
	}
	writeSceneJSON(w, s)
}

func writeSceneJSON(w http.ResponseWriter, s store.Scene) {
	writeJSON(w, map[string]any{
		"elements":  s.Elements,
		"appState":  s.AppState,
		"updatedAt": s.UpdatedAt,
	})
}

// roomID pulls the numeric {id} path value, replying 400 when malformed
func roomID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid room id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeStoreErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, store.ErrConflict):
		http.Error(w, "already exists", http.StatusConflict)
	case errors.Is(err, store.ErrForbidden):
		http.Error(w, "not allowed", http.StatusForbidden)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
