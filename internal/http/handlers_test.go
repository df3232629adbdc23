package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aksenmi/wegrim/internal/app"
	"github.com/aksenmi/wegrim/internal/store"
	"github.com/aksenmi/wegrim/pkg/auth"
)

func appConfigForTest() app.Config {
	return app.Config{JWTSecret: "test-secret", CORSAllow: []string{"*"}}
}

type mockUserStore struct {
	users     map[string]store.User
	createErr error // returned verbatim from CreateUser when set
}

func (m *mockUserStore) CreateUser(_ context.Context, email, name, _ string) (store.User, error) {
	if m.createErr != nil {
		return store.User{}, m.createErr
	}
	if _, ok := m.users[email]; ok {
		return store.User{}, store.ErrConflict
	}
	u := store.User{ID: int64(len(m.users) + 1), Email: email, Name: name}
	m.users[email] = u
	return u, nil
}

func (m *mockUserStore) VerifyUser(_ context.Context, email, password string) (store.User, error) {
	u, ok := m.users[email]
	if !ok || password != "correct-horse" {
		return store.User{}, errors.New("invalid credentials")
	}
	return u, nil
}

func (m *mockUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	u, ok := m.users[email]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m *mockUserStore) UpdateProfile(_ context.Context, email, name, avatarURL string) (store.User, error) {
	u, ok := m.users[email]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	u.Name, u.AvatarURL = name, avatarURL
	m.users[email] = u
	return u, nil
}

func TestAuthAPI_RegisterAndLogin(t *testing.T) {
	api := &AuthAPI{DB: &mockUserStore{users: map[string]store.User{}}, JWT: auth.New("test-secret")}

	body := `{"email":"u@x.com","name":"uma","password":"correct-horse"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	api.Register(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp tokenResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Token)
	assert.Equal(t, "u@x.com", resp.User.Email)

	// Duplicate registration conflicts.
	rec = httptest.NewRecorder()
	api.Register(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Login succeeds with the right password only.
	rec = httptest.NewRecorder()
	api.Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"u@x.com","password":"correct-horse"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	api.Login(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"u@x.com","password":"wrong"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthAPI_RegisterValidation(t *testing.T) {
	api := &AuthAPI{DB: &mockUserStore{users: map[string]store.User{}}, JWT: auth.New("test-secret")}

	tests := []struct {
		name string
		body string
	}{
		{"weak password", `{"email":"u@x.com","name":"uma","password":"short"}`},
		{"bad email", `{"email":"not-an-email","name":"uma","password":"correct-horse"}`},
		{"missing name", `{"email":"u@x.com","password":"correct-horse"}`},
		{"garbage body", `{{{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			api.Register(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(tt.body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAuthAPI_Register_StoreFailure(t *testing.T) {
	api := &AuthAPI{
		DB:  &mockUserStore{users: map[string]store.User{}, createErr: errors.New("connection refused")},
		JWT: auth.New("test-secret"),
	}

	rec := httptest.NewRecorder()
	api.Register(rec, httptest.NewRequest(http.MethodPost, "/api/auth/register",
		strings.NewReader(`{"email":"u@x.com","name":"uma","password":"correct-horse"}`)))

	// Only a duplicate email is a conflict; anything else is a server error.
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type mockRoomStore struct {
	detail    store.RoomDetail
	detailErr error
	saved     store.Scene
	saveErr   error
	deleted   []int64
}

func (m *mockRoomStore) CreateRoom(_ context.Context, ownerEmail, name, description string) (store.Room, error) {
	return store.Room{ID: 7, Name: name, Description: description}, nil
}
func (m *mockRoomStore) ListOwnedRooms(context.Context, string) ([]store.Room, error) {
	return []store.Room{{ID: 7, Name: "board"}}, nil
}
func (m *mockRoomStore) ListInvitedRooms(context.Context, string) ([]store.InvitedRoom, error) {
	return []store.InvitedRoom{{Room: store.Room{ID: 9, Name: "shared"}, Confirmed: true}}, nil
}
func (m *mockRoomStore) DeleteRoom(_ context.Context, roomID int64, _ string) error {
	m.deleted = append(m.deleted, roomID)
	return nil
}
func (m *mockRoomStore) InviteUser(context.Context, int64, string) error        { return nil }
func (m *mockRoomStore) ConfirmInvitation(context.Context, int64, string) error { return nil }
func (m *mockRoomStore) RevokeInvitation(context.Context, int64, string) error  { return nil }
func (m *mockRoomStore) GetRoomDetail(context.Context, int64) (store.RoomDetail, error) {
	return m.detail, m.detailErr
}
func (m *mockRoomStore) SaveScene(_ context.Context, _ int64, _ string, elements, appState []byte) (store.Scene, error) {
	if m.saveErr != nil {
		return store.Scene{}, m.saveErr
	}
	m.saved = store.Scene{Elements: elements, AppState: appState, UpdatedAt: time.Now()}
	return m.saved, nil
}
func (m *mockRoomStore) GetScene(context.Context, int64) (store.Scene, error) {
	return m.detail.Scene, nil
}

type fakeCache struct {
	scenes map[int64]store.Scene
}

func (f *fakeCache) Get(_ context.Context, id int64) (store.Scene, bool) {
	s, ok := f.scenes[id]
	return s, ok
}
func (f *fakeCache) Put(_ context.Context, id int64, s store.Scene) { f.scenes[id] = s }
func (f *fakeCache) Invalidate(_ context.Context, id int64)         { delete(f.scenes, id) }

func asUser(r *http.Request, email string) *http.Request {
	return r.WithContext(auth.WithUser(r.Context(), email))
}

func withID(r *http.Request, id string) *http.Request {
	r.SetPathValue("id", id)
	return r
}

func TestRoomsAPI_SaveScene(t *testing.T) {
	db := &mockRoomStore{}
	cache := &fakeCache{scenes: map[int64]store.Scene{}}
	api := &RoomsAPI{DB: db, Scenes: cache}

	body := `{"elements":[{"id":"el-1"}],"appState":{"zoom":1}}`
	req := withID(asUser(httptest.NewRequest(http.MethodPatch, "/api/rooms/7", strings.NewReader(body)), "o@x.com"), "7")
	rec := httptest.NewRecorder()
	api.SaveScene(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"el-1"}]`, string(db.saved.Elements))

	// Cache refreshed alongside the durable write.
	cached, ok := cache.scenes[7]
	require.True(t, ok)
	assert.JSONEq(t, `[{"id":"el-1"}]`, string(cached.Elements))
}

func TestRoomsAPI_SaveScene_NotOwner(t *testing.T) {
	api := &RoomsAPI{DB: &mockRoomStore{saveErr: store.ErrForbidden}, Scenes: &fakeCache{scenes: map[int64]store.Scene{}}}

	req := withID(asUser(httptest.NewRequest(http.MethodPatch, "/api/rooms/7",
		strings.NewReader(`{"elements":[]}`)), "p@x.com"), "7")
	rec := httptest.NewRecorder()
	api.SaveScene(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRoomsAPI_Get_PrefersCache(t *testing.T) {
	db := &mockRoomStore{detail: store.RoomDetail{
		Room:  store.Room{ID: 7, Name: "board"},
		Owner: store.User{ID: 1, Email: "o@x.com", Name: "owner"},
		Scene: store.Scene{Elements: json.RawMessage(`[{"id":"stale"}]`)},
	}}
	cache := &fakeCache{scenes: map[int64]store.Scene{
		7: {Elements: json.RawMessage(`[{"id":"fresh"}]`)},
	}}
	api := &RoomsAPI{DB: db, Scenes: cache}

	req := withID(asUser(httptest.NewRequest(http.MethodGet, "/api/rooms/7", nil), "p@x.com"), "7")
	rec := httptest.NewRecorder()
	api.Get(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp roomDetailResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.JSONEq(t, `[{"id":"fresh"}]`, string(resp.Elements))
	assert.Equal(t, "o@x.com", resp.Owner.Email)
}

func TestRoomsAPI_Get_NotFound(t *testing.T) {
	api := &RoomsAPI{DB: &mockRoomStore{detailErr: store.ErrNotFound}}

	req := withID(asUser(httptest.NewRequest(http.MethodGet, "/api/rooms/404", nil), "p@x.com"), "404")
	rec := httptest.NewRecorder()
	api.Get(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoomsAPI_GetScene_CacheMissFallsBack(t *testing.T) {
	db := &mockRoomStore{detail: store.RoomDetail{
		Scene: store.Scene{Elements: json.RawMessage(`[{"id":"db"}]`)},
	}}
	cache := &fakeCache{scenes: map[int64]store.Scene{}}
	api := &RoomsAPI{DB: db, Scenes: cache}

	req := withID(asUser(httptest.NewRequest(http.MethodGet, "/api/rooms/7/scene", nil), "p@x.com"), "7")
	rec := httptest.NewRecorder()
	api.GetScene(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Elements json.RawMessage `json:"elements"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.JSONEq(t, `[{"id":"db"}]`, string(resp.Elements))

	// Read-through populated the cache.
	_, ok := cache.scenes[7]
	assert.True(t, ok)
}

func TestRoomsAPI_Delete_InvalidatesCache(t *testing.T) {
	db := &mockRoomStore{}
	cache := &fakeCache{scenes: map[int64]store.Scene{7: {}}}
	api := &RoomsAPI{DB: db, Scenes: cache}

	req := withID(asUser(httptest.NewRequest(http.MethodDelete, "/api/rooms/7", nil), "o@x.com"), "7")
	rec := httptest.NewRecorder()
	api.Delete(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{7}, db.deleted)
	_, ok := cache.scenes[7]
	assert.False(t, ok)
}

func TestRoomsAPI_BadRoomID(t *testing.T) {
	api := &RoomsAPI{DB: &mockRoomStore{}}

	req := withID(asUser(httptest.NewRequest(http.MethodGet, "/api/rooms/abc", nil), "p@x.com"), "abc")
	rec := httptest.NewRecorder()
	api.Get(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMiddleware_Auth(t *testing.T) {
	cfg := appConfigForTest()
	mw := NewMiddleware(cfg)
	j := auth.New(cfg.JWTSecret)

	var gotEmail string
	h := mw.Auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEmail = auth.UserEmail(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	// No token
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Bad token
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer bogus")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token carries the identity through
	tok, err := j.Sign("u@x.com", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u@x.com", gotEmail)
}
