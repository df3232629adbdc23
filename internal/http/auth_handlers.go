package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aksenmi/wegrim/internal/store"
	"github.com/aksenmi/wegrim/pkg/auth"
)

// UserStore is the slice of the store the auth API needs.
type UserStore interface {
	CreateUser(ctx context.Context, email, name, password string) (store.User, error)
	VerifyUser(ctx context.Context, email, password string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	UpdateProfile(ctx context.Context, email, name, avatarURL string) (store.User, error)
}

type AuthAPI struct {
	DB  UserStore
	JWT *auth.JWT
}

type registerReq struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}
type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
type profileReq struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}
type tokenResp struct {
	Token string  `json:"token"`
	User  userDTO `json:"user"`
}
type userDTO struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

func toUserDTO(u store.User) userDTO {
	return userDTO{Email: u.Email, Name: u.Name, AvatarURL: u.AvatarURL}
}

// Register handles user signup and returns a JWT
func (a *AuthAPI) Register(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	req.Email = strings.TrimSpace(req.Email)

	// Basic validation
	if len(req.Password) < 8 || !strings.Contains(req.Email, "@") || req.Name == "" {
		http.Error(w, "invalid email, name or weak password", http.StatusBadRequest)
		return
	}

	u, err := a.DB.CreateUser(r.Context(), req.Email, req.Name, req.Password)
	if errors.Is(err, store.ErrConflict) {
		http.Error(w, "email already in use", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	// Issue token for 24hrs
	tok, _ := a.JWT.Sign(u.Email, 24*time.Hour)
	writeJSON(w, tokenResp{Token: tok, User: toUserDTO(u)})
}

// Login verifies credentials and returns a JWT
func (a *AuthAPI) Login(w http.ResponseWriter, r *http.Request) {
	var req loginReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	u, err := a.DB.VerifyUser(r.Context(), req.Email, req.Password)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	// Issue token (24h)
	tok, _ := a.JWT.Sign(u.Email, 24*time.Hour)
	writeJSON(w, tokenResp{Token: tok, User: toUserDTO(u)})
}

// Me returns the authenticated user's profile
func (a *AuthAPI) Me(w http.ResponseWriter, r *http.Request) {
	email := auth.UserEmail(r.Context())
	if email == "anon" || email == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	u, err := a.DB.GetUserByEmail(r.Context(), email)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, toUserDTO(u))
}

// UpdateMe overwrites the authenticated user's display name / avatar
func (a *AuthAPI) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req profileReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	u, err := a.DB.UpdateProfile(r.Context(), auth.UserEmail(r.Context()), req.Name, req.AvatarURL)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, toUserDTO(u))
}

// send JSON with proper headers
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
