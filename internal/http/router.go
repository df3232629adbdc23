package httpx

import (
	"net/http"

	"log/slog"

	"github.com/aksenmi/wegrim/internal/app"
	"github.com/aksenmi/wegrim/internal/store"
	"github.com/aksenmi/wegrim/internal/ws"
	"github.com/aksenmi/wegrim/pkg/auth"
	"github.com/aksenmi/wegrim/pkg/metrics"
)

// NewRouter wires up all HTTP routes, middleware, and handlers
func NewRouter(cfg app.Config, logger *slog.Logger, hub *ws.Hub, db *store.Postgres, scenes *store.SceneCache) http.Handler {
	mw := NewMiddleware(cfg)

	j := auth.New(cfg.JWTSecret)
	authAPI := &AuthAPI{DB: db, JWT: j}
	roomsAPI := &RoomsAPI{DB: db, Scenes: scenes}

	mux := http.NewServeMux()

	// Health / readiness / metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if err := scenes.Ping(r.Context()); err != nil {
			http.Error(w, "cache not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", metrics.Handler())

	// WebSocket endpoint (the hub trusts join payload identity; callers
	// authenticate before opening the socket)
	mux.Handle("/ws", http.HandlerFunc(hub.ServeWS))

	// Auth endpoints
	mux.Handle("POST /api/auth/register", http.HandlerFunc(authAPI.Register))
	mux.Handle("POST /api/auth/login", http.HandlerFunc(authAPI.Login))
	mux.Handle("GET /api/auth/me", mw.Auth(http.HandlerFunc(authAPI.Me)))
	mux.Handle("PUT /api/auth/me", mw.Auth(http.HandlerFunc(authAPI.UpdateMe)))

	// Rooms endpoints (JWT-protected)
	mux.Handle("POST /api/rooms", mw.Auth(http.HandlerFunc(roomsAPI.Create)))
	mux.Handle("GET /api/rooms/my", mw.Auth(http.HandlerFunc(roomsAPI.ListMine)))
	mux.Handle("GET /api/rooms/invited", mw.Auth(http.HandlerFunc(roomsAPI.ListInvited)))
	mux.Handle("GET /api/rooms/{id}", mw.Auth(http.HandlerFunc(roomsAPI.Get)))
	mux.Handle("DELETE /api/rooms/{id}", mw.Auth(http.HandlerFunc(roomsAPI.Delete)))
	mux.Handle("POST /api/rooms/{id}/invite", mw.Auth(http.HandlerFunc(roomsAPI.Invite)))
	mux.Handle("POST /api/rooms/{id}/confirm", mw.Auth(http.HandlerFunc(roomsAPI.Confirm)))
	mux.Handle("DELETE /api/rooms/{id}/invitation", mw.Auth(http.HandlerFunc(roomsAPI.Leave)))
	mux.Handle("GET /api/rooms/{id}/scene", mw.Auth(http.HandlerFunc(roomsAPI.GetScene)))
	mux.Handle("PATCH /api/rooms/{id}", mw.Auth(http.HandlerFunc(roomsAPI.SaveScene)))

	// CORS + rate limit applied globally
	return mw.Wrap(mux)
}
