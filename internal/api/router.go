package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
)

// NewNodeRouter creates the node portal routes, to be mounted under /api.
// Devices on the captive network are unauthenticated.
func NewNodeRouter(svc NodeService, logger *slog.Logger) chi.Router {
	h := NewHandler(svc, logger)

	r := chi.NewRouter()

	// Users.
	r.Post("/register", h.Register)
	r.Get("/services", h.MyServices)
	r.Post("/session", h.NewSession)

	// Volunteers.
	r.Post("/volunteers/request", h.RequestVolunteers)
	r.Get("/volunteers", h.ListVolunteers)

	// Messages.
	r.Get("/inbox", h.Inbox)
	r.Get("/thread", h.Thread)
	r.Post("/messages", h.SendMessage)

	r.Get("/notices", h.Notices)
	r.Get("/status", h.Status)

	return r
}

// NewHubRouter creates the hub status routes, to be mounted under /api.
// authEnabled controls whether Bearer token auth is enforced.
func NewHubRouter(svc HubService, authEnabled bool, token string, logger *slog.Logger) chi.Router {
	h := NewHubHandler(svc, logger)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/peers", h.Peers)
	r.Get("/volunteers", h.Volunteers)
	r.Get("/stats", h.Stats)

	return r
}
