// Package api exposes the service layer over HTTP as JSON.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmynk/tontine/internal/auth"
	"github.com/mmynk/tontine/internal/middleware"
	"github.com/mmynk/tontine/internal/models"
	"github.com/mmynk/tontine/internal/service"
)

// Handler bundles the services behind the HTTP surface.
type Handler struct {
	Auth       *service.Auth
	Registry   *service.Registry
	Membership *service.Membership
	Wallets    *service.Wallets
	JWT        *auth.JWTManager
}

// Router mounts all routes.
func Router(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logging)

	reject := func(w http.ResponseWriter, err error) { writeErr(w, err) }

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", h.handleRegister)
		r.Post("/auth/login", h.handleLogin)

		// Everything below requires a valid token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(h.JWT, reject))

			r.Post("/groups", h.handleCreateGroup)
			r.Get("/groups/{id}", h.handleGetGroup)
			r.Patch("/groups/{id}", h.handleUpdateGroup)
			r.Delete("/groups/{id}", h.handleDeleteGroup)
			r.Post("/groups/join", h.handleJoinGroup)
			r.Post("/groups/{id}/contributions", h.handleContribute)
			r.Post("/groups/{id}/cancel", h.handleCancelGroup)

			r.Get("/wallets/{id}/balances", h.handleGetBalances)
			r.Get("/wallets/{id}/entries", h.handleListEntries)
			r.Post("/wallets/{id}/reconcile", h.handleReconcile)

			// Admin-only wallet controls.
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(string(models.RoleAdmin), reject))

				r.Post("/wallets/{id}/freeze", h.handleFreeze)
				r.Post("/wallets/{id}/unfreeze", h.handleUnfreeze)
				r.Post("/wallets/{id}/adjustments", h.handleAdjust)
			})
		})
	})

	return middleware.Metrics(r)
}
