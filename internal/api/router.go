package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/xtrntr/powermarket/internal/auth"
	"github.com/xtrntr/powermarket/internal/models"
	"github.com/xtrntr/powermarket/internal/realtime"
)

// NewRouter wires the REST gateway and the websocket endpoints
func NewRouter(h *Handler, rt *realtime.Server, corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", auth.AdminKeyHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public endpoints
	r.Get("/healthz", h.Healthz)
	r.Post("/webhook", h.Webhook)
	r.Get("/trades/{counterpartyId}", h.ListTrades)
	r.Get("/submission-window", h.ListWindows)

	// Administrative endpoints
	r.Group(func(r chi.Router) {
		r.Use(h.AdminMiddleware)
		r.Post("/submission-window", h.SetWindow)
		r.Put("/submission-window/reset", h.ResetWindow)
		r.Delete("/submission-window", h.DeleteWindow)
		r.Post("/match", h.Match)
	})

	// Protected endpoints (require a session token)
	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware)
		r.Get("/me", h.Me)
		for path, side := range map[string]models.Side{"/bids": models.SideBid, "/offers": models.SideOffer} {
			r.Get(path, h.ListOrders(side))
			r.Post(path, h.CreateOrders(side))
			r.Put(path+"/{id}", h.UpdateOrder(side))
			r.Delete(path+"/{id}", h.DeleteOrder(side))
		}
	})

	// WebSocket endpoints
	if rt != nil {
		r.Get("/ws/chat", rt.HandleChat)
		r.Get("/ws/notifications", rt.HandleNotifications)
		r.Get("/ws/echo", rt.HandleEcho)
		r.Get("/ws/countdown", rt.HandleCountdown)
		r.Get("/ws/{clientID}", rt.HandleClient)
	}

	return r
}
