package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.agentKey))

			r.Post("/orders/{orderID}/checklist", h.Resolve)

			r.Route("/checklist", func(r chi.Router) {
				r.Get("/", h.Current)
				r.Post("/start", h.Start)
				r.Post("/pause", h.Pause)
				r.Post("/resume", h.Resume)
				r.Post("/finalize", h.Finalize)
				r.Post("/sync", h.Sync)
				r.Put("/responses/{itemID}", h.SaveResponse)
				r.Post("/responses/{itemID}/photos", h.AddPhoto)
				r.Put("/signatures/{role}", h.SetSignature)
			})
		})
	})

	return r
}
