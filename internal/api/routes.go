package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		// Health stays unauthenticated so shells can probe liveness
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(h.apiKey))

			r.Route("/habits", func(r chi.Router) {
				r.Post("/", h.CreateHabit)
				r.Get("/", h.ListHabits)
				r.Get("/{id}", h.GetHabit)
				r.Patch("/{id}", h.UpdateHabit)
				r.Delete("/{id}", h.DeleteHabit)
				r.Post("/{id}/completions", h.CompleteHabit)
				r.Get("/{id}/completions", h.ListCompletions)
				r.Post("/{id}/retry", h.RetryHabit)
			})

			r.Post("/completions/{id}/retry", h.RetryCompletion)

			r.Route("/sync", func(r chi.Router) {
				r.Get("/status", h.SyncStatus)
				r.Post("/trigger", h.TriggerSync)
			})
		})
	})

	return r
}
