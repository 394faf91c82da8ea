package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/leapstack-labs/trilogyctl/internal/app"
)

// SetupRoutes registers every API route on router.
func SetupRoutes(router chi.Router, services *app.Services) {
	h := NewHandlers(services)

	router.Route("/configs", func(r chi.Router) {
		r.Get("/", h.ListConfigs)
		r.Post("/discover", h.DiscoverConfigs)
		r.Put("/active", h.SetActiveConfig)
		r.Delete("/active", h.ClearActiveConfig)
	})

	router.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.OpenSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Post("/query", h.RunQuery)
			r.Post("/more", h.FetchMore)
			r.Delete("/", h.CloseSession)
		})
	})

	router.Post("/render", h.RenderQueries)

	router.Route("/serve", func(r chi.Router) {
		r.Get("/", h.ServeStatus)
		r.Post("/start", h.StartServe)
		r.Post("/stop", h.StopServe)
		r.Post("/open", h.OpenServeURL)
		r.Get("/events", h.ServeEvents)
	})
}
