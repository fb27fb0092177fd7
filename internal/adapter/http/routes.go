package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Cells
		r.Get("/cells", h.ListCells)
		r.Post("/cells", h.CreateCell)
		r.Get("/cells/{id}", h.GetCell)
		r.Delete("/cells/{id}", h.DeleteCell)
		r.Get("/cells/{id}/status", h.GetCellStatus)
		r.Post("/cells/{id}/retry", h.RetryCell)
		r.Get("/cells/{id}/services", h.ListCellServices)
		r.Get("/cells/{id}/steps", h.ListCellSteps)
		r.Get("/cells/{id}/session", h.GetCellSession)

		// Agent sessions
		r.Get("/sessions/{id}/messages", h.ListSessionMessages)
		r.Get("/sessions/{id}/permissions", h.ListSessionPermissions)
		r.Get("/sessions/{id}/status", h.GetSessionStatus)
		r.Post("/sessions/{id}/permissions/{pid}/reply", h.ReplyPermission)
		r.Post("/sessions/{id}/prompt", h.SendPrompt)
	})
}
