package routers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"codesync/internal/api"
)

func New(h *api.Handlers) http.Handler {
	r := chi.NewRouter()

	r.Get("/api/v1/healthz", h.Health)

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/", h.ListSessions)
		r.Get("/{id}", h.GetSession)
		r.Delete("/{id}", h.DeleteSession)
	})

	r.Post("/api/code/execute", h.ExecuteCode)

	r.Get("/ws/editor", h.EditorWS)

	r.Handle("/metrics", promhttp.Handler())

	return r
}
