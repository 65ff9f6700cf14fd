// Package server exposes the engine's triggers over HTTP: scoped syncs,
// cron runs, manual allocation and external cohort membership changes.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the trigger API routes.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger()))

	r.Get("/healthz", h.Health)
	r.Post("/sync", h.Sync)
	r.Post("/cron", h.RunCron)

	r.Route("/programs", func(r chi.Router) {
		r.Get("/", h.ListPrograms)
		r.Get("/{id}", h.GetProgram)
		r.Get("/{id}/allocations", h.ListAllocations)
		r.Post("/{id}/allocations", h.Allocate)
	})

	r.Route("/allocations", func(r chi.Router) {
		r.Delete("/{id}", h.Deallocate)
		r.Post("/{id}/reset", h.ResetAllocation)
	})

	r.Route("/cohorts/{id}/members", func(r chi.Router) {
		r.Post("/", h.AddCohortMember)
		r.Delete("/{userid}", h.RemoveCohortMember)
	})

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
