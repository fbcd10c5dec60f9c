package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/findandseek/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	analyzeHandler := handlers.NewAnalyzeHandler(s.analyzer, s.logger)
	casesHandler := handlers.NewCasesHandler(s.store, s.analyzer, s.logger)
	configHandler := handlers.NewConfigHandler(s.config)

	s.router.Get("/api/v1/health", handlers.HealthCheck)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/config", configHandler.Get)

		// Matching pipeline
		r.Post("/analyze/reference", analyzeHandler.Reference)
		r.Post("/analyze/compare", analyzeHandler.Compare)
		r.Post("/analyze/compare-frames", analyzeHandler.CompareFrames)

		// Cases
		r.Get("/cases", casesHandler.List)
		r.Post("/cases", casesHandler.Create)
		r.Get("/cases/{id}", casesHandler.Get)
		r.Put("/cases/{id}/status", casesHandler.UpdateStatus)
		r.Post("/cases/{id}/timeline", casesHandler.AddTimelineEvent)
		r.Post("/cases/{id}/reference", casesHandler.SetReference)
		r.Post("/cases/{id}/search", casesHandler.Search)
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}` + "\n"))
	})
}
