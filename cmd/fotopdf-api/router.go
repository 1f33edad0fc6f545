package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/fotopdf/cmd/fotopdf-api/handlers"
	"github.com/spherical/fotopdf/cmd/fotopdf-api/middleware"
	"github.com/spherical/fotopdf/internal/app"
	"github.com/spherical/fotopdf/internal/session"
)

// NewRouter creates the API router with all routes configured.
func NewRouter(a *app.App, sessions *session.Manager) http.Handler {
	cfg := a.Config.Server
	logger := a.Logger

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.MaxBodySize(cfg.MaxUploadBytes))
	if cfg.WriteTimeout > time.Second {
		r.Use(chimiddleware.Timeout(cfg.WriteTimeout - time.Second))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"fotopdf"}`))
	})

	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if a.Config.LLMAvailable() {
			w.Write([]byte(`{"status":"ready","suggestions":"ai"}`))
			return
		}
		w.Write([]byte(`{"status":"ready","suggestions":"fallback"}`))
	})

	sessionHandler := handlers.NewSessionHandler(logger, sessions, a.Advisor)
	documentHandler := handlers.NewDocumentHandler(logger, sessions, a.Converter, a.Reencoder, a.Previewer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/compression-levels", documentHandler.Levels)

		r.Post("/sessions", sessionHandler.Create)
		r.Route("/sessions/{sessionId}", func(r chi.Router) {
			r.Get("/", sessionHandler.Get)
			r.Delete("/", sessionHandler.Delete)

			r.Route("/images", func(r chi.Router) {
				r.Post("/", sessionHandler.UploadImages)
				r.Get("/", sessionHandler.ListImages)
				r.Post("/reorder", sessionHandler.ReorderImages)
				r.Delete("/{imageId}", sessionHandler.DeleteImage)
			})

			r.Put("/filename", sessionHandler.SetFilename)
			r.Post("/filename/suggest", sessionHandler.SuggestFilename)

			r.Post("/convert", documentHandler.Convert)
			r.Post("/pdf", documentHandler.LoadPDF)
			r.Post("/compress", documentHandler.Compress)

			r.Route("/results/{resultId}", func(r chi.Router) {
				r.Get("/", documentHandler.Download)
				r.Get("/preview", documentHandler.Preview)
				r.Post("/share", documentHandler.Share)
			})
		})
	})

	return r
}
