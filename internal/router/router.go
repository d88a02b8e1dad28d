package router

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"maktaba-api/internal/handler"
	"maktaba-api/internal/middleware"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler        *handler.Handler
	PrayerHandler  *handler.PrayerHandler
	LibraryHandler *handler.LibraryHandler
	AdminHandler   *handler.AdminHandler
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware stack (applies to ALL routes)
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Handler != nil {
			r.Get("/health", cfg.Handler.Health)
			r.Get("/ready", cfg.Handler.Ready)
		}

		if cfg.PrayerHandler != nil {
			r.Route("/prayer", func(r chi.Router) {
				r.Get("/state", cfg.PrayerHandler.GetState)
				r.Get("/next", cfg.PrayerHandler.GetNext)
				r.Post("/refresh", cfg.PrayerHandler.Refresh)
				r.Post("/wake", cfg.PrayerHandler.Wake)
			})
		}

		if cfg.LibraryHandler != nil {
			r.Get("/institutions", cfg.LibraryHandler.ListInstitutions)
			r.Get("/institutions/{institution_id}/jurisdictions", cfg.LibraryHandler.ListJurisdictions)
			r.Get("/jurisdictions/{jurisdiction_id}/documents", cfg.LibraryHandler.ListDocuments)
			r.Get("/documents/featured", cfg.LibraryHandler.ListFeatured)
			r.Get("/documents/{document_id}", cfg.LibraryHandler.GetDocument)
		}

		if cfg.AdminHandler != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Get("/cache/stats", cfg.AdminHandler.GetCacheStats)
				r.Post("/cache/sweep", cfg.AdminHandler.SweepCache)
				r.Post("/cache/invalidate", cfg.AdminHandler.InvalidateNamespace)
			})
		}
	})

	return r
}
