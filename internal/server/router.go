package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/codelens/internal/api/handlers"
	"github.com/cloo-solutions/codelens/internal/api/middleware"
)

const defaultMaxBodyBytes int64 = 32 * 1024 * 1024

type RouterConfig struct {
	// AuthValidator guards every route except /health. Nil disables auth.
	AuthValidator   middleware.AuthValidator
	MaxBodyBytes    int64
	HealthHandler   *handlers.HealthHandler
	CodebaseHandler *handlers.CodebaseHandler
	IndexHandler    *handlers.IndexHandler
	SearchHandler   *handlers.SearchHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog)
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))

	r.Get("/health", cfg.HealthHandler.Health)

	r.Group(func(r chi.Router) {
		if cfg.AuthValidator != nil {
			r.Use(middleware.APIKeyAuth(cfg.AuthValidator))
		}

		r.Route("/codebases", func(r chi.Router) {
			r.Post("/", cfg.CodebaseHandler.Create)
			r.Get("/", cfg.CodebaseHandler.List)
			r.Get("/{id}", cfg.CodebaseHandler.Get)
			r.Delete("/{id}", cfg.CodebaseHandler.Delete)
			r.Put("/{id}/files", cfg.CodebaseHandler.UploadFiles)
			r.Post("/{id}/index", cfg.IndexHandler.Enqueue)
			r.Delete("/{id}/index", cfg.IndexHandler.Delete)
		})

		r.Get("/jobs/{id}", cfg.IndexHandler.GetJob)
		r.Post("/search", cfg.SearchHandler.Search)
		r.Post("/context", cfg.SearchHandler.Context)
	})

	return r
}
