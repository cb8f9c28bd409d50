package api

import (
	"fmt"
	"net/http"
	"time"

	scalargo "github.com/bdpiprava/scalar-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterConfig struct {
	RequestTimeout time.Duration
	AllowedOrigins []string
	DocsSpecDir    string
	DocsTitle      string
}

func NewRouter(h *Handlers, cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	if cfg.DocsSpecDir != "" {
		r.Get("/docs", docsHandler(cfg.DocsSpecDir, cfg.DocsTitle))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/prices/lookup", h.Lookup)
		r.Get("/search", h.Search)

		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Get("/{site}/{id}/history", h.ProductHistory)
		})

		r.Post("/refresh", h.Refresh)

		r.Route("/history", func(r chi.Router) {
			r.Get("/export", h.ExportHistory)
			r.Post("/import", h.ImportHistory)
		})
	})

	return r
}

// docsHandler renders the API reference from the OpenAPI document in specDir.
func docsHandler(specDir, title string) http.HandlerFunc {
	if title == "" {
		title = "BR Price Tracker API"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		content, err := scalargo.NewV2(
			scalargo.WithSpecDir(specDir),
			scalargo.WithMetaDataOpts(
				scalargo.WithTitle(title),
			),
		)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render docs: %v", err), r.URL.Path)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, content)
	}
}
