// Package http exposes the basket engine and the catalog as a JSON API.
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	ServiceName    string
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

// NewRouter mounts every route and wraps the router for tracing
func NewRouter(baskets BasketService, catalog CatalogService, cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	basketHandler := NewBasketHandler(baskets)
	productHandler := NewProductHandler(catalog)
	dealHandler := NewDealHandler(catalog)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestIDHeader)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/baskets", func(r chi.Router) {
		r.Post("/", basketHandler.Create)
		r.Get("/{id}", basketHandler.Get)
		r.Post("/{id}/add-items", basketHandler.AddItems)
		r.Post("/{id}/delete-items", basketHandler.DeleteItems)
		r.Get("/{id}/calculate-receipt", basketHandler.CalculateReceipt)
	})

	r.Route("/products", func(r chi.Router) {
		r.Get("/", productHandler.List)
		r.Post("/", productHandler.Create)
		r.Get("/search", productHandler.Search)
		r.Get("/{id}", productHandler.Get)
		r.Delete("/{id}", productHandler.Delete)
		r.Post("/{id}/add-deals", productHandler.AddDeals)
	})

	r.Route("/deals", func(r chi.Router) {
		r.Get("/", dealHandler.List)
		r.Post("/{id}", dealHandler.Update)
	})

	return otelhttp.NewHandler(r, cfg.ServiceName,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
