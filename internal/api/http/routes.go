package http

import (
	"pricehub/internal/api/http/handlers"
	"pricehub/internal/api/http/mw"
	"pricehub/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func BuildRouter(
	h *handlers.Handler,
	logMW *mw.LoggingMiddleware,
	gzipMW *mw.GzipMiddleware,
	rateLimitMW *mw.RateLimitMiddleware,
	jwtMW *mw.JWTMiddleware,
	corsMW *mw.CORSMiddleware,
) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	if logMW != nil {
		r.Use(logMW.Handler)
	}
	if gzipMW != nil {
		r.Use(gzipMW.Handler)
	}
	if corsMW != nil {
		r.Use(corsMW.Handler())
	}

	// tech endpoints, no auth
	r.Get("/healthz", h.Healthz)
	r.Get("/readiness", h.Readiness)
	r.Mount("/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		if rateLimitMW != nil {
			api.Use(rateLimitMW.Handler)
		}

		api.Get("/price/{key}", h.Price)
		api.Get("/prices", h.Prices)
		api.Get("/quote-rate", h.QuoteRate)
		api.Get("/stats", h.Stats)

		// administrative, JWT-protected
		api.Group(func(admin chi.Router) {
			if jwtMW != nil {
				admin.Use(jwtMW.Handler)
			}
			admin.Delete("/negative-cache/{key}", h.ClearNegative)
		})
	})

	return r
}
