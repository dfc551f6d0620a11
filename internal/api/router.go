// Package api exposes the settlement engine over HTTP.
package api

import (
	"net/http"
	"time"

	"golang-settlement-reconciler/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig holds HTTP server options.
type RouterConfig struct {
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DefaultRouterConfig returns the router defaults.
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		RequestTimeout: 60 * time.Second,
	}
}

// NewRouter creates the chi router with all API routes mounted.
func NewRouter(h *Handlers, config *RouterConfig) http.Handler {
	if config == nil {
		config = DefaultRouterConfig()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	if config.RequestTimeout > 0 {
		r.Use(middleware.Timeout(config.RequestTimeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: config.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Get("/healthz", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/fee-rules", func(r chi.Router) {
			r.Get("/", h.ListFeeRules)
			r.Post("/", h.RegisterFeeRules)
		})

		r.Post("/predictions", h.Predict)
		r.Post("/predictions/schedule", h.Schedule)
		r.Post("/reconciliations", h.Reconcile)

		r.Get("/merchants/{merchantID}/sales", h.ListSales)

		r.Route("/calendar", func(r chi.Router) {
			r.Get("/holidays", h.ListHolidays)
			r.Get("/next-business-day", h.NextBusinessDay)
		})
	})

	return r
}

// requestLogger logs one line per request through the application logger.
func requestLogger(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				log.WithFields(logger.Fields{
					"request_id": middleware.GetReqID(r.Context()),
					"method":     r.Method,
					"path":       r.URL.Path,
					"status":     ww.Status(),
					"bytes":      ww.BytesWritten(),
					"duration":   time.Since(start).String(),
				}).Info("HTTP request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
