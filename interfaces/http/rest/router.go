// Package rest serves stored consumer records and generated documentation
// over HTTP.
package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"consumerdocs/application/docs"
	"consumerdocs/interfaces/http/rest/middleware"
	"consumerdocs/pkg/auth"
	"consumerdocs/pkg/common"
	appErrors "consumerdocs/pkg/errors"
)

// RouterConfig holds the router's collaborators. Optional parts are
// disabled when nil.
type RouterConfig struct {
	Docs           *docs.Service
	Logger         *zap.Logger
	Debug          bool
	AllowedOrigins []string

	// Metrics serves GET /metrics
	Metrics http.Handler
	// Validator enables bearer-token auth on the API routes
	Validator *auth.JWTValidator
	// Limiter enables per-IP rate limiting on the API routes
	Limiter *auth.IPRateLimiter
	// Capture records the API's own traffic
	Capture func(http.Handler) http.Handler
	// Tracer starts a server span per request
	Tracer trace.Tracer
}

// Router creates and configures the HTTP router
type Router struct {
	config       RouterConfig
	errorHandler *appErrors.ErrorHandler
}

// NewRouter creates a new router instance
func NewRouter(config RouterConfig) *Router {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}
	return &Router{
		config:       config,
		errorHandler: appErrors.NewErrorHandler(config.Logger, config.Debug),
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() *chi.Mux {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(rt.errorHandler.Middleware)
	router.Use(middleware.Logger(rt.config.Logger))
	if rt.config.Tracer != nil {
		router.Use(middleware.Tracing(rt.config.Tracer))
	}
	if rt.config.Capture != nil {
		router.Use(rt.config.Capture)
	}

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: rt.config.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		rt.errorHandler.HandleStatus(w, r, http.StatusNotFound, "route not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		rt.errorHandler.HandleStatus(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	router.Get("/health", rt.healthCheck)
	if rt.config.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", rt.config.Metrics)
	}

	router.Route("/api/v1", func(r chi.Router) {
		if rt.config.Limiter != nil {
			r.Use(middleware.RateLimit(rt.config.Limiter, rt.errorHandler))
		}
		if rt.config.Validator != nil {
			r.Use(middleware.Authenticate(rt.config.Validator, rt.errorHandler, rt.config.Logger))
		}

		docsHandler := NewDocsHandler(rt.config.Docs, rt.errorHandler, rt.config.Logger)
		r.Route("/services/{service}", func(r chi.Router) {
			r.Get("/records", docsHandler.GetRecords)
			r.Get("/endpoints", docsHandler.GetEndpoints)
			r.Get("/docs", docsHandler.GetDocs)
		})
	})

	return router
}

func (rt *Router) healthCheck(w http.ResponseWriter, req *http.Request) {
	common.RespondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
