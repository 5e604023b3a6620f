/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Request counts and latency by route pattern
  5. CORS:       Cross-origin requests for admin frontends
  6. RateLimit:  Token bucket on /api only

ROUTE GROUPS:
  /api/commissions/*   Calculation, simulation, stats
  /api/rules/*         Rule management
  /healthz             Liveness
  /metrics             Prometheus exposition

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/warp/commission-engine/metrics"
)

// RouterConfig holds the optional parts of the router.
type RouterConfig struct {
	CORSOrigins []string
	RateLimit   float64 // requests per second on /api; 0 disables
	Metrics     *metrics.Collector
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(RateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimit), burstFor(cfg.RateLimit)), h.Logger))
		}

		r.Route("/commissions", func(r chi.Router) {
			r.Post("/calculate", h.Calculate)
			r.Post("/simulate", h.Simulate)
			r.Get("/stats", h.GetStats)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Get("/{id}", h.GetRule)
			r.Patch("/{id}", h.UpdateRule)
			r.Delete("/{id}", h.DeleteRule)
		})
	})

	return r
}

// RateLimit rejects requests with 429 once limiter is exhausted.
func RateLimit(limiter *rate.Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.WarnContext(r.Context(), "Rate limit exceeded",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr))
				writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
					Error: http.StatusText(http.StatusTooManyRequests),
					Code:  "rate_limited",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// burstFor allows one second's worth of requests at once, at least one.
func burstFor(perSecond float64) int {
	if perSecond < 1 {
		return 1
	}
	return int(perSecond)
}
