/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client IP from X-Forwarded-For behind the bar's proxy
  3. Logger:     zap request logging with the request id
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus request counters
  6. CORS:       Cross-origin requests from the terminal UI
  7. Timeout:    Per-request deadline

ROUTE GROUPS:
  /healthz              Liveness check (public)
  /metrics              Prometheus scrape (public)
  /api/*                Bearer token + rate limit

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token verification
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/safebar/stockledger/logger"
	"github.com/safebar/stockledger/metrics"
)

type RouterOptions struct {
	Logger         *zap.Logger
	Metrics        *metrics.Metrics // optional
	Verifier       *TokenVerifier
	RateLimiter    *RateLimiter // optional
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware(log))
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	}))
	r.Use(middleware.Timeout(timeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(opts.Verifier.Authenticate)
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Middleware)
		}

		r.Get("/session", h.GetSession)

		// Item routes
		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.ListItems)
			r.Post("/", h.CreateItem)
			r.Get("/by-category", h.ListItemsByCategory)
			r.Put("/{id}", h.UpdateItem)
			r.Delete("/{id}", h.DeleteItem)
			r.Get("/{id}/expected-opening", h.GetExpectedOpening)
		})

		// Stock routes
		r.Route("/stock", func(r chi.Router) {
			r.Get("/", h.ListEntries)
			r.Post("/", h.RecordEntry)
			r.Get("/closing/{id}", h.GetLastClosing)
			r.Get("/corrections", h.ListCorrections)
			r.Post("/corrections", h.CreateCorrection)
		})

		// Report routes
		r.Route("/reports", func(r chi.Router) {
			r.Get("/", h.ListReports)
			r.Post("/close", h.CloseShift)
			r.Get("/{id}", h.GetReport)
			r.Get("/{id}/export", h.ExportReport)
			r.Post("/{id}/dispatch", h.DispatchReport)
		})
	})

	return r
}
