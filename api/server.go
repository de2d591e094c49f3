/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers (rate limit key)
  3. Logger:     Request logging
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the vendor dashboard

RATE LIMITING:
  Only mutating routes (payments, reconcile, scenario load) go through
  the per-client limiter. Reads are not limited.

ROUTE GROUPS:
  /healthz, /readyz     Liveness and readiness
  /api/payments/*       Payment allocation and receipts
  /api/vendors/*        Vendor projections
  /api/employees/*      Employee ledgers and reconciliation
  /api/scenarios/*      Demo scenarios (only when a Seeder is wired)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterConfig carries the cross-cutting router options.
type RouterConfig struct {
	AllowedOrigins []string
	// RateLimiter guards mutating routes. Nil disables limiting.
	RateLimiter *RateLimiter
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyHeader},
		ExposedHeaders:   []string{"Idempotent-Replayed", "Retry-After"},
		AllowCredentials: true,
	}))

	limit := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimiter != nil {
		limit = cfg.RateLimiter.Middleware
	}

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Payment routes
		r.Route("/payments", func(r chi.Router) {
			r.With(limit).Post("/", h.CreatePayment)
			r.Get("/{id}/receipt", h.GetReceipt)
		})

		// Vendor routes
		r.Route("/vendors/{vendorID}", func(r chi.Router) {
			r.Get("/stats", h.GetVendorStats)
			r.Get("/assigned-services", h.GetAssignedServices)
			r.Get("/billable", h.GetBillable)
			r.Get("/drift", h.GetVendorDrift)
		})

		// Employee routes
		r.Route("/employees/{id}", func(r chi.Router) {
			r.Get("/", h.GetEmployee)
			r.Get("/unpaid", h.GetUnpaid)
			r.Get("/service-history", h.GetServiceHistory)
			r.Get("/payments", h.ListPayments)
			r.With(limit).Post("/reconcile", h.ReconcileEmployee)
		})

		// Scenario routes
		if h.Seeder != nil {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.With(limit).Post("/load", h.LoadScenario)
			})
		}
	})

	return r
}
