/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests, origins from config
  5. WithCaller: X-User-ID / X-User-Roles into rates.Caller
  Bulk preview/apply additionally pass a per-caller token bucket.

ROUTE GROUPS:
  /api/roles/*          Role catalog
  /api/people/*         People and their rate schedules
  /api/overrides/*      Client/project negotiated rates
  /api/rates/resolve    Effective rate lookup
  /api/adjustments      Line-item calculator
  /api/entries/*        Time entries (rate snapshot at logging)
  /api/bulk/*           Preview / apply / cancel
  /api/estimates/price  Estimate pricing
  /api/settings/*       System defaults
  /api/scenarios/*      Demo data

SECURITY NOTE:
  Identity headers are trusted. Deploy behind an authenticating proxy that
  strips client-supplied X-User-* headers.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: caller + rate limit middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

// RouterOptions carries the configurable parts of the router.
type RouterOptions struct {
	CORSOrigins    []string
	BulkRatePerSec float64
	BulkBurst      int
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", HeaderUserID, HeaderUserRoles},
		AllowCredentials: true,
	}))
	r.Use(WithCaller)

	bulkLimit := rate.Limit(opts.BulkRatePerSec)
	if opts.BulkRatePerSec <= 0 {
		bulkLimit = rate.Inf
	}
	burst := opts.BulkBurst
	if burst <= 0 {
		burst = 1
	}
	limiter := NewCallerRateLimiter(bulkLimit, burst)

	r.Route("/api", func(r chi.Router) {
		r.Route("/roles", func(r chi.Router) {
			r.Get("/", h.ListRoles)
			r.Put("/{id}", h.SaveRole)
			r.Delete("/{id}", h.DeleteRole)
		})

		r.Route("/people", func(r chi.Router) {
			r.Get("/", h.ListPeople)
			r.Get("/{id}", h.GetPerson)
			r.Put("/{id}", h.SavePerson)
			r.Get("/{id}/schedules", h.ListSchedules)
			r.Post("/{id}/schedules", h.CreateSchedule)
			r.Get("/{id}/schedules/at", h.ScheduleAt)
		})

		r.Route("/overrides", func(r chi.Router) {
			r.Get("/", h.ListOverrides)
			r.Post("/", h.CreateOverride)
			r.Delete("/{id}", h.DeleteOverride)
		})

		r.Get("/rates/resolve", h.ResolveRate)
		r.Post("/adjustments", h.ComputeAdjustment)

		r.Route("/entries", func(r chi.Router) {
			r.Get("/", h.ListEntries)
			r.Post("/", h.LogEntry)
			r.Get("/{id}", h.GetEntry)
			r.Post("/{id}/lock", h.LockEntry)
		})

		r.Route("/bulk", func(r chi.Router) {
			r.With(limiter.Middleware).Post("/preview", h.PreviewBulk)
			r.With(limiter.Middleware).Post("/apply", h.ApplyBulk)
			r.Delete("/previews/{id}", h.CancelPreview)
		})

		r.Post("/estimates/price", h.PriceEstimate)

		r.Route("/settings", func(r chi.Router) {
			r.Get("/defaults", h.GetDefaults)
			r.Put("/defaults", h.UpdateDefaults)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Rate Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Rate Engine API</h1>
<ul>
<li><a href="/api/roles">/api/roles</a> - Role catalog</li>
<li><a href="/api/people">/api/people</a> - People</li>
<li><a href="/api/overrides">/api/overrides</a> - Rate overrides</li>
<li><a href="/api/entries">/api/entries</a> - Time entries</li>
<li><a href="/api/scenarios">/api/scenarios</a> - Demo scenarios</li>
</ul>
</body>
</html>`))
	})

	return r
}
