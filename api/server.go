/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dashboard

ROUTE GROUPS:
  /api/batches/*     Upload and processing lifecycle
  /api/periods/*     Earnings reporting
  /api/managers/*    Manager lookups
  /api/bonuses       Manual bonus awards
  /api/genealogy/*   Downline hierarchy management

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Batch routes
		r.Route("/batches", func(r chi.Router) {
			r.Get("/", h.ListBatches)
			r.Post("/", h.CreateBatch)
			r.Get("/{id}", h.GetBatch)
			r.Post("/{id}/process", h.StartProcessing)
			r.Delete("/{id}/data", h.ClearBatchData)
		})

		// Earnings routes
		r.Route("/periods", func(r chi.Router) {
			r.Get("/{period}/earnings", h.ListEarnings)
		})

		// Manager routes
		r.Route("/managers", func(r chi.Router) {
			r.Get("/", h.ListManagers)
			r.Get("/{id}", h.GetManager)
			r.Get("/{id}/bonuses", h.ListManagerBonuses)
		})

		// Bonus routes
		r.Route("/bonuses", func(r chi.Router) {
			r.Post("/", h.AwardBonus)
		})

		// Genealogy routes
		r.Route("/genealogy", func(r chi.Router) {
			r.Get("/", h.ListEdges)
			r.Post("/", h.CreateEdge)
			r.Put("/{id}", h.UpdateEdge)
			r.Delete("/{id}", h.DeleteEdge)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
