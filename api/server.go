/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Structured request logging (zerolog)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for kiosk frontends

ROUTE GROUPS:
  /api/transactions/*    Ledger submit, history, balances
  /api/accounts/*        Account management
  /api/products/*        Product catalog
  /api/media-mappings/*  Kiosk medium to account bindings

SECURITY NOTE:
  No authentication middleware. Deployments front this with a gateway.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(h.Log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Transaction routes
		r.Route("/transactions", func(r chi.Router) {
			r.Put("/", h.SubmitTransaction)
			r.Get("/", h.ListTransactions)
			r.Get("/{id}", h.GetTransaction)
			r.Delete("/{id}", h.DeleteTransaction)
			r.Get("/account/{accountID}", h.ListAccountTransactions)
			r.Get("/account/{accountID}/balance", h.GetBalance)
		})

		// Account routes
		r.Route("/accounts", func(r chi.Router) {
			r.Put("/", h.CreateAccount)
			r.Get("/", h.ListAccounts)
			r.Get("/{id}", h.GetAccount)
			r.Post("/{id}", h.UpdateAccount)
			r.Delete("/{id}", h.DeleteAccount)
		})

		// Product routes
		r.Route("/products", func(r chi.Router) {
			r.Put("/", h.PutProduct)
			r.Get("/", h.ListProducts)
			r.Get("/{ean}", h.GetProduct)
			r.Delete("/{ean}", h.DeleteProduct)
		})

		// Media mapping routes
		r.Route("/media-mappings", func(r chi.Router) {
			r.Put("/", h.CreateMapping)
			r.Get("/", h.ListMappings)
			r.Get("/resolve", h.ResolveMapping)
			r.Get("/{id}", h.GetMapping)
			r.Delete("/{id}", h.DeleteMapping)
		})
	})

	r.Get("/healthz", h.Health)

	return r
}

// requestLogger emits one structured line per request.
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
