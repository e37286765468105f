/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     zap access log carrying the request ID
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the web frontend

ROUTE GROUPS:
  /api/signup, /api/login, /api/logout   Public
  /api/home, /api/account/*              Session required
  /home/*                                Form-post aliases of the account routes
  /healthz                               Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - session.go: RequireSession middleware
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
)

// RouterOptions configure cross-cutting HTTP behavior.
type RouterOptions struct {
	AllowedOrigins []string
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", idempotencyKeyHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/signup", h.Signup)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireSession)

			r.Get("/home", h.Home)

			r.Route("/account", func(r chi.Router) {
				r.Get("/", h.GetAccount)
				r.Delete("/", h.DeleteAccount)
				r.Post("/deposit", h.Deposit)
				r.Get("/transactions", h.GetTransactions)

				r.Route("/investments", func(r chi.Router) {
					r.Post("/", h.OpenInvestment)
					r.Put("/{id}", h.UpdateInvestment)
					r.Post("/{id}/close", h.CloseInvestment)
				})
			})
		})
	})

	// Form-post routes kept for existing clients.
	r.Route("/home", func(r chi.Router) {
		r.Use(h.RequireSession)
		r.Get("/", h.Home)
		r.Post("/deposit", h.Deposit)
		r.Post("/invest", h.OpenInvestment)
		r.Post("/investments/{id}/update", h.UpdateInvestment)
		r.Post("/investments/{id}/close", h.CloseInvestment)
	})

	return r
}

// RequestLogger writes one zap line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			zap.L().Info("http request",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)))
		}()

		next.ServeHTTP(ww, r)
	})
}
