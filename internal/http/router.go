package http

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/homegoods/storefront/internal/auth"
	"github.com/homegoods/storefront/internal/http/handlers"
	"github.com/homegoods/storefront/internal/metrics"
	"github.com/homegoods/storefront/internal/middleware"
	"github.com/homegoods/storefront/internal/repo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Handlers groups the endpoint handlers mounted by NewRouter
type Handlers struct {
	Health    *handlers.HealthHandler
	Auth      *handlers.AuthHandler
	Customers *handlers.CustomerHandler
	Orders    *handlers.OrderHandler
	Payments  *handlers.PaymentHandler
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(h Handlers, jwtService *auth.JWTService, accounts repo.AccountRepo, m *metrics.Metrics, logger zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.AccessHandler(func(r *stdhttp.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(chimw.Recoverer)

	r.Get("/health", h.Health.ServeHTTP)
	r.Method(stdhttp.MethodGet, "/metrics", m.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Post("/sign_up", h.Auth.HandleSignUp)
		r.Post("/confirm", h.Auth.HandleConfirm)
		r.Post("/resend", h.Auth.HandleResend)
		r.Post("/sign_in", h.Auth.HandleSignIn)
		r.Post("/refresh", h.Auth.HandleRefresh)
		r.Post("/sign_out", h.Auth.HandleSignOut)
		r.With(middleware.AuthMiddleware(jwtService, accounts)).Get("/session", h.Auth.HandleSession)
	})

	// Gateway callbacks authenticate with a shared secret, not a user token
	r.Post("/payments/callback", h.Payments.HandleCallback)

	r.With(middleware.OptionalAuthMiddleware(jwtService, accounts)).Post("/customers", h.Customers.HandleCreate)

	// Protected routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(jwtService, accounts))

		r.Get("/customers/lookup", h.Customers.HandleLookup)

		r.Post("/orders", h.Orders.HandleCreate)
		r.Get("/orders", h.Orders.HandleList)
		r.Get("/orders/{id}", h.Orders.HandleGet)
		r.Get("/orders/{id}/payment-status", h.Payments.HandleStatus)

		r.With(h.Payments.PushRateLimit()).Post("/payments/stk-push", h.Payments.HandleSTKPush)
	})

	return r
}
