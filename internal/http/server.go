package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/homegoods/storefront/internal/auth"
	"github.com/homegoods/storefront/internal/http/handlers"
	"github.com/homegoods/storefront/internal/metrics"
	"github.com/homegoods/storefront/internal/orders"
	"github.com/homegoods/storefront/internal/payments"
	"github.com/homegoods/storefront/internal/repo"
	"github.com/rs/zerolog"
)

// Stores bundles the repositories the API runs on
type Stores struct {
	Accounts      repo.AccountRepo
	Confirmations repo.ConfirmationRepo
	Refresh       repo.RefreshRepo
	Customers     repo.CustomerRepo
	Orders        repo.OrderRepo
	Payments      repo.PaymentRepo
}

// Options configures NewServer
type Options struct {
	JWT            *auth.JWTService
	Auth           auth.ServiceOptions
	Mailer         auth.Mailer
	Gateway        payments.Gateway
	CallbackURL    string
	CallbackSecret string
	// DB is pinged by /health; nil skips the check
	DB handlers.Pinger
}

// Server is the assembled API
type Server struct {
	Router   *chi.Mux
	Auth     *auth.Service
	Payments *payments.Service

	handlers Handlers
}

// NewServer wires services and handlers over the given stores
func NewServer(stores Stores, opts Options, m *metrics.Metrics, logger zerolog.Logger) *Server {
	authService := auth.NewService(stores.Accounts, stores.Confirmations, stores.Refresh, opts.JWT, opts.Mailer, opts.Auth, logger)
	orderService := orders.NewService(stores.Orders)
	paymentService := payments.NewService(orderService, stores.Payments, opts.Gateway, opts.CallbackURL, m, logger)

	h := Handlers{
		Health:    handlers.NewHealthHandler(opts.DB),
		Auth:      handlers.NewAuthHandler(authService, m),
		Customers: handlers.NewCustomerHandler(stores.Customers, stores.Accounts),
		Orders:    handlers.NewOrderHandler(orderService, stores.Customers),
		Payments:  handlers.NewPaymentHandler(paymentService, stores.Customers, opts.CallbackSecret),
	}

	return &Server{
		Router:   NewRouter(h, opts.JWT, stores.Accounts, m, logger),
		Auth:     authService,
		Payments: paymentService,
		handlers: h,
	}
}

// Close releases background resources held by the handlers
func (s *Server) Close() {
	s.handlers.Auth.Close()
	s.handlers.Payments.Close()
}
