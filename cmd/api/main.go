package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/homegoods/storefront/internal/auth"
	"github.com/homegoods/storefront/internal/config"
	"github.com/homegoods/storefront/internal/db"
	httpserver "github.com/homegoods/storefront/internal/http"
	"github.com/homegoods/storefront/internal/logging"
	"github.com/homegoods/storefront/internal/metrics"
	"github.com/homegoods/storefront/internal/payments"
	"github.com/homegoods/storefront/internal/repo"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

func main() {
	// Env vars override values from .env
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open database")
	}
	defer database.Close()

	if err := db.Migrate(database); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	registry := metrics.NewRegistry(true)
	m := metrics.New(registry)

	var gateway payments.Gateway
	var sandbox *payments.SandboxGateway
	if cfg.Gateway.Sandbox() {
		sandbox = payments.NewSandboxGateway(cfg.Gateway.SandboxDelay, logger)
		defer sandbox.Close()
		gateway = sandbox
		logger.Warn().Dur("delay", cfg.Gateway.SandboxDelay).Msg("using sandbox payment gateway")
	} else {
		gateway = payments.NewHTTPGateway(cfg.Gateway.URL, cfg.Gateway.APIKey, nil)
	}

	server := httpserver.NewServer(httpserver.Stores{
		Accounts:      repo.NewAccountRepo(database),
		Confirmations: repo.NewConfirmationRepo(database),
		Refresh:       repo.NewRefreshRepo(database),
		Customers:     repo.NewCustomerRepo(database),
		Orders:        repo.NewOrderRepo(database),
		Payments:      repo.NewPaymentRepo(database),
	}, httpserver.Options{
		JWT: auth.NewJWTService(cfg.JWTSecret, cfg.AccessTokenTTL),
		Auth: auth.ServiceOptions{
			ConfirmationSalt: cfg.ConfirmationSalt,
			RefreshTokenTTL:  cfg.RefreshTokenTTL,
			AutoConfirm:      cfg.DevMode,
		},
		Mailer:         auth.NewLogMailer(logging.Component(logger, "mailer")),
		Gateway:        gateway,
		CallbackURL:    cfg.Gateway.CallbackURL,
		CallbackSecret: cfg.Gateway.CallbackSecret,
		DB:             database,
	}, m, logger)
	defer server.Close()

	if sandbox != nil {
		sandbox.Bind(server.Payments.HandleCallback)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Bool("dev_mode", cfg.DevMode).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
		return
	}

	logger.Info().Msg("server exited")
}
