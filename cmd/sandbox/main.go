package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kelseyhightower/envconfig"

	"banksandbox/internal/agreement"
	"banksandbox/internal/authz"
	"banksandbox/internal/bank"
	"banksandbox/internal/client"
	"banksandbox/internal/common/database"
	"banksandbox/internal/common/database/migrations"
	"banksandbox/internal/common/middleware"
	"banksandbox/internal/common/nats"
	"banksandbox/internal/consent"
	"banksandbox/internal/interbank"
	"banksandbox/internal/ledger"
	"banksandbox/internal/payment"
	"banksandbox/internal/token"
)

// Config holds service configuration
type Config struct {
	Port        int    `envconfig:"SANDBOX_PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`
	BankCode    string `envconfig:"BANK_CODE" default:"SANDBOX0"`

	Database database.Config
	NATS     nats.Config
	Consent  consent.Config
	Token    token.Config
	Interbank interbank.Config
}

func main() {
	// Load configuration
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to process config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	// Create context that listens for shutdown signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Apply schema migrations
	if err := migrations.Up(cfg.Database.URL); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	// Connect to database
	db, err := database.New(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to NATS and build the event publisher
	natsClient, err := nats.New(ctx, cfg.NATS, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	publisher := nats.NewPublisher(natsClient, logger)

	// Construct stores
	clientStore := client.NewStore(db)
	ledgerStore := ledger.NewStore(db)
	consentStore := consent.NewStore(db)
	paymentStore := payment.NewStore(db)
	agreementStore := agreement.NewStore(db)

	// Construct services
	capital := bank.NewService(db, logger)
	ledgerService := ledger.NewService(ledgerStore, capital)
	consentService := consent.NewService(consentStore, cfg.Consent, publisher, logger, cfg.BankCode)
	mediator := authz.NewMediator(consentService)
	tokenService := token.NewService(cfg.Token)
	settler := interbank.NewHTTPSettler(cfg.Interbank, logger)
	paymentService := payment.NewService(paymentStore, ledgerStore, consentStore, capital, settler, publisher, logger, cfg.BankCode)
	agreementService := agreement.NewService(agreementStore, ledgerStore, consentStore, capital, agreement.DefaultCatalog())

	// Construct handlers
	clientHandler := client.NewHandler(clientStore)
	ledgerHandler := ledger.NewHandler(ledgerService, mediator)
	consentHandler := consent.NewHandler(consentService)
	notificationHandler := consent.NewNotificationHandler(consentService)
	paymentHandler := payment.NewHandler(paymentService)
	agreementHandler := agreement.NewHandler(agreementService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.BankCodeExtractor(cfg.BankCode))
	r.Use(chimw.Compress(5))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.HealthCheck(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Ready check
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// Public onboarding surface: no bearer token required to create a
	// client, since a client has no token until it exists.
	r.Route("/api/v1/clients", func(r chi.Router) {
		r.Mount("/", clientHandler.Routes())
	})

	// Bearer-token protected surface: the caller's token class (client,
	// institution, or staff) resolves the principal every other
	// component decides against, so consents and notifications sit
	// behind BearerAuth alongside ledger, payment, and agreement
	// operations.
	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(tokenService))

		r.Route("/api/v1/consents", func(r chi.Router) {
			r.Mount("/", consentHandler.Routes())
		})
		r.Route("/api/v1/notifications", func(r chi.Router) {
			r.Mount("/", notificationHandler.Routes())
		})
		r.Route("/api/v1/accounts", func(r chi.Router) {
			r.Mount("/", ledgerHandler.Routes())
		})
		r.Route("/api/v1/payments", func(r chi.Router) {
			r.Mount("/", paymentHandler.Routes())
		})
		r.Route("/api/v1/agreements", func(r chi.Router) {
			r.Mount("/", agreementHandler.Routes())
		})
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting sandbox service",
			"port", cfg.Port,
			"environment", cfg.Environment,
			"bank_code", cfg.BankCode,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	logger.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("server stopped")
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
