package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/pixmora/backend/internal/config"
	"github.com/pixmora/backend/internal/database"
	"github.com/pixmora/backend/internal/handlers"
	"github.com/pixmora/backend/internal/logging"
	"github.com/pixmora/backend/internal/middleware"
	"github.com/pixmora/backend/internal/plans"
	"github.com/pixmora/backend/internal/processor"
	"github.com/pixmora/backend/internal/routes"
	"github.com/pixmora/backend/internal/services"
)

func main() {
	// Structured logging (JSON to stdout)
	logging.Setup()

	cfg := config.Load()

	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET environment variable is required")
		os.Exit(1)
	}
	if cfg.StripeSecretKey == "" || cfg.StripeWebhookSecret == "" {
		slog.Error("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET environment variables are required")
		os.Exit(1)
	}
	if cfg.DBPassword == "" {
		slog.Error("DB_PASSWORD environment variable is required")
		os.Exit(1)
	}

	// Plan catalog
	catalog, err := plans.LoadFromFile(cfg.PlansConfigPath)
	if err != nil {
		slog.Error("failed to load plan catalog", "path", cfg.PlansConfigPath, "error", err)
		os.Exit(1)
	}
	slog.Info("plan catalog loaded", "plans", len(catalog.All()))

	// Database
	db, err := database.Acquire(cfg)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(db); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(db)
	slog.SetDefault(slog.New(logging.NewMultiHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		pgLogHandler,
	)))

	// Background maintenance
	sweepDone := make(chan struct{})
	logging.StartCleanup(db, sweepDone)

	// Processor + services
	stripeClient := processor.NewStripeClient(cfg.StripeSecretKey, cfg.ProcessorTimeout)
	verifier := processor.NewVerifier(cfg.StripeWebhookSecret)

	ledgerService := services.NewLedgerService(db)
	dedup := services.NewDeduplicator(db)
	subscriptionService := services.NewSubscriptionService(db, stripeClient, catalog)
	checkoutService := services.NewCheckoutService(db, stripeClient, catalog,
		cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL, cfg.CheckoutSessionTTL)
	reconciler := services.NewReconciler(db, verifier, dedup, subscriptionService, ledgerService, checkoutService, catalog)

	checkoutService.StartExpirySweep(15*time.Minute, sweepDone)
	dedup.StartStaleSweep(10*time.Minute, 5*time.Minute, sweepDone)

	// Handlers
	healthHandler := handlers.NewHealthHandler(db, catalog)
	webhookHandler := handlers.NewWebhookHandler(reconciler)
	billingHandler := handlers.NewBillingHandler(checkoutService, subscriptionService)
	creditsHandler := handlers.NewCreditsHandler(ledgerService)

	// Sentry error tracking
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      os.Getenv("APP_ENV"),
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    1 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		return c.Next()
	})

	// Routes
	routes.Setup(app, cfg, db, healthHandler, webhookHandler, billingHandler, creditsHandler)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	close(sweepDone)
	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if err := database.Close(); err != nil {
		slog.Error("database close error", "error", err)
	}

	slog.Info("server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
