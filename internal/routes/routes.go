package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/pixmora/backend/internal/config"
	"github.com/pixmora/backend/internal/handlers"
	"github.com/pixmora/backend/internal/middleware"
	"gorm.io/gorm"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	db *gorm.DB,
	healthHandler *handlers.HealthHandler,
	webhookHandler *handlers.WebhookHandler,
	billingHandler *handlers.BillingHandler,
	creditsHandler *handlers.CreditsHandler,
) {
	api := app.Group("/api")

	// Health (public)
	api.Get("/health", healthHandler.Check)

	// Webhooks are authenticated by signature, not JWT, and exempt from any
	// rate limiting so bursts of processor retries are not dropped.
	api.Post("/webhooks/stripe", webhookHandler.HandleStripe)

	// General API rate limiter: 60 req/min per IP
	limited := api.Group("", limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	// Billing (JWT required)
	billing := limited.Group("/billing", middleware.JWTProtected(cfg))
	billing.Post("/checkout", billingHandler.CreateCheckout)
	billing.Get("/subscription", billingHandler.GetSubscription)
	billing.Post("/subscription/cancel", billingHandler.Cancel)
	billing.Post("/subscription/reactivate", billingHandler.Reactivate)
	billing.Post("/subscription/plan", billingHandler.ChangePlan)

	// Credits (JWT required)
	credits := limited.Group("/credits", middleware.JWTProtected(cfg))
	credits.Get("/balance", creditsHandler.GetBalance)
	credits.Get("/entries", creditsHandler.ListEntries)
	credits.Post("/debit", creditsHandler.Debit)

	// Admin (JWT + admin role required)
	admin := limited.Group("/admin", middleware.JWTProtected(cfg), middleware.AdminRequired(db, cfg))
	admin.Get("/credits/:user_id/balance", creditsHandler.AdminGetBalance)
	admin.Post("/credits/grant", creditsHandler.AdminGrant)
}
