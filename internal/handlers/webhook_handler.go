package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/pixmora/backend/internal/dto"
	"github.com/pixmora/backend/internal/processor"
	"github.com/pixmora/backend/internal/services"
)

type WebhookHandler struct {
	reconciler *services.Reconciler
}

func NewWebhookHandler(reconciler *services.Reconciler) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler}
}

// HandleStripe receives raw Stripe deliveries. The body must stay unparsed
// until signature verification, so this route never goes through BodyParser.
// 200 means "do not retry" (applied, intentionally ignored, or permanently
// rejected); non-2xx asks Stripe to redeliver with backoff.
func (h *WebhookHandler) HandleStripe(c *fiber.Ctx) error {
	payload := c.Body()
	sigHeader := c.Get("Stripe-Signature")

	decision, err := h.reconciler.Handle(c.UserContext(), payload, sigHeader)
	switch decision {
	case services.AckApplied, services.AckIgnored, services.AckRejected:
		return c.JSON(fiber.Map{"received": true})
	default:
		if errors.Is(err, processor.ErrInvalidSignature) {
			slog.Warn("webhook signature rejected", "error", err)
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: true, Message: "Invalid signature",
			})
		}
		if errors.Is(err, services.ErrEventInProgress) {
			return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
				Error: true, Message: "Event is being processed",
			})
		}
		slog.Error("webhook processing failed", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
			Error: true, Message: "Temporary failure, please retry",
		})
	}
}
