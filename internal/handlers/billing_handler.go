package handlers

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/pixmora/backend/internal/dto"
	"github.com/pixmora/backend/internal/middleware"
	"github.com/pixmora/backend/internal/models"
	"github.com/pixmora/backend/internal/processor"
	"github.com/pixmora/backend/internal/services"
)

type BillingHandler struct {
	checkout *services.CheckoutService
	subs     *services.SubscriptionService
}

func NewBillingHandler(checkout *services.CheckoutService, subs *services.SubscriptionService) *BillingHandler {
	return &BillingHandler{checkout: checkout, subs: subs}
}

// CreateCheckout starts a hosted checkout and returns the redirect URL.
func (h *BillingHandler) CreateCheckout(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	var req dto.CreateCheckoutRequest
	if err := c.BodyParser(&req); err != nil || req.Plan == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Plan is required",
		})
	}

	url, err := h.checkout.CreateCheckout(c.UserContext(), userID, req.Plan)
	if err != nil {
		return billingError(c, err)
	}
	return c.JSON(dto.CreateCheckoutResponse{RedirectURL: url})
}

// GetSubscription returns the caller's committed subscription state.
func (h *BillingHandler) GetSubscription(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	sub, err := h.subs.GetByUser(c.UserContext(), userID)
	if err != nil {
		return billingError(c, err)
	}
	return c.JSON(subscriptionResponse(sub))
}

// Cancel records a cancel intent; committed state flips once the processor
// confirms via webhook.
func (h *BillingHandler) Cancel(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	req := dto.CancelSubscriptionRequest{AtPeriodEnd: true}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: true, Message: "Invalid request body",
			})
		}
	}

	sub, err := h.subs.Cancel(c.UserContext(), userID, req.AtPeriodEnd)
	if err != nil {
		return billingError(c, err)
	}
	return c.JSON(subscriptionResponse(sub))
}

func (h *BillingHandler) Reactivate(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	sub, err := h.subs.Reactivate(c.UserContext(), userID)
	if err != nil {
		return billingError(c, err)
	}
	return c.JSON(subscriptionResponse(sub))
}

func (h *BillingHandler) ChangePlan(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	var req dto.ChangePlanRequest
	if err := c.BodyParser(&req); err != nil || req.Plan == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Plan is required",
		})
	}

	sub, err := h.subs.ChangePlan(c.UserContext(), userID, req.Plan)
	if err != nil {
		return billingError(c, err)
	}
	return c.JSON(subscriptionResponse(sub))
}

func subscriptionResponse(sub *models.Subscription) dto.SubscriptionResponse {
	return dto.SubscriptionResponse{
		ID:                 sub.ID,
		Plan:               sub.Plan,
		Status:             sub.Status,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		PendingAction:      sub.PendingAction,
	}
}

func billingError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrUnknownPlan):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Unknown plan",
		})
	case errors.Is(err, services.ErrSubscriptionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: "No subscription found",
		})
	case errors.Is(err, services.ErrActionNotAllowed):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{
			Error: true, Message: err.Error(),
		})
	case errors.Is(err, processor.ErrUnavailable):
		slog.Error("processor call failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{
			Error: true, Message: "Payment provider is unavailable, please try again",
		})
	default:
		slog.Error("billing request failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
			Error: true, Message: "Internal server error",
		})
	}
}
