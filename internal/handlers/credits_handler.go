package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/pixmora/backend/internal/dto"
	"github.com/pixmora/backend/internal/middleware"
	"github.com/pixmora/backend/internal/models"
	"github.com/pixmora/backend/internal/services"
)

type CreditsHandler struct {
	ledger *services.LedgerService
}

func NewCreditsHandler(ledger *services.LedgerService) *CreditsHandler {
	return &CreditsHandler{ledger: ledger}
}

// GetBalance returns the caller's derived balance.
func (h *CreditsHandler) GetBalance(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	balance, err := h.ledger.Balance(c.UserContext(), userID)
	if err != nil {
		return creditsError(c, err)
	}
	return c.JSON(dto.BalanceResponse{UserID: userID, Balance: balance})
}

// ListEntries returns the caller's recent ledger entries.
func (h *CreditsHandler) ListEntries(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	entries, err := h.ledger.Entries(c.UserContext(), userID, c.QueryInt("limit", 50))
	if err != nil {
		return creditsError(c, err)
	}

	out := make([]dto.LedgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, dto.LedgerEntryResponse{
			ID:        e.ID,
			Amount:    e.Amount,
			Reason:    e.Reason,
			Note:      e.Note,
			CreatedAt: e.CreatedAt,
		})
	}
	return c.JSON(out)
}

// Debit spends the caller's credits on generation usage.
func (h *CreditsHandler) Debit(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	var req dto.DebitRequest
	if err := c.BodyParser(&req); err != nil || req.Amount <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Amount must be a positive integer",
		})
	}

	if _, err := h.ledger.Debit(c.UserContext(), userID, req.Amount, models.LedgerReasonDebitUsage); err != nil {
		return creditsError(c, err)
	}

	balance, err := h.ledger.Balance(c.UserContext(), userID)
	if err != nil {
		return creditsError(c, err)
	}
	return c.JSON(dto.BalanceResponse{UserID: userID, Balance: balance})
}

// AdminGetBalance reads any user's balance (admin only).
func (h *CreditsHandler) AdminGetBalance(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("user_id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid user id",
		})
	}

	balance, err := h.ledger.Balance(c.UserContext(), userID)
	if err != nil {
		return creditsError(c, err)
	}
	return c.JSON(dto.BalanceResponse{UserID: userID, Balance: balance})
}

// AdminGrant credits a user manually (promo, support). No source event id, so
// every call appends a new entry.
func (h *CreditsHandler) AdminGrant(c *fiber.Ctx) error {
	var req dto.AdminGrantRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == uuid.Nil || req.Amount <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "user_id and a positive amount are required",
		})
	}

	if _, err := h.ledger.Grant(c.UserContext(), req.UserID, req.Amount, models.LedgerReasonGrantPromo, req.Note, nil); err != nil {
		return creditsError(c, err)
	}

	balance, err := h.ledger.Balance(c.UserContext(), req.UserID)
	if err != nil {
		return creditsError(c, err)
	}
	return c.JSON(dto.BalanceResponse{UserID: req.UserID, Balance: balance})
}

func creditsError(c *fiber.Ctx, err error) error {
	if errors.Is(err, services.ErrInsufficientBalance) {
		return c.Status(fiber.StatusPaymentRequired).JSON(dto.ErrorResponse{
			Error: true, Message: "Insufficient credit balance",
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
		Error: true, Message: "Internal server error",
	})
}
