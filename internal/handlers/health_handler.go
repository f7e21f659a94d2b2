package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pixmora/backend/internal/database"
	"github.com/pixmora/backend/internal/dto"
	"github.com/pixmora/backend/internal/plans"
	"gorm.io/gorm"
)

type HealthHandler struct {
	db      *gorm.DB
	catalog *plans.Registry
}

func NewHealthHandler(db *gorm.DB, catalog *plans.Registry) *HealthHandler {
	return &HealthHandler{db: db, catalog: catalog}
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	dbStatus := "ok"
	if err := database.Ping(h.db); err != nil {
		dbStatus = "unhealthy: " + err.Error()
	}

	return c.JSON(dto.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		DB:        dbStatus,
		PlanCount: len(h.catalog.All()),
	})
}
