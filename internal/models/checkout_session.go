package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	CheckoutStatusPending   = "pending"
	CheckoutStatusFulfilled = "fulfilled"
	CheckoutStatusExpired   = "expired"
)

// CheckoutSession correlates a hosted checkout started for a local user with
// the completion event the processor eventually delivers.
type CheckoutSession struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID          uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	StripeSessionID string    `gorm:"size:255;not null;uniqueIndex" json:"stripe_session_id"`
	Plan            string    `gorm:"size:50;not null" json:"plan"`
	Status          string    `gorm:"size:20;not null;default:'pending';index" json:"status"`
	ExpiresAt       time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
