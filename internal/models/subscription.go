package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
	SubscriptionStatusExpired  = "expired"
)

// Pending local actions mirrored to the processor but not yet confirmed by a
// webhook event.
const (
	PendingActionNone       = ""
	PendingActionCancel     = "cancel"
	PendingActionReactivate = "reactivate"
	PendingActionPlanChange = "plan_change"
)

// Subscription mirrors the processor-side subscription for exactly one user.
// Status is mutated only by the reconciliation path in response to verified
// events; user actions record intent and wait for the confirming event.
type Subscription struct {
	ID                   uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	UserID               uuid.UUID      `gorm:"type:uuid;not null;index" json:"user_id"`
	StripeSubscriptionID string         `gorm:"size:255;uniqueIndex" json:"stripe_subscription_id"`
	Plan                 string         `gorm:"size:50;not null" json:"plan"`
	Status               string         `gorm:"size:20;not null;index" json:"status"`
	CurrentPeriodStart   time.Time      `json:"current_period_start"`
	CurrentPeriodEnd     time.Time      `json:"current_period_end"`
	CancelAtPeriodEnd    bool           `gorm:"default:false" json:"cancel_at_period_end"`
	PendingAction        string         `gorm:"size:50;default:''" json:"pending_action,omitempty"`
	PendingPlan          string         `gorm:"size:50;default:''" json:"-"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	DeletedAt            gorm.DeletedAt `gorm:"index" json:"-"`
	User                 User           `gorm:"foreignKey:UserID" json:"-"`
}
