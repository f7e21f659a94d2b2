package dto

import (
	"time"

	"github.com/google/uuid"
)

type CreateCheckoutRequest struct {
	Plan string `json:"plan"`
}

type CreateCheckoutResponse struct {
	RedirectURL string `json:"redirect_url"`
}

type CancelSubscriptionRequest struct {
	AtPeriodEnd bool `json:"at_period_end"`
}

type ChangePlanRequest struct {
	Plan string `json:"plan"`
}

// SubscriptionResponse reports committed state plus any pending action whose
// confirmation from the processor is still in flight.
type SubscriptionResponse struct {
	ID                 uuid.UUID `json:"id"`
	Plan               string    `json:"plan"`
	Status             string    `json:"status"`
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`
	CancelAtPeriodEnd  bool      `json:"cancel_at_period_end"`
	PendingAction      string    `json:"pending_action,omitempty"`
}
