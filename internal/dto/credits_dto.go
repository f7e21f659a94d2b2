package dto

import (
	"time"

	"github.com/google/uuid"
)

type BalanceResponse struct {
	UserID  uuid.UUID `json:"user_id"`
	Balance int64     `json:"balance"`
}

type DebitRequest struct {
	Amount int64 `json:"amount"`
}

type AdminGrantRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Amount int64     `json:"amount"`
	Note   string    `json:"note,omitempty"`
}

type LedgerEntryResponse struct {
	ID        uuid.UUID `json:"id"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
