package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	LedgerReasonGrantRenewal = "grant-renewal"
	LedgerReasonGrantPromo   = "grant-promo"
	LedgerReasonDebitUsage   = "debit-usage"
	LedgerReasonReversal     = "reversal"
)

// LedgerEntry is one immutable credit movement. Rows are append-only; the
// unique index on source_event_id makes event-driven grants idempotent.
type LedgerEntry struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID        uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Amount        int64     `gorm:"not null" json:"amount"`
	Reason        string    `gorm:"size:50;not null" json:"reason"`
	SourceEventID *string   `gorm:"size:255;uniqueIndex" json:"source_event_id,omitempty"`
	Note          string    `gorm:"size:255" json:"note,omitempty"`
	CreatedAt     time.Time `gorm:"not null;index" json:"created_at"`
}
