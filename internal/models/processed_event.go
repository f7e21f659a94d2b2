package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	EventOutcomeInProgress = "in_progress"
	EventOutcomeApplied    = "applied"
	EventOutcomeIgnored    = "ignored"
	EventOutcomeRejected   = "rejected"
)

// ProcessedEvent records the fate of every external billing event. The unique
// index on event_id is what makes the dedup reservation atomic under
// concurrent deliveries: the losing inserter sees a conflict and reads the
// winner's row.
type ProcessedEvent struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EventID     string         `gorm:"size:255;not null;uniqueIndex" json:"event_id"`
	EventType   string         `gorm:"size:100" json:"event_type"`
	Outcome     string         `gorm:"size:20;not null;index" json:"outcome"`
	Payload     datatypes.JSON `gorm:"type:jsonb" json:"-"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
}
