package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pixmora/backend/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReservationState is the deduplicator's verdict for an inbound event id.
type ReservationState int

const (
	// ReservationNew means this handler now owns the event id. The owner must
	// either mark an outcome or release the reservation.
	ReservationNew ReservationState = iota
	// ReservationAlreadyApplied means a prior delivery committed (or was
	// intentionally ignored/rejected); short-circuit without side effects.
	ReservationAlreadyApplied
	// ReservationInProgress means a concurrent handler holds the id right
	// now; the delivery should be retried later.
	ReservationInProgress
)

// Deduplicator maps external event ids to processing state. Atomicity under
// concurrent deliveries of the same id comes from the unique index on
// processed_events.event_id: exactly one inserter wins.
type Deduplicator struct {
	db *gorm.DB
}

func NewDeduplicator(db *gorm.DB) *Deduplicator {
	return &Deduplicator{db: db}
}

// CheckAndReserve reserves eventID for processing. The reservation
// (in_progress) and the final outcome are distinct states: a failed handler
// releases the reservation so a legitimate retry can succeed.
func (d *Deduplicator) CheckAndReserve(ctx context.Context, eventID, eventType string, payload []byte) (ReservationState, *models.ProcessedEvent, error) {
	record := models.ProcessedEvent{
		ID:        uuid.New(),
		EventID:   eventID,
		EventType: eventType,
		Outcome:   models.EventOutcomeInProgress,
		Payload:   datatypes.JSON(payload),
	}

	res := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&record)
	if res.Error != nil {
		return 0, nil, res.Error
	}

	if res.RowsAffected > 0 {
		return ReservationNew, &record, nil
	}

	var existing models.ProcessedEvent
	if err := d.db.WithContext(ctx).Where("event_id = ?", eventID).First(&existing).Error; err != nil {
		return 0, nil, err
	}
	if existing.Outcome == models.EventOutcomeInProgress {
		return ReservationInProgress, &existing, nil
	}
	return ReservationAlreadyApplied, &existing, nil
}

// markOutcomeTx finalizes a reservation inside the event's commit transaction.
func (d *Deduplicator) markOutcomeTx(tx *gorm.DB, eventID, outcome string) error {
	now := time.Now().UTC()
	return tx.Model(&models.ProcessedEvent{}).
		Where("event_id = ? AND outcome = ?", eventID, models.EventOutcomeInProgress).
		Updates(map[string]interface{}{
			"outcome":      outcome,
			"processed_at": now,
		}).Error
}

// MarkOutcome finalizes a reservation outside any larger transaction.
func (d *Deduplicator) MarkOutcome(ctx context.Context, eventID, outcome string) error {
	return d.markOutcomeTx(d.db.WithContext(ctx), eventID, outcome)
}

// Release frees a reservation after a transient failure so the processor's
// retry is treated as new.
func (d *Deduplicator) Release(ctx context.Context, eventID string) error {
	return d.db.WithContext(ctx).
		Where("event_id = ? AND outcome = ?", eventID, models.EventOutcomeInProgress).
		Delete(&models.ProcessedEvent{}).Error
}

// StartStaleSweep releases in_progress reservations older than maxAge. A
// handler that crashed between reserve and commit would otherwise pin its
// event id forever.
func (d *Deduplicator) StartStaleSweep(maxAge, interval time.Duration, done chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cutoff := time.Now().Add(-maxAge)
				result := d.db.
					Where("outcome = ? AND created_at < ?", models.EventOutcomeInProgress, cutoff).
					Delete(&models.ProcessedEvent{})
				if result.Error != nil {
					slog.Error("stale reservation sweep failed", "error", result.Error)
				} else if result.RowsAffected > 0 {
					slog.Info("released stale event reservations", "count", result.RowsAffected)
				}
			case <-done:
				return
			}
		}
	}()
}
