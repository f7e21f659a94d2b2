package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pixmora/backend/internal/models"
	"github.com/pixmora/backend/internal/plans"
	"github.com/pixmora/backend/internal/processor"
	"gorm.io/gorm"
)

// SubscriptionService owns the subscription lifecycle. Event-driven methods
// (apply*Tx) are called by the reconciler inside the per-event transaction and
// mutate state per the transition tables. Local user actions mirror the
// request to the processor first and record intent; state flips only when the
// confirming event arrives.
type SubscriptionService struct {
	db      *gorm.DB
	client  processor.Client
	catalog *plans.Registry
}

func NewSubscriptionService(db *gorm.DB, client processor.Client, catalog *plans.Registry) *SubscriptionService {
	return &SubscriptionService{db: db, client: client, catalog: catalog}
}

// GetByUser returns the user's current (non-expired) subscription.
func (s *SubscriptionService) GetByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func findByExternalIDTx(tx *gorm.DB, externalID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := tx.Where("stripe_subscription_id = ?", externalID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// createFromCheckoutTx creates the subscription for a completed checkout.
// Initial status is trialing when the plan carries a trial, active otherwise.
// A redelivered completion for an already-created subscription is a no-op.
func (s *SubscriptionService) createFromCheckoutTx(tx *gorm.DB, sess *models.CheckoutSession, cc *processor.CheckoutCompleted) (*models.Subscription, error) {
	if existing, err := findByExternalIDTx(tx, cc.SubscriptionID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}

	plan := s.catalog.Get(sess.Plan)
	if plan == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, sess.Plan)
	}

	status := models.SubscriptionStatusActive
	if plan.TrialDays > 0 {
		status = models.SubscriptionStatusTrialing
	}

	sub := models.Subscription{
		ID:                   uuid.New(),
		UserID:               sess.UserID,
		StripeSubscriptionID: cc.SubscriptionID,
		Plan:                 sess.Plan,
		Status:               status,
		CurrentPeriodStart:   time.Now().UTC(),
	}
	if err := tx.Create(&sub).Error; err != nil {
		return nil, err
	}

	if cc.CustomerID != "" {
		if err := tx.Model(&models.User{}).Where("id = ?", sess.UserID).
			UpdateColumn("stripe_customer_id", cc.CustomerID).Error; err != nil {
			return nil, err
		}
	}
	return &sub, nil
}

// applyInvoicePaidTx moves the subscription to active and syncs the paid
// period. Returns ok=false when the transition is undefined for the current
// status (e.g. a late invoice for an expired subscription). The UPDATE is
// guarded on the status the decision was made from: if a concurrent handler
// moved the row since sub was read, nothing is applied.
func (s *SubscriptionService) applyInvoicePaidTx(tx *gorm.DB, sub *models.Subscription, inv *processor.InvoicePaid) (bool, error) {
	next, ok := NextStatus(sub.Status, processor.KindInvoicePaid)
	if !ok {
		return false, nil
	}

	updates := map[string]interface{}{"status": next}
	if !inv.PeriodStart.IsZero() {
		updates["current_period_start"] = inv.PeriodStart
	}
	if !inv.PeriodEnd.IsZero() {
		updates["current_period_end"] = inv.PeriodEnd
	}
	res := tx.Model(sub).Where("status = ?", sub.Status).Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	sub.Status = next
	return true, nil
}

func (s *SubscriptionService) applyInvoiceFailedTx(tx *gorm.DB, sub *models.Subscription) (bool, error) {
	next, ok := NextStatus(sub.Status, processor.KindInvoicePaymentFailed)
	if !ok {
		return false, nil
	}
	res := tx.Model(sub).Where("status = ?", sub.Status).Update("status", next)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	sub.Status = next
	return true, nil
}

// applySubscriptionUpdatedTx syncs processor-confirmed changes: cancel and
// reactivate confirmations, plan changes, and period bounds. Combinations the
// state machine does not define leave the status untouched.
func (s *SubscriptionService) applySubscriptionUpdatedTx(tx *gorm.DB, sub *models.Subscription, change *processor.SubscriptionChange) (bool, error) {
	if sub.Status == models.SubscriptionStatusExpired {
		return false, nil
	}

	updates := map[string]interface{}{}
	applied := false

	if change.CancelAtPeriodEnd && !sub.CancelAtPeriodEnd && cancelConfirmAllowed(sub.Status) {
		updates["status"] = models.SubscriptionStatusCanceled
		updates["cancel_at_period_end"] = true
		applied = true
	}
	if !change.CancelAtPeriodEnd && sub.Status == models.SubscriptionStatusCanceled {
		// Reactivation confirmed before period end.
		updates["status"] = models.SubscriptionStatusActive
		updates["cancel_at_period_end"] = false
		applied = true
	}

	if change.PriceID != "" {
		if plan := s.catalog.ByPriceID(change.PriceID); plan != nil && plan.ID != sub.Plan {
			updates["plan"] = plan.ID
			applied = true
		}
	}

	if !change.PeriodStart.IsZero() {
		updates["current_period_start"] = change.PeriodStart
	}
	if !change.PeriodEnd.IsZero() {
		updates["current_period_end"] = change.PeriodEnd
	}

	if applied {
		updates["pending_action"] = models.PendingActionNone
		updates["pending_plan"] = ""
	}
	if len(updates) == 0 {
		return false, nil
	}
	res := tx.Model(sub).Where("status = ?", sub.Status).Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	if v, ok := updates["status"]; ok {
		sub.Status = v.(string)
	}
	return applied, nil
}

// applySubscriptionDeletedTx expires the subscription terminally and soft
// deletes the row.
func (s *SubscriptionService) applySubscriptionDeletedTx(tx *gorm.DB, sub *models.Subscription) (bool, error) {
	next, ok := NextStatus(sub.Status, processor.KindSubscriptionDeleted)
	if !ok {
		return false, nil
	}
	res := tx.Model(sub).Where("status = ?", sub.Status).Updates(map[string]interface{}{
		"status":         next,
		"pending_action": models.PendingActionNone,
		"pending_plan":   "",
	})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	if err := tx.Delete(sub).Error; err != nil {
		return false, err
	}
	sub.Status = next
	return true, nil
}

// Cancel asks the processor to cancel, then records the intent. Local status
// stays unchanged until the confirming event arrives. If the outbound request
// fails, nothing is recorded.
func (s *SubscriptionService) Cancel(ctx context.Context, userID uuid.UUID, atPeriodEnd bool) (*models.Subscription, error) {
	sub, err := s.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !cancelConfirmAllowed(sub.Status) {
		return nil, fmt.Errorf("%w: cannot cancel while %s", ErrActionNotAllowed, sub.Status)
	}

	if err := s.client.CancelSubscription(ctx, sub.StripeSubscriptionID, atPeriodEnd); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(sub).
		Update("pending_action", models.PendingActionCancel).Error; err != nil {
		return nil, err
	}
	slog.Info("cancel requested", "user_id", userID, "subscription", sub.StripeSubscriptionID, "at_period_end", atPeriodEnd)
	return sub, nil
}

// Reactivate clears a pending cancellation. Allowed only while canceled and
// before the period end.
func (s *SubscriptionService) Reactivate(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusCanceled {
		return nil, fmt.Errorf("%w: cannot reactivate while %s", ErrActionNotAllowed, sub.Status)
	}
	if !sub.CurrentPeriodEnd.IsZero() && time.Now().After(sub.CurrentPeriodEnd) {
		return nil, fmt.Errorf("%w: billing period already ended", ErrActionNotAllowed)
	}

	if err := s.client.ReactivateSubscription(ctx, sub.StripeSubscriptionID); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(sub).
		Update("pending_action", models.PendingActionReactivate).Error; err != nil {
		return nil, err
	}
	slog.Info("reactivation requested", "user_id", userID, "subscription", sub.StripeSubscriptionID)
	return sub, nil
}

// ChangePlan swaps the subscription to another catalog plan, unprorated. The
// next renewal grants the new plan's full allotment.
func (s *SubscriptionService) ChangePlan(ctx context.Context, userID uuid.UUID, planID string) (*models.Subscription, error) {
	plan := s.catalog.Get(planID)
	if plan == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, planID)
	}

	sub, err := s.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !cancelConfirmAllowed(sub.Status) {
		return nil, fmt.Errorf("%w: cannot change plan while %s", ErrActionNotAllowed, sub.Status)
	}
	if sub.Plan == planID {
		return sub, nil
	}

	if err := s.client.ChangePlan(ctx, sub.StripeSubscriptionID, plan.StripePriceID); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(sub).Updates(map[string]interface{}{
		"pending_action": models.PendingActionPlanChange,
		"pending_plan":   planID,
	}).Error; err != nil {
		return nil, err
	}
	slog.Info("plan change requested", "user_id", userID, "subscription", sub.StripeSubscriptionID, "plan", planID)
	return sub, nil
}
