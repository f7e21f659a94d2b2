package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pixmora/backend/internal/models"
	"github.com/pixmora/backend/internal/plans"
	"github.com/pixmora/backend/internal/processor"
	"gorm.io/gorm"
)

// AckDecision tells the webhook endpoint how to answer the processor.
// Applied, Ignored and Rejected all acknowledge the delivery (do not retry);
// Retry asks for redelivery.
type AckDecision int

const (
	AckApplied AckDecision = iota
	AckIgnored
	AckRejected
	AckRetry
)

// Reconciler applies one verified billing event to local state exactly once:
// verify, dedup-reserve, route to the state machine and ledger inside a
// single transaction, mark applied. Any post-reservation failure releases the
// reservation so the processor's retry starts fresh.
type Reconciler struct {
	db       *gorm.DB
	verifier *processor.Verifier
	dedup    *Deduplicator
	subs     *SubscriptionService
	ledger   *LedgerService
	checkout *CheckoutService
	catalog  *plans.Registry
}

func NewReconciler(
	db *gorm.DB,
	verifier *processor.Verifier,
	dedup *Deduplicator,
	subs *SubscriptionService,
	ledger *LedgerService,
	checkout *CheckoutService,
	catalog *plans.Registry,
) *Reconciler {
	return &Reconciler{
		db:       db,
		verifier: verifier,
		dedup:    dedup,
		subs:     subs,
		ledger:   ledger,
		checkout: checkout,
		catalog:  catalog,
	}
}

// Handle processes one raw webhook delivery.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, sigHeader string) (AckDecision, error) {
	ev, err := r.verifier.Verify(payload, sigHeader)
	if err != nil {
		if errors.Is(err, processor.ErrMalformedPayload) {
			// Authentic but structurally broken: retrying cannot fix it, so
			// record the rejection and acknowledge to stop the redelivery loop.
			slog.Error("malformed webhook payload", "error", err)
			if ev != nil && ev.ID != "" {
				if state, _, rerr := r.dedup.CheckAndReserve(ctx, ev.ID, ev.Type, payload); rerr == nil && state == ReservationNew {
					if merr := r.dedup.MarkOutcome(ctx, ev.ID, models.EventOutcomeRejected); merr != nil {
						slog.Error("failed to record event rejection", "event_id", ev.ID, "error", merr)
					}
				}
			}
			return AckRejected, nil
		}
		return AckRetry, err
	}

	state, existing, err := r.dedup.CheckAndReserve(ctx, ev.ID, ev.Type, ev.Raw)
	if err != nil {
		return AckRetry, err
	}

	switch state {
	case ReservationAlreadyApplied:
		slog.Info("duplicate event short-circuited", "event_id", ev.ID, "event_type", ev.Type, "outcome", existing.Outcome)
		return outcomeToAck(existing.Outcome), nil
	case ReservationInProgress:
		return AckRetry, ErrEventInProgress
	}

	decision, err := r.process(ctx, ev)
	if err != nil {
		if relErr := r.dedup.Release(ctx, ev.ID); relErr != nil {
			slog.Error("failed to release event reservation", "event_id", ev.ID, "error", relErr)
		}
		return AckRetry, err
	}
	return decision, nil
}

// process routes a newly reserved event. The transition, any ledger grant and
// the applied marker commit in one transaction or not at all.
func (r *Reconciler) process(ctx context.Context, ev *processor.Event) (AckDecision, error) {
	switch ev.Kind {
	case processor.KindCheckoutCompleted:
		return r.applyCheckoutCompleted(ctx, ev)
	case processor.KindInvoicePaid:
		return r.applyInvoicePaid(ctx, ev)
	case processor.KindInvoicePaymentFailed:
		return r.applySubscriptionEvent(ctx, ev, ev.InvoiceFailed.SubscriptionID)
	case processor.KindSubscriptionUpdated, processor.KindSubscriptionDeleted:
		return r.applySubscriptionEvent(ctx, ev, ev.Subscription.SubscriptionID)
	default:
		if err := r.dedup.MarkOutcome(ctx, ev.ID, models.EventOutcomeIgnored); err != nil {
			return AckRetry, err
		}
		slog.Info("unknown event kind ignored", "event_id", ev.ID, "event_type", ev.Type)
		return AckIgnored, nil
	}
}

func (r *Reconciler) applyCheckoutCompleted(ctx context.Context, ev *processor.Event) (AckDecision, error) {
	decision := AckApplied
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sess, err := r.checkout.consumeTx(tx, ev.CheckoutCompleted.SessionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// A completion for a session we never opened. Not retriable.
			slog.Warn("checkout completion without local session", "event_id", ev.ID, "session", ev.CheckoutCompleted.SessionID)
			decision = AckIgnored
			return r.dedup.markOutcomeTx(tx, ev.ID, models.EventOutcomeIgnored)
		}
		if err != nil {
			return err
		}

		if _, err := r.subs.createFromCheckoutTx(tx, sess, ev.CheckoutCompleted); err != nil {
			return err
		}
		return r.dedup.markOutcomeTx(tx, ev.ID, models.EventOutcomeApplied)
	})
	if err != nil {
		return AckRetry, err
	}
	if decision == AckApplied {
		slog.Info("checkout completed", "event_id", ev.ID, "session", ev.CheckoutCompleted.SessionID)
	}
	return decision, nil
}

// applyInvoicePaid commits the state transition and the period's credit grant
// together, keyed by this event's id for idempotency. The per-user ledger
// lock is held across the whole commit.
func (r *Reconciler) applyInvoicePaid(ctx context.Context, ev *processor.Event) (AckDecision, error) {
	inv := ev.InvoicePaid

	// The pre-lock lookup classifies unknown subscriptions and yields the
	// user id to lock. Authoritative state is re-read inside the transaction:
	// a concurrent event for the same subscription may commit between here
	// and the lock.
	sub, err := r.lookupSubscription(ctx, inv.SubscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return r.ignoreMissingSubscription(ctx, ev, inv.SubscriptionID)
		}
		return AckRetry, err
	}

	unlock := r.ledger.lockUser(sub.UserID)
	defer unlock()

	decision := AckApplied
	grantedPlan := sub.Plan
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh, err := findByExternalIDTx(tx.Unscoped(), inv.SubscriptionID)
		if err != nil {
			return err
		}
		grantedPlan = fresh.Plan

		applied, err := r.subs.applyInvoicePaidTx(tx, fresh, inv)
		if err != nil {
			return err
		}
		if !applied {
			slog.Info("transition ignored", "event_id", ev.ID, "event_type", ev.Type, "status", fresh.Status)
			decision = AckIgnored
			return r.dedup.markOutcomeTx(tx, ev.ID, models.EventOutcomeIgnored)
		}

		// Grant the current plan's allotment, which reflects any confirmed
		// plan change even mid-cycle.
		plan := r.catalog.Get(fresh.Plan)
		if plan == nil {
			return fmt.Errorf("%w: %s", ErrUnknownPlan, fresh.Plan)
		}
		if plan.CreditsPerPeriod > 0 {
			eventID := ev.ID
			if _, err := r.ledger.grantTx(tx, fresh.UserID, plan.CreditsPerPeriod, models.LedgerReasonGrantRenewal, "", &eventID); err != nil {
				return err
			}
		}
		return r.dedup.markOutcomeTx(tx, ev.ID, models.EventOutcomeApplied)
	})
	if err != nil {
		return AckRetry, err
	}
	if decision == AckApplied {
		slog.Info("invoice reconciled", "event_id", ev.ID, "user_id", sub.UserID, "plan", grantedPlan)
	}
	return decision, nil
}

// applySubscriptionEvent handles payment failures, processor-confirmed
// updates and terminal deletions. None of these touch the ledger.
func (r *Reconciler) applySubscriptionEvent(ctx context.Context, ev *processor.Event, externalID string) (AckDecision, error) {
	// Classification read only; the transaction re-reads before mutating.
	sub, err := r.lookupSubscription(ctx, externalID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return r.ignoreMissingSubscription(ctx, ev, externalID)
		}
		return AckRetry, err
	}

	decision := AckApplied
	finalStatus := sub.Status
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fresh, err := findByExternalIDTx(tx.Unscoped(), externalID)
		if err != nil {
			return err
		}

		var applied bool
		switch ev.Kind {
		case processor.KindInvoicePaymentFailed:
			applied, err = r.subs.applyInvoiceFailedTx(tx, fresh)
		case processor.KindSubscriptionUpdated:
			applied, err = r.subs.applySubscriptionUpdatedTx(tx, fresh, ev.Subscription)
		case processor.KindSubscriptionDeleted:
			applied, err = r.subs.applySubscriptionDeletedTx(tx, fresh)
		}
		if err != nil {
			return err
		}
		finalStatus = fresh.Status

		outcome := models.EventOutcomeApplied
		if !applied {
			slog.Info("transition ignored", "event_id", ev.ID, "event_type", ev.Type, "status", fresh.Status)
			decision = AckIgnored
			outcome = models.EventOutcomeIgnored
		}
		return r.dedup.markOutcomeTx(tx, ev.ID, outcome)
	})
	if err != nil {
		return AckRetry, err
	}
	if decision == AckApplied {
		slog.Info("subscription event reconciled", "event_id", ev.ID, "event_type", ev.Type, "status", finalStatus)
	}
	return decision, nil
}

// lookupSubscription includes soft-deleted (expired) rows so late events for
// a dead subscription are classified as ignored transitions, not retries.
func (r *Reconciler) lookupSubscription(ctx context.Context, externalID string) (*models.Subscription, error) {
	return findByExternalIDTx(r.db.WithContext(ctx).Unscoped(), externalID)
}

func (r *Reconciler) ignoreMissingSubscription(ctx context.Context, ev *processor.Event, externalID string) (AckDecision, error) {
	slog.Warn("event for unknown subscription ignored", "event_id", ev.ID, "event_type", ev.Type, "subscription", externalID)
	if err := r.dedup.MarkOutcome(ctx, ev.ID, models.EventOutcomeIgnored); err != nil {
		return AckRetry, err
	}
	return AckIgnored, nil
}

func outcomeToAck(outcome string) AckDecision {
	switch outcome {
	case models.EventOutcomeApplied:
		return AckApplied
	case models.EventOutcomeRejected:
		return AckRejected
	default:
		return AckIgnored
	}
}
