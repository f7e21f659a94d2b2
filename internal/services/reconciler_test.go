package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/pixmora/backend/internal/models"
	"github.com/pixmora/backend/internal/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_test_secret"

// signPayload produces a Stripe-Signature header for payload: the v1 scheme
// is an HMAC-SHA256 over "<timestamp>.<payload>".
func signPayload(secret string, payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func eventJSON(t *testing.T, id, eventType string, object map[string]interface{}) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"id":      id,
		"object":  "event",
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return b
}

type reconcilerFixture struct {
	db       *gorm.DB
	client   *fakeProcessorClient
	ledger   *LedgerService
	dedup    *Deduplicator
	subs     *SubscriptionService
	checkout *CheckoutService
	rec      *Reconciler
	user     *models.User
}

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	db := newTestDB(t)
	catalog := testCatalog()
	client := &fakeProcessorClient{}
	ledger := NewLedgerService(db)
	dedup := NewDeduplicator(db)
	subs := NewSubscriptionService(db, client, catalog)
	checkout := NewCheckoutService(db, client, catalog, "https://app/s", "https://app/c", 24*time.Hour)
	rec := NewReconciler(db, processor.NewVerifier(testWebhookSecret), dedup, subs, ledger, checkout, catalog)
	return &reconcilerFixture{
		db:       db,
		client:   client,
		ledger:   ledger,
		dedup:    dedup,
		subs:     subs,
		checkout: checkout,
		rec:      rec,
		user:     createTestUser(t, db),
	}
}

func (f *reconcilerFixture) handle(t *testing.T, payload []byte) (AckDecision, error) {
	t.Helper()
	return f.rec.Handle(context.Background(), payload, signPayload(testWebhookSecret, payload))
}

// startCheckout opens a pending local session the way the billing endpoint
// would, returning the external session id.
func (f *reconcilerFixture) startCheckout(t *testing.T, plan string) string {
	t.Helper()
	f.client.nextSessionID = "cs_" + plan
	_, err := f.checkout.CreateCheckout(context.Background(), f.user.ID, plan)
	require.NoError(t, err)
	return f.client.nextSessionID
}

func (f *reconcilerFixture) currentSub(t *testing.T) *models.Subscription {
	t.Helper()
	var sub models.Subscription
	require.NoError(t, f.db.Unscoped().Where("user_id = ?", f.user.ID).First(&sub).Error)
	return &sub
}

func TestReconcileCheckoutThenRenewal(t *testing.T) {
	f := newReconcilerFixture(t)
	sessID := f.startCheckout(t, "pro")

	decision, err := f.handle(t, eventJSON(t, "evt_checkout", "checkout.session.completed", map[string]interface{}{
		"id":                   sessID,
		"client_reference_id":  f.user.ID.String(),
		"customer":             "cus_123",
		"subscription":         "sub_123",
	}))
	require.NoError(t, err)
	assert.Equal(t, AckApplied, decision)

	sub := f.currentSub(t)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "pro", sub.Plan)

	// No credits before the first invoice settles.
	balance, err := f.ledger.Balance(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Zero(t, balance)

	periodEnd := time.Now().Add(30 * 24 * time.Hour).Unix()
	paid := eventJSON(t, "evt_inv_1", "invoice.paid", map[string]interface{}{
		"id":           "in_1",
		"subscription": "sub_123",
		"period_start": time.Now().Unix(),
		"period_end":   periodEnd,
	})

	decision, err = f.handle(t, paid)
	require.NoError(t, err)
	assert.Equal(t, AckApplied, decision)

	balance, err = f.ledger.Balance(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance, "pro grants 100 credits per period")

	// Redelivery of the same invoice event: acknowledged, no second grant.
	decision, err = f.handle(t, paid)
	require.NoError(t, err)
	assert.Equal(t, AckApplied, decision)

	balance, err = f.ledger.Balance(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance)

	var entries int64
	require.NoError(t, f.db.Model(&models.LedgerEntry{}).Where("user_id = ?", f.user.ID).Count(&entries).Error)
	assert.Equal(t, int64(1), entries)

	var sess models.CheckoutSession
	require.NoError(t, f.db.First(&sess, "stripe_session_id = ?", sessID).Error)
	assert.Equal(t, models.CheckoutStatusFulfilled, sess.Status)
}

func TestReconcileTrialCheckout(t *testing.T) {
	f := newReconcilerFixture(t)
	sessID := f.startCheckout(t, "starter")

	decision, err := f.handle(t, eventJSON(t, "evt_trial", "checkout.session.completed", map[string]interface{}{
		"id":                  sessID,
		"client_reference_id": f.user.ID.String(),
		"subscription":        "sub_trial",
	}))
	require.NoError(t, err)
	assert.Equal(t, AckApplied, decision)
	assert.Equal(t, models.SubscriptionStatusTrialing, f.currentSub(t).Status)
}

func TestReconcilePaymentFailureAndRecovery(t *testing.T) {
	f := newReconcilerFixture(t)
	sessID := f.startCheckout(t, "pro")
	_, err := f.handle(t, eventJSON(t, "evt_co", "checkout.session.completed", map[string]interface{}{
		"id": sessID, "client_reference_id": f.user.ID.String(), "subscription": "sub_fail",
	}))
	require.NoError(t, err)

	decision, err := f.handle(t, eventJSON(t, "evt_fail", "invoice.payment_failed", map[string]interface{}{
		"id": "in_fail", "subscription": "sub_fail",
	}))
	require.NoError(t, err)
	assert.Equal(t, AckApplied, decision)
	assert.Equal(t, models.SubscriptionStatusPastDue, f.currentSub(t).Status)

	decision, err = f.handle(t, eventJSON(t, "evt_recover", "invoice.paid", map[string]interface{}{
		"id": "in_recover", "subscription": "sub_fail",
	}))
	require.NoError(t, err)
	assert.Equal(t, AckApplied, decision)
	assert.Equal(t, models.SubscriptionStatusActive, f.currentSub(t).Status)
}

func TestReconcileCancelConfirmationAndExpiry(t *testing.T) {
	f := newReconcilerFixture(t)
	sessID := f.startCheckout(t, "pro")
	_, err := f.handle(t, eventJSON(t, "evt_co", "checkout.session.completed", map[string]interface{}{
		"id": sessID, "client_reference_id": f.user.ID.String(), "subscription": "sub_cancel",
	}))
	require.NoError(t, err)

	// Local cancel records intent only.
	_, err = f.subs.Cancel(context.Background(), f.user.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, f.currentSub(t).Status)

	// Processor confirms: now the state flips.
	decision, err := f.handle(t, eventJSON(t, "evt_upd", "customer.subscription.updated", map[string]interface{}{
		"id": "sub_cancel", "status": "active", "cancel_at_period_end": true,
	}))
	require.NoError(t, err)
	assert.Equal(t, AckApplied, decision)

	sub := f.currentSub(t)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, models.PendingActionNone, sub.PendingAction)

	// Period end: terminal expiry.
	decision, err = f.handle(t, eventJSON(t, "evt_del", "customer.subscription.deleted", map[string]interface{}{
		"id": "sub_cancel", "status": "canceled",
	}))
	require.NoError(t, err)
	assert.Equal(t, AckApplied, decision)
	assert.Equal(t, models.SubscriptionStatusExpired, f.currentSub(t).Status)

	// A straggler invoice for the dead subscription is ignored, not retried.
	decision, err = f.handle(t, eventJSON(t, "evt_late", "invoice.paid", map[string]interface{}{
		"id": "in_late", "subscription": "sub_cancel",
	}))
	require.NoError(t, err)
	assert.Equal(t, AckIgnored, decision)

	balance, err := f.ledger.Balance(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(100), balance, "only the initial renewal grant")
}

func TestReconcileReactivationConfirmation(t *testing.T) {
	f := newReconcilerFixture(t)
	sessID := f.startCheckout(t, "pro")
	_, err := f.handle(t, eventJSON(t, "evt_co", "checkout.session.completed", map[string]interface{}{
		"id": sessID, "client_reference_id": f.user.ID.String(), "subscription": "sub_re",
	}))
	require.NoError(t, err)

	_, err = f.handle(t, eventJSON(t, "evt_upd1", "customer.subscription.updated", map[string]interface{}{
		"id": "sub_re", "status": "active", "cancel_at_period_end": true,
	}))
	require.NoError(t, err)
	require.Equal(t, models.SubscriptionStatusCanceled, f.currentSub(t).Status)

	decision, err := f.handle(t, eventJSON(t, "evt_upd2", "customer.subscription.updated", map[string]interface{}{
		"id": "sub_re", "status": "active", "cancel_at_period_end": false,
	}))
	require.NoError(t, err)
	assert.Equal(t, AckApplied, decision)

	sub := f.currentSub(t)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.False(t, sub.CancelAtPeriodEnd)
}

func TestReconcilePlanChangeGrantsNewAllotment(t *testing.T) {
	f := newReconcilerFixture(t)
	sessID := f.startCheckout(t, "pro")
	_, err := f.handle(t, eventJSON(t, "evt_co", "checkout.session.completed", map[string]interface{}{
		"id": sessID, "client_reference_id": f.user.ID.String(), "subscription": "sub_plan",
	}))
	require.NoError(t, err)

	// Processor confirms the switch to studio.
	decision, err := f.handle(t, eventJSON(t, "evt_plan", "customer.subscription.updated", map[string]interface{}{
		"id": "sub_plan", "status": "active", "cancel_at_period_end": false,
		"items": map[string]interface{}{
			"data": []interface{}{
				map[string]interface{}{"price": map[string]interface{}{"id": "price_studio"}},
			},
		},
	}))
	require.NoError(t, err)
	assert.Equal(t, AckApplied, decision)
	assert.Equal(t, "studio", f.currentSub(t).Plan)

	// The next renewal grants the new plan's full allotment, unprorated.
	_, err = f.handle(t, eventJSON(t, "evt_renew", "invoice.paid", map[string]interface{}{
		"id": "in_renew", "subscription": "sub_plan",
	}))
	require.NoError(t, err)

	balance, err := f.ledger.Balance(context.Background(), f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(400), balance)
}

func TestReconcileForgedSignature(t *testing.T) {
	f := newReconcilerFixture(t)

	payload := eventJSON(t, "evt_forged", "invoice.paid", map[string]interface{}{
		"id": "in_forged", "subscription": "sub_x",
	})
	decision, err := f.rec.Handle(context.Background(), payload, signPayload("whsec_wrong", payload))
	assert.Equal(t, AckRetry, decision)
	require.ErrorIs(t, err, processor.ErrInvalidSignature)

	// Nothing reached the store.
	var count int64
	require.NoError(t, f.db.Model(&models.ProcessedEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestReconcileMalformedPayloadRejectedOnce(t *testing.T) {
	f := newReconcilerFixture(t)

	// Authentic signature over an invoice with no id: permanently broken.
	payload := eventJSON(t, "evt_broken", "invoice.paid", map[string]interface{}{
		"subscription": "sub_x",
	})
	decision, err := f.handle(t, payload)
	require.NoError(t, err)
	assert.Equal(t, AckRejected, decision)

	var record models.ProcessedEvent
	require.NoError(t, f.db.First(&record, "event_id = ?", "evt_broken").Error)
	assert.Equal(t, models.EventOutcomeRejected, record.Outcome)

	// Redelivery short-circuits on the recorded rejection.
	decision, err = f.handle(t, payload)
	require.NoError(t, err)
	assert.Equal(t, AckRejected, decision)
}

func TestReconcileEnvelopeWithoutDataRejected(t *testing.T) {
	f := newReconcilerFixture(t)

	payload, err := json.Marshal(map[string]interface{}{
		"id":      "evt_nodata",
		"object":  "event",
		"type":    "invoice.paid",
		"created": time.Now().Unix(),
	})
	require.NoError(t, err)

	decision, err := f.handle(t, payload)
	require.NoError(t, err)
	assert.Equal(t, AckRejected, decision)

	var record models.ProcessedEvent
	require.NoError(t, f.db.First(&record, "event_id = ?", "evt_nodata").Error)
	assert.Equal(t, models.EventOutcomeRejected, record.Outcome)
}

func TestReconcileUnknownEventKindIgnored(t *testing.T) {
	f := newReconcilerFixture(t)

	decision, err := f.handle(t, eventJSON(t, "evt_refund", "charge.refunded", map[string]interface{}{
		"id": "ch_1",
	}))
	require.NoError(t, err)
	assert.Equal(t, AckIgnored, decision)

	var record models.ProcessedEvent
	require.NoError(t, f.db.First(&record, "event_id = ?", "evt_refund").Error)
	assert.Equal(t, models.EventOutcomeIgnored, record.Outcome)
}

func TestReconcileCompletionWithoutLocalSession(t *testing.T) {
	f := newReconcilerFixture(t)

	decision, err := f.handle(t, eventJSON(t, "evt_ghost", "checkout.session.completed", map[string]interface{}{
		"id": "cs_never_opened", "subscription": "sub_ghost",
	}))
	require.NoError(t, err)
	assert.Equal(t, AckIgnored, decision)

	var count int64
	require.NoError(t, f.db.Model(&models.Subscription{}).Count(&count).Error)
	assert.Zero(t, count)
}
