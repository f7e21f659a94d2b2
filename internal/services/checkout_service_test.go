package services

import (
	"context"
	"testing"
	"time"

	"github.com/pixmora/backend/internal/models"
	"github.com/pixmora/backend/internal/processor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCheckoutRecordsPendingSession(t *testing.T) {
	db := newTestDB(t)
	client := &fakeProcessorClient{nextSessionID: "cs_test_abc"}
	svc := NewCheckoutService(db, client, testCatalog(), "https://app/success", "https://app/cancel", 24*time.Hour)
	user := createTestUser(t, db)

	url, err := svc.CreateCheckout(context.Background(), user.ID, "pro")
	require.NoError(t, err)
	assert.Contains(t, url, "cs_test_abc")

	require.Len(t, client.checkoutCalls, 1)
	assert.Equal(t, user.ID.String(), client.checkoutCalls[0].ClientReferenceID)
	assert.Equal(t, "price_pro", client.checkoutCalls[0].PriceID)

	var sess models.CheckoutSession
	require.NoError(t, db.First(&sess, "stripe_session_id = ?", "cs_test_abc").Error)
	assert.Equal(t, user.ID, sess.UserID)
	assert.Equal(t, "pro", sess.Plan)
	assert.Equal(t, models.CheckoutStatusPending, sess.Status)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), sess.ExpiresAt, time.Minute)
}

func TestCreateCheckoutUnknownPlan(t *testing.T) {
	db := newTestDB(t)
	svc := NewCheckoutService(db, &fakeProcessorClient{}, testCatalog(), "s", "c", time.Hour)
	user := createTestUser(t, db)

	_, err := svc.CreateCheckout(context.Background(), user.ID, "enterprise")
	require.ErrorIs(t, err, ErrUnknownPlan)
}

func TestCreateCheckoutProcessorDownLeavesNoState(t *testing.T) {
	db := newTestDB(t)
	svc := NewCheckoutService(db, &fakeProcessorClient{failAll: true}, testCatalog(), "s", "c", time.Hour)
	user := createTestUser(t, db)

	_, err := svc.CreateCheckout(context.Background(), user.ID, "pro")
	require.ErrorIs(t, err, processor.ErrUnavailable)

	var count int64
	require.NoError(t, db.Model(&models.CheckoutSession{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestConsumeIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	svc := NewCheckoutService(db, &fakeProcessorClient{nextSessionID: "cs_once"}, testCatalog(), "s", "c", time.Hour)
	user := createTestUser(t, db)

	_, err := svc.CreateCheckout(context.Background(), user.ID, "pro")
	require.NoError(t, err)

	first, err := svc.consumeTx(db, "cs_once")
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusFulfilled, first.Status)

	second, err := svc.consumeTx(db, "cs_once")
	require.NoError(t, err)
	assert.Equal(t, models.CheckoutStatusFulfilled, second.Status)
}
