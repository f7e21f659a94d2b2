package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/pixmora/backend/internal/models"
	"github.com/pixmora/backend/internal/plans"
	"github.com/pixmora/backend/internal/processor"
	"github.com/pixmora/backend/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const webhookTestSecret = "whsec_handler_test"

func newWebhookApp(t *testing.T) *fiber.App {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Subscription{}, &models.LedgerEntry{},
		&models.ProcessedEvent{}, &models.CheckoutSession{},
	))

	catalog := plans.NewRegistry()
	ledger := services.NewLedgerService(db)
	dedup := services.NewDeduplicator(db)
	subs := services.NewSubscriptionService(db, nil, catalog)
	checkout := services.NewCheckoutService(db, nil, catalog, "https://app/s", "https://app/c", time.Hour)
	rec := services.NewReconciler(db, processor.NewVerifier(webhookTestSecret), dedup, subs, ledger, checkout, catalog)

	app := fiber.New()
	app.Post("/api/webhooks/stripe", NewWebhookHandler(rec).HandleStripe)
	return app
}

func postWebhook(t *testing.T, app *fiber.App, secret string, payload []byte) (int, map[string]interface{}) {
	t.Helper()
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	sig := fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))

	req := httptest.NewRequest("POST", "/api/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", sig)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &parsed))
	return resp.StatusCode, parsed
}

func webhookPayload(t *testing.T, id, eventType string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]interface{}{
		"id":      id,
		"object":  "event",
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]interface{}{"object": map[string]interface{}{"id": "obj_1"}},
	})
	require.NoError(t, err)
	return b
}

func TestWebhookForgedSignatureReturns400(t *testing.T) {
	app := newWebhookApp(t)

	status, body := postWebhook(t, app, "whsec_wrong", webhookPayload(t, "evt_1", "invoice.paid"))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, true, body["error"])
}

func TestWebhookUnknownEventAcknowledged(t *testing.T) {
	app := newWebhookApp(t)

	status, body := postWebhook(t, app, webhookTestSecret, webhookPayload(t, "evt_2", "charge.refunded"))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["received"])
}

func TestWebhookEventForUnknownSubscriptionAcknowledged(t *testing.T) {
	app := newWebhookApp(t)

	payload, err := json.Marshal(map[string]interface{}{
		"id":      "evt_3",
		"object":  "event",
		"type":    "invoice.paid",
		"created": time.Now().Unix(),
		"data": map[string]interface{}{"object": map[string]interface{}{
			"id": "in_1", "subscription": "sub_missing",
		}},
	})
	require.NoError(t, err)

	status, body := postWebhook(t, app, webhookTestSecret, payload)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["received"])
}
