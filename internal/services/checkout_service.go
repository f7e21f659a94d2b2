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

// CheckoutService starts hosted checkouts and correlates their completion
// events back to local users via pending CheckoutSession records.
type CheckoutService struct {
	db         *gorm.DB
	client     processor.Client
	catalog    *plans.Registry
	successURL string
	cancelURL  string
	sessionTTL time.Duration
}

func NewCheckoutService(db *gorm.DB, client processor.Client, catalog *plans.Registry, successURL, cancelURL string, sessionTTL time.Duration) *CheckoutService {
	return &CheckoutService{
		db:         db,
		client:     client,
		catalog:    catalog,
		successURL: successURL,
		cancelURL:  cancelURL,
		sessionTTL: sessionTTL,
	}
}

// CreateCheckout requests a hosted checkout URL for the plan and records the
// pending session. An outbound failure propagates immediately: the user is
// waiting on the redirect, so there is no silent retry.
func (s *CheckoutService) CreateCheckout(ctx context.Context, userID uuid.UUID, planID string) (string, error) {
	plan := s.catalog.Get(planID)
	if plan == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownPlan, planID)
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return "", err
	}

	hosted, err := s.client.CreateCheckoutSession(ctx, processor.CheckoutParams{
		ClientReferenceID: userID.String(),
		CustomerID:        user.StripeCustomerID,
		CustomerEmail:     user.Email,
		PriceID:           plan.StripePriceID,
		TrialDays:         plan.TrialDays,
		SuccessURL:        s.successURL,
		CancelURL:         s.cancelURL,
	})
	if err != nil {
		return "", err
	}

	sess := models.CheckoutSession{
		ID:              uuid.New(),
		UserID:          userID,
		StripeSessionID: hosted.SessionID,
		Plan:            planID,
		Status:          models.CheckoutStatusPending,
		ExpiresAt:       time.Now().UTC().Add(s.sessionTTL),
	}
	if err := s.db.WithContext(ctx).Create(&sess).Error; err != nil {
		return "", err
	}

	slog.Info("checkout session created", "user_id", userID, "plan", planID, "session", hosted.SessionID)
	return hosted.URL, nil
}

// consumeTx marks the pending session fulfilled and returns it. Sessions that
// were already fulfilled (event redelivery) are returned as-is.
func (s *CheckoutService) consumeTx(tx *gorm.DB, stripeSessionID string) (*models.CheckoutSession, error) {
	var sess models.CheckoutSession
	err := tx.Where("stripe_session_id = ?", stripeSessionID).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if sess.Status == models.CheckoutStatusPending {
		if err := tx.Model(&sess).Update("status", models.CheckoutStatusFulfilled).Error; err != nil {
			return nil, err
		}
		sess.Status = models.CheckoutStatusFulfilled
	}
	return &sess, nil
}

// StartExpirySweep expires pending sessions past their deadline. Expiry is a
// background concern; nothing blocks on it.
func (s *CheckoutService) StartExpirySweep(interval time.Duration, done chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				result := s.db.Model(&models.CheckoutSession{}).
					Where("status = ? AND expires_at < ?", models.CheckoutStatusPending, time.Now().UTC()).
					Update("status", models.CheckoutStatusExpired)
				if result.Error != nil {
					slog.Error("checkout session sweep failed", "error", result.Error)
				} else if result.RowsAffected > 0 {
					slog.Info("expired checkout sessions", "count", result.RowsAffected)
				}
			case <-done:
				return
			}
		}
	}()
}
