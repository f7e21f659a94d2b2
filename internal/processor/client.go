package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/checkout/session"
	"github.com/stripe/stripe-go/v83/subscription"
)

// CheckoutParams describes a hosted subscription checkout to create.
type CheckoutParams struct {
	ClientReferenceID string
	CustomerID        string
	CustomerEmail     string
	PriceID           string
	TrialDays         int
	SuccessURL        string
	CancelURL         string
}

// HostedCheckout is the processor's answer: where to redirect the user.
type HostedCheckout struct {
	SessionID string
	URL       string
}

// Client is the outbound surface of the payment processor. Services depend on
// this interface so tests can substitute a fake; StripeClient is the real one.
type Client interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*HostedCheckout, error)
	CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) error
	ReactivateSubscription(ctx context.Context, subscriptionID string) error
	ChangePlan(ctx context.Context, subscriptionID, priceID string) error
}

type StripeClient struct {
	timeout time.Duration
}

// NewStripeClient sets the package-global API key and returns a client whose
// calls carry a per-request timeout.
func NewStripeClient(apiKey string, timeout time.Duration) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{timeout: timeout}
}

func (c *StripeClient) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*HostedCheckout, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sp := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(params.ClientReferenceID),
		SuccessURL:        stripe.String(params.SuccessURL),
		CancelURL:         stripe.String(params.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	sp.Context = ctx

	if params.CustomerID != "" {
		sp.Customer = stripe.String(params.CustomerID)
	} else if params.CustomerEmail != "" {
		sp.CustomerEmail = stripe.String(params.CustomerEmail)
	}
	if params.TrialDays > 0 {
		sp.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			TrialPeriodDays: stripe.Int64(int64(params.TrialDays)),
		}
	}

	sess, err := session.New(sp)
	if err != nil {
		slog.Error("checkout session creation failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &HostedCheckout{SessionID: sess.ID, URL: sess.URL}, nil
}

func (c *StripeClient) CancelSubscription(ctx context.Context, subscriptionID string, atPeriodEnd bool) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if atPeriodEnd {
		params := &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		}
		params.Context = ctx
		if _, err := subscription.Update(subscriptionID, params); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	}

	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := subscription.Cancel(subscriptionID, params); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *StripeClient) ReactivateSubscription(ctx context.Context, subscriptionID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	}
	params.Context = ctx
	if _, err := subscription.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ChangePlan swaps the subscription's single price item. Proration is
// disabled: the new plan's full allotment is granted at the next renewal.
func (c *StripeClient) ChangePlan(ctx context.Context, subscriptionID, priceID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	getParams := &stripe.SubscriptionParams{}
	getParams.Context = ctx
	sub, err := subscription.Get(subscriptionID, getParams)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return fmt.Errorf("%w: subscription %s has no items", ErrUnavailable, subscriptionID)
	}

	params := &stripe.SubscriptionParams{
		ProrationBehavior: stripe.String("none"),
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(sub.Items.Data[0].ID),
				Price: stripe.String(priceID),
			},
		},
	}
	params.Context = ctx
	if _, err := subscription.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
