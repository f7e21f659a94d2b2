package services

import (
	"context"
	"fmt"

	"github.com/pixmora/backend/internal/plans"
	"github.com/pixmora/backend/internal/processor"
)

// fakeProcessorClient records outbound calls and can be told to fail.
type fakeProcessorClient struct {
	failAll bool

	checkoutCalls   []processor.CheckoutParams
	cancelCalls     []string
	reactivateCalls []string
	planChangeCalls []string

	nextSessionID string
}

func (f *fakeProcessorClient) CreateCheckoutSession(_ context.Context, params processor.CheckoutParams) (*processor.HostedCheckout, error) {
	if f.failAll {
		return nil, fmt.Errorf("%w: connection refused", processor.ErrUnavailable)
	}
	f.checkoutCalls = append(f.checkoutCalls, params)
	id := f.nextSessionID
	if id == "" {
		id = fmt.Sprintf("cs_test_%d", len(f.checkoutCalls))
	}
	return &processor.HostedCheckout{
		SessionID: id,
		URL:       "https://checkout.stripe.com/pay/" + id,
	}, nil
}

func (f *fakeProcessorClient) CancelSubscription(_ context.Context, subscriptionID string, _ bool) error {
	if f.failAll {
		return fmt.Errorf("%w: connection refused", processor.ErrUnavailable)
	}
	f.cancelCalls = append(f.cancelCalls, subscriptionID)
	return nil
}

func (f *fakeProcessorClient) ReactivateSubscription(_ context.Context, subscriptionID string) error {
	if f.failAll {
		return fmt.Errorf("%w: connection refused", processor.ErrUnavailable)
	}
	f.reactivateCalls = append(f.reactivateCalls, subscriptionID)
	return nil
}

func (f *fakeProcessorClient) ChangePlan(_ context.Context, subscriptionID, priceID string) error {
	if f.failAll {
		return fmt.Errorf("%w: connection refused", processor.ErrUnavailable)
	}
	f.planChangeCalls = append(f.planChangeCalls, subscriptionID+":"+priceID)
	return nil
}

func testCatalog() *plans.Registry {
	catalog := plans.NewRegistry()
	catalog.Register(&plans.Plan{
		ID: "starter", Name: "Starter", StripePriceID: "price_starter", CreditsPerPeriod: 30, TrialDays: 7,
	})
	catalog.Register(&plans.Plan{
		ID: "pro", Name: "Pro", StripePriceID: "price_pro", CreditsPerPeriod: 100,
	})
	catalog.Register(&plans.Plan{
		ID: "studio", Name: "Studio", StripePriceID: "price_studio", CreditsPerPeriod: 400,
	})
	return catalog
}
