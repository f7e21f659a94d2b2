package processor

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v83"
)

// EventKind is the closed set of billing event variants the reconciler
// understands. Anything else decodes to KindUnknown and is safely ignored.
type EventKind string

const (
	KindCheckoutCompleted    EventKind = "checkout_completed"
	KindInvoicePaid          EventKind = "invoice_paid"
	KindInvoicePaymentFailed EventKind = "invoice_payment_failed"
	KindSubscriptionUpdated  EventKind = "subscription_updated"
	KindSubscriptionDeleted  EventKind = "subscription_deleted"
	KindUnknown              EventKind = "unknown"
)

// Event is the typed form of a verified webhook delivery. Exactly one of the
// variant pointers matching Kind is set.
type Event struct {
	ID      string
	Type    string
	Kind    EventKind
	Raw     []byte
	Created time.Time

	CheckoutCompleted *CheckoutCompleted
	InvoicePaid       *InvoicePaid
	InvoiceFailed     *InvoicePaymentFailed
	Subscription      *SubscriptionChange
}

// CheckoutCompleted correlates a finished hosted checkout back to the local
// session that started it.
type CheckoutCompleted struct {
	SessionID         string
	ClientReferenceID string
	CustomerID        string
	SubscriptionID    string
}

// InvoicePaid carries the billing period the payment covers. PeriodStart and
// PeriodEnd are zero when the processor omitted them.
type InvoicePaid struct {
	InvoiceID      string
	SubscriptionID string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	BillingReason  string
}

type InvoicePaymentFailed struct {
	InvoiceID      string
	SubscriptionID string
}

// SubscriptionChange is the processor's authoritative view of a subscription
// after an update or deletion.
type SubscriptionChange struct {
	SubscriptionID    string
	Status            string
	PriceID           string
	CancelAtPeriodEnd bool
	PeriodStart       time.Time
	PeriodEnd         time.Time
}

type checkoutSessionPayload struct {
	ID                string `json:"id"`
	ClientReferenceID string `json:"client_reference_id"`
	Customer          string `json:"customer"`
	Subscription      string `json:"subscription"`
}

type invoicePayload struct {
	ID            string `json:"id"`
	Subscription  string `json:"subscription"`
	PeriodStart   int64  `json:"period_start"`
	PeriodEnd     int64  `json:"period_end"`
	BillingReason string `json:"billing_reason"`
}

type subscriptionPayload struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// DecodeEvent maps a verified stripe event onto the closed variant type.
// Unrecognized event types yield KindUnknown, never an error; recognized
// types with broken payloads yield ErrMalformedPayload alongside the partial
// event (so callers can still record the rejection under its id).
func DecodeEvent(se *stripe.Event) (*Event, error) {
	if se.ID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrMalformedPayload)
	}

	ev := &Event{
		ID:      se.ID,
		Type:    string(se.Type),
		Kind:    KindUnknown,
		Created: time.Unix(se.Created, 0),
	}
	// Data stays nil when a signed envelope carries no data field at all.
	if se.Data == nil {
		return ev, fmt.Errorf("%w: event without data object", ErrMalformedPayload)
	}
	ev.Raw = se.Data.Raw

	switch se.Type {
	case "checkout.session.completed":
		var p checkoutSessionPayload
		if err := json.Unmarshal(se.Data.Raw, &p); err != nil {
			return ev, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if p.ID == "" {
			return ev, fmt.Errorf("%w: checkout session without id", ErrMalformedPayload)
		}
		ev.Kind = KindCheckoutCompleted
		ev.CheckoutCompleted = &CheckoutCompleted{
			SessionID:         p.ID,
			ClientReferenceID: p.ClientReferenceID,
			CustomerID:        p.Customer,
			SubscriptionID:    p.Subscription,
		}

	case "invoice.paid":
		p, err := decodeInvoice(se.Data.Raw)
		if err != nil {
			return ev, err
		}
		ev.Kind = KindInvoicePaid
		ev.InvoicePaid = &InvoicePaid{
			InvoiceID:      p.ID,
			SubscriptionID: p.Subscription,
			PeriodStart:    unixOrZero(p.PeriodStart),
			PeriodEnd:      unixOrZero(p.PeriodEnd),
			BillingReason:  p.BillingReason,
		}

	case "invoice.payment_failed":
		p, err := decodeInvoice(se.Data.Raw)
		if err != nil {
			return ev, err
		}
		ev.Kind = KindInvoicePaymentFailed
		ev.InvoiceFailed = &InvoicePaymentFailed{
			InvoiceID:      p.ID,
			SubscriptionID: p.Subscription,
		}

	case "customer.subscription.updated", "customer.subscription.deleted":
		var p subscriptionPayload
		if err := json.Unmarshal(se.Data.Raw, &p); err != nil {
			return ev, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		if p.ID == "" {
			return ev, fmt.Errorf("%w: subscription without id", ErrMalformedPayload)
		}
		if se.Type == "customer.subscription.deleted" {
			ev.Kind = KindSubscriptionDeleted
		} else {
			ev.Kind = KindSubscriptionUpdated
		}
		sc := &SubscriptionChange{
			SubscriptionID:    p.ID,
			Status:            p.Status,
			CancelAtPeriodEnd: p.CancelAtPeriodEnd,
			PeriodStart:       unixOrZero(p.CurrentPeriodStart),
			PeriodEnd:         unixOrZero(p.CurrentPeriodEnd),
		}
		if len(p.Items.Data) > 0 {
			sc.PriceID = p.Items.Data[0].Price.ID
		}
		ev.Subscription = sc
	}

	return ev, nil
}

func decodeInvoice(raw []byte) (*invoicePayload, error) {
	var p invoicePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: invoice without id", ErrMalformedPayload)
	}
	return &p, nil
}

func unixOrZero(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
