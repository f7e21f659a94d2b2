package services

import (
	"github.com/pixmora/backend/internal/models"
	"github.com/pixmora/backend/internal/processor"
)

// The subscription lifecycle is event-driven. A (status, event) pair missing
// from these tables is not an error: processors deliver events out of order,
// so undefined transitions are logged and ignored, and the delivery is
// acknowledged.

var invoicePaidNext = map[string]string{
	models.SubscriptionStatusTrialing: models.SubscriptionStatusActive,
	models.SubscriptionStatusActive:   models.SubscriptionStatusActive,
	models.SubscriptionStatusPastDue:  models.SubscriptionStatusActive,
}

var invoiceFailedNext = map[string]string{
	models.SubscriptionStatusActive: models.SubscriptionStatusPastDue,
}

var deletedNext = map[string]string{
	models.SubscriptionStatusTrialing: models.SubscriptionStatusExpired,
	models.SubscriptionStatusActive:   models.SubscriptionStatusExpired,
	models.SubscriptionStatusPastDue:  models.SubscriptionStatusExpired,
	models.SubscriptionStatusCanceled: models.SubscriptionStatusExpired,
}

// NextStatus returns the successor status for an event kind, or ok=false when
// the transition is undefined for the current status.
//
// KindSubscriptionUpdated is not table-driven because its effect depends on
// the payload (cancel flag, price); see applySubscriptionUpdatedTx.
func NextStatus(status string, kind processor.EventKind) (string, bool) {
	var table map[string]string
	switch kind {
	case processor.KindInvoicePaid:
		table = invoicePaidNext
	case processor.KindInvoicePaymentFailed:
		table = invoiceFailedNext
	case processor.KindSubscriptionDeleted:
		table = deletedNext
	default:
		return "", false
	}
	next, ok := table[status]
	return next, ok
}

// cancelConfirmAllowed reports whether a processor-confirmed cancel may move
// the subscription to canceled.
func cancelConfirmAllowed(status string) bool {
	switch status {
	case models.SubscriptionStatusTrialing,
		models.SubscriptionStatusActive,
		models.SubscriptionStatusPastDue:
		return true
	}
	return false
}
