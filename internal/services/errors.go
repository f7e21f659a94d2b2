package services

import "errors"

var (
	// ErrInsufficientBalance rejects a debit that would drive the balance
	// negative. Nothing is applied.
	ErrInsufficientBalance = errors.New("insufficient credit balance")

	// ErrEventInProgress means another handler currently owns the event's
	// dedup reservation. Transient; the processor should retry later.
	ErrEventInProgress = errors.New("event reservation held by concurrent handler")

	// ErrSubscriptionNotFound means the caller has no subscription the
	// requested action could apply to.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrActionNotAllowed rejects a local action that the subscription's
	// current state does not permit (e.g. reactivating an expired plan).
	ErrActionNotAllowed = errors.New("action not allowed in current subscription state")

	// ErrUnknownPlan rejects references to plan ids missing from the catalog.
	ErrUnknownPlan = errors.New("unknown plan")
)
