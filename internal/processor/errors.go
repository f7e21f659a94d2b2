package processor

import "errors"

var (
	// ErrInvalidSignature means the payload was not signed with our webhook
	// secret. The delivery must not be acknowledged.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMalformedPayload means an authentic payload is structurally invalid
	// or missing required fields. Retrying cannot fix it.
	ErrMalformedPayload = errors.New("malformed webhook payload")

	// ErrUnavailable means an outbound call to the processor failed or timed
	// out. Surfaced to the synchronous caller; nothing was committed locally.
	ErrUnavailable = errors.New("payment processor unavailable")
)
