package processor

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v83/webhook"
)

// Verifier authenticates raw webhook deliveries against the endpoint signing
// secret. The secret is configured server-side and never derived from request
// content. Verification needs the exact bytes Stripe signed, so callers must
// hand over the unparsed request body.
type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret}
}

// Verify checks the Stripe-Signature header over payload and decodes the
// event into its typed variant. Pure validation; no side effects.
func (v *Verifier) Verify(payload []byte, sigHeader string) (*Event, error) {
	// IgnoreAPIVersionMismatch: signature checking is version-independent,
	// and we decode payloads through our own minimal structs.
	se, err := webhook.ConstructEventWithOptions(payload, sigHeader, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		// Signature checking precedes body parsing, so any other failure
		// means an authentically signed body that cannot be decoded.
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return DecodeEvent(&se)
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}
