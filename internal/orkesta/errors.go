package orkesta

import (
	"errors"
	"fmt"
)

// AuthError reports a failed access-token acquisition against the auth endpoint.
type AuthError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("orkesta: auth failed (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("orkesta: auth failed: %s", e.Message)
}

// UpstreamError reports a transport failure, an empty body or a non-2xx
// response from the payment API. Recoverable: the caller may surface the
// message and allow a retry.
type UpstreamError struct {
	Status  int
	Message string
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("orkesta: upstream error (%d): %s", e.Status, e.Message)
}

// ValidationError reports a missing client-collected field required before a
// payment can be submitted.
type ValidationError struct {
	Field string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("orkesta: missing required field %q", e.Field)
}

// Webhook verification failures. All are wrapped in errors returned by
// Verifier.Verify and can be tested with errors.Is.
var (
	ErrMissingHeaders    = errors.New("orkesta: missing webhook signature headers")
	ErrInvalidTimestamp  = errors.New("orkesta: invalid webhook timestamp")
	ErrTimestampTooOld   = errors.New("orkesta: webhook timestamp too old")
	ErrTimestampTooNew   = errors.New("orkesta: webhook timestamp too new")
	ErrSignatureMismatch = errors.New("orkesta: no matching webhook signature found")
)

// IsVerificationError reports whether err is one of the webhook verification
// failures. Handlers use it to map verification problems to a 400 without
// leaking them into the order pipeline.
func IsVerificationError(err error) bool {
	return errors.Is(err, ErrMissingHeaders) ||
		errors.Is(err, ErrInvalidTimestamp) ||
		errors.Is(err, ErrTimestampTooOld) ||
		errors.Is(err, ErrTimestampTooNew) ||
		errors.Is(err, ErrSignatureMismatch)
}
