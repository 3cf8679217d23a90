package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrForbidden             = errors.New("forbidden")
	ErrNotFound              = errors.New("resource not found")
	ErrConflict              = errors.New("conflict")
	ErrIdempotencyConflict   = errors.New("idempotency conflict")
	ErrStorageUnavailable    = errors.New("storage unavailable")
	ErrDependencyUnavailable = errors.New("dependency unavailable")

	ErrGatewayRejected     = errors.New("gateway rejected")
	ErrAmountMismatch      = errors.New("amount mismatch")
	ErrAlreadyProcessed    = errors.New("already processed")
	ErrAlreadyCancelled    = errors.New("order already cancelled")
	ErrNotCancellable      = errors.New("order not cancellable")
	ErrPartnerUnresolvable = errors.New("partner unresolvable")
	ErrPayoutSkipped       = errors.New("payout skipped")
	ErrDecryptionFailed    = errors.New("decryption failed")
)

// GatewayError carries the payment gateway's own code and message unchanged.
type GatewayError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway rejected (%d %s): %s", e.StatusCode, e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return ErrGatewayRejected
}

// AsGatewayError returns the gateway error in err's chain, if any.
func AsGatewayError(err error) (*GatewayError, bool) {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// IsTransient reports whether err is worth a redelivery by the caller.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrDependencyUnavailable)
}
