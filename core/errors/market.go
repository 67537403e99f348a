package errors

import (
	stderrors "errors"
	"fmt"
)

// Error kinds surfaced by the market engine. Callers distinguish them with
// errors.Is; the HTTP layer maps each kind to its own status code.
var (
	ErrNotFound         = stderrors.New("market: not found")
	ErrUnauthorized     = stderrors.New("market: unauthorized")
	ErrInvalidState     = stderrors.New("market: invalid state")
	ErrValidation       = stderrors.New("market: validation failed")
	ErrPaymentMismatch  = stderrors.New("market: payment does not match price")
	ErrSelfPurchase     = stderrors.New("market: seller cannot purchase own item")
	ErrNoEarnings       = stderrors.New("market: no earnings to withdraw")
	ErrAlreadyDelivered = stderrors.New("market: delivery already confirmed")
	ErrTransferFailed   = stderrors.New("market: transfer failed")
	ErrMarketPaused     = stderrors.New("market: paused")
)

// Validation failures. Each wraps ErrValidation.
var (
	ErrEmptyName    = fmt.Errorf("%w: name required", ErrValidation)
	ErrZeroPrice    = fmt.Errorf("%w: price must be positive", ErrValidation)
	ErrFeeTooHigh   = fmt.Errorf("%w: fee rate too high", ErrValidation)
	ErrInvalidLimit = fmt.Errorf("%w: limit out of range", ErrValidation)
)

// Kind returns a stable machine-readable name for err, or "internal" when err
// is not one of the market error kinds.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case stderrors.Is(err, ErrEmptyName):
		return "EmptyName"
	case stderrors.Is(err, ErrZeroPrice):
		return "ZeroPrice"
	case stderrors.Is(err, ErrFeeTooHigh):
		return "FeeTooHigh"
	case stderrors.Is(err, ErrInvalidLimit):
		return "InvalidLimit"
	case stderrors.Is(err, ErrValidation):
		return "ValidationError"
	case stderrors.Is(err, ErrNotFound):
		return "NotFound"
	case stderrors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case stderrors.Is(err, ErrAlreadyDelivered):
		return "AlreadyDelivered"
	case stderrors.Is(err, ErrInvalidState):
		return "InvalidState"
	case stderrors.Is(err, ErrPaymentMismatch):
		return "PaymentMismatch"
	case stderrors.Is(err, ErrSelfPurchase):
		return "SelfPurchase"
	case stderrors.Is(err, ErrNoEarnings):
		return "NoEarnings"
	case stderrors.Is(err, ErrTransferFailed):
		return "TransferFailed"
	case stderrors.Is(err, ErrMarketPaused):
		return "Paused"
	default:
		return "internal"
	}
}
