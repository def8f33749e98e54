package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/lojf/paygate/internal/models"
)

var (
	ErrUnknownMethod       = errors.New("unknown payment method")
	ErrDuplicateReference  = errors.New("duplicate payment reference")
	ErrInvalidTransition   = errors.New("invalid payment transition")
	ErrNotFound            = errors.New("not found")
	ErrConcurrencyConflict = errors.New("concurrent update")
	ErrSessionExpired      = errors.New("payment session expired")
	ErrNotPaid             = errors.New("user has not paid")
	ErrAlreadyPaid         = errors.New("user already has access")
	ErrWrongSettlement     = errors.New("operation not allowed for this settlement type")
	ErrNotOwner            = errors.New("payment belongs to another user")

	ErrGateway  = errors.New("payment gateway error")
	ErrMismatch = errors.New("captured amount does not match payment")
)

// GatewayError wraps a failure talking to the payment provider.
type GatewayError struct {
	Op        string
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("gateway %s failed", e.Op)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

// MismatchError reports a capture whose amount or currency differs from the
// payment snapshot. Such a payment is held for manual review.
type MismatchError struct {
	Ref              string
	ExpectedAmount   decimal.Decimal
	ExpectedCurrency string
	GotAmount        decimal.Decimal
	GotCurrency      string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("payment %s: expected %s %s, captured %s %s",
		e.Ref, e.ExpectedAmount.StringFixed(2), e.ExpectedCurrency,
		e.GotAmount.StringFixed(2), e.GotCurrency)
}

func (e *MismatchError) Is(target error) bool { return target == ErrMismatch }

// TransitionError is a disallowed edge in the payment state machine.
type TransitionError struct {
	Ref  string
	From models.PaymentStatus
	To   models.PaymentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("payment %s: cannot move from %s to %s", e.Ref, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// UserMessage maps an error to a neutral message safe to show a requester.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownMethod):
		return "That payment method is not available."
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNotOwner):
		return "Payment not found."
	case errors.Is(err, ErrAlreadyPaid):
		return "You already have access."
	case errors.Is(err, ErrSessionExpired):
		return "This payment session has expired. Please start a new payment."
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConcurrencyConflict):
		return "This payment has already been processed."
	case errors.Is(err, ErrWrongSettlement):
		return "This action is not available for that payment method."
	case errors.Is(err, ErrMismatch):
		return "Your payment is being reviewed by an admin."
	case errors.Is(err, ErrGateway):
		return "The payment provider is unavailable right now. Please try again later."
	default:
		return "Something went wrong. Please try again later."
	}
}
