package checkout

import (
	"errors"
	"fmt"
	"strings"

	"storefront/internal/models"
	"storefront/internal/payment"
)

var (
	ErrInvalidTransition    = errors.New("checkout: invalid transition")
	ErrConfirmInFlight      = errors.New("checkout: a confirmation is already in progress")
	ErrRetryUnavailable     = errors.New("checkout: retry is not available")
	ErrClosed               = errors.New("checkout: session closed")
	ErrNoIntent             = errors.New("checkout: no payment intent")
	ErrEmptyCart            = errors.New("checkout: cart is empty, nothing to charge")
	ErrMissingPaymentMethod = errors.New("checkout: payment method is required")
	ErrSessionNotFound      = errors.New("checkout: session not found")
)

// ErrorKind is the user-facing failure taxonomy.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation_error"
	KindNetwork         ErrorKind = "network_error"
	KindServer          ErrorKind = "server_error"
	KindPaymentDeclined ErrorKind = "payment_declined"
	KindReconciliation  ErrorKind = "reconciliation_error"
	KindTimeout         ErrorKind = "timeout_error"
)

const (
	msgNetwork        = "We could not reach the payment service. Please try again."
	msgServer         = "The payment service returned an error. Please try again."
	msgTimeout        = "Payment confirmation took too long. Please try again."
	msgDeclined       = "Your payment was declined. Please use a different payment method."
	msgReconciliation = "Your payment was received but we could not record your order. Please contact support and do not pay again."
	msgAttemptsUsed   = "Payment could not be completed after %d attempts. Please use a different payment method or contact support."
	msgOptimistic     = "Your payment is still processing. Your order has been placed and a confirmation email will follow."
)

// Failure is the mapped outcome of a failed step. Every gateway error reaching
// the machine is turned into one.
type Failure struct {
	Kind           ErrorKind `json:"kind"`
	Retryable      bool      `json:"retryable"`
	Message        string    `json:"message"`
	ContactSupport bool      `json:"contactSupport,omitempty"`
	Detail         string    `json:"detail,omitempty"`
	Cause          error     `json:"-"`
}

func (f *Failure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Cause }

// failureFromGateway maps a gateway error onto the taxonomy.
func failureFromGateway(err error) *Failure {
	kind := payment.KindOf(err)
	f := failureFromKind(kind, "")
	f.Cause = err
	f.Detail = err.Error()
	return f
}

func failureFromKind(kind payment.ErrorKind, processorMessage string) *Failure {
	switch kind {
	case payment.KindCardDeclined:
		msg := msgDeclined
		if m := strings.TrimSpace(processorMessage); m != "" {
			msg = m + " Please use a different payment method."
		}
		return &Failure{Kind: KindPaymentDeclined, Message: msg, Detail: processorMessage}
	case payment.KindTimeout:
		return &Failure{Kind: KindTimeout, Retryable: true, Message: msgTimeout}
	case payment.KindServerError:
		return &Failure{Kind: KindServer, Retryable: true, Message: msgServer, Detail: processorMessage}
	default:
		return &Failure{Kind: KindNetwork, Retryable: true, Message: msgNetwork, Detail: processorMessage}
	}
}

func reconciliationFailure(err error) *Failure {
	return &Failure{
		Kind:           KindReconciliation,
		Message:        msgReconciliation,
		ContactSupport: true,
		Detail:         err.Error(),
		Cause:          err,
	}
}

// ValidationError lists the customer fields blocking the checkout.
type ValidationError struct {
	Fields []models.FieldError
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Field+" is "+f.Reason)
	}
	return "checkout: " + strings.Join(names, ", ")
}

// Kind is always KindValidation; validation never reaches the network.
func (e *ValidationError) Kind() ErrorKind { return KindValidation }

var errReconcilePending = errors.New("checkout: payment was already claimed by an unfinished reconciliation")
