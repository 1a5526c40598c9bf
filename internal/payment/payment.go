// Package payment defines the Payment Intent Gateway: creating an intent for
// an amount, confirming it with a payment method and resolving its eventual
// status.
package payment

import (
	"context"
	"strings"
)

// Status is the lifecycle status of a payment intent.
type Status string

const (
	StatusRequiresPaymentMethod Status = "requires_payment_method"
	StatusRequiresAction        Status = "requires_action"
	StatusProcessing            Status = "processing"
	StatusSucceeded             Status = "succeeded"
	StatusFailed                Status = "failed"
)

// ParseStatus normalizes processor statuses onto the five known values.
// Anything terminal and unsuccessful, such as canceled, becomes failed.
func ParseStatus(raw string) Status {
	switch s := Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusRequiresPaymentMethod, StatusRequiresAction, StatusProcessing, StatusSucceeded:
		return s
	case "requires_confirmation":
		return StatusRequiresPaymentMethod
	case "requires_capture":
		return StatusSucceeded
	default:
		return StatusFailed
	}
}

// Intent is a server-side record of an amount to be charged.
type Intent struct {
	ID               string `json:"paymentIntentId"`
	ClientSecret     string `json:"clientSecret"`
	AmountMinorUnits int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           Status `json:"status"`
}

// OrderDetails is the descriptive payload sent along with an intent.
type OrderDetails struct {
	OrderID       string        `json:"orderId,omitempty"`
	CustomerID    string        `json:"customerId,omitempty"`
	CustomerEmail string        `json:"customerEmail,omitempty"`
	CustomerName  string        `json:"customerName,omitempty"`
	Items         []OrderDetail `json:"items,omitempty"`
	TotalAmount   float64       `json:"totalAmount"`
	ShippingInfo  any           `json:"shippingInfo,omitempty"`
}

type OrderDetail struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Total     float64 `json:"total"`
}

type IntentRequest struct {
	AmountMinorUnits int64        `json:"amount"`
	Currency         string       `json:"currency"`
	CustomerEmail    string       `json:"customerEmail"`
	OrderDetails     OrderDetails `json:"orderDetails"`
}

// Outcome discriminates a ConfirmationResult.
type Outcome string

const (
	OutcomeSucceeded      Outcome = "succeeded"
	OutcomeRequiresAction Outcome = "requires_action"
	OutcomeProcessing     Outcome = "processing"
	OutcomeFailed         Outcome = "failed"
)

// ConfirmationResult is the answer to a confirmation. Only the fields
// relevant to Outcome are set.
type ConfirmationResult struct {
	Outcome     Outcome
	IntentID    string
	NextStepRef string
	Message     string
	ErrorKind   ErrorKind
}

func Succeeded(intentID string) ConfirmationResult {
	return ConfirmationResult{Outcome: OutcomeSucceeded, IntentID: intentID}
}

func RequiresAction(intentID, nextStepRef string) ConfirmationResult {
	return ConfirmationResult{Outcome: OutcomeRequiresAction, IntentID: intentID, NextStepRef: nextStepRef}
}

func Processing(intentID string) ConfirmationResult {
	return ConfirmationResult{Outcome: OutcomeProcessing, IntentID: intentID}
}

func Failed(message string, kind ErrorKind) ConfirmationResult {
	return ConfirmationResult{Outcome: OutcomeFailed, Message: message, ErrorKind: kind}
}

// IntentCreator creates payment intents; in practice the storefront backend.
type IntentCreator interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error)
}

// Processor is the payment processor surface used after an intent exists.
type Processor interface {
	Confirm(ctx context.Context, clientSecret, paymentMethodRef string) (ConfirmationResult, error)
	Retrieve(ctx context.Context, clientSecret string) (Status, error)
}

// IntentIDFromClientSecret extracts pi_X from a client secret of the form
// pi_X_secret_Y.
func IntentIDFromClientSecret(clientSecret string) string {
	if i := strings.Index(clientSecret, "_secret_"); i > 0 {
		return clientSecret[:i]
	}
	return clientSecret
}
