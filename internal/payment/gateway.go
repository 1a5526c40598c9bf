package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/sony/gobreaker/v2"

	"storefront/internal/circuitbreaker"
)

var ErrInvalidAmount = errors.New("amount must be greater than zero")

// Gateway is the checkout's only dependency for money movement. Intents are
// created through the backend; confirmation and status go to the processor.
type Gateway struct {
	creator   IntentCreator
	processor Processor
	confirmCB *gobreaker.CircuitBreaker[ConfirmationResult]
	statusCB  *gobreaker.CircuitBreaker[Status]
}

func NewGateway(creator IntentCreator, processor Processor, settings circuitbreaker.Settings) *Gateway {
	if settings.IsSuccessful == nil {
		settings.IsSuccessful = func(err error) bool {
			return err == nil || !KindOf(err).Retryable()
		}
	}
	return &Gateway{
		creator:   creator,
		processor: processor,
		confirmCB: circuitbreaker.New[ConfirmationResult]("payment-confirm", settings),
		statusCB:  circuitbreaker.New[Status]("payment-status", settings),
	}
}

func (g *Gateway) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	if req.AmountMinorUnits <= 0 {
		return Intent{}, ErrInvalidAmount
	}
	req.Currency = strings.ToLower(req.Currency)
	intent, err := g.creator.CreatePaymentIntent(ctx, req)
	if err != nil {
		return Intent{}, classify(err)
	}
	if intent.AmountMinorUnits == 0 {
		intent.AmountMinorUnits = req.AmountMinorUnits
	}
	if intent.Currency == "" {
		intent.Currency = req.Currency
	}
	if intent.Status == "" {
		intent.Status = StatusRequiresPaymentMethod
	}
	return intent, nil
}

func (g *Gateway) Confirm(ctx context.Context, clientSecret, paymentMethodRef string) (ConfirmationResult, error) {
	result, err := g.confirmCB.Execute(func() (ConfirmationResult, error) {
		return g.processor.Confirm(ctx, clientSecret, paymentMethodRef)
	})
	if err != nil {
		return ConfirmationResult{}, classify(err)
	}
	return result, nil
}

func (g *Gateway) PollStatus(ctx context.Context, clientSecret string) (Status, error) {
	status, err := g.statusCB.Execute(func() (Status, error) {
		return g.processor.Retrieve(ctx, clientSecret)
	})
	if err != nil {
		return "", classify(err)
	}
	return status, nil
}

func classify(err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	if circuitbreaker.Rejected(err) {
		return &Error{Kind: KindTransientNetwork, Message: "payment service temporarily unavailable", Err: err}
	}
	return &Error{Kind: KindOf(err), Err: err}
}

// WithCreator returns a gateway that creates intents through creator and
// shares g's breakers.
func (g *Gateway) WithCreator(creator IntentCreator) *Gateway {
	clone := *g
	clone.creator = creator
	return &clone
}
