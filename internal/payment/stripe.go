package payment

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeProcessor confirms and retrieves Stripe payment intents.
type StripeProcessor struct {
	client paymentintent.Client
}

func NewStripeProcessor(secretKey string) *StripeProcessor {
	return &StripeProcessor{client: newStripeClient(secretKey)}
}

func newStripeClient(secretKey string) paymentintent.Client {
	return paymentintent.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}
}

func (p *StripeProcessor) Confirm(ctx context.Context, clientSecret, paymentMethodRef string) (ConfirmationResult, error) {
	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(paymentMethodRef),
	}
	params.Context = ctx
	intentID := IntentIDFromClientSecret(clientSecret)
	if attempt, ok := AttemptFrom(ctx); ok {
		params.SetIdempotencyKey(ConfirmIdempotencyKey(intentID, attempt))
	}

	intent, err := p.client.Confirm(intentID, params)
	if err != nil {
		return confirmationFromStripeError(err)
	}
	return confirmationFromIntent(intent), nil
}

func (p *StripeProcessor) Retrieve(ctx context.Context, clientSecret string) (Status, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	intent, err := p.client.Get(IntentIDFromClientSecret(clientSecret), params)
	if err != nil {
		return "", stripeError(err)
	}
	return ParseStatus(string(intent.Status)), nil
}

func confirmationFromIntent(intent *stripe.PaymentIntent) ConfirmationResult {
	switch ParseStatus(string(intent.Status)) {
	case StatusSucceeded:
		return Succeeded(intent.ID)
	case StatusProcessing:
		return Processing(intent.ID)
	case StatusRequiresAction:
		next := ""
		if intent.NextAction != nil {
			next = string(intent.NextAction.Type)
		}
		return RequiresAction(intent.ID, next)
	case StatusRequiresPaymentMethod:
		msg := "payment method was not accepted"
		if intent.LastPaymentError != nil && intent.LastPaymentError.Msg != "" {
			msg = intent.LastPaymentError.Msg
		}
		return Failed(msg, KindCardDeclined)
	default:
		return Failed("payment failed", KindCardDeclined)
	}
}

// confirmationFromStripeError turns card errors into a Failed result and
// everything else into a classified error.
func confirmationFromStripeError(err error) (ConfirmationResult, error) {
	var se *stripe.Error
	if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard {
		msg := se.Msg
		if msg == "" {
			msg = "card declined"
		}
		if se.Code == stripe.ErrorCodeAuthenticationRequired {
			return Failed(msg, KindRequiresNewAction), nil
		}
		return Failed(msg, KindCardDeclined), nil
	}
	return ConfirmationResult{}, stripeError(err)
}

func stripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return NetworkError(err)
	}
	if se.HTTPStatusCode == 0 || se.HTTPStatusCode >= http.StatusInternalServerError || se.HTTPStatusCode == http.StatusTooManyRequests {
		return &Error{Kind: KindTransientNetwork, StatusCode: se.HTTPStatusCode, Message: se.Msg, Err: err}
	}
	if se.Type == stripe.ErrorTypeCard {
		return &Error{Kind: KindCardDeclined, StatusCode: se.HTTPStatusCode, Message: se.Msg, Err: err}
	}
	return &Error{Kind: KindServerError, StatusCode: se.HTTPStatusCode, Message: strings.TrimSpace(se.Msg), Err: err}
}
